package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/forwhat-rbx/clannr-sub000/internal/audit"
	"github.com/forwhat-rbx/clannr-sub000/internal/binding"
	"github.com/forwhat-rbx/clannr-sub000/internal/config"
	"github.com/forwhat-rbx/clannr-sub000/internal/discord"
	"github.com/forwhat-rbx/clannr-sub000/internal/metrics"
	"github.com/forwhat-rbx/clannr-sub000/internal/promotion"
	"github.com/forwhat-rbx/clannr-sub000/internal/roblox"
	"github.com/forwhat-rbx/clannr-sub000/internal/rolesync"
	"github.com/forwhat-rbx/clannr-sub000/internal/scheduler"
	"github.com/forwhat-rbx/clannr-sub000/internal/storage"
)

const cacheSweepInterval = 5 * time.Minute

// Bot represents the Discord bot instance
type Bot struct {
	config   *config.Config
	session  *discordgo.Session
	repo     *storage.Repository
	roblox   *roblox.Client
	auditor  *audit.Recorder
	orch     *promotion.Orchestrator
	syncer   *rolesync.Syncer
	sched    *scheduler.Scheduler
	commands []*discordgo.ApplicationCommand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	groupMu sync.Mutex
	group   *roblox.Group
}

// New creates a new Bot instance. Metrics are registered on reg.
func New(cfg *config.Config, reg prometheus.Registerer) (*Bot, error) {
	// Create Discord session
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Set intents
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	// Initialize storage
	repo, err := storage.NewRepository(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	m := metrics.New(reg)

	var notifier audit.Notifier
	if cfg.AuditChannelID != "" {
		notifier = discord.NewAuditChannel(session, cfg.AuditChannelID)
	}
	auditor := audit.NewRecorder(repo, notifier, slog.Default())

	robloxClient := roblox.NewClient(cfg.RobloxCookie,
		roblox.WithTimeout(cfg.RequestTimeout),
		roblox.WithRateLimit(cfg.RobloxRequestsPerSecond, max(1, int(cfg.RobloxRequestsPerSecond))),
		roblox.WithLogger(slog.Default().With("component", "roblox")),
	)

	orch := promotion.New(repo, discord.NewPromotionChannel(session, cfg.PromotionChannelID), auditor, promotion.Config{
		Ranks:          cfg.Ranks,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         slog.Default().With("component", "promotion"),
		Metrics:        m,
		Tracer:         otel.Tracer("github.com/forwhat-rbx/clannr-sub000/internal/promotion"),
	})

	syncer := rolesync.New(repo, discord.NewGuild(session), auditor, rolesync.Config{
		SyncNicknames:  cfg.SyncNicknames,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         slog.Default().With("component", "rolesync"),
		Metrics:        m,
	})

	b := &Bot{
		config:  cfg,
		session: session,
		repo:    repo,
		roblox:  robloxClient,
		auditor: auditor,
		orch:    orch,
		syncer:  syncer,
	}

	b.sched = scheduler.New(orch, b.loadGroup, scheduler.Config{
		ScanInterval:    cfg.ScanInterval,
		RefreshInterval: cfg.EmbedRefreshInterval,
		RetryDelay:      cfg.InitRetryDelay,
		MaxRetries:      cfg.InitMaxRetries,
		Logger:          slog.Default().With("component", "scheduler"),
		Metrics:         m,
	})

	// Register command handlers
	b.registerHandlers()

	return b, nil
}

// Start opens the Discord connection and starts background tasks
func (b *Bot) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	for _, problem := range b.config.Warnings() {
		slog.Warn("Suspicious configuration", "problem", problem)
	}
	b.logBindingConflicts(b.ctx)

	// Open Discord connection
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	slog.Info("Connected to Discord", "user", b.session.State.User.Username)

	// Register slash commands
	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.sched.Run(b.ctx)
	}()
	go func() {
		defer b.wg.Done()
		b.sweepCaches(b.ctx)
	}()

	return nil
}

// Stop gracefully shuts down the bot
func (b *Bot) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}
	b.sched.Stop()
	b.wg.Wait()

	if b.config.RemoveCommandsOnExit {
		b.removeCommands()
	}

	// Close storage
	if b.repo != nil {
		b.repo.Close()
	}

	// Close Discord session
	if b.session != nil {
		return b.session.Close()
	}

	return nil
}

// loadGroup is the scheduler's dependency: it resolves the Roblox group and
// hands it to the role syncer as well.
func (b *Bot) loadGroup(ctx context.Context) (promotion.GroupDirectory, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.RequestTimeout)
	defer cancel()

	group, err := b.roblox.LoadGroup(ctx, b.config.RobloxGroupID)
	if err != nil {
		return nil, err
	}

	info := group.Info()
	slog.Info("Loaded Roblox group", "groupID", info.ID, "name", info.Name, "members", info.MemberCount)

	b.groupMu.Lock()
	b.group = group
	b.groupMu.Unlock()
	b.syncer.AttachGroup(group)
	return group, nil
}

func (b *Bot) currentGroup() *roblox.Group {
	b.groupMu.Lock()
	defer b.groupMu.Unlock()
	return b.group
}

// sweepCaches drops expired role and username entries until ctx ends
func (b *Bot) sweepCaches(ctx context.Context) {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if g := b.currentGroup(); g != nil {
				g.SweepCaches()
			}
		}
	}
}

func (b *Bot) logBindingConflicts(ctx context.Context) {
	bindings, err := b.repo.GetBindings(ctx, b.config.GuildID)
	if err != nil {
		slog.Error("Failed to load role bindings", "error", err)
		return
	}
	for _, c := range binding.Conflicts(bindings) {
		slog.Warn("Role binding conflict", "conflict", c.String())
	}
}

// registerHandlers sets up Discord event handlers
func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("Bot is ready", "guilds", len(r.Guilds))
	})
}

// handleInteraction dispatches slash commands and button presses
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(s, i)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(s, i)
	}
}

func (b *Bot) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	slog.Debug("Received command", "command", data.Name, "guild", i.GuildID)

	if adminCommands[data.Name] && !isAdmin(i) {
		respondEphemeral(s, i, "You need the Manage Roles permission to use this command.")
		return
	}

	switch data.Name {
	case "update":
		b.handleUpdate(s, i)
	case "checkpromotions":
		b.handleCheckPromotions(s, i)
	case "addxp":
		b.handleAddXP(s, i)
	case "link":
		b.handleLink(s, i)
	case "removeuser":
		b.handleRemoveUser(s, i)
	case "bind":
		b.handleBind(s, i)
	case "unbind":
		b.handleUnbind(s, i)
	case "bindings":
		b.handleBindings(s, i)
	default:
		slog.Warn("Unknown command", "command", data.Name)
	}
}

func (b *Bot) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	customID := i.MessageComponentData().CustomID
	slog.Debug("Received button", "customID", customID, "guild", i.GuildID)

	switch customID {
	case promotion.ButtonExecute, promotion.ButtonRecheck:
	default:
		slog.Warn("Unknown component", "customID", customID)
		return
	}

	if !isAdmin(i) {
		respondEphemeral(s, i, "You need the Manage Roles permission to manage promotions.")
		return
	}

	if customID == promotion.ButtonExecute {
		b.handleExecutePromotions(s, i)
	} else {
		b.handleCheckPromotions(s, i)
	}
}
