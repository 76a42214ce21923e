package rolesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/forwhat-rbx/clannr-sub000/internal/audit"
	"github.com/forwhat-rbx/clannr-sub000/internal/binding"
	"github.com/forwhat-rbx/clannr-sub000/internal/metrics"
	"github.com/forwhat-rbx/clannr-sub000/internal/roblox"
)

var (
	// ErrNotGroupMember is returned when the Roblox account is not in the group
	ErrNotGroupMember = errors.New("user is not a member of the roblox group")

	// ErrGroupNotReady is returned before the group handle is attached
	ErrGroupNotReady = errors.New("roblox group is not ready")
)

// discord caps nicknames at 32 characters
const maxNicknameLen = 32

// BindingStore provides a guild's role bindings
type BindingStore interface {
	GetBindings(ctx context.Context, guildID string) ([]binding.Binding, error)
}

// Guild performs role changes on Discord guild members
type Guild interface {
	MemberRoles(ctx context.Context, guildID, userID string) ([]string, error)
	AddRoles(ctx context.Context, guildID, userID string, roleIDs []string) error
	RemoveRoles(ctx context.Context, guildID, userID string, roleIDs []string) error
	SetNickname(ctx context.Context, guildID, userID, nickname string) error
}

// MemberLookup resolves a Roblox user's group membership
type MemberLookup interface {
	GetMember(ctx context.Context, userID int64) (*roblox.GroupMember, error)
}

// Auditor records applied role changes
type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

// Config holds the syncer's settings
type Config struct {
	SyncNicknames  bool
	RequestTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Result reports what a sync changed. The add and remove batches fail
// independently, so both errors can be set while the other half succeeded.
type Result struct {
	Rank      int
	RankName  string
	Added     []string
	Removed   []string
	Nickname  string // set when the nickname was changed
	AddErr    error
	RemoveErr error
}

// Changed reports whether any role was added or removed
func (r Result) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

// Syncer brings a member's Discord roles in line with their Roblox rank
type Syncer struct {
	bindings BindingStore
	guild    Guild
	auditor  Auditor
	cfg      Config
	logger   *slog.Logger

	mu      sync.Mutex
	members MemberLookup
}

// New creates a Syncer. The group lookup is attached later with AttachGroup.
func New(bindings BindingStore, guild Guild, auditor Auditor, cfg Config) *Syncer {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 20 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{bindings: bindings, guild: guild, auditor: auditor, cfg: cfg, logger: logger}
}

// AttachGroup installs the Roblox group lookup
func (s *Syncer) AttachGroup(m MemberLookup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = m
}

func (s *Syncer) lookup() MemberLookup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members
}

// Sync reconciles one Discord member's bound roles against their Roblox rank.
// actorID is whoever asked for the sync and is recorded in the audit entry.
// A non-member gets ErrNotGroupMember and no changes.
func (s *Syncer) Sync(ctx context.Context, guildID, discordUserID, robloxID, actorID string) (*Result, error) {
	members := s.lookup()
	if members == nil {
		return nil, ErrGroupNotReady
	}
	userID, err := strconv.ParseInt(robloxID, 10, 64)
	if err != nil || userID <= 0 {
		return nil, fmt.Errorf("invalid roblox id %q", robloxID)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	member, err := members.GetMember(callCtx, userID)
	cancel()
	if errors.Is(err, roblox.ErrNotInGroup) {
		return nil, ErrNotGroupMember
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group member: %w", err)
	}

	bindings, err := s.bindings.GetBindings(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role bindings: %w", err)
	}

	rolesCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	held, err := s.guild.MemberRoles(rolesCtx, guildID, discordUserID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to get member roles: %w", err)
	}

	delta := binding.Reconcile(held, member.Role.Rank, bindings)
	res := &Result{Rank: member.Role.Rank, RankName: member.Role.Name}

	if len(delta.ToAdd) > 0 {
		res.AddErr = s.apply(ctx, "add", guildID, discordUserID, delta.ToAdd, s.guild.AddRoles)
		if res.AddErr == nil {
			res.Added = delta.ToAdd
		}
	}
	if len(delta.ToRemove) > 0 {
		res.RemoveErr = s.apply(ctx, "remove", guildID, discordUserID, delta.ToRemove, s.guild.RemoveRoles)
		if res.RemoveErr == nil {
			res.Removed = delta.ToRemove
		}
	}

	if s.cfg.SyncNicknames && member.Name != "" {
		nick := truncate(member.Name, maxNicknameLen)
		nickCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		err := s.guild.SetNickname(nickCtx, guildID, discordUserID, nick)
		cancel()
		if err != nil {
			s.logger.Warn("Failed to set nickname", "discordID", discordUserID, "nickname", nick, "error", err)
		} else {
			res.Nickname = nick
		}
	}

	s.logger.Info("Synced member roles",
		"discordID", discordUserID, "robloxID", robloxID, "rank", member.Role.Rank,
		"added", len(res.Added), "removed", len(res.Removed))

	if res.Changed() {
		s.auditor.Record(ctx, audit.Entry{
			Action:   audit.ActionRoleUpdate,
			ActorID:  actorID,
			TargetID: robloxID,
			Detail:   fmt.Sprintf("rank %d (%s): added [%s] removed [%s]", res.Rank, res.RankName, strings.Join(res.Added, ", "), strings.Join(res.Removed, ", ")),
		})
	}
	return res, nil
}

type roleOp func(ctx context.Context, guildID, userID string, roleIDs []string) error

// apply runs one batch; failures are logged and counted, never retried
func (s *Syncer) apply(ctx context.Context, op, guildID, userID string, roleIDs []string, fn roleOp) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	if err := fn(callCtx, guildID, userID, roleIDs); err != nil {
		s.cfg.Metrics.RoleChanges.WithLabelValues(op, "error").Inc()
		s.logger.Error("Failed to update member roles", "op", op, "discordID", userID, "roles", roleIDs, "error", err)
		return err
	}
	s.cfg.Metrics.RoleChanges.WithLabelValues(op, "ok").Add(float64(len(roleIDs)))
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
