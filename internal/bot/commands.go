package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/forwhat-rbx/clannr-sub000/internal/audit"
	"github.com/forwhat-rbx/clannr-sub000/internal/binding"
	"github.com/forwhat-rbx/clannr-sub000/internal/promotion"
	"github.com/forwhat-rbx/clannr-sub000/internal/rolesync"
	"github.com/forwhat-rbx/clannr-sub000/internal/storage"
)

const (
	commandTimeout = 30 * time.Second

	// a batch makes one rate limited Roblox call per member
	batchTimeout = 15 * time.Minute
)

// commands that require the Manage Roles permission
var adminCommands = map[string]bool{
	"checkpromotions": true,
	"addxp":           true,
	"link":            true,
	"removeuser":      true,
	"bind":            true,
	"unbind":          true,
	"bindings":        true,
}

var (
	minRankValue = 0.0
	maxRankValue = 255.0
)

// Slash command definitions
func (b *Bot) getCommandDefinitions() []*discordgo.ApplicationCommand {
	robloxIDOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "roblox_id",
		Description: "Roblox user ID",
		Required:    true,
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        "update",
			Description: "Sync your Discord roles with your Roblox group rank",
		},
		{
			Name:        "checkpromotions",
			Description: "Scan all members for XP promotions now",
		},
		{
			Name:        "addxp",
			Description: "Grant or deduct XP for a member",
			Options: []*discordgo.ApplicationCommandOption{
				robloxIDOption,
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "XP to add (negative to deduct)",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "Why the XP was granted",
				},
			},
		},
		{
			Name:        "link",
			Description: "Link a Discord user to a Roblox account",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Discord user",
					Required:    true,
				},
				robloxIDOption,
			},
		},
		{
			Name:        "removeuser",
			Description: "Stop tracking a member and delete their XP history",
			Options:     []*discordgo.ApplicationCommandOption{robloxIDOption},
		},
		{
			Name:        "bind",
			Description: "Grant a Discord role to members within a Roblox rank range",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "Discord role to grant",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "min",
					Description: "Lowest Roblox rank (inclusive)",
					Required:    true,
					MinValue:    &minRankValue,
					MaxValue:    maxRankValue,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "max",
					Description: "Highest Roblox rank (inclusive)",
					Required:    true,
					MinValue:    &minRankValue,
					MaxValue:    maxRankValue,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "name",
					Description: "Roblox rank name, for display",
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "remove",
					Description: "Roles to take away when this binding applies (mentions or IDs)",
				},
			},
		},
		{
			Name:        "unbind",
			Description: "Remove a role binding",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "Bound Discord role",
					Required:    true,
				},
			},
		},
		{
			Name:        "bindings",
			Description: "List role bindings for this server",
		},
	}
}

// registerCommands registers all slash commands with Discord
func (b *Bot) registerCommands() error {
	slog.Info("Registering slash commands")

	commandDefinitions := b.getCommandDefinitions()
	registeredCommands := make([]*discordgo.ApplicationCommand, 0, len(commandDefinitions))

	for _, cmd := range commandDefinitions {
		registered, err := b.session.ApplicationCommandCreate(
			b.session.State.User.ID,
			b.config.GuildID,
			cmd,
		)
		if err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
		registeredCommands = append(registeredCommands, registered)
		slog.Debug("Registered command", "name", cmd.Name)
	}

	b.commands = registeredCommands
	slog.Info("Slash commands registered", "count", len(registeredCommands))
	return nil
}

// removeCommands removes all registered slash commands
func (b *Bot) removeCommands() {
	for _, cmd := range b.commands {
		err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.config.GuildID, cmd.ID)
		if err != nil {
			slog.Error("Failed to remove command", "name", cmd.Name, "error", err)
		}
	}
}

// handleUpdate handles the /update command
func (b *Bot) handleUpdate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	deferEphemeral(s, i)
	callerID := interactionUserID(i)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	user, err := b.repo.GetUserByDiscordID(ctx, callerID)
	if errors.Is(err, storage.ErrNotFound) {
		b.editResponse(s, i, "Your Discord account isn't linked to a Roblox account yet. Ask an officer to `/link` you.")
		return
	}
	if err != nil {
		slog.Error("Failed to look up linked user", "discordID", callerID, "error", err)
		b.editResponse(s, i, "Failed to look up your account. Please try again.")
		return
	}

	b.editResponse(s, i, b.syncMember(ctx, i.GuildID, callerID, user.RobloxID, callerID))
}

// syncMember runs a role sync on behalf of actorID and describes the outcome
func (b *Bot) syncMember(ctx context.Context, guildID, discordID, robloxID, actorID string) string {
	res, err := b.syncer.Sync(ctx, guildID, discordID, robloxID, actorID)
	switch {
	case errors.Is(err, rolesync.ErrNotGroupMember):
		return fmt.Sprintf("Roblox account `%s` is not in the group.", robloxID)
	case errors.Is(err, rolesync.ErrGroupNotReady):
		return "The Roblox group isn't loaded yet. Try again in a minute."
	case err != nil:
		slog.Error("Role sync failed", "discordID", discordID, "robloxID", robloxID, "error", err)
		return "Failed to sync roles. Please try again."
	}
	return formatSyncResult(res)
}

// handleCheckPromotions handles /checkpromotions and the recheck button
func (b *Bot) handleCheckPromotions(s *discordgo.Session, i *discordgo.InteractionCreate) {
	deferEphemeral(s, i)

	ctx, cancel := context.WithTimeout(b.ctx, batchTimeout)
	defer cancel()

	err := b.orch.CheckForPromotions(ctx)
	switch {
	case errors.Is(err, promotion.ErrGroupNotReady):
		b.editResponse(s, i, "The Roblox group isn't loaded yet. Try again in a minute.")
	case errors.Is(err, promotion.ErrScanInProgress):
		b.editResponse(s, i, "A promotion check is already running.")
	case err != nil:
		b.editResponse(s, i, "Promotion check failed. The previous results are still shown.")
	default:
		b.editResponse(s, i, fmt.Sprintf("Promotion check complete: %d pending.", len(b.orch.Pending())))
	}
}

// handleExecutePromotions handles the execute button
func (b *Bot) handleExecutePromotions(s *discordgo.Session, i *discordgo.InteractionCreate) {
	deferEphemeral(s, i)

	ctx, cancel := context.WithTimeout(b.ctx, batchTimeout)
	defer cancel()

	count, err := b.orch.ExecutePromotions(ctx, interactionUserID(i))
	if errors.Is(err, promotion.ErrGroupNotReady) {
		b.editResponse(s, i, "The Roblox group isn't loaded yet. Try again in a minute.")
		return
	}
	if err != nil {
		slog.Error("Failed to execute promotions", "error", err)
		b.editResponse(s, i, "Failed to execute promotions.")
		return
	}
	b.editResponse(s, i, fmt.Sprintf("Promoted %d member(s).", count))
}

// handleAddXP handles the /addxp command
func (b *Bot) handleAddXP(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i.ApplicationCommandData().Options)
	robloxID := opts["roblox_id"].StringValue()
	amount := int(opts["amount"].IntValue())
	reason := ""
	if o, ok := opts["reason"]; ok {
		reason = o.StringValue()
	}

	if !validRobloxID(robloxID) {
		respondEphemeral(s, i, fmt.Sprintf("`%s` is not a valid Roblox user ID.", robloxID))
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	actorID := interactionUserID(i)
	user, err := b.repo.AddXP(ctx, robloxID, amount, reason, actorID)
	if err != nil {
		slog.Error("Failed to add XP", "robloxID", robloxID, "amount", amount, "error", err)
		respondEphemeral(s, i, "Failed to update XP. Please try again.")
		return
	}

	b.auditor.Record(ctx, audit.Entry{
		Action:   audit.ActionXPGrant,
		ActorID:  actorID,
		TargetID: robloxID,
		Detail:   fmt.Sprintf("%+d xp (%s), total %d", amount, orNone(reason), user.XP),
	})
	respondWithMessage(s, i, fmt.Sprintf("`%s` now has **%d** XP (%+d).", robloxID, user.XP, amount))
}

// handleLink handles the /link command
func (b *Bot) handleLink(s *discordgo.Session, i *discordgo.InteractionCreate) {
	deferEphemeral(s, i)
	opts := optionMap(i.ApplicationCommandData().Options)
	target := opts["user"].UserValue(s)
	robloxID := opts["roblox_id"].StringValue()

	if !validRobloxID(robloxID) {
		b.editResponse(s, i, fmt.Sprintf("`%s` is not a valid Roblox user ID.", robloxID))
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if _, err := b.repo.LinkDiscord(ctx, robloxID, target.ID); err != nil {
		slog.Error("Failed to link user", "robloxID", robloxID, "discordID", target.ID, "error", err)
		b.editResponse(s, i, "Failed to link the account. Please try again.")
		return
	}

	b.auditor.Record(ctx, audit.Entry{
		Action:   audit.ActionLink,
		ActorID:  interactionUserID(i),
		TargetID: robloxID,
		Detail:   fmt.Sprintf("linked to <@%s>", target.ID),
	})

	summary := b.syncMember(ctx, i.GuildID, target.ID, robloxID, interactionUserID(i))
	b.editResponse(s, i, fmt.Sprintf("Linked <@%s> to Roblox account `%s`.\n%s", target.ID, robloxID, summary))
}

// handleRemoveUser handles the /removeuser command
func (b *Bot) handleRemoveUser(s *discordgo.Session, i *discordgo.InteractionCreate) {
	robloxID := optionMap(i.ApplicationCommandData().Options)["roblox_id"].StringValue()

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	err := b.repo.DeleteUser(ctx, robloxID)
	if errors.Is(err, storage.ErrNotFound) {
		respondEphemeral(s, i, fmt.Sprintf("`%s` is not being tracked.", robloxID))
		return
	}
	if err != nil {
		slog.Error("Failed to remove user", "robloxID", robloxID, "error", err)
		respondEphemeral(s, i, "Failed to remove the user. Please try again.")
		return
	}

	b.auditor.Record(ctx, audit.Entry{
		Action:   audit.ActionUserRemove,
		ActorID:  interactionUserID(i),
		TargetID: robloxID,
		Detail:   "user record and xp history deleted",
	})
	respondEphemeral(s, i, fmt.Sprintf("Removed `%s`.", robloxID))
}

// handleBind handles the /bind command
func (b *Bot) handleBind(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i.ApplicationCommandData().Options)
	bnd := binding.Binding{
		GuildID:       i.GuildID,
		DiscordRoleID: opts["role"].RoleValue(s, i.GuildID).ID,
		MinRank:       int(opts["min"].IntValue()),
		MaxRank:       int(opts["max"].IntValue()),
	}
	if o, ok := opts["name"]; ok {
		bnd.RobloxRankName = o.StringValue()
	}
	if o, ok := opts["remove"]; ok {
		bnd.RolesToRemove = parseRoleIDs(o.StringValue())
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	err := b.repo.UpsertBinding(ctx, bnd)
	if errors.Is(err, binding.ErrInvalidRange) {
		respondEphemeral(s, i, fmt.Sprintf("Invalid rank range %d-%d.", bnd.MinRank, bnd.MaxRank))
		return
	}
	if err != nil {
		slog.Error("Failed to save binding", "roleID", bnd.DiscordRoleID, "error", err)
		respondEphemeral(s, i, "Failed to save the binding. Please try again.")
		return
	}

	b.auditor.Record(ctx, audit.Entry{
		Action:   audit.ActionBind,
		ActorID:  interactionUserID(i),
		TargetID: bnd.DiscordRoleID,
		Detail:   formatBinding(bnd),
	})

	msg := fmt.Sprintf("Bound %s", formatBinding(bnd))
	if warnings := b.conflictsFor(ctx, i.GuildID, bnd.DiscordRoleID); len(warnings) > 0 {
		msg += "\n**Warning:**\n" + strings.Join(warnings, "\n")
	}
	respondEphemeral(s, i, msg)
}

// conflictsFor describes conflicts involving roleID
func (b *Bot) conflictsFor(ctx context.Context, guildID, roleID string) []string {
	bindings, err := b.repo.GetBindings(ctx, guildID)
	if err != nil {
		slog.Error("Failed to load bindings", "error", err)
		return nil
	}
	var out []string
	for _, c := range binding.Conflicts(bindings) {
		if c.Remover.DiscordRoleID == roleID || c.Stripped.DiscordRoleID == roleID {
			slog.Warn("Role binding conflict", "conflict", c.String())
			out = append(out, c.String())
		}
	}
	return out
}

// handleUnbind handles the /unbind command
func (b *Bot) handleUnbind(s *discordgo.Session, i *discordgo.InteractionCreate) {
	roleID := optionMap(i.ApplicationCommandData().Options)["role"].RoleValue(s, i.GuildID).ID

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	err := b.repo.DeleteBinding(ctx, i.GuildID, roleID)
	if errors.Is(err, storage.ErrNotFound) {
		respondEphemeral(s, i, fmt.Sprintf("<@&%s> has no binding.", roleID))
		return
	}
	if err != nil {
		slog.Error("Failed to delete binding", "roleID", roleID, "error", err)
		respondEphemeral(s, i, "Failed to remove the binding. Please try again.")
		return
	}

	b.auditor.Record(ctx, audit.Entry{
		Action:   audit.ActionUnbind,
		ActorID:  interactionUserID(i),
		TargetID: roleID,
	})
	respondEphemeral(s, i, fmt.Sprintf("Removed the binding for <@&%s>.", roleID))
}

// handleBindings handles the /bindings command
func (b *Bot) handleBindings(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	bindings, err := b.repo.GetBindings(ctx, i.GuildID)
	if err != nil {
		slog.Error("Failed to get bindings", "error", err)
		respondEphemeral(s, i, "Failed to retrieve bindings.")
		return
	}
	respondEphemeral(s, i, formatBindingList(bindings, binding.Conflicts(bindings)))
}

// Helper functions

func formatSyncResult(res *rolesync.Result) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Roblox rank: **%s** (%d)\n", res.RankName, res.Rank))
	if !res.Changed() && res.AddErr == nil && res.RemoveErr == nil {
		sb.WriteString("Your roles are already up to date.")
	}
	if len(res.Added) > 0 {
		sb.WriteString("Added: " + mentionRoles(res.Added) + "\n")
	}
	if len(res.Removed) > 0 {
		sb.WriteString("Removed: " + mentionRoles(res.Removed) + "\n")
	}
	if res.AddErr != nil || res.RemoveErr != nil {
		sb.WriteString("Some role changes failed; the bot may be missing permissions.\n")
	}
	if res.Nickname != "" {
		sb.WriteString(fmt.Sprintf("Nickname set to `%s`.", res.Nickname))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatBinding(b binding.Binding) string {
	s := fmt.Sprintf("<@&%s> to ranks %d-%d", b.DiscordRoleID, b.MinRank, b.MaxRank)
	if b.RobloxRankName != "" {
		s += fmt.Sprintf(" (%s)", b.RobloxRankName)
	}
	if len(b.RolesToRemove) > 0 {
		s += ", removes " + mentionRoles(b.RolesToRemove)
	}
	return s
}

func formatBindingList(bindings []binding.Binding, conflicts []binding.Conflict) string {
	if len(bindings) == 0 {
		return "No role bindings are configured.\nUse `/bind` to add one!"
	}

	var sb strings.Builder
	sb.WriteString("**Role Bindings:**\n\n")
	for idx, b := range bindings {
		sb.WriteString(fmt.Sprintf("%d. %s\n", idx+1, formatBinding(b)))
	}
	if len(conflicts) > 0 {
		sb.WriteString("\n**Conflicts:**\n")
		for _, c := range conflicts {
			sb.WriteString("- " + c.String() + "\n")
		}
	}
	return sb.String()
}

func mentionRoles(ids []string) string {
	mentions := make([]string, len(ids))
	for idx, id := range ids {
		mentions[idx] = fmt.Sprintf("<@&%s>", id)
	}
	return strings.Join(mentions, ", ")
}

var snowflakePattern = regexp.MustCompile(`\d{17,20}`)

// parseRoleIDs extracts role ids from mentions or raw ids, dropping duplicates
func parseRoleIDs(s string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, id := range snowflakePattern.FindAllString(s, -1) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func validRobloxID(id string) bool {
	n, err := strconv.ParseInt(id, 10, 64)
	return err == nil && n > 0
}

func orNone(s string) string {
	if s == "" {
		return "no reason"
	}
	return s
}

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func isAdmin(i *discordgo.InteractionCreate) bool {
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionManageRoles != 0
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func respondWithMessage(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
		},
	})
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// Respond immediately to avoid the interaction timing out
func deferEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
}

func (b *Bot) editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
}
