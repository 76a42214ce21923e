package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Guild performs member role and nickname changes through the Discord API
type Guild struct {
	session *discordgo.Session
}

// NewGuild creates a Guild
func NewGuild(session *discordgo.Session) *Guild {
	return &Guild{session: session}
}

// MemberRoles returns the role ids the member holds
func (g *Guild) MemberRoles(ctx context.Context, guildID, userID string) ([]string, error) {
	member, err := g.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get guild member: %w", err)
	}
	return member.Roles, nil
}

// AddRoles grants each role, continuing past failures
func (g *Guild) AddRoles(ctx context.Context, guildID, userID string, roleIDs []string) error {
	var errs []error
	for _, id := range roleIDs {
		if err := g.session.GuildMemberRoleAdd(guildID, userID, id, discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("add role %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// RemoveRoles revokes each role, continuing past failures
func (g *Guild) RemoveRoles(ctx context.Context, guildID, userID string, roleIDs []string) error {
	var errs []error
	for _, id := range roleIDs {
		if err := g.session.GuildMemberRoleRemove(guildID, userID, id, discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("remove role %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// SetNickname changes the member's server nickname
func (g *Guild) SetNickname(ctx context.Context, guildID, userID, nickname string) error {
	if err := g.session.GuildMemberNickname(guildID, userID, nickname, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to set nickname: %w", err)
	}
	return nil
}
