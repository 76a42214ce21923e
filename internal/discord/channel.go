package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/forwhat-rbx/clannr-sub000/internal/promotion"
	"github.com/forwhat-rbx/clannr-sub000/internal/storage"
)

// PromotionChannel is the text channel holding the promotion status message
type PromotionChannel struct {
	session   *discordgo.Session
	channelID string
}

// NewPromotionChannel creates a PromotionChannel for channelID
func NewPromotionChannel(session *discordgo.Session, channelID string) *PromotionChannel {
	return &PromotionChannel{session: session, channelID: channelID}
}

// RecentMessages returns up to limit of the newest messages in the channel
func (c *PromotionChannel) RecentMessages(ctx context.Context, limit int) ([]promotion.Message, error) {
	msgs, err := c.session.ChannelMessages(c.channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	self := c.selfID()
	out := make([]promotion.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, promotion.Message{
			ID:        m.ID,
			Own:       m.Author != nil && self != "" && m.Author.ID == self,
			Timestamp: m.Timestamp,
		})
	}
	return out, nil
}

func (c *PromotionChannel) selfID() string {
	if c.session.State == nil || c.session.State.User == nil {
		return ""
	}
	return c.session.State.User.ID
}

// BulkDelete removes 2 to 100 messages younger than two weeks
func (c *PromotionChannel) BulkDelete(ctx context.Context, ids []string) error {
	if err := c.session.ChannelMessagesBulkDelete(c.channelID, ids, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to bulk delete %d messages: %w", len(ids), mapError(err))
	}
	return nil
}

// Send posts a new status message and returns its id
func (c *PromotionChannel) Send(ctx context.Context, status promotion.Status) (string, error) {
	msg, err := c.session.ChannelMessageSendComplex(c.channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{PromotionEmbed(status)},
		Components: PromotionComponents(status),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return msg.ID, nil
}

// Edit replaces the content of an existing status message
func (c *PromotionChannel) Edit(ctx context.Context, id string, status promotion.Status) error {
	embeds := []*discordgo.MessageEmbed{PromotionEmbed(status)}
	components := PromotionComponents(status)
	_, err := c.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         id,
		Channel:    c.channelID,
		Embeds:     &embeds,
		Components: &components,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to edit message %s: %w", id, mapError(err))
	}
	return nil
}

// Delete removes one message
func (c *PromotionChannel) Delete(ctx context.Context, id string) error {
	if err := c.session.ChannelMessageDelete(c.channelID, id, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", id, mapError(err))
	}
	return nil
}

// mapError turns Discord's unknown message error into promotion.ErrMessageGone
func mapError(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMessage {
		return fmt.Errorf("%w: %w", promotion.ErrMessageGone, err)
	}
	return err
}

// AuditChannel mirrors audit entries into a text channel
type AuditChannel struct {
	session   *discordgo.Session
	channelID string
}

// NewAuditChannel creates an AuditChannel for channelID
func NewAuditChannel(session *discordgo.Session, channelID string) *AuditChannel {
	return &AuditChannel{session: session, channelID: channelID}
}

// NotifyAudit posts the entry as an embed
func (c *AuditChannel) NotifyAudit(ctx context.Context, e storage.AuditEntry) error {
	_, err := c.session.ChannelMessageSendEmbed(c.channelID, AuditEmbed(e), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to post audit entry: %w", err)
	}
	return nil
}
