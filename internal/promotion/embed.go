package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	purgeLimit = 100

	// Discord refuses to bulk delete messages older than 14 days; stay clear of the edge
	bulkDeleteMaxAge = 14*24*time.Hour - time.Hour
)

// UpdatePromotionEmbed clears old status posts from the promotion channel and
// then edits the tracked status message in place, or sends a new one.
func (o *Orchestrator) UpdatePromotionEmbed(ctx context.Context) error {
	if o.channel == nil {
		return nil
	}

	o.embedMu.Lock()
	defer o.embedMu.Unlock()

	o.mu.Lock()
	tracked := o.lastMessageID
	status := Status{
		Pending:   append([]PendingPromotion(nil), o.pending...),
		CheckedAt: o.checkedAt,
	}
	o.mu.Unlock()

	o.purge(ctx, tracked)

	if tracked != "" {
		err := o.channel.Edit(ctx, tracked, status)
		if err == nil {
			return nil
		}
		o.logger.Warn("Failed to edit promotion message, sending a new one", "messageID", tracked, "error", err)
	}

	id, err := o.channel.Send(ctx, status)
	if err != nil {
		o.setLastMessageID(tracked, "")
		return fmt.Errorf("failed to send promotion message: %w", err)
	}
	o.setLastMessageID(tracked, id)
	return nil
}

// setLastMessageID replaces the tracked id unless something else replaced it meanwhile
func (o *Orchestrator) setLastMessageID(old, id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastMessageID == old || o.lastMessageID == "" {
		o.lastMessageID = id
	}
}

// purge deletes this bot's messages in the channel except keepID
func (o *Orchestrator) purge(ctx context.Context, keepID string) {
	messages, err := o.channel.RecentMessages(ctx, purgeLimit)
	if err != nil {
		o.logger.Warn("Failed to fetch promotion channel messages", "error", err)
		return
	}

	cutoff := o.now().Add(-bulkDeleteMaxAge)
	var recent, old []string
	for _, m := range messages {
		if !m.Own || m.ID == keepID {
			continue
		}
		if m.Timestamp.After(cutoff) {
			recent = append(recent, m.ID)
		} else {
			old = append(old, m.ID)
		}
	}

	total := len(recent) + len(old)
	switch {
	case len(recent) == 1:
		// bulk delete needs at least two messages
		old = append(old, recent...)
	case len(recent) > 1:
		if err := o.channel.BulkDelete(ctx, recent); err != nil {
			o.logger.Warn("Bulk delete failed, deleting individually", "count", len(recent), "error", err)
			old = append(old, recent...)
		}
	}

	for _, id := range old {
		if err := o.channel.Delete(ctx, id); err != nil && !errors.Is(err, ErrMessageGone) {
			o.logger.Debug("Failed to delete promotion message", "messageID", id, "error", err)
		}
	}

	if total > 0 {
		o.logger.Debug("Purged promotion channel", "messages", total)
	}
}
