package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forwhat-rbx/clannr-sub000/internal/storage"
)

// Action names recorded in the audit log
const (
	ActionPromotion  = "promotion"
	ActionRoleUpdate = "role_update"
	ActionXPGrant    = "xp_grant"
	ActionUserRemove = "user_remove"
	ActionBind       = "role_bind"
	ActionUnbind     = "role_unbind"
	ActionLink       = "user_link"
)

const writeTimeout = 5 * time.Second

// Entry describes one audited change
type Entry struct {
	Action   string
	ActorID  string
	TargetID string
	Detail   string
}

// Store persists audit entries
type Store interface {
	InsertAuditEntry(ctx context.Context, e *storage.AuditEntry) error
}

// Notifier mirrors audit entries somewhere humans read them, e.g. a log channel
type Notifier interface {
	NotifyAudit(ctx context.Context, e storage.AuditEntry) error
}

// Recorder writes audit entries. Failures are logged and never returned, so
// auditing can't fail the change being audited.
type Recorder struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
}

// NewRecorder creates a Recorder. notifier may be nil.
func NewRecorder(store Store, notifier Notifier, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, notifier: notifier, logger: logger}
}

// Record stores the entry and forwards it to the notifier
func (r *Recorder) Record(ctx context.Context, e Entry) {
	entry := storage.AuditEntry{
		ID:        uuid.NewString(),
		Action:    e.Action,
		ActorID:   e.ActorID,
		TargetID:  e.TargetID,
		Detail:    e.Detail,
		CreatedAt: time.Now().UTC(),
	}

	// Detached so a cancelled caller still gets its change audited
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	r.logger.Info("Audit", "action", entry.Action, "actor", entry.ActorID, "target", entry.TargetID, "detail", entry.Detail)

	if r.store != nil {
		if err := r.store.InsertAuditEntry(ctx, &entry); err != nil {
			r.logger.Error("Failed to store audit entry", "action", entry.Action, "target", entry.TargetID, "error", err)
		}
	}
	if r.notifier != nil {
		if err := r.notifier.NotifyAudit(ctx, entry); err != nil {
			r.logger.Warn("Failed to post audit entry", "action", entry.Action, "target", entry.TargetID, "error", err)
		}
	}
}
