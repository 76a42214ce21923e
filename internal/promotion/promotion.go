package promotion

import (
	"context"
	"errors"
	"time"

	"github.com/forwhat-rbx/clannr-sub000/internal/audit"
	"github.com/forwhat-rbx/clannr-sub000/internal/roblox"
	"github.com/forwhat-rbx/clannr-sub000/internal/storage"
)

var (
	// ErrGroupNotReady is returned while the Roblox group handle is not attached
	ErrGroupNotReady = errors.New("roblox group is not ready")

	// ErrScanInProgress is returned when a scan is requested while one is running
	ErrScanInProgress = errors.New("promotion scan already in progress")

	// ErrMessageGone is wrapped by Channel implementations when a message no longer exists
	ErrMessageGone = errors.New("message no longer exists")
)

// Custom IDs of the buttons attached to the status message
const (
	ButtonExecute = "promotions:execute"
	ButtonRecheck = "promotions:recheck"
)

// PendingPromotion is a detected rank upgrade that has not been applied yet
type PendingPromotion struct {
	RobloxID    string
	Name        string
	CurrentRank string
	NewRank     string
	RoleID      int64
}

// Status is everything the promotion channel message displays
type Status struct {
	Pending   []PendingPromotion
	CheckedAt time.Time // zero until the first scan completes
}

// Message is a message in the promotion channel as far as purging cares
type Message struct {
	ID        string
	Own       bool // sent by this bot
	Timestamp time.Time
}

// UserStore provides the tracked user records
type UserStore interface {
	GetAllUsers(ctx context.Context) ([]*storage.User, error)
}

// GroupDirectory is the Roblox group as the orchestrator sees it.
// UpdateMember must report stale credentials as roblox.KindAuthExpired.
type GroupDirectory interface {
	GetRoles(ctx context.Context) ([]roblox.Role, error)
	GetMember(ctx context.Context, userID int64) (*roblox.GroupMember, error)
	UpdateMember(ctx context.Context, userID, roleID int64) error
	RefreshAuth(ctx context.Context) error
}

// Channel is the promotion status channel
type Channel interface {
	RecentMessages(ctx context.Context, limit int) ([]Message, error)
	BulkDelete(ctx context.Context, ids []string) error
	Send(ctx context.Context, status Status) (string, error)
	Edit(ctx context.Context, id string, status Status) error
	Delete(ctx context.Context, id string) error
}

// Auditor records executed promotions
type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
}
