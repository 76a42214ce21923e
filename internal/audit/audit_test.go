package audit

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forwhat-rbx/clannr-sub000/internal/storage"
)

type fakeStore struct {
	entries []*storage.AuditEntry
	err     error
}

func (f *fakeStore) InsertAuditEntry(ctx context.Context, e *storage.AuditEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

type fakeNotifier struct {
	calls int
	err   error
}

func (f *fakeNotifier) NotifyAudit(ctx context.Context, e storage.AuditEntry) error {
	f.calls++
	return f.err
}

func TestRecord(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	r := NewRecorder(store, notifier, slog.Default())

	r.Record(context.Background(), Entry{Action: ActionPromotion, ActorID: "42", TargetID: "1001", Detail: "Recruit -> Member"})

	require.Len(t, store.entries, 1)
	e := store.entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, ActionPromotion, e.Action)
	assert.Equal(t, "1001", e.TargetID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Equal(t, 1, notifier.calls)
}

func TestRecordSwallowsFailures(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	notifier := &fakeNotifier{err: errors.New("channel gone")}
	r := NewRecorder(store, notifier, nil)

	assert.NotPanics(t, func() {
		r.Record(context.Background(), Entry{Action: ActionRoleUpdate})
	})
	assert.Equal(t, 1, notifier.calls, "notifier still runs after a store failure")
}

func TestRecordWithCancelledContext(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Record(ctx, Entry{Action: ActionXPGrant})

	assert.Len(t, store.entries, 1)
}
