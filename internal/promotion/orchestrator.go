package promotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/forwhat-rbx/clannr-sub000/internal/audit"
	"github.com/forwhat-rbx/clannr-sub000/internal/metrics"
	"github.com/forwhat-rbx/clannr-sub000/internal/rank"
	"github.com/forwhat-rbx/clannr-sub000/internal/roblox"
	"github.com/forwhat-rbx/clannr-sub000/internal/storage"
)

// Config holds the orchestrator's settings
type Config struct {
	Ranks          rank.Table
	RequestTimeout time.Duration // per external call

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// Orchestrator detects XP-based promotions, keeps the promotion channel's
// status message current, and applies promotions in batches.
type Orchestrator struct {
	users   UserStore
	channel Channel
	auditor Auditor

	ranks   rank.Table
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	scanMu  sync.Mutex // one scan at a time
	embedMu sync.Mutex // one render at a time

	mu            sync.Mutex
	group         GroupDirectory
	pending       []PendingPromotion
	checkedAt     time.Time
	lastMessageID string
	// seq advances when a batch starts or finishes. executed maps a robloxID
	// to the seq its batch started at; finished maps that start seq to the
	// seq the batch finished at.
	seq      uint64
	executed map[string]uint64
	finished map[uint64]uint64
}

// New creates an Orchestrator. The group handle is attached later with AttachGroup.
func New(users UserStore, channel Channel, auditor Auditor, cfg Config) *Orchestrator {
	o := &Orchestrator{
		users:    users,
		channel:  channel,
		auditor:  auditor,
		ranks:    cfg.Ranks.Sorted(),
		timeout:  cfg.RequestTimeout,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		now:      time.Now,
		executed: make(map[string]uint64),
		finished: make(map[uint64]uint64),
	}
	if o.timeout <= 0 {
		o.timeout = 20 * time.Second
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = metrics.NewNoop()
	}
	if o.tracer == nil {
		o.tracer = noop.NewTracerProvider().Tracer("promotion")
	}
	return o
}

// AttachGroup installs the Roblox group handle
func (o *Orchestrator) AttachGroup(g GroupDirectory) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.group = g
}

func (o *Orchestrator) currentGroup() GroupDirectory {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.group
}

// Pending returns a copy of the pending promotion list
func (o *Orchestrator) Pending() []PendingPromotion {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]PendingPromotion(nil), o.pending...)
}

// CheckForPromotions rebuilds the pending list from a full scan of all users
// and re-renders the status message. If the scan can't run, or fails before
// users are evaluated, the previous list stays in place.
func (o *Orchestrator) CheckForPromotions(ctx context.Context) error {
	group := o.currentGroup()
	if group == nil {
		o.logger.Warn("Skipping promotion scan, Roblox group not ready")
		return ErrGroupNotReady
	}
	if !o.scanMu.TryLock() {
		o.logger.Info("Promotion scan already running")
		return ErrScanInProgress
	}
	defer o.scanMu.Unlock()

	ctx, span := o.tracer.Start(ctx, "promotion.CheckForPromotions")
	defer span.End()

	o.mu.Lock()
	startSeq := o.seq
	o.mu.Unlock()

	start := o.now()
	found, err := o.scan(ctx, group)
	o.metrics.ScanDuration.Observe(o.now().Sub(start).Seconds())
	if err != nil {
		o.metrics.Scans.WithLabelValues("error").Inc()
		span.RecordError(err)
		o.logger.Error("Promotion scan failed", "error", err)
		return err
	}

	o.mu.Lock()
	pending := found[:0]
	for _, p := range found {
		if o.overlapped(p.RobloxID, startSeq) {
			continue
		}
		pending = append(pending, p)
	}
	o.pending = pending
	o.checkedAt = o.now()
	o.forgetFinished()
	o.mu.Unlock()

	o.metrics.Scans.WithLabelValues("ok").Inc()
	o.metrics.PendingPromotion.Set(float64(len(pending)))
	span.SetAttributes(attribute.Int("promotion.pending", len(pending)))
	o.logger.Info("Promotion scan complete", "pending", len(pending), "duration", o.now().Sub(start))

	if err := o.UpdatePromotionEmbed(ctx); err != nil {
		o.logger.Error("Failed to update promotion message", "error", err)
	}
	return nil
}

// scan evaluates every user in store order. Only failures to load the roles
// or the user list abort it.
func (o *Orchestrator) scan(ctx context.Context, group GroupDirectory) ([]PendingPromotion, error) {
	rolesCtx, cancel := context.WithTimeout(ctx, o.timeout)
	roles, err := group.GetRoles(rolesCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to get group roles: %w", err)
	}
	byRank := make(map[int]roblox.Role, len(roles))
	for _, r := range roles {
		byRank[r.Rank] = r
	}

	users, err := o.users.GetAllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	o.logger.Debug("Scanning users for promotions", "count", len(users))

	var found []PendingPromotion
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := o.evaluate(ctx, group, byRank, u)
		if err != nil {
			kind := roblox.KindOf(err)
			o.metrics.UserFailures.WithLabelValues(kind.String()).Inc()
			o.logger.Warn("Failed to evaluate user for promotion", "robloxID", u.RobloxID, "kind", kind, "error", err)
			continue
		}
		if p != nil {
			found = append(found, *p)
		}
	}
	return found, nil
}

// overlapped reports whether a batch that took robloxID was running at any
// point after startSeq. Such a scan may have read the member's rank before
// the batch changed it. Must be called with o.mu held.
func (o *Orchestrator) overlapped(robloxID string, startSeq uint64) bool {
	batch, ok := o.executed[robloxID]
	if !ok {
		return false
	}
	end, done := o.finished[batch]
	return !done || end > startSeq
}

// forgetFinished drops records of completed batches. Scans are serialized,
// so every later scan starts after those batches ended. Must be called with
// o.mu held.
func (o *Orchestrator) forgetFinished() {
	for id, batch := range o.executed {
		if _, done := o.finished[batch]; done {
			delete(o.executed, id)
		}
	}
	clear(o.finished)
}

// evaluate returns the user's pending promotion, or nil if there is none
func (o *Orchestrator) evaluate(ctx context.Context, group GroupDirectory, byRank map[int]roblox.Role, u *storage.User) (*PendingPromotion, error) {
	userID, err := strconv.ParseInt(u.RobloxID, 10, 64)
	if err != nil || userID <= 0 {
		return nil, fmt.Errorf("invalid roblox id %q", u.RobloxID)
	}
	if u.XP < 0 {
		return nil, fmt.Errorf("invalid xp %d", u.XP)
	}
	// Banned and suspended members keep their rank
	if u.Banned || (u.SuspendedUntil != nil && u.SuspendedUntil.After(o.now())) {
		return nil, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	member, err := group.GetMember(callCtx, userID)
	if errors.Is(err, roblox.ErrNotInGroup) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry, ok := rank.FindHighestEligible(member.Role.Rank, u.XP, o.ranks)
	if !ok {
		return nil, nil
	}
	target, ok := byRank[entry.Rank]
	if !ok {
		return nil, fmt.Errorf("group has no role with rank %d", entry.Rank)
	}

	return &PendingPromotion{
		RobloxID:    u.RobloxID,
		Name:        member.Name,
		CurrentRank: member.Role.Name,
		NewRank:     target.Name,
		RoleID:      target.ID,
	}, nil
}

// ExecutePromotions applies every pending promotion and returns how many
// succeeded. The list is taken and cleared before any call is made, so each
// detected promotion is attempted at most once. Failed entries are not
// re-queued; the next scan finds them again if they still qualify.
func (o *Orchestrator) ExecutePromotions(ctx context.Context, initiatorID string) (int, error) {
	group := o.currentGroup()
	if group == nil {
		return 0, ErrGroupNotReady
	}

	ctx, span := o.tracer.Start(ctx, "promotion.ExecutePromotions")
	defer span.End()

	o.mu.Lock()
	batch := o.pending
	o.pending = nil
	o.seq++
	batchSeq := o.seq
	for _, p := range batch {
		o.executed[p.RobloxID] = batchSeq
	}
	o.mu.Unlock()
	o.metrics.PendingPromotion.Set(0)
	defer o.finishBatch(batchSeq)

	o.logger.Info("Executing promotions", "count", len(batch), "initiator", initiatorID)

	succeeded := 0
	for i, p := range batch {
		if ctx.Err() != nil {
			o.logger.Warn("Promotion batch cancelled", "remaining", len(batch)-i)
			break
		}

		err := o.promote(ctx, group, p)
		if err != nil {
			o.metrics.Promotions.WithLabelValues("error").Inc()
			o.logger.Error("Failed to promote user", "robloxID", p.RobloxID, "name", p.Name, "newRank", p.NewRank, "error", err)
			continue
		}

		succeeded++
		o.metrics.Promotions.WithLabelValues("ok").Inc()
		o.auditor.Record(ctx, audit.Entry{
			Action:   audit.ActionPromotion,
			ActorID:  initiatorID,
			TargetID: p.RobloxID,
			Detail:   fmt.Sprintf("%s: %s -> %s", p.Name, p.CurrentRank, p.NewRank),
		})
	}

	span.SetAttributes(attribute.Int("promotion.attempted", len(batch)), attribute.Int("promotion.succeeded", succeeded))
	o.logger.Info("Promotions executed", "succeeded", succeeded, "failed", len(batch)-succeeded)

	// Always post a fresh message after a batch rather than editing the old one
	o.mu.Lock()
	o.lastMessageID = ""
	o.mu.Unlock()
	if err := o.UpdatePromotionEmbed(ctx); err != nil {
		o.logger.Error("Failed to update promotion message", "error", err)
	}

	return succeeded, nil
}

// promote applies one rank change, refreshing credentials and retrying once if they expired
func (o *Orchestrator) promote(ctx context.Context, group GroupDirectory, p PendingPromotion) error {
	userID, err := strconv.ParseInt(p.RobloxID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid roblox id %q", p.RobloxID)
	}

	err = o.updateMember(ctx, group, userID, p.RoleID)
	if !roblox.IsAuthExpired(err) {
		return err
	}

	o.logger.Info("Roblox session token expired, refreshing", "robloxID", p.RobloxID)
	refreshCtx, cancel := context.WithTimeout(ctx, o.timeout)
	err = group.RefreshAuth(refreshCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to refresh credentials: %w", err)
	}
	return o.updateMember(ctx, group, userID, p.RoleID)
}

func (o *Orchestrator) updateMember(ctx context.Context, group GroupDirectory, userID, roleID int64) error {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return group.UpdateMember(callCtx, userID, roleID)
}

func (o *Orchestrator) finishBatch(batchSeq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	o.finished[batchSeq] = o.seq
}
