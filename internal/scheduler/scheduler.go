package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/forwhat-rbx/clannr-sub000/internal/metrics"
	"github.com/forwhat-rbx/clannr-sub000/internal/promotion"
)

// State is the scheduler's lifecycle position
type State int32

const (
	WaitingForDependency State = iota
	Ready
	Periodic
	Failed
)

func (s State) String() string {
	switch s {
	case WaitingForDependency:
		return "waiting_for_dependency"
	case Ready:
		return "ready"
	case Periodic:
		return "periodic"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// GroupLoader produces the Roblox group handle the orchestrator needs
type GroupLoader func(ctx context.Context) (promotion.GroupDirectory, error)

// Orchestrator is the part of promotion.Orchestrator the scheduler drives
type Orchestrator interface {
	AttachGroup(g promotion.GroupDirectory)
	CheckForPromotions(ctx context.Context) error
	UpdatePromotionEmbed(ctx context.Context) error
}

// Config holds the scheduler's timing
type Config struct {
	ScanInterval    time.Duration
	RefreshInterval time.Duration
	RetryDelay      time.Duration
	MaxRetries      int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Scheduler waits for the Roblox group to load, then runs periodic promotion
// scans and status message refreshes.
type Scheduler struct {
	orch   Orchestrator
	load   GroupLoader
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	state State

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Scheduler in WaitingForDependency
func New(orch Orchestrator, load GroupLoader, cfg Config) *Scheduler {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 30 * time.Minute
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		orch:     orch,
		load:     load,
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
	s.setState(WaitingForDependency)
	return s
}

// State returns the current state
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.cfg.Metrics.SchedulerState.Set(float64(state))
	s.logger.Debug("Scheduler state changed", "state", state)
}

// Run blocks until ctx is cancelled or Stop is called. A group that never
// loads leaves the scheduler Failed; Run then returns without scanning.
func (s *Scheduler) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	group, ok := s.waitForGroup(ctx)
	if !ok {
		return
	}

	s.orch.AttachGroup(group)
	s.setState(Ready)
	s.logger.Info("Roblox group ready, starting promotion scheduler",
		"scanInterval", s.cfg.ScanInterval, "refreshInterval", s.cfg.RefreshInterval)

	s.scan(ctx)
	s.setState(Periodic)

	scanTicker := time.NewTicker(s.cfg.ScanInterval)
	defer scanTicker.Stop()
	refreshTicker := time.NewTicker(s.cfg.RefreshInterval)
	defer refreshTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped (context cancelled)")
			return
		case <-s.stopChan:
			s.logger.Info("Scheduler stopped")
			return
		case <-scanTicker.C:
			s.scan(ctx)
		case <-refreshTicker.C:
			if err := s.orch.UpdatePromotionEmbed(ctx); err != nil {
				s.logger.Error("Failed to refresh promotion message", "error", err)
			}
		}
	}
}

// waitForGroup calls the loader until it succeeds or MaxRetries attempts fail
func (s *Scheduler) waitForGroup(ctx context.Context) (promotion.GroupDirectory, bool) {
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		group, err := s.load(ctx)
		if err == nil {
			return group, true
		}
		s.logger.Warn("Roblox group not available yet", "attempt", attempt, "maxRetries", s.cfg.MaxRetries, "error", err)

		if attempt == s.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-s.stopChan:
			return nil, false
		case <-time.After(s.cfg.RetryDelay):
		}
	}

	s.setState(Failed)
	s.logger.Error("Giving up on Roblox group, promotions disabled", "attempts", s.cfg.MaxRetries, "fatal", true)
	return nil, false
}

func (s *Scheduler) scan(ctx context.Context) {
	err := s.orch.CheckForPromotions(ctx)
	if err != nil && !errors.Is(err, promotion.ErrScanInProgress) {
		s.logger.Error("Scheduled promotion scan failed", "error", err)
	}
}

// Stop signals Run to return and waits for it
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}
