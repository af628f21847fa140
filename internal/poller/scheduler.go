package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpalmerr/pulseproxy/internal/logging"
	"github.com/jpalmerr/pulseproxy/internal/store"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultInterval is the refresh period when none is configured.
const DefaultInterval = 5 * time.Second

// ErrEmptyRound is returned by [Scheduler.RefreshNow] when a round produced
// no results. The previous snapshot is kept.
var ErrEmptyRound = errors.New("refresh produced no results")

// Scheduler runs the refresh loop: a full fan-out on a fixed period whose
// snapshot replaces the cached one.
//
// Scheduler is the only writer of its store. Rounds are serialized, so a
// round triggered on demand via [Scheduler.RefreshNow] never overlaps a
// scheduled one, and a scheduled tick that arrives while a round is still
// running is skipped.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Scheduler struct {
	targets        []TargetInfo
	interval       time.Duration
	maxConcurrency int
	prober         *Prober
	store          store.Store
	logger         *zap.Logger

	// refreshMu serializes rounds
	refreshMu sync.Mutex

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// NewScheduler creates a [Scheduler] that probes targets every interval
// with at most maxConcurrency requests in flight and writes into st.
//
// The scheduler must be started with [Scheduler.Start] and stopped with
// [Scheduler.Stop]. RefreshNow works without Start.
func NewScheduler(targets []TargetInfo, interval time.Duration, maxConcurrency int, prober *Prober, st store.Store, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		targets:        targets,
		interval:       interval,
		maxConcurrency: maxConcurrency,
		prober:         prober,
		store:          st,
		logger:         logger,
	}
}

// Interval returns the refresh period.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start runs one round immediately, then one every interval until Stop is
// called or ctx is cancelled.
//
// Start is non-blocking. It is idempotent; calls after the first are no-ops,
// as is Start after Stop. If ctx is nil, context.Background() is used.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, s.cancel = context.WithCancel(ctx)

	cronLog := logging.CronLogger(s.logger)
	job := cron.NewChain(
		cron.Recover(cronLog),
		cron.SkipIfStillRunning(cronLog),
	).Then(cron.FuncJob(func() { s.scheduledRound(ctx) }))

	s.cron = cron.New(cron.WithLogger(cronLog))
	s.cron.Schedule(cron.Every(s.interval), job)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		job.Run()
	}()
	s.cron.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()

	s.logger.Info("scheduler_started",
		zap.Int("targets", len(s.targets)),
		zap.Duration("interval", s.interval),
		zap.Int("max_concurrency", s.maxConcurrency),
	)
}

// Stop cancels in-flight probes and blocks until the running round, if
// any, has finished. Stop is idempotent and safe to call before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) scheduledRound(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.RefreshNow(ctx); err != nil {
		s.logger.Warn("refresh_failed", zap.Error(err))
	}
}

// RefreshNow runs one round and installs its snapshot.
//
// If another round is in progress RefreshNow waits for it. When the cached
// snapshot was taken (completed) after this call was made, that snapshot is
// returned and no new round starts. Such a round may have begun before the
// call, which cache-aside callers accept: they only need data newer than
// their request. On failure the previous snapshot stays in place and is
// returned together with the error.
func (s *Scheduler) RefreshNow(ctx context.Context) (store.Snapshot, error) {
	requested := time.Now()

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	previous, populated := s.store.Latest()
	// TakenAt is the completion time of the round that produced previous
	if populated && !previous.TakenAt.Before(requested) {
		return previous, nil
	}

	start := time.Now()
	snap := s.prober.CheckAll(ctx, s.targets, s.maxConcurrency)

	if err := ctx.Err(); err != nil {
		return previous, fmt.Errorf("refresh cancelled: %w", err)
	}
	if !s.store.Replace(snap) {
		return previous, ErrEmptyRound
	}

	up, down := snap.Counts()
	s.logger.Debug("refresh_complete",
		zap.Int("up", up),
		zap.Int("down", down),
		zap.Duration("took", time.Since(start)),
	)
	if populated {
		s.logTransitions(previous, snap)
	}
	return snap, nil
}

// logTransitions logs each target whose health flipped between rounds.
func (s *Scheduler) logTransitions(prev, next store.Snapshot) {
	for _, name := range next.Names() {
		before, ok := prev.Results[name]
		after := next.Results[name]
		if !ok || before.Success == after.Success {
			continue
		}
		s.logger.Info("target_status_changed",
			zap.String("target", name),
			zap.Bool("success", after.Success),
			zap.String("error", after.Error),
		)
	}
}
