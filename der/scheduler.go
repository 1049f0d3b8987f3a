package der

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	gateway "github.com/marrasen/iec61850-gateway"
)

// maxConcurrentTargets bounds the setpoints applied in parallel per tick.
const maxConcurrentTargets = 4

var (
	ErrNotConfigured  = errors.New("scheduler not configured")
	ErrAlreadyRunning = errors.New("scheduler already running")
)

// Scheduler implements gateway.Scheduler.
type Scheduler struct {
	log *slog.Logger
	now func() time.Time

	mu         sync.Mutex
	resolution time.Duration
	schedules  []*Schedule
	sink       gateway.SetpointSink
	applied    map[string]Slot
	cancel     context.CancelFunc
	done       chan struct{}
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.log = l
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		log:     slog.Default(),
		now:     time.Now,
		applied: make(map[string]Slot),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "der"))
	return s
}

// Configure loads cfg. It fails while the scheduler runs.
func (s *Scheduler) Configure(cfg *gateway.SchedulerConfig, sink gateway.SetpointSink) error {
	if cfg == nil || sink == nil {
		return errors.New("scheduler config and sink are required")
	}
	schedules, err := NewSchedules(cfg, s.now())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}
	s.resolution = cfg.ResolutionDuration()
	s.schedules = schedules
	s.sink = sink
	s.applied = make(map[string]Slot)
	return nil
}

// Schedules returns the configured schedules in priority order.
func (s *Scheduler) Schedules() []*Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Schedule(nil), s.schedules...)
}

// Start evaluates the schedules once and then on every resolution tick until
// ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.sink == nil {
		s.mu.Unlock()
		return ErrNotConfigured
	}
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done, resolution := s.done, s.resolution
	s.mu.Unlock()

	s.log.Info("scheduler started", slog.Int("schedules", len(s.Schedules())), slog.Duration("resolution", resolution))
	go func() {
		defer close(done)
		ticker := time.NewTicker(resolution)
		defer ticker.Stop()
		s.Tick(ctx)
		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop ends execution and waits for the running tick. Calling Stop on a
// scheduler that does not run is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("scheduler stopped")
}

// Tick applies every target whose winning slot changed since the last tick.
// It returns the number of setpoints applied.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()
	s.mu.Lock()
	sink := s.sink
	var due []Slot
	for target, slot := range Resolve(s.schedules, now) {
		last, ok := s.applied[target]
		if ok && last.Schedule == slot.Schedule && last.Since.Equal(slot.Since) {
			continue
		}
		due = append(due, slot)
	}
	s.mu.Unlock()
	if sink == nil || len(due) == 0 {
		return 0
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Target < due[j].Target })

	var (
		mu      sync.Mutex
		applied int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentTargets)
	for _, slot := range due {
		g.Go(func() error {
			log := s.log.With(slog.String("id", slot.Target), slog.String("schedule", slot.Schedule), slog.Int("slot", slot.Index))
			if err := sink.ApplySetpoint(gctx, slot.Target, slot.Value, slot.Since); err != nil {
				// Retried on the next tick.
				log.Warn("setpoint failed", slog.Any("error", err))
				return nil
			}
			log.Info("setpoint applied", slog.Any("value", slot.Value))
			mu.Lock()
			s.markApplied(slot)
			applied++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return applied
}

func (s *Scheduler) markApplied(slot Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied[slot.Target] = slot
}

// Applied returns the last slot applied to target.
func (s *Scheduler) Applied(target string) (Slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.applied[target]
	return slot, ok
}
