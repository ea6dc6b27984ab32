package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xelth-com/odoostore/internal/lock"
	"go.uber.org/zap"
)

// DefaultInitialDelay is the pause before the first scheduled run
const DefaultInitialDelay = 5 * time.Second

// Pipeline is what the scheduler runs on every tick
type Pipeline interface {
	RunPipeline(ctx context.Context, incremental bool) error
}

// Scheduler runs the incremental pipeline on a fixed interval
type Scheduler struct {
	pipeline     Pipeline
	interval     time.Duration
	initialDelay time.Duration
	log          *zap.Logger

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
}

// NewScheduler creates a scheduler; interval <= 0 disables it
func NewScheduler(pipeline Pipeline, interval time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		pipeline:     pipeline,
		interval:     interval,
		initialDelay: DefaultInitialDelay,
		log:          log.Named("scheduler"),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start begins the background loop
func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	if s.interval <= 0 {
		s.log.Info("scheduled sync disabled")
		close(s.done)
		return
	}

	go func() {
		defer close(s.done)
		s.log.Info("scheduled sync started", zap.Duration("interval", s.interval))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-s.stop:
				cancel()
			case <-ctx.Done():
			}
		}()

		select {
		case <-time.After(s.initialDelay):
		case <-s.stop:
			return
		}
		s.tick(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.tick(ctx)
			case <-s.stop:
				s.log.Info("scheduled sync stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) tick(ctx context.Context) {
	err := s.pipeline.RunPipeline(ctx, true)
	switch {
	case err == nil:
	case errors.Is(err, lock.ErrLocked):
		s.log.Info("previous run still in progress, skipping tick")
	default:
		s.log.Warn("scheduled sync finished with errors", zap.Error(err))
	}
}

// Stop halts the loop and waits for a running pass to return
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
}
