package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type countingPipeline struct {
	runs        atomic.Int32
	incremental atomic.Bool
}

func (p *countingPipeline) RunPipeline(_ context.Context, incremental bool) error {
	p.runs.Add(1)
	p.incremental.Store(incremental)
	return nil
}

func TestScheduler_RunsOnInterval(t *testing.T) {
	p := &countingPipeline{}
	s := NewScheduler(p, 10*time.Millisecond, zap.NewNop())
	s.initialDelay = time.Millisecond

	s.Start()
	assert.Eventually(t, func() bool { return p.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	assert.True(t, p.incremental.Load())
	after := p.runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, p.runs.Load(), "no runs after Stop")
}

func TestScheduler_Disabled(t *testing.T) {
	p := &countingPipeline{}
	s := NewScheduler(p, 0, zap.NewNop())

	s.Start()
	s.Stop()
	assert.Zero(t, p.runs.Load())
}

func TestScheduler_StopBeforeFirstRun(t *testing.T) {
	p := &countingPipeline{}
	s := NewScheduler(p, time.Minute, zap.NewNop())
	s.initialDelay = time.Hour

	s.Start()
	s.Stop()
	s.Stop()
	assert.Zero(t, p.runs.Load())
}
