package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/odoostore/internal/lock"
	"github.com/xelth-com/odoostore/internal/models"
	"github.com/xelth-com/odoostore/internal/services/promotion"
	"github.com/xelth-com/odoostore/internal/services/staging"
	"go.uber.org/zap"
)

// fakePasses records every pass it runs and can fail a named one
type fakePasses struct {
	mu     sync.Mutex
	calls  []string
	fail   map[string]error
	during func(name string)
}

func (f *fakePasses) record(name string) error {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	err := f.fail[name]
	f.mu.Unlock()
	if f.during != nil {
		f.during(name)
	}
	return err
}

func (f *fakePasses) FetchFromOdoo(_ context.Context, _ []string, opts staging.FetchOptions) (*models.SyncLog, error) {
	name := "fetch"
	if opts.Incremental {
		name = "fetch-incremental"
	}
	return &models.SyncLog{}, f.record(name)
}

func (f *fakePasses) ImportCategories(context.Context, []int64) (*models.ImportResult, error) {
	return &models.ImportResult{}, f.record(JobCategories)
}

func (f *fakePasses) ImportProducts(context.Context, []int64) (*models.ImportResult, error) {
	return &models.ImportResult{}, f.record(JobProducts)
}

func (f *fakePasses) ImportPromotions(context.Context, []int64) (*promotion.Result, error) {
	return &promotion.Result{}, f.record(JobPromotions)
}

func (f *fakePasses) DeduplicatePromotions(context.Context) (*promotion.DedupeResult, error) {
	return &promotion.DedupeResult{}, f.record(JobDedupe)
}

func (f *fakePasses) PushPending(context.Context) (*models.StockPushSession, error) {
	return nil, f.record(JobStockPush)
}

func newRunner(f *fakePasses, withPush bool) (*Runner, *lock.MemoryLocker) {
	locker := lock.NewMemoryLocker()
	var pusher StockPusher
	if withPush {
		pusher = f
	}
	return NewRunner(f, f, f, pusher, locker, zap.NewNop()), locker
}

func TestRunPipeline_RunsEveryStepInOrder(t *testing.T) {
	f := &fakePasses{}
	r, _ := newRunner(f, true)

	require.NoError(t, r.RunPipeline(context.Background(), true))
	assert.Equal(t, []string{"fetch-incremental", JobCategories, JobProducts, JobPromotions, JobDedupe, JobStockPush}, f.calls)
}

func TestRunPipeline_ContinuesAfterFailure(t *testing.T) {
	boom := errors.New("odoo unreachable")
	f := &fakePasses{fail: map[string]error{"fetch": boom, JobProducts: errors.New("db down")}}
	r, _ := newRunner(f, false)

	err := r.RunPipeline(context.Background(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, []string{"fetch", JobCategories, JobProducts, JobPromotions, JobDedupe}, f.calls)
}

func TestRunner_HeldLeaseIsRejected(t *testing.T) {
	f := &fakePasses{}
	r, locker := newRunner(f, true)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, JobProducts, time.Minute)
	require.NoError(t, err)

	_, err = r.ImportProducts(ctx, nil)
	assert.ErrorIs(t, err, lock.ErrLocked)
	assert.Empty(t, f.calls)

	// other passes are unaffected
	_, err = r.ImportCategories(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, lease.Release(ctx))
	_, err = r.ImportProducts(ctx, nil)
	require.NoError(t, err)
}

func TestRunner_ReleasesLeaseAfterFailure(t *testing.T) {
	f := &fakePasses{fail: map[string]error{JobDedupe: errors.New("boom")}}
	r, _ := newRunner(f, true)
	ctx := context.Background()

	_, err := r.DeduplicatePromotions(ctx)
	require.Error(t, err)
	_, err = r.DeduplicatePromotions(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, lock.ErrLocked)
}

func TestRunner_ConcurrentRunsOfSamePass(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := &fakePasses{during: func(name string) {
		if name == JobStockPush {
			close(entered)
			<-release
		}
	}}
	r, _ := newRunner(f, true)
	ctx := context.Background()

	done := make(chan error)
	go func() {
		_, err := r.PushStock(ctx)
		done <- err
	}()
	<-entered

	_, err := r.PushStock(ctx)
	assert.ErrorIs(t, err, lock.ErrLocked)

	close(release)
	require.NoError(t, <-done)
}

func TestRunner_PushDisabled(t *testing.T) {
	f := &fakePasses{}
	r, _ := newRunner(f, false)

	_, err := r.PushStock(context.Background())
	assert.ErrorIs(t, err, ErrPushDisabled)
}

func TestRunner_RenewsLeaseDuringLongPass(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := &fakePasses{during: func(name string) {
		if name == JobCategories {
			close(entered)
			<-release
		}
	}}
	r, locker := newRunner(f, false)
	r.leaseTTL = 60 * time.Millisecond
	ctx := context.Background()

	done := make(chan error)
	go func() {
		_, err := r.ImportCategories(ctx, nil)
		done <- err
	}()
	<-entered

	// well past the original TTL the running pass still holds its lease
	time.Sleep(200 * time.Millisecond)
	_, err := locker.Acquire(ctx, JobCategories, time.Minute)
	assert.ErrorIs(t, err, lock.ErrLocked)

	close(release)
	require.NoError(t, <-done)
	lease, err := locker.Acquire(ctx, JobCategories, time.Minute)
	require.NoError(t, err, "released once the pass returned")
	require.NoError(t, lease.Release(ctx))
}
