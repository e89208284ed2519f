package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyforge/mentionbot/internal/config"
	"github.com/replyforge/mentionbot/internal/models"
)

type scriptedRunner struct {
	results []cycleResult
	calls   int
}

type cycleResult struct {
	batch *models.Batch
	err   error
}

func (r *scriptedRunner) RunCycle(context.Context) (*models.Batch, error) {
	res := r.results[r.calls%len(r.results)]
	r.calls++
	return res.batch, res.err
}

type fakeRefresher struct{ calls int }

func (f *fakeRefresher) Refresh(context.Context) error {
	f.calls++
	return nil
}

type fakeAlerter struct {
	streaks []int
}

func (f *fakeAlerter) AlertErrorStreak(streak int, _ error) {
	f.streaks = append(f.streaks, streak)
}

func loopConfig() *config.Config {
	return &config.Config{
		EmptyCycleBaseDelay: time.Second,
		EmptyCycleMaxDelay:  10 * time.Second,
		RateLimitCooldown:   30 * time.Second,
		NetworkCooldown:     60 * time.Second,
		AuthRetryDelay:      5 * time.Second,
		ExceptionBaseDelay:  time.Second,
		ExceptionMaxDelay:   time.Minute,
		AlertErrorStreak:    2,
	}
}

func newTestLoop(cfg *config.Config, runner CycleRunner) (*Loop, *fakeRefresher, *[]time.Duration) {
	refresher := &fakeRefresher{}
	l := NewLoop(cfg, runner, refresher, &fakeAlerter{})
	var slept []time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return l, refresher, &slept
}

func emptyBatch() *models.Batch { return &models.Batch{} }

func productiveBatch() *models.Batch {
	return &models.Batch{Mentions: []models.Mention{{Message: models.Message{ID: "1"}}}}
}

func TestEmptyDelayMonotonicCapped(t *testing.T) {
	l := NewLoop(loopConfig(), nil, nil, nil)

	prev := time.Duration(0)
	for streak := 1; streak <= 8; streak++ {
		d := l.emptyDelay(streak)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 10*time.Second)
		prev = d
	}
	assert.Equal(t, time.Second, l.emptyDelay(1))
	assert.Equal(t, 10*time.Second, l.emptyDelay(10))
}

func TestAfterCycleEmptyStreakGrowsAndResets(t *testing.T) {
	l, _, slept := newTestLoop(loopConfig(), nil)
	ctx := context.Background()

	require.NoError(t, l.afterCycle(ctx, emptyBatch(), nil))
	require.NoError(t, l.afterCycle(ctx, emptyBatch(), nil))
	require.NoError(t, l.afterCycle(ctx, emptyBatch(), nil))
	require.Len(t, *slept, 3)
	assert.Equal(t, time.Second, (*slept)[0])
	assert.Equal(t, 2*time.Second, (*slept)[1])
	assert.Equal(t, 4*time.Second, (*slept)[2])

	require.NoError(t, l.afterCycle(ctx, productiveBatch(), nil))
	assert.Zero(t, l.emptyStreak)

	require.NoError(t, l.afterCycle(ctx, emptyBatch(), nil))
	assert.Equal(t, time.Second, (*slept)[3], "streak restarts after a productive cycle")
}

func TestAfterCycleAuthTriggersRefresh(t *testing.T) {
	l, refresher, slept := newTestLoop(loopConfig(), nil)

	batch := &models.Batch{HasAuthError: true}
	require.NoError(t, l.afterCycle(context.Background(), batch, nil))
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, 5*time.Second, (*slept)[0])
}

func TestAfterCycleCooldowns(t *testing.T) {
	l, _, slept := newTestLoop(loopConfig(), nil)
	ctx := context.Background()

	require.NoError(t, l.afterCycle(ctx, &models.Batch{HasRateLimitError: true}, nil))
	require.NoError(t, l.afterCycle(ctx, &models.Batch{HasNetworkError: true}, nil))
	assert.Equal(t, 30*time.Second, (*slept)[0])
	assert.Equal(t, 60*time.Second, (*slept)[1])
}

func TestAfterCycleExceptionRefreshesAndAlerts(t *testing.T) {
	cfg := loopConfig()
	refresher := &fakeRefresher{}
	alerter := &fakeAlerter{}
	l := NewLoop(cfg, nil, refresher, alerter)
	var slept []time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	ctx := context.Background()

	require.NoError(t, l.afterCycle(ctx, nil, errors.New("boom")))
	assert.Equal(t, 1, refresher.calls)
	assert.Empty(t, alerter.streaks)
	assert.GreaterOrEqual(t, slept[0], time.Second)

	require.NoError(t, l.afterCycle(ctx, nil, errors.New("boom")))
	assert.Equal(t, []int{2}, alerter.streaks, "alert fires once at the configured streak")
	assert.GreaterOrEqual(t, slept[1], 2*time.Second, "exception backoff grows")
}

func TestRunEarlyExit(t *testing.T) {
	runner := &scriptedRunner{results: []cycleResult{{batch: productiveBatch()}}}
	cfg := loopConfig()
	cfg.EarlyExit = true
	l, _, _ := newTestLoop(cfg, runner)

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, 1, runner.calls)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	runner := &scriptedRunner{results: []cycleResult{{batch: emptyBatch()}}}
	l, _, _ := newTestLoop(loopConfig(), runner)

	ctx, cancel := context.WithCancel(context.Background())
	l.sleep = func(context.Context, time.Duration) error {
		cancel()
		return nil
	}
	err := l.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
