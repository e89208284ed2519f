package supervisor

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/replyforge/mentionbot/internal/config"
	"github.com/replyforge/mentionbot/internal/models"
)

// CycleRunner runs one pipeline cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*models.Batch, error)
}

// Refresher re-acquires platform credentials.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Alerter notifies the operator about sustained failure.
type Alerter interface {
	AlertErrorStreak(streak int, lastErr error)
}

// Loop runs cycles forever, choosing the delay between cycles from the
// previous cycle's outcome. It terminates only on context cancellation or,
// in debug runs, after the first cycle.
type Loop struct {
	cfg       *config.Config
	runner    CycleRunner
	refresher Refresher
	alerter   Alerter

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error

	emptyStreak int
	errStreak   int
}

// NewLoop creates a retry loop around the supervisor.
func NewLoop(cfg *config.Config, runner CycleRunner, refresher Refresher, alerter Alerter) *Loop {
	return &Loop{
		cfg:       cfg,
		runner:    runner,
		refresher: refresher,
		alerter:   alerter,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes cycles until the context is cancelled. With EarlyExit set it
// returns after a single cycle.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := l.runner.RunCycle(ctx)
		if err := l.afterCycle(ctx, batch, err); err != nil {
			return err
		}

		if l.cfg.EarlyExit {
			logrus.Info("Early exit requested, stopping after one cycle")
			return nil
		}
	}
}

// afterCycle applies the backoff policy for one finished cycle.
func (l *Loop) afterCycle(ctx context.Context, batch *models.Batch, cycleErr error) error {
	switch {
	case cycleErr != nil:
		l.errStreak++
		logrus.Errorf("Cycle failed (streak %d): %v", l.errStreak, cycleErr)
		l.maybeAlert(cycleErr)
		if err := l.sleep(ctx, l.exceptionDelay(l.errStreak)); err != nil {
			return err
		}
		// The failure may be an expired-credential symptom that was not
		// classified as auth.
		l.refresh(ctx)

	case batch.HasAuthError:
		l.errStreak++
		l.maybeAlert(nil)
		if err := l.sleep(ctx, l.cfg.AuthRetryDelay); err != nil {
			return err
		}
		l.refresh(ctx)

	case batch.HasRateLimitError:
		logrus.Infof("Rate limited, cooling down %v", l.cfg.RateLimitCooldown)
		if err := l.sleep(ctx, l.cfg.RateLimitCooldown); err != nil {
			return err
		}

	case batch.HasNetworkError:
		logrus.Infof("Network trouble, cooling down %v", l.cfg.NetworkCooldown)
		if err := l.sleep(ctx, l.cfg.NetworkCooldown); err != nil {
			return err
		}

	case len(batch.Mentions) == 0:
		l.emptyStreak++
		if err := l.sleep(ctx, l.emptyDelay(l.emptyStreak)); err != nil {
			return err
		}

	default:
		if batch.Productive() {
			l.emptyStreak = 0
			l.errStreak = 0
		}
	}
	return nil
}

func (l *Loop) refresh(ctx context.Context) {
	if err := l.refresher.Refresh(ctx); err != nil {
		logrus.Errorf("Credential refresh failed: %v", err)
	}
}

func (l *Loop) maybeAlert(lastErr error) {
	if l.alerter == nil || l.cfg.AlertErrorStreak <= 0 {
		return
	}
	if l.errStreak == l.cfg.AlertErrorStreak {
		l.alerter.AlertErrorStreak(l.errStreak, lastErr)
	}
}

// emptyDelay grows exponentially with the consecutive-empty-cycle count,
// capped at the configured maximum.
func (l *Loop) emptyDelay(streak int) time.Duration {
	return backoff(l.cfg.EmptyCycleBaseDelay, l.cfg.EmptyCycleMaxDelay, streak)
}

// exceptionDelay is the exponential backoff for crashed cycles, with up to
// 50% jitter to avoid lockstep retries.
func (l *Loop) exceptionDelay(streak int) time.Duration {
	d := backoff(l.cfg.ExceptionBaseDelay, l.cfg.ExceptionMaxDelay, streak)
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

func backoff(base, max time.Duration, streak int) time.Duration {
	if streak < 1 {
		streak = 1
	}
	d := base
	for i := 1; i < streak; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
