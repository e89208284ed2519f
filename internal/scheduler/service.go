// Package scheduler runs the periodic digest job.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/replyforge/mentionbot/internal/config"
	"github.com/replyforge/mentionbot/internal/notifications"
	"github.com/replyforge/mentionbot/internal/supervisor"
)

// Service mails the operational digest on the configured cron schedule.
type Service struct {
	config   *config.Config
	notifier notifications.NotificationInterface
	metrics  *supervisor.Metrics
	account  string
	cron     *cron.Cron
}

// NewService creates a new scheduler service.
func NewService(cfg *config.Config, notifier notifications.NotificationInterface, metrics *supervisor.Metrics, account string) *Service {
	return &Service{
		config:   cfg,
		notifier: notifier,
		metrics:  metrics,
		account:  account,
		cron:     cron.New(cron.WithSeconds()),
	}
}

// Start begins the digest schedule.
func (s *Service) Start() error {
	expr := s.config.DigestSchedule
	if expr == "" {
		// Daily at 9 AM UTC
		expr = "0 0 9 * * *"
	}

	_, err := s.cron.AddFunc(expr, func() {
		logrus.Info("Sending scheduled digest")
		digest := &notifications.Digest{
			Account:     s.account,
			Metrics:     s.metrics.Snapshot(),
			GeneratedAt: time.Now().UTC(),
		}
		if err := s.notifier.SendDigest(digest); err != nil {
			logrus.Errorf("Scheduled digest failed: %v", err)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with digest schedule %q", expr)
	return nil
}

// Stop stops the scheduler.
func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		logrus.Info("Scheduler stopped")
	}
}
