package notifications

import (
	"time"

	"github.com/replyforge/mentionbot/internal/supervisor"
)

// Digest is the daily operational summary mailed to the operator.
type Digest struct {
	Account     string
	Metrics     supervisor.Snapshot
	GeneratedAt time.Time
}

// NotificationInterface defines the contract for operator notifications.
type NotificationInterface interface {
	SendDigest(digest *Digest) error
	AlertErrorStreak(streak int, lastErr error)
}
