package supervisor

import (
	"sync"
	"time"

	"github.com/replyforge/mentionbot/internal/models"
)

// Snapshot is a point-in-time copy of the pipeline counters, exposed as JSON
// on the metrics endpoint and in the operator digest.
type Snapshot struct {
	CyclesTotal       int       `json:"cycles_total"`
	MentionsFetched   int       `json:"mentions_fetched"`
	MentionsValid     int       `json:"mentions_valid"`
	MentionsResolved  int       `json:"mentions_resolved"`
	MentionsPostponed int       `json:"mentions_postponed"`
	RateLimitCycles   int       `json:"rate_limit_cycles"`
	AuthErrorCycles   int       `json:"auth_error_cycles"`
	NetworkCycles     int       `json:"network_cycles"`
	LastCycleAt       time.Time `json:"last_cycle_at"`
	LastSinceID       string    `json:"last_since_id"`
}

// Metrics holds the pipeline counters.
type Metrics struct {
	mu   sync.RWMutex
	data Snapshot
}

// NewMetrics creates zeroed metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveCycle folds one finished batch into the counters.
func (m *Metrics) ObserveCycle(batch *models.Batch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.CyclesTotal++
	m.data.MentionsFetched += batch.NumFetched
	m.data.MentionsValid += batch.NumValid
	m.data.MentionsResolved += len(batch.Mentions)
	m.data.MentionsPostponed += batch.NumPostponed
	if batch.HasRateLimitError {
		m.data.RateLimitCycles++
	}
	if batch.HasAuthError {
		m.data.AuthErrorCycles++
	}
	if batch.HasNetworkError {
		m.data.NetworkCycles++
	}
	m.data.LastCycleAt = time.Now()
	m.data.LastSinceID = batch.SinceID
}

// Snapshot returns a copy safe to serialize.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data
}
