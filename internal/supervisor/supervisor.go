// Package supervisor drives the ingestion pipeline: it assembles each batch
// from the cache and the platform, runs the filter, scorer and resolver, and
// folds the outcomes back into the per-account watermark.
package supervisor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/replyforge/mentionbot/internal/boterr"
	"github.com/replyforge/mentionbot/internal/config"
	"github.com/replyforge/mentionbot/internal/ids"
	"github.com/replyforge/mentionbot/internal/models"
	"github.com/replyforge/mentionbot/internal/platform"
	"github.com/replyforge/mentionbot/internal/resolver"
)

// Cache is the slice of the mention cache the supervisor uses.
type Cache interface {
	Watermark(ctx context.Context, accountID string) (models.Watermark, error)
	SetWatermark(ctx context.Context, accountID string, w models.Watermark) error
	ReadMentionsSince(ctx context.Context, accountID, sinceID string) ([]models.Message, string, error)
	AppendRawMentions(ctx context.Context, accountID string, messages []models.Message) error
	UpsertMessages(ctx context.Context, messages []models.Message) error
	UpsertUsers(ctx context.Context, users []models.User) error
	Interaction(ctx context.Context, id string) (*models.InteractionRecord, error)
}

// Fetcher is the slice of the platform client the supervisor uses.
type Fetcher interface {
	FetchMentionsPage(ctx context.Context, accountID, sinceID, pageToken string) (*platform.Page, error)
	FetchManyByID(ctx context.Context, ids []string) (*platform.Page, error)
}

// Checker decides mention validity (the validity filter).
type Checker interface {
	Check(ctx context.Context, m models.Mention, advanceIfSkipped func(id string)) (models.Mention, bool, error)
}

// Ranker scores and cuts the batch (the priority scorer).
type Ranker interface {
	Rank(ctx context.Context, mentions []models.Mention) (batch []models.Mention, postponed []string, err error)
}

// BatchResolver resolves a ranked batch (the mention resolver).
type BatchResolver interface {
	ResolveBatch(ctx context.Context, batch *models.Batch) ([]resolver.Outcome, error)
}

// Supervisor runs one pipeline cycle at a time for a single bot account.
type Supervisor struct {
	cfg      *config.Config
	cache    Cache
	fetcher  Fetcher
	checker  Checker
	ranker   Ranker
	resolver BatchResolver
	metrics  *Metrics

	accountID string
}

// New creates a Supervisor for the given bot account.
func New(cfg *config.Config, cache Cache, fetcher Fetcher, checker Checker, ranker Ranker, res BatchResolver, accountID string) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		cache:     cache,
		fetcher:   fetcher,
		checker:   checker,
		ranker:    ranker,
		resolver:  res,
		metrics:   NewMetrics(),
		accountID: accountID,
	}
}

// Metrics returns the supervisor's counters.
func (s *Supervisor) Metrics() *Metrics {
	return s.metrics
}

// RunCycle executes one full cycle and returns its batch state. Classified
// upstream conditions (rate limit, auth, network) are reported through the
// batch flags rather than the error; the error is reserved for unclassified
// failures that should abort and back off.
func (s *Supervisor) RunCycle(ctx context.Context) (*models.Batch, error) {
	batch := &models.Batch{
		Users:    map[string]models.User{},
		Messages: map[string]models.Message{},
	}
	defer s.metrics.ObserveCycle(batch)

	sinceID, err := s.startingSinceID(ctx)
	if err != nil {
		return batch, err
	}
	batch.SinceID = sinceID

	messages, err := s.fetch(ctx, batch)
	if err != nil {
		if s.flagClassified(batch, err) {
			return batch, nil
		}
		return batch, err
	}
	batch.NumFetched = len(messages)
	if len(messages) == 0 {
		return batch, nil
	}
	logrus.Infof("Cycle fetched %d mention(s) since %q", len(messages), sinceID)

	// Ids definitively skipped by the filter advance the watermark so they
	// never block progress.
	var advanced []string
	advance := func(id string) { advanced = append(advanced, id) }

	var candidates []models.Mention
	for _, msg := range messages {
		enriched, ok, err := s.checker.Check(ctx, models.Mention{Message: msg}, advance)
		if err != nil {
			if s.flagClassified(batch, err) {
				return batch, nil
			}
			return batch, err
		}
		if ok {
			candidates = append(candidates, enriched)
		}
	}
	batch.NumValid = len(candidates)

	candidates, answered, err := s.dedupAnswered(ctx, candidates)
	if err != nil {
		return batch, err
	}
	advanced = append(advanced, answered...)

	ranked, postponed, err := s.ranker.Rank(ctx, candidates)
	if err != nil {
		return batch, err
	}
	batch.Mentions = ranked
	batch.NumCandidates = len(ranked)
	batch.NumPostponed = len(postponed)

	outcomes, err := s.resolver.ResolveBatch(ctx, batch)
	if err != nil {
		return batch, err
	}

	s.fold(batch, outcomes, advanced, postponed)
	if err := s.persistWatermark(ctx, batch); err != nil {
		return batch, err
	}
	return batch, nil
}

// startingSinceID picks the cycle's lower bound: the override when set, the
// empty id (full history) in resolve-all mode, otherwise the durable
// watermark.
func (s *Supervisor) startingSinceID(ctx context.Context) (string, error) {
	if s.cfg.SinceIDOverride != "" {
		return s.cfg.SinceIDOverride, nil
	}
	if s.cfg.ResolveAllMentions {
		return "", nil
	}
	wm, err := s.cache.Watermark(ctx, s.accountID)
	if err != nil {
		return "", fmt.Errorf("loading watermark: %w", err)
	}
	return wm.SinceID, nil
}

// fetch collects this cycle's raw mentions: the per-account cache first,
// then upstream pages beyond what the cache already had. In debug-ids mode
// the configured message ids are fetched directly instead of the timeline.
func (s *Supervisor) fetch(ctx context.Context, batch *models.Batch) ([]models.Message, error) {
	if len(s.cfg.DebugMessageIDs) > 0 {
		page, err := s.fetcher.FetchManyByID(ctx, s.cfg.DebugMessageIDs)
		if err != nil {
			return nil, err
		}
		s.absorbPage(ctx, batch, page)
		return page.Messages, nil
	}

	sinceID := batch.SinceID
	var messages []models.Message

	if !s.cfg.NoMentionsCache {
		cached, maxID, err := s.cache.ReadMentionsSince(ctx, s.accountID, sinceID)
		if err != nil {
			return nil, fmt.Errorf("reading cached mentions: %w", err)
		}
		messages = append(messages, cached...)
		sinceID = ids.Max(sinceID, maxID)
	}

	pageToken := ""
	for {
		page, err := s.fetcher.FetchMentionsPage(ctx, s.accountID, sinceID, pageToken)
		if err != nil {
			return nil, err
		}
		if len(page.Messages) > 0 {
			if err := s.cache.AppendRawMentions(ctx, s.accountID, page.Messages); err != nil {
				logrus.Errorf("Caching raw mentions failed: %v", err)
			}
			messages = append(messages, page.Messages...)
		}
		s.absorbPage(ctx, batch, page)
		if page.NextToken == "" {
			break
		}
		pageToken = page.NextToken
	}
	return messages, nil
}

// absorbPage stores a page's expanded messages and users in the cache and
// the batch working set.
func (s *Supervisor) absorbPage(ctx context.Context, batch *models.Batch, page *platform.Page) {
	all := append(append([]models.Message{}, page.Messages...), page.Includes...)
	if err := s.cache.UpsertMessages(ctx, all); err != nil {
		logrus.Errorf("Caching messages failed: %v", err)
	}
	if err := s.cache.UpsertUsers(ctx, page.Users); err != nil {
		logrus.Errorf("Caching users failed: %v", err)
	}
	for _, msg := range all {
		batch.Messages[msg.ID] = msg
	}
	for _, u := range page.Users {
		batch.Users[u.ID] = u
	}
}

// dedupAnswered drops candidates that already have a terminal interaction
// record, returning their ids so the watermark can advance past them. In
// force-reply mode nothing is dropped.
func (s *Supervisor) dedupAnswered(ctx context.Context, candidates []models.Mention) ([]models.Mention, []string, error) {
	if s.cfg.ForceReply {
		return candidates, nil, nil
	}
	kept := candidates[:0]
	var answered []string
	for _, m := range candidates {
		rec, err := s.cache.Interaction(ctx, m.ID)
		if err != nil {
			return nil, nil, err
		}
		if rec != nil && rec.Resolved() {
			answered = append(answered, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	return kept, answered, nil
}

// fold merges every outcome of the cycle into the watermark pair: resolved
// items (answered, finally failed, definitively skipped) advance SinceID via
// max; unresolved and postponed items pull MinUnprocessedID down via min.
// SinceID is then rolled back to min(SinceID, MinUnprocessedID) so the next
// cycle re-attempts everything left unresolved.
func (s *Supervisor) fold(batch *models.Batch, outcomes []resolver.Outcome, advanced, postponed []string) {
	sinceID := batch.SinceID
	minUnprocessed := ""

	for _, id := range advanced {
		sinceID = ids.Max(sinceID, id)
	}
	for _, o := range outcomes {
		if o.Resolved {
			sinceID = ids.Max(sinceID, o.MentionID)
		} else {
			minUnprocessed = ids.Min(minUnprocessed, o.MentionID)
		}
	}
	for _, id := range postponed {
		minUnprocessed = ids.Min(minUnprocessed, id)
	}

	if minUnprocessed != "" {
		sinceID = ids.Min(sinceID, minUnprocessed)
	}
	batch.SinceID = sinceID
	batch.MinUnprocessedID = minUnprocessed
}

// persistWatermark writes the folded watermark unless the run is a dry run
// or pinned to an explicit since id.
func (s *Supervisor) persistWatermark(ctx context.Context, batch *models.Batch) error {
	if s.cfg.DryRun || s.cfg.SinceIDOverride != "" || len(s.cfg.DebugMessageIDs) > 0 {
		return nil
	}
	wm := models.Watermark{SinceID: batch.SinceID, MinUnprocessedID: batch.MinUnprocessedID}
	if err := s.cache.SetWatermark(ctx, s.accountID, wm); err != nil {
		return fmt.Errorf("persisting watermark: %w", err)
	}
	logrus.Infof("Watermark for %s advanced to %q (min unprocessed %q)", s.accountID, wm.SinceID, wm.MinUnprocessedID)
	return nil
}

// flagClassified maps a classified upstream error onto the batch flags.
// Returns false when the error is not a batch-level condition.
func (s *Supervisor) flagClassified(batch *models.Batch, err error) bool {
	be, ok := boterr.As(err)
	if !ok {
		return false
	}
	switch be.Kind {
	case boterr.PlatformRateLimit:
		batch.HasRateLimitError = true
	case boterr.PlatformAuth:
		batch.HasAuthError = true
	case boterr.Network:
		batch.HasNetworkError = true
	default:
		return false
	}
	logrus.Errorf("Cycle hit %s condition: %v", be.Kind, be)
	return true
}
