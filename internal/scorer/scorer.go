// Package scorer ranks valid mentions and selects the batch to resolve.
package scorer

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/replyforge/mentionbot/internal/config"
	"github.com/replyforge/mentionbot/internal/ids"
	"github.com/replyforge/mentionbot/internal/models"
)

// Lookup is the slice of the mention cache the scorer consults for parent
// messages and prior interaction records.
type Lookup interface {
	GetMessage(ctx context.Context, id string, allowUpstreamFetch bool) (*models.Message, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	Interaction(ctx context.Context, id string) (*models.InteractionRecord, error)
}

// Scorer assigns priority scores and cuts the batch at maxBatchSize.
type Scorer struct {
	lookup Lookup

	botUserID     string
	maxBatchSize  int
	priorityUsers map[string]struct{}
}

// New creates a Scorer for the given bot identity.
func New(cfg *config.Config, lookup Lookup, bot models.User) *Scorer {
	priority := make(map[string]struct{}, len(cfg.PriorityUserIDs))
	for _, id := range cfg.PriorityUserIDs {
		priority[id] = struct{}{}
	}
	return &Scorer{
		lookup:        lookup,
		botUserID:     bot.ID,
		maxBatchSize:  cfg.MaxBatchSize,
		priorityUsers: priority,
	}
}

// Rank scores the candidates, sorts them by descending priority and cuts the
// batch at maxBatchSize. Candidates beyond the cutoff are postponed; their
// ids are returned so the caller can hold the watermark back for them.
func (s *Scorer) Rank(ctx context.Context, mentions []models.Mention) (batch []models.Mention, postponed []string, err error) {
	// Oldest first so the positional base score favors FIFO fairness.
	sort.Slice(mentions, func(i, j int) bool { return ids.Less(mentions[i].ID, mentions[j].ID) })

	n := len(mentions)
	scored := make([]models.Mention, 0, n)
	for i, m := range mentions {
		score := 0.5 * float64(n-i) / float64(n)

		if m.IsReply {
			penalty, err := s.replyPenalty(ctx, &m)
			if err != nil {
				return nil, nil, err
			}
			score -= penalty
		}

		if _, ok := s.priorityUsers[m.AuthorID]; ok {
			score += 10000
		}

		if author, err := s.lookup.GetUser(ctx, m.AuthorID); err == nil && author != nil {
			m.AuthorFollowers = author.Followers
			score += float64(author.Followers) / 1000
		}

		m.PriorityScore = score
		scored = append(scored, m)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].PriorityScore > scored[j].PriorityScore })

	cut := len(scored)
	if s.maxBatchSize > 0 && cut > s.maxBatchSize {
		cut = s.maxBatchSize
	}
	for _, m := range scored[cut:] {
		postponed = append(postponed, m.ID)
	}
	if len(postponed) > 0 {
		logrus.Infof("Postponing %d mention(s) beyond batch size %d", len(postponed), s.maxBatchSize)
	}
	return scored[:cut], postponed, nil
}

// replyPenalty computes the deprioritization applied to replies. Fresh
// top-level mentions outrank thread continuations, and broken or abandoned
// threads sink to the bottom.
func (s *Scorer) replyPenalty(ctx context.Context, m *models.Mention) (float64, error) {
	penalty := 10.0

	parent, err := s.lookup.GetMessage(ctx, m.RepliedToID(), false)
	if err != nil {
		return 0, err
	}
	if parent == nil {
		// Likely deleted between fetch and scoring.
		return penalty * 100, nil
	}

	if parent.AuthorID == s.botUserID {
		penalty /= 2
	}

	rec, err := s.priorRecord(ctx, parent)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		penalty *= 5
	} else {
		if rec.Error != "" && !rec.Resolved() {
			penalty *= 1000
		}
		if rec.PromptUserID == m.AuthorID {
			penalty /= 2
		} else {
			penalty *= 10
		}
	}
	return penalty, nil
}

// priorRecord finds the interaction record the parent message belongs to.
// When the parent is the bot's own reply, the record is keyed by the message
// that reply answered.
func (s *Scorer) priorRecord(ctx context.Context, parent *models.Message) (*models.InteractionRecord, error) {
	id := parent.ID
	if parent.AuthorID == s.botUserID && parent.RepliedToID() != "" {
		id = parent.RepliedToID()
	}
	return s.lookup.Interaction(ctx, id)
}
