// Package resolver answers individual mentions: it generates a reply for
// each candidate, publishes it, and persists the interaction record.
package resolver

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/replyforge/mentionbot/internal/answer"
	"github.com/replyforge/mentionbot/internal/boterr"
	"github.com/replyforge/mentionbot/internal/models"
)

// Cache is the slice of the mention cache the resolver reads and writes.
type Cache interface {
	GetMessage(ctx context.Context, id string, allowUpstreamFetch bool) (*models.Message, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	Interaction(ctx context.Context, id string) (*models.InteractionRecord, error)
	UpsertInteraction(ctx context.Context, rec *models.InteractionRecord) error
}

// Publisher is the slice of the platform client the resolver needs.
type Publisher interface {
	FetchByID(ctx context.Context, id string) (*models.Message, error)
	PublishReply(ctx context.Context, parentID, text string) (string, error)
}

// Outcome is the result of resolving one mention, consumed by the supervisor
// when folding the batch into the watermark.
type Outcome struct {
	MentionID string
	Resolved  bool // answered, or failed finally
	Err       *boterr.Error
}

// Resolver runs the per-mention state machine with bounded concurrency.
type Resolver struct {
	cache    Cache
	platform Publisher
	threader *answer.Threader
	engine   answer.Engine

	botUserID   string
	maxReplyLen int
	concurrency int
	dryRun      bool
}

// Options configures a Resolver beyond its collaborators.
type Options struct {
	BotUserID   string
	MaxReplyLen int
	Concurrency int
	DryRun      bool
}

// New creates a Resolver.
func New(cache Cache, platform Publisher, threader *answer.Threader, engine answer.Engine, opts Options) *Resolver {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	return &Resolver{
		cache:       cache,
		platform:    platform,
		threader:    threader,
		engine:      engine,
		botUserID:   opts.BotUserID,
		maxReplyLen: opts.MaxReplyLen,
		concurrency: opts.Concurrency,
		dryRun:      opts.DryRun,
	}
}

// ResolveBatch resolves every mention in the batch with bounded concurrency
// and returns one Outcome per mention. Classified failures are recorded and
// folded into the batch flags; an unclassified error aborts the whole batch
// since it signals a bug rather than an upstream condition.
//
// When a batch-level auth, rate-limit or network condition is already set,
// remaining mentions are skipped unresolved; the watermark rollback retries
// them next cycle.
func (r *Resolver) ResolveBatch(ctx context.Context, batch *models.Batch) ([]Outcome, error) {
	outcomes := make([]Outcome, len(batch.Mentions))

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		fatalErr error
	)
	sem := make(chan struct{}, r.concurrency)

	short := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fatalErr != nil || batch.HasAuthError || batch.HasRateLimitError || batch.HasNetworkError
	}

	for i := range batch.Mentions {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			m := batch.Mentions[i]
			if short() {
				mu.Lock()
				outcomes[i] = Outcome{MentionID: m.ID}
				mu.Unlock()
				return
			}
			rec, err := r.resolveOne(ctx, &m)

			mu.Lock()
			defer mu.Unlock()
			if rec != nil {
				batch.Records = append(batch.Records, *rec)
			}
			if err == nil {
				outcomes[i] = Outcome{MentionID: m.ID, Resolved: true}
				return
			}
			be, ok := boterr.As(err)
			if !ok {
				logrus.Errorf("Unclassified error resolving mention %s, aborting batch: %v", m.ID, err)
				if fatalErr == nil {
					fatalErr = err
				}
				outcomes[i] = Outcome{MentionID: m.ID}
				return
			}
			switch be.Kind {
			case boterr.PlatformAuth:
				batch.HasAuthError = true
			case boterr.PlatformRateLimit:
				batch.HasRateLimitError = true
			case boterr.Network:
				batch.HasNetworkError = true
			}
			logrus.Errorf("Resolving mention %s failed (%s, final=%t): %v", m.ID, be.Kind, be.IsFinal, be)
			outcomes[i] = Outcome{MentionID: m.ID, Resolved: be.IsFinal, Err: be}
		}(i)
	}

	wg.Wait()
	return outcomes, fatalErr
}

// resolveOne runs the state machine for a single mention. The interaction
// record is upserted before returning regardless of the outcome, so a retry
// resumes from whatever state this attempt reached.
func (r *Resolver) resolveOne(ctx context.Context, m *models.Mention) (rec *models.InteractionRecord, err error) {
	rec, lookupErr := r.cache.Interaction(ctx, m.ID)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if rec == nil {
		rec = &models.InteractionRecord{
			ID:              m.ID,
			PromptMessageID: m.ID,
			PromptUserID:    m.AuthorID,
			Prompt:          m.Prompt,
			IsReply:         m.IsReply,
		}
		if author, err := r.cache.GetUser(ctx, m.AuthorID); err == nil && author != nil {
			rec.PromptUsername = author.Username
		}
	}
	rec.PriorityScore = m.PriorityScore
	rec.AuthorFollowers = m.AuthorFollowers

	defer func() {
		if err != nil {
			rec.Error = err.Error()
			if be, ok := boterr.As(err); ok {
				rec.ErrorKind = string(be.Kind)
				rec.ErrorStatus = be.Status
				rec.IsErrorFinal = be.IsFinal
			}
		}
		if r.dryRun {
			return
		}
		if persistErr := r.cache.UpsertInteraction(ctx, rec); persistErr != nil {
			// Best effort: the mention will be reprocessed from scratch.
			logrus.Errorf("Persisting interaction %s failed: %v", rec.ID, persistErr)
		}
	}()

	if m.Prompt == "" {
		return rec, boterr.New(boterr.InvalidAnswer, true, "mention %s has an empty prompt", m.ID)
	}

	// The message may have been deleted between fetch and now.
	if _, err = r.platform.FetchByID(ctx, m.ID); err != nil {
		return rec, err
	}

	if err = r.linkParent(ctx, m, rec); err != nil {
		return rec, err
	}

	if rec.Response == "" {
		if err = r.generate(ctx, m, rec); err != nil {
			return rec, err
		}
	} else {
		logrus.Infof("Resuming mention %s with existing response", m.ID)
	}

	if r.dryRun {
		logrus.Infof("[dry-run] Would reply to %s: %s", m.ID, rec.Response)
		return rec, nil
	}

	if rec.ResponseMessageID == "" {
		var id string
		if id, err = r.platform.PublishReply(ctx, m.ID, rec.Response); err != nil {
			return rec, err
		}
		rec.ResponseMessageID = id
		logrus.Infof("Published reply %s to mention %s", id, m.ID)
	}
	return rec, nil
}

// generate produces the reply text. Moderation flags do not fail the mention:
// a fixed policy notice is published instead so the author still gets a
// terminal response.
func (r *Resolver) generate(ctx context.Context, m *models.Mention, rec *models.InteractionRecord) error {
	thread, err := r.threader.Resolve(ctx, m)
	if err != nil {
		return err
	}

	text, err := r.engine.Generate(ctx, thread)
	if err != nil {
		if be, ok := boterr.As(err); ok && be.Kind == boterr.Moderation {
			logrus.Infof("Mention %s flagged by content policy, publishing notice", m.ID)
			rec.ErrorKind = string(be.Kind)
			rec.IsErrorFinal = true
			rec.Response = answer.PolicyViolationReply(m.ID)
			return nil
		}
		return err
	}

	if text, err = answer.Sanitize(text, r.maxReplyLen); err != nil {
		return err
	}
	rec.Response = text
	return nil
}

// linkParent connects a reply to the interaction it continues, so thread
// resolution can walk record links instead of refetching the whole chain.
func (r *Resolver) linkParent(ctx context.Context, m *models.Mention, rec *models.InteractionRecord) error {
	if !m.IsReply || rec.ParentInteractionID != "" {
		return nil
	}
	parent, err := r.cache.GetMessage(ctx, m.RepliedToID(), false)
	if err != nil || parent == nil {
		return err
	}
	recID := parent.ID
	if parent.AuthorID == r.botUserID && parent.RepliedToID() != "" {
		recID = parent.RepliedToID()
	}
	parentRec, err := r.cache.Interaction(ctx, recID)
	if err != nil {
		return err
	}
	if parentRec != nil {
		rec.ParentInteractionID = parentRec.ID
	}
	return nil
}
