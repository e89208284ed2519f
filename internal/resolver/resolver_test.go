package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyforge/mentionbot/internal/answer"
	"github.com/replyforge/mentionbot/internal/boterr"
	"github.com/replyforge/mentionbot/internal/models"
)

type fakeCache struct {
	mu       sync.Mutex
	messages map[string]*models.Message
	users    map[string]*models.User
	records  map[string]*models.InteractionRecord
	upserts  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		messages: map[string]*models.Message{},
		users:    map[string]*models.User{},
		records:  map[string]*models.InteractionRecord{},
	}
}

func (f *fakeCache) GetMessage(_ context.Context, id string, _ bool) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[id], nil
}

func (f *fakeCache) GetUser(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id], nil
}

func (f *fakeCache) Interaction(_ context.Context, id string) (*models.InteractionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[id]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeCache) UpsertInteraction(_ context.Context, rec *models.InteractionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.records[rec.ID] = &cp
	f.upserts++
	return nil
}

type fakePlatform struct {
	mu        sync.Mutex
	missing   map[string]bool
	fetchErr  error
	published map[string]string
	pubErr    error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{missing: map[string]bool{}, published: map[string]string{}}
}

func (f *fakePlatform) FetchByID(_ context.Context, id string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.missing[id] {
		return nil, boterr.New(boterr.PlatformForbidden, true, "message %s not found", id)
	}
	return &models.Message{ID: id}, nil
}

func (f *fakePlatform) PublishReply(_ context.Context, parentID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pubErr != nil {
		return "", f.pubErr
	}
	f.published[parentID] = text
	return "r" + parentID, nil
}

type countingEngine struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (e *countingEngine) Generate(context.Context, []answer.ThreadMessage) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return "", e.err
	}
	return e.text, nil
}

func newResolver(cache *fakeCache, pf *fakePlatform, engine answer.Engine, opts Options) *Resolver {
	if opts.BotUserID == "" {
		opts.BotUserID = "bot1"
	}
	if opts.MaxReplyLen == 0 {
		opts.MaxReplyLen = 280
	}
	threader := answer.NewThreader(cache, opts.BotUserID, 30)
	return New(cache, pf, threader, engine, opts)
}

func mention(id, prompt string) models.Mention {
	return models.Mention{Message: models.Message{ID: id, AuthorID: "u1"}, Prompt: prompt}
}

func TestResolveBatchHappyPath(t *testing.T) {
	cache := newFakeCache()
	pf := newFakePlatform()
	engine := &countingEngine{text: "the answer"}
	r := newResolver(cache, pf, engine, Options{})

	batch := &models.Batch{Mentions: []models.Mention{mention("100", "what is Go")}}
	outcomes, err := r.ResolveBatch(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Resolved)
	assert.Equal(t, "the answer", pf.published["100"])

	rec := cache.records["100"]
	require.NotNil(t, rec)
	assert.Equal(t, "the answer", rec.Response)
	assert.Equal(t, "r100", rec.ResponseMessageID)
}

func TestResolveBatchIdempotentResume(t *testing.T) {
	cache := newFakeCache()
	cache.records["100"] = &models.InteractionRecord{
		ID: "100", PromptMessageID: "100", Prompt: "what is Go",
		Response: "cached answer", ResponseMessageID: "r100",
	}
	pf := newFakePlatform()
	engine := &countingEngine{text: "fresh answer"}
	r := newResolver(cache, pf, engine, Options{})

	batch := &models.Batch{Mentions: []models.Mention{mention("100", "what is Go")}}
	outcomes, err := r.ResolveBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.True(t, outcomes[0].Resolved)
	assert.Zero(t, engine.calls, "generation must not run again")
	assert.Empty(t, pf.published, "reply must not be published again")
}

func TestResolveBatchResumePublishesUnpublishedResponse(t *testing.T) {
	cache := newFakeCache()
	cache.records["100"] = &models.InteractionRecord{
		ID: "100", PromptMessageID: "100", Prompt: "what is Go",
		Response: "cached answer",
	}
	pf := newFakePlatform()
	engine := &countingEngine{text: "fresh answer"}
	r := newResolver(cache, pf, engine, Options{})

	batch := &models.Batch{Mentions: []models.Mention{mention("100", "what is Go")}}
	_, err := r.ResolveBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Zero(t, engine.calls)
	assert.Equal(t, "cached answer", pf.published["100"])
}

func TestResolveBatchDeletedMentionFailsFinally(t *testing.T) {
	cache := newFakeCache()
	pf := newFakePlatform()
	pf.missing["100"] = true
	r := newResolver(cache, pf, &countingEngine{text: "x"}, Options{})

	batch := &models.Batch{Mentions: []models.Mention{mention("100", "gone")}}
	outcomes, err := r.ResolveBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.True(t, outcomes[0].Resolved, "final failure counts as resolved")
	require.NotNil(t, outcomes[0].Err)
	assert.Equal(t, boterr.PlatformForbidden, outcomes[0].Err.Kind)

	rec := cache.records["100"]
	require.NotNil(t, rec)
	assert.True(t, rec.IsErrorFinal)
}

func TestResolveBatchModerationPublishesNotice(t *testing.T) {
	cache := newFakeCache()
	pf := newFakePlatform()
	engine := &countingEngine{err: boterr.New(boterr.Moderation, true, "flagged")}
	r := newResolver(cache, pf, engine, Options{})

	batch := &models.Batch{Mentions: []models.Mention{mention("100", "bad question")}}
	outcomes, err := r.ResolveBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.True(t, outcomes[0].Resolved)
	assert.Contains(t, pf.published["100"], "content policy")
	assert.Contains(t, pf.published["100"], "100")

	rec := cache.records["100"]
	require.NotNil(t, rec)
	assert.Equal(t, string(boterr.Moderation), rec.ErrorKind)
	assert.True(t, rec.Resolved())
}

func TestResolveBatchRateLimitShortCircuits(t *testing.T) {
	cache := newFakeCache()
	pf := newFakePlatform()
	pf.fetchErr = boterr.New(boterr.PlatformRateLimit, false, "429")
	r := New(cache, pf, answer.NewThreader(cache, "bot1", 30), &countingEngine{text: "x"},
		Options{BotUserID: "bot1", MaxReplyLen: 280, Concurrency: 1})

	batch := &models.Batch{Mentions: []models.Mention{
		mention("100", "a"), mention("200", "b"), mention("300", "c"),
	}}
	outcomes, err := r.ResolveBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.True(t, batch.HasRateLimitError)
	for _, o := range outcomes {
		assert.False(t, o.Resolved)
	}
	// Only the first mention reached the platform before the flag was set.
	assert.NotNil(t, outcomes[0].Err)
	assert.Nil(t, outcomes[1].Err)
	assert.Nil(t, outcomes[2].Err)
}

func TestResolveBatchUnknownErrorAborts(t *testing.T) {
	cache := newFakeCache()
	pf := newFakePlatform()
	engine := &countingEngine{err: errors.New("nil pointer somewhere")}
	r := newResolver(cache, pf, engine, Options{Concurrency: 1})

	batch := &models.Batch{Mentions: []models.Mention{mention("100", "a"), mention("200", "b")}}
	_, err := r.ResolveBatch(context.Background(), batch)
	require.Error(t, err)
	assert.Empty(t, pf.published)
}

func TestResolveBatchDryRunSkipsPublishAndPersist(t *testing.T) {
	cache := newFakeCache()
	pf := newFakePlatform()
	engine := &countingEngine{text: "the answer"}
	r := newResolver(cache, pf, engine, Options{DryRun: true})

	batch := &models.Batch{Mentions: []models.Mention{mention("100", "what is Go")}}
	outcomes, err := r.ResolveBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.True(t, outcomes[0].Resolved)
	assert.Empty(t, pf.published)
	assert.Zero(t, cache.upserts)
}

func TestResolveBatchLinksParentInteraction(t *testing.T) {
	cache := newFakeCache()
	cache.messages["20"] = &models.Message{
		ID: "20", AuthorID: "bot1",
		References: []models.MessageRef{{Type: "replied_to", ID: "10"}},
	}
	cache.records["10"] = &models.InteractionRecord{
		ID: "10", PromptMessageID: "10", Prompt: "first", Response: "answer one", ResponseMessageID: "20",
	}
	pf := newFakePlatform()
	r := newResolver(cache, pf, &countingEngine{text: "answer two"}, Options{})

	m := mention("30", "follow up")
	m.IsReply = true
	m.References = []models.MessageRef{{Type: "replied_to", ID: "20"}}
	batch := &models.Batch{Mentions: []models.Mention{m}}

	_, err := r.ResolveBatch(context.Background(), batch)
	require.NoError(t, err)
	rec := cache.records["30"]
	require.NotNil(t, rec)
	assert.Equal(t, "10", rec.ParentInteractionID)
}
