// Package cache provides the MentionCache facade: an in-memory LRU front
// over the durable store, with optional upstream fetch fallback for message
// lookups, plus durable storage for interaction records, raw mentions and
// the per-account watermark.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/replyforge/mentionbot/internal/boterr"
	"github.com/replyforge/mentionbot/internal/ids"
	"github.com/replyforge/mentionbot/internal/models"
	"github.com/replyforge/mentionbot/internal/store"
)

const (
	nsMessages     = "messages"
	nsUsers        = "users"
	nsInteractions = "interactions"
	nsState        = "state"

	messageLRUSize = 4096
	userLRUSize    = 1024
)

// UpstreamFetcher is the slice of the platform client the cache uses for
// fetch-fallback lookups.
type UpstreamFetcher interface {
	FetchByID(ctx context.Context, id string) (*models.Message, error)
}

// MentionCache is constructed once at startup and threaded through the
// pipeline; there is no package-level state.
type MentionCache struct {
	store    store.Store
	upstream UpstreamFetcher

	messageLRU *lru.Cache[string, models.Message]
	userLRU    *lru.Cache[string, models.User]

	disableMentionsCache bool
}

// Options configures a MentionCache.
type Options struct {
	// Upstream enables fetch-fallback for message lookups; nil disables it.
	Upstream UpstreamFetcher
	// DisableMentionsCache skips the raw per-account mention namespace.
	DisableMentionsCache bool
}

// New creates a MentionCache over the given durable store.
func New(st store.Store, opts Options) (*MentionCache, error) {
	messageLRU, err := lru.New[string, models.Message](messageLRUSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create message cache: %w", err)
	}
	userLRU, err := lru.New[string, models.User](userLRUSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create user cache: %w", err)
	}

	return &MentionCache{
		store:                st,
		upstream:             opts.Upstream,
		messageLRU:           messageLRU,
		userLRU:              userLRU,
		disableMentionsCache: opts.DisableMentionsCache,
	}, nil
}

func mentionsNamespace(accountID string) string {
	return "mentions:" + accountID
}

func watermarkKey(accountID string) string {
	return "watermark:" + accountID
}

// GetMessage returns the message with the given id, checking the LRU, then
// the durable store, then (when allowed and configured) the platform API.
// Absence is not an error: a message that cannot be found anywhere, or that
// the platform reports deleted, yields (nil, nil). Transient upstream
// failures (rate limit, auth, network) are returned classified so callers
// can surface them.
func (c *MentionCache) GetMessage(ctx context.Context, id string, allowUpstreamFetch bool) (*models.Message, error) {
	if msg, ok := c.messageLRU.Get(id); ok {
		return &msg, nil
	}

	value, found, err := c.store.Get(ctx, nsMessages, id)
	if err != nil {
		return nil, err
	}
	if found {
		var msg models.Message
		if err := json.Unmarshal(value, &msg); err != nil {
			return nil, fmt.Errorf("failed to decode cached message %s: %w", id, err)
		}
		c.messageLRU.Add(id, msg)
		return &msg, nil
	}

	if !allowUpstreamFetch || c.upstream == nil {
		return nil, nil
	}

	msg, err := c.upstream.FetchByID(ctx, id)
	if err != nil {
		if be, ok := boterr.As(err); ok && be.Kind == boterr.PlatformForbidden {
			// Deleted, protected or plain missing: treat as absent.
			return nil, nil
		}
		return nil, err
	}

	if err := c.UpsertMessages(ctx, []models.Message{*msg}); err != nil {
		logrus.Warnf("Failed to cache fetched message %s: %v", id, err)
	}
	return msg, nil
}

// GetUser returns the user with the given id from the LRU or durable store,
// or nil when unknown. Users are only ever populated from mention page
// includes, so there is no upstream fallback.
func (c *MentionCache) GetUser(ctx context.Context, id string) (*models.User, error) {
	if user, ok := c.userLRU.Get(id); ok {
		return &user, nil
	}

	value, found, err := c.store.Get(ctx, nsUsers, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var user models.User
	if err := json.Unmarshal(value, &user); err != nil {
		return nil, fmt.Errorf("failed to decode cached user %s: %w", id, err)
	}
	c.userLRU.Add(id, user)
	return &user, nil
}

// UpsertMessages stores messages in both cache tiers.
func (c *MentionCache) UpsertMessages(ctx context.Context, messages []models.Message) error {
	for _, msg := range messages {
		if msg.ID == "" {
			continue
		}
		value, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
		}
		if err := c.store.Set(ctx, nsMessages, msg.ID, value); err != nil {
			return err
		}
		c.messageLRU.Add(msg.ID, msg)
	}
	return nil
}

// UpsertUsers stores users in both cache tiers.
func (c *MentionCache) UpsertUsers(ctx context.Context, users []models.User) error {
	for _, user := range users {
		if user.ID == "" {
			continue
		}
		value, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("failed to encode user %s: %w", user.ID, err)
		}
		if err := c.store.Set(ctx, nsUsers, user.ID, value); err != nil {
			return err
		}
		c.userLRU.Add(user.ID, user)
	}
	return nil
}

// Interaction returns the interaction record for the given prompt message
// id, or nil when none exists.
func (c *MentionCache) Interaction(ctx context.Context, id string) (*models.InteractionRecord, error) {
	value, found, err := c.store.Get(ctx, nsInteractions, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var rec models.InteractionRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode interaction record %s: %w", id, err)
	}
	return &rec, nil
}

// UpsertInteraction durably stores an interaction record, stamping
// UpdatedAt. Records are keyed by prompt message id so concurrent resolvers
// never write the same key.
func (c *MentionCache) UpsertInteraction(ctx context.Context, rec *models.InteractionRecord) error {
	rec.UpdatedAt = time.Now().UTC()

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode interaction record %s: %w", rec.ID, err)
	}
	return c.store.Set(ctx, nsInteractions, rec.ID, value)
}

// AppendRawMentions durably upserts raw mentions into the per-account
// namespace so later cycles can answer "what arrived since X" without
// re-hitting the platform API.
func (c *MentionCache) AppendRawMentions(ctx context.Context, accountID string, messages []models.Message) error {
	if c.disableMentionsCache {
		return nil
	}

	ns := mentionsNamespace(accountID)
	for _, msg := range messages {
		if msg.ID == "" {
			continue
		}
		value, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode mention %s: %w", msg.ID, err)
		}
		if err := c.store.Set(ctx, ns, msg.ID, value); err != nil {
			return err
		}
	}
	return nil
}

// ReadMentionsSince returns every cached raw mention for the account with an
// id greater than sinceID, oldest first, together with the largest id seen.
func (c *MentionCache) ReadMentionsSince(ctx context.Context, accountID, sinceID string) ([]models.Message, string, error) {
	if c.disableMentionsCache {
		return nil, sinceID, nil
	}

	var mentions []models.Message
	newSinceID := sinceID

	err := c.store.Scan(ctx, mentionsNamespace(accountID), func(key string, value []byte) error {
		if ids.Compare(key, sinceID) <= 0 {
			return nil
		}
		var msg models.Message
		if err := json.Unmarshal(value, &msg); err != nil {
			return fmt.Errorf("failed to decode cached mention %s: %w", key, err)
		}
		mentions = append(mentions, msg)
		newSinceID = ids.Max(newSinceID, msg.ID)
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	sort.Slice(mentions, func(i, j int) bool {
		return ids.Less(mentions[i].ID, mentions[j].ID)
	})

	return mentions, newSinceID, nil
}

// Watermark returns the persisted watermark for the account, zero-valued
// when none has been stored yet.
func (c *MentionCache) Watermark(ctx context.Context, accountID string) (models.Watermark, error) {
	var w models.Watermark

	value, found, err := c.store.Get(ctx, nsState, watermarkKey(accountID))
	if err != nil {
		return w, err
	}
	if !found {
		return w, nil
	}

	if err := json.Unmarshal(value, &w); err != nil {
		return w, fmt.Errorf("failed to decode watermark for %s: %w", accountID, err)
	}
	return w, nil
}

// SetWatermark persists the watermark, re-reading the stored value and
// max-merging SinceID immediately before the write. This is deliberate
// relaxed consistency: the store offers no compare-and-swap, and in practice
// each account has a single writer; the max-merge only defends against a
// concurrent writer having advanced the cursor in the meantime.
func (c *MentionCache) SetWatermark(ctx context.Context, accountID string, w models.Watermark) error {
	current, err := c.Watermark(ctx, accountID)
	if err != nil {
		return err
	}

	merged := models.Watermark{
		SinceID:          ids.Max(current.SinceID, w.SinceID),
		MinUnprocessedID: w.MinUnprocessedID,
	}

	value, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to encode watermark for %s: %w", accountID, err)
	}
	return c.store.Set(ctx, nsState, watermarkKey(accountID), value)
}

// ResetAccount wipes the account's interaction records, raw mentions and
// watermark. This is the only operation that deletes interaction records.
func (c *MentionCache) ResetAccount(ctx context.Context, accountID string) error {
	if err := c.store.Clear(ctx, nsInteractions); err != nil {
		return err
	}
	if err := c.store.Clear(ctx, mentionsNamespace(accountID)); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, nsState, watermarkKey(accountID)); err != nil {
		return err
	}

	logrus.Warnf("Reset all state for account %s", accountID)
	return nil
}
