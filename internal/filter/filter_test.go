package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyforge/mentionbot/internal/config"
	"github.com/replyforge/mentionbot/internal/models"
)

type fakeLookup struct {
	messages map[string]*models.Message
	users    map[string]*models.User
}

func (f *fakeLookup) GetMessage(_ context.Context, id string, _ bool) (*models.Message, error) {
	return f.messages[id], nil
}

func (f *fakeLookup) GetUser(_ context.Context, id string) (*models.User, error) {
	return f.users[id], nil
}

func newTestFilter(t *testing.T, lookup *fakeLookup, mutate func(*config.Config)) *Filter {
	t.Helper()
	cfg := &config.Config{ModeratorPrefix: "(human) "}
	if mutate != nil {
		mutate(cfg)
	}
	bot := models.User{ID: "bot1", Username: "BotHandle"}
	return New(cfg, lookup, bot)
}

func mention(id, authorID, text string, repliedTo string) models.Mention {
	m := models.Mention{Message: models.Message{ID: id, AuthorID: authorID, Text: text}}
	if repliedTo != "" {
		m.References = append(m.References, models.MessageRef{Type: "replied_to", ID: repliedTo})
	}
	return m
}

func TestCheckPlainMention(t *testing.T) {
	lookup := &fakeLookup{users: map[string]*models.User{"u1": {ID: "u1", Username: "alice"}}}
	f := newTestFilter(t, lookup, nil)

	out, ok, err := f.Check(context.Background(), mention("100", "u1", "@BotHandle yoooo", ""), func(string) {})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "yoooo", out.Prompt)
	assert.False(t, out.IsReply)
	assert.Equal(t, 1, out.NumBotMentions)
}

func TestCheckLinkOnlyMentionRejected(t *testing.T) {
	lookup := &fakeLookup{users: map[string]*models.User{"u1": {ID: "u1", Username: "alice"}}}
	f := newTestFilter(t, lookup, nil)

	_, ok, err := f.Check(context.Background(), mention("100", "u1", "@BotHandle https://t.co/abc", ""), func(string) {})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckIgnoreLists(t *testing.T) {
	lookup := &fakeLookup{users: map[string]*models.User{"u1": {ID: "u1", Username: "alice"}}}

	f := newTestFilter(t, lookup, func(cfg *config.Config) { cfg.IgnoreUserIDs = []string{"u1"} })
	_, ok, err := f.Check(context.Background(), mention("100", "u1", "@BotHandle hi", ""), func(string) {})
	require.NoError(t, err)
	assert.False(t, ok)

	f = newTestFilter(t, lookup, func(cfg *config.Config) { cfg.IgnoreMessageIDs = []string{"100"} })
	_, ok, err = f.Check(context.Background(), mention("100", "u1", "@BotHandle hi", ""), func(string) {})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckAutomationAuthorRejected(t *testing.T) {
	lookup := &fakeLookup{users: map[string]*models.User{"u1": {ID: "u1", Username: "threadreaderapp"}}}
	f := newTestFilter(t, lookup, nil)

	_, ok, err := f.Check(context.Background(), mention("100", "u1", "@BotHandle unroll", ""), func(string) {})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckUnresolvableParentRejected(t *testing.T) {
	lookup := &fakeLookup{
		messages: map[string]*models.Message{},
		users:    map[string]*models.User{"u1": {ID: "u1", Username: "alice"}},
	}
	f := newTestFilter(t, lookup, nil)

	_, ok, err := f.Check(context.Background(), mention("100", "u1", "@BotHandle what is this", "50"), func(string) {})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckModeratorOverride(t *testing.T) {
	lookup := &fakeLookup{users: map[string]*models.User{"op": {ID: "op", Username: "operator"}}}
	f := newTestFilter(t, lookup, func(cfg *config.Config) { cfg.PriorityUserIDs = []string{"op"} })

	_, ok, err := f.Check(context.Background(), mention("100", "op", "@BotHandle (human) I took this one", ""), func(string) {})
	require.NoError(t, err)
	assert.False(t, ok)

	// Same prefix from an unprivileged author is just text.
	lookup.users["u1"] = &models.User{ID: "u1", Username: "alice"}
	out, ok, err := f.Check(context.Background(), mention("101", "u1", "@BotHandle (human) really?", ""), func(string) {})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "(human) really?", out.Prompt)
}

func TestCheckMentionCountRuleAdvancesWatermark(t *testing.T) {
	lookup := &fakeLookup{
		messages: map[string]*models.Message{"50": {ID: "50", AuthorID: "u2", Text: "original post"}},
		users:    map[string]*models.User{"u1": {ID: "u1", Username: "alice"}},
	}
	f := newTestFilter(t, lookup, nil)

	// In a reply the bot must be the last of the leading mentions.
	var advanced []string
	m := mention("100", "u1", "@BotHandle @someoneelse look at this", "50")
	_, ok, err := f.Check(context.Background(), m, func(id string) { advanced = append(advanced, id) })
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"100"}, advanced)

	// With the bot last, the same reply is valid.
	m = mention("101", "u1", "@someoneelse @BotHandle look at this", "50")
	out, ok, err := f.Check(context.Background(), m, func(string) {})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "look at this", out.Prompt)
}

func TestCheckEmptyReplyInheritsParentPrompt(t *testing.T) {
	lookup := &fakeLookup{
		messages: map[string]*models.Message{"50": {ID: "50", AuthorID: "u2", Text: "what a strange bug"}},
		users:    map[string]*models.User{"u1": {ID: "u1", Username: "alice"}},
	}
	f := newTestFilter(t, lookup, nil)

	out, ok, err := f.Check(context.Background(), mention("100", "u1", "@BotHandle", "50"), func(string) {})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "what a strange bug", out.Prompt)
}

func TestCheckStaleBranchRejected(t *testing.T) {
	lookup := &fakeLookup{
		messages: map[string]*models.Message{
			// Parent is itself a reply with the same number of leading bot
			// mentions, so this branch has been superseded.
			"50": {
				ID: "50", AuthorID: "u2", Text: "@BotHandle earlier question",
				References: []models.MessageRef{{Type: "replied_to", ID: "10"}},
			},
			"10": {ID: "10", AuthorID: "u3", Text: "root"},
		},
		users: map[string]*models.User{"u1": {ID: "u1", Username: "alice"}},
	}

	f := newTestFilter(t, lookup, nil)
	var advanced []string
	_, ok, err := f.Check(context.Background(), mention("100", "u1", "@BotHandle follow up", "50"), func(id string) { advanced = append(advanced, id) })
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"100"}, advanced)

	// Force-reply mode answers it anyway.
	f = newTestFilter(t, lookup, func(cfg *config.Config) { cfg.ForceReply = true })
	_, ok, err = f.Check(context.Background(), mention("100", "u1", "@BotHandle follow up", "50"), func(string) {})
	require.NoError(t, err)
	assert.True(t, ok)
}
