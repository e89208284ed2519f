// Package filter decides whether a raw mention warrants a reply.
package filter

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/replyforge/mentionbot/internal/config"
	"github.com/replyforge/mentionbot/internal/models"
)

// Lookup is the slice of the mention cache the filter consults for parent
// messages and author records.
type Lookup interface {
	GetMessage(ctx context.Context, id string, allowUpstreamFetch bool) (*models.Message, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Filter applies the validity rules to mention candidates.
type Filter struct {
	lookup Lookup

	botUserID string
	botHandle string // "@handle", lowercase

	forceReply      bool
	moderatorPrefix string

	ignoreMessages map[string]struct{}
	ignoreUsers    map[string]struct{}
	priorityUsers  map[string]struct{}
}

// New creates a Filter for the given bot identity.
func New(cfg *config.Config, lookup Lookup, bot models.User) *Filter {
	f := &Filter{
		lookup:          lookup,
		botUserID:       bot.ID,
		botHandle:       "@" + strings.ToLower(bot.Username),
		forceReply:      cfg.ForceReply,
		moderatorPrefix: cfg.ModeratorPrefix,
		ignoreMessages:  toSet(cfg.IgnoreMessageIDs),
		ignoreUsers:     toSet(cfg.IgnoreUserIDs),
		priorityUsers:   toSet(cfg.PriorityUserIDs),
	}
	return f
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// Check decides whether the mention should be answered. It returns an
// enriched copy of the candidate (prompt, reply flag, bot-mention count
// filled in) and whether it is valid. When a mention is rejected in a way
// that will never change, advanceIfSkipped is invoked with its id so the
// watermark can move past it.
//
// The rules run in order and short-circuit:
//
//  1. static ignore lists (message id or author id)
//  2. known automation accounts (reply-loop prevention)
//  3. reply with an unresolvable parent
//  4. human moderator override prefix from a privileged author
//  5. bot-mention prefix rule
//  6. empty prompt after stripping
//  7. stale thread branch (see below)
func (f *Filter) Check(ctx context.Context, m models.Mention, advanceIfSkipped func(id string)) (models.Mention, bool, error) {
	if _, ok := f.ignoreMessages[m.ID]; ok {
		return m, false, nil
	}
	if _, ok := f.ignoreUsers[m.AuthorID]; ok {
		return m, false, nil
	}

	if m.AuthorID != f.botUserID {
		author, err := f.lookup.GetUser(ctx, m.AuthorID)
		if err != nil {
			return m, false, err
		}
		if author != nil && IsLikelyAutomationUsername(author.Username) {
			logrus.Debugf("Ignoring mention %s from automation account %s", m.ID, author.Username)
			return m, false, nil
		}
	}

	parentID := m.RepliedToID()
	m.IsReply = parentID != ""

	var parent *models.Message
	if m.IsReply {
		var err error
		parent, err = f.lookup.GetMessage(ctx, parentID, true)
		if err != nil {
			return m, false, err
		}
		if parent == nil {
			logrus.Debugf("Ignoring mention %s: parent %s is unresolvable", m.ID, parentID)
			return m, false, nil
		}
	}

	m.Prompt = ExtractPrompt(m.Text)

	if strings.HasPrefix(m.Prompt, f.moderatorPrefix) {
		if _, privileged := f.priorityUsers[m.AuthorID]; privileged {
			// A human operator took over this thread using the bot account.
			logrus.Debugf("Ignoring mention %s: human moderator override", m.ID)
			return m, false, nil
		}
	}

	numBotMentions, handles := PrefixMentions(m.Text, f.botHandle, m.IsReply)
	m.NumBotMentions = numBotMentions

	mentionRuleOK := numBotMentions > 0 &&
		(handles[len(handles)-1] == f.botHandle || (numBotMentions == 1 && !m.IsReply))
	if !mentionRuleOK {
		advanceIfSkipped(m.ID)
		return m, false, nil
	}

	if m.Prompt == "" {
		if m.IsReply {
			// A bare tag of the bot under another message asks about the
			// parent, so the parent's text becomes the prompt.
			m.Prompt = ExtractPrompt(parent.Text)
		}
		if m.Prompt == "" {
			return m, false, nil
		}
	}

	if m.IsReply && !f.forceReply {
		// Heuristic, deliberately conservative: when the parent carries at
		// least as many leading bot mentions and is itself a reply, this
		// branch of the thread has been superseded and answering it again
		// would re-enter a finished conversation.
		parentBotMentions, _ := PrefixMentions(parent.Text, f.botHandle, parent.RepliedToID() != "")
		if parentBotMentions > numBotMentions ||
			(parentBotMentions == numBotMentions && parent.RepliedToID() != "") {
			advanceIfSkipped(m.ID)
			return m, false, nil
		}
	}

	return m, true, nil
}
