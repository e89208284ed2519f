// Package answer turns a mention and its conversation history into a reply.
package answer

import (
	"context"

	"github.com/replyforge/mentionbot/internal/filter"
	"github.com/replyforge/mentionbot/internal/models"
)

// Roles of a thread turn.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// ThreadMessage is one turn of the resolved conversation, oldest first when
// returned from Threader.Resolve.
type ThreadMessage struct {
	Role     string
	Username string
	Text     string
}

// Lookup is the slice of the mention cache used for thread resolution.
type Lookup interface {
	GetMessage(ctx context.Context, id string, allowUpstreamFetch bool) (*models.Message, error)
	Interaction(ctx context.Context, id string) (*models.InteractionRecord, error)
}

// Threader reconstructs the conversation leading up to a mention. It prefers
// stored interaction records (which carry both the cleaned prompt and the
// published response) and falls back to the raw platform reply chain where no
// record exists.
type Threader struct {
	lookup      Lookup
	botUserID   string
	maxMessages int
}

// NewThreader creates a Threader capped at maxMessages turns.
func NewThreader(lookup Lookup, botUserID string, maxMessages int) *Threader {
	if maxMessages <= 0 {
		maxMessages = 30
	}
	return &Threader{lookup: lookup, botUserID: botUserID, maxMessages: maxMessages}
}

// Resolve walks the conversation upward from the mention and returns it
// oldest-turn-first, ending with the mention itself. Errored interaction
// records contribute nothing; only turns that actually happened are included.
func (t *Threader) Resolve(ctx context.Context, m *models.Mention) ([]ThreadMessage, error) {
	// Collected newest first, reversed at the end.
	turns := []ThreadMessage{{Role: RoleUser, Text: m.Prompt}}

	msgID := m.RepliedToID()
	for msgID != "" && len(turns) < t.maxMessages {
		msg, err := t.lookup.GetMessage(ctx, msgID, true)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			break
		}

		if msg.AuthorID == t.botUserID {
			rec, err := t.recordForReply(ctx, msg)
			if err != nil {
				return nil, err
			}
			if rec != nil && rec.Response != "" {
				turns = append(turns,
					ThreadMessage{Role: RoleBot, Text: rec.Response},
					ThreadMessage{Role: RoleUser, Username: rec.PromptUsername, Text: rec.Prompt},
				)
				msgID, err = t.nextAbove(ctx, rec)
				if err != nil {
					return nil, err
				}
				continue
			}
			turns = append(turns, ThreadMessage{Role: RoleBot, Text: filter.StripHandles(msg.Text)})
		} else {
			turns = append(turns, ThreadMessage{Role: RoleUser, Text: filter.ExtractPrompt(msg.Text)})
		}
		msgID = msg.RepliedToID()
	}

	if len(turns) > t.maxMessages {
		turns = turns[:t.maxMessages]
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// recordForReply finds the interaction record a bot reply belongs to. Records
// are keyed by the prompt message, which the reply references.
func (t *Threader) recordForReply(ctx context.Context, reply *models.Message) (*models.InteractionRecord, error) {
	promptID := reply.RepliedToID()
	if promptID == "" {
		return nil, nil
	}
	return t.lookup.Interaction(ctx, promptID)
}

// nextAbove returns the message id the walk should continue from after
// consuming an interaction record: the parent interaction's prompt if linked,
// otherwise whatever the record's prompt message replied to.
func (t *Threader) nextAbove(ctx context.Context, rec *models.InteractionRecord) (string, error) {
	if rec.ParentInteractionID != "" {
		parent, err := t.lookup.Interaction(ctx, rec.ParentInteractionID)
		if err != nil {
			return "", err
		}
		if parent != nil && parent.ResponseMessageID != "" {
			return parent.ResponseMessageID, nil
		}
	}
	prompt, err := t.lookup.GetMessage(ctx, rec.PromptMessageID, false)
	if err != nil || prompt == nil {
		return "", err
	}
	return prompt.RepliedToID(), nil
}
