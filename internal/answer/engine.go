package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/replyforge/mentionbot/internal/boterr"
	"github.com/replyforge/mentionbot/internal/filter"
)

// Engine generates a reply for a resolved conversation thread. The last turn
// of the thread is always the mention being answered. Implementations return
// a boterr.Error with kind Moderation when the content is policy-flagged and
// kind InvalidAnswer when the upstream model misbehaved.
type Engine interface {
	Generate(ctx context.Context, thread []ThreadMessage) (string, error)
}

// PolicyViolationReply is the fixed notice published when generation was
// blocked by content moderation. The reference id lets an operator find the
// flagged interaction.
func PolicyViolationReply(ref string) string {
	return fmt.Sprintf("I can't answer this one: the request was flagged by our content policy. (ref: %s)", ref)
}

// Sanitize normalizes a generated reply before publishing: strips @-handles
// so the bot never tags third parties, trims whitespace and enforces the
// platform length limit. An empty result is a final InvalidAnswer error since
// regenerating from the same thread would fail the same way.
func Sanitize(text string, maxLen int) (string, error) {
	text = strings.TrimSpace(filter.StripHandles(text))
	if text == "" {
		return "", boterr.New(boterr.InvalidAnswer, true, "answer engine returned an empty reply")
	}
	if maxLen > 0 {
		if runes := []rune(text); len(runes) > maxLen {
			text = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	return text, nil
}

// EchoEngine is a deterministic engine for dry runs and local debugging. It
// mirrors the prompt back instead of calling a model.
type EchoEngine struct{}

var _ Engine = (*EchoEngine)(nil)

func (EchoEngine) Generate(_ context.Context, thread []ThreadMessage) (string, error) {
	if len(thread) == 0 {
		return "", boterr.New(boterr.InvalidAnswer, true, "empty thread")
	}
	last := thread[len(thread)-1]
	return fmt.Sprintf("echo: %s", last.Text), nil
}
