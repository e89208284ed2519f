package answer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/replyforge/mentionbot/internal/boterr"
)

const geminiSystemPrompt = `You are a helpful assistant replying to public mentions on a social platform.
Rules:
1. Answer the last message of the conversation, using the earlier messages only as context.
2. Be concise: your answer is published as a single reply and must fit the platform length limit.
3. Plain text only. No markdown, no hashtags, no @-handles.
4. If the question cannot be answered from the conversation, say so briefly instead of guessing.`

type geminiModel struct {
	Name string
	RPM  int
	RPD  int
}

// GeminiEngine generates replies with the Gemini API, falling through an
// ordered model list when a model is rate-limited or unavailable.
type GeminiEngine struct {
	client *genai.Client
	models []geminiModel

	dailyCount   map[string]int
	minuteCount  map[string]int
	lastResetDay time.Time
	lastResetMin time.Time
	mu           sync.Mutex
}

var _ Engine = (*GeminiEngine)(nil)

// NewGeminiEngine creates a GeminiEngine authenticated with the given key.
func NewGeminiEngine(ctx context.Context, apiKey string) (*GeminiEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiEngine{
		client: client,
		models: []geminiModel{
			{Name: "gemini-2.5-flash", RPM: 10, RPD: 250},
			{Name: "gemini-2.5-flash-lite", RPM: 15, RPD: 1000},
		},
		dailyCount:   make(map[string]int),
		minuteCount:  make(map[string]int),
		lastResetDay: time.Now(),
		lastResetMin: time.Now(),
	}, nil
}

func (g *GeminiEngine) Generate(ctx context.Context, thread []ThreadMessage) (string, error) {
	prompt := buildPrompt(thread)

	var lastErr error
	for _, model := range g.models {
		if !g.canUseModel(model) {
			continue
		}

		result, err := g.client.Models.GenerateContent(ctx, model.Name, genai.Text(prompt), nil)
		if err != nil {
			errStr := strings.ToLower(err.Error())
			if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") ||
				strings.Contains(errStr, "exhausted") || strings.Contains(errStr, "not found") {
				logrus.Infof("Model %s unavailable, trying next: %v", model.Name, err)
				lastErr = err
				continue
			}
			if strings.Contains(errStr, "safety") || strings.Contains(errStr, "blocked") {
				return "", boterr.Wrap(err, boterr.Moderation, true, "generation blocked by content policy")
			}
			return "", boterr.Wrap(err, boterr.InvalidAnswer, false, "gemini request failed")
		}

		if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil ||
			len(result.Candidates[0].Content.Parts) == 0 {
			return "", boterr.New(boterr.InvalidAnswer, false, "gemini returned no candidates for model %s", model.Name)
		}
		g.recordUsage(model)
		return result.Candidates[0].Content.Parts[0].Text, nil
	}

	return "", boterr.Wrap(lastErr, boterr.InvalidAnswer, false, "all gemini models exhausted")
}

func buildPrompt(thread []ThreadMessage) string {
	var b strings.Builder
	b.WriteString(geminiSystemPrompt)
	b.WriteString("\n\nConversation:\n")
	for _, turn := range thread {
		switch turn.Role {
		case RoleBot:
			b.WriteString("You: ")
		default:
			if turn.Username != "" {
				b.WriteString(turn.Username)
				b.WriteString(": ")
			} else {
				b.WriteString("User: ")
			}
		}
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	b.WriteString("\nYour reply to the last message:")
	return b.String()
}

func (g *GeminiEngine) canUseModel(m geminiModel) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	if now.YearDay() != g.lastResetDay.YearDay() {
		g.dailyCount = make(map[string]int)
		g.lastResetDay = now
	}
	if now.Sub(g.lastResetMin) >= time.Minute {
		g.minuteCount = make(map[string]int)
		g.lastResetMin = now
	}
	return g.dailyCount[m.Name] < m.RPD && g.minuteCount[m.Name] < m.RPM
}

func (g *GeminiEngine) recordUsage(m geminiModel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyCount[m.Name]++
	g.minuteCount[m.Name]++
}
