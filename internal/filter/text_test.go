package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPrompt(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain mention", "@BotHandle yoooo", "yoooo"},
		{"link only", "@BotHandle https://t.co/abc", ""},
		{"multiple leading handles", "@alice @BotHandle what is this", "what is this"},
		{"embedded link stripped", "@BotHandle check https://t.co/xyz please", "check  please"},
		{"leading comma cleaned", "@BotHandle , now what", "now what"},
		{"no handles", "just a thought", "just a thought"},
		{"handle mid-text kept", "@BotHandle ask @alice about it", "ask @alice about it"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractPrompt(tt.text))
		})
	}
}

func TestPrefixMentions(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		isReply     bool
		wantCount   int
		wantHandles []string
	}{
		{
			name: "reply counts only the leading run", text: "@alice @BotHandle hey @carol",
			isReply: true, wantCount: 1, wantHandles: []string{"@alice", "@bothandle"},
		},
		{
			name: "top-level counts every handle", text: "@BotHandle hey @carol",
			isReply: false, wantCount: 1, wantHandles: []string{"@bothandle", "@carol"},
		},
		{
			name: "reply without leading handles", text: "thanks @BotHandle",
			isReply: true, wantCount: 0, wantHandles: nil,
		},
		{
			name: "double bot mention", text: "@BotHandle @BotHandle ping",
			isReply: true, wantCount: 2, wantHandles: []string{"@bothandle", "@bothandle"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, handles := PrefixMentions(tt.text, "@bothandle", tt.isReply)
			assert.Equal(t, tt.wantCount, count)
			assert.Equal(t, tt.wantHandles, handles)
		})
	}
}

func TestStripHandles(t *testing.T) {
	assert.Equal(t, "thanks  for this", StripHandles("thanks @alice for this"))
	assert.Equal(t, "", StripHandles("@alice @bob"))
}

func TestIsLikelyAutomationUsername(t *testing.T) {
	assert.True(t, IsLikelyAutomationUsername("threadreaderapp"))
	assert.True(t, IsLikelyAutomationUsername("SomeReplyBot"))
	assert.True(t, IsLikelyAutomationUsername("pricegpt"))
	assert.False(t, IsLikelyAutomationUsername("alice"))
	assert.False(t, IsLikelyAutomationUsername("robotics_fan42"))
}
