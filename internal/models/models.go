package models

import "time"

// Message is a raw platform message as returned by the platform API.
type Message struct {
	ID             string       `json:"id"`
	AuthorID       string       `json:"author_id"`
	Text           string       `json:"text"`
	ConversationID string       `json:"conversation_id,omitempty"`
	CreatedAt      string       `json:"created_at,omitempty"`
	References     []MessageRef `json:"references,omitempty"`
	Metrics        Metrics      `json:"metrics"`
}

// MessageRef links a message to another message it references.
type MessageRef struct {
	Type string `json:"type"` // "replied_to", "quoted"
	ID   string `json:"id"`
}

// RepliedToID returns the id of the message this one replies to, or "" when
// it is a top-level message.
func (m *Message) RepliedToID() string {
	for _, ref := range m.References {
		if ref.Type == "replied_to" {
			return ref.ID
		}
	}
	return ""
}

// Metrics holds engagement counters for a message.
type Metrics struct {
	Likes   int `json:"likes"`
	Reposts int `json:"reposts"`
	Replies int `json:"replies"`
}

// User is a platform account.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Name      string `json:"name,omitempty"`
	Followers int    `json:"followers"`
}

// Mention is a message under consideration in the current cycle, together
// with the fields derived while it moves through the pipeline. Each stage
// returns an enriched copy rather than annotating shared state.
type Mention struct {
	Message

	Prompt          string  `json:"prompt"`
	IsReply         bool    `json:"is_reply"`
	NumBotMentions  int     `json:"num_bot_mentions"`
	PriorityScore   float64 `json:"priority_score"`
	AuthorFollowers int     `json:"author_followers"`
}

// InteractionRecord is the durable record of one prompt/response exchange,
// keyed by the prompt message id. It is created on the first resolution
// attempt and upserted on every attempt so that partial state is resumable.
type InteractionRecord struct {
	ID string `json:"id"` // prompt message id

	PromptMessageID string `json:"prompt_message_id"`
	PromptUserID    string `json:"prompt_user_id"`
	PromptUsername  string `json:"prompt_username,omitempty"`
	Prompt          string `json:"prompt"`

	Response          string `json:"response,omitempty"`
	ResponseMessageID string `json:"response_message_id,omitempty"`

	ParentInteractionID string `json:"parent_interaction_id,omitempty"`

	Error        string `json:"error,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorStatus  int    `json:"error_status,omitempty"`
	IsErrorFinal bool   `json:"is_error_final,omitempty"`

	PriorityScore   float64   `json:"priority_score,omitempty"`
	AuthorFollowers int       `json:"author_followers,omitempty"`
	IsReply         bool      `json:"is_reply,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Resolved reports whether this record is terminal: it has a generated
// response, or a final error.
func (r *InteractionRecord) Resolved() bool {
	return r.Response != "" || r.IsErrorFinal
}

// Watermark is the persisted progress cursor for one bot account. SinceID is
// the inclusive bound below which every mention is fully resolved.
// MinUnprocessedID tracks the oldest candidate seen this cycle that was not
// finished; the supervisor rolls SinceID back to it so no unresolved mention
// is ever skipped.
type Watermark struct {
	SinceID          string `json:"since_id,omitempty"`
	MinUnprocessedID string `json:"min_unprocessed_id,omitempty"`
}

// Batch is the working state of one supervisor cycle.
type Batch struct {
	Mentions []Mention
	Users    map[string]User
	Messages map[string]Message

	SinceID          string
	MinUnprocessedID string

	NumFetched    int
	NumValid      int
	NumCandidates int
	NumPostponed  int

	Records []InteractionRecord

	HasNetworkError   bool
	HasRateLimitError bool
	HasAuthError      bool
}

// Productive reports whether the cycle did real work without hitting a
// batch-level error condition.
func (b *Batch) Productive() bool {
	return len(b.Mentions) > 0 && !b.HasNetworkError && !b.HasRateLimitError && !b.HasAuthError
}
