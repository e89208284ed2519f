// Package platform wraps the social platform's REST API behind the abstract
// capability contract the pipeline consumes.
package platform

import (
	"context"

	"github.com/replyforge/mentionbot/internal/models"
)

// Page is one page of a mentions (or lookup) query, including the expanded
// referenced messages and authors the API returns alongside the data.
type Page struct {
	Messages  []models.Message
	Includes  []models.Message
	Users     []models.User
	NextToken string
}

// Client defines the platform operations the pipeline needs. All methods
// return classified errors (boterr.Error) for API failures.
type Client interface {
	// FindMyIdentity returns the authenticated bot account.
	FindMyIdentity(ctx context.Context) (*models.User, error)

	// FetchMentionsPage returns one page of mentions of accountID newer than
	// sinceID. Pass the previous page's NextToken to continue.
	FetchMentionsPage(ctx context.Context, accountID, sinceID, pageToken string) (*Page, error)

	// FetchByID looks up a single message. A deleted or protected message
	// yields a final platform:forbidden error.
	FetchByID(ctx context.Context, id string) (*models.Message, error)

	// FetchManyByID looks up up to 100 messages at once.
	FetchManyByID(ctx context.Context, ids []string) (*Page, error)

	// PublishReply posts text as a reply to parentID and returns the new
	// message id.
	PublishReply(ctx context.Context, parentID, text string) (string, error)

	// Refresh re-acquires credentials after an auth failure.
	Refresh(ctx context.Context) error
}
