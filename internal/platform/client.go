package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/replyforge/mentionbot/internal/boterr"
	"github.com/replyforge/mentionbot/internal/models"
)

const defaultBaseURL = "https://api.twitter.com/2"

// RESTClient is the resty-backed implementation of Client.
type RESTClient struct {
	client  *resty.Client
	baseURL string

	mu          sync.RWMutex
	bearerToken string

	refreshURL   string
	refreshToken string
	clientID     string

	publishLimiter  *rate.Limiter
	mentionsLimiter *rate.Limiter
	lookupLimiter   *rate.Limiter
	lookupNLimiter  *rate.Limiter
}

// Ensure RESTClient implements Client
var _ Client = (*RESTClient)(nil)

// Options configures the REST client.
type Options struct {
	BaseURL      string
	BearerToken  string
	APIPlan      string // "free", "basic", "pro", "enterprise"
	RefreshURL   string
	RefreshToken string
	ClientID     string
}

// NewRESTClient creates a platform client throttled for the given API plan.
func NewRESTClient(opts Options) *RESTClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	limits := limitsForPlan(opts.APIPlan)

	return &RESTClient{
		client: resty.New().
			SetTimeout(30 * time.Second).
			SetHeader("User-Agent", "mention-reply-bot/1.0"),
		baseURL:         baseURL,
		bearerToken:     opts.BearerToken,
		refreshURL:      opts.RefreshURL,
		refreshToken:    opts.RefreshToken,
		clientID:        opts.ClientID,
		publishLimiter:  newLimiter(limits.publishReply),
		mentionsLimiter: newLimiter(limits.mentions),
		lookupLimiter:   newLimiter(limits.lookupOne),
		lookupNLimiter:  newLimiter(limits.lookupMany),
	}
}

// Wire types. The API expands referenced messages and their authors into an
// "includes" block alongside the page data.

type apiMessage struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	AuthorID       string `json:"author_id"`
	ConversationID string `json:"conversation_id"`
	CreatedAt      string `json:"created_at"`
	PublicMetrics  struct {
		RetweetCount int `json:"retweet_count"`
		LikeCount    int `json:"like_count"`
		ReplyCount   int `json:"reply_count"`
	} `json:"public_metrics"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
}

type apiUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Name          string `json:"name"`
	PublicMetrics struct {
		FollowersCount int `json:"followers_count"`
	} `json:"public_metrics"`
}

type apiIncludes struct {
	Tweets []apiMessage `json:"tweets"`
	Users  []apiUser    `json:"users"`
}

type apiPage struct {
	Data     []apiMessage `json:"data"`
	Includes apiIncludes  `json:"includes"`
	Meta     struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

type apiErrorBody struct {
	Detail           string `json:"detail"`
	Title            string `json:"title"`
	ErrorDescription string `json:"error_description"`
}

func toMessage(m apiMessage) models.Message {
	msg := models.Message{
		ID:             m.ID,
		AuthorID:       m.AuthorID,
		Text:           m.Text,
		ConversationID: m.ConversationID,
		CreatedAt:      m.CreatedAt,
		Metrics: models.Metrics{
			Likes:   m.PublicMetrics.LikeCount,
			Reposts: m.PublicMetrics.RetweetCount,
			Replies: m.PublicMetrics.ReplyCount,
		},
	}
	for _, ref := range m.ReferencedTweets {
		msg.References = append(msg.References, models.MessageRef{Type: ref.Type, ID: ref.ID})
	}
	return msg
}

func toUser(u apiUser) models.User {
	return models.User{
		ID:        u.ID,
		Username:  u.Username,
		Name:      u.Name,
		Followers: u.PublicMetrics.FollowersCount,
	}
}

func toPage(p *apiPage) *Page {
	page := &Page{NextToken: p.Meta.NextToken}
	for _, m := range p.Data {
		page.Messages = append(page.Messages, toMessage(m))
	}
	for _, m := range p.Includes.Tweets {
		page.Includes = append(page.Includes, toMessage(m))
	}
	for _, u := range p.Includes.Users {
		page.Users = append(page.Users, toUser(u))
	}
	return page
}

func errDetail(body []byte) string {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if parsed.Detail != "" {
		return parsed.Detail
	}
	if parsed.ErrorDescription != "" {
		return parsed.ErrorDescription
	}
	return parsed.Title
}

const expansionParams = "expansions=author_id,referenced_tweets.id,referenced_tweets.id.author_id" +
	"&tweet.fields=author_id,conversation_id,created_at,public_metrics,referenced_tweets,text" +
	"&user.fields=id,name,public_metrics,username"

func (c *RESTClient) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bearerToken
}

func (c *RESTClient) get(ctx context.Context, limiter *rate.Limiter, path, label string) (*resty.Response, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.token()).
		Get(c.baseURL + path)
	if err != nil {
		return nil, boterr.Wrap(err, boterr.Network, false, label)
	}
	if resp.StatusCode() >= 400 {
		return nil, boterr.FromStatus(resp.StatusCode(), errDetail(resp.Body()), label)
	}
	return resp, nil
}

func (c *RESTClient) FindMyIdentity(ctx context.Context) (*models.User, error) {
	resp, err := c.get(ctx, c.lookupLimiter, "/users/me", "fetching bot identity")
	if err != nil {
		return nil, err
	}

	var result struct {
		Data apiUser `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse identity response: %w", err)
	}
	if result.Data.ID == "" {
		return nil, boterr.New(boterr.PlatformUnknown, false, "fetching bot identity: empty response")
	}

	user := toUser(result.Data)
	return &user, nil
}

func (c *RESTClient) FetchMentionsPage(ctx context.Context, accountID, sinceID, pageToken string) (*Page, error) {
	path := fmt.Sprintf("/users/%s/mentions?max_results=100&%s", url.PathEscape(accountID), expansionParams)
	if sinceID != "" {
		path += "&since_id=" + url.QueryEscape(sinceID)
	}
	if pageToken != "" {
		path += "&pagination_token=" + url.QueryEscape(pageToken)
	}

	resp, err := c.get(ctx, c.mentionsLimiter, path, fmt.Sprintf("fetching mentions for account %s", accountID))
	if err != nil {
		return nil, err
	}

	var parsed apiPage
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse mentions response: %w", err)
	}

	logrus.Debugf("Fetched mentions page: %d results, next token %q", parsed.Meta.ResultCount, parsed.Meta.NextToken)
	return toPage(&parsed), nil
}

func (c *RESTClient) FetchByID(ctx context.Context, id string) (*models.Message, error) {
	path := fmt.Sprintf("/tweets/%s?%s", url.PathEscape(id), expansionParams)

	resp, err := c.get(ctx, c.lookupLimiter, path, fmt.Sprintf("fetching message %s", id))
	if err != nil {
		return nil, err
	}

	var result struct {
		Data *apiMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse message response: %w", err)
	}
	if result.Data == nil {
		// The API reports deleted messages as an empty body with 200.
		return nil, boterr.New(boterr.PlatformForbidden, true, "message %s not found (possibly deleted)", id)
	}

	msg := toMessage(*result.Data)
	return &msg, nil
}

func (c *RESTClient) FetchManyByID(ctx context.Context, idList []string) (*Page, error) {
	path := fmt.Sprintf("/tweets?ids=%s&%s", url.QueryEscape(strings.Join(idList, ",")), expansionParams)

	resp, err := c.get(ctx, c.lookupNLimiter, path, fmt.Sprintf("fetching %d messages", len(idList)))
	if err != nil {
		return nil, err
	}

	var parsed apiPage
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse messages response: %w", err)
	}

	return toPage(&parsed), nil
}

func (c *RESTClient) PublishReply(ctx context.Context, parentID, text string) (string, error) {
	if err := c.publishLimiter.Wait(ctx); err != nil {
		return "", err
	}

	label := fmt.Sprintf("publishing reply to %s", parentID)

	body := map[string]interface{}{
		"text": text,
		"reply": map[string]string{
			"in_reply_to_tweet_id": parentID,
		},
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.token()).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(c.baseURL + "/tweets")
	if err != nil {
		return "", boterr.Wrap(err, boterr.Network, false, label)
	}
	if resp.StatusCode() >= 400 {
		return "", boterr.FromStatus(resp.StatusCode(), errDetail(resp.Body()), label)
	}

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("failed to parse publish response: %w", err)
	}
	if result.Data.ID == "" {
		return "", boterr.New(boterr.PlatformUnknown, false, "%s: empty publish response", label)
	}

	logrus.Infof("Published reply %s to message %s", result.Data.ID, parentID)
	return result.Data.ID, nil
}

// Refresh exchanges the refresh token for a new bearer token. It implements
// the credential collaborator contract the retry loop invokes on auth errors.
func (c *RESTClient) Refresh(ctx context.Context) error {
	if c.refreshURL == "" || c.refreshToken == "" {
		logrus.Warn("Credential refresh requested but no refresh endpoint configured")
		return nil
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": c.refreshToken,
			"client_id":     c.clientID,
		}).
		Post(c.refreshURL)
	if err != nil {
		return boterr.Wrap(err, boterr.Network, false, "refreshing credentials")
	}
	if resp.StatusCode() >= 400 {
		return boterr.FromStatus(resp.StatusCode(), errDetail(resp.Body()), "refreshing credentials")
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return fmt.Errorf("failed to parse token response: %w", err)
	}
	if result.AccessToken == "" {
		return boterr.New(boterr.PlatformAuth, false, "refreshing credentials: empty access token")
	}

	c.mu.Lock()
	c.bearerToken = result.AccessToken
	if result.RefreshToken != "" {
		c.refreshToken = result.RefreshToken
	}
	c.mu.Unlock()

	logrus.Info("Refreshed platform credentials")
	return nil
}
