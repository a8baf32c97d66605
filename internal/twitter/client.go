// Package twitter adapts the X API v2 to the bot's mention, thread and reply
// interfaces.
package twitter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	gotwitter "github.com/g8rswimmer/go-twitter/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"rosebud-x-bot/internal/bot"
)

// DefaultHost is the X API base URL
const DefaultHost = "https://api.twitter.com"

const (
	userCacheSize = 512

	// recent search accepts between 10 and 100 results per page
	minSearchResults = 10
	maxSearchResults = 100
)

// Credentials are the OAuth 1.0a user-context keys of the bot account
type Credentials struct {
	APIKey            string
	APISecret         string
	AccessToken       string
	AccessTokenSecret string
}

// api is the subset of the go-twitter client used here
type api interface {
	UserNameLookup(ctx context.Context, usernames []string, opts gotwitter.UserLookupOpts) (*gotwitter.UserLookupResponse, error)
	UserMentionTimeline(ctx context.Context, userID string, opts gotwitter.UserMentionTimelineOpts) (*gotwitter.UserMentionTimelineResponse, error)
	TweetLookup(ctx context.Context, ids []string, opts gotwitter.TweetLookupOpts) (*gotwitter.TweetLookupResponse, error)
	TweetRecentSearch(ctx context.Context, query string, opts gotwitter.TweetRecentSearchOpts) (*gotwitter.TweetRecentSearchResponse, error)
	CreateTweet(ctx context.Context, tweet gotwitter.CreateTweetRequest) (*gotwitter.CreateTweetResponse, error)
}

// author is the cached part of a user object
type author struct {
	Username string
	Name     string
}

// Client implements bot.MentionSource, bot.ThreadSource and bot.Poster
type Client struct {
	api             api
	logger          *slog.Logger
	users           *lru.Cache[string, author]
	maxThreadLength int
}

// oauthAuthorizer is a no-op; requests are signed by the oauth1 transport
type oauthAuthorizer struct{}

func (oauthAuthorizer) Add(req *http.Request) {}

// NewHTTPClient returns an http.Client that signs requests with OAuth 1.0a
func NewHTTPClient(creds Credentials) *http.Client {
	config := oauth1.NewConfig(creds.APIKey, creds.APISecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessTokenSecret)
	return config.Client(oauth1.NoContext, token)
}

// NewClient creates an X client for the bot account
func NewClient(logger *slog.Logger, creds Credentials, maxThreadLength int) (*Client, error) {
	for key, value := range map[string]string{
		"api key":             creds.APIKey,
		"api secret":          creds.APISecret,
		"access token":        creds.AccessToken,
		"access token secret": creds.AccessTokenSecret,
	} {
		if value == "" {
			return nil, fmt.Errorf("twitter %s is required", key)
		}
	}

	return newClient(logger, &gotwitter.Client{
		Authorizer: oauthAuthorizer{},
		Client:     NewHTTPClient(creds),
		Host:       DefaultHost,
	}, maxThreadLength)
}

func newClient(logger *slog.Logger, api api, maxThreadLength int) (*Client, error) {
	users, err := lru.New[string, author](userCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create user cache: %w", err)
	}

	return &Client{
		api:             api,
		logger:          logger,
		users:           users,
		maxThreadLength: maxThreadLength,
	}, nil
}

var (
	postFields = []gotwitter.TweetField{
		gotwitter.TweetFieldCreatedAt,
		gotwitter.TweetFieldConversationID,
		gotwitter.TweetFieldAuthorID,
	}
	postExpansions = []gotwitter.Expansion{gotwitter.ExpansionAuthorID}
	userFields     = []gotwitter.UserField{gotwitter.UserFieldUserName, gotwitter.UserFieldName}
)

// LookupUserID resolves a handle to an account ID
func (c *Client) LookupUserID(ctx context.Context, username string) (string, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")

	resp, err := c.api.UserNameLookup(ctx, []string{username}, gotwitter.UserLookupOpts{})
	if err != nil {
		return "", classifyError("lookup user", err)
	}
	if resp == nil || resp.Raw == nil || len(resp.Raw.Users) == 0 || resp.Raw.Users[0] == nil {
		return "", &APIError{Op: "lookup user", Kind: KindNotFound, Err: fmt.Errorf("user @%s not found", username)}
	}

	user := resp.Raw.Users[0]
	c.users.Add(user.ID, author{Username: user.UserName, Name: user.Name})
	return user.ID, nil
}

// ListMentions returns recent mentions of userID in API order (newest first)
func (c *Client) ListMentions(ctx context.Context, userID string, maxResults int) ([]bot.Post, error) {
	resp, err := c.api.UserMentionTimeline(ctx, userID, gotwitter.UserMentionTimelineOpts{
		TweetFields: postFields,
		Expansions:  postExpansions,
		UserFields:  userFields,
		MaxResults:  maxResults,
	})
	if err != nil {
		return nil, classifyError("list mentions", err)
	}
	if resp == nil {
		return nil, nil
	}

	return c.toPosts(resp.Raw), nil
}

// GetPost fetches a single post with its author
func (c *Client) GetPost(ctx context.Context, postID string) (bot.Post, error) {
	resp, err := c.api.TweetLookup(ctx, []string{postID}, gotwitter.TweetLookupOpts{
		TweetFields: postFields,
		Expansions:  postExpansions,
		UserFields:  userFields,
	})
	if err != nil {
		return bot.Post{}, classifyError("get post", err)
	}
	if resp == nil {
		return bot.Post{}, notFound("get post", postID)
	}

	posts := c.toPosts(resp.Raw)
	if len(posts) == 0 {
		return bot.Post{}, notFound("get post", postID)
	}
	return posts[0], nil
}

// ReadThread returns the conversation rooted at conversationID, oldest
// first. The root post is fetched best effort; the rest comes from recent
// search. An empty ID yields an empty context.
func (c *Client) ReadThread(ctx context.Context, conversationID string) (bot.ThreadContext, error) {
	if conversationID == "" {
		return bot.ThreadContext{}, nil
	}

	var thread bot.ThreadContext
	seen := make(map[string]bool)

	root, err := c.GetPost(ctx, conversationID)
	switch {
	case err == nil:
		thread = append(thread, root)
		seen[root.ID] = true
	case isKind(err, KindRateLimited):
		return nil, err
	default:
		c.logger.Warn("Could not fetch conversation root",
			"conversation_id", conversationID,
			"error", err)
	}

	resp, err := c.api.TweetRecentSearch(ctx, "conversation_id:"+conversationID, gotwitter.TweetRecentSearchOpts{
		TweetFields: postFields,
		Expansions:  postExpansions,
		UserFields:  userFields,
		MaxResults:  clamp(c.maxThreadLength, minSearchResults, maxSearchResults),
	})
	if err != nil {
		if len(thread) == 0 {
			return nil, classifyError("search conversation", err)
		}
		c.logger.Warn("Conversation search failed, using root post only",
			"conversation_id", conversationID,
			"error", err)
	} else if resp != nil {
		for _, post := range c.toPosts(resp.Raw) {
			if seen[post.ID] {
				continue
			}
			seen[post.ID] = true
			thread = append(thread, post)
		}
	}

	sort.SliceStable(thread, func(i, j int) bool {
		return thread[i].CreatedAt.Before(thread[j].CreatedAt)
	})

	if c.maxThreadLength > 0 && len(thread) > c.maxThreadLength {
		// Keep the root and the most recent replies
		tail := thread[len(thread)-(c.maxThreadLength-1):]
		thread = append(bot.ThreadContext{thread[0]}, tail...)
	}

	c.logger.Debug("Read conversation",
		"conversation_id", conversationID,
		"posts", len(thread))

	if thread == nil {
		thread = bot.ThreadContext{}
	}
	return thread, nil
}

// Reply posts text as a reply to inReplyToID and returns the new post ID
func (c *Client) Reply(ctx context.Context, text, inReplyToID string) (string, error) {
	resp, err := c.api.CreateTweet(ctx, gotwitter.CreateTweetRequest{
		Text: text,
		Reply: &gotwitter.CreateTweetReply{
			InReplyToTweetID: inReplyToID,
		},
	})
	if err != nil {
		return "", classifyError("create reply", err)
	}
	if resp == nil || resp.Tweet == nil || resp.Tweet.ID == "" {
		return "", &APIError{Op: "create reply", Kind: KindOther, Err: fmt.Errorf("empty create response")}
	}

	return resp.Tweet.ID, nil
}

// toPosts converts a raw payload, resolving authors from includes and cache
func (c *Client) toPosts(raw *gotwitter.TweetRaw) []bot.Post {
	if raw == nil {
		return nil
	}

	if raw.Includes != nil {
		for _, user := range raw.Includes.Users {
			if user != nil {
				c.users.Add(user.ID, author{Username: user.UserName, Name: user.Name})
			}
		}
	}

	posts := make([]bot.Post, 0, len(raw.Tweets))
	for _, tweet := range raw.Tweets {
		if tweet == nil {
			continue
		}

		post := bot.Post{
			ID:             tweet.ID,
			Text:           tweet.Text,
			AuthorID:       tweet.AuthorID,
			AuthorUsername: bot.UnknownUsername,
			AuthorName:     bot.UnknownName,
			ConversationID: tweet.ConversationID,
		}
		if a, ok := c.users.Get(tweet.AuthorID); ok {
			post.AuthorUsername = a.Username
			post.AuthorName = a.Name
		}
		if createdAt, err := time.Parse(time.RFC3339, tweet.CreatedAt); err == nil {
			post.CreatedAt = createdAt
		}

		posts = append(posts, post)
	}
	return posts
}

func isKind(err error, kind Kind) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Kind == kind
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
