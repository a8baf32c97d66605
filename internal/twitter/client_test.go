package twitter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	gotwitter "github.com/g8rswimmer/go-twitter/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rosebud-x-bot/internal/bot"
)

type fakeAPI struct {
	users         []*gotwitter.UserObj
	mentions      *gotwitter.TweetRaw
	lookup        map[string]*gotwitter.TweetRaw
	search        *gotwitter.TweetRaw
	lookupErr     error
	searchErr     error
	createErr     error
	createdID     string
	lastSearch    gotwitter.TweetRecentSearchOpts
	lastQuery     string
	lastCreate    gotwitter.CreateTweetRequest
	mentionOpts   gotwitter.UserMentionTimelineOpts
	mentionsErr   error
	userLookupErr error
}

func (f *fakeAPI) UserNameLookup(ctx context.Context, usernames []string, opts gotwitter.UserLookupOpts) (*gotwitter.UserLookupResponse, error) {
	if f.userLookupErr != nil {
		return nil, f.userLookupErr
	}
	return &gotwitter.UserLookupResponse{Raw: &gotwitter.UserRaw{Users: f.users}}, nil
}

func (f *fakeAPI) UserMentionTimeline(ctx context.Context, userID string, opts gotwitter.UserMentionTimelineOpts) (*gotwitter.UserMentionTimelineResponse, error) {
	f.mentionOpts = opts
	if f.mentionsErr != nil {
		return nil, f.mentionsErr
	}
	return &gotwitter.UserMentionTimelineResponse{Raw: f.mentions}, nil
}

func (f *fakeAPI) TweetLookup(ctx context.Context, ids []string, opts gotwitter.TweetLookupOpts) (*gotwitter.TweetLookupResponse, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return &gotwitter.TweetLookupResponse{Raw: f.lookup[ids[0]]}, nil
}

func (f *fakeAPI) TweetRecentSearch(ctx context.Context, query string, opts gotwitter.TweetRecentSearchOpts) (*gotwitter.TweetRecentSearchResponse, error) {
	f.lastQuery = query
	f.lastSearch = opts
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return &gotwitter.TweetRecentSearchResponse{Raw: f.search}, nil
}

func (f *fakeAPI) CreateTweet(ctx context.Context, tweet gotwitter.CreateTweetRequest) (*gotwitter.CreateTweetResponse, error) {
	f.lastCreate = tweet
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &gotwitter.CreateTweetResponse{Tweet: &gotwitter.CreateTweetData{ID: f.createdID, Text: tweet.Text}}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, api *fakeAPI, maxThread int) *Client {
	t.Helper()
	client, err := newClient(testLogger(), api, maxThread)
	require.NoError(t, err)
	return client
}

func tweet(id, authorID, text, createdAt string) *gotwitter.TweetObj {
	return &gotwitter.TweetObj{
		ID:             id,
		Text:           text,
		AuthorID:       authorID,
		ConversationID: "100",
		CreatedAt:      createdAt,
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(testLogger(), Credentials{APIKey: "k", APISecret: "s", AccessToken: "t"}, 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access token secret")

	client, err := NewClient(testLogger(), Credentials{APIKey: "k", APISecret: "s", AccessToken: "t", AccessTokenSecret: "ts"}, 50)
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestLookupUserID(t *testing.T) {
	api := &fakeAPI{users: []*gotwitter.UserObj{{ID: "42", UserName: "Rosebud_AI", Name: "Rosebud"}}}
	client := newTestClient(t, api, 50)

	id, err := client.LookupUserID(context.Background(), "@Rosebud_AI")
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	api.users = nil
	_, err = client.LookupUserID(context.Background(), "ghost")
	assert.ErrorIs(t, err, bot.ErrNotFound)
}

func TestListMentions_ResolvesAuthors(t *testing.T) {
	api := &fakeAPI{
		mentions: &gotwitter.TweetRaw{
			Tweets: []*gotwitter.TweetObj{
				tweet("2", "7", "@Rosebud_AI make a game", "2026-10-18T10:00:00.000Z"),
				tweet("1", "8", "@Rosebud_AI another", "2026-10-18T09:00:00.000Z"),
			},
			Includes: &gotwitter.TweetRawIncludes{
				Users: []*gotwitter.UserObj{{ID: "7", UserName: "alice", Name: "Alice"}},
			},
		},
	}
	client := newTestClient(t, api, 50)

	posts, err := client.ListMentions(context.Background(), "42", 20)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	assert.Equal(t, 20, api.mentionOpts.MaxResults)
	assert.Equal(t, "2", posts[0].ID)
	assert.Equal(t, "alice", posts[0].AuthorUsername)
	assert.Equal(t, "Alice", posts[0].AuthorName)
	assert.Equal(t, time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC), posts[0].CreatedAt.UTC())
	assert.Equal(t, bot.UnknownUsername, posts[1].AuthorUsername)
	assert.Equal(t, bot.UnknownName, posts[1].AuthorName)
}

func TestListMentions_ClassifiesErrors(t *testing.T) {
	reset := time.Now().Add(10 * time.Minute).Unix()

	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     Kind
	}{
		{
			name:     "rate limited",
			err:      &gotwitter.ErrorResponse{StatusCode: http.StatusTooManyRequests, RateLimit: &gotwitter.RateLimit{Reset: gotwitter.Epoch(reset)}},
			sentinel: bot.ErrRateLimited,
			kind:     KindRateLimited,
		},
		{
			name:     "unauthorized",
			err:      &gotwitter.HTTPError{StatusCode: http.StatusUnauthorized},
			sentinel: bot.ErrUnauthorized,
			kind:     KindAuth,
		},
		{
			name:     "forbidden",
			err:      &gotwitter.ErrorResponse{StatusCode: http.StatusForbidden},
			sentinel: bot.ErrUnauthorized,
			kind:     KindAuth,
		},
		{
			name: "transport",
			err:  errors.New("connection reset"),
			kind: KindOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, &fakeAPI{mentionsErr: tt.err}, 50)

			_, err := client.ListMentions(context.Background(), "42", 20)
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.kind, apiErr.Kind)
			assert.ErrorIs(t, err, tt.err)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}

func TestRateLimitResetTime(t *testing.T) {
	reset := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	err := classifyError("list mentions", &gotwitter.ErrorResponse{
		StatusCode: http.StatusTooManyRequests,
		RateLimit:  &gotwitter.RateLimit{Reset: gotwitter.Epoch(reset.Unix())},
	})

	got, ok := bot.ResetTime(err)
	require.True(t, ok)
	assert.True(t, reset.Equal(got))
}

func TestReadThread(t *testing.T) {
	t.Run("empty conversation id", func(t *testing.T) {
		client := newTestClient(t, &fakeAPI{}, 50)

		thread, err := client.ReadThread(context.Background(), "")
		require.NoError(t, err)
		assert.Empty(t, thread)
	})

	t.Run("root and replies sorted and deduplicated", func(t *testing.T) {
		api := &fakeAPI{
			lookup: map[string]*gotwitter.TweetRaw{
				"100": {
					Tweets:   []*gotwitter.TweetObj{tweet("100", "1", "my PC wont boot", "2026-10-18T08:00:00.000Z")},
					Includes: &gotwitter.TweetRawIncludes{Users: []*gotwitter.UserObj{{ID: "1", UserName: "bob", Name: "Bob"}}},
				},
			},
			search: &gotwitter.TweetRaw{
				Tweets: []*gotwitter.TweetObj{
					tweet("102", "2", "blue screen again", "2026-10-18T08:10:00.000Z"),
					tweet("100", "1", "my PC wont boot", "2026-10-18T08:00:00.000Z"),
					tweet("101", "1", "windows update broke it", "2026-10-18T08:05:00.000Z"),
				},
				Includes: &gotwitter.TweetRawIncludes{Users: []*gotwitter.UserObj{{ID: "2", UserName: "carol", Name: "Carol"}}},
			},
		}
		client := newTestClient(t, api, 5)

		thread, err := client.ReadThread(context.Background(), "100")
		require.NoError(t, err)
		require.Len(t, thread, 3)

		assert.Equal(t, "conversation_id:100", api.lastQuery)
		assert.Equal(t, 10, api.lastSearch.MaxResults)
		assert.Equal(t, []string{"100", "101", "102"}, []string{thread[0].ID, thread[1].ID, thread[2].ID})
		assert.Equal(t, "bob", thread[1].AuthorUsername)
		assert.Equal(t, "carol", thread[2].AuthorUsername)
	})

	t.Run("root lookup failure is tolerated", func(t *testing.T) {
		api := &fakeAPI{
			lookupErr: &gotwitter.ErrorResponse{StatusCode: http.StatusNotFound},
			search: &gotwitter.TweetRaw{
				Tweets: []*gotwitter.TweetObj{tweet("101", "1", "reply", "2026-10-18T08:05:00.000Z")},
			},
		}
		client := newTestClient(t, api, 50)

		thread, err := client.ReadThread(context.Background(), "100")
		require.NoError(t, err)
		require.Len(t, thread, 1)
		assert.Equal(t, "101", thread[0].ID)
	})

	t.Run("search failure without root fails", func(t *testing.T) {
		api := &fakeAPI{
			lookupErr: &gotwitter.ErrorResponse{StatusCode: http.StatusNotFound},
			searchErr: &gotwitter.HTTPError{StatusCode: http.StatusInternalServerError},
		}
		client := newTestClient(t, api, 50)

		_, err := client.ReadThread(context.Background(), "100")
		require.Error(t, err)
	})

	t.Run("rate limit on root propagates", func(t *testing.T) {
		api := &fakeAPI{lookupErr: &gotwitter.ErrorResponse{StatusCode: http.StatusTooManyRequests}}
		client := newTestClient(t, api, 50)

		_, err := client.ReadThread(context.Background(), "100")
		assert.ErrorIs(t, err, bot.ErrRateLimited)
	})

	t.Run("long thread keeps root and latest replies", func(t *testing.T) {
		api := &fakeAPI{
			lookup: map[string]*gotwitter.TweetRaw{
				"100": {Tweets: []*gotwitter.TweetObj{tweet("100", "1", "root", "2026-10-18T08:00:00.000Z")}},
			},
			search: &gotwitter.TweetRaw{
				Tweets: []*gotwitter.TweetObj{
					tweet("101", "1", "a", "2026-10-18T08:01:00.000Z"),
					tweet("102", "1", "b", "2026-10-18T08:02:00.000Z"),
					tweet("103", "1", "c", "2026-10-18T08:03:00.000Z"),
					tweet("104", "1", "d", "2026-10-18T08:04:00.000Z"),
				},
			},
		}
		client := newTestClient(t, api, 3)

		thread, err := client.ReadThread(context.Background(), "100")
		require.NoError(t, err)
		require.Len(t, thread, 3)
		assert.Equal(t, []string{"100", "103", "104"}, []string{thread[0].ID, thread[1].ID, thread[2].ID})
	})
}

func TestGetPost_NotFound(t *testing.T) {
	client := newTestClient(t, &fakeAPI{lookup: map[string]*gotwitter.TweetRaw{}}, 50)

	_, err := client.GetPost(context.Background(), "999")
	assert.ErrorIs(t, err, bot.ErrNotFound)
}

func TestReply(t *testing.T) {
	api := &fakeAPI{createdID: "555"}
	client := newTestClient(t, api, 50)

	id, err := client.Reply(context.Background(), "hello", "123")
	require.NoError(t, err)
	assert.Equal(t, "555", id)
	assert.Equal(t, "hello", api.lastCreate.Text)
	require.NotNil(t, api.lastCreate.Reply)
	assert.Equal(t, "123", api.lastCreate.Reply.InReplyToTweetID)

	api.createErr = &gotwitter.ErrorResponse{StatusCode: http.StatusForbidden}
	_, err = client.Reply(context.Background(), "hello", "123")
	assert.ErrorIs(t, err, bot.ErrUnauthorized)

	api.createErr = nil
	api.createdID = ""
	_, err = client.Reply(context.Background(), "hello", "123")
	assert.Error(t, err)
}
