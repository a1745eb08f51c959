package geoguessr_test

import (
	"context"
	"testing"
	"time"

	"github.com/Amund211/duelhistory/internal/adapters/geoguessr"
	"github.com/Amund211/duelhistory/internal/config"
	"github.com/Amund211/duelhistory/internal/domain"
	"github.com/Amund211/duelhistory/internal/ratelimiting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockedExecutor struct {
	t           *testing.T
	expectedURL string
	data        string
	err         error
}

func (m *mockedExecutor) Execute(ctx context.Context, url string) ([]byte, error) {
	assert.Equal(m.t, m.expectedURL, url)
	if m.err != nil {
		return nil, m.err
	}
	return []byte(m.data), nil
}

func TestURLs(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://www.geoguessr.com/api/v4/feed/private", geoguessr.FeedPageURL(""))
	require.Equal(t, "https://www.geoguessr.com/api/v4/feed/private?paginationToken=abc%2B%2F%3D", geoguessr.FeedPageURL("abc+/="))
	require.Equal(t, "https://game-server.geoguessr.com/api/duels/0b8e7c1d-52f4-4a39-9d2e-6f1c0a3e5b77", geoguessr.DuelURL("0b8e7c1d-52f4-4a39-9d2e-6f1c0a3e5b77"))
}

func TestGetFeedPage(t *testing.T) {
	t.Parallel()

	t.Run("with cursor", func(t *testing.T) {
		t.Parallel()

		api := geoguessr.NewAPI(&mockedExecutor{
			t:           t,
			expectedURL: "https://www.geoguessr.com/api/v4/feed/private?paginationToken=cursor-1",
			data:        `{"entries":[{"type":2},{"type":6}],"paginationToken":"cursor-2"}`,
		})

		page, err := api.GetFeedPage(t.Context(), "cursor-1")
		require.NoError(t, err)
		require.Len(t, page.Entries, 2)
		require.JSONEq(t, `{"type":2}`, string(page.Entries[0]))
		require.Equal(t, "cursor-2", page.PaginationToken)
	})

	t.Run("end of feed", func(t *testing.T) {
		t.Parallel()

		for _, data := range []string{
			`{"entries":[]}`,
			`{"entries":[],"paginationToken":null}`,
			`{"paginationToken":""}`,
		} {
			api := geoguessr.NewAPI(&mockedExecutor{t: t, expectedURL: "https://www.geoguessr.com/api/v4/feed/private", data: data})

			page, err := api.GetFeedPage(t.Context(), "")
			require.NoError(t, err)
			require.Empty(t, page.PaginationToken)
			require.NotNil(t, page.Entries)
		}
	})

	t.Run("malformed page", func(t *testing.T) {
		t.Parallel()

		api := geoguessr.NewAPI(&mockedExecutor{t: t, expectedURL: "https://www.geoguessr.com/api/v4/feed/private", data: `{"entries":{}}`})

		_, err := api.GetFeedPage(t.Context(), "")
		require.ErrorIs(t, err, domain.ErrMalformedResponse)
	})

	t.Run("executor errors are passed through", func(t *testing.T) {
		t.Parallel()

		for _, executorErr := range []error{domain.ErrTemporarilyUnavailable, domain.ErrNoData, context.Canceled} {
			api := geoguessr.NewAPI(&mockedExecutor{t: t, expectedURL: "https://www.geoguessr.com/api/v4/feed/private", err: executorErr})

			_, err := api.GetFeedPage(t.Context(), "")
			require.ErrorIs(t, err, executorErr)
		}
	})
}

func TestGetDuel(t *testing.T) {
	t.Parallel()

	const gameID = "0b8e7c1d-52f4-4a39-9d2e-6f1c0a3e5b77"
	const duelURL = "https://game-server.geoguessr.com/api/duels/" + gameID

	t.Run("ranked duel", func(t *testing.T) {
		t.Parallel()

		api := geoguessr.NewAPI(&mockedExecutor{
			t:           t,
			expectedURL: duelURL,
			data: `{
				"gameId": "0b8e7c1d-52f4-4a39-9d2e-6f1c0a3e5b77",
				"teams": [
					{"players": [{"playerId": "opponent", "rating": 1000}]},
					{"players": [{"playerId": "me", "progressChange": {"rankedSystemProgress": {
						"gameMode": "NoMoveDuels", "ratingBefore": 990, "ratingAfter": 1004, "gameModeRatingAfter": 870
					}}}]}
				]
			}`,
		})

		detail, err := api.GetDuel(t.Context(), gameID)
		require.NoError(t, err)

		player, ok := detail.FindPlayer("me")
		require.True(t, ok)
		progress, ok := player.RankedProgress()
		require.True(t, ok)
		require.Equal(t, "NoMoveDuels", progress.GameMode)
		require.Equal(t, 1004, *progress.RatingAfter)
		require.Equal(t, 870, *progress.GameModeRatingAfter)

		opponent, ok := detail.FindPlayer("opponent")
		require.True(t, ok)
		_, ok = opponent.RankedProgress()
		require.False(t, ok)

		_, ok = detail.FindPlayer("someone else")
		require.False(t, ok)
	})

	t.Run("progress without ranked system progress", func(t *testing.T) {
		t.Parallel()

		api := geoguessr.NewAPI(&mockedExecutor{
			t:           t,
			expectedURL: duelURL,
			data:        `{"teams": [{"players": [{"playerId": "me", "progressChange": {"xpProgressions": []}}]}]}`,
		})

		detail, err := api.GetDuel(t.Context(), gameID)
		require.NoError(t, err)
		player, ok := detail.FindPlayer("me")
		require.True(t, ok)
		_, ok = player.RankedProgress()
		require.False(t, ok)
	})

	t.Run("malformed duel", func(t *testing.T) {
		t.Parallel()

		api := geoguessr.NewAPI(&mockedExecutor{t: t, expectedURL: duelURL, data: `{"teams": "nope"}`})

		_, err := api.GetDuel(t.Context(), gameID)
		require.ErrorIs(t, err, domain.ErrMalformedResponse)
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()

		api := geoguessr.NewAPI(&mockedExecutor{t: t, expectedURL: duelURL, err: domain.ErrNoData})

		_, err := api.GetDuel(t.Context(), gameID)
		require.ErrorIs(t, err, domain.ErrNoData)
	})
}

func TestNewAPIOrMock(t *testing.T) {
	scheduler, stop, err := ratelimiting.NewRequestScheduler(time.After)
	require.NoError(t, err)
	t.Cleanup(stop)

	t.Run("mock in development without cookie", func(t *testing.T) {
		t.Setenv("DUELHISTORY_ENVIRONMENT", "development")
		conf, err := config.ConfigFromEnv()
		require.NoError(t, err)

		api, err := geoguessr.NewAPIOrMock(conf, newMockedHttpClient(t), scheduler, time.After)
		require.NoError(t, err)
		require.NotNil(t, api)

		page, err := api.GetFeedPage(t.Context(), "")
		require.NoError(t, err)
		require.NotEmpty(t, page.Entries)
	})

	t.Run("real api with cookie", func(t *testing.T) {
		t.Setenv("DUELHISTORY_ENVIRONMENT", "development")
		t.Setenv("GEOGUESSR_AUTH_COOKIE", "cookie")
		conf, err := config.ConfigFromEnv()
		require.NoError(t, err)

		httpClient := newMockedHttpClient(t, mockedResponse{statusCode: 200, body: `{"entries":[]}`})
		api, err := geoguessr.NewAPIOrMock(conf, httpClient, scheduler, time.After)
		require.NoError(t, err)

		_, err = api.GetFeedPage(t.Context(), "")
		require.NoError(t, err)
		require.Equal(t, 1, httpClient.requestCount())
	})
}
