package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Amund211/duelhistory/internal/adapters/geoguessr"
	"github.com/Amund211/duelhistory/internal/adapters/historyrepository"
	"github.com/Amund211/duelhistory/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userID = "5f1a2b3c4d5e6f7a8b9c0d1e"

type fakeGame struct {
	id         string
	time       time.Time
	mode       string
	overall    int
	modeRating int
}

func duelEntry(t *testing.T, game fakeGame) json.RawMessage {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"gameId":              game.id,
		"gameMode":            "Duels",
		"competitiveGameMode": game.mode,
	})
	require.NoError(t, err)

	entry, err := json.Marshal(map[string]any{
		"type":    6,
		"time":    game.time,
		"payload": string(payload),
	})
	require.NoError(t, err)
	return entry
}

func containerEntry(t *testing.T, children ...json.RawMessage) json.RawMessage {
	t.Helper()

	payload, err := json.Marshal(children)
	require.NoError(t, err)

	entry, err := json.Marshal(map[string]any{
		"type":    7,
		"time":    time.Time{},
		"payload": string(payload),
	})
	require.NoError(t, err)
	return entry
}

func duelDetail(game fakeGame) geoguessr.DuelDetail {
	overall := game.overall
	modeRating := game.modeRating
	return geoguessr.DuelDetail{
		Teams: []geoguessr.DuelTeam{
			{Players: []geoguessr.DuelPlayer{{PlayerID: "0123456789abcdef01234567"}}},
			{Players: []geoguessr.DuelPlayer{{
				PlayerID: userID,
				ProgressChange: &geoguessr.ProgressChange{
					RankedSystemProgress: &geoguessr.RankedSystemProgress{
						GameMode:            game.mode,
						RatingAfter:         &overall,
						GameModeRatingAfter: &modeRating,
					},
				},
			}}},
		},
	}
}

func pageCursor(index int) string {
	return fmt.Sprintf("page-%d", index)
}

// A feed where page i is requested with cursor page-i, and the first page with an empty cursor
type fakeAPI struct {
	t *testing.T

	mutex sync.Mutex
	pages [][]json.RawMessage
	duels map[string]geoguessr.DuelDetail

	// Index of a page that fails to load, -1 for none
	failingPage int
	// Closed to release calls to GetFeedPage, nil to not block
	release chan struct{}
	started chan struct{}

	feedCalls []string
	duelCalls []string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	return &fakeAPI{
		t:           t,
		pages:       [][]json.RawMessage{},
		duels:       map[string]geoguessr.DuelDetail{},
		failingPage: -1,
		feedCalls:   []string{},
		duelCalls:   []string{},
	}
}

// Add a page containing the given games, all of which have details available
func (f *fakeAPI) withPage(games ...fakeGame) *fakeAPI {
	entries := []json.RawMessage{}
	for _, game := range games {
		entries = append(entries, duelEntry(f.t, game))
		f.duels[game.id] = duelDetail(game)
	}
	return f.withEntries(entries...)
}

func (f *fakeAPI) withEntries(entries ...json.RawMessage) *fakeAPI {
	f.pages = append(f.pages, entries)
	return f
}

func (f *fakeAPI) GetFeedPage(ctx context.Context, cursor string) (geoguessr.FeedPage, error) {
	f.mutex.Lock()
	f.feedCalls = append(f.feedCalls, cursor)
	release := f.release
	started := f.started
	f.mutex.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return geoguessr.FeedPage{}, ctx.Err()
		}
	}

	index := -1
	if cursor == "" {
		index = 0
	}
	for i := range f.pages {
		if cursor == pageCursor(i) {
			index = i
		}
	}
	if !assert.GreaterOrEqual(f.t, index, 0, "unknown cursor %s", cursor) || index >= len(f.pages) {
		return geoguessr.FeedPage{}, domain.ErrNoData
	}
	if index == f.failingPage {
		return geoguessr.FeedPage{}, fmt.Errorf("%w: page %d", domain.ErrTemporarilyUnavailable, index)
	}

	page := geoguessr.FeedPage{Entries: f.pages[index]}
	if index+1 < len(f.pages) {
		page.PaginationToken = pageCursor(index + 1)
	}
	return page, nil
}

func (f *fakeAPI) GetDuel(ctx context.Context, gameID string) (geoguessr.DuelDetail, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.duelCalls = append(f.duelCalls, gameID)
	detail, ok := f.duels[gameID]
	if !ok {
		return geoguessr.DuelDetail{}, domain.ErrNoData
	}
	return detail, nil
}

func (f *fakeAPI) getFeedCalls() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string{}, f.feedCalls...)
}

func (f *fakeAPI) getDuelCalls() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string{}, f.duelCalls...)
}

type failingHistoryRepository struct {
	historyrepository.HistoryRepository

	failStoreHistory bool
	failGetHistory   bool
}

func (r *failingHistoryRepository) GetRatingHistory(ctx context.Context, userID string) (domain.RatingHistory, error) {
	if r.failGetHistory {
		return domain.RatingHistory{}, fmt.Errorf("get failed")
	}
	return r.HistoryRepository.GetRatingHistory(ctx, userID)
}

func (r *failingHistoryRepository) StoreRatingHistory(ctx context.Context, userID string, history domain.RatingHistory) error {
	if r.failStoreHistory {
		return fmt.Errorf("store failed")
	}
	return r.HistoryRepository.StoreRatingHistory(ctx, userID, history)
}

func immediately(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}
