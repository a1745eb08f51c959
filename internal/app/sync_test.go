package app_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Amund211/duelhistory/internal/adapters/historyrepository"
	"github.com/Amund211/duelhistory/internal/adapters/kvstore"
	"github.com/Amund211/duelhistory/internal/app"
	"github.com/Amund211/duelhistory/internal/domain"
	"github.com/Amund211/duelhistory/internal/domaintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

type progressRecorder struct {
	mutex   sync.Mutex
	updates []domain.SyncProgress
}

func (r *progressRecorder) record(ctx context.Context, progress domain.SyncProgress) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.updates = append(r.updates, progress)
}

func defaultOptions() app.SyncOptions {
	return app.SyncOptions{
		UserID:      userID,
		BaseDelay:   500 * time.Millisecond,
		FullHistory: false,
		LimitDays:   30,
		MaxPages:    500,
	}
}

func newTestSyncer(t *testing.T, api *fakeAPI, repo historyrepository.HistoryRepository, opts app.SyncOptions) (*app.Syncer, *progressRecorder) {
	t.Helper()

	recorder := &progressRecorder{}
	syncer, err := app.NewSyncer(
		api,
		repo,
		app.BuildEnrichGame(api, userID),
		opts,
		recorder.record,
		func() time.Time { return now },
		immediately,
	)
	require.NoError(t, err)
	return syncer, recorder
}

// Games played every hour, newest first, in pages of the given size
func hourlyGames(t *testing.T, pages, perPage int) [][]fakeGame {
	t.Helper()

	modes := []string{"StandardDuels", "NoMoveDuels", "NmpzDuels"}
	result := make([][]fakeGame, 0, pages)
	for p := range pages {
		page := make([]fakeGame, 0, perPage)
		for g := range perPage {
			i := p*perPage + g
			page = append(page, fakeGame{
				id:         domaintest.NewGameID(t),
				time:       now.Add(-time.Duration(i+1) * time.Hour),
				mode:       modes[i%len(modes)],
				overall:    1500 - i,
				modeRating: 1400 - i,
			})
		}
		result = append(result, page)
	}
	return result
}

func storeKnownGame(t *testing.T, repo historyrepository.HistoryRepository, game fakeGame) {
	t.Helper()

	series, ok := domain.SeriesForCompetitiveMode(game.mode)
	require.True(t, ok)

	history := domaintest.NewHistoryBuilder().
		WithGame(series, game.id, game.time, game.overall, game.modeRating).
		Build()
	require.NoError(t, repo.StoreRatingHistory(t.Context(), userID, history))
}

func storeState(t *testing.T, repo historyrepository.HistoryRepository, state domain.SyncState) {
	t.Helper()
	require.NoError(t, repo.StoreSyncState(t.Context(), userID, state))
}

func TestSyncEndToEnd(t *testing.T) {
	t.Parallel()

	repo := historyrepository.NewKV(kvstore.NewMemoryStore())

	known := fakeGame{id: "known", time: now.Add(-2 * time.Hour), mode: "NoMoveDuels", overall: 990, modeRating: 880}
	storeKnownGame(t, repo, known)

	newGame := fakeGame{id: "new", time: now.Add(-time.Hour), mode: "StandardDuels", overall: 1004, modeRating: 1101}
	api := newFakeAPI(t).withPage(newGame, known)

	syncer, recorder := newTestSyncer(t, api, repo, defaultOptions())

	result, err := syncer.Sync(t.Context(), app.SyncKindUpdateCheck)
	require.NoError(t, err)

	require.Equal(t, domain.SyncStatusSynced, result.Status)
	require.Equal(t, 1, result.NewGames)
	require.Equal(t, 1, result.Pages)
	require.Equal(t, domain.StopReasonEndOfFeed, result.StopReason)
	require.True(t, result.ReachedEnd)
	require.Equal(t, now, result.StartedAt)
	require.Equal(t, now, result.FinishedAt)

	// Only the new game is looked up
	require.Equal(t, []string{"new"}, api.getDuelCalls())
	require.Equal(t, []string{""}, api.getFeedCalls())

	history, err := repo.GetRatingHistory(t.Context(), userID)
	require.NoError(t, err)
	expected := domaintest.NewHistoryBuilder().
		WithGame(domain.SeriesNoMove, "known", known.time, 990, 880).
		WithGame(domain.SeriesMoving, "new", newGame.time, 1004, 1101).
		Build()
	require.Equal(t, expected, history)

	state, err := repo.GetSyncState(t.Context(), userID)
	require.NoError(t, err)
	require.Equal(t, 30, state.LastLimitDays)
	require.NotNil(t, state.LastSyncTimestamp)
	require.True(t, now.Equal(*state.LastSyncTimestamp))
	require.True(t, state.Ended)

	require.Equal(t, []domain.SyncProgress{{NewGames: 1, OldestReached: newGame.time}}, recorder.updates)

	lastResult, ok := syncer.LastResult()
	require.True(t, ok)
	require.Equal(t, result, lastResult)
	require.False(t, syncer.InProgress())
}

func TestSyncStopConditions(t *testing.T) {
	t.Parallel()

	t.Run("stops after the page with a known game when previously ended", func(t *testing.T) {
		t.Parallel()

		repo := historyrepository.NewKV(kvstore.NewMemoryStore())
		games := hourlyGames(t, 5, 3)
		api := newFakeAPI(t)
		for _, page := range games {
			api.withPage(page...)
		}

		// The first game on page 3 is known
		storeKnownGame(t, repo, games[2][0])
		lastSync := now.Add(-time.Hour)
		storeState(t, repo, domain.SyncState{LastLimitDays: 30, LastSyncTimestamp: &lastSync, Ended: true})

		syncer, _ := newTestSyncer(t, api, repo, defaultOptions())
		result, err := syncer.CheckForUpdates(t.Context())
		require.NoError(t, err)

		require.Equal(t, domain.StopReasonCaughtUp, result.StopReason)
		require.True(t, result.ReachedEnd)
		require.Equal(t, domain.SyncStatusSynced, result.Status)
		require.Equal(t, 3, result.Pages)
		require.Equal(t, 8, result.NewGames)
		require.Equal(t, []string{"", "page-1", "page-2"}, api.getFeedCalls())
		require.NotContains(t, api.getDuelCalls(), games[2][0].id)

		history, err := repo.GetRatingHistory(t.Context(), userID)
		require.NoError(t, err)
		require.Len(t, history.Overall, 9)

		state, err := repo.GetSyncState(t.Context(), userID)
		require.NoError(t, err)
		require.True(t, state.Ended)
	})

	t.Run("known game without a previous full pass keeps going", func(t *testing.T) {
		t.Parallel()

		repo := historyrepository.NewKV(kvstore.NewMemoryStore())
		games := hourlyGames(t, 5, 3)
		api := newFakeAPI(t)
		for _, page := range games {
			api.withPage(page...)
		}

		storeKnownGame(t, repo, games[2][0])
		lastSync := now.Add(-time.Hour)
		storeState(t, repo, domain.SyncState{LastLimitDays: 30, LastSyncTimestamp: &lastSync, Ended: false})

		syncer, _ := newTestSyncer(t, api, repo, defaultOptions())
		result, err := syncer.CheckForUpdates(t.Context())
		require.NoError(t, err)

		require.Equal(t, domain.StopReasonEndOfFeed, result.StopReason)
		require.Equal(t, 5, result.Pages)
		require.Equal(t, 14, result.NewGames)

		state, err := repo.GetSyncState(t.Context(), userID)
		require.NoError(t, err)
		require.True(t, state.Ended)
	})

	cutoffFeed := func(t *testing.T) *fakeAPI {
		api := newFakeAPI(t)
		for i := range 6 {
			api.withPage(fakeGame{
				id:         domaintest.NewGameID(t),
				time:       now.Add(-time.Duration(i) * 10 * 24 * time.Hour).Add(-time.Hour),
				mode:       "StandardDuels",
				overall:    1000 + i,
				modeRating: 900 + i,
			})
		}
		return api
	}

	t.Run("stops at the cutoff", func(t *testing.T) {
		t.Parallel()

		repo := historyrepository.NewKV(kvstore.NewMemoryStore())
		api := cutoffFeed(t)

		syncer, _ := newTestSyncer(t, api, repo, defaultOptions())
		result, err := syncer.Backfill(t.Context())
		require.NoError(t, err)

		require.Equal(t, domain.StopReasonCutoffReached, result.StopReason)
		require.False(t, result.ReachedEnd)
		require.Equal(t, domain.SyncStatusSynced, result.Status)
		// The fourth page holds the first game older than 30 days
		require.Equal(t, 4, result.Pages)
		require.Equal(t, 4, result.NewGames)

		state, err := repo.GetSyncState(t.Context(), userID)
		require.NoError(t, err)
		require.False(t, state.Ended)
		require.Equal(t, 30, state.LastLimitDays)
	})

	t.Run("full history ignores the cutoff", func(t *testing.T) {
		t.Parallel()

		repo := historyrepository.NewKV(kvstore.NewMemoryStore())
		api := cutoffFeed(t)

		opts := defaultOptions()
		opts.FullHistory = true
		syncer, _ := newTestSyncer(t, api, repo, opts)
		result, err := syncer.Backfill(t.Context())
		require.NoError(t, err)

		require.Equal(t, domain.StopReasonEndOfFeed, result.StopReason)
		require.Equal(t, 6, result.Pages)
		require.Equal(t, 6, result.NewGames)

		state, err := repo.GetSyncState(t.Context(), userID)
		require.NoError(t, err)
		require.True(t, state.Ended)
		require.Equal(t, domain.FullHistoryLimitDays, state.LastLimitDays)
	})

	t.Run("page cap", func(t *testing.T) {
		t.Parallel()

		repo := historyrepository.NewKV(kvstore.NewMemoryStore())
		api := newFakeAPI(t)
		for _, page := range hourlyGames(t, 5, 2) {
			api.withPage(page...)
		}

		opts := defaultOptions()
		opts.MaxPages = 2
		syncer, _ := newTestSyncer(t, api, repo, opts)
		result, err := syncer.Backfill(t.Context())
		require.NoError(t, err)

		require.Equal(t, domain.StopReasonPageCapReached, result.StopReason)
		require.False(t, result.ReachedEnd)
		require.Equal(t, []string{"", "page-1"}, api.getFeedCalls())
		require.Equal(t, 4, result.NewGames)
	})

	t.Run("page fetch failure keeps earlier progress", func(t *testing.T) {
		t.Parallel()

		repo := historyrepository.NewKV(kvstore.NewMemoryStore())
		api := newFakeAPI(t)
		for _, page := range hourlyGames(t, 3, 2) {
			api.withPage(page...)
		}
		api.failingPage = 1

		syncer, _ := newTestSyncer(t, api, repo, defaultOptions())
		result, err := syncer.Backfill(t.Context())
		require.NoError(t, err)

		require.Equal(t, domain.SyncStatusError, result.Status)
		require.Equal(t, domain.StopReasonFetchFailed, result.StopReason)
		require.False(t, result.ReachedEnd)
		require.Equal(t, 1, result.Pages)
		require.Equal(t, 2, result.NewGames)

		history, err := repo.GetRatingHistory(t.Context(), userID)
		require.NoError(t, err)
		require.Len(t, history.Overall, 2)

		state, err := repo.GetSyncState(t.Context(), userID)
		require.NoError(t, err)
		require.False(t, state.Ended)
		require.NotNil(t, state.LastSyncTimestamp)
	})

	t.Run("ended stays set after a failed pass", func(t *testing.T) {
		t.Parallel()

		repo := historyrepository.NewKV(kvstore.NewMemoryStore())
		api := newFakeAPI(t).withPage(hourlyGames(t, 1, 1)[0]...)
		api.failingPage = 0
		lastSync := now.Add(-time.Hour)
		storeState(t, repo, domain.SyncState{LastLimitDays: 30, LastSyncTimestamp: &lastSync, Ended: true})

		syncer, _ := newTestSyncer(t, api, repo, defaultOptions())
		result, err := syncer.CheckForUpdates(t.Context())
		require.NoError(t, err)
		require.Equal(t, domain.SyncStatusError, result.Status)
		require.Equal(t, 0, result.Pages)

		state, err := repo.GetSyncState(t.Context(), userID)
		require.NoError(t, err)
		require.True(t, state.Ended)
		require.True(t, now.Equal(*state.LastSyncTimestamp))
	})
}

func TestSyncIdempotence(t *testing.T) {
	t.Parallel()

	repo := historyrepository.NewKV(kvstore.NewMemoryStore())
	api := newFakeAPI(t)
	for _, page := range hourlyGames(t, 2, 3) {
		api.withPage(page...)
	}

	syncer, _ := newTestSyncer(t, api, repo, defaultOptions())

	first, err := syncer.Backfill(t.Context())
	require.NoError(t, err)
	require.Equal(t, 6, first.NewGames)
	require.Len(t, api.getDuelCalls(), 6)

	historyAfterFirst, err := repo.GetRatingHistory(t.Context(), userID)
	require.NoError(t, err)

	second, err := syncer.Backfill(t.Context())
	require.NoError(t, err)
	require.Equal(t, domain.SyncStatusUpToDate, second.Status)
	require.Equal(t, domain.StopReasonCaughtUp, second.StopReason)
	require.Equal(t, 0, second.NewGames)
	require.Equal(t, 1, second.Pages)
	require.Len(t, api.getDuelCalls(), 6, "known games are never fetched again")

	historyAfterSecond, err := repo.GetRatingHistory(t.Context(), userID)
	require.NoError(t, err)
	require.Equal(t, historyAfterFirst, historyAfterSecond)

	ids := map[string]struct{}{}
	for _, point := range historyAfterSecond.Overall {
		_, duplicate := ids[point.GameID]
		require.False(t, duplicate)
		ids[point.GameID] = struct{}{}
	}
	require.True(t, historyAfterSecond.IsSorted())
}

func TestSyncProcessesNewestFirst(t *testing.T) {
	t.Parallel()

	repo := historyrepository.NewKV(kvstore.NewMemoryStore())

	newest := fakeGame{id: "newest", time: now.Add(-1 * time.Hour), mode: "NmpzDuels", overall: 1003, modeRating: 703}
	middle := fakeGame{id: "middle", time: now.Add(-2 * time.Hour), mode: "NoMoveDuels", overall: 1002, modeRating: 802}
	oldest := fakeGame{id: "oldest", time: now.Add(-3 * time.Hour), mode: "StandardDuels", overall: 1001, modeRating: 901}

	api := newFakeAPI(t)
	api.withEntries(
		duelEntry(t, middle),
		containerEntry(t, containerEntry(t, duelEntry(t, oldest)), duelEntry(t, newest)),
		json.RawMessage(`{"type":2,"time":"2025-06-01T10:00:00Z","payload":"{}"}`),
		json.RawMessage(`{"type":6,"payload":"{not json"}`),
	)
	for _, game := range []fakeGame{newest, middle, oldest} {
		api.duels[game.id] = duelDetail(game)
	}

	syncer, recorder := newTestSyncer(t, api, repo, defaultOptions())
	result, err := syncer.Backfill(t.Context())
	require.NoError(t, err)
	require.Equal(t, 3, result.NewGames)

	require.Equal(t, []string{"newest", "middle", "oldest"}, api.getDuelCalls())
	require.Equal(t, []domain.SyncProgress{
		{NewGames: 1, OldestReached: newest.time},
		{NewGames: 2, OldestReached: middle.time},
		{NewGames: 3, OldestReached: oldest.time},
	}, recorder.updates)

	history, err := repo.GetRatingHistory(t.Context(), userID)
	require.NoError(t, err)
	expected := domaintest.NewHistoryBuilder().
		WithGame(domain.SeriesNMPZ, "newest", newest.time, 1003, 703).
		WithGame(domain.SeriesNoMove, "middle", middle.time, 1002, 802).
		WithGame(domain.SeriesMoving, "oldest", oldest.time, 1001, 901).
		Build()
	require.Equal(t, expected, history)
}

func TestSyncSkipsGamesWithoutDetails(t *testing.T) {
	t.Parallel()

	repo := historyrepository.NewKV(kvstore.NewMemoryStore())
	games := hourlyGames(t, 1, 3)[0]
	api := newFakeAPI(t).withPage(games...)
	delete(api.duels, games[1].id)

	syncer, _ := newTestSyncer(t, api, repo, defaultOptions())
	result, err := syncer.Backfill(t.Context())
	require.NoError(t, err)
	require.Equal(t, domain.SyncStatusSynced, result.Status)
	require.Equal(t, 2, result.NewGames)
	require.Len(t, api.getDuelCalls(), 3)

	// The game is tried again in the next pass
	api.mutex.Lock()
	api.duels[games[1].id] = duelDetail(games[1])
	api.mutex.Unlock()

	lastSync := now.Add(-time.Hour)
	storeState(t, repo, domain.SyncState{LastLimitDays: 30, LastSyncTimestamp: &lastSync, Ended: false})
	result, err = syncer.CheckForUpdates(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, result.NewGames)
}

func TestSyncFailures(t *testing.T) {
	t.Parallel()

	t.Run("store failure stops the pass", func(t *testing.T) {
		t.Parallel()

		repo := &failingHistoryRepository{
			HistoryRepository: historyrepository.NewKV(kvstore.NewMemoryStore()),
			failStoreHistory:  true,
		}
		api := newFakeAPI(t)
		for _, page := range hourlyGames(t, 2, 2) {
			api.withPage(page...)
		}

		syncer, recorder := newTestSyncer(t, api, repo, defaultOptions())
		result, err := syncer.Backfill(t.Context())
		require.NoError(t, err)

		require.Equal(t, domain.SyncStatusError, result.Status)
		require.Equal(t, domain.StopReasonStoreFailed, result.StopReason)
		require.Equal(t, 0, result.NewGames)
		require.Len(t, api.getDuelCalls(), 1)
		require.Equal(t, []string{""}, api.getFeedCalls())
		require.Empty(t, recorder.updates)
	})

	t.Run("loading the history fails", func(t *testing.T) {
		t.Parallel()

		repo := &failingHistoryRepository{
			HistoryRepository: historyrepository.NewKV(kvstore.NewMemoryStore()),
			failGetHistory:    true,
		}
		api := newFakeAPI(t).withPage(hourlyGames(t, 1, 1)[0]...)

		syncer, _ := newTestSyncer(t, api, repo, defaultOptions())
		result, err := syncer.Backfill(t.Context())
		require.Error(t, err)
		require.Equal(t, domain.SyncStatusError, result.Status)
		require.Empty(t, api.getFeedCalls())

		lastResult, ok := syncer.LastResult()
		require.True(t, ok)
		require.Equal(t, domain.SyncStatusError, lastResult.Status)
		require.False(t, syncer.InProgress())
	})

	t.Run("canceled", func(t *testing.T) {
		t.Parallel()

		repo := historyrepository.NewKV(kvstore.NewMemoryStore())
		api := newFakeAPI(t).withPage(hourlyGames(t, 1, 2)[0]...).withPage(hourlyGames(t, 1, 2)[0]...)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		syncer, _ := newTestSyncer(t, api, repo, defaultOptions())
		result, err := syncer.Backfill(ctx)
		require.NoError(t, err)

		require.Equal(t, domain.SyncStatusError, result.Status)
		require.Equal(t, domain.StopReasonCanceled, result.StopReason)
		require.Empty(t, api.getDuelCalls())

		// The final state is stored regardless
		state, err := repo.GetSyncState(t.Context(), userID)
		require.NoError(t, err)
		require.NotNil(t, state.LastSyncTimestamp)
	})
}

func TestSyncScopeWidening(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T) (*fakeAPI, historyrepository.HistoryRepository) {
		repo := historyrepository.NewKV(kvstore.NewMemoryStore())
		games := hourlyGames(t, 3, 2)
		api := newFakeAPI(t)
		for _, page := range games {
			api.withPage(page...)
		}
		storeKnownGame(t, repo, games[0][1])
		lastSync := now.Add(-time.Hour)
		storeState(t, repo, domain.SyncState{LastLimitDays: 30, LastSyncTimestamp: &lastSync, Ended: true})
		return api, repo
	}

	t.Run("backfill after widening walks the whole feed", func(t *testing.T) {
		t.Parallel()

		api, repo := setup(t)
		opts := defaultOptions()
		opts.FullHistory = true
		syncer, _ := newTestSyncer(t, api, repo, opts)

		result, err := syncer.Backfill(t.Context())
		require.NoError(t, err)
		require.Equal(t, domain.StopReasonEndOfFeed, result.StopReason)
		require.Equal(t, 3, result.Pages)
		require.Equal(t, 5, result.NewGames)

		state, err := repo.GetSyncState(t.Context(), userID)
		require.NoError(t, err)
		require.True(t, state.Ended)
		require.Equal(t, domain.FullHistoryLimitDays, state.LastLimitDays)
	})

	t.Run("update check does not widen", func(t *testing.T) {
		t.Parallel()

		api, repo := setup(t)
		opts := defaultOptions()
		opts.FullHistory = true
		syncer, _ := newTestSyncer(t, api, repo, opts)

		result, err := syncer.CheckForUpdates(t.Context())
		require.NoError(t, err)
		require.Equal(t, domain.StopReasonCaughtUp, result.StopReason)
		require.Equal(t, 1, result.Pages)
		require.Equal(t, 1, result.NewGames)
	})

	t.Run("startup chooses a backfill after widening", func(t *testing.T) {
		t.Parallel()

		api, repo := setup(t)
		opts := defaultOptions()
		opts.LimitDays = 60
		syncer, _ := newTestSyncer(t, api, repo, opts)

		kind, err := syncer.StartupKind(t.Context())
		require.NoError(t, err)
		require.Equal(t, app.SyncKindBackfill, kind)
	})
}

func TestSyncConcurrencyGuard(t *testing.T) {
	t.Parallel()

	repo := historyrepository.NewKV(kvstore.NewMemoryStore())
	api := newFakeAPI(t).withPage(hourlyGames(t, 1, 2)[0]...)
	api.release = make(chan struct{})
	api.started = make(chan struct{}, 1)

	syncer, _ := newTestSyncer(t, api, repo, defaultOptions())

	require.NoError(t, syncer.Start(t.Context(), app.SyncKindUpdateCheck))
	<-api.started
	require.True(t, syncer.InProgress())

	require.ErrorIs(t, syncer.Start(t.Context(), app.SyncKindBackfill), domain.ErrSyncInProgress)

	wg := sync.WaitGroup{}
	for range 10 {
		wg.Go(func() {
			_, err := syncer.Sync(t.Context(), app.SyncKindUpdateCheck)
			assert.ErrorIs(t, err, domain.ErrSyncInProgress)
		})
	}
	wg.Wait()

	close(api.release)
	require.Eventually(t, func() bool { return !syncer.InProgress() }, 5*time.Second, time.Millisecond)

	require.Equal(t, []string{""}, api.getFeedCalls())
	require.Len(t, api.getDuelCalls(), 2)

	result, ok := syncer.LastResult()
	require.True(t, ok)
	require.Equal(t, domain.SyncStatusSynced, result.Status)
	require.Equal(t, 2, result.NewGames)

	// The permit is released once the pass is done
	result, err := syncer.Sync(t.Context(), app.SyncKindUpdateCheck)
	require.NoError(t, err)
	require.Equal(t, domain.SyncStatusUpToDate, result.Status)
}

func TestNewSyncer(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	repo := historyrepository.NewKV(kvstore.NewMemoryStore())
	create := func(opts app.SyncOptions) error {
		_, err := app.NewSyncer(api, repo, app.BuildEnrichGame(api, userID), opts, nil, time.Now, immediately)
		return err
	}

	require.NoError(t, create(defaultOptions()))

	opts := defaultOptions()
	opts.MaxPages = 0
	require.Error(t, create(opts))

	opts = defaultOptions()
	opts.LimitDays = 0
	require.Error(t, create(opts))

	opts.FullHistory = true
	require.NoError(t, create(opts))
}
