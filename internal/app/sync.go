package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Amund211/duelhistory/internal/adapters/geoguessr"
	"github.com/Amund211/duelhistory/internal/adapters/historyrepository"
	"github.com/Amund211/duelhistory/internal/domain"
	"github.com/Amund211/duelhistory/internal/logging"
	"github.com/Amund211/duelhistory/internal/reporting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type SyncKind string

const (
	SyncKindBackfill    SyncKind = "backfill"
	SyncKindUpdateCheck SyncKind = "update-check"
)

const finalStateTimeout = 5 * time.Second

// Acquire-or-reject guard for sync passes
type SyncPermit struct {
	held atomic.Bool
}

func (p *SyncPermit) TryAcquire() bool {
	return p.held.CompareAndSwap(false, true)
}

func (p *SyncPermit) Release() {
	p.held.Store(false)
}

func (p *SyncPermit) Held() bool {
	return p.held.Load()
}

type SyncOptions struct {
	UserID string

	// Delay between feed pages
	BaseDelay time.Duration

	FullHistory bool
	LimitDays   int
	MaxPages    int
}

// Called after every newly merged game
type ProgressFunc func(ctx context.Context, progress domain.SyncProgress)

type syncMetricsCollection struct {
	passCount metric.Int64Counter
	gameCount metric.Int64Counter
}

func setupSyncMetrics(meter metric.Meter) (syncMetricsCollection, error) {
	passCount, err := meter.Int64Counter(
		"app/sync/pass_count",
		metric.WithDescription("Completed sync passes"),
	)
	if err != nil {
		return syncMetricsCollection{}, fmt.Errorf("failed to create pass count metric: %w", err)
	}

	gameCount, err := meter.Int64Counter(
		"app/sync/game_count",
		metric.WithDescription("Games merged into the rating history"),
	)
	if err != nil {
		return syncMetricsCollection{}, fmt.Errorf("failed to create game count metric: %w", err)
	}

	return syncMetricsCollection{
		passCount: passCount,
		gameCount: gameCount,
	}, nil
}

type Syncer struct {
	api        geoguessr.API
	repo       historyrepository.HistoryRepository
	enrichGame EnrichGame
	opts       SyncOptions
	onProgress ProgressFunc

	nowFunc   func() time.Time
	afterFunc func(time.Duration) <-chan time.Time

	permit     SyncPermit
	lastResult atomic.Pointer[domain.SyncResult]

	metrics syncMetricsCollection
	tracer  trace.Tracer
}

func NewSyncer(
	api geoguessr.API,
	repo historyrepository.HistoryRepository,
	enrichGame EnrichGame,
	opts SyncOptions,
	onProgress ProgressFunc,
	nowFunc func() time.Time,
	afterFunc func(time.Duration) <-chan time.Time,
) (*Syncer, error) {
	if opts.MaxPages < 1 {
		return nil, fmt.Errorf("max pages must be at least 1, got %d", opts.MaxPages)
	}
	if !opts.FullHistory && opts.LimitDays < 1 {
		return nil, fmt.Errorf("limit days must be at least 1, got %d", opts.LimitDays)
	}
	if onProgress == nil {
		onProgress = func(context.Context, domain.SyncProgress) {}
	}

	const name = "duelhistory/app/sync"
	metrics, err := setupSyncMetrics(otel.Meter(name))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &Syncer{
		api:        api,
		repo:       repo,
		enrichGame: enrichGame,
		opts:       opts,
		onProgress: onProgress,

		nowFunc:   nowFunc,
		afterFunc: afterFunc,

		metrics: metrics,
		tracer:  otel.Tracer(name),
	}, nil
}

func (s *Syncer) InProgress() bool {
	return s.permit.Held()
}

// The result of the most recent completed pass
func (s *Syncer) LastResult() (domain.SyncResult, bool) {
	result := s.lastResult.Load()
	if result == nil {
		return domain.SyncResult{}, false
	}
	return *result, true
}

// The kind of pass to run when the service starts
func (s *Syncer) StartupKind(ctx context.Context) (SyncKind, error) {
	state, err := s.repo.GetSyncState(ctx, s.opts.UserID)
	if err != nil {
		// NOTE: HistoryRepository implementations handle their own error reporting
		return "", fmt.Errorf("failed to get sync state: %w", err)
	}
	return ChooseStartupSync(state, s.opts.FullHistory, s.opts.LimitDays), nil
}

func (s *Syncer) Backfill(ctx context.Context) (domain.SyncResult, error) {
	return s.Sync(ctx, SyncKindBackfill)
}

func (s *Syncer) CheckForUpdates(ctx context.Context) (domain.SyncResult, error) {
	return s.Sync(ctx, SyncKindUpdateCheck)
}

// Run a sync pass and wait for it to finish
//
// Returns domain.ErrSyncInProgress without doing anything if another pass is running.
func (s *Syncer) Sync(ctx context.Context, kind SyncKind) (domain.SyncResult, error) {
	if !s.permit.TryAcquire() {
		return domain.SyncResult{}, domain.ErrSyncInProgress
	}
	defer s.permit.Release()

	return s.pass(ctx, kind)
}

// Start a sync pass in the background
//
// The pass is detached from the cancellation of ctx.
// Returns domain.ErrSyncInProgress if another pass is running.
func (s *Syncer) Start(ctx context.Context, kind SyncKind) error {
	if !s.permit.TryAcquire() {
		return domain.ErrSyncInProgress
	}

	passCtx := context.WithoutCancel(ctx)
	go func() {
		defer s.permit.Release()

		_, err := s.pass(passCtx, kind)
		if err != nil {
			logging.FromContext(passCtx).ErrorContext(passCtx, "Background sync pass failed", "error", err)
		}
	}()

	return nil
}

// Start an update check in the background
type StartSync func(ctx context.Context) error

func BuildStartUpdateCheck(syncer *Syncer) StartSync {
	return func(ctx context.Context) error {
		return syncer.Start(ctx, SyncKindUpdateCheck)
	}
}

func finalStatus(reason domain.StopReason, newGames int) domain.SyncStatus {
	switch reason {
	case domain.StopReasonFetchFailed, domain.StopReasonStoreFailed, domain.StopReasonCanceled:
		return domain.SyncStatusError
	}
	if newGames > 0 {
		return domain.SyncStatusSynced
	}
	return domain.SyncStatusUpToDate
}

func (s *Syncer) sleep(ctx context.Context, duration time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.afterFunc(duration):
		return true
	}
}

func newestFirst(a, b domain.GameActivity) int {
	return b.Time.Compare(a.Time)
}

func (s *Syncer) pass(ctx context.Context, kind SyncKind) (domain.SyncResult, error) {
	ctx = reporting.AddHubToContext(ctx, "sync")
	ctx = reporting.AddTagsToContext(ctx, map[string]string{"syncKind": string(kind)})
	ctx = reporting.SetUserIDInContext(ctx, s.opts.UserID)
	ctx = logging.AddMetaToContext(ctx, slog.String("component", "syncer"), slog.String("syncKind", string(kind)))
	logger := logging.FromContext(ctx)

	ctx, span := s.tracer.Start(ctx, "Syncer.pass", trace.WithAttributes(attribute.String("kind", string(kind))))
	defer span.End()

	startedAt := s.nowFunc()
	result := domain.SyncResult{
		Status:    domain.SyncStatusError,
		StartedAt: startedAt,
	}

	history, err := s.repo.GetRatingHistory(ctx, s.opts.UserID)
	if err != nil {
		// NOTE: HistoryRepository implementations handle their own error reporting
		span.SetStatus(codes.Error, "failed to get rating history")
		return s.finish(ctx, kind, result), fmt.Errorf("failed to get rating history: %w", err)
	}

	state, err := s.repo.GetSyncState(ctx, s.opts.UserID)
	if err != nil {
		// NOTE: HistoryRepository implementations handle their own error reporting
		span.SetStatus(codes.Error, "failed to get sync state")
		return s.finish(ctx, kind, result), fmt.Errorf("failed to get sync state: %w", err)
	}

	if kind == SyncKindBackfill {
		state, err = ResetOnScopeWidening(ctx, s.repo, s.opts.UserID, state, s.opts.FullHistory, s.opts.LimitDays)
		if err != nil {
			span.SetStatus(codes.Error, "failed to reset sync state")
			return s.finish(ctx, kind, result), fmt.Errorf("failed to reset sync state: %w", err)
		}
	}

	var cutoff *time.Time
	if !s.opts.FullHistory {
		c := startedAt.AddDate(0, 0, -s.opts.LimitDays)
		cutoff = &c
	}

	logger.InfoContext(ctx, "Starting sync pass", "knownGames", len(history.Overall), "previouslyEnded", state.Ended)

	known := history.KnownGameIDs()
	progress := domain.SyncProgress{}
	cursor := ""
	var decision PageDecision

	for {
		if result.Pages > 0 && !s.sleep(ctx, s.opts.BaseDelay) {
			decision = DecidePage(PageOutcome{Canceled: true})
			break
		}

		pageCtx := reporting.AddExtrasToContext(ctx, map[string]string{
			"page":   strconv.Itoa(result.Pages + 1),
			"cursor": cursor,
		})
		page, err := s.api.GetFeedPage(pageCtx, cursor)
		if err != nil {
			// NOTE: API implementations handle their own error reporting
			logger.WarnContext(ctx, "Failed to get feed page", "error", err, "page", result.Pages)
			decision = DecidePage(PageOutcome{Canceled: ctx.Err() != nil, FetchFailed: true})
			break
		}
		result.Pages++

		activities := geoguessr.ExtractGameActivities(ctx, page.Entries)
		slices.SortStableFunc(activities, newestFirst)
		unknown, sawKnown := FilterUnknownActivities(activities, known)

		storeFailed := false
		for _, activity := range unknown {
			if ctx.Err() != nil {
				break
			}

			known[activity.GameID] = struct{}{}
			if progress.OldestReached.IsZero() || activity.Time.Before(progress.OldestReached) {
				progress.OldestReached = activity.Time
			}

			ratings, ok := s.enrichGame(pageCtx, activity)
			if !ok {
				continue
			}

			merged, added := MergeGameRatings(history, ratings)
			if !added {
				continue
			}

			if err := s.repo.StoreRatingHistory(ctx, s.opts.UserID, merged); err != nil {
				// NOTE: HistoryRepository implementations handle their own error reporting
				logger.ErrorContext(ctx, "Failed to store rating history", "error", err, "gameID", activity.GameID)
				storeFailed = true
				break
			}
			history = merged

			progress.NewGames++
			s.metrics.gameCount.Add(ctx, 1)
			s.onProgress(ctx, progress)
		}

		outcome := PageOutcome{
			Canceled:        ctx.Err() != nil,
			StoreFailed:     storeFailed,
			NextCursor:      page.PaginationToken,
			SawKnownGame:    sawKnown,
			PreviouslyEnded: state.Ended,
			Cutoff:          cutoff,
			PagesFetched:    result.Pages,
			MaxPages:        s.opts.MaxPages,
		}
		if oldest, ok := history.OldestOverall(); ok {
			outcome.OldestOverall = &oldest.Timestamp
		}

		decision = DecidePage(outcome)
		if !decision.Continue {
			break
		}
		cursor = decision.Cursor
	}

	result.NewGames = progress.NewGames
	result.StopReason = decision.Reason
	result.ReachedEnd = decision.ReachedEnd
	result.Status = finalStatus(decision.Reason, progress.NewGames)

	// Persist the final state even if the pass was canceled
	stateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalStateTimeout)
	defer cancel()

	now := s.nowFunc()
	finalState := domain.SyncState{
		LastLimitDays:     LimitDays(s.opts.FullHistory, s.opts.LimitDays),
		LastSyncTimestamp: &now,
		Ended:             decision.ReachedEnd || state.Ended,
	}
	if err := s.repo.StoreSyncState(stateCtx, s.opts.UserID, finalState); err != nil {
		// NOTE: HistoryRepository implementations handle their own error reporting
		logger.ErrorContext(ctx, "Failed to store sync state", "error", err)
		result.Status = domain.SyncStatusError
	}

	if result.Status == domain.SyncStatusError {
		span.SetStatus(codes.Error, string(result.StopReason))
	}

	return s.finish(ctx, kind, result), nil
}

func (s *Syncer) finish(ctx context.Context, kind SyncKind, result domain.SyncResult) domain.SyncResult {
	result.FinishedAt = s.nowFunc()
	s.lastResult.Store(&result)

	s.metrics.passCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("status", string(result.Status)),
		attribute.String("stop_reason", string(result.StopReason)),
	))

	logging.FromContext(ctx).InfoContext(
		ctx,
		"Sync pass finished",
		"status", result.Status,
		"stopReason", result.StopReason,
		"newGames", result.NewGames,
		"pages", result.Pages,
		"reachedEnd", result.ReachedEnd,
		"duration", result.FinishedAt.Sub(result.StartedAt),
	)

	return result
}

// Whether the error means the pass was skipped because another one is running
func IsSkipped(err error) bool {
	return errors.Is(err, domain.ErrSyncInProgress)
}
