package app

import (
	"context"
	"fmt"

	"github.com/Amund211/duelhistory/internal/adapters/historyrepository"
	"github.com/Amund211/duelhistory/internal/domain"
	"github.com/Amund211/duelhistory/internal/logging"
)

// The day window stored in the sync state for the given configuration
func LimitDays(fullHistory bool, days int) int {
	if fullHistory {
		return domain.FullHistoryLimitDays
	}
	return days
}

// Whether the configured window reaches further back than the one used for the last pass
func ScopeWidened(state domain.SyncState, fullHistory bool, days int) bool {
	return LimitDays(fullHistory, days) > state.LastLimitDays
}

// Clear the ended marker when the configured window has been widened, so older games are fetched again
func ResetOnScopeWidening(
	ctx context.Context,
	repo historyrepository.HistoryRepository,
	userID string,
	state domain.SyncState,
	fullHistory bool,
	days int,
) (domain.SyncState, error) {
	if !state.Ended || !ScopeWidened(state, fullHistory, days) {
		return state, nil
	}

	logging.FromContext(ctx).InfoContext(
		ctx,
		"History window widened, resetting ended marker",
		"lastLimitDays", state.LastLimitDays,
		"limitDays", LimitDays(fullHistory, days),
	)

	reset := state
	reset.Ended = false
	if err := repo.StoreSyncState(ctx, userID, reset); err != nil {
		// NOTE: HistoryRepository implementations handle their own error reporting
		return state, fmt.Errorf("failed to store reset sync state: %w", err)
	}
	return reset, nil
}

// Backfill on the first run or after the window was widened, otherwise check for updates
func ChooseStartupSync(state domain.SyncState, fullHistory bool, days int) SyncKind {
	if state.LastSyncTimestamp == nil || ScopeWidened(state, fullHistory, days) {
		return SyncKindBackfill
	}
	return SyncKindUpdateCheck
}
