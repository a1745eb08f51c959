package app

import (
	"context"
	"fmt"

	"github.com/Amund211/duelhistory/internal/adapters/historyrepository"
	"github.com/Amund211/duelhistory/internal/domain"
)

type SyncStatusReport struct {
	State      domain.SyncState
	InProgress bool
	// Nil until a pass has completed since the service started
	LastResult *domain.SyncResult
}

type GetSyncStatus func(ctx context.Context) (SyncStatusReport, error)

func BuildGetSyncStatus(repo historyrepository.HistoryRepository, syncer *Syncer, userID string) GetSyncStatus {
	return func(ctx context.Context) (SyncStatusReport, error) {
		state, err := repo.GetSyncState(ctx, userID)
		if err != nil {
			// NOTE: HistoryRepository implementations handle their own error reporting
			return SyncStatusReport{}, fmt.Errorf("failed to get sync state: %w", err)
		}

		report := SyncStatusReport{
			State:      state,
			InProgress: syncer.InProgress(),
			LastResult: nil,
		}
		if result, ok := syncer.LastResult(); ok {
			report.LastResult = &result
		}
		return report, nil
	}
}
