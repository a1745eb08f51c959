package app

import (
	"context"
	"fmt"

	"github.com/Amund211/duelhistory/internal/adapters/cache"
	"github.com/Amund211/duelhistory/internal/adapters/historyrepository"
	"github.com/Amund211/duelhistory/internal/domain"
)

type GetRatingHistory func(ctx context.Context) (domain.RatingHistory, error)

func BuildGetRatingHistoryWithCache(
	historyCache cache.Cache[domain.RatingHistory],
	repo historyrepository.HistoryRepository,
	userID string,
) GetRatingHistory {
	return func(ctx context.Context) (domain.RatingHistory, error) {
		history, err := cache.GetOrCreate(ctx, historyCache, userID, func() (domain.RatingHistory, error) {
			return repo.GetRatingHistory(ctx, userID)
		})
		if err != nil {
			// NOTE: GetOrCreate only returns an error if create() fails.
			// HistoryRepository implementations handle their own error reporting
			return domain.RatingHistory{}, fmt.Errorf("failed to cache.GetOrCreate rating history: %w", err)
		}

		return history, nil
	}
}
