package app

import (
	"context"
	"errors"

	"github.com/Amund211/duelhistory/internal/adapters/geoguessr"
	"github.com/Amund211/duelhistory/internal/domain"
	"github.com/Amund211/duelhistory/internal/logging"
)

// Get the post-game ratings of the tracked user in the given game
//
// Returns false when the game contributes no ratings. This is never fatal to the sync pass.
type EnrichGame func(ctx context.Context, activity domain.GameActivity) (domain.GameRatings, bool)

func BuildEnrichGame(api geoguessr.API, userID string) EnrichGame {
	return func(ctx context.Context, activity domain.GameActivity) (domain.GameRatings, bool) {
		logger := logging.FromContext(ctx).With("gameID", activity.GameID)

		detail, err := api.GetDuel(ctx, activity.GameID)
		if errors.Is(err, domain.ErrNoData) {
			logger.InfoContext(ctx, "No duel details available, skipping game")
			return domain.GameRatings{}, false
		} else if err != nil {
			// NOTE: API implementations handle their own error reporting
			logger.WarnContext(ctx, "Failed to get duel details, skipping game", "error", err)
			return domain.GameRatings{}, false
		}

		player, ok := detail.FindPlayer(userID)
		if !ok {
			logger.InfoContext(ctx, "Tracked user not found in duel, skipping game")
			return domain.GameRatings{}, false
		}

		progress, ok := player.RankedProgress()
		if !ok {
			logger.InfoContext(ctx, "Duel has no ranked progress, skipping game")
			return domain.GameRatings{}, false
		}

		ratings := domain.GameRatings{
			GameID:     activity.GameID,
			Time:       activity.Time,
			Overall:    progress.RatingAfter,
			Mode:       nil,
			ModeRating: nil,
		}

		competitiveGameMode := progress.GameMode
		if competitiveGameMode == "" {
			competitiveGameMode = activity.CompetitiveGameMode
		}
		if series, ok := domain.SeriesForCompetitiveMode(competitiveGameMode); ok && progress.GameModeRatingAfter != nil {
			ratings.Mode = &series
			ratings.ModeRating = progress.GameModeRatingAfter
		}

		if ratings.IsEmpty() {
			logger.InfoContext(ctx, "Duel has no ratings, skipping game", "competitiveGameMode", competitiveGameMode)
			return domain.GameRatings{}, false
		}

		return ratings, true
	}
}
