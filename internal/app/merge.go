package app

import (
	"slices"

	"github.com/Amund211/duelhistory/internal/domain"
)

// Drop activities for games that are already known or that appear earlier in the list
//
// Returns the remaining activities in their original order, and whether any of the activities
// referenced a known game.
func FilterUnknownActivities(activities []domain.GameActivity, known map[string]struct{}) ([]domain.GameActivity, bool) {
	sawKnown := false
	seen := make(map[string]struct{}, len(activities))
	unknown := make([]domain.GameActivity, 0, len(activities))

	for _, activity := range activities {
		if _, ok := known[activity.GameID]; ok {
			sawKnown = true
			continue
		}
		if _, ok := seen[activity.GameID]; ok {
			continue
		}
		seen[activity.GameID] = struct{}{}
		unknown = append(unknown, activity)
	}

	return unknown, sawKnown
}

func containsGame(points []domain.RatingPoint, gameID string) bool {
	return slices.ContainsFunc(points, func(point domain.RatingPoint) bool {
		return point.GameID == gameID
	})
}

// Merge the ratings from a single game into a copy of the history
//
// Returns the history unchanged and false when the game is already present or the ratings are empty.
func MergeGameRatings(history domain.RatingHistory, ratings domain.GameRatings) (domain.RatingHistory, bool) {
	if ratings.IsEmpty() {
		return history, false
	}

	for _, series := range domain.AllSeries {
		if containsGame(history.Series(series), ratings.GameID) {
			return history, false
		}
	}

	merged := history.Clone()
	if ratings.Overall != nil {
		merged.Append(domain.SeriesOverall, domain.RatingPoint{
			Timestamp: ratings.Time,
			Rating:    *ratings.Overall,
			GameID:    ratings.GameID,
		})
	}
	if ratings.Mode != nil && ratings.ModeRating != nil && *ratings.Mode != domain.SeriesOverall {
		merged.Append(*ratings.Mode, domain.RatingPoint{
			Timestamp: ratings.Time,
			Rating:    *ratings.ModeRating,
			GameID:    ratings.GameID,
		})
	}
	merged.Sort()

	return merged, true
}
