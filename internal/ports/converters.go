package ports

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Amund211/duelhistory/internal/app"
	"github.com/Amund211/duelhistory/internal/domain"
)

type ratingPointResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Rating    int       `json:"rating"`
	GameID    string    `json:"gameId"`
}

func pointsToResponse(points []domain.RatingPoint) []ratingPointResponse {
	result := make([]ratingPointResponse, 0, len(points))
	for _, point := range points {
		result = append(result, ratingPointResponse{
			Timestamp: point.Timestamp,
			Rating:    point.Rating,
			GameID:    point.GameID,
		})
	}
	return result
}

// Marshal the history, or only the given series when selected is not nil
func RatingHistoryToResponseData(history domain.RatingHistory, selected *domain.Series) ([]byte, error) {
	response := map[domain.Series][]ratingPointResponse{}
	for _, series := range domain.AllSeries {
		if selected != nil && *selected != series {
			continue
		}
		response[series] = pointsToResponse(history.Series(series))
	}

	data, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rating history: %w", err)
	}
	return data, nil
}

type syncResultResponse struct {
	Status     domain.SyncStatus `json:"status"`
	NewGames   int               `json:"newGames"`
	Pages      int               `json:"pages"`
	StopReason domain.StopReason `json:"stopReason"`
	ReachedEnd bool              `json:"reachedEnd"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
}

type syncStatusResponse struct {
	LastLimitDays     int                 `json:"lastLimitDays"`
	LastSyncTimestamp *time.Time          `json:"lastSyncTimestamp"`
	Ended             bool                `json:"ended"`
	InProgress        bool                `json:"inProgress"`
	LastResult        *syncResultResponse `json:"lastResult"`
}

func SyncStatusReportToResponseData(report app.SyncStatusReport) ([]byte, error) {
	response := syncStatusResponse{
		LastLimitDays:     report.State.LastLimitDays,
		LastSyncTimestamp: report.State.LastSyncTimestamp,
		Ended:             report.State.Ended,
		InProgress:        report.InProgress,
		LastResult:        nil,
	}
	if report.LastResult != nil {
		response.LastResult = &syncResultResponse{
			Status:     report.LastResult.Status,
			NewGames:   report.LastResult.NewGames,
			Pages:      report.LastResult.Pages,
			StopReason: report.LastResult.StopReason,
			ReachedEnd: report.LastResult.ReachedEnd,
			StartedAt:  report.LastResult.StartedAt,
			FinishedAt: report.LastResult.FinishedAt,
		}
	}

	data, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync status: %w", err)
	}
	return data, nil
}
