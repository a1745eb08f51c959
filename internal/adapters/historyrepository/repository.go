package historyrepository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Amund211/duelhistory/internal/adapters/kvstore"
	"github.com/Amund211/duelhistory/internal/domain"
	"github.com/Amund211/duelhistory/internal/reporting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type HistoryRepository interface {
	GetRatingHistory(ctx context.Context, userID string) (domain.RatingHistory, error)
	StoreRatingHistory(ctx context.Context, userID string, history domain.RatingHistory) error
	GetSyncState(ctx context.Context, userID string) (domain.SyncState, error)
	StoreSyncState(ctx context.Context, userID string, state domain.SyncState) error
}

type KV struct {
	store kvstore.Store

	tracer trace.Tracer
}

func NewKV(store kvstore.Store) *KV {
	return &KV{
		store: store,

		tracer: otel.Tracer("duelhistory/historyrepository/kv"),
	}
}

func ratingHistoryKey(userID string) string {
	return fmt.Sprintf("ratingHistory:%s", userID)
}

func syncStateKey(userID string) string {
	return fmt.Sprintf("syncState:%s", userID)
}

type ratingPointJSON struct {
	Timestamp time.Time `json:"timestamp"`
	Rating    int       `json:"rating"`
	GameID    string    `json:"gameId"`
}

type ratingHistoryJSON struct {
	Overall []ratingPointJSON `json:"overall"`
	Moving  []ratingPointJSON `json:"moving"`
	NoMove  []ratingPointJSON `json:"noMove"`
	NMPZ    []ratingPointJSON `json:"nmpz"`
}

type syncStateJSON struct {
	LastLimitDays     int        `json:"lastLimitDays"`
	LastSyncTimestamp *time.Time `json:"lastSyncTimestamp"`
	Ended             bool       `json:"ended"`
}

func pointsToJSON(points []domain.RatingPoint) []ratingPointJSON {
	result := make([]ratingPointJSON, 0, len(points))
	for _, point := range points {
		result = append(result, ratingPointJSON{
			Timestamp: point.Timestamp,
			Rating:    point.Rating,
			GameID:    point.GameID,
		})
	}
	return result
}

func pointsFromJSON(points []ratingPointJSON) []domain.RatingPoint {
	result := make([]domain.RatingPoint, 0, len(points))
	for _, point := range points {
		result = append(result, domain.RatingPoint{
			Timestamp: point.Timestamp,
			Rating:    point.Rating,
			GameID:    point.GameID,
		})
	}
	return result
}

func marshalRatingHistory(history domain.RatingHistory) ([]byte, error) {
	return json.Marshal(ratingHistoryJSON{
		Overall: pointsToJSON(history.Overall),
		Moving:  pointsToJSON(history.Moving),
		NoMove:  pointsToJSON(history.NoMove),
		NMPZ:    pointsToJSON(history.NMPZ),
	})
}

// Missing or null series decode to empty series
func unmarshalRatingHistory(data []byte) (domain.RatingHistory, error) {
	var parsed ratingHistoryJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		return domain.RatingHistory{}, err
	}

	history := domain.RatingHistory{
		Overall: pointsFromJSON(parsed.Overall),
		Moving:  pointsFromJSON(parsed.Moving),
		NoMove:  pointsFromJSON(parsed.NoMove),
		NMPZ:    pointsFromJSON(parsed.NMPZ),
	}
	history.Sort()
	return history, nil
}

func (r *KV) GetRatingHistory(ctx context.Context, userID string) (domain.RatingHistory, error) {
	ctx, span := r.tracer.Start(ctx, "KV.GetRatingHistory")
	defer span.End()

	data, ok, err := r.store.Get(ctx, ratingHistoryKey(userID))
	if err != nil {
		// NOTE: kvstore handles its own error reporting
		return domain.RatingHistory{}, fmt.Errorf("failed to get rating history: %w", err)
	}
	if !ok || string(data) == "null" {
		return domain.NewRatingHistory(), nil
	}

	history, err := unmarshalRatingHistory(data)
	if err != nil {
		err := fmt.Errorf("failed to decode rating history: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"userID": userID,
			"data":   string(data),
		})
		return domain.RatingHistory{}, err
	}

	return history, nil
}

func (r *KV) StoreRatingHistory(ctx context.Context, userID string, history domain.RatingHistory) error {
	ctx, span := r.tracer.Start(ctx, "KV.StoreRatingHistory")
	defer span.End()

	sorted := history.Clone()
	sorted.Sort()

	data, err := marshalRatingHistory(sorted)
	if err != nil {
		err := fmt.Errorf("failed to encode rating history: %w", err)
		reporting.Report(ctx, err)
		return err
	}

	err = r.store.Set(ctx, ratingHistoryKey(userID), data)
	if err != nil {
		// NOTE: kvstore handles its own error reporting
		return fmt.Errorf("failed to store rating history: %w", err)
	}

	return nil
}

func (r *KV) GetSyncState(ctx context.Context, userID string) (domain.SyncState, error) {
	ctx, span := r.tracer.Start(ctx, "KV.GetSyncState")
	defer span.End()

	data, ok, err := r.store.Get(ctx, syncStateKey(userID))
	if err != nil {
		// NOTE: kvstore handles its own error reporting
		return domain.SyncState{}, fmt.Errorf("failed to get sync state: %w", err)
	}
	if !ok || string(data) == "null" {
		return domain.SyncState{}, nil
	}

	var parsed syncStateJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		err := fmt.Errorf("failed to decode sync state: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"userID": userID,
			"data":   string(data),
		})
		return domain.SyncState{}, err
	}

	return domain.SyncState{
		LastLimitDays:     parsed.LastLimitDays,
		LastSyncTimestamp: parsed.LastSyncTimestamp,
		Ended:             parsed.Ended,
	}, nil
}

func (r *KV) StoreSyncState(ctx context.Context, userID string, state domain.SyncState) error {
	ctx, span := r.tracer.Start(ctx, "KV.StoreSyncState")
	defer span.End()

	data, err := json.Marshal(syncStateJSON{
		LastLimitDays:     state.LastLimitDays,
		LastSyncTimestamp: state.LastSyncTimestamp,
		Ended:             state.Ended,
	})
	if err != nil {
		err := fmt.Errorf("failed to encode sync state: %w", err)
		reporting.Report(ctx, err)
		return err
	}

	err = r.store.Set(ctx, syncStateKey(userID), data)
	if err != nil {
		// NOTE: kvstore handles its own error reporting
		return fmt.Errorf("failed to store sync state: %w", err)
	}

	return nil
}
