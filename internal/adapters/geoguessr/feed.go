package geoguessr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Amund211/duelhistory/internal/domain"
	"github.com/Amund211/duelhistory/internal/logging"
)

const (
	feedEventTypeGame      = 6
	feedEventTypeContainer = 7

	// Containers nested deeper than this are dropped
	maxContainerDepth = 32
)

// FeedEvent is one of ContainerEvent, GameEvent or OtherEvent
type FeedEvent interface {
	eventTime() time.Time
}

// A group of events. Children are parsed individually so one bad child does not affect the rest.
type ContainerEvent struct {
	Time     time.Time
	Children []json.RawMessage
}

type GameEvent struct {
	Time                time.Time
	GameID              string
	GameMode            string
	CompetitiveGameMode string
}

type OtherEvent struct {
	Type int
	Time time.Time
}

func (e ContainerEvent) eventTime() time.Time { return e.Time }
func (e GameEvent) eventTime() time.Time      { return e.Time }
func (e OtherEvent) eventTime() time.Time     { return e.Time }

// Competitive duels are the only games that affect the rating
func (e GameEvent) IsRelevant() bool {
	return e.GameMode == "Duels" && e.CompetitiveGameMode != "" && e.CompetitiveGameMode != "None"
}

type rawFeedEvent struct {
	Type    *int            `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Time    time.Time       `json:"time"`
}

type rawGamePayload struct {
	GameID              string `json:"gameId"`
	GameMode            string `json:"gameMode"`
	CompetitiveGameMode string `json:"competitiveGameMode"`
}

// The payload is either a JSON document encoded as a string, or the document itself
func unwrapPayload(payload json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("missing payload")
	}

	if trimmed[0] != '"' {
		return trimmed, nil
	}

	var encoded string
	if err := json.Unmarshal(trimmed, &encoded); err != nil {
		return nil, fmt.Errorf("failed to decode payload string: %w", err)
	}
	if !json.Valid([]byte(encoded)) {
		return nil, fmt.Errorf("payload string is not valid json")
	}
	return json.RawMessage(encoded), nil
}

// ParseFeedEvent validates and decodes a single feed entry
func ParseFeedEvent(raw json.RawMessage) (FeedEvent, error) {
	var event rawFeedEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedFeedEvent, err)
	}
	if event.Type == nil {
		return nil, fmt.Errorf("%w: missing type", domain.ErrMalformedFeedEvent)
	}

	switch *event.Type {
	case feedEventTypeContainer:
		payload, err := unwrapPayload(event.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: container: %w", domain.ErrMalformedFeedEvent, err)
		}

		var children []json.RawMessage
		if err := json.Unmarshal(payload, &children); err != nil {
			return nil, fmt.Errorf("%w: container payload is not an array: %w", domain.ErrMalformedFeedEvent, err)
		}

		return ContainerEvent{
			Time:     event.Time,
			Children: children,
		}, nil
	case feedEventTypeGame:
		payload, err := unwrapPayload(event.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: game: %w", domain.ErrMalformedFeedEvent, err)
		}

		var game rawGamePayload
		if err := json.Unmarshal(payload, &game); err != nil {
			return nil, fmt.Errorf("%w: game payload: %w", domain.ErrMalformedFeedEvent, err)
		}

		gameEvent := GameEvent{
			Time:                event.Time,
			GameID:              game.GameID,
			GameMode:            game.GameMode,
			CompetitiveGameMode: game.CompetitiveGameMode,
		}
		if gameEvent.IsRelevant() && gameEvent.GameID == "" {
			return nil, fmt.Errorf("%w: duel without game id", domain.ErrMalformedFeedEvent)
		}

		return gameEvent, nil
	}

	return OtherEvent{
		Type: *event.Type,
		Time: event.Time,
	}, nil
}

// ExtractGameActivities returns the competitive duels found in entries, at any nesting depth.
//
// Malformed entries are logged and skipped. The output order is unspecified.
func ExtractGameActivities(ctx context.Context, entries []json.RawMessage) []domain.GameActivity {
	activities := []domain.GameActivity{}
	for _, entry := range entries {
		activities = extractInto(ctx, activities, entry, time.Time{}, 0)
	}
	return activities
}

func extractInto(ctx context.Context, activities []domain.GameActivity, raw json.RawMessage, parentTime time.Time, depth int) []domain.GameActivity {
	logger := logging.FromContext(ctx)

	event, err := ParseFeedEvent(raw)
	if err != nil {
		logger.WarnContext(ctx, "Skipping malformed feed entry", slog.String("error", err.Error()), slog.Int("depth", depth))
		return activities
	}

	// Children without their own time happened with their container
	eventTime := event.eventTime()
	if eventTime.IsZero() {
		eventTime = parentTime
	}

	switch e := event.(type) {
	case ContainerEvent:
		if depth >= maxContainerDepth {
			logger.WarnContext(ctx, "Skipping deeply nested feed container", slog.Int("depth", depth))
			return activities
		}
		for _, child := range e.Children {
			activities = extractInto(ctx, activities, child, eventTime, depth+1)
		}
	case GameEvent:
		if !e.IsRelevant() {
			return activities
		}
		if eventTime.IsZero() {
			logger.WarnContext(ctx, "Skipping duel without time", slog.String("gameID", e.GameID))
			return activities
		}
		activities = append(activities, domain.GameActivity{
			Time:                eventTime,
			GameID:              e.GameID,
			CompetitiveGameMode: e.CompetitiveGameMode,
		})
	}

	return activities
}
