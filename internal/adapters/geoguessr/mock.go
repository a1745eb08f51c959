package geoguessr

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Amund211/duelhistory/internal/domain"
)

const (
	mockedGameCount = 60
	mockedPageSize  = 8
	mockedCursor    = "mocked-page-"
)

var mockedModes = []string{"StandardDuels", "NoMoveDuels", "NmpzDuels", "StandardDuels", "NoMoveDuels"}

type mockedGame struct {
	id         string
	time       time.Time
	mode       string
	rating     int
	modeRating int
}

// A fake feed of duels played every six hours, newest first
type mockedAPI struct {
	userID string
	games  []mockedGame
}

func NewMockedAPI(userID string, nowFunc func() time.Time) *mockedAPI {
	newest := nowFunc().Truncate(time.Hour)

	games := make([]mockedGame, 0, mockedGameCount)
	for i := range mockedGameCount {
		games = append(games, mockedGame{
			id:         fmt.Sprintf("00000000-0000-4000-8000-%012d", i),
			time:       newest.Add(-time.Duration(i) * 6 * time.Hour),
			mode:       mockedModes[i%len(mockedModes)],
			rating:     1200 - 4*i + (i%3)*7,
			modeRating: 1150 - 3*i + (i%4)*5,
		})
	}

	return &mockedAPI{
		userID: userID,
		games:  games,
	}
}

func mockedEvent(eventType int, eventTime time.Time, payload any) json.RawMessage {
	encodedPayload, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	event, err := json.Marshal(map[string]any{
		"type":    eventType,
		"time":    eventTime,
		"payload": string(encodedPayload),
	})
	if err != nil {
		panic(err)
	}
	return event
}

func (m *mockedAPI) GetFeedPage(ctx context.Context, cursor string) (FeedPage, error) {
	page := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(strings.TrimPrefix(cursor, mockedCursor))
		if err != nil || !strings.HasPrefix(cursor, mockedCursor) {
			return FeedPage{}, fmt.Errorf("%w: unknown cursor", domain.ErrNoData)
		}
		page = parsed
	}

	start := page * mockedPageSize
	end := min(start+mockedPageSize, len(m.games))
	if start >= len(m.games) {
		return FeedPage{Entries: []json.RawMessage{}}, nil
	}

	children := []json.RawMessage{}
	for _, game := range m.games[start:end] {
		children = append(children, mockedEvent(feedEventTypeGame, game.time, map[string]any{
			"gameId":              game.id,
			"gameMode":            "Duels",
			"competitiveGameMode": game.mode,
		}))
	}

	entries := []json.RawMessage{
		mockedEvent(feedEventTypeContainer, m.games[start].time, children),
		mockedEvent(2, m.games[start].time, map[string]any{"achievement": "mocked"}),
	}

	result := FeedPage{Entries: entries}
	if end < len(m.games) {
		result.PaginationToken = fmt.Sprintf("%s%d", mockedCursor, page+1)
	}
	return result, nil
}

func (m *mockedAPI) GetDuel(ctx context.Context, gameID string) (DuelDetail, error) {
	for _, game := range m.games {
		if game.id != gameID {
			continue
		}

		rating := game.rating
		modeRating := game.modeRating
		return DuelDetail{
			Teams: []DuelTeam{
				{Players: []DuelPlayer{{PlayerID: "0123456789abcdef01234567"}}},
				{Players: []DuelPlayer{{
					PlayerID: m.userID,
					ProgressChange: &ProgressChange{
						RankedSystemProgress: &RankedSystemProgress{
							GameMode:            game.mode,
							RatingAfter:         &rating,
							GameModeRatingAfter: &modeRating,
						},
					},
				}}},
			},
		}, nil
	}
	return DuelDetail{}, fmt.Errorf("%w: unknown duel %s", domain.ErrNoData, gameID)
}
