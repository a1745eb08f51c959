package geoguessr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/Amund211/duelhistory/internal/config"
	"github.com/Amund211/duelhistory/internal/domain"
	"github.com/Amund211/duelhistory/internal/ratelimiting"
	"github.com/Amund211/duelhistory/internal/reporting"
)

const (
	feedURL     = "https://www.geoguessr.com/api/v4/feed/private"
	duelBaseURL = "https://game-server.geoguessr.com/api/duels/"
)

type FeedPage struct {
	Entries []json.RawMessage
	// Empty at the end of the feed
	PaginationToken string
}

type API interface {
	// Get the page of the private activity feed at cursor. An empty cursor gets the newest page.
	GetFeedPage(ctx context.Context, cursor string) (FeedPage, error)
	GetDuel(ctx context.Context, gameID string) (DuelDetail, error)
}

type rawFeedPage struct {
	Entries         []json.RawMessage `json:"entries"`
	PaginationToken *string           `json:"paginationToken"`
}

type api struct {
	executor Executor
}

func NewAPI(executor Executor) API {
	return &api{
		executor: executor,
	}
}

func FeedPageURL(cursor string) string {
	if cursor == "" {
		return feedURL
	}
	return fmt.Sprintf("%s?paginationToken=%s", feedURL, url.QueryEscape(cursor))
}

func DuelURL(gameID string) string {
	return duelBaseURL + url.PathEscape(gameID)
}

func (a *api) GetFeedPage(ctx context.Context, cursor string) (FeedPage, error) {
	data, err := a.executor.Execute(ctx, FeedPageURL(cursor))
	if err != nil {
		// NOTE: Executor handles its own error reporting
		return FeedPage{}, fmt.Errorf("failed to get feed page: %w", err)
	}

	var page rawFeedPage
	if err := json.Unmarshal(data, &page); err != nil {
		err := fmt.Errorf("%w: failed to parse feed page: %w", domain.ErrMalformedResponse, err)
		reporting.Report(ctx, err, map[string]string{
			"data": string(data),
		})
		return FeedPage{}, err
	}

	result := FeedPage{
		Entries:         page.Entries,
		PaginationToken: "",
	}
	if result.Entries == nil {
		result.Entries = []json.RawMessage{}
	}
	if page.PaginationToken != nil {
		result.PaginationToken = *page.PaginationToken
	}
	return result, nil
}

func (a *api) GetDuel(ctx context.Context, gameID string) (DuelDetail, error) {
	data, err := a.executor.Execute(ctx, DuelURL(gameID))
	if err != nil {
		// NOTE: Executor handles its own error reporting
		return DuelDetail{}, fmt.Errorf("failed to get duel: %w", err)
	}

	detail, err := parseDuelDetail(data)
	if err != nil {
		reporting.Report(ctx, err, map[string]string{
			"gameID": gameID,
			"data":   string(data),
		})
		return DuelDetail{}, err
	}

	return detail, nil
}

func NewAPIOrMock(
	conf config.Config,
	httpClient HttpClient,
	scheduler *ratelimiting.RequestScheduler,
	afterFunc func(time.Duration) <-chan time.Time,
) (API, error) {
	if conf.GeoguessrAuthCookie() != "" {
		executor, err := NewExecutor(
			httpClient,
			scheduler,
			conf.GeoguessrAuthCookie(),
			DefaultExecutorOptions(conf.RequestDelay()),
			afterFunc,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create executor: %w", err)
		}
		return NewAPI(executor), nil
	}
	if conf.IsDevelopment() {
		return NewMockedAPI(conf.UserID(), time.Now), nil
	}
	return nil, fmt.Errorf("Missing GeoGuessr auth cookie in non-development environment")
}
