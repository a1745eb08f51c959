package domaintest

import (
	"time"

	"github.com/Amund211/duelhistory/internal/domain"
)

type historyBuilder struct {
	history domain.RatingHistory
}

func (hb *historyBuilder) WithPoint(series domain.Series, gameID string, timestamp time.Time, rating int) *historyBuilder {
	hb.history.Append(series, domain.RatingPoint{
		Timestamp: timestamp,
		Rating:    rating,
		GameID:    gameID,
	})
	return hb
}

// Add an overall point, and a sub-mode point when series is not overall
func (hb *historyBuilder) WithGame(series domain.Series, gameID string, timestamp time.Time, overall, mode int) *historyBuilder {
	hb.WithPoint(domain.SeriesOverall, gameID, timestamp, overall)
	if series != domain.SeriesOverall {
		hb.WithPoint(series, gameID, timestamp, mode)
	}
	return hb
}

func (hb *historyBuilder) Build() domain.RatingHistory {
	history := hb.history.Clone()
	history.Sort()
	return history
}

func NewHistoryBuilder() *historyBuilder {
	return &historyBuilder{
		history: domain.NewRatingHistory(),
	}
}

func IntPtr(i int) *int {
	return &i
}

func SeriesPtr(s domain.Series) *domain.Series {
	return &s
}
