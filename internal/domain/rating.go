package domain

import (
	"fmt"
	"slices"
	"time"
)

type Series string

const (
	SeriesOverall Series = "overall"
	SeriesMoving  Series = "moving"
	SeriesNoMove  Series = "noMove"
	SeriesNMPZ    Series = "nmpz"
)

var AllSeries = []Series{SeriesOverall, SeriesMoving, SeriesNoMove, SeriesNMPZ}

func ParseSeries(raw string) (Series, error) {
	for _, series := range AllSeries {
		if string(series) == raw {
			return series, nil
		}
	}
	return "", fmt.Errorf("unknown series '%s'", raw)
}

// Map a competitive duels sub-mode to its rating series
//
// Returns false for sub-modes without a dedicated series. Those games only contribute to the
// overall series.
func SeriesForCompetitiveMode(competitiveGameMode string) (Series, bool) {
	switch competitiveGameMode {
	case "StandardDuels":
		return SeriesMoving, true
	case "NoMoveDuels":
		return SeriesNoMove, true
	case "NmpzDuels":
		return SeriesNMPZ, true
	}
	return "", false
}

type RatingPoint struct {
	Timestamp time.Time
	Rating    int
	GameID    string
}

type RatingHistory struct {
	Overall []RatingPoint
	Moving  []RatingPoint
	NoMove  []RatingPoint
	NMPZ    []RatingPoint
}

func NewRatingHistory() RatingHistory {
	return RatingHistory{
		Overall: []RatingPoint{},
		Moving:  []RatingPoint{},
		NoMove:  []RatingPoint{},
		NMPZ:    []RatingPoint{},
	}
}

func (h RatingHistory) Series(series Series) []RatingPoint {
	switch series {
	case SeriesOverall:
		return h.Overall
	case SeriesMoving:
		return h.Moving
	case SeriesNoMove:
		return h.NoMove
	case SeriesNMPZ:
		return h.NMPZ
	}
	panic(fmt.Sprintf("unknown series '%s'", series))
}

func (h *RatingHistory) seriesPtr(series Series) *[]RatingPoint {
	switch series {
	case SeriesOverall:
		return &h.Overall
	case SeriesMoving:
		return &h.Moving
	case SeriesNoMove:
		return &h.NoMove
	case SeriesNMPZ:
		return &h.NMPZ
	}
	panic(fmt.Sprintf("unknown series '%s'", series))
}

// Return a copy that does not share backing arrays with h
func (h RatingHistory) Clone() RatingHistory {
	return RatingHistory{
		Overall: append([]RatingPoint{}, h.Overall...),
		Moving:  append([]RatingPoint{}, h.Moving...),
		NoMove:  append([]RatingPoint{}, h.NoMove...),
		NMPZ:    append([]RatingPoint{}, h.NMPZ...),
	}
}

// Append a point to the given series. Call Sort before persisting.
func (h *RatingHistory) Append(series Series, point RatingPoint) {
	ptr := h.seriesPtr(series)
	*ptr = append(*ptr, point)
}

func comparePoints(a, b RatingPoint) int {
	return a.Timestamp.Compare(b.Timestamp)
}

// Sort all series ascending by timestamp. The sort is stable so equal timestamps keep insertion order.
func (h *RatingHistory) Sort() {
	for _, series := range AllSeries {
		slices.SortStableFunc(*h.seriesPtr(series), comparePoints)
	}
}

func (h RatingHistory) IsSorted() bool {
	for _, series := range AllSeries {
		if !slices.IsSortedFunc(h.Series(series), comparePoints) {
			return false
		}
	}
	return true
}

// The set of game ids present in any series
func (h RatingHistory) KnownGameIDs() map[string]struct{} {
	known := make(map[string]struct{}, len(h.Overall))
	for _, series := range AllSeries {
		for _, point := range h.Series(series) {
			known[point.GameID] = struct{}{}
		}
	}
	return known
}

// The oldest overall point, if any
//
// NOTE: Assumes the history is sorted
func (h RatingHistory) OldestOverall() (RatingPoint, bool) {
	if len(h.Overall) == 0 {
		return RatingPoint{}, false
	}
	return h.Overall[0], true
}

func (h RatingHistory) Len() int {
	return len(h.Overall) + len(h.Moving) + len(h.NoMove) + len(h.NMPZ)
}
