package app

import (
	"time"

	"github.com/Amund211/duelhistory/internal/domain"
)

// What to do after a feed page has been processed
type PageDecision struct {
	Continue bool

	// Set when continuing
	Cursor string

	// Set when stopping
	Reason     domain.StopReason
	ReachedEnd bool
}

func continueWith(cursor string) PageDecision {
	return PageDecision{Continue: true, Cursor: cursor}
}

func stopWith(reason domain.StopReason, reachedEnd bool) PageDecision {
	return PageDecision{Continue: false, Reason: reason, ReachedEnd: reachedEnd}
}

type PageOutcome struct {
	Canceled    bool
	FetchFailed bool
	StoreFailed bool

	// The cursor to the next page. Empty at the end of the feed.
	NextCursor string

	// A known game was seen on this page
	SawKnownGame    bool
	PreviouslyEnded bool

	// Nil when syncing the full history
	Cutoff *time.Time
	// The oldest persisted overall point after processing the page
	OldestOverall *time.Time

	PagesFetched int
	MaxPages     int
}

// Decide whether to fetch the next page
//
// Rules are evaluated in order, the first matching rule wins.
func DecidePage(outcome PageOutcome) PageDecision {
	switch {
	case outcome.Canceled:
		return stopWith(domain.StopReasonCanceled, false)
	case outcome.StoreFailed:
		return stopWith(domain.StopReasonStoreFailed, false)
	case outcome.FetchFailed:
		return stopWith(domain.StopReasonFetchFailed, false)
	case outcome.NextCursor == "":
		return stopWith(domain.StopReasonEndOfFeed, true)
	case outcome.SawKnownGame && outcome.PreviouslyEnded:
		// Everything older has already been synced in a previous pass
		return stopWith(domain.StopReasonCaughtUp, true)
	case outcome.Cutoff != nil && outcome.OldestOverall != nil && outcome.OldestOverall.Before(*outcome.Cutoff):
		return stopWith(domain.StopReasonCutoffReached, false)
	case outcome.PagesFetched >= outcome.MaxPages:
		return stopWith(domain.StopReasonPageCapReached, false)
	}
	return continueWith(outcome.NextCursor)
}
