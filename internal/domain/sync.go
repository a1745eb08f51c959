package domain

import "time"

// LastLimitDays stored when syncing the full history
const FullHistoryLimitDays = 99999

type SyncState struct {
	LastLimitDays     int
	LastSyncTimestamp *time.Time

	// A previous pass reached the end of the feed or the configured cutoff.
	// Everything older than the newest known game is then either stored or out of scope.
	Ended bool
}

// The post-game ratings of the tracked player in a single duel
type GameRatings struct {
	GameID string
	Time   time.Time

	Overall *int

	// Set when the duel was played in a sub-mode with its own series
	Mode       *Series
	ModeRating *int
}

func (r GameRatings) IsEmpty() bool {
	return r.Overall == nil && (r.Mode == nil || r.ModeRating == nil)
}

// A relevant game found in the activity feed
type GameActivity struct {
	Time                time.Time
	GameID              string
	CompetitiveGameMode string
}

type SyncStatus string

const (
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusUpToDate SyncStatus = "up-to-date"
	SyncStatusError    SyncStatus = "error"
)

type StopReason string

const (
	StopReasonFetchFailed    StopReason = "fetch-failed"
	StopReasonEndOfFeed      StopReason = "end-of-feed"
	StopReasonCaughtUp       StopReason = "caught-up"
	StopReasonCutoffReached  StopReason = "cutoff-reached"
	StopReasonPageCapReached StopReason = "page-cap-reached"
	StopReasonStoreFailed    StopReason = "store-failed"
	StopReasonCanceled       StopReason = "canceled"
)

type SyncResult struct {
	Status     SyncStatus
	NewGames   int
	Pages      int
	StopReason StopReason
	ReachedEnd bool
	StartedAt  time.Time
	FinishedAt time.Time
}

type SyncProgress struct {
	NewGames int
	// Oldest timestamp reached in the feed during this pass
	OldestReached time.Time
}
