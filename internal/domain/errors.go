package domain

import "errors"

var (
	ErrTemporarilyUnavailable = errors.New("temporarily unavailable")
	ErrNoData                 = errors.New("no data")
	ErrMalformedResponse      = errors.New("malformed response")
	ErrMalformedFeedEvent     = errors.New("malformed feed event")
	ErrSyncInProgress         = errors.New("sync already in progress")
)
