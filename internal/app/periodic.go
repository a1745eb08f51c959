package app

import (
	"context"
	"time"

	"github.com/Amund211/duelhistory/internal/domain"
	"github.com/Amund211/duelhistory/internal/logging"
)

type PeriodicSyncer interface {
	StartupKind(ctx context.Context) (SyncKind, error)
	Sync(ctx context.Context, kind SyncKind) (domain.SyncResult, error)
}

// Run the startup sync, then check for updates every interval until ctx is canceled
func RunPeriodicSync(
	ctx context.Context,
	syncer PeriodicSyncer,
	interval time.Duration,
	afterFunc func(time.Duration) <-chan time.Time,
) {
	logger := logging.FromContext(ctx)

	run := func(kind SyncKind) {
		_, err := syncer.Sync(ctx, kind)
		if IsSkipped(err) {
			logger.InfoContext(ctx, "Skipping scheduled sync, a pass is already running", "syncKind", kind)
		} else if err != nil {
			logger.ErrorContext(ctx, "Scheduled sync failed", "syncKind", kind, "error", err)
		}
	}

	kind, err := syncer.StartupKind(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to choose startup sync, checking for updates", "error", err)
		kind = SyncKindUpdateCheck
	}
	run(kind)

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "Stopping periodic sync")
			return
		case <-afterFunc(interval):
		}
		run(SyncKindUpdateCheck)
	}
}
