package reporting

import (
	"context"
	"maps"
	"time"
)

type metaContextKey struct{}

// Attached to every event reported with the context
type reportingMeta struct {
	tags   map[string]string
	extras map[string]string
	// The tracked GeoGuessr user
	userID    string
	startedAt time.Time
}

func metaFromContext(ctx context.Context) reportingMeta {
	meta, ok := ctx.Value(metaContextKey{}).(reportingMeta)
	if !ok {
		return reportingMeta{
			tags:   map[string]string{},
			extras: map[string]string{},
		}
	}
	meta.tags = maps.Clone(meta.tags)
	meta.extras = maps.Clone(meta.extras)
	return meta
}

func updateMeta(ctx context.Context, update func(meta *reportingMeta)) context.Context {
	meta := metaFromContext(ctx)
	update(&meta)
	return context.WithValue(ctx, metaContextKey{}, meta)
}

func setStartedAtInContext(ctx context.Context, startedAt time.Time) context.Context {
	return updateMeta(ctx, func(meta *reportingMeta) {
		meta.startedAt = startedAt
	})
}

func AddTagsToContext(ctx context.Context, tags map[string]string) context.Context {
	return updateMeta(ctx, func(meta *reportingMeta) {
		maps.Copy(meta.tags, tags)
	})
}

// Extras replace earlier values for the same key, e.g. the current feed page
func AddExtrasToContext(ctx context.Context, extras map[string]string) context.Context {
	return updateMeta(ctx, func(meta *reportingMeta) {
		maps.Copy(meta.extras, extras)
	})
}

func SetUserIDInContext(ctx context.Context, userID string) context.Context {
	return updateMeta(ctx, func(meta *reportingMeta) {
		meta.userID = userID
	})
}
