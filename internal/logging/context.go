package logging

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

type loggerContextKey struct{}

var fallbackLogger = sync.OnceValue(func() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil)).With(slog.String("logger", "fallback"))
})

// The logger stored in ctx, or a stdout JSON logger marked as fallback
func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger)
	if !ok || logger == nil {
		return fallbackLogger()
	}
	return logger
}

func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// Add attributes to every record logged through the context's logger
func AddMetaToContext(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	logger := FromContext(ctx)
	return AddToContext(ctx, slog.New(logger.Handler().WithAttrs(attrs)))
}
