package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// newRequestLogger logs one structured line per request, skipping the
// polling endpoints in ignoredPaths.
func newRequestLogger(logger *zap.Logger, ignoredPaths ...string) func(next http.Handler) http.Handler {
	ignored := make(map[string]struct{}, len(ignoredPaths))
	for _, p := range ignoredPaths {
		ignored[p] = struct{}{}
	}
	return middleware.RequestLogger(&zapLogFormatter{
		log:          logger.Named("access"),
		ignoredPaths: ignored,
	})
}

type zapLogFormatter struct {
	log          *zap.Logger
	ignoredPaths map[string]struct{}
}

func (f *zapLogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	if _, ok := f.ignoredPaths[r.URL.Path]; ok {
		return noopLogEntry{}
	}
	return &zapLogEntry{log: f.log.With(
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote", r.RemoteAddr),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	)}
}

type zapLogEntry struct {
	log *zap.Logger
}

func (e *zapLogEntry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra interface{}) {
	e.log.Info("request",
		zap.Int("status", status),
		zap.Int("bytes", bytes),
		zap.Duration("elapsed", elapsed),
	)
}

func (e *zapLogEntry) Panic(v interface{}, stack []byte) {
	e.log.Error("handler panic", zap.Any("panic", v), zap.ByteString("stack", stack))
}

type noopLogEntry struct{}

func (noopLogEntry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra interface{}) {
}

func (noopLogEntry) Panic(v interface{}, stack []byte) {}
