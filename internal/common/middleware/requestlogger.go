package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/pressfleet/pressfleet/internal/common/httpx"
)

type requestIdContextKey string

const requestIdKey = requestIdContextKey("requestId")

// RequestLogger adds a unique request ID to the context and a sub-logger
// carrying it, then logs the request line and completion status.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := newRequestId()
		ctx = context.WithValue(ctx, requestIdKey, requestID)
		ctx = log.With().Str("request_id", requestID).Logger().WithContext(ctx)
		w.Header().Set("X-Fleet-Request-ID", requestID)

		rw := httpx.NewResponseWriter(w)
		start := time.Now()

		log.Ctx(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_ip", r.RemoteAddr).
			Msg("")
		next.ServeHTTP(rw, r.WithContext(ctx))

		log.Ctx(ctx).Info().
			Int("status", rw.Status()).
			Dur("duration", time.Since(start)).
			Msg("request complete")
	})
}

func RequestIdFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	r, ok := ctx.Value(requestIdKey).(string)
	if !ok {
		return ""
	}
	return r
}

func newRequestId() string {
	u, err := uuid.NewRandom()
	if err != nil {
		return ""
	}
	return u.String()
}
