package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/minifly/minifly/pkg/apierr"
	"github.com/minifly/minifly/pkg/log"
)

type contextKey string

const correlationIDKey contextKey = "correlation-id"

// correlationIDFrom returns the request-scoped correlation id, or "" if
// none was ever attached (should not happen for requests routed through
// s.withMiddleware).
func correlationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// withMiddleware wraps a handler with correlation-id assignment, response
// headers, bearer-token auth and structured request logging, in that
// order. Every route registered on the router goes through this.
func (s *Server) withMiddleware(name string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := time.Now()

		correlationID := r.Header.Get("Fly-Request-Id")
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)
		r = r.WithContext(ctx)

		w.Header().Set("Fly-Request-Id", correlationID)
		w.Header().Set("Fly-Region", "local")

		logger := log.WithComponent("api")

		if err := s.authenticate(r); err != nil {
			logger.Warn().Str("correlation_id", correlationID).Str("route", name).Msg("unauthorized request")
			writeError(w, err)
			return
		}

		next(w, r, ps)

		logger.Info().
			Str("correlation_id", correlationID).
			Str("route", name).
			Str("app", ps.ByName("app")).
			Str("machine_id", ps.ByName("id")).
			Str("region", "local").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("handled request")
	}
}

// authenticate enforces the bearer token in Config.AuthToken. An empty
// AuthToken means dev mode: every request is accepted.
func (s *Server) authenticate(r *http.Request) error {
	if s.authToken == "" {
		return nil
	}
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return apierr.Wrap(apierr.KindUnauthorized, nil, "missing bearer token")
	}
	presented := strings.TrimPrefix(header, prefix)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(s.authToken)) != 1 {
		return apierr.Wrap(apierr.KindUnauthorized, nil, "invalid bearer token")
	}
	return nil
}
