package api

import (
	"encoding/json"
	"net/http"

	"github.com/minifly/minifly/pkg/apierr"
	"github.com/minifly/minifly/pkg/log"
)

// errorEnvelope is the JSON body returned for every non-2xx response.
type errorEnvelope struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger := log.WithComponent("api")
		logger.Error().Err(err).Msg("failed to encode response body")
	}
}

// writeError maps err's apierr.Kind to an HTTP status and writes the
// error envelope. Errors with no Kind (bugs, unexpected stdlib errors)
// are treated as internal.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(apierr.KindOf(err))
	writeJSON(w, status, errorEnvelope{Error: err.Error(), Status: status})
}

func statusFor(kind apierr.Kind) int {
	switch kind {
	case apierr.KindNotFound:
		return http.StatusNotFound
	case apierr.KindConflict, apierr.KindLeaseHeld:
		return http.StatusConflict
	case apierr.KindInvalid:
		return http.StatusUnprocessableEntity
	case apierr.KindUnauthorized:
		return http.StatusUnauthorized
	case apierr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apierr.Invalidf("invalid request body: %v", err)
	}
	return nil
}
