package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeAppError maps the core's error kinds onto HTTP statuses. Anything
// untyped is a 500 and gets logged.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	resp := ErrorResponse{
		Error:   kindCode(ae.Kind),
		Details: ae.Message,
		Reasons: ae.Reasons,
		Guard:   ae.Guard,
	}
	status := http.StatusInternalServerError
	switch ae.Kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindForbidden:
		status = http.StatusForbidden
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindReferential:
		status = http.StatusUnprocessableEntity
	case apperr.KindConflict, apperr.KindTransition:
		status = http.StatusConflict
	case apperr.KindStorage:
		status = http.StatusServiceUnavailable
		resp.Retryable = true
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("storage failure")
	}
	writeJSON(w, status, resp)
}

func kindCode(k apperr.Kind) string {
	switch k {
	case apperr.KindValidation:
		return "validation_error"
	case apperr.KindReferential:
		return "referential_error"
	case apperr.KindConflict:
		return "scheduling_conflict"
	case apperr.KindTransition:
		return "transition_error"
	case apperr.KindStorage:
		return "storage_unavailable"
	case apperr.KindForbidden:
		return "forbidden"
	case apperr.KindNotFound:
		return "not_found"
	}
	return "internal_error"
}
