package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ryoh/typerank/internal/typing"
)

// errorBody is the uniform error envelope. Code is the taxonomy kind;
// Reason is the machine-readable reason when the error carries one.
// Internal details never leave the process.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// decodeJSON parses the request body into dst. Any decode failure,
// including an oversized body, collapses to BAD_PAYLOAD; unknown fields
// are ignored.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return typing.ValidationError(typing.ReasonBadPayload)
	}
	return nil
}

// renderError maps a domain error onto its HTTP status and envelope.
// NOT_FOUND→404, VALIDATION→400, CONFLICT→409, everything else→500.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	kind := typing.KindOf(err)

	var status int
	switch kind {
	case typing.KindNotFound:
		status = http.StatusNotFound
	case typing.KindValidation:
		status = http.StatusBadRequest
	case typing.KindConflict:
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Client went away or the deadline passed; not a server fault.
			s.logger.Debug("request aborted", "method", r.Method, "path", r.URL.Path, "error", err)
		} else {
			s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		}
		writeJSON(w, status, errorBody{Error: errorDetail{Code: kind.String()}})
		return
	}

	writeJSON(w, status, errorBody{Error: errorDetail{Code: kind.String(), Reason: typing.ReasonOf(err)}})
}
