// Package httpapi implements the minimal net/http ServeMux-based handlers
// named in §6 External Interfaces: the chat endpoint, the session/approval/
// tool CRUD APIs, and the inbound webhook surface. It is a thin JSON layer
// over the engine's Go interfaces (internal/agent, internal/sessions), not
// a general-purpose router — routing stays ServeMux, matching the Non-goals'
// "no HTTP router implementation beyond the minimal net/http ServeMux-based
// handlers needed to exercise §6's contracts".
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nexus-core/nexus/internal/nexuserr"
)

// envelope is the §6 response wrapper: every success body is
// {success: true, data: ...}, every error {success: false, error: {...}}.
type envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *envelopeError `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// issue is one entry of a validation error's details.issues array.
type issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeErr translates err into the §6 error envelope. Classified errors
// (*nexuserr.NexusError) carry their Kind as the code and NexusError.HTTPStatus
// as the status; anything else is reported as a 500 INTERNAL_ERROR without
// leaking the underlying message, matching §7's closed error taxonomy.
func writeErr(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind, ok := nexuserr.KindOf(err)
	if !ok {
		if logger != nil {
			logger.Error("unclassified error reached the HTTP boundary", "error", err)
		}
		writeJSON(w, http.StatusInternalServerError, envelope{
			Success: false,
			Error:   &envelopeError{Code: string(nexuserr.KindInternal), Message: "internal error"},
		})
		return
	}
	writeJSON(w, kind.HTTPStatus(), envelope{
		Success: false,
		Error:   errorBody(err, kind),
	})
}

func errorBody(err error, kind nexuserr.Kind) *envelopeError {
	body := &envelopeError{Code: string(kind), Message: err.Error()}
	var ne *nexuserr.NexusError
	if e, ok := err.(*nexuserr.NexusError); ok {
		ne = e
	}
	if ne != nil {
		if ne.Message != "" {
			body.Message = ne.Message
		}
		if len(ne.Details) > 0 {
			body.Details = ne.Details
		}
	}
	return body
}

func writeValidationErr(w http.ResponseWriter, message string, issues []issue) {
	details := map[string]any{}
	if len(issues) > 0 {
		details["issues"] = issues
	}
	writeJSON(w, http.StatusBadRequest, envelope{
		Success: false,
		Error: &envelopeError{
			Code:    string(nexuserr.KindValidation),
			Message: message,
			Details: details,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
