package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/harunnryd/voicegate/pkg/errorsx"
)

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Subsystem string `json:"subsystem,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

// statusFor maps an error kind to the response status.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch errorsx.KindOf(err) {
	case errorsx.KindValidation:
		return http.StatusBadRequest
	case errorsx.KindNotFound:
		return http.StatusNotFound
	case errorsx.KindProvider, errorsx.KindTelephony:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.Logger.Error("request_failed", "request_id", getRequestID(r), "path", r.URL.Path, "status", status, "error", err.Error())
	} else {
		h.Logger.Warn("request_rejected", "request_id", getRequestID(r), "path", r.URL.Path, "status", status, "error", err.Error())
	}
	writeJSON(w, status, errorResponse{
		Error:     err.Error(),
		Kind:      string(errorsx.KindOf(err)),
		Subsystem: errorsx.SubsystemOf(err),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errorsx.Validation("invalid JSON body: %v", err)
	}
	return nil
}
