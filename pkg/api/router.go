// Package api exposes the gateway over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/harunnryd/voicegate/pkg/adapters/tts"
	"github.com/harunnryd/voicegate/pkg/auth"
	"github.com/harunnryd/voicegate/pkg/calls"
	"github.com/harunnryd/voicegate/pkg/orchestrator"
)

// Service is the call and speech surface the handlers drive.
type Service interface {
	Initiate(ctx context.Context, req orchestrator.InitiateRequest) (orchestrator.InitiateResult, error)
	Status(ctx context.Context, callID string) (orchestrator.StatusResult, error)
	End(ctx context.Context, callID string) (calls.Call, error)
	Active(ctx context.Context) (orchestrator.ActiveResult, error)
	History(ctx context.Context, q orchestrator.HistoryQuery) (orchestrator.Page, error)
	Get(ctx context.Context, callID string) (calls.Call, error)
	Synthesize(ctx context.Context, req tts.Request) (orchestrator.SynthesisResult, error)
	Voices(ctx context.Context) (json.RawMessage, error)
}

// MediaStore opens stored audio by reference.
type MediaStore interface {
	Open(ref string) (*os.File, error)
}

type Handler struct {
	Service     Service
	Auth        auth.Authenticator
	Media       MediaStore
	Environment string
	Logger      *slog.Logger
	// Components reports dependency states for /health; optional.
	Components  func() map[string]string

	started time.Time
}

func NewRouter(h *Handler) http.Handler {
	if h.Logger == nil {
		h.Logger = slog.Default().With("component", "api")
	}
	if h.started.IsZero() {
		h.started = time.Now()
	}

	r := mux.NewRouter()
	r.Use(h.requestID, h.recoverer, h.accessLog)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "route not found"})
	})

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	if h.Media != nil {
		r.HandleFunc("/media/{file}", h.ServeMedia).Methods(http.MethodGet, http.MethodHead)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/info", h.Info).Methods(http.MethodGet)

	secured := api.NewRoute().Subrouter()
	secured.Use(h.authenticate)
	secured.HandleFunc("/auth/validate", h.Validate).Methods(http.MethodGet)

	secured.HandleFunc("/calls/initiate", h.InitiateCall).Methods(http.MethodPost)
	secured.HandleFunc("/calls/status/{callId}", h.CallStatus).Methods(http.MethodGet)
	secured.HandleFunc("/calls/end/{callId}", h.EndCall).Methods(http.MethodPost)
	secured.HandleFunc("/calls/active", h.ActiveCalls).Methods(http.MethodGet)
	secured.HandleFunc("/calls/history", h.CallHistory).Methods(http.MethodGet)
	secured.HandleFunc("/calls/{callId}", h.GetCall).Methods(http.MethodGet)

	secured.HandleFunc("/tts/synthesize", h.Synthesize).Methods(http.MethodPost)
	secured.HandleFunc("/tts/voices", h.Voices).Methods(http.MethodGet)

	return r
}
