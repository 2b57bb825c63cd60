package api

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/harunnryd/voicegate/pkg/adapters/tts"
	"github.com/harunnryd/voicegate/pkg/auth"
	"github.com/harunnryd/voicegate/pkg/calls"
	"github.com/harunnryd/voicegate/pkg/errorsx"
	"github.com/harunnryd/voicegate/pkg/orchestrator"
)

// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":      "healthy",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"uptime":      time.Since(h.started).Seconds(),
		"environment": h.Environment,
	}
	if h.Components != nil {
		body["components"] = h.Components()
	}
	writeJSON(w, http.StatusOK, body)
}

// GET /api/auth/info
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":           "voicegate",
		"description":    "API for voice calls with TTS integration",
		"authentication": "API Key required in X-API-Key header or Authorization: Bearer <api_key>",
		"endpoints": map[string]any{
			"tts": map[string]string{
				"synthesize": "POST /api/tts/synthesize",
				"voices":     "GET /api/tts/voices",
			},
			"calls": map[string]string{
				"initiate": "POST /api/calls/initiate",
				"status":   "GET /api/calls/status/{callId}",
				"end":      "POST /api/calls/end/{callId}",
				"active":   "GET /api/calls/active",
				"history":  "GET /api/calls/history",
				"details":  "GET /api/calls/{callId}",
			},
		},
	})
}

// GET /api/auth/validate
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "API key is valid",
		"apiKey":  p.Subject,
	})
}

type initiateBody struct {
	FromNumber string `json:"fromNumber"`
	ToNumber   string `json:"toNumber"`
	AudioFile  string `json:"audioFile"`
	Text       string `json:"text"`
}

// POST /api/calls/initiate
func (h *Handler) InitiateCall(w http.ResponseWriter, r *http.Request) {
	var body initiateBody
	if err := decodeBody(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	p, _ := auth.FromContext(r.Context())
	res, err := h.Service.Initiate(r.Context(), orchestrator.InitiateRequest{
		Origin:      body.FromNumber,
		Destination: body.ToNumber,
		AudioRef:    body.AudioFile,
		Text:        body.Text,
		Owner:       p.Subject,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   fmt.Sprintf("Call initiated successfully to %s number", res.CallType),
		"callId":    res.Call.ID,
		"callType":  res.CallType,
		"dialogId":  res.DialogID,
		"audioFile": res.Call.AudioRef,
	})
}

// GET /api/calls/status/{callId}
func (h *Handler) CallStatus(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Status(r.Context(), mux.Vars(r)["callId"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  res.Status,
		"call":    res.Call,
	})
}

// POST /api/calls/end/{callId}
func (h *Handler) EndCall(w http.ResponseWriter, r *http.Request) {
	call, err := h.Service.End(r.Context(), mux.Vars(r)["callId"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Call ended successfully",
		"call":    call,
	})
}

// GET /api/calls/active
func (h *Handler) ActiveCalls(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Active(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"dialogs": res.Dialogs,
		"calls":   nonNil(res.Calls),
	})
}

// GET /api/calls/history?page&limit&status
func (h *Handler) CallHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), "page")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	res, err := h.Service.History(r.Context(), orchestrator.HistoryQuery{Page: page, Limit: limit, Status: q.Get("status")})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"calls":      nonNil(res.Calls),
		"total":      res.Total,
		"page":       res.Page,
		"totalPages": res.TotalPages,
	})
}

// GET /api/calls/{callId}
func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	call, err := h.Service.Get(r.Context(), mux.Vars(r)["callId"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "call": call})
}

type synthesizeBody struct {
	Text        string `json:"text"`
	Language    string `json:"language"`
	VoiceName   string `json:"voiceName"`
	AudioFormat string `json:"audioFormat"`
}

// POST /api/tts/synthesize
func (h *Handler) Synthesize(w http.ResponseWriter, r *http.Request) {
	var body synthesizeBody
	if err := decodeBody(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	res, err := h.Service.Synthesize(r.Context(), tts.Request{
		Text:     body.Text,
		Language: body.Language,
		Voice:    body.VoiceName,
		Format:   tts.Format(body.AudioFormat),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"filename": res.Filename,
		"path":     res.Path,
	})
}

// GET /api/tts/voices
func (h *Handler) Voices(w http.ResponseWriter, r *http.Request) {
	voices, err := h.Service.Voices(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(voices)
}

// GET /media/{file}
func (h *Handler) ServeMedia(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["file"]
	f, err := h.Media.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			h.respondError(w, r, errorsx.NotFound("audio", name))
			return
		}
		h.respondError(w, r, errorsx.Validation("invalid audio reference %q", name))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.respondError(w, r, errorsx.Storage(errorsx.SubsystemAudio, err))
		return
	}
	switch {
	case strings.HasSuffix(name, ".mp3"):
		w.Header().Set("Content-Type", "audio/mpeg")
	case strings.HasSuffix(name, ".wav"):
		w.Header().Set("Content-Type", "audio/wav")
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func intParam(v, name string) (int, error) {
	if strings.TrimSpace(v) == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errorsx.Validation("%s must be a positive integer", name)
	}
	return n, nil
}

func nonNil(list []calls.Call) []calls.Call {
	if list == nil {
		return []calls.Call{}
	}
	return list
}
