package orchestrator

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/harunnryd/voicegate/pkg/adapters/tts"
	"github.com/harunnryd/voicegate/pkg/calls"
	"github.com/harunnryd/voicegate/pkg/classify"
	"github.com/harunnryd/voicegate/pkg/errorsx"
	"github.com/harunnryd/voicegate/pkg/metrics"
	"github.com/harunnryd/voicegate/pkg/redact"
)

// InitiateRequest carries either an existing audio reference or text to synthesize.
type InitiateRequest struct {
	Origin      string
	Destination string
	// AudioRef is an existing audio reference passed to the proxy as-is.
	AudioRef string
	// Text is synthesized when AudioRef is empty.
	Text  string
	Owner string
}

type InitiateResult struct {
	Call     calls.Call
	CallType calls.CallType
	DialogID string
}

func (r InitiateRequest) validate() error {
	origin := strings.TrimSpace(r.Origin)
	dest := strings.TrimSpace(r.Destination)
	if origin == "" || dest == "" {
		return errorsx.Validation("fromNumber and toNumber are required")
	}
	if hasControl(origin) || hasControl(dest) || hasControl(r.AudioRef) {
		return errorsx.Validation("identifiers must not contain control characters")
	}
	if strings.TrimSpace(r.AudioRef) == "" && strings.TrimSpace(r.Text) == "" {
		return errorsx.Validation("either audioFile or text is required")
	}
	if strings.TrimSpace(r.Owner) == "" {
		return errorsx.Validation("owner is required")
	}
	return nil
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

// Initiate places a call. The record is persisted before any external step and
// always reflects the last completed step; the first failure stops the sequence
// and leaves the record failed.
func (o *Orchestrator) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	if err := req.validate(); err != nil {
		return InitiateResult{}, err
	}
	start := o.now()
	audioRef := strings.TrimSpace(req.AudioRef)
	explicit := audioRef != ""
	if !explicit {
		audioRef = "tts_" + strconv.FormatInt(start.UnixMilli(), 10) + "." + o.cfg.Speech.Format.Extension()
	}
	call := &calls.Call{
		ID:          o.newID(),
		Origin:      strings.TrimSpace(req.Origin),
		Destination: strings.TrimSpace(req.Destination),
		AudioRef:    audioRef,
		Status:      calls.StatusInitiated,
		StartTime:   start,
		Owner:       req.Owner,
	}
	if err := o.store.Insert(ctx, call); err != nil {
		return InitiateResult{}, errorsx.Storage(errorsx.SubsystemStore, err)
	}
	log := o.logger.With("call_id", call.ID)
	log.Info("call_record_created",
		"from", redact.Text(call.Origin),
		"to", redact.Text(call.Destination),
		"owner", call.Owner)

	audioPath := audioRef
	if !explicit {
		ref, path, err := o.synthesizeForCall(ctx, req.Text)
		if err != nil {
			err = o.fail(ctx, call, err)
			return InitiateResult{Call: *call}, err
		}
		call.AudioRef = ref
		audioPath = path
	}

	call.CallType = classify.Destination(call.Destination)
	dialogID, err := o.placeCall(ctx, call, audioPath)
	if err != nil {
		err = o.fail(ctx, call, err)
		return InitiateResult{Call: *call, CallType: call.CallType}, err
	}

	call.DialogID = dialogID
	if err := call.Transition(calls.StatusInitiated); err != nil {
		return InitiateResult{}, err
	}
	if err := o.store.Update(context.WithoutCancel(ctx), call); err != nil {
		return InitiateResult{Call: *call, CallType: call.CallType, DialogID: dialogID}, errorsx.Storage(errorsx.SubsystemStore, err)
	}
	o.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventCallInitiated,
		Time:  o.now(),
		Value: 1,
		Tags:  map[string]string{"call_type": string(call.CallType), "control": o.control.Name()},
	})
	log.Info("call_initiated",
		"call_type", call.CallType,
		"dialog_id", dialogID,
		"audio_ref", call.AudioRef)
	return InitiateResult{Call: *call, CallType: call.CallType, DialogID: dialogID}, nil
}

// synthesizeForCall renders text with the configured defaults and stores it,
// returning the stored reference and the path handed to the proxy.
func (o *Orchestrator) synthesizeForCall(ctx context.Context, text string) (string, string, error) {
	req := o.cfg.Speech.Apply(tts.Request{Text: text})
	audio, err := o.synthesize(ctx, req)
	if err != nil {
		return "", "", err
	}
	ref, err := o.audio.Save(audio, req.Format.Extension())
	if err != nil {
		return "", "", errorsx.Storage(errorsx.SubsystemAudio, err)
	}
	path, err := o.audio.Path(ref)
	if err != nil {
		return "", "", errorsx.Storage(errorsx.SubsystemAudio, err)
	}
	return ref, path, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	sctx, cancel := external(ctx, o.cfg.SpeechTimeout)
	defer cancel()
	started := time.Now()
	audio, err := o.speech.Synthesize(sctx, req)
	metrics.Latency(o.obs, metrics.EventSynthesisLatency, time.Since(started), map[string]string{"provider": o.speech.Name()})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.KindProvider, errorsx.SubsystemSpeech)
	}
	return audio, nil
}

func (o *Orchestrator) placeCall(ctx context.Context, call *calls.Call, audioPath string) (string, error) {
	cctx, cancel := external(ctx, o.cfg.TelephonyTimeout)
	defer cancel()
	started := time.Now()
	var (
		id  string
		err error
	)
	verb := "bridge"
	if call.CallType == calls.CallTypePSTN {
		id, err = o.control.Bridge(cctx, call.Origin, call.Destination, audioPath)
	} else {
		verb = "create_dialog"
		id, err = o.control.CreateDialog(cctx, call.Origin, call.Destination, audioPath)
	}
	metrics.Latency(o.obs, metrics.EventControlLatency, time.Since(started), map[string]string{"verb": verb})
	if err != nil {
		if errorsx.HasKind(err, errorsx.KindValidation) {
			return "", &errorsx.Error{Kind: errorsx.KindValidation, Subsystem: errorsx.SubsystemTelephony, Err: err}
		}
		return "", errorsx.Wrap(err, errorsx.KindTelephony, errorsx.SubsystemTelephony)
	}
	return id, nil
}
