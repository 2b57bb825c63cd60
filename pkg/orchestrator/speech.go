package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/harunnryd/voicegate/pkg/adapters/tts"
	"github.com/harunnryd/voicegate/pkg/errorsx"
)

// SynthesisResult names the stored audio file.
type SynthesisResult struct {
	Filename string
	Path     string
}

// Synthesize renders text to a stored audio file outside of any call.
func (o *Orchestrator) Synthesize(ctx context.Context, req tts.Request) (SynthesisResult, error) {
	req = o.cfg.Speech.Apply(req)
	req, err := tts.ValidateRequest(req)
	if err != nil {
		return SynthesisResult{}, err
	}
	audio, err := o.synthesize(ctx, req)
	if err != nil {
		return SynthesisResult{}, err
	}
	name, err := o.audio.SaveWithPrefix("audio_", audio, req.Format.Extension())
	if err != nil {
		return SynthesisResult{}, errorsx.Storage(errorsx.SubsystemAudio, err)
	}
	path, err := o.audio.Path(name)
	if err != nil {
		return SynthesisResult{}, errorsx.Storage(errorsx.SubsystemAudio, err)
	}
	o.logger.Info("speech_synthesized", "file", name, "format", req.Format, "size_bytes", len(audio))
	return SynthesisResult{Filename: name, Path: path}, nil
}

// Voices returns the provider's voice catalog verbatim.
func (o *Orchestrator) Voices(ctx context.Context) (json.RawMessage, error) {
	sctx, cancel := external(ctx, o.cfg.SpeechTimeout)
	defer cancel()
	started := time.Now()
	voices, err := o.speech.ListVoices(sctx)
	o.logger.Debug("speech_voices_listed", "provider", o.speech.Name(), "elapsed_ms", time.Since(started).Milliseconds())
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.KindProvider, errorsx.SubsystemSpeech)
	}
	return voices, nil
}
