package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/voicegate/pkg/adapters/tts"
	"github.com/harunnryd/voicegate/pkg/audiostore"
	"github.com/harunnryd/voicegate/pkg/calls"
	"github.com/harunnryd/voicegate/pkg/errorsx"
	"github.com/harunnryd/voicegate/pkg/metrics"
	"github.com/harunnryd/voicegate/pkg/providers/mock"
	"github.com/harunnryd/voicegate/pkg/store/memory"
	"github.com/harunnryd/voicegate/pkg/telephony/fake"
)

type harness struct {
	orch    *Orchestrator
	store   *memory.Store
	speech  *mock.TTS
	control *fake.Client
	audio   *audiostore.Store
	obs     *metrics.MemoryObserver
}

func newHarness(t *testing.T, speechErr error) *harness {
	t.Helper()
	audio, err := audiostore.New(t.TempDir())
	if err != nil {
		t.Fatalf("audio store: %v", err)
	}
	h := &harness{
		store:   memory.New(),
		speech:  mock.NewTTS(mock.TTSConfig{Err: speechErr}),
		control: fake.New(),
		audio:   audio,
		obs:     metrics.NewMemoryObserver(),
	}
	h.orch, err = New(Config{
		Speech:           tts.Defaults{Language: "en-US", Voice: "en-US-Standard-A", Format: tts.FormatMP3},
		TelephonyTimeout: 200 * time.Millisecond,
	}, Deps{Store: h.store, Speech: h.speech, Audio: h.audio, Control: h.control})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	h.orch.SetObserver(h.obs)
	return h
}

func (h *harness) all(t *testing.T) []calls.Call {
	t.Helper()
	list, err := h.store.List(context.Background(), calls.Filter{Limit: calls.MaxPageLimit})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return list
}

func TestInitiateEndToEndPSTN(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.orch.Initiate(context.Background(), InitiateRequest{
		Origin: "1000", Destination: "15551234567", Text: "hello", Owner: "abcdefgh...",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.CallType != calls.CallTypePSTN {
		t.Fatalf("expected PSTN, got %s", res.CallType)
	}
	if len(h.speech.Requests()) != 1 {
		t.Fatalf("expected one synthesis, got %d", len(h.speech.Requests()))
	}
	inv := h.control.Invocations()
	if len(inv) != 1 || inv[0].Verb != "bridge" {
		t.Fatalf("expected one bridge, got %+v", inv)
	}
	wantPath := filepath.Join(h.audio.Dir(), res.Call.AudioRef)
	if inv[0].Args[2] != wantPath {
		t.Fatalf("expected bridge with %s, got %s", wantPath, inv[0].Args[2])
	}
	if _, err := os.Stat(wantPath); err != nil {
		t.Fatalf("expected audio written: %v", err)
	}
	stored, err := h.store.Get(context.Background(), res.Call.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != calls.StatusInitiated || stored.AudioRef == "" || stored.DialogID == "" {
		t.Fatalf("unexpected stored record %+v", stored)
	}
	if stored.DialogID != res.DialogID || stored.Owner != "abcdefgh..." {
		t.Fatalf("expected dialog and owner persisted, got %+v", stored)
	}
	if h.obs.Count(metrics.EventCallInitiated) != 1 {
		t.Fatalf("expected call_initiated event")
	}
}

func TestInitiateSIPUsesCreateDialogAndExplicitAudio(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.orch.Initiate(context.Background(), InitiateRequest{
		Origin: "1000", Destination: "bob@example.com", AudioRef: "/srv/prompts/welcome.wav", Owner: "owner",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.CallType != calls.CallTypeSIP {
		t.Fatalf("expected SIP, got %s", res.CallType)
	}
	if len(h.speech.Requests()) != 0 {
		t.Fatalf("expected no synthesis with explicit audio")
	}
	inv := h.control.Invocations()
	if len(inv) != 1 || inv[0].Verb != "create_dialog" || inv[0].Args[2] != "/srv/prompts/welcome.wav" {
		t.Fatalf("unexpected invocations %+v", inv)
	}
	if res.Call.AudioRef != "/srv/prompts/welcome.wav" {
		t.Fatalf("expected explicit audio ref kept, got %s", res.Call.AudioRef)
	}
}

func TestInitiateWithoutAudioOrTextPersistsNothing(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.orch.Initiate(context.Background(), InitiateRequest{Origin: "1000", Destination: "15551234567", Owner: "o"})
	if !errorsx.HasKind(err, errorsx.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(h.all(t)) != 0 {
		t.Fatalf("expected no record persisted")
	}
	if len(h.control.Invocations()) != 0 {
		t.Fatalf("expected no control command")
	}
}

func TestInitiateValidation(t *testing.T) {
	h := newHarness(t, nil)
	cases := []InitiateRequest{
		{Destination: "15551234567", Text: "hi", Owner: "o"},
		{Origin: "1000", Text: "hi", Owner: "o"},
		{Origin: "1000\n", Destination: "15551234567", Text: "hi", Owner: "o"},
		{Origin: "1000", Destination: "15551234567", Text: "hi"},
	}
	for i, req := range cases {
		if _, err := h.orch.Initiate(context.Background(), req); !errorsx.HasKind(err, errorsx.KindValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if len(h.all(t)) != 0 {
		t.Fatalf("expected no record persisted")
	}
}

func TestInitiateSynthesisFailureSkipsTelephony(t *testing.T) {
	h := newHarness(t, errors.New("quota exhausted"))
	res, err := h.orch.Initiate(context.Background(), InitiateRequest{
		Origin: "1000", Destination: "15551234567", Text: "hello", Owner: "o",
	})
	if !errorsx.HasKind(err, errorsx.KindProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if !strings.Contains(err.Error(), "quota exhausted") {
		t.Fatalf("expected provider message preserved, got %v", err)
	}
	if len(h.control.Invocations()) != 0 {
		t.Fatalf("expected zero control invocations, got %d", len(h.control.Invocations()))
	}
	stored, _ := h.store.Get(context.Background(), res.Call.ID)
	if stored.Status != calls.StatusFailed {
		t.Fatalf("expected failed record, got %s", stored.Status)
	}
	if !strings.HasPrefix(stored.Error, "speech: ") {
		t.Fatalf("expected error naming speech subsystem, got %q", stored.Error)
	}
	if h.obs.Count(metrics.EventCallFailed) != 1 {
		t.Fatalf("expected call_failed event")
	}
}

func TestProvisionalAudioRefFollowsConfiguredFormat(t *testing.T) {
	h := newHarness(t, errors.New("quota exhausted"))
	h.orch.cfg.Speech.Format = tts.FormatWAV
	res, err := h.orch.Initiate(context.Background(), InitiateRequest{
		Origin: "1000", Destination: "15551234567", Text: "hello", Owner: "o",
	})
	if err == nil {
		t.Fatalf("expected synthesis failure")
	}
	stored, _ := h.store.Get(context.Background(), res.Call.ID)
	if !strings.HasPrefix(stored.AudioRef, "tts_") || !strings.HasSuffix(stored.AudioRef, ".wav") {
		t.Fatalf("expected provisional wav reference, got %q", stored.AudioRef)
	}
}

func TestInitiateTelephonyFailureMarksFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.control.Stderr["bridge"] = "500 dialog module unavailable"
	res, err := h.orch.Initiate(context.Background(), InitiateRequest{
		Origin: "1000", Destination: "+15551234567", Text: "hello", Owner: "o",
	})
	if !errorsx.HasKind(err, errorsx.KindTelephony) {
		t.Fatalf("expected telephony error, got %v", err)
	}
	if errorsx.SubsystemOf(err) != errorsx.SubsystemTelephony {
		t.Fatalf("expected telephony subsystem, got %q", errorsx.SubsystemOf(err))
	}
	stored, _ := h.store.Get(context.Background(), res.Call.ID)
	if stored.Status != calls.StatusFailed || stored.DialogID != "" {
		t.Fatalf("unexpected stored record %+v", stored)
	}
}

func TestInitiateAdvisoryStderrSucceeds(t *testing.T) {
	h := newHarness(t, nil)
	h.control.Stderr["create_dialog"] = "warning: dialog timeout adjusted"
	res, err := h.orch.Initiate(context.Background(), InitiateRequest{
		Origin: "1000", Destination: "alice@example.com", Text: "hello", Owner: "o",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.Call.Status != calls.StatusInitiated {
		t.Fatalf("expected initiated, got %s", res.Call.Status)
	}
}

func TestInitiateSurvivesCallerCancellation(t *testing.T) {
	h := newHarness(t, nil)
	h.control.Block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	var res InitiateResult
	go func() {
		var err error
		res, err = h.orch.Initiate(ctx, InitiateRequest{Origin: "1000", Destination: "15551234567", Text: "hello", Owner: "o"})
		done <- err
	}()
	for len(h.control.Invocations()) == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	close(h.control.Block)

	if err := <-done; err != nil {
		t.Fatalf("expected command to finish after disconnect: %v", err)
	}
	stored, _ := h.store.Get(context.Background(), res.Call.ID)
	if stored.Status != calls.StatusInitiated || stored.DialogID == "" {
		t.Fatalf("expected reconciled record, got %+v", stored)
	}
}

func TestInitiateTimeoutMarksFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.control.Block = make(chan struct{})
	defer close(h.control.Block)

	res, err := h.orch.Initiate(context.Background(), InitiateRequest{Origin: "1000", Destination: "15551234567", Text: "hello", Owner: "o"})
	if !errorsx.HasKind(err, errorsx.KindTelephony) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected telephony timeout, got %v", err)
	}
	stored, _ := h.store.Get(context.Background(), res.Call.ID)
	if stored.Status != calls.StatusFailed {
		t.Fatalf("expected failed after timeout, got %s", stored.Status)
	}
}

type failingUpdates struct {
	*memory.Store
}

func (f failingUpdates) Update(ctx context.Context, c *calls.Call) error {
	return errors.New("database unavailable")
}

func TestFailurePersistenceErrorIsJoined(t *testing.T) {
	h := newHarness(t, errors.New("provider down"))
	h.orch.store = failingUpdates{h.store}
	_, err := h.orch.Initiate(context.Background(), InitiateRequest{Origin: "1000", Destination: "15551234567", Text: "hello", Owner: "o"})
	if err == nil || !strings.Contains(err.Error(), "provider down") || !strings.Contains(err.Error(), "database unavailable") {
		t.Fatalf("expected both errors, got %v", err)
	}
}

func initiated(t *testing.T, h *harness) calls.Call {
	t.Helper()
	res, err := h.orch.Initiate(context.Background(), InitiateRequest{Origin: "1000", Destination: "15551234567", Text: "hello", Owner: "o"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	return res.Call
}

func TestEndTwiceDoesNotCorruptRecord(t *testing.T) {
	h := newHarness(t, nil)
	call := initiated(t, h)

	ended, err := h.orch.End(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("first end: %v", err)
	}
	if ended.Status != calls.StatusCompleted || ended.EndTime == nil {
		t.Fatalf("expected completed record, got %+v", ended)
	}
	before, _ := h.store.Get(context.Background(), call.ID)

	_, err = h.orch.End(context.Background(), call.ID)
	if !errorsx.HasKind(err, errorsx.KindTelephony) {
		t.Fatalf("expected telephony error on second end, got %v", err)
	}
	after, _ := h.store.Get(context.Background(), call.ID)
	if after.Status != before.Status || !after.EndTime.Equal(*before.EndTime) || after.Duration != before.Duration {
		t.Fatalf("record changed: before %+v after %+v", before, after)
	}
}

func TestEndFailureLeavesRecord(t *testing.T) {
	h := newHarness(t, nil)
	call := initiated(t, h)
	h.control.Stderr["end"] = "500 internal error"
	if _, err := h.orch.End(context.Background(), call.ID); !errorsx.HasKind(err, errorsx.KindTelephony) {
		t.Fatalf("expected telephony error, got %v", err)
	}
	stored, _ := h.store.Get(context.Background(), call.ID)
	if stored.Status != calls.StatusInitiated {
		t.Fatalf("expected record untouched, got %s", stored.Status)
	}
}

func TestEndUnknownCall(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.orch.End(context.Background(), "missing"); !errorsx.HasKind(err, errorsx.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatusReconcilesForward(t *testing.T) {
	h := newHarness(t, nil)
	call := initiated(t, h)
	h.control.SetState(call.DialogID, "Dialog:: hash=12:34\n\tstate:: 4\n\ttimestart:: 1700000000")

	res, err := h.orch.Status(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if res.Call.Status != calls.StatusInProgress {
		t.Fatalf("expected in-progress, got %s", res.Call.Status)
	}
	if !strings.Contains(res.Status, "state:: 4") {
		t.Fatalf("expected raw status text, got %q", res.Status)
	}

	h.control.SetState(call.DialogID, "state: 1")
	res, err = h.orch.Status(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if res.Call.Status != calls.StatusInProgress {
		t.Fatalf("expected status never to move backwards, got %s", res.Call.Status)
	}
}

// stalledDialog answers its first GetDialog with a fixed status only after
// release is closed; later calls go to the fake proxy.
type stalledDialog struct {
	*fake.Client
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	text    string
}

func (s *stalledDialog) GetDialog(ctx context.Context, dialogID string) (string, error) {
	first := false
	s.once.Do(func() { first = true })
	if !first {
		return s.Client.GetDialog(ctx, dialogID)
	}
	close(s.entered)
	<-s.release
	return s.text, nil
}

func TestConcurrentStatusPollsNeverRegress(t *testing.T) {
	h := newHarness(t, nil)
	call := initiated(t, h)
	stalled := &stalledDialog{
		Client:  h.control,
		entered: make(chan struct{}),
		release: make(chan struct{}),
		text:    "state: 1",
	}
	h.orch.control = stalled

	type outcome struct {
		res StatusResult
		err error
	}
	slow := make(chan outcome, 1)
	go func() {
		res, err := h.orch.Status(context.Background(), call.ID)
		slow <- outcome{res, err}
	}()
	<-stalled.entered

	h.control.SetState(call.DialogID, "state: 4")
	fast, err := h.orch.Status(context.Background(), call.ID)
	if err != nil || fast.Call.Status != calls.StatusInProgress {
		t.Fatalf("expected in-progress from fast poll, got %s %v", fast.Call.Status, err)
	}

	close(stalled.release)
	got := <-slow
	if got.err != nil {
		t.Fatalf("slow poll: %v", got.err)
	}
	if got.res.Call.Status != calls.StatusInProgress || got.res.Status != "state: 1" {
		t.Fatalf("expected slow poll to report the stored record, got %s %q", got.res.Call.Status, got.res.Status)
	}
	stored, _ := h.store.Get(context.Background(), call.ID)
	if stored.Status != calls.StatusInProgress {
		t.Fatalf("status regressed to %s", stored.Status)
	}
}

func TestStatusUnparseableTextIsReturned(t *testing.T) {
	h := newHarness(t, nil)
	call := initiated(t, h)
	h.control.SetState(call.DialogID, "something odd")
	res, err := h.orch.Status(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if res.Status != "something odd" || res.Call.Status != calls.StatusInitiated {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestActiveAndHistory(t *testing.T) {
	h := newHarness(t, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		h.orch.now = func() time.Time { return at }
		initiated(t, h)
	}
	h.control.Stderr["bridge"] = "500 failure"
	h.orch.now = func() time.Time { return base.Add(time.Hour) }
	_, _ = h.orch.Initiate(context.Background(), InitiateRequest{Origin: "1000", Destination: "15551234567", Text: "x", Owner: "o"})

	active, err := h.orch.Active(context.Background())
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active.Dialogs) != 3 || len(active.Calls) != 3 {
		t.Fatalf("expected 3 dialogs and 3 active calls, got %d/%d", len(active.Dialogs), len(active.Calls))
	}

	page, err := h.orch.History(context.Background(), HistoryQuery{Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.Total != 4 || page.TotalPages != 2 || len(page.Calls) != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Calls[0].Status != calls.StatusFailed {
		t.Fatalf("expected newest first, got %s", page.Calls[0].Status)
	}

	failed, err := h.orch.History(context.Background(), HistoryQuery{Status: "failed"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if failed.Total != 1 || failed.Page != 1 {
		t.Fatalf("unexpected filtered page %+v", failed)
	}
	if _, err := h.orch.History(context.Background(), HistoryQuery{Status: "bogus"}); !errorsx.HasKind(err, errorsx.KindValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestSynthesizeStoresAudioFile(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.orch.Synthesize(context.Background(), tts.Request{Text: "hello", Format: "wav"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if !strings.HasPrefix(res.Filename, "audio_") || !strings.HasSuffix(res.Filename, ".wav") {
		t.Fatalf("unexpected filename %s", res.Filename)
	}
	if _, err := os.Stat(res.Path); err != nil {
		t.Fatalf("expected file at %s: %v", res.Path, err)
	}
	if _, err := h.orch.Synthesize(context.Background(), tts.Request{Text: "  "}); !errorsx.HasKind(err, errorsx.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := h.orch.Synthesize(context.Background(), tts.Request{Text: "hi", Format: "ogg"}); !errorsx.HasKind(err, errorsx.KindValidation) {
		t.Fatalf("expected validation error for format, got %v", err)
	}
}

func TestParseDialogStatus(t *testing.T) {
	cases := map[string]calls.Status{
		"state: 2":            calls.StatusRinging,
		"state=3":             calls.StatusInProgress,
		"\"state\": 5,":       calls.StatusCompleted,
		"status: in-progress": calls.StatusInProgress,
		"status: no-answer":   calls.StatusFailed,
	}
	for in, want := range cases {
		got, ok := parseDialogStatus(in)
		if !ok || got != want {
			t.Fatalf("%q: expected %s, got %s (%v)", in, want, got, ok)
		}
	}
	if _, ok := parseDialogStatus("state: 9"); ok {
		t.Fatalf("expected unknown state to be ignored")
	}
}
