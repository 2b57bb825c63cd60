package orchestrator

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/voicegate/pkg/calls"
	"github.com/harunnryd/voicegate/pkg/errorsx"
	"github.com/harunnryd/voicegate/pkg/metrics"
	"github.com/harunnryd/voicegate/pkg/telephony"
)

// StatusResult pairs the record with the proxy's raw status text.
type StatusResult struct {
	Call calls.Call
	// Status is the proxy's status text, verbatim.
	Status string
}

// Status queries the proxy for the call's dialog and moves the record forward
// when the reported state is recognized.
func (o *Orchestrator) Status(ctx context.Context, callID string) (StatusResult, error) {
	call, err := o.load(ctx, callID)
	if err != nil {
		return StatusResult{}, err
	}
	if call.DialogID == "" {
		return StatusResult{Call: call}, errorsx.Validation("call %s has no dialog", callID)
	}
	text, err := o.command(ctx, "get", func(cctx context.Context) (string, error) {
		return o.control.GetDialog(cctx, call.DialogID)
	})
	if err != nil {
		return StatusResult{Call: call}, err
	}
	next, ok := parseDialogStatus(text)
	if !ok || next == call.Status || !calls.CanTransition(call.Status, next) {
		return StatusResult{Call: call, Status: text}, nil
	}
	updated := call
	if next == calls.StatusCompleted {
		err = updated.Complete(o.now())
	} else {
		err = updated.Transition(next)
	}
	if err != nil {
		return StatusResult{Call: call, Status: text}, nil
	}
	if err := o.store.Update(context.WithoutCancel(ctx), &updated); err != nil {
		if errors.Is(err, calls.ErrTerminal) || errors.Is(err, calls.ErrInvalidTransition) {
			// a concurrent writer already moved the record past this poll
			current, lerr := o.load(ctx, callID)
			if lerr != nil {
				return StatusResult{Call: call, Status: text}, lerr
			}
			return StatusResult{Call: current, Status: text}, nil
		}
		return StatusResult{Call: call, Status: text}, errorsx.Storage(errorsx.SubsystemStore, err)
	}
	o.logger.Info("call_status_reconciled", "call_id", call.ID, "from", call.Status, "to", next)
	return StatusResult{Call: updated, Status: text}, nil
}

// End terminates the call's dialog. The record is completed only when the
// proxy confirms; a record already terminal is left as it is.
func (o *Orchestrator) End(ctx context.Context, callID string) (calls.Call, error) {
	call, err := o.load(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if call.DialogID == "" {
		return call, errorsx.Validation("call %s has no dialog", callID)
	}
	if _, err := o.command(ctx, "end", func(cctx context.Context) (string, error) {
		return o.control.EndDialog(cctx, call.DialogID)
	}); err != nil {
		return call, err
	}
	if call.Status.Terminal() {
		return call, nil
	}
	updated := call
	if err := updated.Complete(o.now()); err != nil {
		return call, err
	}
	if err := o.store.Update(context.WithoutCancel(ctx), &updated); err != nil {
		if errors.Is(err, calls.ErrTerminal) {
			return o.load(ctx, callID)
		}
		return call, errorsx.Storage(errorsx.SubsystemStore, err)
	}
	o.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventCallEnded,
		Time:  o.now(),
		Value: float64(updated.Duration),
	})
	o.logger.Info("call_ended", "call_id", call.ID, "duration_s", updated.Duration)
	return updated, nil
}

type ActiveResult struct {
	Dialogs []string
	Calls   []calls.Call
}

// Active lists the proxy's dialogs alongside the non-terminal records.
func (o *Orchestrator) Active(ctx context.Context) (ActiveResult, error) {
	var dialogs []string
	_, err := o.command(ctx, "list", func(cctx context.Context) (string, error) {
		var err error
		dialogs, err = o.control.ListDialogs(cctx)
		return "", err
	})
	if err != nil {
		return ActiveResult{}, err
	}
	f := calls.Filter{Statuses: calls.ActiveStatuses, Limit: calls.MaxPageLimit}
	active, err := o.store.List(ctx, f)
	if err != nil {
		return ActiveResult{}, errorsx.Storage(errorsx.SubsystemStore, err)
	}
	if dialogs == nil {
		dialogs = []string{}
	}
	return ActiveResult{Dialogs: dialogs, Calls: active}, nil
}

// HistoryQuery pages through records, optionally by status.
type HistoryQuery struct {
	Page   int
	Limit  int
	Status string
}

// Page is one page of history with its totals.
type Page struct {
	Calls      []calls.Call
	Total      int
	Page       int
	TotalPages int
}

func (o *Orchestrator) History(ctx context.Context, q HistoryQuery) (Page, error) {
	f := calls.Filter{Page: q.Page, Limit: q.Limit}.Normalize()
	if strings.TrimSpace(q.Status) != "" {
		s, err := calls.ParseStatus(q.Status)
		if err != nil {
			return Page{}, errorsx.Validation("%v", err)
		}
		f.Statuses = []calls.Status{s}
	}
	list, err := o.store.List(ctx, f)
	if err != nil {
		return Page{}, errorsx.Storage(errorsx.SubsystemStore, err)
	}
	total, err := o.store.Count(ctx, f)
	if err != nil {
		return Page{}, errorsx.Storage(errorsx.SubsystemStore, err)
	}
	if list == nil {
		list = []calls.Call{}
	}
	return Page{
		Calls:      list,
		Total:      total,
		Page:       f.Page,
		TotalPages: (total + f.Limit - 1) / f.Limit,
	}, nil
}

func (o *Orchestrator) Get(ctx context.Context, callID string) (calls.Call, error) {
	return o.load(ctx, callID)
}

// command runs one control command on a detached, bounded context.
func (o *Orchestrator) command(ctx context.Context, verb string, fn func(context.Context) (string, error)) (string, error) {
	cctx, cancel := external(ctx, o.cfg.TelephonyTimeout)
	defer cancel()
	started := time.Now()
	out, err := fn(cctx)
	metrics.Latency(o.obs, metrics.EventControlLatency, time.Since(started), map[string]string{"verb": verb})
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.KindTelephony, errorsx.SubsystemTelephony)
	}
	return out, nil
}

var twilioStatus = map[string]calls.Status{
	"queued":      calls.StatusInitiated,
	"initiated":   calls.StatusInitiated,
	"ringing":     calls.StatusRinging,
	"in-progress": calls.StatusInProgress,
	"completed":   calls.StatusCompleted,
	"busy":        calls.StatusFailed,
	"failed":      calls.StatusFailed,
	"no-answer":   calls.StatusFailed,
	"canceled":    calls.StatusFailed,
}

// parseDialogStatus reads "state: N" (OpenSIPS dialog state) or
// "status: word" lines from the proxy's status text.
func parseDialogStatus(text string) (calls.Status, bool) {
	for _, line := range telephony.SplitLines(text) {
		key, value, ok := cutKV(line)
		if !ok {
			continue
		}
		switch key {
		case "state":
			n, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			switch {
			case n == 1 || n == 2:
				return calls.StatusRinging, true
			case n == 3 || n == 4:
				return calls.StatusInProgress, true
			case n == 5:
				return calls.StatusCompleted, true
			}
		case "status":
			if s, ok := twilioStatus[strings.ToLower(value)]; ok {
				return s, true
			}
		}
	}
	return "", false
}

func cutKV(line string) (string, string, bool) {
	sep := strings.IndexAny(line, ":=")
	if sep <= 0 {
		return "", "", false
	}
	key := strings.ToLower(strings.TrimSpace(line[:sep]))
	key = strings.Trim(key, `"`)
	value := strings.TrimSpace(strings.TrimLeft(line[sep+1:], ":= "))
	value = strings.Trim(strings.TrimSuffix(value, ","), `"`)
	return key, value, true
}
