// Package calls holds the call record and the contract of its durable store.
package calls

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a call attempt.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ActiveStatuses are the non-terminal states.
var ActiveStatuses = []Status{StatusInitiated, StatusRinging, StatusInProgress}

var (
	ErrTerminal          = errors.New("call is in a terminal state")
	ErrInvalidTransition = errors.New("invalid status transition")
)

var rank = map[Status]int{
	StatusInitiated:  0,
	StatusRinging:    1,
	StatusInProgress: 2,
	StatusCompleted:  3,
}

// ParseStatus validates a status string.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if s == StatusFailed {
		return s, nil
	}
	if _, ok := rank[s]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown call status %q", v)
}

// Terminal reports whether no further mutation is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to respects the forward-only lifecycle.
// Re-asserting the current non-terminal status is allowed.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	fr, ok := rank[from]
	if !ok {
		return false
	}
	tr, ok := rank[to]
	if !ok {
		return false
	}
	return tr >= fr
}

// AllowedFrom lists the stored statuses a record may hold for an update to to
// be accepted. Stores use it to reject writes computed from a stale read.
func AllowedFrom(to Status) []Status {
	var out []Status
	for _, from := range ActiveStatuses {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// CallType is the destination classification.
type CallType string

const (
	CallTypePSTN CallType = "PSTN"
	CallTypeSIP  CallType = "SIP"
)

// Call is one attempt to bridge or establish a call.
type Call struct {
	ID          string     `json:"id"`
	Origin      string     `json:"fromNumber"`
	Destination string     `json:"toNumber"`
	AudioRef    string     `json:"audioFile"`
	Status      Status     `json:"status"`
	Duration    int        `json:"duration"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Owner       string     `json:"owner"`
	DialogID    string     `json:"dialogId,omitempty"`
	CallType    CallType   `json:"callType,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Transition moves the record to the next status, enforcing the lifecycle.
func (c *Call) Transition(to Status) error {
	if c.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, c.Status)
	}
	if !CanTransition(c.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	c.Status = to
	return nil
}

// Fail marks the record failed and remembers why.
func (c *Call) Fail(reason error) error {
	if err := c.Transition(StatusFailed); err != nil {
		return err
	}
	if reason != nil {
		c.Error = reason.Error()
	}
	return nil
}

// Complete marks the record completed at end, deriving its duration.
func (c *Call) Complete(end time.Time) error {
	if err := c.Transition(StatusCompleted); err != nil {
		return err
	}
	c.EndTime = &end
	if d := end.Sub(c.StartTime); d > 0 {
		c.Duration = int(d / time.Second)
	}
	return nil
}
