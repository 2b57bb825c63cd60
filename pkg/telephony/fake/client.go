// Package fake is an in-memory control client that records every invocation.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/harunnryd/voicegate/pkg/errorsx"
	"github.com/harunnryd/voicegate/pkg/telephony"
)

// Invocation is one recorded command.
type Invocation struct {
	Verb string
	Args []string
}

// Client keeps dialogs in memory. Scripted failures are raised as telephony
// errors through the same classifier the real clients use.
type Client struct {
	mu          sync.Mutex
	seq         int
	dialogs     map[string]string
	invocations []Invocation
	// Stderr maps a verb to diagnostic output returned by the next calls.
	Stderr     map[string]string
	Classifier telephony.Classifier
	// Block, when set, makes commands wait until it is closed or ctx ends.
	Block chan struct{}
}

func New() *Client {
	return &Client{dialogs: map[string]string{}, Stderr: map[string]string{}}
}

func (c *Client) Name() string { return "fake" }

func (c *Client) Bridge(ctx context.Context, origin, destination, audioPath string) (string, error) {
	return c.open(ctx, "bridge", origin, destination, audioPath)
}

func (c *Client) CreateDialog(ctx context.Context, origin, destination, audioPath string) (string, error) {
	return c.open(ctx, "create_dialog", origin, destination, audioPath)
}

func (c *Client) open(ctx context.Context, verb string, args ...string) (string, error) {
	if err := c.run(ctx, verb, args...); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	id := fmt.Sprintf("dlg-%d", c.seq)
	c.dialogs[id] = "state: 1"
	return id, nil
}

func (c *Client) ListDialogs(ctx context.Context) ([]string, error) {
	if err := c.run(ctx, "list"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.dialogs))
	for id := range c.dialogs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (c *Client) GetDialog(ctx context.Context, dialogID string) (string, error) {
	if err := c.run(ctx, "get", dialogID); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.dialogs[dialogID]
	if !ok {
		return "", errorsx.Telephony(fmt.Errorf("404 dialog %s not found", dialogID))
	}
	return state, nil
}

// EndDialog removes the dialog; ending an unknown dialog fails like the proxy does.
func (c *Client) EndDialog(ctx context.Context, dialogID string) (string, error) {
	if err := c.run(ctx, "end", dialogID); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.dialogs[dialogID]; !ok {
		return "", errorsx.Telephony(fmt.Errorf("404 dialog %s not found", dialogID))
	}
	delete(c.dialogs, dialogID)
	return "200 OK", nil
}

// SetState overrides the status text GetDialog reports.
func (c *Client) SetState(dialogID, state string) {
	c.mu.Lock()
	c.dialogs[dialogID] = state
	c.mu.Unlock()
}

// Invocations returns a copy of every recorded command.
func (c *Client) Invocations() []Invocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Invocation, len(c.invocations))
	copy(out, c.invocations)
	return out
}

// Count returns how many times verb was invoked.
func (c *Client) Count(verb string) int {
	n := 0
	for _, inv := range c.Invocations() {
		if inv.Verb == verb {
			n++
		}
	}
	return n
}

func (c *Client) run(ctx context.Context, verb string, args ...string) error {
	c.mu.Lock()
	c.invocations = append(c.invocations, Invocation{Verb: verb, Args: append([]string(nil), args...)})
	stderr := c.Stderr[verb]
	block := c.Block
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return errorsx.Telephony(fmt.Errorf("%s: %w", verb, ctx.Err()))
		}
	}
	_, err := c.Classifier.Classify(telephony.Result{Stderr: stderr})
	return err
}

var _ telephony.ControlClient = (*Client)(nil)
