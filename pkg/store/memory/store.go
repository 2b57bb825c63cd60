// Package memory is a process-local calls.Store used for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/harunnryd/voicegate/pkg/calls"
)

// Store keeps records in a map guarded by one mutex.
type Store struct {
	mu    sync.Mutex
	items map[string]calls.Call
}

// New returns an empty store.
func New() *Store {
	return &Store{items: make(map[string]calls.Call)}
}

func (s *Store) Insert(ctx context.Context, c *calls.Call) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("insert: call id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[c.ID]; ok {
		return fmt.Errorf("insert: call %s already exists", c.ID)
	}
	s.items[c.ID] = clone(*c)
	return nil
}

// Update replaces the record unless the stored status is terminal or the new
// status would move it backwards.
func (s *Store) Update(ctx context.Context, c *calls.Call) error {
	if c == nil {
		return fmt.Errorf("update: nil call")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[c.ID]
	if !ok {
		return calls.ErrNotFound
	}
	if cur.Status.Terminal() {
		return fmt.Errorf("update %s: %w", c.ID, calls.ErrTerminal)
	}
	if !calls.CanTransition(cur.Status, c.Status) {
		return fmt.Errorf("update %s: %w: %s -> %s", c.ID, calls.ErrInvalidTransition, cur.Status, c.Status)
	}
	s.items[c.ID] = clone(*c)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (calls.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.items[id]
	if !ok {
		return calls.Call{}, calls.ErrNotFound
	}
	return clone(c), nil
}

func (s *Store) List(ctx context.Context, f calls.Filter) ([]calls.Call, error) {
	f = f.Normalize()
	matched := s.matching(f)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].StartTime.After(matched[j].StartTime)
	})
	start := f.Offset()
	if start >= len(matched) {
		return []calls.Call{}, nil
	}
	end := start + f.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func (s *Store) Count(ctx context.Context, f calls.Filter) (int, error) {
	return len(s.matching(f)), nil
}

func (s *Store) matching(f calls.Filter) []calls.Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]calls.Call, 0, len(s.items))
	for _, c := range s.items {
		if f.Matches(c.Status) {
			out = append(out, clone(c))
		}
	}
	return out
}

func clone(c calls.Call) calls.Call {
	if c.EndTime != nil {
		end := *c.EndTime
		c.EndTime = &end
	}
	return c
}

var _ calls.Store = (*Store)(nil)
