package calls

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("call not found")

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Filter selects records by status set; Page is 1-based.
type Filter struct {
	Statuses []Status
	Page     int
	Limit    int
}

// Normalize applies the paging defaults.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	return f
}

// Offset is the number of records skipped before the page.
func (f Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Matches reports whether the status passes the filter.
func (f Filter) Matches(s Status) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, want := range f.Statuses {
		if want == s {
			return true
		}
	}
	return false
}

// Store is the durable record of call attempts.
// Update must be atomic per record and must refuse to overwrite a terminal record.
type Store interface {
	Insert(ctx context.Context, c *Call) error
	Update(ctx context.Context, c *Call) error
	Get(ctx context.Context, id string) (Call, error)
	// List returns matching records ordered by StartTime descending.
	List(ctx context.Context, f Filter) ([]Call, error)
	Count(ctx context.Context, f Filter) (int, error)
}
