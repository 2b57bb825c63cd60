package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var ErrDrainTimeout = errors.New("drain timeout")

type LifecycleRunner struct {
	state    int32
	ctx      context.Context
	cancel   context.CancelFunc
	onceStop sync.Once
	hooks    Hooks
	service  Service
	stopErr  error
	timeout  time.Duration
}

func NewLifecycleRunner(service Service, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LifecycleRunner{
		state:   int32(StateNew),
		ctx:     ctx,
		cancel:  cancel,
		hooks:   hooks,
		service: service,
		timeout: timeout,
	}
}

// Run starts the service and blocks until ctx is cancelled, Stop is called or
// the service fails, then drains it.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return errors.New("invalid state transition")
	}
	PrintBanner()
	if ctx != nil {
		r.ctx, r.cancel = context.WithCancel(ctx)
	}
	var serveErr <-chan error
	if r.service != nil {
		serveErr = r.service.Start()
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.setState(StateRunning)

	var failure error
	select {
	case <-r.ctx.Done():
	case err := <-serveErr:
		if err != nil {
			failure = fmt.Errorf("service: %w", err)
		}
	}
	if err := r.stop(); err != nil && failure == nil {
		failure = err
	}
	return failure
}

func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		if r.service != nil {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			err := r.service.Drain(ctx)
			cancel()
			if errors.Is(err, context.DeadlineExceeded) {
				r.stopErr = ErrDrainTimeout
			} else if err != nil {
				r.stopErr = err
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.setState(StateStopped)
	})
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}
