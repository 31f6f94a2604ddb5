package countertop

import (
	"context"
	"sync"

	"github.com/c360/countertop/errors"
)

// State is a lifecycle state shared by the coordinator and its stations.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateStarted
	StateStopping
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// lifecycle guards a State. transition moves to next only from one of the
// allowed states and reports the previous one.
type lifecycle struct {
	mu    sync.Mutex
	state State
	cause error
}

func (l *lifecycle) get() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) set(s State) {
	l.mu.Lock()
	l.state = s
	l.cause = nil
	l.mu.Unlock()
}

// fail moves to StateErrored and remembers why.
func (l *lifecycle) fail(err error) {
	l.mu.Lock()
	l.state = StateErrored
	l.cause = err
	l.mu.Unlock()
}

func (l *lifecycle) snapshot() (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.cause
}

func (l *lifecycle) transition(component, op string, next State, allowed ...State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range allowed {
		if l.state == a {
			l.state = next
			return nil
		}
	}
	return errors.NewStateError(component, op, l.state.String(), stateNames(allowed)...)
}

// require fails unless the current state is one of allowed. The lock is
// held while fn runs so the state cannot change underneath it.
func (l *lifecycle) require(component, op string, fn func() error, allowed ...State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range allowed {
		if l.state == a {
			return fn()
		}
	}
	return errors.NewStateError(component, op, l.state.String(), stateNames(allowed)...)
}

func stateNames(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = s.String()
	}
	return out
}

// fanOut runs fn for every item concurrently and joins all failures.
func fanOut[T any](ctx context.Context, items []T, fn func(context.Context, T) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx, item); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
