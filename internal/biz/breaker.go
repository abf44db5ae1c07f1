package biz

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// BreakerState is the gate position of a CircuitBreaker.
type BreakerState int32

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerSettings configures a CircuitBreaker.
type BreakerSettings struct {
	// FailureThreshold consecutive failures within Window open the breaker.
	FailureThreshold int
	// OpenDuration is how long the breaker stays open after tripping.
	OpenDuration time.Duration
	// BackoffMultiplier scales OpenDuration for each failed half-open probe
	// in a row. Values below 1 disable backoff.
	BackoffMultiplier float64
	// MaxOpenDuration caps the backed-off open duration. Zero means no cap.
	MaxOpenDuration time.Duration
	// Window bounds how old the first failure of a streak may be. Zero means
	// failures never age out.
	Window time.Duration
}

// BreakerStats is a point-in-time view of a breaker for the admin API.
type BreakerStats struct {
	Service             string    `json:"service"`
	InstanceID          string    `json:"instance_id"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Requests            uint64    `json:"requests"`
	Successes           uint64    `json:"successes"`
	Failures            uint64    `json:"failures"`
	Rejections          uint64    `json:"rejections"`
	OpenUntil           time.Time `json:"open_until,omitempty"`
	LastTransition      time.Time `json:"last_transition"`
}

// StateChangeFunc observes breaker transitions. openUntil is zero unless to
// is StateOpen.
type StateChangeFunc func(cb *CircuitBreaker, from, to BreakerState, openUntil time.Time)

// ticket records what allow admitted.
type ticket struct {
	probe      bool
	generation uint64
}

var errCallPanicked = errors.New("call panicked")

// CircuitBreaker gates calls to one downstream instance.
//
// The state word and the half-open probe slot are changed only by
// compare-and-swap, so exactly one caller can become the probe. Failure
// accounting is guarded by mu, which is never held across the call itself.
type CircuitBreaker struct {
	service    string
	instanceID string
	settings   BreakerSettings

	state      atomic.Int32
	probing    atomic.Bool
	openUntil  atomic.Int64 // unix nanos
	generation atomic.Uint64

	mu             sync.Mutex
	failures       int
	streakStart    time.Time
	reopens        int
	lastTransition time.Time

	requests   atomic.Uint64
	successes  atomic.Uint64
	failed     atomic.Uint64
	rejections atomic.Uint64

	onStateChange StateChangeFunc
	now           func() time.Time
}

// NewCircuitBreaker creates a closed breaker for one service instance.
func NewCircuitBreaker(service, instanceID string, settings BreakerSettings, onStateChange StateChangeFunc) *CircuitBreaker {
	if settings.FailureThreshold < 1 {
		settings.FailureThreshold = 1
	}
	cb := &CircuitBreaker{
		service:       service,
		instanceID:    instanceID,
		settings:      settings,
		onStateChange: onStateChange,
		now:           time.Now,
	}
	cb.lastTransition = cb.now()
	return cb
}

// Service returns the service name the breaker belongs to.
func (cb *CircuitBreaker) Service() string { return cb.service }

// InstanceID returns the instance the breaker guards.
func (cb *CircuitBreaker) InstanceID() string { return cb.instanceID }

// State returns the current state. An open breaker whose open duration has
// elapsed still reports StateOpen until the next call moves it to half-open.
func (cb *CircuitBreaker) State() BreakerState {
	return BreakerState(cb.state.Load())
}

// Execute runs fn unless the breaker rejects the call, in which case it
// returns an error wrapping ErrCircuitOpen without invoking fn. An error from
// fn, or an exceeded deadline, counts as a failure. A call abandoned because
// the caller canceled ctx counts as neither success nor failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) (err error) {
	t, err := cb.allow()
	if err != nil {
		cb.rejections.Add(1)
		return err
	}
	cb.requests.Add(1)

	defer func() {
		if r := recover(); r != nil {
			cb.record(t, errCallPanicked, false)
			panic(r)
		}
	}()

	err = fn(ctx)
	canceled := err != nil && errors.Is(ctx.Err(), context.Canceled)
	cb.record(t, err, canceled)
	return err
}

func (cb *CircuitBreaker) allow() (ticket, error) {
	for {
		switch BreakerState(cb.state.Load()) {
		case StateClosed:
			return ticket{generation: cb.generation.Load()}, nil

		case StateOpen:
			if cb.now().UnixNano() < cb.openUntil.Load() {
				return ticket{}, cb.openError()
			}
			if cb.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
				cb.mu.Lock()
				cb.lastTransition = cb.now()
				cb.mu.Unlock()
				cb.generation.Add(1)
				cb.notify(StateOpen, StateHalfOpen, time.Time{})
			}

		case StateHalfOpen:
			if !cb.probing.CompareAndSwap(false, true) {
				return ticket{}, cb.openError()
			}
			// The probe slot may have been taken while a previous half-open
			// period was resolving; only keep it if we are still half-open.
			if BreakerState(cb.state.Load()) != StateHalfOpen {
				cb.probing.Store(false)
				continue
			}
			return ticket{probe: true}, nil
		}
	}
}

func (cb *CircuitBreaker) openError() error {
	return fmt.Errorf("%w: %s/%s", ErrCircuitOpen, cb.service, cb.instanceID)
}

func (cb *CircuitBreaker) record(t ticket, err error, canceled bool) {
	if t.probe {
		cb.recordProbe(err, canceled)
		return
	}
	if canceled {
		return
	}

	if err == nil {
		cb.successes.Add(1)
	} else {
		cb.failed.Add(1)
	}

	cb.mu.Lock()
	if t.generation != cb.generation.Load() || cb.State() != StateClosed {
		// Admitted before the last transition; the outcome is stale.
		cb.mu.Unlock()
		return
	}

	if err == nil {
		cb.failures = 0
		cb.mu.Unlock()
		return
	}

	now := cb.now()
	if cb.failures == 0 || (cb.settings.Window > 0 && now.Sub(cb.streakStart) > cb.settings.Window) {
		cb.failures = 0
		cb.streakStart = now
	}
	cb.failures++

	if cb.failures < cb.settings.FailureThreshold {
		cb.mu.Unlock()
		return
	}

	openUntil := cb.tripLocked(now)
	cb.mu.Unlock()
	cb.notify(StateClosed, StateOpen, openUntil)
}

func (cb *CircuitBreaker) recordProbe(err error, canceled bool) {
	if canceled {
		cb.probing.Store(false)
		return
	}

	cb.mu.Lock()
	now := cb.now()
	if err == nil {
		cb.successes.Add(1)
		cb.failures = 0
		cb.reopens = 0
		cb.lastTransition = now
		cb.generation.Add(1)
		cb.state.Store(int32(StateClosed))
		cb.probing.Store(false)
		cb.mu.Unlock()
		cb.notify(StateHalfOpen, StateClosed, time.Time{})
		return
	}

	cb.failed.Add(1)
	cb.reopens++
	openUntil := cb.tripLocked(now)
	cb.probing.Store(false)
	cb.mu.Unlock()
	cb.notify(StateHalfOpen, StateOpen, openUntil)
}

// tripLocked moves the breaker to open. cb.mu must be held.
func (cb *CircuitBreaker) tripLocked(now time.Time) time.Time {
	openUntil := now.Add(cb.openDurationLocked())
	cb.failures = 0
	cb.lastTransition = now
	cb.openUntil.Store(openUntil.UnixNano())
	cb.generation.Add(1)
	cb.state.Store(int32(StateOpen))
	return openUntil
}

func (cb *CircuitBreaker) openDurationLocked() time.Duration {
	d := cb.settings.OpenDuration
	if cb.reopens == 0 || cb.settings.BackoffMultiplier <= 1 {
		return d
	}
	scaled := float64(d) * math.Pow(cb.settings.BackoffMultiplier, float64(cb.reopens))
	if limit := cb.settings.MaxOpenDuration; limit > 0 && scaled > float64(limit) {
		return limit
	}
	if scaled > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(scaled)
}

func (cb *CircuitBreaker) notify(from, to BreakerState, openUntil time.Time) {
	if cb.onStateChange != nil {
		cb.onStateChange(cb, from, to, openUntil)
	}
}

// Stats returns counters and the current state.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	failures := cb.failures
	last := cb.lastTransition
	cb.mu.Unlock()

	st := BreakerStats{
		Service:             cb.service,
		InstanceID:          cb.instanceID,
		State:               cb.State().String(),
		ConsecutiveFailures: failures,
		Requests:            cb.requests.Load(),
		Successes:           cb.successes.Load(),
		Failures:            cb.failed.Load(),
		Rejections:          cb.rejections.Load(),
		LastTransition:      last,
	}
	if cb.State() == StateOpen {
		st.OpenUntil = time.Unix(0, cb.openUntil.Load())
	}
	return st
}
