// Package breaker isolates failing upstreams. Each breaker keeps a
// count-based sliding window of the last N terminal outcomes and trips when
// the window is full and the failure rate reaches the configured threshold.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when a call is short-circuited because the breaker is
// not permitting requests.
var ErrOpen = errors.New("breaker: call not permitted")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
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

type Config struct {
	FailureRateThreshold   float64       // percent of failures that trips a full window
	SlidingWindowSize      int           // number of outcomes tracked
	WaitDuration           time.Duration // time spent Open before probing
	HalfOpenPermittedCalls int           // concurrent trial calls while HalfOpen
}

func (c Config) withDefaults() Config {
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = 50
	}
	if c.SlidingWindowSize <= 0 {
		c.SlidingWindowSize = 10
	}
	if c.WaitDuration <= 0 {
		c.WaitDuration = 10 * time.Second
	}
	if c.HalfOpenPermittedCalls <= 0 {
		c.HalfOpenPermittedCalls = 3
	}
	return c
}

type Breaker struct {
	name string
	cfg  Config

	mu       sync.Mutex
	state    State
	window   []bool // ring buffer of outcomes, true = failure
	head     int
	filled   int
	fails    int
	openedAt time.Time

	// half-open trial accounting
	halfInFlight int
	halfCalls    int
	halfFails    int
}

func New(name string, cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	return &Breaker{
		name:   name,
		cfg:    cfg,
		state:  StateClosed,
		window: make([]bool, cfg.SlidingWindowSize),
	}
}

// Execute runs fn unless the breaker short-circuits it, and records the
// outcome. A context cancellation inside fn counts as a failure like any
// other error.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	b.record(err == nil)
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.WaitDuration {
			return false
		}
		b.state = StateHalfOpen
		b.halfInFlight = 1 // this call is the first trial
		b.halfCalls = 0
		b.halfFails = 0
		return true

	case StateHalfOpen:
		if b.halfInFlight >= b.cfg.HalfOpenPermittedCalls {
			return false
		}
		b.halfInFlight++
		return true

	default:
		return false
	}
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.push(!success)
		if b.filled == len(b.window) {
			rate := float64(b.fails) / float64(len(b.window)) * 100
			if rate >= b.cfg.FailureRateThreshold {
				b.trip()
			}
		}

	case StateHalfOpen:
		if b.halfInFlight > 0 {
			b.halfInFlight--
		}
		b.halfCalls++
		if !success {
			b.halfFails++
		}
		if b.halfCalls >= b.cfg.HalfOpenPermittedCalls {
			rate := float64(b.halfFails) / float64(b.halfCalls) * 100
			if rate >= b.cfg.FailureRateThreshold {
				b.trip()
			} else {
				b.reset()
			}
		}

	case StateOpen:
		// A call admitted before the trip completed after it; the outcome
		// no longer matters.
	}
}

// push records an outcome in the ring buffer, displacing the oldest once
// the window is full.
func (b *Breaker) push(failure bool) {
	if b.filled == len(b.window) {
		if b.window[b.head] {
			b.fails--
		}
	} else {
		b.filled++
	}
	b.window[b.head] = failure
	if failure {
		b.fails++
	}
	b.head = (b.head + 1) % len(b.window)
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.halfInFlight = 0
	b.halfCalls = 0
	b.halfFails = 0
}

func (b *Breaker) reset() {
	b.state = StateClosed
	for i := range b.window {
		b.window[i] = false
	}
	b.head = 0
	b.filled = 0
	b.fails = 0
	b.halfInFlight = 0
	b.halfCalls = 0
	b.halfFails = 0
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

type Stats struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	WindowFailures int       `json:"window_failures"`
	WindowSamples  int       `json:"window_samples"`
	OpenedAt       time.Time `json:"opened_at,omitempty"`
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:           b.name,
		State:          b.state.String(),
		WindowFailures: b.fails,
		WindowSamples:  b.filled,
		OpenedAt:       b.openedAt,
	}
}
