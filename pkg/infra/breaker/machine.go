package breaker

import "time"

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

// Settings are the breaker thresholds, fixed at construction.
type Settings struct {
	Name             string
	FailureThreshold uint32
	SuccessThreshold uint32
	ResetTimeout     time.Duration
}

// Machine is the breaker state as a plain value. Transitions are pure
// functions of (machine, event, now), which keeps the whole transition table
// testable without any wrapped call or clock trickery.
//
// Failures only accumulates while closed; Successes only while half-open.
type Machine struct {
	State       State
	Failures    uint32
	Successes   uint32
	LastFailure time.Time
}

// Admit decides whether a call may proceed. While open it also performs the
// lazy open -> half-open transition once the reset timeout has elapsed; the
// probe call that triggers the transition is itself admitted.
func (m Machine) Admit(now time.Time, s Settings) (Machine, bool) {
	switch m.State {
	case StateOpen:
		if now.Sub(m.LastFailure) > s.ResetTimeout {
			m.State = StateHalfOpen
			m.Successes = 0
			return m, true
		}
		return m, false
	default:
		return m, true
	}
}

// Success records a successful call.
func (m Machine) Success(s Settings) Machine {
	switch m.State {
	case StateClosed:
		m.Failures = 0
	case StateHalfOpen:
		m.Successes++
		if m.Successes >= s.SuccessThreshold {
			m.State = StateClosed
			m.Failures = 0
			m.Successes = 0
		}
	}
	return m
}

// Failure records a failed call. A single failure while half-open trips the
// breaker straight back open.
func (m Machine) Failure(now time.Time, s Settings) Machine {
	switch m.State {
	case StateClosed:
		m.Failures++
		if m.Failures >= s.FailureThreshold {
			m.State = StateOpen
			m.LastFailure = now
		}
	case StateHalfOpen:
		m.State = StateOpen
		m.Failures = 0
		m.LastFailure = now
	}
	return m
}
