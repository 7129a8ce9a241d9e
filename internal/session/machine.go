package session

import (
	"errors"
	"fmt"

	"noticebot/internal/waha"
)

var (
	// ErrAuthenticationFailed is returned when QR attempts are exhausted or
	// the session reports a status the coordinator cannot act on.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrTimeout is returned when the session stays STARTING past its window.
	ErrTimeout = errors.New("timed out waiting for session")
)

type Phase int

const (
	PhaseInit Phase = iota
	PhaseStarting
	PhaseChallenge
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseStarting:
		return "starting"
	case PhaseChallenge:
		return "challenge"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

type EventKind int

const (
	// EventStatus carries a freshly observed status. Expired is set when the
	// current wait window has elapsed at observation time.
	EventStatus EventKind = iota
	// EventError reports a failed remote call (status poll or QR fetch).
	EventError
)

type Event struct {
	Kind    EventKind
	Status  waha.Status
	Expired bool
	Err     error
}

// Observed builds a status event.
func Observed(st waha.Status, expired bool) Event {
	return Event{Kind: EventStatus, Status: st, Expired: expired}
}

// Failed builds an error event.
func Failed(err error) Event { return Event{Kind: EventError, Err: err} }

type Action int

const (
	ActionSucceed Action = iota
	ActionFail
	// ActionPoll waits one poll interval and observes the status again.
	ActionPoll
	// ActionIssueChallenge fetches a fresh QR, surfaces it and opens a new
	// expiration window.
	ActionIssueChallenge
)

func (a Action) String() string {
	switch a {
	case ActionSucceed:
		return "succeed"
	case ActionFail:
		return "fail"
	case ActionPoll:
		return "poll"
	case ActionIssueChallenge:
		return "issue_challenge"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// State is the machine's full state. Attempt is the 1-based QR attempt while
// in PhaseChallenge; Failure is set once Phase is PhaseFailed.
type State struct {
	Phase   Phase
	Attempt int
	Failure error
}

// Machine is the pure authentication state machine.
type Machine struct {
	MaxAttempts int
}

func (m Machine) maxAttempts() int {
	if m.MaxAttempts <= 0 {
		return DefaultQRAttempts
	}
	return m.MaxAttempts
}

// Next returns the state after ev and the action the driver must perform.
func (m Machine) Next(s State, ev Event) (State, Action) {
	switch s.Phase {
	case PhaseDone:
		return s, ActionSucceed
	case PhaseFailed:
		return s, ActionFail
	case PhaseInit, PhaseStarting:
		return m.nextWaiting(s, ev)
	case PhaseChallenge:
		return m.nextChallenge(s, ev)
	default:
		return fail(fmt.Errorf("%w: unknown phase %s", ErrAuthenticationFailed, s.Phase))
	}
}

func (m Machine) nextWaiting(s State, ev Event) (State, Action) {
	if ev.Kind == EventError {
		return fail(ev.Err)
	}
	switch ev.Status {
	case waha.StatusWorking:
		return State{Phase: PhaseDone}, ActionSucceed
	case waha.StatusScanQR:
		return State{Phase: PhaseChallenge, Attempt: 1}, ActionIssueChallenge
	case waha.StatusStarting:
		if s.Phase == PhaseStarting && ev.Expired {
			return fail(fmt.Errorf("%w: still %s", ErrTimeout, waha.StatusStarting))
		}
		return State{Phase: PhaseStarting}, ActionPoll
	default:
		return fail(fmt.Errorf("%w: unexpected status %q", ErrAuthenticationFailed, ev.Status))
	}
}

func (m Machine) nextChallenge(s State, ev Event) (State, Action) {
	if ev.Kind == EventStatus && ev.Status == waha.StatusWorking {
		return State{Phase: PhaseDone, Attempt: s.Attempt}, ActionSucceed
	}
	if ev.Kind == EventStatus && !ev.Expired {
		return s, ActionPoll
	}

	// The attempt failed: window elapsed or a remote call errored.
	if s.Attempt >= m.maxAttempts() {
		if ev.Kind == EventError && ev.Err != nil {
			return fail(fmt.Errorf("%w: qr attempts exhausted (%d): %w", ErrAuthenticationFailed, s.Attempt, ev.Err))
		}
		return fail(fmt.Errorf("%w: qr attempts exhausted (%d)", ErrAuthenticationFailed, s.Attempt))
	}
	return State{Phase: PhaseChallenge, Attempt: s.Attempt + 1}, ActionIssueChallenge
}

func fail(err error) (State, Action) {
	if err == nil {
		err = ErrAuthenticationFailed
	}
	return State{Phase: PhaseFailed, Failure: err}, ActionFail
}
