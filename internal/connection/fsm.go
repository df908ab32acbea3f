package connection

import (
	"fmt"
	"time"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	BaseDelay   = time.Second
	MaxDelay    = 30 * time.Second
	MaxAttempts = 5
)

const (
	ErrTextNoCredential    = "no credential"
	ErrTextReconnectFailed = "failed to reconnect"
)

// Backoff returns the delay before reconnect attempt n (zero-based):
// min(1s * 2^n, 30s).
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		// 2^5s already exceeds the cap.
		return MaxDelay
	}
	d := BaseDelay << uint(attempt)
	if d > MaxDelay {
		return MaxDelay
	}
	return d
}

type Event int

const (
	EvConnect Event = iota
	EvNoCredential
	EvDialSucceeded
	EvDialFailed
	EvNetworkLost
	EvServerClosed
	EvRetryDue
	EvDisconnect
	EvReconnect
)

type EffectKind int

const (
	EffectNone EffectKind = iota
	EffectDial
	EffectScheduleRetry
)

type Effect struct {
	Kind  EffectKind
	Delay time.Duration
}

// Machine is the pure reconnection state. Attempt is the index of the next
// scheduled reconnect attempt while Reconnecting.
type Machine struct {
	State     State
	Attempt   int
	LastError string
}

// Transition applies ev to m. reason carries the error text for failure events.
// Events that do not apply to the current state leave m unchanged.
func Transition(m Machine, ev Event, reason string) (Machine, Effect) {
	switch ev {
	case EvConnect:
		return Machine{State: Connecting}, Effect{Kind: EffectDial}

	case EvReconnect:
		return Machine{State: Connecting}, Effect{Kind: EffectDial}

	case EvNoCredential:
		return Machine{State: Disconnected, LastError: ErrTextNoCredential}, Effect{}

	case EvDisconnect:
		return Machine{State: Disconnected}, Effect{}

	case EvDialSucceeded:
		if m.State != Connecting && m.State != Reconnecting {
			return m, Effect{}
		}
		return Machine{State: Connected}, Effect{}

	case EvDialFailed:
		switch m.State {
		case Connecting:
			return scheduleRetry(0, reason)
		case Reconnecting:
			next := m.Attempt + 1
			if next >= MaxAttempts {
				return Machine{State: Failed, Attempt: next, LastError: ErrTextReconnectFailed}, Effect{}
			}
			return scheduleRetry(next, reason)
		}
		return m, Effect{}

	case EvNetworkLost:
		if m.State != Connected {
			return m, Effect{}
		}
		return scheduleRetry(0, reason)

	case EvServerClosed:
		if m.State != Connected {
			return m, Effect{}
		}
		return Machine{State: Disconnected, LastError: reason}, Effect{}

	case EvRetryDue:
		if m.State != Reconnecting {
			return m, Effect{}
		}
		return m, Effect{Kind: EffectDial}
	}
	return m, Effect{}
}

func scheduleRetry(attempt int, reason string) (Machine, Effect) {
	return Machine{State: Reconnecting, Attempt: attempt, LastError: reason},
		Effect{Kind: EffectScheduleRetry, Delay: Backoff(attempt)}
}
