// Package connection owns the single persistent socket of a chat session:
// connecting on credentials, reconnecting with exponential backoff after
// network loss, and handing inbound events to one dispatcher in arrival order.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chat-core/internal/clock"
	"chat-core/internal/models"
	"chat-core/internal/protocol"
	"chat-core/pkg/logger"
)

var ErrNotConnected = errors.New("connection: not connected")

const defaultDialTimeout = 10 * time.Second

// Status is the observable connection state.
type Status struct {
	State     State
	Connected bool
	LastError string
	Attempt   int
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) { m.dialTimeout = d }
}

type Manager struct {
	dialer      Dialer
	clock       clock.Clock
	log         *logger.Logger
	dialTimeout time.Duration

	mu         sync.Mutex
	machine    Machine
	identity   models.Identity
	token      string
	transport  Transport
	gen        uint64
	retryTimer clock.Timer
	dispatch   func(protocol.Envelope)

	subMu   sync.Mutex
	subs    map[int]func(Status)
	nextSub int
}

func NewManager(dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		dialer:      dialer,
		clock:       clock.Real(),
		log:         logger.Named("connection"),
		dialTimeout: defaultDialTimeout,
		subs:        make(map[int]func(Status)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnEvent sets the dispatcher for inbound events. Events of one transport are
// delivered sequentially in arrival order.
func (m *Manager) OnEvent(fn func(protocol.Envelope)) {
	m.mu.Lock()
	m.dispatch = fn
	m.mu.Unlock()
}

// Subscribe registers fn for state changes and returns a function removing it.
func (m *Manager) Subscribe(fn func(Status)) func() {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()
	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

// Connect replaces any existing transport with a new one for identity.
// Failures are reported through Status, never returned.
func (m *Manager) Connect(identity models.Identity, token string) {
	m.mu.Lock()
	m.teardownLocked()
	if token == "" || identity.IsZero() {
		m.identity, m.token = models.Identity{}, ""
		m.applyLocked(EvNoCredential, "")
		m.mu.Unlock()
		m.log.Warn("connect skipped: %s", ErrTextNoCredential)
		m.notify()
		return
	}
	m.identity, m.token = identity, token
	eff := m.applyLocked(EvConnect, "")
	gen := m.gen
	m.mu.Unlock()

	m.notify()
	m.run(eff, gen)
}

// Reconnect is the manual retry: it resets the attempt counter and error and dials again.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	m.teardownLocked()
	if m.token == "" || m.identity.IsZero() {
		m.applyLocked(EvNoCredential, "")
		m.mu.Unlock()
		m.notify()
		return
	}
	eff := m.applyLocked(EvReconnect, "")
	gen := m.gen
	m.mu.Unlock()

	m.notify()
	m.run(eff, gen)
}

// Disconnect closes the transport and cancels pending retries. It is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	wasIdle := m.transport == nil && m.retryTimer == nil && m.machine.State == Disconnected
	m.teardownLocked()
	m.identity, m.token = models.Identity{}, ""
	m.applyLocked(EvDisconnect, "")
	m.mu.Unlock()

	if !wasIdle {
		m.notify()
	}
}

// Emit sends one event over the live transport.
func (m *Manager) Emit(event string, payload interface{}) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	t := m.transport
	connected := m.machine.State == Connected
	m.mu.Unlock()

	if !connected || t == nil {
		return ErrNotConnected
	}
	if err := t.Write(frame); err != nil {
		return fmt.Errorf("connection: emit %s: %w", event, err)
	}
	return nil
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.State
}

func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.LastError
}

func (m *Manager) Identity() models.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

func (m *Manager) statusLocked() Status {
	return Status{
		State:     m.machine.State,
		Connected: m.machine.State == Connected,
		LastError: m.machine.LastError,
		Attempt:   m.machine.Attempt,
	}
}

func (m *Manager) applyLocked(ev Event, reason string) Effect {
	prev := m.machine.State
	next, eff := Transition(m.machine, ev, reason)
	m.machine = next
	if prev != next.State {
		m.log.Debug("%s -> %s", prev, next.State)
	}
	return eff
}

// teardownLocked drops the live transport and pending retry. Bumping gen makes
// callbacks from the old transport or timer no-ops.
func (m *Manager) teardownLocked() {
	m.gen++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			m.log.Debug("close transport: %v", err)
		}
		m.transport = nil
	}
}

func (m *Manager) run(eff Effect, gen uint64) {
	switch eff.Kind {
	case EffectDial:
		m.dial(gen)
	case EffectScheduleRetry:
		m.mu.Lock()
		if gen == m.gen {
			m.log.Info("reconnect attempt %d in %s", m.machine.Attempt+1, eff.Delay)
			m.retryTimer = m.clock.AfterFunc(eff.Delay, func() { m.retry(gen) })
		}
		m.mu.Unlock()
	}
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.machine.State != Reconnecting {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	eff := m.applyLocked(EvRetryDue, "")
	m.mu.Unlock()

	m.run(eff, gen)
}

func (m *Manager) dial(gen uint64) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.dialTimeout)
	t, err := m.dialer.Dial(ctx, token)
	cancel()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if t != nil {
			t.Close()
		}
		return
	}
	if err != nil {
		m.log.Warn("dial failed: %v", err)
		eff := m.applyLocked(EvDialFailed, err.Error())
		m.mu.Unlock()
		m.notify()
		m.run(eff, gen)
		return
	}
	m.transport = t
	m.applyLocked(EvDialSucceeded, "")
	m.mu.Unlock()

	m.log.Info("connected")
	m.notify()
	go m.readLoop(t, gen)
}

func (m *Manager) readLoop(t Transport, gen uint64) {
	for {
		frame, err := t.Read()
		if err != nil {
			m.lost(t, gen, err)
			return
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			m.log.Warn("dropping malformed frame: %v", err)
			continue
		}

		m.mu.Lock()
		current := gen == m.gen
		dispatch := m.dispatch
		m.mu.Unlock()
		if !current {
			return
		}
		if dispatch != nil {
			m.safeDispatch(dispatch, env)
		}
	}
}

func (m *Manager) safeDispatch(dispatch func(protocol.Envelope), env protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("handler for %s panicked: %v", env.Event, r)
		}
	}()
	dispatch(env)
}

func (m *Manager) lost(t Transport, gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.transport != t {
		m.mu.Unlock()
		return
	}
	m.transport = nil
	t.Close()

	var eff Effect
	if reason, ok := ServerClosed(cause); ok {
		m.log.Info("server closed connection: %s", reason)
		eff = m.applyLocked(EvServerClosed, reason)
	} else {
		m.log.Warn("connection lost: %v", cause)
		eff = m.applyLocked(EvNetworkLost, cause.Error())
	}
	m.mu.Unlock()

	m.notify()
	m.run(eff, gen)
}

func (m *Manager) notify() {
	status := m.Status()

	m.subMu.Lock()
	subs := make([]func(Status), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(status)
	}
}
