package connection

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-core/internal/clock"
	"chat-core/internal/models"
	"chat-core/internal/protocol"
)

type fakeTransport struct {
	in     chan []byte
	errs   chan error
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Read() ([]byte, error) {
	select {
	case frame := <-f.in:
		return frame, nil
	case err := <-f.errs:
		return nil, err
	case <-f.closed:
		return nil, ErrTransportClosed
	}
}

func (f *fakeTransport) Write(frame []byte) error {
	select {
	case <-f.closed:
		return ErrTransportClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, frame)
	return nil
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

type fakeDialer struct {
	clock *clock.Manual

	mu         sync.Mutex
	failWith   error
	tokens     []string
	dialTimes  []time.Time
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(_ context.Context, token string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)
	d.dialTimes = append(d.dialTimes, d.clock.Now())
	if d.failWith != nil {
		return nil, d.failWith
	}
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) setFailure(err error) {
	d.mu.Lock()
	d.failWith = err
	d.mu.Unlock()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dialTimes)
}

func (d *fakeDialer) live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.transports {
		if !t.isClosed() {
			n++
		}
	}
	return n
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[len(d.transports)-1]
}

var alice = models.Identity{ID: "u1", Email: "alice@example.com", DisplayName: "Alice", Role: models.RoleClient}

func newTestManager() (*Manager, *fakeDialer, *clock.Manual) {
	clk := clock.NewManual(time.Unix(0, 0))
	dialer := &fakeDialer{clock: clk}
	return NewManager(dialer, WithClock(clk)), dialer, clk
}

func TestManager_ConnectTwiceKeepsSingleTransport(t *testing.T) {
	m, dialer, _ := newTestManager()

	m.Connect(alice, "token-1")
	m.Connect(alice, "token-2")

	assert.True(t, m.IsConnected())
	assert.Equal(t, 2, dialer.dials())
	assert.Equal(t, 1, dialer.live())
	assert.True(t, dialer.transports[0].isClosed())
	assert.Equal(t, []string{"token-1", "token-2"}, dialer.tokens)
}

func TestManager_ConnectWithoutCredential(t *testing.T) {
	tests := []struct {
		name     string
		identity models.Identity
		token    string
	}{
		{"empty token", alice, ""},
		{"empty identity", models.Identity{}, "token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, dialer, _ := newTestManager()
			m.Connect(tt.identity, tt.token)

			assert.Equal(t, 0, dialer.dials())
			assert.False(t, m.IsConnected())
			assert.Equal(t, ErrTextNoCredential, m.LastError())
		})
	}
}

func TestManager_BackoffAfterNetworkLoss(t *testing.T) {
	m, dialer, clk := newTestManager()
	m.Connect(alice, "token")
	require.True(t, m.IsConnected())

	dialer.setFailure(errors.New("connection refused"))
	dialer.last().errs <- io.ErrUnexpectedEOF
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, Reconnecting, m.State())

	start := clk.Now()
	clk.Advance(10 * time.Minute)

	assert.Equal(t, Failed, m.State())
	assert.Equal(t, ErrTextReconnectFailed, m.LastError())
	assert.Equal(t, 1+MaxAttempts, dialer.dials())

	var offsets []time.Duration
	prev := start
	for _, at := range dialer.dialTimes[1:] {
		offsets = append(offsets, at.Sub(prev))
		prev = at
	}
	assert.Equal(t, []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}, offsets)

	clk.Advance(time.Hour)
	assert.Equal(t, 1+MaxAttempts, dialer.dials(), "no automatic attempt after the cap")
}

func TestManager_ReconnectSucceedsAndResetsAttempts(t *testing.T) {
	m, dialer, clk := newTestManager()
	m.Connect(alice, "token")

	dialer.setFailure(errors.New("timeout"))
	dialer.last().errs <- io.ErrUnexpectedEOF
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)

	clk.Advance(time.Second)
	clk.Advance(2 * time.Second)
	assert.Equal(t, 2, m.Status().Attempt)

	dialer.setFailure(nil)
	clk.Advance(4 * time.Second)

	status := m.Status()
	assert.True(t, status.Connected)
	assert.Equal(t, 0, status.Attempt)
	assert.Empty(t, status.LastError)
	assert.Equal(t, 1, dialer.live())
}

func TestManager_ServerCloseDoesNotReconnect(t *testing.T) {
	m, dialer, clk := newTestManager()
	m.Connect(alice, "token")

	dialer.last().errs <- &websocket.CloseError{Code: 4001, Text: "session replaced"}
	require.Eventually(t, func() bool { return m.State() == Disconnected }, time.Second, time.Millisecond)

	assert.Equal(t, "session replaced", m.LastError())
	assert.Equal(t, 0, clk.Pending())

	clk.Advance(time.Hour)
	assert.Equal(t, 1, dialer.dials())
}

func TestManager_ManualReconnectAfterFailure(t *testing.T) {
	m, dialer, clk := newTestManager()
	dialer.setFailure(errors.New("unreachable"))

	m.Connect(alice, "token")
	assert.Equal(t, Reconnecting, m.State())
	assert.Equal(t, 1, clk.Pending())

	clk.Advance(time.Hour)
	require.Equal(t, Failed, m.State())

	dialer.setFailure(nil)
	m.Reconnect()

	status := m.Status()
	assert.True(t, status.Connected)
	assert.Equal(t, 0, status.Attempt)
	assert.Empty(t, status.LastError)
}

func TestManager_DisconnectIsIdempotent(t *testing.T) {
	m, dialer, _ := newTestManager()
	var states []State
	m.Subscribe(func(s Status) { states = append(states, s.State) })

	m.Connect(alice, "token")
	m.Disconnect()
	m.Disconnect()

	assert.Equal(t, Disconnected, m.State())
	assert.Equal(t, 0, dialer.live())
	assert.Equal(t, []State{Connecting, Connected, Disconnected}, states)
	assert.True(t, m.Identity().IsZero())
}

func TestManager_Emit(t *testing.T) {
	m, dialer, _ := newTestManager()

	err := m.Emit(protocol.EventTypingStart, protocol.ChatRef{ConversationID: "c1"})
	assert.ErrorIs(t, err, ErrNotConnected)

	m.Connect(alice, "token")
	require.NoError(t, m.Emit(protocol.EventTypingStart, protocol.ChatRef{ConversationID: "c1"}))

	writes := dialer.last().written()
	require.Len(t, writes, 1)
	assert.JSONEq(t, `{"event":"typing-start","data":{"conversationId":"c1"}}`, string(writes[0]))
}

func TestManager_DispatchesInOrderAndSurvivesBadFrames(t *testing.T) {
	m, dialer, _ := newTestManager()
	got := make(chan string, 8)
	m.OnEvent(func(env protocol.Envelope) {
		if env.Event == "boom" {
			panic("handler bug")
		}
		got <- env.Event
	})

	m.Connect(alice, "token")
	tr := dialer.last()
	tr.in <- []byte(`{"event":"online-users","data":["u2"]}`)
	tr.in <- []byte(`garbage`)
	tr.in <- []byte(`{"event":"boom"}`)
	tr.in <- []byte(`{"event":"user-typing","data":{}}`)
	tr.in <- []byte(`{"event":"error","data":{"message":"x"}}`)

	var events []string
	for i := 0; i < 3; i++ {
		select {
		case ev := <-got:
			events = append(events, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %v", events)
		}
	}
	assert.Equal(t, []string{"online-users", "user-typing", "error"}, events)
	assert.True(t, m.IsConnected())
}

func TestServerClosed(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
		ok     bool
	}{
		{"normal closure", &websocket.CloseError{Code: websocket.CloseNormalClosure}, "disconnected by server", true},
		{"application code", &websocket.CloseError{Code: 4001, Text: "session replaced"}, "session replaced", true},
		{"abnormal closure", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, "", false},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, "", false},
		{"plain error", io.EOF, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := ServerClosed(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}
