package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

var (
	ErrTransportClosed = errors.New("connection: transport closed")
	ErrSendBufferFull  = errors.New("connection: send buffer full")
)

// Transport is one live socket. Read blocks until a frame or an error arrives.
type Transport interface {
	Read() ([]byte, error)
	Write(frame []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, token string) (Transport, error)
}

// WSDialer opens websocket transports, presenting token as a bearer credential.
type WSDialer struct {
	URL              string
	HandshakeTimeout time.Duration
}

func (d *WSDialer) Dial(ctx context.Context, token string) (Transport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connection: dial %s: %s: %w", d.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("connection: dial %s: %w", d.URL, err)
	}
	return newWSTransport(conn), nil
}

type wsTransport struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	t := &wsTransport{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go t.writePump()
	return t
}

func (t *wsTransport) Read() ([]byte, error) {
	for {
		kind, frame, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage {
			return frame, nil
		}
	}
}

func (t *wsTransport) Write(frame []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	select {
	case t.send <- frame:
		return nil
	case <-t.done:
		return ErrTransportClosed
	default:
		return ErrSendBufferFull
	}
}

func (t *wsTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed"),
			time.Now().Add(writeWait))
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return

		case frame := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				// Closing the socket unblocks Read, which reports the loss.
				t.conn.Close()
				return
			}

		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.conn.Close()
				return
			}
		}
	}
}

// ServerClosed reports whether err is a deliberate close sent by the server,
// as opposed to a network failure. Normal closure, policy violation and the
// application range (4000+) count as deliberate.
func ServerClosed(err error) (reason string, ok bool) {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return "", false
	}
	switch {
	case ce.Code == websocket.CloseNormalClosure,
		ce.Code == websocket.ClosePolicyViolation,
		ce.Code >= 4000:
		if ce.Text != "" {
			return ce.Text, true
		}
		return "disconnected by server", true
	}
	return "", false
}
