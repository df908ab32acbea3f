package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// BellPlayer rings the terminal bell twice.
type BellPlayer struct {
	W io.Writer
}

func (p BellPlayer) PlayCue() error {
	_, err := io.WriteString(p.W, "\a\a")
	return err
}

// TerminalNotifier prints notifications as a line of output. The latest one
// can be followed with ClickLatest.
type TerminalNotifier struct {
	w io.Writer

	mu     sync.Mutex
	perm   Permission
	latest *terminalHandle
}

func NewTerminalNotifier(w io.Writer) *TerminalNotifier {
	return &TerminalNotifier{w: w, perm: PermissionDefault}
}

func (n *TerminalNotifier) Permission() Permission {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.perm
}

// RequestPermission always grants: a terminal has nothing to ask.
func (n *TerminalNotifier) RequestPermission(ctx context.Context) (Permission, error) {
	if err := ctx.Err(); err != nil {
		return n.Permission(), err
	}
	n.mu.Lock()
	n.perm = PermissionGranted
	n.mu.Unlock()
	return PermissionGranted, nil
}

func (n *TerminalNotifier) Show(title, body, tag string) (Handle, error) {
	if _, err := fmt.Fprintf(n.w, "\n[new message] %s: %s\n", title, body); err != nil {
		return nil, err
	}
	h := &terminalHandle{notifier: n}
	n.mu.Lock()
	n.latest = h
	n.mu.Unlock()
	return h, nil
}

// ClickLatest activates the most recent open notification.
func (n *TerminalNotifier) ClickLatest() bool {
	n.mu.Lock()
	h := n.latest
	n.mu.Unlock()
	if h == nil {
		return false
	}
	return h.click()
}

type terminalHandle struct {
	notifier *TerminalNotifier

	mu      sync.Mutex
	onClick func()
	closed  bool
}

func (h *terminalHandle) OnClick(fn func()) {
	h.mu.Lock()
	h.onClick = fn
	h.mu.Unlock()
}

func (h *terminalHandle) click() bool {
	h.mu.Lock()
	fn, closed := h.onClick, h.closed
	h.mu.Unlock()
	if closed || fn == nil {
		return false
	}
	fn()
	return true
}

func (h *terminalHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.notifier.mu.Lock()
	if h.notifier.latest == h {
		h.notifier.latest = nil
	}
	h.notifier.mu.Unlock()
	return nil
}
