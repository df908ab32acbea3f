package main

import (
	"fmt"
	"io"
	"sync"

	"chat-core/internal/chat"
	"chat-core/internal/connection"
	"chat-core/internal/models"
	"chat-core/internal/store"
)

// view prints the open chat as it changes.
type view struct {
	out    io.Writer
	client *chat.Client

	mu     sync.Mutex
	target models.Target
	states []models.DeliveryState
	typing string
	status connection.State
}

func newView(out io.Writer, client *chat.Client) *view {
	return &view{out: out, client: client}
}

func (v *view) attach() {
	v.client.Store().Subscribe(v.storeChanged)
	v.client.Presence().OnChange(v.presenceChanged)
	v.client.Connection().Subscribe(v.statusChanged)
	v.client.OnServerError(func(message string) {
		fmt.Fprintf(v.out, "! server: %s\n", message)
	})
}

func (v *view) storeChanged(c store.Change) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch c.Kind {
	case store.ChangeSelected:
		current := v.client.Store().Current()
		if current == nil {
			return
		}
		v.target = current.Target
		v.states = nil
		v.typing = ""
		fmt.Fprintf(v.out, "== %s ==\n", chatTitle(current, v.client.Identity().ID))
		v.render(current.Messages)
	case store.ChangeCleared:
		v.target = models.Target{}
		v.states = nil
		v.typing = ""
	case store.ChangeMessages:
		if c.Target != v.target {
			return
		}
		if current := v.client.Store().Current(); current != nil && current.Target == v.target {
			v.render(current.Messages)
		}
	}
}

func (v *view) render(messages []models.Message) {
	lines, states := renderUpdates(v.states, messages, v.client.Identity().ID)
	v.states = states
	for _, l := range lines {
		fmt.Fprintln(v.out, l)
	}
}

func (v *view) presenceChanged() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.target.IsZero() {
		return
	}
	text := v.client.Presence().TypingText(v.target.ID)
	if text != v.typing && text != "" {
		fmt.Fprintf(v.out, "  %s\n", text)
	}
	v.typing = text
}

func (v *view) statusChanged(s connection.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s.State == v.status {
		return
	}
	v.status = s.State
	if s.LastError != "" {
		fmt.Fprintf(v.out, "* %s: %s\n", s.State, s.LastError)
		return
	}
	fmt.Fprintf(v.out, "* %s\n", s.State)
}

// renderUpdates compares the delivery states already shown with the current
// log and returns the lines to print plus the new shown states. Messages are
// positional; a shorter log means something was removed and nothing is
// reprinted.
func renderUpdates(shown []models.DeliveryState, messages []models.Message, selfID string) ([]string, []models.DeliveryState) {
	var lines []string
	if len(messages) < len(shown) {
		shown = shown[:0]
		for _, m := range messages {
			shown = append(shown, m.DeliveryState)
		}
		return nil, shown
	}
	for i := range shown {
		m := messages[i]
		if m.DeliveryState == shown[i] {
			continue
		}
		if m.DeliveryState == models.DeliveryFailed {
			lines = append(lines, fmt.Sprintf("! not delivered: %q (/retry %s or /discard %s)", m.Content, m.TempID, m.TempID))
		}
		shown[i] = m.DeliveryState
	}
	for _, m := range messages[len(shown):] {
		lines = append(lines, formatMessage(m, selfID))
		shown = append(shown, m.DeliveryState)
	}
	return lines, shown
}

func formatMessage(m models.Message, selfID string) string {
	name := m.SenderName
	if name == "" {
		name = m.Sender
	}
	if m.Sender == selfID {
		name = "you"
	}
	line := fmt.Sprintf("[%s] %s: %s", m.Timestamp.Local().Format("15:04"), name, m.Content)
	switch m.DeliveryState {
	case models.DeliveryPending:
		line += " (sending)"
	case models.DeliveryFailed:
		line += fmt.Sprintf(" (failed, /retry %s)", m.TempID)
	}
	return line
}

func chatTitle(c *store.Chat, selfID string) string {
	if c.Room != nil {
		return "#" + c.Room.Name
	}
	if c.Conversation != nil {
		if peer, ok := c.Conversation.Peer(selfID); ok {
			return "@" + peer.DisplayName
		}
	}
	return c.Target.String()
}
