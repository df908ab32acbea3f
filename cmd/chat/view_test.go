package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chat-core/internal/models"
)

func msg(sender, content string, state models.DeliveryState) models.Message {
	return models.Message{Sender: sender, SenderName: sender, Content: content, DeliveryState: state, TempID: "t-1", Timestamp: time.Unix(0, 0)}
}

func TestRenderUpdates(t *testing.T) {
	pending := msg("u1", "hi", models.DeliveryPending)
	sent := msg("u1", "hi", models.DeliverySent)
	failed := msg("u1", "hi", models.DeliveryFailed)
	other := msg("u2", "yo", models.DeliverySent)

	lines, shown := renderUpdates(nil, []models.Message{pending}, "u1")
	assert.Len(t, lines, 1)
	assert.Contains(t, lines[0], "you: hi (sending)")

	lines, shown = renderUpdates(shown, []models.Message{sent, other}, "u1")
	assert.Len(t, lines, 1, "confirmation is silent, only the new message prints")
	assert.Contains(t, lines[0], "u2: yo")
	assert.Equal(t, []models.DeliveryState{models.DeliverySent, models.DeliverySent}, shown)

	lines, shown = renderUpdates([]models.DeliveryState{models.DeliveryPending}, []models.Message{failed}, "u1")
	assert.Equal(t, []string{`! not delivered: "hi" (/retry t-1 or /discard t-1)`}, lines)
	assert.Equal(t, []models.DeliveryState{models.DeliveryFailed}, shown)

	lines, shown = renderUpdates(shown, nil, "u1")
	assert.Empty(t, lines)
	assert.Empty(t, shown)
}

func TestParseSwitch(t *testing.T) {
	tests := []struct {
		in     string
		on, ok bool
	}{
		{"on", true, true},
		{"OFF", false, true},
		{"1", true, true},
		{"", false, false},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		on, ok := parseSwitch(tt.in)
		assert.Equal(t, tt.on, on, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}
