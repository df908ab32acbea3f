package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"chat-core/internal/models"
)

func pending(tempID, content string) models.Message {
	return models.Message{TempID: tempID, ConversationID: "c1", Sender: "u1", Content: content, DeliveryState: models.DeliveryPending}
}

func confirmed(id, tempID, content string) models.Message {
	return models.Message{ID: id, TempID: tempID, ConversationID: "c1", Sender: "u1", Content: content, DeliveryState: models.DeliverySent}
}

func keys(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Key()
	}
	return out
}

func TestMessageLog_AppendRejectsDuplicates(t *testing.T) {
	l := NewMessageLog()
	assert.True(t, l.Append(confirmed("m1", "", "a")))
	assert.False(t, l.Append(confirmed("m1", "", "a again")))
	assert.False(t, l.Append(models.Message{ConversationID: "c1"}), "keyless messages are rejected")

	assert.Equal(t, 1, l.Len())
	got, ok := l.Get("m1")
	assert.True(t, ok)
	assert.Equal(t, "a", got.Content)
}

func TestMessageLog_ReplaceByTempID(t *testing.T) {
	tests := []struct {
		name    string
		setup   []models.Message
		tempID  string
		msg     models.Message
		applied bool
		want    []string
	}{
		{
			name:    "replaces placeholder in place",
			setup:   []models.Message{confirmed("m0", "", "x"), pending("t-1", "hi"), confirmed("m1", "", "y")},
			tempID:  "t-1",
			msg:     confirmed("m-99", "t-1", "hi"),
			applied: true,
			want:    []string{"m0", "m-99", "m1"},
		},
		{
			name:    "appends without placeholder",
			setup:   []models.Message{confirmed("m0", "", "x")},
			tempID:  "t-1",
			msg:     confirmed("m-99", "t-1", "hi"),
			applied: true,
			want:    []string{"m0", "m-99"},
		},
		{
			name:    "drops placeholder when id already present",
			setup:   []models.Message{pending("t-1", "hi"), confirmed("m-99", "", "hi")},
			tempID:  "t-1",
			msg:     confirmed("m-99", "t-1", "hi"),
			applied: false,
			want:    []string{"m-99"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewMessageLog()
			for _, m := range tt.setup {
				l.Append(m)
			}
			assert.Equal(t, tt.applied, l.ReplaceByTempID(tt.tempID, tt.msg))
			assert.Equal(t, tt.want, keys(l.Messages()))
			assert.False(t, l.Has(tt.tempID))
		})
	}
}

func TestMessageLog_RemoveReindexes(t *testing.T) {
	l := NewMessageLog()
	l.Append(confirmed("m0", "", "x"))
	l.Append(pending("t-1", "hi"))
	l.Append(confirmed("m1", "", "y"))

	assert.True(t, l.Remove("t-1"))
	assert.False(t, l.Remove("t-1"))

	got, ok := l.Get("m1")
	assert.True(t, ok)
	assert.Equal(t, "y", got.Content)
	assert.Equal(t, []string{"m0", "m1"}, keys(l.Messages()))
}

func TestMessageLog_Pending(t *testing.T) {
	l := NewMessageLog()
	l.Append(pending("t-1", "a"))
	l.Append(confirmed("m1", "", "b"))
	l.Append(pending("t-2", "c"))
	l.SetState("t-2", models.DeliveryFailed)
	l.Append(pending("t-3", "d"))

	assert.Equal(t, []string{"t-1", "t-3"}, l.Pending())
}

func TestMessageLog_MessagesIsACopy(t *testing.T) {
	l := NewMessageLog()
	l.Append(pending("t-1", "a"))

	msgs := l.Messages()
	msgs[0].Content = "changed"

	got, _ := l.Get("t-1")
	assert.Equal(t, "a", got.Content)
}
