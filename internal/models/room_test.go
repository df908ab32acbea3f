package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want error
	}{
		{"conversation", Message{ConversationID: "c1"}, nil},
		{"room", Message{RoomID: "r1"}, nil},
		{"neither", Message{}, ErrNoTarget},
		{"both", Message{ConversationID: "c1", RoomID: "r1"}, ErrAmbiguousChat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.msg.Validate(), tt.want)
		})
	}
}

func TestMessage_KeyAndTarget(t *testing.T) {
	pending := Message{TempID: "t-1", ConversationID: "c1"}
	assert.Equal(t, "t-1", pending.Key())
	assert.Equal(t, ConversationTarget("c1"), pending.Target())

	confirmed := Message{ID: "m-1", TempID: "t-1", RoomID: "r1"}
	assert.Equal(t, "m-1", confirmed.Key())
	assert.Equal(t, RoomTarget("r1"), confirmed.Target())
}

func TestConversation_Peer(t *testing.T) {
	c := Conversation{Participants: []Identity{{ID: "u1"}, {ID: "u2", DisplayName: "Bea"}}}
	peer, ok := c.Peer("u1")
	assert.True(t, ok)
	assert.Equal(t, "Bea", peer.DisplayName)
}

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		err     error
	}{
		{"plain", "hi", "hi", nil},
		{"trimmed", "  hi \n", "hi", nil},
		{"blank", "   ", "", ErrEmptyContent},
		{"at limit", strings.Repeat("é", MaxContentLength), strings.Repeat("é", MaxContentLength), nil},
		{"over limit", strings.Repeat("a", MaxContentLength+1), "", ErrContentTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeContent(tt.content)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}
