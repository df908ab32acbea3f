package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"chat-core/internal/models"
)

// Client -> server events.
const (
	EventSendPrivateMessage = "send-private-message"
	EventSendRoomMessage    = "send-room-message"
	EventJoinConversation   = "join-conversation"
	EventLeaveConversation  = "leave-conversation"
	EventJoinRoom           = "join-room"
	EventLeaveRoom          = "leave-room"
	EventMarkMessagesRead   = "mark-messages-read"
	EventTypingStart        = "typing-start"
	EventTypingStop         = "typing-stop"
)

// Server -> client events.
const (
	EventReceivePrivateMessage = "receive-private-message"
	EventReceiveRoomMessage    = "receive-room-message"
	EventConversationUpdated   = "conversation-updated"
	EventRoomUpdated           = "room-updated"
	EventOnlineUsers           = "online-users"
	EventUserTyping            = "user-typing"
	EventUserStoppedTyping     = "user-stopped-typing"
	EventError                 = "error"
)

var ErrMissingEvent = errors.New("protocol: frame has no event name")

// Envelope is one websocket text frame: {"event": name, "data": payload}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(event string, payload interface{}) (Envelope, error) {
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: encode %s: %w", event, err)
	}
	env.Data = data
	return env, nil
}

// Encode marshals payload under event into a ready-to-send frame.
func Encode(event string, payload interface{}) ([]byte, error) {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, ErrMissingEvent
	}
	return env, nil
}

// Bind decodes the envelope data into v.
func (e Envelope) Bind(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("protocol: %s has no payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("protocol: decode %s payload: %w", e.Event, err)
	}
	return nil
}

type SendPrivateMessage struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	TempID         string `json:"tempId"`
}

type SendRoomMessage struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
	TempID  string `json:"tempId"`
}

// ChatRef names a chat in join/leave/read/typing frames. Exactly one field is set.
type ChatRef struct {
	ConversationID string `json:"conversationId,omitempty"`
	RoomID         string `json:"roomId,omitempty"`
}

func RefFor(t models.Target) ChatRef {
	if t.Kind == models.KindRoom {
		return ChatRef{RoomID: t.ID}
	}
	return ChatRef{ConversationID: t.ID}
}

func (r ChatRef) Target() (models.Target, error) {
	switch {
	case r.ConversationID != "" && r.RoomID != "":
		return models.Target{}, models.ErrAmbiguousChat
	case r.ConversationID != "":
		return models.ConversationTarget(r.ConversationID), nil
	case r.RoomID != "":
		return models.RoomTarget(r.RoomID), nil
	}
	return models.Target{}, models.ErrNoTarget
}

type ReceivePrivateMessage struct {
	ConversationID string         `json:"conversationId"`
	Message        models.Message `json:"message"`
	TempID         string         `json:"tempId,omitempty"`
}

type ReceiveRoomMessage struct {
	RoomID  string         `json:"roomId"`
	Message models.Message `json:"message"`
	TempID  string         `json:"tempId,omitempty"`
}

type Typing struct {
	ConversationID string `json:"conversationId,omitempty"`
	RoomID         string `json:"roomId,omitempty"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
}

// ChatID is the id of whichever chat the typing frame refers to.
func (t Typing) ChatID() string {
	if t.RoomID != "" {
		return t.RoomID
	}
	return t.ConversationID
}

type ErrorPayload struct {
	Message string `json:"message"`
}
