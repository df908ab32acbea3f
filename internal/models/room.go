package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxContentLength is the longest message accepted, in characters.
const MaxContentLength = 5000

type DeliveryState string

const (
	DeliveryPending DeliveryState = "pending"
	DeliverySent    DeliveryState = "sent"
	DeliveryFailed  DeliveryState = "failed"
)

var (
	ErrNoTarget      = errors.New("message must belong to a conversation or a room")
	ErrAmbiguousChat = errors.New("message cannot belong to both a conversation and a room")

	ErrEmptyContent   = errors.New("message content cannot be empty")
	ErrContentTooLong = fmt.Errorf("message content cannot exceed %d characters", MaxContentLength)
)

// NormalizeContent trims content and checks it is sendable.
func NormalizeContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return trimmed, nil
}

// Message is a single chat line. Exactly one of ConversationID and RoomID is set.
// TempID correlates a locally-owned placeholder with its server echo.
type Message struct {
	ID             string        `json:"id,omitempty"`
	TempID         string        `json:"tempId,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
	RoomID         string        `json:"roomId,omitempty"`
	Sender         string        `json:"sender"`
	SenderName     string        `json:"senderName,omitempty"`
	Content        string        `json:"content"`
	Timestamp      time.Time     `json:"timestamp"`
	DeliveryState  DeliveryState `json:"deliveryState,omitempty"`
}

func (m Message) Validate() error {
	switch {
	case m.ConversationID == "" && m.RoomID == "":
		return ErrNoTarget
	case m.ConversationID != "" && m.RoomID != "":
		return ErrAmbiguousChat
	}
	return nil
}

// Key is the log key of the message: the server id once known, otherwise the tempId.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempID
}

func (m Message) Target() Target {
	if m.RoomID != "" {
		return RoomTarget(m.RoomID)
	}
	return ConversationTarget(m.ConversationID)
}

type Conversation struct {
	ID           string     `json:"id"`
	Participants []Identity `json:"participants"`
	Messages     []Message  `json:"messages,omitempty"`
	LastMessage  *Message   `json:"lastMessage,omitempty"`
	UnreadCount  int        `json:"unreadCount,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Peer returns the participant that is not selfID.
func (c *Conversation) Peer(selfID string) (Identity, bool) {
	for _, p := range c.Participants {
		if p.ID != selfID {
			return p, true
		}
	}
	return Identity{}, false
}

type Room struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	OwnerID      string     `json:"ownerId,omitempty"`
	Participants []Identity `json:"participants"`
	Messages     []Message  `json:"messages,omitempty"`
	LastMessage  *Message   `json:"lastMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (r *Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type TargetKind string

const (
	KindConversation TargetKind = "conversation"
	KindRoom         TargetKind = "room"
)

// Target addresses one chat, private or group.
type Target struct {
	Kind TargetKind
	ID   string
}

func ConversationTarget(id string) Target {
	return Target{Kind: KindConversation, ID: id}
}

func RoomTarget(id string) Target {
	return Target{Kind: KindRoom, ID: id}
}

func (t Target) IsZero() bool {
	return t.ID == ""
}

func (t Target) String() string {
	return string(t.Kind) + ":" + t.ID
}
