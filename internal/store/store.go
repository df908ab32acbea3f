// Package store holds the currently open conversation or room and the sidebar
// summaries. It is the single writer of that state.
package store

import (
	"errors"
	"sync"

	"chat-core/internal/models"
)

var ErrNotActive = errors.New("store: target is not the active chat")

type ChangeKind int

const (
	ChangeSelected ChangeKind = iota
	ChangeCleared
	ChangeMessages
	ChangeConversations
	ChangeRooms
)

type Change struct {
	Kind   ChangeKind
	Target models.Target
}

// Chat is a snapshot of the active chat. Exactly one of Conversation and Room is set.
type Chat struct {
	Target       models.Target
	Conversation *models.Conversation
	Room         *models.Room
	Messages     []models.Message
}

type activeChat struct {
	target       models.Target
	conversation *models.Conversation
	room         *models.Room
	log          *MessageLog
}

type Store struct {
	mu            sync.RWMutex
	active        *activeChat
	conversations []models.Conversation
	rooms         []models.Room

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

func New() *Store {
	return &Store{subs: make(map[int]func(Change))}
}

func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// SelectConversation makes conv the active chat, superseding the previous one.
func (s *Store) SelectConversation(conv models.Conversation) {
	messages := conv.Messages
	conv.Messages = nil
	s.selectChat(&activeChat{
		target:       models.ConversationTarget(conv.ID),
		conversation: &conv,
	}, messages)
}

// SelectRoom makes room the active chat, superseding the previous one.
func (s *Store) SelectRoom(room models.Room) {
	messages := room.Messages
	room.Messages = nil
	s.selectChat(&activeChat{
		target: models.RoomTarget(room.ID),
		room:   &room,
	}, messages)
}

func (s *Store) selectChat(chat *activeChat, history []models.Message) {
	chat.log = NewMessageLog()
	for _, m := range history {
		if m.DeliveryState == "" {
			m.DeliveryState = models.DeliverySent
		}
		chat.log.Append(m)
	}
	s.mu.Lock()
	s.active = chat
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeSelected, Target: chat.target})
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.active = nil
	s.conversations = nil
	s.rooms = nil
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeCleared})
}

// Active returns the target of the open chat, or a zero Target.
func (s *Store) Active() models.Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return models.Target{}
	}
	return s.active.target
}

// Current returns a copy of the open chat, or nil.
func (s *Store) Current() *Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil
	}
	chat := &Chat{
		Target:   s.active.target,
		Messages: s.active.log.Messages(),
	}
	if s.active.conversation != nil {
		conv := *s.active.conversation
		conv.Participants = append([]models.Identity(nil), conv.Participants...)
		chat.Conversation = &conv
	}
	if s.active.room != nil {
		room := *s.active.room
		room.Participants = append([]models.Identity(nil), room.Participants...)
		chat.Room = &room
	}
	return chat
}

// AppendPending adds a locally-owned placeholder to the open chat.
func (s *Store) AppendPending(msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	msg.DeliveryState = models.DeliveryPending
	target := msg.Target()
	err := s.mutate(target, func(log *MessageLog) bool {
		return log.Append(msg)
	})
	return err
}

// Confirm merges a server-confirmed message into target. A matching tempID
// placeholder is replaced in place; otherwise the message is appended.
// Messages already present by id are dropped.
func (s *Store) Confirm(target models.Target, tempID string, msg models.Message) bool {
	msg.DeliveryState = models.DeliverySent
	applied := false
	s.mutate(target, func(log *MessageLog) bool {
		if tempID != "" {
			applied = log.ReplaceByTempID(tempID, msg)
			return true
		}
		applied = log.Append(msg)
		return applied
	})
	return applied
}

// Remove deletes the message under key (server id or tempId).
func (s *Store) Remove(target models.Target, key string) bool {
	removed := false
	s.mutate(target, func(log *MessageLog) bool {
		removed = log.Remove(key)
		return removed
	})
	return removed
}

// MarkFailed flags a still-pending placeholder as failed.
func (s *Store) MarkFailed(target models.Target, tempID string) bool {
	return s.transition(target, tempID, models.DeliveryPending, models.DeliveryFailed)
}

// MarkPending moves a failed placeholder back to pending for a retry.
func (s *Store) MarkPending(target models.Target, tempID string) bool {
	return s.transition(target, tempID, models.DeliveryFailed, models.DeliveryPending)
}

func (s *Store) transition(target models.Target, tempID string, from, to models.DeliveryState) bool {
	ok := false
	s.mutate(target, func(log *MessageLog) bool {
		msg, found := log.Get(tempID)
		if !found || msg.ID != "" || msg.DeliveryState != from {
			return false
		}
		ok = log.SetState(tempID, to)
		return ok
	})
	return ok
}

func (s *Store) Message(target models.Target, key string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil || s.active.target != target {
		return models.Message{}, false
	}
	return s.active.log.Get(key)
}

func (s *Store) mutate(target models.Target, fn func(*MessageLog) bool) error {
	s.mu.Lock()
	if s.active == nil || s.active.target != target {
		s.mu.Unlock()
		return ErrNotActive
	}
	changed := fn(s.active.log)
	s.mu.Unlock()
	if changed {
		s.emit(Change{Kind: ChangeMessages, Target: target})
	}
	return nil
}

// ApplyConversationUpdate replaces the sidebar entry with the same id, or
// prepends conv when unknown. The open chat's messages are left alone.
func (s *Store) ApplyConversationUpdate(conv models.Conversation) {
	conv.Messages = nil
	s.mu.Lock()
	replaced := false
	for i := range s.conversations {
		if s.conversations[i].ID == conv.ID {
			s.conversations[i] = conv
			replaced = true
			break
		}
	}
	if !replaced {
		s.conversations = append([]models.Conversation{conv}, s.conversations...)
	}
	if s.active != nil && s.active.conversation != nil && s.active.conversation.ID == conv.ID {
		meta := conv
		s.active.conversation = &meta
	}
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeConversations, Target: models.ConversationTarget(conv.ID)})
}

// ApplyRoomUpdate replaces the sidebar entry with the same id, or prepends room
// when unknown. The open chat's messages are left alone.
func (s *Store) ApplyRoomUpdate(room models.Room) {
	room.Messages = nil
	s.mu.Lock()
	replaced := false
	for i := range s.rooms {
		if s.rooms[i].ID == room.ID {
			s.rooms[i] = room
			replaced = true
			break
		}
	}
	if !replaced {
		s.rooms = append([]models.Room{room}, s.rooms...)
	}
	if s.active != nil && s.active.room != nil && s.active.room.ID == room.ID {
		meta := room
		s.active.room = &meta
	}
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeRooms, Target: models.RoomTarget(room.ID)})
}

func (s *Store) SetConversations(list []models.Conversation) {
	s.mu.Lock()
	s.conversations = append([]models.Conversation(nil), list...)
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeConversations})
}

// SetRooms replaces the room list. It also refreshes the open room's
// metadata, which is how membership changes become visible.
func (s *Store) SetRooms(list []models.Room) {
	s.mu.Lock()
	s.rooms = append([]models.Room(nil), list...)
	if s.active != nil && s.active.room != nil {
		for _, r := range list {
			if r.ID == s.active.room.ID {
				meta := r
				meta.Messages = nil
				s.active.room = &meta
				break
			}
		}
	}
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeRooms})
}

func (s *Store) Conversations() []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Conversation(nil), s.conversations...)
}

func (s *Store) Rooms() []models.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Room(nil), s.rooms...)
}

func (s *Store) Room(id string) (models.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rooms {
		if r.ID == id {
			return r, true
		}
	}
	return models.Room{}, false
}

func (s *Store) emit(c Change) {
	s.subMu.Lock()
	subs := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(c)
	}
}
