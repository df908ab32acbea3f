package store

import "chat-core/internal/models"

// MessageLog is an append-ordered sequence of messages keyed by server id or
// tempId. Keys are unique; appending an existing key is a no-op.
type MessageLog struct {
	entries []models.Message
	index   map[string]int
}

func NewMessageLog() *MessageLog {
	return &MessageLog{index: make(map[string]int)}
}

func (l *MessageLog) Len() int {
	return len(l.entries)
}

func (l *MessageLog) Has(key string) bool {
	_, ok := l.index[key]
	return ok
}

func (l *MessageLog) Get(key string) (models.Message, bool) {
	i, ok := l.index[key]
	if !ok {
		return models.Message{}, false
	}
	return l.entries[i], true
}

// Append adds msg at the end. It reports false when the key is already present.
func (l *MessageLog) Append(msg models.Message) bool {
	key := msg.Key()
	if key == "" || l.Has(key) {
		return false
	}
	l.index[key] = len(l.entries)
	l.entries = append(l.entries, msg)
	return true
}

// ReplaceByTempID swaps the placeholder keyed by tempID for the confirmed msg,
// keeping its position. Without a placeholder msg is appended instead. If msg's
// server id is already logged the placeholder is just dropped.
func (l *MessageLog) ReplaceByTempID(tempID string, msg models.Message) bool {
	i, ok := l.index[tempID]
	if !ok || tempID == "" {
		return l.Append(msg)
	}
	if msg.ID != "" && l.Has(msg.ID) {
		l.Remove(tempID)
		return false
	}
	delete(l.index, tempID)
	l.entries[i] = msg
	l.index[msg.Key()] = i
	return true
}

func (l *MessageLog) Remove(key string) bool {
	i, ok := l.index[key]
	if !ok {
		return false
	}
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
	delete(l.index, key)
	for j := i; j < len(l.entries); j++ {
		l.index[l.entries[j].Key()] = j
	}
	return true
}

// SetState updates the delivery state of the message under key.
func (l *MessageLog) SetState(key string, state models.DeliveryState) bool {
	i, ok := l.index[key]
	if !ok {
		return false
	}
	l.entries[i].DeliveryState = state
	return true
}

// Pending returns the tempIds of unconfirmed messages in log order.
func (l *MessageLog) Pending() []string {
	var ids []string
	for _, m := range l.entries {
		if m.ID == "" && m.DeliveryState == models.DeliveryPending {
			ids = append(ids, m.TempID)
		}
	}
	return ids
}

func (l *MessageLog) Messages() []models.Message {
	out := make([]models.Message, len(l.entries))
	copy(out, l.entries)
	return out
}
