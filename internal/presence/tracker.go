// Package presence tracks which peers are online and who is typing in the
// chat currently open.
package presence

import (
	"sort"
	"strings"
	"sync"
	"time"

	"chat-core/internal/clock"
	"chat-core/internal/expiry"
	"chat-core/internal/protocol"
)

// TypingTTL is how long a typing indicator survives without a fresh signal.
const TypingTTL = 3000 * time.Millisecond

type typist struct {
	userID string
	name   string
	seq    uint64
}

type Tracker struct {
	selfID string
	expiry *expiry.Scheduler

	mu         sync.RWMutex
	online     map[string]struct{}
	typing     map[string]map[string]typist // chatID -> userID -> typist
	activeChat string
	seq        uint64
	onChange   func()
}

func NewTracker(selfID string, c clock.Clock) *Tracker {
	t := &Tracker{
		selfID: selfID,
		online: make(map[string]struct{}),
		typing: make(map[string]map[string]typist),
	}
	t.expiry = expiry.New(c, t.expire)
	return t
}

// OnChange registers a callback fired after presence or typing state changes.
func (t *Tracker) OnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func (t *Tracker) SetSelf(userID string) {
	t.mu.Lock()
	t.selfID = userID
	t.mu.Unlock()
}

// SetOnline replaces the online set with snapshot.
func (t *Tracker) SetOnline(snapshot []string) {
	online := make(map[string]struct{}, len(snapshot))
	for _, id := range snapshot {
		online[id] = struct{}{}
	}
	t.mu.Lock()
	t.online = online
	t.mu.Unlock()
	t.changed()
}

func (t *Tracker) IsUserOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

func (t *Tracker) OnlineUsers() []string {
	t.mu.RLock()
	users := make([]string, 0, len(t.online))
	for id := range t.online {
		users = append(users, id)
	}
	t.mu.RUnlock()
	sort.Strings(users)
	return users
}

// SetActiveChat switches the open chat. Typing state of other chats is dropped.
func (t *Tracker) SetActiveChat(chatID string) {
	t.mu.Lock()
	t.activeChat = chatID
	var dropped []string
	for id, users := range t.typing {
		if id == chatID {
			continue
		}
		for userID := range users {
			dropped = append(dropped, typingKey(id, userID))
		}
		delete(t.typing, id)
	}
	t.mu.Unlock()

	for _, key := range dropped {
		t.expiry.Cancel(key)
	}
	if len(dropped) > 0 {
		t.changed()
	}
}

// UserTyping records a typing signal. Signals for other chats and from the
// local user are ignored.
func (t *Tracker) UserTyping(ev protocol.Typing) {
	chatID := ev.ChatID()
	t.mu.Lock()
	if ev.UserID == "" || ev.UserID == t.selfID || chatID == "" || chatID != t.activeChat {
		t.mu.Unlock()
		return
	}
	users := t.typing[chatID]
	if users == nil {
		users = make(map[string]typist)
		t.typing[chatID] = users
	}
	entry, exists := users[ev.UserID]
	if !exists {
		t.seq++
		entry = typist{userID: ev.UserID, seq: t.seq}
	}
	entry.name = ev.UserName
	if entry.name == "" {
		entry.name = ev.UserID
	}
	users[ev.UserID] = entry
	t.mu.Unlock()

	t.expiry.Arm(typingKey(chatID, ev.UserID), TypingTTL)
	t.changed()
}

func (t *Tracker) UserStoppedTyping(ev protocol.Typing) {
	chatID := ev.ChatID()
	if t.remove(chatID, ev.UserID) {
		t.expiry.Cancel(typingKey(chatID, ev.UserID))
		t.changed()
	}
}

// TypingUsersIn lists display names typing in chatID, oldest signal first.
func (t *Tracker) TypingUsersIn(chatID string) []string {
	t.mu.RLock()
	entries := make([]typist, 0, len(t.typing[chatID]))
	for _, e := range t.typing[chatID] {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

func (t *Tracker) TypingText(chatID string) string {
	return FormatTyping(t.TypingUsersIn(chatID))
}

// Reset forgets presence and typing, e.g. after the connection drops.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.online = make(map[string]struct{})
	t.typing = make(map[string]map[string]typist)
	t.mu.Unlock()
	t.expiry.Reset()
	t.changed()
}

// FormatTyping renders the typing indicator line.
func FormatTyping(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	case 2:
		return names[0] + " and " + names[1] + " are typing…"
	default:
		return strings.Join(names[:2], ", ") + ", and others are typing…"
	}
}

func (t *Tracker) expire(key string) {
	chatID, userID, ok := splitTypingKey(key)
	if ok && t.remove(chatID, userID) {
		t.changed()
	}
}

func (t *Tracker) remove(chatID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.typing[chatID]
	if !ok {
		return false
	}
	if _, ok := users[userID]; !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.typing, chatID)
	}
	return true
}

func (t *Tracker) changed() {
	t.mu.RLock()
	fn := t.onChange
	t.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

const keySep = "\x00"

func typingKey(chatID, userID string) string {
	return chatID + keySep + userID
}

func splitTypingKey(key string) (chatID, userID string, ok bool) {
	parts := strings.SplitN(key, keySep, 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
