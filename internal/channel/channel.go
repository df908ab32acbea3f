// Package channel sends and receives chat messages. Outgoing messages appear
// immediately as pending placeholders and are reconciled with the server echo
// through their tempId.
package channel

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"chat-core/internal/clock"
	"chat-core/internal/connection"
	"chat-core/internal/expiry"
	"chat-core/internal/models"
	"chat-core/internal/protocol"
	"chat-core/internal/store"
	"chat-core/pkg/logger"
)

const (
	DefaultSendTimeout = 15 * time.Second
	// TypingInterval is the minimum gap between typing-start frames for one chat.
	TypingInterval = 2 * time.Second
)

var ErrUnknownMessage = errors.New("no failed message with that tempId")

// SendError reports a message that never left the client. Content is returned
// so the caller can restore the input.
type SendError struct {
	TempID  string
	Content string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %v", e.TempID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Emitter is the outbound half of the connection.
type Emitter interface {
	Emit(event string, payload interface{}) error
	IsConnected() bool
}

type Option func(*Channel)

func WithClock(c clock.Clock) Option {
	return func(ch *Channel) { ch.clock = c }
}

func WithLogger(l *logger.Logger) Option {
	return func(ch *Channel) { ch.log = l }
}

func WithSendTimeout(d time.Duration) Option {
	return func(ch *Channel) { ch.sendTimeout = d }
}

// WithTempIDs overrides tempId generation.
func WithTempIDs(next func() string) Option {
	return func(ch *Channel) { ch.newTempID = next }
}

type Channel struct {
	emitter     Emitter
	store       *store.Store
	clock       clock.Clock
	log         *logger.Logger
	sendTimeout time.Duration
	newTempID   func() string
	timeouts    *expiry.Scheduler

	mu       sync.Mutex
	self     models.Identity
	inflight map[string]models.Target // tempId -> chat
	settled  map[string]struct{}      // tempIds whose echo has been merged
	typing   map[models.Target]*rate.Limiter
}

func New(emitter Emitter, st *store.Store, opts ...Option) *Channel {
	ch := &Channel{
		emitter:     emitter,
		store:       st,
		clock:       clock.Real(),
		log:         logger.Named("channel"),
		sendTimeout: DefaultSendTimeout,
		inflight:    make(map[string]models.Target),
		settled:     make(map[string]struct{}),
		typing:      make(map[models.Target]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(ch)
	}
	if ch.newTempID == nil {
		ch.newTempID = ch.defaultTempID
	}
	ch.timeouts = expiry.New(ch.clock, ch.expire)
	return ch
}

func (ch *Channel) defaultTempID() string {
	return fmt.Sprintf("%d-%s", ch.clock.Now().UnixMilli(), uuid.NewString()[:8])
}

// SetIdentity sets the author stamped on outgoing placeholders.
func (ch *Channel) SetIdentity(id models.Identity) {
	ch.mu.Lock()
	ch.self = id
	ch.mu.Unlock()
}

// Send appends a pending placeholder to target and emits it. When the
// connection is down or the emit fails nothing is left in the store and a
// *SendError is returned.
func (ch *Channel) Send(target models.Target, content string) (models.Message, error) {
	text, err := models.NormalizeContent(content)
	if err != nil {
		return models.Message{}, err
	}

	tempID := ch.newTempID()
	if !ch.emitter.IsConnected() {
		return models.Message{}, &SendError{TempID: tempID, Content: content, Err: connection.ErrNotConnected}
	}

	ch.mu.Lock()
	self := ch.self
	ch.mu.Unlock()

	msg := models.Message{
		TempID:        tempID,
		Sender:        self.ID,
		SenderName:    self.DisplayName,
		Content:       text,
		Timestamp:     ch.clock.Now(),
		DeliveryState: models.DeliveryPending,
	}
	if target.Kind == models.KindRoom {
		msg.RoomID = target.ID
	} else {
		msg.ConversationID = target.ID
	}

	if err := ch.store.AppendPending(msg); err != nil {
		return models.Message{}, &SendError{TempID: tempID, Content: content, Err: err}
	}
	// Tracked before the emit: the echo may arrive before Emit returns.
	ch.track(tempID, target)
	if err := ch.emitMessage(msg); err != nil {
		ch.untrack(tempID)
		ch.store.Remove(target, tempID)
		return models.Message{}, &SendError{TempID: tempID, Content: content, Err: err}
	}
	return msg, nil
}

// Retry re-emits a failed message under its original tempId.
func (ch *Channel) Retry(tempID string) error {
	ch.mu.Lock()
	target, ok := ch.inflight[tempID]
	ch.mu.Unlock()
	if !ok {
		return ErrUnknownMessage
	}
	msg, ok := ch.store.Message(target, tempID)
	if !ok || msg.DeliveryState != models.DeliveryFailed {
		return ErrUnknownMessage
	}
	if !ch.emitter.IsConnected() {
		return &SendError{TempID: tempID, Content: msg.Content, Err: connection.ErrNotConnected}
	}

	ch.store.MarkPending(target, tempID)
	ch.track(tempID, target)
	if err := ch.emitMessage(msg); err != nil {
		ch.timeouts.Cancel(tempID)
		ch.store.MarkFailed(target, tempID)
		return &SendError{TempID: tempID, Content: msg.Content, Err: err}
	}
	return nil
}

// Discard drops a failed placeholder.
func (ch *Channel) Discard(tempID string) bool {
	ch.mu.Lock()
	target, ok := ch.inflight[tempID]
	delete(ch.inflight, tempID)
	ch.mu.Unlock()
	if !ok {
		return false
	}
	ch.timeouts.Cancel(tempID)
	return ch.store.Remove(target, tempID)
}

func (ch *Channel) emitMessage(msg models.Message) error {
	if msg.RoomID != "" {
		return ch.emitter.Emit(protocol.EventSendRoomMessage, protocol.SendRoomMessage{
			RoomID: msg.RoomID, Content: msg.Content, TempID: msg.TempID,
		})
	}
	return ch.emitter.Emit(protocol.EventSendPrivateMessage, protocol.SendPrivateMessage{
		ConversationID: msg.ConversationID, Content: msg.Content, TempID: msg.TempID,
	})
}

func (ch *Channel) track(tempID string, target models.Target) {
	ch.mu.Lock()
	ch.inflight[tempID] = target
	ch.mu.Unlock()
	ch.timeouts.Arm(tempID, ch.sendTimeout)
}

func (ch *Channel) untrack(tempID string) {
	ch.mu.Lock()
	delete(ch.inflight, tempID)
	ch.mu.Unlock()
	ch.timeouts.Cancel(tempID)
}

func (ch *Channel) expire(tempID string) {
	ch.mu.Lock()
	target, ok := ch.inflight[tempID]
	ch.mu.Unlock()
	if ok && ch.store.MarkFailed(target, tempID) {
		ch.log.Warn("Message %s got no confirmation within %s", tempID, ch.sendTimeout)
	}
}

// HandlePrivateMessage merges an inbound private message into the open chat.
func (ch *Channel) HandlePrivateMessage(p protocol.ReceivePrivateMessage) bool {
	msg := p.Message
	if msg.ConversationID == "" {
		msg.ConversationID = p.ConversationID
	}
	if msg.ConversationID == "" {
		ch.log.Warn("Dropping private message %q without conversation id", msg.ID)
		return false
	}
	return ch.receive(models.ConversationTarget(msg.ConversationID), p.TempID, msg)
}

// HandleRoomMessage merges an inbound room message into the open chat.
func (ch *Channel) HandleRoomMessage(p protocol.ReceiveRoomMessage) bool {
	msg := p.Message
	if msg.RoomID == "" {
		msg.RoomID = p.RoomID
	}
	if msg.RoomID == "" {
		ch.log.Warn("Dropping room message %q without room id", msg.ID)
		return false
	}
	return ch.receive(models.RoomTarget(msg.RoomID), p.TempID, msg)
}

// receive merges one inbound message. A retried send can be echoed more than
// once under the same tempId; only the first echo is merged.
func (ch *Channel) receive(target models.Target, tempID string, msg models.Message) bool {
	if tempID != "" {
		ch.mu.Lock()
		_, seen := ch.settled[tempID]
		ch.settled[tempID] = struct{}{}
		delete(ch.inflight, tempID)
		ch.mu.Unlock()
		ch.timeouts.Cancel(tempID)
		if seen {
			ch.log.Debug("Dropping repeated echo for %s", tempID)
			return false
		}
		msg.TempID = tempID
	}
	return ch.store.Confirm(target, tempID, msg)
}

// StartTyping emits typing-start for target at most once per TypingInterval.
func (ch *Channel) StartTyping(target models.Target) error {
	ch.mu.Lock()
	lim, ok := ch.typing[target]
	if !ok {
		lim = rate.NewLimiter(rate.Every(TypingInterval), 1)
		ch.typing[target] = lim
	}
	allowed := lim.AllowN(ch.clock.Now(), 1)
	ch.mu.Unlock()
	if !allowed {
		return nil
	}
	return ch.emitter.Emit(protocol.EventTypingStart, protocol.RefFor(target))
}

// StopTyping emits typing-stop and lets the next StartTyping through at once.
func (ch *Channel) StopTyping(target models.Target) error {
	ch.mu.Lock()
	delete(ch.typing, target)
	ch.mu.Unlock()
	return ch.emitter.Emit(protocol.EventTypingStop, protocol.RefFor(target))
}

func (ch *Channel) MarkRead(target models.Target) error {
	return ch.emitter.Emit(protocol.EventMarkMessagesRead, protocol.RefFor(target))
}

// Join subscribes the session to target's live events.
func (ch *Channel) Join(target models.Target) error {
	event := protocol.EventJoinConversation
	if target.Kind == models.KindRoom {
		event = protocol.EventJoinRoom
	}
	return ch.emitter.Emit(event, protocol.RefFor(target))
}

func (ch *Channel) Leave(target models.Target) error {
	event := protocol.EventLeaveConversation
	if target.Kind == models.KindRoom {
		event = protocol.EventLeaveRoom
	}
	return ch.emitter.Emit(event, protocol.RefFor(target))
}

// Reset forgets in-flight sends and typing throttles, e.g. on logout.
func (ch *Channel) Reset() {
	ch.mu.Lock()
	ch.inflight = make(map[string]models.Target)
	ch.settled = make(map[string]struct{})
	ch.typing = make(map[models.Target]*rate.Limiter)
	ch.mu.Unlock()
	ch.timeouts.Reset()
}
