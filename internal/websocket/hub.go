package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"chat-core/internal/models"
	"chat-core/internal/protocol"
	"chat-core/internal/services"
	"chat-core/pkg/logger"
)

// Close codes sent to sessions the hub ends.
const (
	CloseSessionReplaced = 4001
	ReasonReplaced       = "session replaced"
)

// Services is what the hub needs from the domain layer.
type Services struct {
	Messages      *services.MessageService
	Conversations *services.ConversationService
	Rooms         *services.RoomService
}

type subscription struct {
	client *Client
	target models.Target
}

// delivery is one fan-out request. Frames go to the subscribers of target
// (except exclude), to each listed client, and to each user's live session.
type delivery struct {
	target  models.Target
	frame   []byte
	exclude *Client
	direct  map[*Client][]byte
	users   map[string][]byte
	// requireSub drops the delivery unless exclude is subscribed to target.
	requireSub bool
}

// Hub owns every live session. All session and subscription state is touched
// only by the Run goroutine.
type Hub struct {
	svc Services
	log *logger.Logger

	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription
	deliver     chan delivery
	online      chan chan []string
	shutdown    chan struct{}
	done        chan struct{}
	stopOnce    sync.Once

	sessions    map[string]*Client
	subscribers map[models.Target]map[*Client]bool
}

func NewHub(svc Services) *Hub {
	return &Hub{
		svc:         svc,
		log:         logger.Named("hub"),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		deliver:     make(chan delivery, 64),
		online:      make(chan chan []string),
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		sessions:    make(map[string]*Client),
		subscribers: make(map[models.Target]map[*Client]bool),
	}
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.shutdown:
			for _, client := range h.sessions {
				h.closeClient(client, websocket.CloseGoingAway, "server shutting down")
			}
			return

		case client := <-h.register:
			if old, ok := h.sessions[client.identity.ID]; ok {
				h.closeClient(old, CloseSessionReplaced, ReasonReplaced)
				h.log.Info("Replaced session of %s", client.identity.ID)
			}
			h.sessions[client.identity.ID] = client
			h.log.Info("User %s connected", client.identity.ID)
			h.broadcastOnlineUsers()

		case client := <-h.unregister:
			if h.sessions[client.identity.ID] == client {
				h.closeClient(client, websocket.CloseNormalClosure, "")
				h.log.Info("User %s disconnected", client.identity.ID)
				h.broadcastOnlineUsers()
			}

		case sub := <-h.subscribe:
			if h.sessions[sub.client.identity.ID] != sub.client {
				continue
			}
			subs := h.subscribers[sub.target]
			if subs == nil {
				subs = make(map[*Client]bool)
				h.subscribers[sub.target] = subs
			}
			subs[sub.client] = true

		case sub := <-h.unsubscribe:
			h.dropSubscription(sub.client, sub.target)

		case d := <-h.deliver:
			h.fanOut(d)

		case reply := <-h.online:
			reply <- h.onlineUserIDs()
		}
	}
}

// Stop closes every session and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.shutdown) })
	<-h.done
}

// OnlineUsers returns the ids of users with a live session.
func (h *Hub) OnlineUsers() []string {
	reply := make(chan []string, 1)
	select {
	case h.online <- reply:
		return <-reply
	case <-h.done:
		return nil
	}
}

func (h *Hub) send(d delivery) {
	select {
	case h.deliver <- d:
	case <-h.done:
	}
}

func (h *Hub) updateSubscription(ch chan subscription, sub subscription) {
	select {
	case ch <- sub:
	case <-h.done:
	}
}

func (h *Hub) fanOut(d delivery) {
	if d.requireSub && !h.subscribers[d.target][d.exclude] {
		return
	}
	if d.frame != nil {
		for client := range h.subscribers[d.target] {
			if client != d.exclude {
				h.enqueue(client, d.frame)
			}
		}
	}
	for client, frame := range d.direct {
		if h.sessions[client.identity.ID] == client {
			h.enqueue(client, frame)
		}
	}
	for userID, frame := range d.users {
		if client, ok := h.sessions[userID]; ok {
			h.enqueue(client, frame)
		}
	}
}

func (h *Hub) enqueue(client *Client, frame []byte) {
	select {
	case client.send <- frame:
	default:
		h.log.Warn("Dropping slow session of %s", client.identity.ID)
		h.closeClient(client, websocket.CloseTryAgainLater, "send buffer full")
		h.broadcastOnlineUsers()
	}
}

func (h *Hub) closeClient(client *Client, code int, reason string) {
	if h.sessions[client.identity.ID] == client {
		delete(h.sessions, client.identity.ID)
	}
	for target := range h.subscribers {
		h.dropSubscription(client, target)
	}
	client.closeCode, client.closeText = code, reason
	close(client.send)
}

func (h *Hub) dropSubscription(client *Client, target models.Target) {
	subs, ok := h.subscribers[target]
	if !ok {
		return
	}
	delete(subs, client)
	if len(subs) == 0 {
		delete(h.subscribers, target)
	}
}

func (h *Hub) onlineUserIDs() []string {
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) broadcastOnlineUsers() {
	frame, err := protocol.Encode(protocol.EventOnlineUsers, h.onlineUserIDs())
	if err != nil {
		h.log.Error("Error encoding online users: %v", err)
		return
	}
	for _, client := range h.sessions {
		select {
		case client.send <- frame:
		default:
		}
	}
}

// NotifyRoom sends the room's current summary to all its members and to
// extraUserIDs, e.g. a user who just left.
func (h *Hub) NotifyRoom(ctx context.Context, roomID string, extraUserIDs ...string) {
	room, err := h.svc.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		h.log.Error("Error loading room %s: %v", roomID, err)
		return
	}
	room.Messages = nil
	frame, err := protocol.Encode(protocol.EventRoomUpdated, room)
	if err != nil {
		h.log.Error("Error encoding room update: %v", err)
		return
	}
	users := make(map[string][]byte, len(room.Participants)+len(extraUserIDs))
	for _, p := range room.Participants {
		users[p.ID] = frame
	}
	for _, id := range extraUserIDs {
		users[id] = frame
	}
	h.send(delivery{users: users})
}

// notifyConversation sends each participant their own view of the conversation.
func (h *Hub) notifyConversation(ctx context.Context, conversationID string, participants []models.Identity) {
	users := make(map[string][]byte, len(participants))
	for _, p := range participants {
		summary, err := h.svc.Conversations.Summary(ctx, conversationID, p.ID)
		if err != nil {
			h.log.Error("Error loading conversation %s for %s: %v", conversationID, p.ID, err)
			continue
		}
		frame, err := protocol.Encode(protocol.EventConversationUpdated, summary)
		if err != nil {
			continue
		}
		users[p.ID] = frame
	}
	h.send(delivery{users: users})
}
