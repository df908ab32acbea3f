// Package chat wires the connection, presence, store, channel and notification
// components into the one client a process uses.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"chat-core/internal/channel"
	"chat-core/internal/clock"
	"chat-core/internal/connection"
	"chat-core/internal/models"
	"chat-core/internal/notify"
	"chat-core/internal/presence"
	"chat-core/internal/store"
	"chat-core/pkg/logger"
)

var ErrNoActiveChat = errors.New("no conversation or room is open")

// API is the part of the REST client the chat client relies on.
type API interface {
	SetToken(token string)
	ListUsers(ctx context.Context) ([]models.Identity, error)
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	GetConversationWith(ctx context.Context, peerID string) (*models.Conversation, error)
	ListRooms(ctx context.Context) ([]models.Room, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	CreateRoom(ctx context.Context, req models.CreateRoomRequest) (*models.Room, error)
	JoinRoom(ctx context.Context, id string) error
	LeaveRoom(ctx context.Context, id string) error
}

type Option func(*settings)

type settings struct {
	clock       clock.Clock
	log         *logger.Logger
	bridge      *notify.Bridge
	sendTimeout time.Duration
	tempIDs     func() string
}

func WithClock(c clock.Clock) Option {
	return func(s *settings) { s.clock = c }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *settings) { s.log = l }
}

// WithNotifications routes incoming messages from other users to b.
func WithNotifications(b *notify.Bridge) Option {
	return func(s *settings) { s.bridge = b }
}

func WithSendTimeout(d time.Duration) Option {
	return func(s *settings) { s.sendTimeout = d }
}

func WithTempIDs(next func() string) Option {
	return func(s *settings) { s.tempIDs = next }
}

type Client struct {
	conn     *connection.Manager
	presence *presence.Tracker
	store    *store.Store
	channel  *channel.Channel
	bridge   *notify.Bridge
	api      API
	log      *logger.Logger

	mu        sync.Mutex
	self      models.Identity
	serverErr string
	onError   func(string)
}

func New(dialer connection.Dialer, api API, opts ...Option) *Client {
	s := settings{
		clock:       clock.Real(),
		log:         logger.Named("chat"),
		sendTimeout: channel.DefaultSendTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}

	conn := connection.NewManager(dialer, connection.WithClock(s.clock))
	st := store.New()
	chOpts := []channel.Option{channel.WithClock(s.clock), channel.WithSendTimeout(s.sendTimeout)}
	if s.tempIDs != nil {
		chOpts = append(chOpts, channel.WithTempIDs(s.tempIDs))
	}

	c := &Client{
		conn:     conn,
		presence: presence.NewTracker("", s.clock),
		store:    st,
		channel:  channel.New(conn, st, chOpts...),
		bridge:   s.bridge,
		api:      api,
		log:      s.log,
	}
	conn.OnEvent(c.dispatch)
	conn.Subscribe(c.connectionChanged)
	return c
}

func (c *Client) Connection() *connection.Manager { return c.conn }
func (c *Client) Presence() *presence.Tracker     { return c.presence }
func (c *Client) Store() *store.Store             { return c.store }
func (c *Client) Channel() *channel.Channel       { return c.channel }
func (c *Client) Notifications() *notify.Bridge   { return c.bridge }

func (c *Client) Identity() models.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// OnServerError registers a callback for error events sent by the server.
func (c *Client) OnServerError(fn func(message string)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// LastServerError is the message of the most recent server error event.
func (c *Client) LastServerError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverErr
}

// Login opens the session for identity and loads the sidebar lists.
func (c *Client) Login(ctx context.Context, identity models.Identity, token string) {
	c.mu.Lock()
	c.self = identity
	c.serverErr = ""
	c.mu.Unlock()

	c.api.SetToken(token)
	c.presence.SetSelf(identity.ID)
	c.channel.SetIdentity(identity)
	c.conn.Connect(identity, token)

	if identity.IsZero() || token == "" {
		return
	}
	c.RefreshConversations(ctx)
	c.RefreshRooms(ctx)
}

// Logout closes the connection and forgets all session state.
func (c *Client) Logout() {
	c.conn.Disconnect()
	c.channel.Reset()
	c.presence.Reset()
	c.store.Clear()
	c.api.SetToken("")

	c.mu.Lock()
	c.self = models.Identity{}
	c.serverErr = ""
	c.mu.Unlock()
	c.presence.SetSelf("")
	c.channel.SetIdentity(models.Identity{})
}

func (c *Client) OpenConversation(ctx context.Context, id string) error {
	conv, err := c.api.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	c.openConversation(*conv)
	return nil
}

// OpenConversationWith opens the private conversation with peerID.
func (c *Client) OpenConversationWith(ctx context.Context, peerID string) error {
	conv, err := c.api.GetConversationWith(ctx, peerID)
	if err != nil {
		return err
	}
	c.openConversation(*conv)
	return nil
}

func (c *Client) OpenRoom(ctx context.Context, id string) error {
	room, err := c.api.GetRoom(ctx, id)
	if err != nil {
		return err
	}
	c.leaveActive()
	c.store.SelectRoom(*room)
	c.activated(models.RoomTarget(room.ID))
	return nil
}

func (c *Client) openConversation(conv models.Conversation) {
	c.leaveActive()
	c.store.SelectConversation(conv)
	c.activated(models.ConversationTarget(conv.ID))
}

func (c *Client) leaveActive() {
	prev := c.store.Active()
	if prev.IsZero() || !c.conn.IsConnected() {
		return
	}
	if err := c.channel.Leave(prev); err != nil {
		c.log.Debug("Leave %s: %v", prev, err)
	}
}

func (c *Client) activated(target models.Target) {
	c.presence.SetActiveChat(target.ID)
	if !c.conn.IsConnected() {
		return
	}
	if err := c.channel.Join(target); err != nil {
		c.log.Warn("Join %s: %v", target, err)
		return
	}
	if err := c.channel.MarkRead(target); err != nil {
		c.log.Debug("Mark read %s: %v", target, err)
	}
}

// Send posts content to the open chat.
func (c *Client) Send(content string) (models.Message, error) {
	target := c.store.Active()
	if target.IsZero() {
		return models.Message{}, ErrNoActiveChat
	}
	return c.channel.Send(target, content)
}

func (c *Client) Retry(tempID string) error {
	return c.channel.Retry(tempID)
}

func (c *Client) Discard(tempID string) bool {
	return c.channel.Discard(tempID)
}

// Typing signals that the user is typing in the open chat.
func (c *Client) Typing() error {
	target := c.store.Active()
	if target.IsZero() {
		return ErrNoActiveChat
	}
	return c.channel.StartTyping(target)
}

func (c *Client) StopTyping() error {
	target := c.store.Active()
	if target.IsZero() {
		return ErrNoActiveChat
	}
	return c.channel.StopTyping(target)
}

// JoinRoom asks the server for membership and then reloads the room list,
// also when the request failed. Membership is only ever taken from the
// server's answer.
func (c *Client) JoinRoom(ctx context.Context, id string) error {
	return c.refreshAfter(ctx, c.api.JoinRoom(ctx, id))
}

func (c *Client) LeaveRoom(ctx context.Context, id string) error {
	return c.refreshAfter(ctx, c.api.LeaveRoom(ctx, id))
}

func (c *Client) refreshAfter(ctx context.Context, err error) error {
	if refreshErr := c.RefreshRooms(ctx); err == nil {
		return refreshErr
	}
	return err
}

func (c *Client) CreateRoom(ctx context.Context, name, description string) (*models.Room, error) {
	room, err := c.api.CreateRoom(ctx, models.CreateRoomRequest{Name: name, Description: description})
	if err != nil {
		return nil, err
	}
	return room, c.RefreshRooms(ctx)
}

// RefreshRooms reloads the room list. On failure the list is emptied.
func (c *Client) RefreshRooms(ctx context.Context) error {
	rooms, err := c.api.ListRooms(ctx)
	if err != nil {
		c.log.Warn("Failed to load rooms: %v", err)
		rooms = nil
	}
	c.store.SetRooms(rooms)
	return err
}

// RefreshConversations reloads the conversation list. On failure the list is emptied.
func (c *Client) RefreshConversations(ctx context.Context) error {
	convs, err := c.api.ListConversations(ctx)
	if err != nil {
		c.log.Warn("Failed to load conversations: %v", err)
		convs = nil
	}
	c.store.SetConversations(convs)
	return err
}

// Users lists everyone the user can start a conversation with, or nothing on failure.
func (c *Client) Users(ctx context.Context) []models.Identity {
	users, err := c.api.ListUsers(ctx)
	if err != nil {
		c.log.Warn("Failed to load users: %v", err)
		return nil
	}
	self := c.Identity().ID
	out := users[:0]
	for _, u := range users {
		if u.ID != self {
			out = append(out, u)
		}
	}
	return out
}

// OpenLink follows a notification deep link.
func (c *Client) OpenLink(link string) error {
	target, err := notify.ParseDeepLink(link)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if target.Kind == models.KindRoom {
		return c.OpenRoom(ctx, target.ID)
	}
	return c.OpenConversation(ctx, target.ID)
}

func (c *Client) connectionChanged(s connection.Status) {
	if !s.Connected {
		c.presence.Reset()
		return
	}
	target := c.store.Active()
	if target.IsZero() {
		return
	}
	if err := c.channel.Join(target); err != nil {
		c.log.Warn("Rejoin %s: %v", target, err)
	}
}
