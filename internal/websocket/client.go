package websocket

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"chat-core/internal/database"
	"chat-core/internal/models"
	"chat-core/internal/protocol"
	"chat-core/internal/services"
	"chat-core/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxFrameSize   = 64 * 1024
	sendBuffer     = 256
	requestTimeout = 5 * time.Second
)

// protocolError is a client mistake whose text is safe to echo back.
type protocolError string

func (e protocolError) Error() string { return string(e) }

const errInvalidFrame = protocolError("invalid message format")

// Client is one authenticated websocket session.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	identity models.Identity
	log      *logger.Logger

	// Set by the hub before send is closed.
	closeCode int
	closeText string
}

// Attach registers a session for identity on conn and starts its pumps.
func (h *Hub) Attach(conn *websocket.Conn, identity models.Identity) *Client {
	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		identity: identity,
		log:      h.log.Named("session"),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return client
	}
	go client.WritePump()
	go client.ReadPump()
	return client
}

func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Error("WebSocket error for %s: %v", c.identity.ID, err)
			}
			return
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			c.reply(errInvalidFrame)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		if err := c.handle(ctx, env); err != nil {
			c.reply(err)
		}
		cancel()
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeText))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Error("Write error for %s: %v", c.identity.ID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(ctx context.Context, env protocol.Envelope) error {
	switch env.Event {
	case protocol.EventSendPrivateMessage:
		var req protocol.SendPrivateMessage
		if err := env.Bind(&req); err != nil {
			return errInvalidFrame
		}
		return c.sendPrivate(ctx, req)

	case protocol.EventSendRoomMessage:
		var req protocol.SendRoomMessage
		if err := env.Bind(&req); err != nil {
			return errInvalidFrame
		}
		return c.sendRoom(ctx, req)

	case protocol.EventJoinConversation, protocol.EventJoinRoom:
		target, err := c.bindTarget(env)
		if err != nil {
			return err
		}
		return c.join(ctx, target)

	case protocol.EventLeaveConversation, protocol.EventLeaveRoom:
		target, err := c.bindTarget(env)
		if err != nil {
			return err
		}
		c.hub.updateSubscription(c.hub.unsubscribe, subscription{client: c, target: target})
		return nil

	case protocol.EventMarkMessagesRead:
		target, err := c.bindTarget(env)
		if err != nil {
			return err
		}
		return c.markRead(ctx, target)

	case protocol.EventTypingStart, protocol.EventTypingStop:
		target, err := c.bindTarget(env)
		if err != nil {
			return err
		}
		return c.relayTyping(env.Event, target)
	}
	return protocolError("unknown event: " + env.Event)
}

func (c *Client) bindTarget(env protocol.Envelope) (models.Target, error) {
	var ref protocol.ChatRef
	if err := env.Bind(&ref); err != nil {
		return models.Target{}, errInvalidFrame
	}
	return ref.Target()
}

func (c *Client) join(ctx context.Context, target models.Target) error {
	var err error
	if target.Kind == models.KindRoom {
		_, err = c.hub.svc.Rooms.GetRoom(ctx, target.ID)
	} else {
		_, err = c.hub.svc.Conversations.RequireParticipant(ctx, target.ID, c.identity.ID)
	}
	if err != nil {
		return err
	}
	c.hub.updateSubscription(c.hub.subscribe, subscription{client: c, target: target})
	return nil
}

func (c *Client) sendPrivate(ctx context.Context, req protocol.SendPrivateMessage) error {
	target := models.ConversationTarget(req.ConversationID)
	msg, err := c.hub.svc.Messages.Post(ctx, c.identity, target, req.Content, req.TempID)
	if err != nil {
		return err
	}

	out := protocol.ReceivePrivateMessage{ConversationID: req.ConversationID, Message: msg}
	frame, err := protocol.Encode(protocol.EventReceivePrivateMessage, out)
	if err != nil {
		return err
	}
	out.TempID = req.TempID
	echo, err := protocol.Encode(protocol.EventReceivePrivateMessage, out)
	if err != nil {
		return err
	}
	c.hub.send(delivery{target: target, frame: frame, exclude: c, direct: map[*Client][]byte{c: echo}})

	conv, err := c.hub.svc.Conversations.RequireParticipant(ctx, req.ConversationID, c.identity.ID)
	if err != nil {
		c.log.Error("Error loading conversation %s: %v", req.ConversationID, err)
		return nil
	}
	c.hub.notifyConversation(ctx, conv.ID, conv.Participants)
	return nil
}

func (c *Client) sendRoom(ctx context.Context, req protocol.SendRoomMessage) error {
	target := models.RoomTarget(req.RoomID)
	msg, err := c.hub.svc.Messages.Post(ctx, c.identity, target, req.Content, req.TempID)
	if err != nil {
		return err
	}

	out := protocol.ReceiveRoomMessage{RoomID: req.RoomID, Message: msg}
	frame, err := protocol.Encode(protocol.EventReceiveRoomMessage, out)
	if err != nil {
		return err
	}
	out.TempID = req.TempID
	echo, err := protocol.Encode(protocol.EventReceiveRoomMessage, out)
	if err != nil {
		return err
	}
	c.hub.send(delivery{target: target, frame: frame, exclude: c, direct: map[*Client][]byte{c: echo}})
	c.hub.NotifyRoom(ctx, req.RoomID)
	return nil
}

func (c *Client) markRead(ctx context.Context, target models.Target) error {
	// Rooms carry no per-user read state.
	if target.Kind == models.KindRoom {
		return nil
	}
	if err := c.hub.svc.Conversations.MarkRead(ctx, target.ID, c.identity.ID, time.Now()); err != nil {
		return err
	}
	summary, err := c.hub.svc.Conversations.Summary(ctx, target.ID, c.identity.ID)
	if err != nil {
		return err
	}
	frame, err := protocol.Encode(protocol.EventConversationUpdated, summary)
	if err != nil {
		return err
	}
	c.hub.send(delivery{direct: map[*Client][]byte{c: frame}})
	return nil
}

func (c *Client) relayTyping(event string, target models.Target) error {
	out := protocol.Typing{UserID: c.identity.ID, UserName: c.identity.DisplayName}
	if target.Kind == models.KindRoom {
		out.RoomID = target.ID
	} else {
		out.ConversationID = target.ID
	}
	name := protocol.EventUserTyping
	if event == protocol.EventTypingStop {
		name = protocol.EventUserStoppedTyping
	}
	frame, err := protocol.Encode(name, out)
	if err != nil {
		return err
	}
	c.hub.send(delivery{target: target, frame: frame, exclude: c, requireSub: true})
	return nil
}

// reply sends an error event describing err to this session only.
func (c *Client) reply(err error) {
	frame, encErr := protocol.Encode(protocol.EventError, protocol.ErrorPayload{Message: errorText(err)})
	if encErr != nil {
		return
	}
	c.hub.send(delivery{direct: map[*Client][]byte{c: frame}})
}

// errorText hides internal failures from the peer.
func errorText(err error) string {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return "not found"
	case errors.Is(err, services.ErrForbidden),
		errors.Is(err, services.ErrNotMember),
		errors.Is(err, services.ErrUnknownTarget),
		errors.Is(err, models.ErrEmptyContent),
		errors.Is(err, models.ErrContentTooLong),
		errors.Is(err, models.ErrNoTarget),
		errors.Is(err, models.ErrAmbiguousChat):
		return err.Error()
	}
	var perr protocolError
	if errors.As(err, &perr) {
		return string(perr)
	}
	logger.Error("Session request failed: %v", err)
	return "internal server error"
}
