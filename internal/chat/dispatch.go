package chat

import (
	"chat-core/internal/models"
	"chat-core/internal/protocol"
)

// dispatch routes one inbound event. It runs on the connection's read
// goroutine, so events are applied in arrival order.
func (c *Client) dispatch(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventReceivePrivateMessage:
		var p protocol.ReceivePrivateMessage
		if c.bind(env, &p) {
			c.channel.HandlePrivateMessage(p)
			c.notifyIncoming(models.ConversationTarget(p.ConversationID), p.Message)
		}
	case protocol.EventReceiveRoomMessage:
		var p protocol.ReceiveRoomMessage
		if c.bind(env, &p) {
			c.channel.HandleRoomMessage(p)
			c.notifyIncoming(models.RoomTarget(p.RoomID), p.Message)
		}
	case protocol.EventConversationUpdated:
		var conv models.Conversation
		if c.bind(env, &conv) {
			c.store.ApplyConversationUpdate(conv)
			c.notifyBackground(models.ConversationTarget(conv.ID), conv.LastMessage)
		}
	case protocol.EventRoomUpdated:
		var room models.Room
		if c.bind(env, &room) {
			c.store.ApplyRoomUpdate(room)
			c.notifyBackground(models.RoomTarget(room.ID), room.LastMessage)
		}
	case protocol.EventOnlineUsers:
		var users []string
		if c.bind(env, &users) {
			c.presence.SetOnline(users)
		}
	case protocol.EventUserTyping:
		var p protocol.Typing
		if c.bind(env, &p) {
			c.presence.UserTyping(p)
		}
	case protocol.EventUserStoppedTyping:
		var p protocol.Typing
		if c.bind(env, &p) {
			c.presence.UserStoppedTyping(p)
		}
	case protocol.EventError:
		var p protocol.ErrorPayload
		if c.bind(env, &p) {
			c.serverError(p.Message)
		}
	default:
		c.log.Debug("Ignoring unknown event %q", env.Event)
	}
}

func (c *Client) bind(env protocol.Envelope, v interface{}) bool {
	if err := env.Bind(v); err != nil {
		c.log.Warn("Dropping %s: %v", env.Event, err)
		return false
	}
	return true
}

func (c *Client) notifyIncoming(target models.Target, msg models.Message) {
	if c.bridge == nil || msg.Sender == "" || msg.Sender == c.Identity().ID {
		return
	}
	c.bridge.MessageArrived(target, msg)
}

// notifyBackground surfaces messages that land in chats other than the open one.
func (c *Client) notifyBackground(target models.Target, last *models.Message) {
	if last == nil || target == c.store.Active() {
		return
	}
	c.notifyIncoming(target, *last)
}

func (c *Client) serverError(message string) {
	c.log.Warn("Server error: %s", message)
	c.mu.Lock()
	c.serverErr = message
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(message)
	}
}
