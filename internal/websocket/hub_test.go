package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-core/internal/database"
	"chat-core/internal/models"
	"chat-core/internal/protocol"
	"chat-core/internal/services"
)

type hubFixture struct {
	hub        *Hub
	server     *httptest.Server
	svc        Services
	identities map[string]models.Identity
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	db := database.NewMemoryDB()
	rooms := services.NewRoomService(db)
	conversations := services.NewConversationService(db)
	svc := Services{
		Messages:      services.NewMessageService(db, rooms, conversations),
		Conversations: conversations,
		Rooms:         rooms,
	}

	f := &hubFixture{hub: NewHub(svc), svc: svc, identities: make(map[string]models.Identity)}
	for _, name := range []string{"Alice", "Bob", "Carol"} {
		u, err := db.CreateUser(context.Background(), &models.RegisterRequest{
			Email: strings.ToLower(name) + "@example.com", DisplayName: name, Password: "password", Role: models.RoleClient,
		})
		require.NoError(t, err)
		f.identities[name] = u.Identity()
	}

	go f.hub.Run()
	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := f.identities[r.URL.Query().Get("as")]
		if !ok {
			http.Error(w, "unknown user", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.hub.Attach(conn, identity)
	}))
	t.Cleanup(func() {
		f.server.Close()
		f.hub.Stop()
	})
	return f
}

func (f *hubFixture) dial(t *testing.T, name string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?as=" + name
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	frame, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// expect reads frames until one named event arrives.
func expect(t *testing.T, conn *websocket.Conn, event string) protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)
		env, err := protocol.Decode(frame)
		require.NoError(t, err)
		if env.Event == event {
			return env
		}
	}
}

// roundTrip returns once the hub has handled every frame conn sent before it.
func roundTrip(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"sync"}`)))
	var payload protocol.ErrorPayload
	require.NoError(t, expect(t, conn, protocol.EventError).Bind(&payload))
	require.Equal(t, "unknown event: sync", payload.Message)
}

func TestHub_OnlineUsersSnapshot(t *testing.T) {
	f := newHubFixture(t)
	alice := f.dial(t, "Alice")

	var online []string
	require.NoError(t, expect(t, alice, protocol.EventOnlineUsers).Bind(&online))
	assert.Equal(t, []string{f.identities["Alice"].ID}, online)

	bob := f.dial(t, "Bob")
	require.NoError(t, expect(t, alice, protocol.EventOnlineUsers).Bind(&online))
	assert.ElementsMatch(t, []string{f.identities["Alice"].ID, f.identities["Bob"].ID}, online)

	bob.Close()
	require.NoError(t, expect(t, alice, protocol.EventOnlineUsers).Bind(&online))
	assert.Equal(t, []string{f.identities["Alice"].ID}, online)
}

func TestHub_PrivateMessageFanOut(t *testing.T) {
	f := newHubFixture(t)
	aliceID, bobID := f.identities["Alice"].ID, f.identities["Bob"].ID
	conv, err := f.svc.Conversations.OpenWith(context.Background(), aliceID, bobID)
	require.NoError(t, err)

	alice := f.dial(t, "Alice")
	bob := f.dial(t, "Bob")
	emit(t, alice, protocol.EventJoinConversation, protocol.ChatRef{ConversationID: conv.ID})
	emit(t, bob, protocol.EventJoinConversation, protocol.ChatRef{ConversationID: conv.ID})
	roundTrip(t, alice)
	roundTrip(t, bob)

	emit(t, alice, protocol.EventSendPrivateMessage, protocol.SendPrivateMessage{
		ConversationID: conv.ID, Content: "  hi bob  ", TempID: "t-1",
	})

	var echo protocol.ReceivePrivateMessage
	require.NoError(t, expect(t, alice, protocol.EventReceivePrivateMessage).Bind(&echo))
	assert.Equal(t, "t-1", echo.TempID)
	assert.Equal(t, "hi bob", echo.Message.Content)
	assert.NotEmpty(t, echo.Message.ID)

	var got protocol.ReceivePrivateMessage
	require.NoError(t, expect(t, bob, protocol.EventReceivePrivateMessage).Bind(&got))
	assert.Empty(t, got.TempID)
	assert.Equal(t, echo.Message.ID, got.Message.ID)
	assert.Equal(t, conv.ID, got.ConversationID)

	var summary models.Conversation
	require.NoError(t, expect(t, bob, protocol.EventConversationUpdated).Bind(&summary))
	assert.Equal(t, conv.ID, summary.ID)
	assert.Equal(t, 1, summary.UnreadCount)

	emit(t, bob, protocol.EventMarkMessagesRead, protocol.ChatRef{ConversationID: conv.ID})
	require.NoError(t, expect(t, bob, protocol.EventConversationUpdated).Bind(&summary))
	assert.Equal(t, 0, summary.UnreadCount)
}

func TestHub_SenderEchoWithoutSubscription(t *testing.T) {
	f := newHubFixture(t)
	conv, err := f.svc.Conversations.OpenWith(context.Background(), f.identities["Alice"].ID, f.identities["Bob"].ID)
	require.NoError(t, err)

	alice := f.dial(t, "Alice")
	emit(t, alice, protocol.EventSendPrivateMessage, protocol.SendPrivateMessage{
		ConversationID: conv.ID, Content: "first", TempID: "t-9",
	})
	var echo protocol.ReceivePrivateMessage
	require.NoError(t, expect(t, alice, protocol.EventReceivePrivateMessage).Bind(&echo))
	assert.Equal(t, "t-9", echo.TempID)
}

func TestHub_RepeatedTempIDEchoesStoredMessage(t *testing.T) {
	f := newHubFixture(t)
	conv, err := f.svc.Conversations.OpenWith(context.Background(), f.identities["Alice"].ID, f.identities["Bob"].ID)
	require.NoError(t, err)

	alice := f.dial(t, "Alice")
	var ids []string
	for i := 0; i < 2; i++ {
		emit(t, alice, protocol.EventSendPrivateMessage, protocol.SendPrivateMessage{
			ConversationID: conv.ID, Content: "once", TempID: "t-3",
		})
		var echo protocol.ReceivePrivateMessage
		require.NoError(t, expect(t, alice, protocol.EventReceivePrivateMessage).Bind(&echo))
		assert.Equal(t, "t-3", echo.TempID)
		ids = append(ids, echo.Message.ID)
	}
	assert.Equal(t, ids[0], ids[1], "a resend with the same tempId is stored once")
}

func TestHub_RejectsOutsiders(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()
	conv, err := f.svc.Conversations.OpenWith(ctx, f.identities["Alice"].ID, f.identities["Bob"].ID)
	require.NoError(t, err)
	room, err := f.svc.Rooms.CreateRoom(ctx, &models.CreateRoomRequest{Name: "general"}, f.identities["Alice"].ID)
	require.NoError(t, err)

	carol := f.dial(t, "Carol")
	tests := []struct {
		name    string
		event   string
		payload interface{}
		want    string
	}{
		{"join foreign conversation", protocol.EventJoinConversation, protocol.ChatRef{ConversationID: conv.ID}, services.ErrForbidden.Error()},
		{"post to foreign conversation", protocol.EventSendPrivateMessage, protocol.SendPrivateMessage{ConversationID: conv.ID, Content: "hey"}, services.ErrForbidden.Error()},
		{"post to room without membership", protocol.EventSendRoomMessage, protocol.SendRoomMessage{RoomID: room.ID, Content: "hey"}, services.ErrNotMember.Error()},
		{"empty content", protocol.EventSendRoomMessage, protocol.SendRoomMessage{RoomID: room.ID, Content: "   "}, models.ErrEmptyContent.Error()},
		{"unknown room", protocol.EventJoinRoom, protocol.ChatRef{RoomID: "nope"}, "not found"},
		{"no chat", protocol.EventTypingStart, protocol.ChatRef{}, models.ErrNoTarget.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emit(t, carol, tt.event, tt.payload)
			var payload protocol.ErrorPayload
			require.NoError(t, expect(t, carol, protocol.EventError).Bind(&payload))
			assert.Equal(t, tt.want, payload.Message)
		})
	}
}

func TestHub_InvalidFrame(t *testing.T) {
	f := newHubFixture(t)
	alice := f.dial(t, "Alice")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	var payload protocol.ErrorPayload
	require.NoError(t, expect(t, alice, protocol.EventError).Bind(&payload))
	assert.Equal(t, "invalid message format", payload.Message)
}

func TestHub_RoomMessageAndTyping(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()
	aliceID, bobID := f.identities["Alice"].ID, f.identities["Bob"].ID
	room, err := f.svc.Rooms.CreateRoom(ctx, &models.CreateRoomRequest{Name: "general"}, aliceID)
	require.NoError(t, err)
	_, err = f.svc.Rooms.JoinRoom(ctx, bobID, room.ID)
	require.NoError(t, err)

	alice := f.dial(t, "Alice")
	bob := f.dial(t, "Bob")
	emit(t, alice, protocol.EventJoinRoom, protocol.ChatRef{RoomID: room.ID})
	emit(t, bob, protocol.EventJoinRoom, protocol.ChatRef{RoomID: room.ID})
	roundTrip(t, alice)
	roundTrip(t, bob)

	emit(t, alice, protocol.EventTypingStart, protocol.ChatRef{RoomID: room.ID})
	var typing protocol.Typing
	require.NoError(t, expect(t, bob, protocol.EventUserTyping).Bind(&typing))
	assert.Equal(t, protocol.Typing{RoomID: room.ID, UserID: aliceID, UserName: "Alice"}, typing)

	emit(t, alice, protocol.EventTypingStop, protocol.ChatRef{RoomID: room.ID})
	require.NoError(t, expect(t, bob, protocol.EventUserStoppedTyping).Bind(&typing))
	assert.Equal(t, aliceID, typing.UserID)

	emit(t, bob, protocol.EventSendRoomMessage, protocol.SendRoomMessage{RoomID: room.ID, Content: "hello room", TempID: "t-2"})
	var got protocol.ReceiveRoomMessage
	require.NoError(t, expect(t, alice, protocol.EventReceiveRoomMessage).Bind(&got))
	assert.Equal(t, "hello room", got.Message.Content)
	assert.Equal(t, "Bob", got.Message.SenderName)
	assert.Empty(t, got.TempID)

	var updated models.Room
	require.NoError(t, expect(t, alice, protocol.EventRoomUpdated).Bind(&updated))
	assert.Equal(t, room.ID, updated.ID)
	require.NotNil(t, updated.LastMessage)
	assert.Equal(t, "hello room", updated.LastMessage.Content)
}

func TestHub_TypingRequiresSubscription(t *testing.T) {
	f := newHubFixture(t)
	conv, err := f.svc.Conversations.OpenWith(context.Background(), f.identities["Alice"].ID, f.identities["Bob"].ID)
	require.NoError(t, err)

	alice := f.dial(t, "Alice")
	bob := f.dial(t, "Bob")
	emit(t, bob, protocol.EventJoinConversation, protocol.ChatRef{ConversationID: conv.ID})
	roundTrip(t, bob)

	emit(t, alice, protocol.EventTypingStart, protocol.ChatRef{ConversationID: conv.ID})
	roundTrip(t, alice)
	emit(t, alice, protocol.EventJoinConversation, protocol.ChatRef{ConversationID: conv.ID})
	emit(t, alice, protocol.EventTypingStop, protocol.ChatRef{ConversationID: conv.ID})

	// The first frame bob sees is the stop; the unsubscribed start was dropped.
	bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, frame, err := bob.ReadMessage()
		require.NoError(t, err)
		env, err := protocol.Decode(frame)
		require.NoError(t, err)
		if env.Event == protocol.EventOnlineUsers {
			continue
		}
		assert.Equal(t, protocol.EventUserStoppedTyping, env.Event)
		break
	}
}

func TestHub_NewSessionReplacesOld(t *testing.T) {
	f := newHubFixture(t)
	first := f.dial(t, "Alice")
	expect(t, first, protocol.EventOnlineUsers)

	second := f.dial(t, "Alice")
	expect(t, second, protocol.EventOnlineUsers)

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	var closeErr *websocket.CloseError
	for {
		_, _, err := first.ReadMessage()
		if err != nil {
			require.ErrorAs(t, err, &closeErr)
			break
		}
	}
	assert.Equal(t, CloseSessionReplaced, closeErr.Code)
	assert.Equal(t, ReasonReplaced, closeErr.Text)
	assert.Equal(t, []string{f.identities["Alice"].ID}, f.hub.OnlineUsers())
}

func TestHub_StopClosesSessions(t *testing.T) {
	f := newHubFixture(t)
	alice := f.dial(t, "Alice")
	expect(t, alice, protocol.EventOnlineUsers)

	f.hub.Stop()

	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	var err error
	for err == nil {
		_, _, err = alice.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
	assert.Nil(t, f.hub.OnlineUsers())
}
