package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-core/internal/database"
	"chat-core/internal/models"
)

type fixture struct {
	db            *database.MemoryDB
	rooms         *RoomService
	conversations *ConversationService
	messages      *MessageService
	users         *UserService
	alice, bob    models.Identity
	carol         models.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := database.NewMemoryDB()
	f := &fixture{
		db:            db,
		rooms:         NewRoomService(db),
		conversations: NewConversationService(db),
		users:         NewUserService(db),
	}
	f.messages = NewMessageService(db, f.rooms, f.conversations)

	ctx := context.Background()
	for _, name := range []string{"Alice", "Bob", "Carol"} {
		u, err := db.CreateUser(ctx, &models.RegisterRequest{
			Email: strings.ToLower(name) + "@example.com", DisplayName: name, Password: "password", Role: models.RoleClient,
		})
		require.NoError(t, err)
		switch name {
		case "Alice":
			f.alice = u.Identity()
		case "Bob":
			f.bob = u.Identity()
		default:
			f.carol = u.Identity()
		}
	}
	return f
}

func TestConversationID_IsOrderIndependent(t *testing.T) {
	assert.Equal(t, ConversationID("u1", "u2"), ConversationID("u2", "u1"))
	assert.NotEqual(t, ConversationID("u1", "u2"), ConversationID("u1", "u3"))
	assert.Len(t, ConversationID("u1", "u2"), 36)
}

func TestConversationService_OpenWith(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.conversations.OpenWith(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, ConversationID(f.alice.ID, f.bob.ID), conv.ID)
	assert.Len(t, conv.Participants, 2)

	again, err := f.conversations.OpenWith(ctx, f.bob.ID, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	_, err = f.conversations.OpenWith(ctx, f.alice.ID, f.alice.ID)
	assert.ErrorIs(t, err, ErrSelfChat)
	_, err = f.conversations.OpenWith(ctx, f.alice.ID, "ghost")
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = f.conversations.Get(ctx, conv.ID, f.carol.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.conversations.Get(ctx, "missing", f.alice.ID)
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestMessageService_Post(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.conversations.OpenWith(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	room, err := f.rooms.CreateRoom(ctx, &models.CreateRoomRequest{Name: " general "}, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "general", room.Name)

	tests := []struct {
		name   string
		sender models.Identity
		target models.Target
		text   string
		err    error
	}{
		{"private", f.alice, models.ConversationTarget(conv.ID), " hi ", nil},
		{"outsider private", f.carol, models.ConversationTarget(conv.ID), "hi", ErrForbidden},
		{"room member", f.alice, models.RoomTarget(room.ID), "hello room", nil},
		{"room non-member", f.bob, models.RoomTarget(room.ID), "hello", ErrNotMember},
		{"unknown room", f.bob, models.RoomTarget("nope"), "hello", ErrUnknownTarget},
		{"empty", f.alice, models.ConversationTarget(conv.ID), "  ", models.ErrEmptyContent},
		{"no target", f.alice, models.Target{}, "hi", models.ErrNoTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := f.messages.Post(ctx, tt.sender, tt.target, tt.text, "")
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, msg.ID)
			assert.Equal(t, strings.TrimSpace(tt.text), msg.Content)
			assert.Equal(t, tt.sender.DisplayName, msg.SenderName)
			assert.Equal(t, tt.target, msg.Target())
		})
	}

	got, err := f.conversations.Get(ctx, conv.ID, f.bob.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hi", got.Messages[0].Content)

	summary, err := f.conversations.Summary(ctx, conv.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.UnreadCount)
	require.NoError(t, f.conversations.MarkRead(ctx, conv.ID, f.bob.ID, time.Now().Add(time.Second)))
	summary, _ = f.conversations.Summary(ctx, conv.ID, f.bob.ID)
	assert.Equal(t, 0, summary.UnreadCount)
}

func TestRoomService_Membership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rooms.CreateRoom(ctx, &models.CreateRoomRequest{Name: "   "}, f.alice.ID)
	assert.ErrorIs(t, err, ErrRoomName)
	_, err = f.rooms.CreateRoom(ctx, &models.CreateRoomRequest{Name: strings.Repeat("x", 101)}, f.alice.ID)
	assert.ErrorIs(t, err, ErrRoomName)

	room, err := f.rooms.CreateRoom(ctx, &models.CreateRoomRequest{Name: "general"}, f.alice.ID)
	require.NoError(t, err)

	joined, err := f.rooms.JoinRoom(ctx, f.bob.ID, room.ID)
	require.NoError(t, err)
	assert.True(t, joined.HasParticipant(f.bob.ID))

	left, err := f.rooms.LeaveRoom(ctx, f.bob.ID, room.ID)
	require.NoError(t, err)
	assert.False(t, left.HasParticipant(f.bob.ID))

	again, err := f.rooms.LeaveRoom(ctx, f.bob.ID, room.ID)
	require.NoError(t, err, "leaving twice is a no-op")
	assert.Equal(t, room.ID, again.ID)
	assert.False(t, again.HasParticipant(f.bob.ID))

	_, err = f.rooms.LeaveRoom(ctx, f.bob.ID, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)

	rooms, err := f.rooms.ListRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 1)

	_, err = f.rooms.GetRoom(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestUserService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	users, err := f.users.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Identity{f.alice, f.bob, f.carol}, users)

	got, err := f.users.GetUser(ctx, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, f.bob, got)
}

func TestMessageService_PostRepeatedTempID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.conversations.OpenWith(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	target := models.ConversationTarget(conv.ID)

	first, err := f.messages.Post(ctx, f.alice, target, "hi", "t-1")
	require.NoError(t, err)
	retried, err := f.messages.Post(ctx, f.alice, target, "hi", "t-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, retried.ID)

	got, err := f.conversations.Get(ctx, conv.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)
}
