package database

import (
	"context"
	"errors"
	"time"

	"chat-core/internal/models"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
}

type ConversationRepository interface {
	// GetOrCreateConversation returns conversation id, creating it with the
	// given participants when it does not exist yet.
	GetOrCreateConversation(ctx context.Context, id string, participantIDs []string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	// ListUserConversations returns summaries with LastMessage and the user's UnreadCount.
	ListUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
	MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) error
}

type RoomRepository interface {
	CreateRoom(ctx context.Context, req *models.CreateRoomRequest, ownerID string) (*models.Room, error)
	GetRoomByID(ctx context.Context, id string) (*models.Room, error)
	ListRooms(ctx context.Context) ([]*models.Room, error)
}

type MessageRepository interface {
	// SaveMessage assigns an id and timestamp when missing and stores msg.
	// A message whose sender already stored the same TempID is not stored
	// again; the earlier message is returned instead.
	SaveMessage(ctx context.Context, msg models.Message) (models.Message, error)
	// LoadRecentMessages returns up to limit messages of target, oldest first.
	LoadRecentMessages(ctx context.Context, target models.Target, limit int) ([]models.Message, error)
}

type MembershipRepository interface {
	AddMembership(ctx context.Context, userID, roomID string) error
	RemoveMembership(ctx context.Context, userID, roomID string) error
	IsMember(ctx context.Context, userID, roomID string) (bool, error)
}

type Database interface {
	UserRepository
	ConversationRepository
	RoomRepository
	MessageRepository
	MembershipRepository
	Close() error
}
