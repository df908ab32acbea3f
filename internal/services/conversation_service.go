package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"chat-core/internal/database"
	"chat-core/internal/models"
)

// conversationNamespace seeds the deterministic ids of private conversations.
var conversationNamespace = uuid.MustParse("6f1c1c2e-7d0b-4a8e-9f5d-3c2a1b0e9d84")

// ConversationID is the id of the private conversation between a and b,
// independent of argument order.
func ConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return uuid.NewSHA1(conversationNamespace, []byte(pair[0]+":"+pair[1])).String()
}

type ConversationService struct {
	db database.Database
}

func NewConversationService(db database.Database) *ConversationService {
	return &ConversationService{db: db}
}

func (s *ConversationService) ListForUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	return s.db.ListUserConversations(ctx, userID)
}

// OpenWith returns the conversation between userID and peerID with history,
// creating it on first use.
func (s *ConversationService) OpenWith(ctx context.Context, userID, peerID string) (*models.Conversation, error) {
	if userID == peerID {
		return nil, ErrSelfChat
	}
	if _, err := s.db.GetUserByID(ctx, peerID); err != nil {
		return nil, err
	}
	conv, err := s.db.GetOrCreateConversation(ctx, ConversationID(userID, peerID), []string{userID, peerID})
	if err != nil {
		return nil, err
	}
	return s.withHistory(ctx, conv)
}

// Get returns the conversation with history. Only participants may read it.
func (s *ConversationService) Get(ctx context.Context, id, userID string) (*models.Conversation, error) {
	conv, err := s.RequireParticipant(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return s.withHistory(ctx, conv)
}

func (s *ConversationService) RequireParticipant(ctx context.Context, id, userID string) (*models.Conversation, error) {
	conv, err := s.db.GetConversation(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrUnknownTarget
	}
	if err != nil {
		return nil, err
	}
	for _, p := range conv.Participants {
		if p.ID == userID {
			return conv, nil
		}
	}
	return nil, ErrForbidden
}

// Summary is the conversation as userID sees it in the sidebar.
func (s *ConversationService) Summary(ctx context.Context, id, userID string) (*models.Conversation, error) {
	convs, err := s.db.ListUserConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, c := range convs {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, ErrUnknownTarget
}

func (s *ConversationService) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	return s.db.MarkConversationRead(ctx, id, userID, at)
}

func (s *ConversationService) withHistory(ctx context.Context, conv *models.Conversation) (*models.Conversation, error) {
	messages, err := s.db.LoadRecentMessages(ctx, models.ConversationTarget(conv.ID), HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	conv.Messages = messages
	return conv, nil
}
