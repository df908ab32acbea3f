package services

import (
	"context"

	"chat-core/internal/database"
	"chat-core/internal/models"
)

type MessageService struct {
	db            database.Database
	rooms         *RoomService
	conversations *ConversationService
}

func NewMessageService(db database.Database, rooms *RoomService, conversations *ConversationService) *MessageService {
	return &MessageService{db: db, rooms: rooms, conversations: conversations}
}

// Post stores content from sender in target after checking that the sender
// belongs to the chat. Posting again with the same non-empty tempID returns
// the message stored the first time.
func (s *MessageService) Post(ctx context.Context, sender models.Identity, target models.Target, content, tempID string) (models.Message, error) {
	text, err := models.NormalizeContent(content)
	if err != nil {
		return models.Message{}, err
	}

	msg := models.Message{Sender: sender.ID, SenderName: sender.DisplayName, Content: text, TempID: tempID}
	switch target.Kind {
	case models.KindRoom:
		if _, err := s.rooms.RequireMember(ctx, sender.ID, target.ID); err != nil {
			return models.Message{}, err
		}
		msg.RoomID = target.ID
	case models.KindConversation:
		if _, err := s.conversations.RequireParticipant(ctx, target.ID, sender.ID); err != nil {
			return models.Message{}, err
		}
		msg.ConversationID = target.ID
	default:
		return models.Message{}, models.ErrNoTarget
	}

	saved, err := s.db.SaveMessage(ctx, msg)
	if err != nil {
		return models.Message{}, err
	}
	saved.SenderName = sender.DisplayName
	saved.DeliveryState = ""
	return saved, nil
}
