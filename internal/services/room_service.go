package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"chat-core/internal/database"
	"chat-core/internal/models"
)

// HistoryLimit is how many recent messages a chat is opened with.
const HistoryLimit = 50

type RoomService struct {
	db database.Database
}

func NewRoomService(db database.Database) *RoomService {
	return &RoomService{db: db}
}

func (s *RoomService) CreateRoom(ctx context.Context, req *models.CreateRoomRequest, ownerID string) (*models.Room, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if n := utf8.RuneCountInString(req.Name); n == 0 || n > 100 {
		return nil, ErrRoomName
	}
	return s.db.CreateRoom(ctx, req, ownerID)
}

// ListRooms returns every room, so users can discover rooms to join.
func (s *RoomService) ListRooms(ctx context.Context) ([]*models.Room, error) {
	return s.db.ListRooms(ctx)
}

// GetRoom returns the room with its recent history.
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := s.db.GetRoomByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	room.Messages, err = s.db.LoadRecentMessages(ctx, models.RoomTarget(roomID), HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return room, nil
}

func (s *RoomService) JoinRoom(ctx context.Context, userID, roomID string) (*models.Room, error) {
	if err := s.db.AddMembership(ctx, userID, roomID); err != nil {
		return nil, err
	}
	return s.db.GetRoomByID(ctx, roomID)
}

// LeaveRoom removes userID from roomID. Leaving a room the user is not in
// changes nothing and still returns the room.
func (s *RoomService) LeaveRoom(ctx context.Context, userID, roomID string) (*models.Room, error) {
	isMember, err := s.db.IsMember(ctx, userID, roomID)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if !isMember {
		return s.db.GetRoomByID(ctx, roomID)
	}
	if err := s.db.RemoveMembership(ctx, userID, roomID); err != nil {
		return nil, err
	}
	return s.db.GetRoomByID(ctx, roomID)
}

// RequireMember fails with ErrNotMember unless userID belongs to roomID.
func (s *RoomService) RequireMember(ctx context.Context, userID, roomID string) (*models.Room, error) {
	room, err := s.db.GetRoomByID(ctx, roomID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrUnknownTarget
	}
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(userID) {
		return nil, ErrNotMember
	}
	return room, nil
}
