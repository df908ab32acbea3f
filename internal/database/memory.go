package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"chat-core/internal/models"
)

// MemoryDB keeps everything in process memory. It backs the server when no
// DATABASE_URL is configured and the service tests.
type MemoryDB struct {
	mu            sync.RWMutex
	users         map[string]*models.User
	byEmail       map[string]string
	conversations map[string]*memConversation
	rooms         map[string]*memRoom
	messages      []models.Message
	byTempID      map[string]int // sender + tempId -> index in messages
	now           func() time.Time
}

type memConversation struct {
	id        string
	updatedAt time.Time
	lastRead  map[string]time.Time
}

type memRoom struct {
	room    models.Room
	members map[string]time.Time
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		users:         make(map[string]*models.User),
		byEmail:       make(map[string]string),
		conversations: make(map[string]*memConversation),
		rooms:         make(map[string]*memRoom),
		byTempID:      make(map[string]int),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (db *MemoryDB) Close() error {
	return nil
}

func (db *MemoryDB) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	id, ok := db.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	user := *db.users[id]
	return &user, nil
}

func (db *MemoryDB) CreateUser(_ context.Context, req *models.RegisterRequest) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	key := strings.ToLower(req.Email)
	if _, exists := db.byEmail[key]; exists {
		return nil, ErrDuplicateEmail
	}
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		Role:         req.Role,
		PasswordHash: string(hash),
		CreatedAt:    db.now(),
	}
	db.users[user.ID] = user
	db.byEmail[key] = user.ID
	out := *user
	return &out, nil
}

func (db *MemoryDB) GetUserByID(_ context.Context, id string) (*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	user, ok := db.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *user
	out.PasswordHash = ""
	return &out, nil
}

func (db *MemoryDB) ListUsers(_ context.Context) ([]*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	users := make([]*models.User, 0, len(db.users))
	for _, u := range db.users {
		out := *u
		out.PasswordHash = ""
		users = append(users, &out)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].DisplayName < users[j].DisplayName })
	return users, nil
}

func (db *MemoryDB) identitiesLocked(ids []string) []models.Identity {
	list := make([]models.Identity, 0, len(ids))
	for _, id := range ids {
		if u, ok := db.users[id]; ok {
			list = append(list, u.Identity())
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].DisplayName < list[j].DisplayName })
	return list
}

func (db *MemoryDB) lastMessageLocked(target models.Target) *models.Message {
	for i := len(db.messages) - 1; i >= 0; i-- {
		if db.messages[i].Target() == target {
			msg := db.messages[i]
			return &msg
		}
	}
	return nil
}

func (db *MemoryDB) GetOrCreateConversation(ctx context.Context, id string, participantIDs []string) (*models.Conversation, error) {
	db.mu.Lock()
	conv, ok := db.conversations[id]
	if !ok {
		conv = &memConversation{id: id, updatedAt: db.now(), lastRead: make(map[string]time.Time)}
		db.conversations[id] = conv
	}
	for _, userID := range participantIDs {
		if _, exists := conv.lastRead[userID]; !exists {
			conv.lastRead[userID] = time.Time{}
		}
	}
	db.mu.Unlock()
	return db.GetConversation(ctx, id)
}

func (db *MemoryDB) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	conv, ok := db.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return db.conversationLocked(conv, ""), nil
}

func (db *MemoryDB) conversationLocked(conv *memConversation, viewer string) *models.Conversation {
	ids := make([]string, 0, len(conv.lastRead))
	for userID := range conv.lastRead {
		ids = append(ids, userID)
	}
	out := &models.Conversation{
		ID:           conv.id,
		Participants: db.identitiesLocked(ids),
		LastMessage:  db.lastMessageLocked(models.ConversationTarget(conv.id)),
		UpdatedAt:    conv.updatedAt,
	}
	if viewer != "" {
		since := conv.lastRead[viewer]
		for _, m := range db.messages {
			if m.ConversationID == conv.id && m.Sender != viewer && m.Timestamp.After(since) {
				out.UnreadCount++
			}
		}
	}
	return out
}

func (db *MemoryDB) ListUserConversations(_ context.Context, userID string) ([]*models.Conversation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var convs []*models.Conversation
	for _, conv := range db.conversations {
		if _, ok := conv.lastRead[userID]; ok {
			convs = append(convs, db.conversationLocked(conv, userID))
		}
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].UpdatedAt.After(convs[j].UpdatedAt) })
	return convs, nil
}

func (db *MemoryDB) MarkConversationRead(_ context.Context, conversationID, userID string, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	conv, ok := db.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := conv.lastRead[userID]; !ok {
		return ErrNotFound
	}
	conv.lastRead[userID] = at
	return nil
}

func (db *MemoryDB) CreateRoom(ctx context.Context, req *models.CreateRoomRequest, ownerID string) (*models.Room, error) {
	now := db.now()
	room := &memRoom{
		room: models.Room{
			ID:          uuid.NewString(),
			Name:        req.Name,
			Description: req.Description,
			OwnerID:     ownerID,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		members: map[string]time.Time{ownerID: now},
	}
	db.mu.Lock()
	db.rooms[room.room.ID] = room
	db.mu.Unlock()
	return db.GetRoomByID(ctx, room.room.ID)
}

func (db *MemoryDB) GetRoomByID(_ context.Context, id string) (*models.Room, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	room, ok := db.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return db.roomLocked(room), nil
}

func (db *MemoryDB) roomLocked(r *memRoom) *models.Room {
	out := r.room
	ids := make([]string, 0, len(r.members))
	for userID := range r.members {
		ids = append(ids, userID)
	}
	out.Participants = db.identitiesLocked(ids)
	out.LastMessage = db.lastMessageLocked(models.RoomTarget(out.ID))
	return &out
}

func (db *MemoryDB) ListRooms(_ context.Context) ([]*models.Room, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	rooms := make([]*models.Room, 0, len(db.rooms))
	for _, r := range db.rooms {
		rooms = append(rooms, db.roomLocked(r))
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt) })
	return rooms, nil
}

func (db *MemoryDB) SaveMessage(_ context.Context, msg models.Message) (models.Message, error) {
	if err := msg.Validate(); err != nil {
		return models.Message{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = db.now()
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	tempKey := ""
	if msg.TempID != "" {
		tempKey = msg.Sender + "\x00" + msg.TempID
		if i, ok := db.byTempID[tempKey]; ok {
			return db.messages[i], nil
		}
	}
	if msg.RoomID != "" {
		room, ok := db.rooms[msg.RoomID]
		if !ok {
			return models.Message{}, ErrNotFound
		}
		room.room.UpdatedAt = msg.Timestamp
	} else {
		conv, ok := db.conversations[msg.ConversationID]
		if !ok {
			return models.Message{}, ErrNotFound
		}
		conv.updatedAt = msg.Timestamp
	}
	if u, ok := db.users[msg.Sender]; ok && msg.SenderName == "" {
		msg.SenderName = u.DisplayName
	}
	msg.TempID = ""
	msg.DeliveryState = models.DeliverySent
	if tempKey != "" {
		db.byTempID[tempKey] = len(db.messages)
	}
	db.messages = append(db.messages, msg)
	return msg, nil
}

func (db *MemoryDB) LoadRecentMessages(_ context.Context, target models.Target, limit int) ([]models.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []models.Message
	for i := len(db.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if db.messages[i].Target() == target {
			out = append(out, db.messages[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (db *MemoryDB) AddMembership(_ context.Context, userID, roomID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	room, ok := db.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	if _, exists := room.members[userID]; !exists {
		room.members[userID] = db.now()
	}
	return nil
}

func (db *MemoryDB) RemoveMembership(_ context.Context, userID, roomID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	room, ok := db.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	delete(room.members, userID)
	return nil
}

func (db *MemoryDB) IsMember(_ context.Context, userID, roomID string) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	room, ok := db.rooms[roomID]
	if !ok {
		return false, nil
	}
	_, member := room.members[userID]
	return member, nil
}
