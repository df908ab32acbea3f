package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"chat-core/internal/models"
	"chat-core/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	display_name  TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'client',
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	user_id         TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	last_read_at    TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
	PRIMARY KEY (conversation_id, user_id)
);
CREATE TABLE IF NOT EXISTS rooms (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	owner_id    TEXT REFERENCES users(id) ON DELETE SET NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS memberships (
	user_id   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	room_id   TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, room_id)
);
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT REFERENCES conversations(id) ON DELETE CASCADE,
	room_id         TEXT REFERENCES rooms(id) ON DELETE CASCADE,
	sender_id       TEXT NOT NULL REFERENCES users(id),
	content         TEXT NOT NULL,
	client_temp_id  TEXT,
	created_at      TIMESTAMPTZ NOT NULL,
	CHECK ((conversation_id IS NULL) <> (room_id IS NULL))
);
CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, created_at);
CREATE INDEX IF NOT EXISTS messages_room_idx ON messages (room_id, created_at);
ALTER TABLE messages ADD COLUMN IF NOT EXISTS client_temp_id TEXT;
CREATE UNIQUE INDEX IF NOT EXISTS messages_sender_temp_idx ON messages (sender_id, client_temp_id)
	WHERE client_temp_id IS NOT NULL;
`

const uniqueViolation = "23505"

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string, maxConns int) (*PostgresDB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

// Migrate creates the schema if it is missing.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// User Repository Implementation
func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT id, email, display_name, role, password_hash, created_at FROM users WHERE email = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.PasswordHash, &user.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

func (db *PostgresDB) CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO users (id, email, display_name, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at`

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		Role:         req.Role,
		PasswordHash: string(hash),
	}
	err = db.pool.QueryRow(ctx, query, user.ID, user.Email, user.DisplayName, user.Role, user.PasswordHash).Scan(&user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT id, email, display_name, role, created_at FROM users WHERE id = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

func (db *PostgresDB) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, email, display_name, role, created_at FROM users ORDER BY display_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user := &models.User{}
		if err := rows.Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (db *PostgresDB) identities(ctx context.Context, query string, id string) ([]models.Identity, error) {
	rows, err := db.pool.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Identity{}
	for rows.Next() {
		var p models.Identity
		if err := rows.Scan(&p.ID, &p.Email, &p.DisplayName, &p.Role); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// Conversation Repository Implementation
func (db *PostgresDB) GetOrCreateConversation(ctx context.Context, id string, participantIDs []string) (*models.Conversation, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO conversations (id, updated_at) VALUES ($1, NOW()) ON CONFLICT (id) DO NOTHING`, id); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	for _, userID := range participantIDs {
		query := `
			INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)
			ON CONFLICT (conversation_id, user_id) DO NOTHING`
		if _, err := tx.Exec(ctx, query, id, userID); err != nil {
			return nil, fmt.Errorf("failed to add participant: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return db.GetConversation(ctx, id)
}

func (db *PostgresDB) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := db.pool.QueryRow(ctx, `SELECT id, updated_at FROM conversations WHERE id = $1`, id).Scan(&conv.ID, &conv.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := db.fillConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (db *PostgresDB) fillConversation(ctx context.Context, conv *models.Conversation) error {
	participants, err := db.identities(ctx, `
		SELECT u.id, u.email, u.display_name, u.role
		FROM conversation_participants p
		JOIN users u ON p.user_id = u.id
		WHERE p.conversation_id = $1
		ORDER BY u.display_name`, conv.ID)
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}
	conv.Participants = participants

	last, err := db.LoadRecentMessages(ctx, models.ConversationTarget(conv.ID), 1)
	if err != nil {
		return err
	}
	if len(last) == 1 {
		conv.LastMessage = &last[0]
	}
	return nil
}

func (db *PostgresDB) ListUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	query := `
		SELECT c.id, c.updated_at,
			(SELECT COUNT(*) FROM messages m
			 WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND m.created_at > p.last_read_at)
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.updated_at DESC`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	var convs []*models.Conversation
	for rows.Next() {
		conv := &models.Conversation{}
		if err := rows.Scan(&conv.ID, &conv.UpdatedAt, &conv.UnreadCount); err != nil {
			rows.Close()
			return nil, err
		}
		convs = append(convs, conv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, conv := range convs {
		if err := db.fillConversation(ctx, conv); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func (db *PostgresDB) MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	query := `UPDATE conversation_participants SET last_read_at = $3 WHERE conversation_id = $1 AND user_id = $2`
	tag, err := db.pool.Exec(ctx, query, conversationID, userID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Room Repository Implementation
func (db *PostgresDB) CreateRoom(ctx context.Context, req *models.CreateRoomRequest, ownerID string) (*models.Room, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	room := &models.Room{ID: uuid.NewString(), Name: req.Name, Description: req.Description, OwnerID: ownerID}
	query := `
		INSERT INTO rooms (id, name, description, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING created_at, updated_at`
	if err := tx.QueryRow(ctx, query, room.ID, room.Name, room.Description, ownerID).Scan(&room.CreatedAt, &room.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO memberships (user_id, room_id) VALUES ($1, $2)`, ownerID, room.ID); err != nil {
		return nil, fmt.Errorf("failed to add owner: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return db.GetRoomByID(ctx, room.ID)
}

func (db *PostgresDB) GetRoomByID(ctx context.Context, id string) (*models.Room, error) {
	query := `SELECT id, name, description, COALESCE(owner_id, ''), created_at, updated_at FROM rooms WHERE id = $1`

	room := &models.Room{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&room.ID, &room.Name, &room.Description, &room.OwnerID, &room.CreatedAt, &room.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if err := db.fillRoom(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (db *PostgresDB) fillRoom(ctx context.Context, room *models.Room) error {
	participants, err := db.identities(ctx, `
		SELECT u.id, u.email, u.display_name, u.role
		FROM memberships m
		JOIN users u ON m.user_id = u.id
		WHERE m.room_id = $1
		ORDER BY u.display_name`, room.ID)
	if err != nil {
		return fmt.Errorf("failed to load members: %w", err)
	}
	room.Participants = participants

	last, err := db.LoadRecentMessages(ctx, models.RoomTarget(room.ID), 1)
	if err != nil {
		return err
	}
	if len(last) == 1 {
		room.LastMessage = &last[0]
	}
	return nil
}

func (db *PostgresDB) ListRooms(ctx context.Context) ([]*models.Room, error) {
	query := `
		SELECT id, name, description, COALESCE(owner_id, ''), created_at, updated_at
		FROM rooms
		ORDER BY updated_at DESC`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	var rooms []*models.Room
	for rows.Next() {
		room := &models.Room{}
		if err := rows.Scan(&room.ID, &room.Name, &room.Description, &room.OwnerID, &room.CreatedAt, &room.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		rooms = append(rooms, room)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, room := range rooms {
		if err := db.fillRoom(ctx, room); err != nil {
			return nil, err
		}
	}
	return rooms, nil
}

// Message Repository Implementation
func (db *PostgresDB) SaveMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := msg.Validate(); err != nil {
		return models.Message{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO messages (id, conversation_id, room_id, sender_id, content, client_temp_id, created_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7)
		ON CONFLICT (sender_id, client_temp_id) WHERE client_temp_id IS NOT NULL DO NOTHING`
	tag, err := tx.Exec(ctx, query, msg.ID, msg.ConversationID, msg.RoomID, msg.Sender, msg.Content, msg.TempID, msg.Timestamp)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to save message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.messageByTempID(ctx, msg.Sender, msg.TempID)
	}

	touch := `UPDATE conversations SET updated_at = $2 WHERE id = $1`
	chatID := msg.ConversationID
	if msg.RoomID != "" {
		touch = `UPDATE rooms SET updated_at = $2 WHERE id = $1`
		chatID = msg.RoomID
	}
	if _, err := tx.Exec(ctx, touch, chatID, msg.Timestamp); err != nil {
		return models.Message{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Message{}, err
	}
	msg.TempID = ""
	msg.DeliveryState = models.DeliverySent
	return msg, nil
}

// messageByTempID loads the message sender already stored under tempID.
func (db *PostgresDB) messageByTempID(ctx context.Context, senderID, tempID string) (models.Message, error) {
	query := `
		SELECT m.id, COALESCE(m.conversation_id, ''), COALESCE(m.room_id, ''), m.sender_id, u.display_name, m.content, m.created_at
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.sender_id = $1 AND m.client_temp_id = $2`

	var msg models.Message
	err := db.pool.QueryRow(ctx, query, senderID, tempID).
		Scan(&msg.ID, &msg.ConversationID, &msg.RoomID, &msg.Sender, &msg.SenderName, &msg.Content, &msg.Timestamp)
	if err != nil {
		return models.Message{}, notFound(err)
	}
	msg.DeliveryState = models.DeliverySent
	return msg, nil
}

func (db *PostgresDB) LoadRecentMessages(ctx context.Context, target models.Target, limit int) ([]models.Message, error) {
	column := "conversation_id"
	if target.Kind == models.KindRoom {
		column = "room_id"
	}
	query := `
		SELECT m.id, COALESCE(m.conversation_id, ''), COALESCE(m.room_id, ''), m.sender_id, u.display_name, m.content, m.created_at
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.` + column + ` = $1
		ORDER BY m.created_at DESC
		LIMIT $2`

	rows, err := db.pool.Query(ctx, query, target.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.RoomID, &msg.Sender, &msg.SenderName, &msg.Content, &msg.Timestamp); err != nil {
			return nil, err
		}
		msg.DeliveryState = models.DeliverySent
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Membership Repository Implementation
func (db *PostgresDB) AddMembership(ctx context.Context, userID, roomID string) error {
	query := `
		INSERT INTO memberships (user_id, room_id) VALUES ($1, $2)
		ON CONFLICT (user_id, room_id) DO NOTHING`
	_, err := db.pool.Exec(ctx, query, userID, roomID)
	return err
}

func (db *PostgresDB) RemoveMembership(ctx context.Context, userID, roomID string) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM memberships WHERE user_id = $1 AND room_id = $2`, userID, roomID)
	return err
}

func (db *PostgresDB) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM memberships WHERE user_id = $1 AND room_id = $2)`

	var exists bool
	err := db.pool.QueryRow(ctx, query, userID, roomID).Scan(&exists)
	return exists, err
}
