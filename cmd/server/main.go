package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-core/internal/auth"
	"chat-core/internal/config"
	"chat-core/internal/database"
	"chat-core/internal/handlers"
	"chat-core/internal/services"
	"chat-core/internal/websocket"
	"chat-core/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.LoadServer()
	if err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open database: %v", err)
	}
	defer db.Close()

	// Initialize services
	authService := auth.NewService(db, cfg)
	roomService := services.NewRoomService(db)
	conversationService := services.NewConversationService(db)
	messageService := services.NewMessageService(db, roomService, conversationService)

	hub := websocket.NewHub(websocket.Services{
		Messages:      messageService,
		Conversations: conversationService,
		Rooms:         roomService,
	})
	go hub.Run()

	server := &http.Server{
		Addr: cfg.Server.Port,
		Handler: handlers.NewRouter(handlers.Deps{
			Auth:           authService,
			Users:          services.NewUserService(db),
			Rooms:          roomService,
			Conversations:  conversationService,
			Hub:            hub,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Error("Server error: %v", err)
	case <-ctx.Done():
	}

	logger.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hub.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
	}
}

// openDatabase connects to Postgres and migrates it, or falls back to the
// in-memory store when no URL is configured.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (database.Database, error) {
	if cfg.URL == "" {
		logger.Warn("DATABASE_URL not set, keeping data in memory")
		return database.NewMemoryDB(), nil
	}
	db, err := database.NewPostgresDB(ctx, cfg.URL, cfg.MaxConns)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
