// Package handlers exposes the REST and websocket endpoints of the chat server.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"chat-core/internal/auth"
	"chat-core/internal/database"
	"chat-core/internal/models"
	"chat-core/internal/services"
	ws "chat-core/internal/websocket"
	"chat-core/pkg/logger"
)

// Deps are the services the handlers call into.
type Deps struct {
	Auth           *auth.Service
	Users          *services.UserService
	Rooms          *services.RoomService
	Conversations  *services.ConversationService
	Hub            *ws.Hub
	AllowedOrigins []string
}

// NewRouter wires every endpoint onto a fresh mux.
func NewRouter(d Deps) http.Handler {
	authHandlers := NewAuthHandlers(d.Auth)
	roomHandlers := NewRoomHandlers(d.Rooms, d.Auth, d.Hub)
	convHandlers := NewConversationHandlers(d.Conversations, d.Users, d.Auth)
	wsHandlers := NewWebSocketHandlers(d.Auth, d.Hub, d.AllowedOrigins)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", authHandlers.Login)
	mux.HandleFunc("POST /register", authHandlers.Register)

	mux.HandleFunc("GET /users", convHandlers.ListUsers)
	mux.HandleFunc("GET /conversations", convHandlers.ListConversations)
	mux.HandleFunc("GET /conversations/{id}", convHandlers.GetConversation)
	mux.HandleFunc("GET /conversations/with/{userId}", convHandlers.OpenWith)

	mux.HandleFunc("GET /rooms", roomHandlers.ListRooms)
	mux.HandleFunc("POST /rooms", roomHandlers.CreateRoom)
	mux.HandleFunc("GET /rooms/{id}", roomHandlers.GetRoom)
	mux.HandleFunc("POST /rooms/{id}/join", roomHandlers.JoinRoom)
	mux.HandleFunc("DELETE /rooms/{id}/leave", roomHandlers.LeaveRoom)

	mux.HandleFunc("GET /ws", wsHandlers.HandleWebSocket)
	return corsMiddleware(d.AllowedOrigins, mux)
}

func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && originAllowed(allowed, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// originAllowed treats an empty list or "*" as allow-all.
func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// bearerToken reads the JWT from the Authorization header, falling back to
// the token query parameter used by websocket clients.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func authenticate(authService *auth.Service, r *http.Request) (models.Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return models.Identity{}, auth.ErrInvalidToken
	}
	return authService.Authenticate(r.Context(), token)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response: %v", err)
	}
}

// writeError maps domain errors onto status codes. Unknown errors are logged
// and reported as a bare 500.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, services.ErrForbidden), errors.Is(err, services.ErrNotMember):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, services.ErrUnknownTarget), errors.Is(err, database.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, services.ErrRoomName), errors.Is(err, services.ErrSelfChat):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Error("Request failed: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
