package handlers

import (
	"net/http"

	"chat-core/internal/auth"
	"chat-core/internal/models"
	"chat-core/internal/services"
)

type ConversationHandlers struct {
	conversations *services.ConversationService
	users         *services.UserService
	authService   *auth.Service
}

func NewConversationHandlers(conversations *services.ConversationService, users *services.UserService, authService *auth.Service) *ConversationHandlers {
	return &ConversationHandlers{
		conversations: conversations,
		users:         users,
		authService:   authService,
	}
}

func (h *ConversationHandlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	if _, err := authenticate(h.authService, r); err != nil {
		writeError(w, err)
		return
	}

	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if users == nil {
		users = []models.Identity{}
	}

	writeJSON(w, http.StatusOK, users)
}

func (h *ConversationHandlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	user, err := authenticate(h.authService, r)
	if err != nil {
		writeError(w, err)
		return
	}

	convs, err := h.conversations.ListForUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if convs == nil {
		convs = []*models.Conversation{}
	}

	writeJSON(w, http.StatusOK, convs)
}

func (h *ConversationHandlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	user, err := authenticate(h.authService, r)
	if err != nil {
		writeError(w, err)
		return
	}

	conv, err := h.conversations.Get(r.Context(), r.PathValue("id"), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// OpenWith returns the conversation with the given peer, creating it on first use.
func (h *ConversationHandlers) OpenWith(w http.ResponseWriter, r *http.Request) {
	user, err := authenticate(h.authService, r)
	if err != nil {
		writeError(w, err)
		return
	}

	conv, err := h.conversations.OpenWith(r.Context(), user.ID, r.PathValue("userId"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}
