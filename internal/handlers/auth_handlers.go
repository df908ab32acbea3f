package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"chat-core/internal/auth"
	"chat-core/internal/database"
	"chat-core/internal/models"
	"chat-core/pkg/logger"
)

type AuthHandlers struct {
	authService *auth.Service
}

func NewAuthHandlers(authService *auth.Service) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	response, err := h.authService.Register(r.Context(), &req)
	switch {
	case errors.Is(err, database.ErrDuplicateEmail):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		logger.Error("Registration error: %v", err)
		http.Error(w, registrationMessage(err), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, response)
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	response, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		logger.Error("Login error: %v", err)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// registrationMessage keeps validation errors readable and hides the rest.
func registrationMessage(err error) string {
	for _, known := range []error{
		auth.ErrMissingFields, auth.ErrInvalidEmail, auth.ErrWeakPassword,
		auth.ErrInvalidName, auth.ErrInvalidRole,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "registration failed"
}
