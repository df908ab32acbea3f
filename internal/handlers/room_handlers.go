package handlers

import (
	"encoding/json"
	"net/http"

	"chat-core/internal/auth"
	"chat-core/internal/models"
	"chat-core/internal/services"
	ws "chat-core/internal/websocket"
)

type RoomHandlers struct {
	roomService *services.RoomService
	authService *auth.Service
	hub         *ws.Hub
}

func NewRoomHandlers(roomService *services.RoomService, authService *auth.Service, hub *ws.Hub) *RoomHandlers {
	return &RoomHandlers{
		roomService: roomService,
		authService: authService,
		hub:         hub,
	}
}

func (h *RoomHandlers) CreateRoom(w http.ResponseWriter, r *http.Request) {
	user, err := authenticate(h.authService, r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req models.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	room, err := h.roomService.CreateRoom(r.Context(), &req, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, room)
}

func (h *RoomHandlers) ListRooms(w http.ResponseWriter, r *http.Request) {
	if _, err := authenticate(h.authService, r); err != nil {
		writeError(w, err)
		return
	}

	rooms, err := h.roomService.ListRooms(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if rooms == nil {
		rooms = []*models.Room{}
	}

	writeJSON(w, http.StatusOK, rooms)
}

func (h *RoomHandlers) GetRoom(w http.ResponseWriter, r *http.Request) {
	if _, err := authenticate(h.authService, r); err != nil {
		writeError(w, err)
		return
	}

	room, err := h.roomService.GetRoom(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, room)
}

func (h *RoomHandlers) JoinRoom(w http.ResponseWriter, r *http.Request) {
	user, err := authenticate(h.authService, r)
	if err != nil {
		writeError(w, err)
		return
	}

	room, err := h.roomService.JoinRoom(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	h.hub.NotifyRoom(r.Context(), room.ID)

	writeJSON(w, http.StatusOK, room)
}

func (h *RoomHandlers) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	user, err := authenticate(h.authService, r)
	if err != nil {
		writeError(w, err)
		return
	}

	room, err := h.roomService.LeaveRoom(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	h.hub.NotifyRoom(r.Context(), room.ID, user.ID)

	w.WriteHeader(http.StatusNoContent)
}
