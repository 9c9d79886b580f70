package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/cwrk-planet/signal-service/internal/domain"
	"github.com/cwrk-planet/signal-service/internal/service"

	"github.com/go-chi/chi/v5"
)

type Directory interface {
	NewRoomID() string
	ListRooms(limit int, cursor string) ([]domain.RoomSummary, string, error)
	Roster(roomID string) ([]domain.Participant, error)
}

type Handler struct {
	dir Directory
}

func NewHandler(dir Directory) *Handler {
	return &Handler{dir: dir}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// POST /rooms
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	id := h.dir.NewRoomID()
	L(r.Context()).Debug("room id issued", "room", id)
	writeJSON(w, http.StatusCreated, CreateRoomResponse{RoomID: id})
}

// GET /rooms?limit=&cursor=
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}

	rooms, next, err := h.dir.ListRooms(limit, r.URL.Query().Get("cursor"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidCursor) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_cursor"})
			return
		}
		L(r.Context()).Error("list rooms", "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	resp := RoomsListResponse{Items: make([]RoomItem, 0, len(rooms)), NextCursor: next}
	for _, rm := range rooms {
		resp.Items = append(resp.Items, RoomItem{ID: rm.ID, Participants: rm.Participants})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /rooms/{id}/participants
func (h *Handler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	parts, err := h.dir.Roster(roomID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRoom) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
			return
		}
		L(r.Context()).Error("roster", "room", roomID, "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	resp := ParticipantsResponse{RoomID: roomID, Items: make([]ParticipantItem, 0, len(parts))}
	for _, p := range parts {
		resp.Items = append(resp.Items, ParticipantItem{
			ConnectionID: p.ConnectionID,
			DisplayName:  p.DisplayName,
			MicEnabled:   p.MicEnabled,
			VideoEnabled: p.VideoEnabled,
			JoinedAt:     p.JoinedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
