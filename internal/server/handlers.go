package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"

	"github.com/google/uuid"

	"dogfight/internal/broadcast"
	"dogfight/internal/db"
	"dogfight/internal/metrics"
	"dogfight/internal/replays"
	"dogfight/internal/rooms"
)

const participantCookie = "participant_id"

type Server struct {
	Registry *rooms.Registry
	Replays  *replays.MemoryStore
	Gateway  http.Handler
	Metrics  *metrics.Metrics
	DB       *db.DB // nil if no database configured
	Feed     *broadcast.Broadcaster
}

// Lobby feed event names.
const (
	eventRoomCreated = "roomCreated"
	eventMatchEnded  = "matchEnded"
)

type lobbyRequest struct {
	ParticipantID string `json:"participantId"`
	Capacity      int    `json:"capacity"`
}

type lobbyResponse struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
}

// decodeLobby accepts an empty body; lobby fields are all optional.
func decodeLobby(r *http.Request) (lobbyRequest, error) {
	var req lobbyRequest
	if r.Body == nil {
		return req, nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	return req, nil
}

// participantID prefers the body, then the cookie, and otherwise issues a
// fresh id.
func participantID(r *http.Request, req lobbyRequest) string {
	if req.ParticipantID != "" {
		return req.ParticipantID
	}
	if c, err := r.Cookie(participantCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return uuid.NewString()
}

func setParticipantCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     participantCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Lobby] writing response: %v\n", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound), errors.Is(err, rooms.ErrNotParticipant),
		errors.Is(err, replays.ErrNotFound), errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rooms.ErrRoomFull), errors.Is(err, rooms.ErrAlreadyInRoom),
		errors.Is(err, rooms.ErrNotWaiting), errors.Is(err, rooms.ErrRoomEnded):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) roomFromPath(r *http.Request) (*rooms.Room, error) {
	code, ok := rooms.NormalizeCode(r.PathValue("id"))
	if !ok {
		return nil, rooms.ErrRoomNotFound
	}
	room := s.Registry.Get(code)
	if room == nil {
		return nil, rooms.ErrRoomNotFound
	}
	return room, nil
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLobby(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Capacity < 0 {
		writeError(w, errors.New("capacity must not be negative"))
		return
	}
	pid := participantID(r, req)
	if s.Registry.RoomOf(pid) != nil {
		writeError(w, rooms.ErrAlreadyInRoom)
		return
	}

	room, err := s.Registry.CreateRoom(req.Capacity)
	if err != nil {
		log.Printf("[Lobby] create room: %v\n", err)
		http.Error(w, "Failed to create room", http.StatusInternalServerError)
		return
	}
	if err := s.Registry.AddParticipant(pid, room); err != nil {
		s.Registry.Remove(room.ID())
		writeError(w, err)
		return
	}

	setParticipantCookie(w, pid)
	log.Printf("[Lobby] %s created room %s\n", pid, room.ID())
	if err := s.Feed.Publish(eventRoomCreated, room.Info()); err != nil {
		log.Printf("[Lobby] %v\n", err)
	}
	writeJSON(w, http.StatusCreated, lobbyResponse{RoomID: room.ID(), ParticipantID: pid})
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLobby(r)
	if err != nil {
		writeError(w, err)
		return
	}
	room, err := s.roomFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pid := participantID(r, req)
	if err := s.Registry.AddParticipant(pid, room); err != nil {
		writeError(w, err)
		return
	}

	setParticipantCookie(w, pid)
	log.Printf("[Lobby] %s joined room %s\n", pid, room.ID())
	writeJSON(w, http.StatusOK, lobbyResponse{RoomID: room.ID(), ParticipantID: pid})
}

func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLobby(r)
	if err != nil {
		writeError(w, err)
		return
	}
	room, err := s.roomFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pid := req.ParticipantID
	if pid == "" {
		if c, err := r.Cookie(participantCookie); err == nil {
			pid = c.Value
		}
	}
	if pid == "" {
		writeError(w, errors.New("participantId is required"))
		return
	}
	if s.Registry.RoomOf(pid) != room {
		writeError(w, rooms.ErrNotParticipant)
		return
	}

	room.Leave(pid)
	s.Registry.RemoveParticipant(pid)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	list := s.Registry.List()
	infos := make([]rooms.Info, 0, len(list))
	for _, room := range list {
		infos = append(infos, room.Info())
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.roomFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room.Info())
}

func (s *Server) handleListReplays(w http.ResponseWriter, r *http.Request) {
	list := s.Replays.List()
	infos := make([]replays.Info, 0, len(list))
	for _, rp := range list {
		infos = append(infos, rp.Info())
	}
	sort.SliceStable(infos, func(i, j int) bool { return infos[i].EndedAt.After(infos[j].EndedAt) })
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetReplay(w http.ResponseWriter, r *http.Request) {
	rp, ok := s.Replays.Get(r.PathValue("sessionId"))
	if !ok {
		writeError(w, replays.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rp.Info())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.DB != nil {
		if err := s.DB.Ping(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db_error", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "rooms": s.Registry.Len()})
}

// handleEvents streams lobby events as server-sent events until the client
// goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.Feed == nil {
		http.Error(w, "Event feed disabled", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	msgChan := s.Feed.Subscribe()
	defer s.Feed.Unsubscribe(msgChan)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data)
			flusher.Flush()
		}
	}
}
