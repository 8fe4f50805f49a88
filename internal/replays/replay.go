// Package replays records the tick history of a match and keeps sealed
// replays available for playback.
package replays

import (
	"errors"
	"sync"
	"time"

	"dogfight/internal/input"
)

var (
	ErrSealed   = errors.New("replay is sealed")
	ErrExists   = errors.New("replay already stored")
	ErrNotFound = errors.New("replay not found")
)

// Tick is one seat-ordered snapshot as it was broadcast.
type Tick []input.State

// Replay is immutable once sealed. Readers must not modify returned ticks.
type Replay struct {
	SessionID    string
	RoomID       string
	Participants []string
	TickRate     int
	StartedAt    time.Time
	EndedAt      time.Time
	EndReason    string

	ticks []Tick
}

func (r *Replay) Len() int {
	return len(r.ticks)
}

// At returns the snapshot broadcast at 1-based tick n.
func (r *Replay) At(n int64) (Tick, bool) {
	if n < 1 || n > int64(len(r.ticks)) {
		return nil, false
	}
	return r.ticks[n-1], true
}

type Info struct {
	SessionID    string    `json:"sessionId"`
	RoomID       string    `json:"roomId"`
	Participants []string  `json:"participants"`
	Ticks        int       `json:"ticks"`
	TickRate     int       `json:"tickRate"`
	EndReason    string    `json:"endReason"`
	StartedAt    time.Time `json:"startedAt"`
	EndedAt      time.Time `json:"endedAt"`
}

func (r *Replay) Info() Info {
	return Info{
		SessionID:    r.SessionID,
		RoomID:       r.RoomID,
		Participants: append([]string(nil), r.Participants...),
		Ticks:        len(r.ticks),
		TickRate:     r.TickRate,
		EndReason:    r.EndReason,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
	}
}

// Recorder is the write side of a replay while its match is running. It is
// owned by a single room and is not safe for concurrent use.
type Recorder struct {
	replay *Replay
	sealed bool
}

// NewRecorder starts a replay of a match broadcast at tickRate ticks per second.
func NewRecorder(sessionID, roomID string, participants []string, tickRate int, startedAt time.Time) *Recorder {
	return &Recorder{replay: &Replay{
		SessionID:    sessionID,
		RoomID:       roomID,
		Participants: append([]string(nil), participants...),
		TickRate:     tickRate,
		StartedAt:    startedAt,
	}}
}

// Append copies the snapshot so later changes to live input cannot leak in.
func (rec *Recorder) Append(snapshot Tick) error {
	if rec.sealed {
		return ErrSealed
	}
	t := make(Tick, len(snapshot))
	for i, st := range snapshot {
		t[i] = st.Clone()
	}
	rec.replay.ticks = append(rec.replay.ticks, t)
	return nil
}

func (rec *Recorder) Len() int {
	return len(rec.replay.ticks)
}

// Seal finalizes the replay. Later calls return the same replay.
func (rec *Recorder) Seal(endedAt time.Time, reason string) *Replay {
	if !rec.sealed {
		rec.sealed = true
		rec.replay.EndedAt = endedAt
		rec.replay.EndReason = reason
	}
	return rec.replay
}

// Store is the keyed replay repository rooms hand sealed replays to.
type Store interface {
	Add(r *Replay) error
	Get(sessionID string) (*Replay, bool)
}

type MemoryStore struct {
	mu      sync.RWMutex
	replays map[string]*Replay
	order   []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		replays: make(map[string]*Replay),
	}
}

func (s *MemoryStore) Add(r *Replay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.replays[r.SessionID]; exists {
		return ErrExists
	}
	s.replays[r.SessionID] = r
	s.order = append(s.order, r.SessionID)
	return nil
}

func (s *MemoryStore) Get(sessionID string) (*Replay, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.replays[sessionID]
	return r, ok
}

// List returns replays in the order they were stored.
func (s *MemoryStore) List() []*Replay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*Replay, 0, len(s.order))
	for _, id := range s.order {
		list = append(list, s.replays[id])
	}
	return list
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.replays)
}
