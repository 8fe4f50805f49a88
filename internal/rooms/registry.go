package rooms

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"dogfight/internal/events"
)

const DefaultWaitingTTL = 10 * time.Minute

type RegistryConfig struct {
	Rooms Options
	// WaitingTTL is how long a room may sit in the waiting state without
	// activity before Sweep expires it.
	WaitingTTL time.Duration
	Bus        *events.Bus
}

// Registry owns the live rooms and the participant-to-room index. It is the
// Observer of every room it creates.
type Registry struct {
	cfg RegistryConfig

	mu            sync.Mutex
	rooms         map[string]*Room
	byParticipant map[string]*Room
}

func NewRegistry(cfg RegistryConfig) *Registry {
	cfg.Rooms = cfg.Rooms.withDefaults()
	if cfg.WaitingTTL <= 0 {
		cfg.WaitingTTL = DefaultWaitingTTL
	}
	return &Registry{
		cfg:           cfg,
		rooms:         make(map[string]*Room),
		byParticipant: make(map[string]*Room),
	}
}

// CreateRoom registers an empty room. A capacity of zero uses the configured
// default.
func (g *Registry) CreateRoom(capacity int) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	opts := g.cfg.Rooms
	if capacity > 0 {
		opts.Capacity = capacity
	}
	for range createAttempts {
		code, err := GenerateCode()
		if err != nil {
			return nil, fmt.Errorf("generating room code: %w", err)
		}
		if _, exists := g.rooms[code]; exists {
			continue
		}
		room := NewRoom(code, opts, g)
		g.rooms[code] = room
		opts.Metrics.RoomCreated()
		log.Printf("[Registry] room %s created (capacity %d)\n", code, opts.Capacity)
		return room, nil
	}
	return nil, fmt.Errorf("failed to generate unique room code after %d attempts", createAttempts)
}

func (g *Registry) Get(roomID string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[roomID]
}

// Remove drops the room and every participant entry that points at it.
func (g *Registry) Remove(roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(roomID, nil)
}

// removeLocked only removes the room if it is still the one registered under
// roomID, or unconditionally when want is nil.
func (g *Registry) removeLocked(roomID string, want *Room) bool {
	room, ok := g.rooms[roomID]
	if !ok || (want != nil && room != want) {
		return false
	}
	delete(g.rooms, roomID)
	for pid, r := range g.byParticipant {
		if r == room {
			delete(g.byParticipant, pid)
		}
	}
	g.cfg.Rooms.Metrics.RoomRemoved()
	return true
}

// AddParticipant records the participant in both the room and the index as
// one step. Joining the same room again is a no-op.
func (g *Registry) AddParticipant(participantID string, room *Room) error {
	g.mu.Lock()
	if g.rooms[room.ID()] != room {
		g.mu.Unlock()
		return ErrRoomNotFound
	}
	if cur, ok := g.byParticipant[participantID]; ok {
		if cur == room {
			g.mu.Unlock()
			return nil
		}
		if _, live := g.rooms[cur.ID()]; live {
			g.mu.Unlock()
			return ErrAlreadyInRoom
		}
		delete(g.byParticipant, participantID)
	}
	if err := room.join(participantID); err != nil {
		g.mu.Unlock()
		return err
	}
	g.byParticipant[participantID] = room
	g.mu.Unlock()

	room.announceReady()
	return nil
}

// RemoveParticipant clears the index entry only; the room is not told.
func (g *Registry) RemoveParticipant(participantID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.byParticipant, participantID)
}

func (g *Registry) RoomOf(participantID string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.byParticipant[participantID]
}

// Leave removes the participant from whatever room they are in.
func (g *Registry) Leave(participantID string) error {
	room := g.RoomOf(participantID)
	if room == nil {
		return ErrNotParticipant
	}
	room.Leave(participantID)
	g.RemoveParticipant(participantID)
	return nil
}

// List returns the live rooms ordered by code.
func (g *Registry) List() []*Room {
	g.mu.Lock()
	list := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		list = append(list, r)
	}
	g.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}

func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Sweep expires waiting rooms that have been idle longer than the TTL and
// returns how many it expired.
func (g *Registry) Sweep(now time.Time) int {
	var stale []*Room
	for _, r := range g.List() {
		if r.Status() == Waiting && now.Sub(r.IdleSince()) > g.cfg.WaitingTTL {
			stale = append(stale, r)
		}
	}
	n := 0
	for _, r := range stale {
		if r.Expire() {
			n++
		}
	}
	if n > 0 {
		log.Printf("[Registry] expired %d idle rooms\n", n)
	}
	return n
}

// Run sweeps on every interval until ctx is done.
func (g *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep(g.cfg.Rooms.Clock.Now())
		}
	}
}

// Shutdown ends every live room with the given reason.
func (g *Registry) Shutdown(reason string) {
	for _, r := range g.List() {
		r.Shutdown(reason)
	}
}

func (g *Registry) ParticipantLeft(r *Room, participantID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.byParticipant[participantID] == r {
		delete(g.byParticipant, participantID)
	}
}

func (g *Registry) RoomEmptied(r *Room) {
	g.mu.Lock()
	removed := g.removeLocked(r.ID(), r)
	g.mu.Unlock()
	if removed {
		log.Printf("[Registry] room %s deleted as it has no participants\n", r.ID())
	}
}

func (g *Registry) RoomEnded(r *Room, res Result) {
	g.mu.Lock()
	g.removeLocked(r.ID(), r)
	g.mu.Unlock()

	if res.Replay == nil {
		return
	}
	ev := events.MatchEnded{
		SessionID:    res.SessionID,
		RoomID:       r.ID(),
		Participants: res.Replay.Participants,
		Ticks:        res.Replay.Len(),
		Reason:       res.Reason,
		StartedAt:    res.Replay.StartedAt,
		EndedAt:      res.Replay.EndedAt,
	}
	if !g.cfg.Bus.PublishMatchEnded(ev) && g.cfg.Bus != nil {
		log.Printf("[Registry] dropped match-ended event for %s\n", res.SessionID)
	}
}
