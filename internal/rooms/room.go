package rooms

import (
	"errors"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"dogfight/internal/clock"
	"dogfight/internal/input"
	"dogfight/internal/metrics"
	"dogfight/internal/protocol"
	"dogfight/internal/replays"
	"dogfight/internal/tickloop"
)

type Status int

const (
	Waiting Status = iota
	Started
	Ended
)

func (s Status) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Started:
		return "started"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// End reasons sent to clients in the end message.
const (
	ReasonParticipantLeft = "participant left"
	ReasonAllFinished     = "all participants finished"
	ReasonTimeLimit       = "time limit reached"
	ReasonInternalError   = "internal error"
	ReasonExpired         = "room expired"
	ReasonReplaced        = "connection replaced"
)

var (
	ErrRoomFull       = errors.New("room is full")
	ErrRoomNotFound   = errors.New("room not found")
	ErrAlreadyInRoom  = errors.New("participant already in another room")
	ErrNotParticipant = errors.New("not a participant of this room")
	ErrNotWaiting     = errors.New("room is no longer accepting participants")
	ErrRoomEnded      = errors.New("room has ended")
)

const (
	DefaultCapacity = 2
	DefaultTickRate = 60
)

// Conn is the room's handle on one participant's transport. Send must not
// block.
type Conn interface {
	Send(msg []byte) error
	Close()
}

// Observer hears about membership changes. It is always called after the
// room has released its lock, so it may call back into the room.
type Observer interface {
	ParticipantLeft(r *Room, participantID string)
	RoomEmptied(r *Room)
	RoomEnded(r *Room, res Result)
}

// Result describes how a room ended. Replay is nil if the match never started.
type Result struct {
	Reason    string
	SessionID string
	Replay    *replays.Replay
}

type Options struct {
	Capacity int
	TickRate int
	// MaxTicks ends the match once this many ticks were broadcast. Zero
	// disables the ceiling.
	MaxTicks int64
	Schema   input.Schema
	Clock    clock.Clock
	Replays  replays.Store
	Metrics  *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	if o.TickRate <= 0 {
		o.TickRate = DefaultTickRate
	}
	if len(o.Schema.Fields) == 0 {
		o.Schema = input.DefaultSchema()
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Replays == nil {
		o.Replays = replays.NewMemoryStore()
	}
	return o
}

// Room is one session for a fixed number of participants. Every field below
// mu is guarded by it; the tick loop, message handlers and disconnects all
// take it for their whole critical section.
type Room struct {
	id       string
	opts     Options
	observer Observer

	mu           sync.Mutex
	status       Status
	sessionID    string
	order        []string
	ready        map[string]bool
	conns        map[string]Conn
	seats        map[string]int
	alive        []bool
	latest       []input.State
	tick         int64
	loop         *tickloop.Loop
	recorder     *replays.Recorder
	lastActivity time.Time
	endReason    string
}

// NewRoom builds a standalone room. Rooms created through a Registry report
// back to it; obs may be nil.
func NewRoom(id string, opts Options, obs Observer) *Room {
	opts = opts.withDefaults()
	return &Room{
		id:           id,
		opts:         opts,
		observer:     obs,
		ready:        make(map[string]bool),
		conns:        make(map[string]Conn),
		seats:        make(map[string]int),
		lastActivity: opts.Clock.Now(),
	}
}

// outcome collects the notifications produced under the lock.
type outcome struct {
	left    []string
	emptied bool
	ended   *Result
}

func (r *Room) finish(o outcome) {
	if r.observer == nil {
		return
	}
	for _, pid := range o.left {
		r.observer.ParticipantLeft(r, pid)
	}
	if o.ended != nil {
		r.observer.RoomEnded(r, *o.ended)
	} else if o.emptied {
		r.observer.RoomEmptied(r)
	}
}

func (r *Room) ID() string { return r.id }

func (r *Room) Capacity() int { return r.opts.Capacity }

func (r *Room) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SessionID stays empty until the room has ended so an in-progress match
// cannot be looked up as a replay.
func (r *Room) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != Ended {
		return ""
	}
	return r.sessionID
}

func (r *Room) Tick() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tick
}

func (r *Room) EndReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endReason
}

// Participants returns ids in join order, which is also seat order once the
// match has started.
func (r *Room) Participants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *Room) Seat(participantID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seat, ok := r.seats[participantID]
	return seat, ok
}

func (r *Room) IdleSince() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

type Info struct {
	RoomID         string                `json:"roomId"`
	ConnectedCount int                   `json:"connectedCount"`
	Capacity       int                   `json:"capacity"`
	Status         string                `json:"status"`
	Participants   int                   `json:"participants"`
	Ready          []protocol.ReadyEntry `json:"ready,omitempty"`
	Tick           int64                 `json:"tick,omitempty"`
}

// Info is the lobby's status view. The ready map is only included while the
// room is waiting.
func (r *Room) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := Info{
		RoomID:         r.id,
		ConnectedCount: len(r.conns),
		Capacity:       r.opts.Capacity,
		Status:         r.status.String(),
		Participants:   len(r.order),
		Tick:           r.tick,
	}
	if r.status == Waiting {
		info.Ready = r.readyEntriesLocked()
	}
	return info
}

// join reserves a place without notifying anyone; the registry calls it
// while holding its own lock and announces afterwards.
func (r *Room) join(participantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != Waiting {
		return ErrNotWaiting
	}
	if _, ok := r.ready[participantID]; ok {
		return nil
	}
	if len(r.order) >= r.opts.Capacity {
		return ErrRoomFull
	}
	r.order = append(r.order, participantID)
	r.ready[participantID] = false
	r.lastActivity = r.opts.Clock.Now()
	return nil
}

// Join adds a participant to a standalone room.
func (r *Room) Join(participantID string) error {
	if err := r.join(participantID); err != nil {
		return err
	}
	r.announceReady()
	return nil
}

func (r *Room) announceReady() {
	r.mu.Lock()
	var o outcome
	if r.status == Waiting {
		r.broadcastReadyLocked(&o)
	}
	r.mu.Unlock()
	r.finish(o)
}

// Leave is the explicit departure requested through the lobby.
func (r *Room) Leave(participantID string) {
	r.mu.Lock()
	var o outcome
	r.departLocked(participantID, &o)
	r.mu.Unlock()
	r.finish(o)
}

// Connect attaches conn to a participant. A second connection replaces the
// first, which is told why and closed.
func (r *Room) Connect(participantID string, conn Conn) error {
	r.mu.Lock()
	var o outcome
	err := r.connectLocked(participantID, conn, &o)
	r.mu.Unlock()
	r.finish(o)
	return err
}

func (r *Room) connectLocked(pid string, conn Conn, o *outcome) error {
	switch r.status {
	case Ended:
		return ErrRoomEnded
	case Waiting:
		if _, ok := r.ready[pid]; !ok {
			return ErrNotParticipant
		}
	case Started:
		if _, ok := r.seats[pid]; !ok {
			return ErrNotParticipant
		}
	}

	if old := r.conns[pid]; old != nil && old != conn {
		notify(old, protocol.End{Reason: ReasonReplaced})
		old.Close()
		log.Printf("[Room %s] connection for %s replaced\n", r.id, pid)
	}
	r.conns[pid] = conn

	switch r.status {
	case Waiting:
		r.lastActivity = r.opts.Clock.Now()
		r.broadcastReadyLocked(o)
	case Started:
		data, err := protocol.Encode(protocol.Start{Seat: r.seats[pid], SessionDisplayID: r.id})
		if err == nil && conn.Send(data) != nil {
			r.departLocked(pid, o)
		}
	}
	return nil
}

// Disconnect is the transport-side departure. It is ignored when conn is no
// longer the participant's current connection.
func (r *Room) Disconnect(participantID string, conn Conn) {
	r.mu.Lock()
	var o outcome
	if cur, ok := r.conns[participantID]; ok && cur == conn {
		r.departLocked(participantID, &o)
	}
	r.mu.Unlock()
	r.finish(o)
}

// departLocked is the single exit path for a participant, whether they left
// through the lobby, dropped their connection or failed a send.
func (r *Room) departLocked(pid string, o *outcome) {
	switch r.status {
	case Waiting:
		if _, ok := r.ready[pid]; !ok {
			return
		}
		r.closeConnLocked(pid, ReasonParticipantLeft)
		delete(r.ready, pid)
		r.order = removeID(r.order, pid)
		r.lastActivity = r.opts.Clock.Now()
		o.left = append(o.left, pid)
		log.Printf("[Room %s] %s left while waiting\n", r.id, pid)
		if len(r.order) == 0 {
			o.emptied = true
			return
		}
		r.broadcastReadyLocked(o)
	case Started:
		seat, ok := r.seats[pid]
		if !ok {
			return
		}
		if r.alive[seat] {
			log.Printf("[Room %s] %s left during the match\n", r.id, pid)
			r.endLocked(ReasonParticipantLeft, o)
			return
		}
		r.closeConnLocked(pid, ReasonParticipantLeft)
		o.left = append(o.left, pid)
	}
}

func (r *Room) closeConnLocked(pid, reason string) {
	conn, ok := r.conns[pid]
	if !ok {
		return
	}
	delete(r.conns, pid)
	notify(conn, protocol.End{Reason: reason})
	conn.Close()
}

// notify is a best-effort send used on paths that are already closing.
func notify(conn Conn, msg any) {
	data, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	conn.Send(data)
}

// Handle applies one decoded participant message.
func (r *Room) Handle(participantID string, msg protocol.ClientMessage) {
	r.mu.Lock()
	var o outcome
	switch m := msg.(type) {
	case protocol.ReadyMessage:
		r.setReadyLocked(participantID, m.Ready, &o)
	case protocol.InputMessage:
		r.setInputLocked(participantID, m.Input)
	case protocol.EndMessage:
		r.finishSeatLocked(participantID, &o)
	}
	r.mu.Unlock()
	r.finish(o)
}

func (r *Room) setReadyLocked(pid string, ready bool, o *outcome) {
	if r.status != Waiting {
		return
	}
	prev, ok := r.ready[pid]
	if !ok {
		return
	}
	if prev != ready {
		r.ready[pid] = ready
		r.lastActivity = r.opts.Clock.Now()
		r.broadcastReadyLocked(o)
	}
	if r.status == Waiting && r.allReadyLocked() {
		r.startLocked(o)
	}
}

func (r *Room) allReadyLocked() bool {
	if len(r.order) != r.opts.Capacity {
		return false
	}
	for _, pid := range r.order {
		if !r.ready[pid] {
			return false
		}
	}
	return true
}

// setInputLocked replaces the seat's latest vector. Edge fields already
// pressed since the last tick stay pressed so a quick press and release is
// not lost between two snapshots.
func (r *Room) setInputLocked(pid string, st input.State) {
	if r.status != Started {
		return
	}
	seat, ok := r.seats[pid]
	if !ok || !r.alive[seat] {
		return
	}
	next := r.opts.Schema.Neutral()
	for k, v := range st {
		if r.opts.Schema.Has(k) {
			next[k] = v
		}
	}
	prev := r.latest[seat]
	for _, f := range r.opts.Schema.Fields {
		if f.Trigger == input.Edge && prev[f.Name] {
			next[f.Name] = true
		}
	}
	r.latest[seat] = next
}

func (r *Room) finishSeatLocked(pid string, o *outcome) {
	if r.status != Started {
		return
	}
	seat, ok := r.seats[pid]
	if !ok || !r.alive[seat] {
		return
	}
	r.alive[seat] = false
	log.Printf("[Room %s] seat %d finished\n", r.id, seat)
	if !r.anyAliveLocked() {
		r.endLocked(ReasonAllFinished, o)
	}
}

func (r *Room) anyAliveLocked() bool {
	for _, a := range r.alive {
		if a {
			return true
		}
	}
	return false
}

func (r *Room) startLocked(o *outcome) {
	now := r.opts.Clock.Now()
	r.status = Started
	r.sessionID = uuid.NewString()
	r.alive = make([]bool, len(r.order))
	r.latest = make([]input.State, len(r.order))
	for seat, pid := range r.order {
		r.seats[pid] = seat
		r.alive[seat] = true
		r.latest[seat] = r.opts.Schema.Neutral()
	}
	r.tick = 0
	r.recorder = replays.NewRecorder(r.sessionID, r.id, r.order, r.opts.TickRate, now)
	log.Printf("[Room %s] match started with %d participants\n", r.id, len(r.order))

	var failed []string
	for seat, pid := range r.order {
		conn, ok := r.conns[pid]
		if !ok {
			continue
		}
		data, err := protocol.Encode(protocol.Start{Seat: seat, SessionDisplayID: r.id})
		if err != nil || conn.Send(data) != nil {
			failed = append(failed, pid)
		}
	}
	for _, pid := range failed {
		r.departLocked(pid, o)
	}
	if r.status != Started {
		return
	}
	r.loop = tickloop.Start(r.opts.Clock, r.opts.TickRate, r.onTick)
}

func (r *Room) onTick(int64) bool {
	r.mu.Lock()
	var o outcome
	cont := r.stepLocked(&o)
	r.mu.Unlock()
	r.finish(o)
	return cont
}

// stepLocked runs one tick: snapshot, record, broadcast, clear edges, then
// check the end conditions. A panic ends only this room.
func (r *Room) stepLocked(o *outcome) (cont bool) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[Room %s] tick %d panicked: %v\n%s", r.id, r.tick, p, debug.Stack())
			r.endLocked(ReasonInternalError, o)
			cont = false
		}
	}()

	if r.status != Started {
		return false
	}
	r.tick++

	snapshot := make(replays.Tick, len(r.latest))
	for i, st := range r.latest {
		snapshot[i] = st.Clone()
	}
	if err := r.recorder.Append(snapshot); err != nil {
		log.Printf("[Room %s] recording tick %d: %v\n", r.id, r.tick, err)
		r.endLocked(ReasonInternalError, o)
		return false
	}
	data, err := protocol.EncodeTick(r.opts.Schema, protocol.Tick{Tick: r.tick, Input: snapshot})
	if err != nil {
		log.Printf("[Room %s] encoding tick %d: %v\n", r.id, r.tick, err)
		r.endLocked(ReasonInternalError, o)
		return false
	}

	var failed []string
	for seat, pid := range r.order {
		conn, ok := r.conns[pid]
		if !ok {
			if r.alive[seat] {
				log.Printf("[Room %s] tick %d: no connection for alive seat %d (%s)\n", r.id, r.tick, seat, pid)
				r.endLocked(ReasonInternalError, o)
				return false
			}
			continue
		}
		if err := conn.Send(data); err != nil {
			failed = append(failed, pid)
		}
	}
	r.opts.Metrics.TickBroadcast()
	for _, pid := range failed {
		r.departLocked(pid, o)
	}
	if r.status != Started {
		return false
	}

	for _, st := range r.latest {
		r.opts.Schema.ClearEdges(st)
	}

	if r.opts.MaxTicks > 0 && r.tick >= r.opts.MaxTicks {
		r.endLocked(ReasonTimeLimit, o)
		return false
	}
	if !r.anyAliveLocked() {
		r.endLocked(ReasonAllFinished, o)
		return false
	}
	return true
}

// Expire ends a room that is still waiting. It reports whether it did.
func (r *Room) Expire() bool {
	r.mu.Lock()
	var o outcome
	expired := false
	if r.status == Waiting {
		r.endLocked(ReasonExpired, &o)
		expired = true
	}
	r.mu.Unlock()
	r.finish(o)
	return expired
}

// Shutdown ends the room regardless of its state.
func (r *Room) Shutdown(reason string) {
	r.mu.Lock()
	var o outcome
	r.endLocked(reason, &o)
	r.mu.Unlock()
	r.finish(o)
}

func (r *Room) endLocked(reason string, o *outcome) {
	if r.status == Ended {
		return
	}
	prev := r.status
	r.status = Ended
	r.endReason = reason
	r.loop.Stop()

	res := Result{Reason: reason}
	if prev == Started {
		replay := r.recorder.Seal(r.opts.Clock.Now(), reason)
		if err := r.opts.Replays.Add(replay); err != nil {
			log.Printf("[Room %s] storing replay: %v\n", r.id, err)
		} else {
			r.opts.Metrics.ReplayStored()
		}
		res.SessionID = r.sessionID
		res.Replay = replay
	}

	msg := protocol.End{Reason: reason, SessionID: res.SessionID}
	for _, pid := range r.order {
		if conn, ok := r.conns[pid]; ok {
			notify(conn, msg)
			conn.Close()
		}
	}
	r.conns = make(map[string]Conn)
	if prev == Started {
		r.opts.Metrics.MatchEnded(reason)
	}
	log.Printf("[Room %s] ended after %d ticks: %s\n", r.id, r.tick, reason)
	o.ended = &res
}

func (r *Room) readyEntriesLocked() []protocol.ReadyEntry {
	entries := make([]protocol.ReadyEntry, 0, len(r.order))
	for _, pid := range r.order {
		entries = append(entries, protocol.ReadyEntry{ParticipantID: pid, Ready: r.ready[pid]})
	}
	return entries
}

func (r *Room) broadcastReadyLocked(o *outcome) {
	data, err := protocol.Encode(protocol.ReadyStatus{ReadyStatus: r.readyEntriesLocked()})
	if err != nil {
		log.Printf("[Room %s] encoding ready status: %v\n", r.id, err)
		return
	}
	var failed []string
	for _, pid := range r.order {
		conn, ok := r.conns[pid]
		if !ok {
			continue
		}
		if err := conn.Send(data); err != nil {
			failed = append(failed, pid)
		}
	}
	for _, pid := range failed {
		r.departLocked(pid, o)
	}
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
