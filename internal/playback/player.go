// Package playback streams a stored replay to a spectator at the rate it
// was recorded.
package playback

import (
	"log"
	"sync"

	"dogfight/internal/clock"
	"dogfight/internal/input"
	"dogfight/internal/protocol"
	"dogfight/internal/replays"
	"dogfight/internal/tickloop"
)

const ReasonFinished = "replay finished"

type Conn interface {
	Send(msg []byte) error
	Close()
}

// Options.TickRate is the fallback for replays that carry no rate of their
// own.
type Options struct {
	TickRate int
	Schema   input.Schema
	Clock    clock.Clock
}

// Player is read-only: it never touches a live room.
type Player struct {
	replay *replays.Replay
	conn   Conn
	opts   Options

	mu      sync.Mutex
	loop    *tickloop.Loop
	started bool
	stopped bool
	done    chan struct{}
}

func New(rp *replays.Replay, conn Conn, opts Options) *Player {
	if rp.TickRate > 0 {
		opts.TickRate = rp.TickRate
	}
	if opts.TickRate <= 0 {
		opts.TickRate = 60
	}
	if len(opts.Schema.Fields) == 0 {
		opts.Schema = input.DefaultSchema()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Player{
		replay: rp,
		conn:   conn,
		opts:   opts,
		done:   make(chan struct{}),
	}
}

// Start begins playback. Only the first call has an effect.
func (p *Player) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return false
	}
	p.started = true
	log.Printf("[Replay] playing %s (%d ticks)\n", p.replay.SessionID, p.replay.Len())
	p.loop = tickloop.Start(p.opts.Clock, p.opts.TickRate, p.step)
	return true
}

func (p *Player) step(tick int64) bool {
	ticks, ok := p.replay.At(tick)
	if !ok {
		p.finish(true)
		return false
	}
	data, err := protocol.EncodeTick(p.opts.Schema, protocol.Tick{Tick: tick, Input: ticks})
	if err != nil {
		log.Printf("[Replay] encoding tick %d of %s: %v\n", tick, p.replay.SessionID, err)
		p.finish(false)
		return false
	}
	if err := p.conn.Send(data); err != nil {
		p.finish(false)
		return false
	}
	return true
}

// Stop cancels playback and closes the connection without an end notice.
func (p *Player) Stop() {
	p.finish(false)
}

func (p *Player) finish(notify bool) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	loop := p.loop
	p.mu.Unlock()

	loop.Stop()
	if notify {
		if data, err := protocol.Encode(protocol.End{Reason: ReasonFinished}); err == nil {
			p.conn.Send(data)
		}
	}
	p.conn.Close()
	close(p.done)
}

// Done is closed once playback finished or was stopped.
func (p *Player) Done() <-chan struct{} {
	return p.done
}
