// Package gateway accepts websocket connections, reads the handshake and
// routes each connection to its live room or to a replay player.
package gateway

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"dogfight/internal/clock"
	"dogfight/internal/input"
	"dogfight/internal/metrics"
	"dogfight/internal/playback"
	"dogfight/internal/protocol"
	"dogfight/internal/replays"
	"dogfight/internal/rooms"
	"dogfight/internal/wshub"
)

const readLimit = 64 << 10

type Config struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	SendBuffer       int
	TickRate         int
	Schema           input.Schema
	Clock            clock.Clock
	// OriginPatterns restricts cross-origin upgrades. Empty accepts any origin.
	OriginPatterns []string
}

type Gateway struct {
	cfg      Config
	registry *rooms.Registry
	replays  replays.Store
	hub      *wshub.Hub
	metrics  *metrics.Metrics
}

func New(cfg Config, registry *rooms.Registry, store replays.Store, hub *wshub.Hub, m *metrics.Metrics) *Gateway {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if len(cfg.Schema.Fields) == 0 {
		cfg.Schema = input.DefaultSchema()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if hub == nil {
		hub = wshub.NewHub()
	}
	return &Gateway{
		cfg:      cfg,
		registry: registry,
		replays:  store,
		hub:      hub,
		metrics:  m,
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.cfg.OriginPatterns,
		InsecureSkipVerify: len(g.cfg.OriginPatterns) == 0,
	})
	if err != nil {
		log.Printf("[Gateway] accept failed: %v\n", err)
		return
	}
	conn.SetReadLimit(readLimit)
	ctx := r.Context()

	hs, err := g.handshake(ctx, conn)
	if err != nil {
		log.Printf("[Gateway] handshake from %s rejected: %v\n", r.RemoteAddr, err)
		conn.Close(websocket.StatusPolicyViolation, "invalid handshake")
		return
	}

	if hs.Spectator() {
		g.spectate(ctx, conn, hs.SessionID)
		return
	}
	g.participate(ctx, conn, hs.ParticipantID)
}

func (g *Gateway) handshake(ctx context.Context, conn *websocket.Conn) (protocol.Handshake, error) {
	hctx, cancel := context.WithTimeout(ctx, g.cfg.HandshakeTimeout)
	defer cancel()
	typ, data, err := conn.Read(hctx)
	if err != nil {
		return protocol.Handshake{}, err
	}
	if typ != websocket.MessageText {
		return protocol.Handshake{}, errors.New("handshake must be a text frame")
	}
	return protocol.DecodeHandshake(data)
}

func (g *Gateway) participate(ctx context.Context, conn *websocket.Conn, participantID string) {
	room := g.registry.RoomOf(participantID)
	if room == nil {
		log.Printf("[Gateway] %s is not in any room\n", participantID)
		conn.Close(websocket.StatusPolicyViolation, "unknown participant")
		return
	}

	client := wshub.NewClient(participantID, conn, g.cfg.SendBuffer)
	if err := room.Connect(participantID, client); err != nil {
		log.Printf("[Gateway] %s cannot connect to room %s: %v\n", participantID, room.ID(), err)
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	stop := g.attach(ctx, client)
	defer stop()
	g.metrics.ConnectionOpened()
	defer g.metrics.ConnectionClosed()
	log.Printf("[Gateway] %s connected to room %s\n", participantID, room.ID())

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		msg, err := protocol.DecodeClient(data, g.cfg.Schema)
		if err != nil {
			log.Printf("[Gateway] dropping %s: %v\n", participantID, err)
			conn.Close(websocket.StatusPolicyViolation, "malformed message")
			break
		}
		room.Handle(participantID, msg)
	}
	room.Disconnect(participantID, client)
}

func (g *Gateway) spectate(ctx context.Context, conn *websocket.Conn, sessionID string) {
	rp, ok := g.replays.Get(sessionID)
	if !ok {
		log.Printf("[Gateway] no replay for session %s\n", sessionID)
		conn.Close(websocket.StatusPolicyViolation, "unknown session")
		return
	}

	client := wshub.NewClient("spectator:"+sessionID, conn, g.cfg.SendBuffer)
	stop := g.attach(ctx, client)
	defer stop()
	g.metrics.SpectatorConnected()
	defer g.metrics.SpectatorDisconnected()

	player := playback.New(rp, client, playback.Options{
		TickRate: g.cfg.TickRate,
		Schema:   g.cfg.Schema,
		Clock:    g.cfg.Clock,
	})
	defer player.Stop()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if err := protocol.DecodeSpectator(data); err != nil {
			conn.Close(websocket.StatusPolicyViolation, "spectators may only send ready")
			return
		}
		player.Start()
	}
}

// attach registers the client and runs its write pump and keepalive. The
// returned func closes the client and waits for the pump to drain.
func (g *Gateway) attach(ctx context.Context, client *wshub.Client) func() {
	g.hub.Register(client)
	pctx, cancel := context.WithCancel(ctx)
	go client.WritePump(pctx)
	go g.keepAlive(pctx, client)
	return func() {
		client.Close()
		<-client.Done()
		cancel()
		g.hub.Unregister(client)
	}
}

func (g *Gateway) keepAlive(ctx context.Context, client *wshub.Client) {
	if g.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, g.cfg.PingInterval)
			err := client.Conn.Ping(pctx)
			cancel()
			if err != nil {
				log.Printf("[Gateway] ping to %s failed: %v\n", client.ID, err)
				client.Conn.CloseNow()
				return
			}
		}
	}
}

// Hub exposes the connection set so the server can close it on shutdown.
func (g *Gateway) Hub() *wshub.Hub {
	return g.hub
}
