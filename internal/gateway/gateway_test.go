package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"dogfight/internal/protocol"
	"dogfight/internal/replays"
	"dogfight/internal/rooms"
)

type harness struct {
	registry *rooms.Registry
	store    *replays.MemoryStore
	srv      *httptest.Server
	url      string
}

func newHarness(t *testing.T, maxTicks int64) *harness {
	t.Helper()
	store := replays.NewMemoryStore()
	registry := rooms.NewRegistry(rooms.RegistryConfig{
		Rooms: rooms.Options{
			Capacity: 2,
			TickRate: 50,
			MaxTicks: maxTicks,
			Replays:  store,
		},
	})
	gw := New(Config{
		HandshakeTimeout: time.Second,
		TickRate:         50,
	}, registry, store, nil, nil)
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	return &harness{
		registry: registry,
		store:    store,
		srv:      srv,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func dial(t *testing.T, ctx context.Context, url string, handshake any) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	t.Cleanup(func() { c.CloseNow() })
	writeJSON(t, ctx, c, handshake)
	return c
}

func writeJSON(t *testing.T, ctx context.Context, c *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
}

func readFrame(t *testing.T, ctx context.Context, c *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	var f map[string]any
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decoding %s: %v", data, err)
	}
	return f
}

func readUntil(t *testing.T, ctx context.Context, c *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for {
		if f := readFrame(t, ctx, c); f["type"] == typ {
			return f
		}
	}
}

func expectClose(t *testing.T, ctx context.Context, c *websocket.Conn, want websocket.StatusCode) {
	t.Helper()
	for {
		_, _, err := c.Read(ctx)
		if err == nil {
			continue
		}
		if got := websocket.CloseStatus(err); got != want {
			t.Errorf("close status = %v (%v), want %v", got, err, want)
		}
		return
	}
}

func TestGateway_UnknownParticipantRefused(t *testing.T) {
	h := newHarness(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dial(t, ctx, h.url, map[string]string{"participantId": "ghost"})
	expectClose(t, ctx, c, websocket.StatusPolicyViolation)
}

func TestGateway_BadHandshakeRefused(t *testing.T) {
	h := newHarness(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dial(t, ctx, h.url, map[string]string{"participantId": "a", "sessionId": "b"})
	expectClose(t, ctx, c, websocket.StatusPolicyViolation)
}

func TestGateway_UnknownSessionRefused(t *testing.T) {
	h := newHarness(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dial(t, ctx, h.url, map[string]string{"sessionId": "missing"})
	expectClose(t, ctx, c, websocket.StatusPolicyViolation)
}

func TestGateway_MatchThenSpectate(t *testing.T) {
	const ticks = 5
	h := newHarness(t, ticks)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	room, err := h.registry.CreateRoom(0)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"p1", "p2"} {
		if err := h.registry.AddParticipant(id, room); err != nil {
			t.Fatal(err)
		}
	}
	c1 := dial(t, ctx, h.url, map[string]string{"participantId": "p1"})
	readUntil(t, ctx, c1, protocol.TypeReady)
	c2 := dial(t, ctx, h.url, map[string]string{"participantId": "p2"})
	readUntil(t, ctx, c2, protocol.TypeReady)

	writeJSON(t, ctx, c1, map[string]any{"type": "ready", "ready": true})
	writeJSON(t, ctx, c2, map[string]any{"type": "ready", "ready": true})

	start1 := readUntil(t, ctx, c1, protocol.TypeStart)
	start2 := readUntil(t, ctx, c2, protocol.TypeStart)
	if start1["seat"] != float64(0) || start2["seat"] != float64(1) {
		t.Errorf("seats = %v, %v, want 0, 1", start1["seat"], start2["seat"])
	}
	if start1["sessionDisplayId"] != room.ID() {
		t.Errorf("sessionDisplayId = %v, want %s", start1["sessionDisplayId"], room.ID())
	}

	var sessionID string
	for _, c := range []*websocket.Conn{c1, c2} {
		got := 0
		for {
			f := readFrame(t, ctx, c)
			if f["type"] == protocol.TypeInput {
				got++
				if f["tick"] != float64(got) {
					t.Errorf("tick = %v, want %d", f["tick"], got)
				}
				continue
			}
			if f["type"] != protocol.TypeEnd {
				t.Fatalf("unexpected frame %v", f)
			}
			if f["reason"] != rooms.ReasonTimeLimit {
				t.Errorf("end reason = %v, want %q", f["reason"], rooms.ReasonTimeLimit)
			}
			sessionID, _ = f["sessionId"].(string)
			break
		}
		if got != ticks {
			t.Errorf("received %d ticks, want %d", got, ticks)
		}
		expectClose(t, ctx, c, websocket.StatusNormalClosure)
	}
	if sessionID == "" {
		t.Fatal("end frame carried no sessionId")
	}

	viewer := dial(t, ctx, h.url, map[string]string{"sessionId": sessionID})
	writeJSON(t, ctx, viewer, map[string]string{"type": "ready"})
	played := 0
	for {
		f := readFrame(t, ctx, viewer)
		if f["type"] == protocol.TypeEnd {
			if f["reason"] != "replay finished" {
				t.Errorf("spectator end reason = %v", f["reason"])
			}
			break
		}
		played++
	}
	if played != ticks {
		t.Errorf("spectator received %d ticks, want %d", played, ticks)
	}
}

func TestGateway_MalformedMessageDropsParticipant(t *testing.T) {
	h := newHarness(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	room, _ := h.registry.CreateRoom(0)
	h.registry.AddParticipant("p1", room)
	c := dial(t, ctx, h.url, map[string]string{"participantId": "p1"})
	readUntil(t, ctx, c, protocol.TypeReady)

	writeJSON(t, ctx, c, map[string]any{"type": "ready", "ready": "yes"})
	expectClose(t, ctx, c, websocket.StatusPolicyViolation)

	deadline := time.Now().Add(2 * time.Second)
	for h.registry.RoomOf("p1") != nil {
		if time.Now().After(deadline) {
			t.Fatal("participant still registered after a malformed frame")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
