package wshub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestClient_SendQueues(t *testing.T) {
	c := NewClient("p1", nil, 2)
	if err := c.Send([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := c.Send([]byte("b")); err != nil {
		t.Fatal(err)
	}
	if err := c.Send([]byte("c")); !errors.Is(err, ErrSlowConsumer) {
		t.Errorf("Send on full queue error = %v, want ErrSlowConsumer", err)
	}
	if got := string(<-c.send); got != "a" {
		t.Errorf("first queued = %q, want %q", got, "a")
	}
}

func TestClient_SendAfterClose(t *testing.T) {
	c := NewClient("p1", nil, 4)
	c.Send([]byte("last"))
	c.Close()
	c.Close()

	if err := c.Send([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close error = %v, want ErrClosed", err)
	}
	if !c.Closed() {
		t.Error("Closed() = false, want true")
	}
	// queued message survives close
	if got, ok := <-c.send; !ok || string(got) != "last" {
		t.Errorf("drained = %q, %v", got, ok)
	}
	if _, ok := <-c.send; ok {
		t.Error("queue should be closed after drain")
	}
}

func TestHub_RegisterCloseAll(t *testing.T) {
	h := NewHub()
	c1 := NewClient("p1", nil, 4)
	c2 := NewClient("p2", nil, 4)
	h.Register(c1)
	h.Register(c2)
	if h.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", h.Len())
	}

	h.CloseAll([]byte("bye"))

	for _, c := range []*Client{c1, c2} {
		if !c.Closed() {
			t.Errorf("%s not closed", c.ID)
		}
		if got := string(<-c.send); got != "bye" {
			t.Errorf("%s got %q, want bye", c.ID, got)
		}
	}

	h.Unregister(c1)
	if h.Len() != 1 {
		t.Errorf("Len() after unregister = %d, want 1", h.Len())
	}
}

func TestWritePump_DrainsThenCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient("server", conn, 8)
		c.Send([]byte("one"))
		c.Send([]byte("two"))
		c.Close()
		c.WritePump(r.Context())
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.CloseNow()

	for _, want := range []string{"one", "two"} {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read %q: %v", want, err)
		}
		if string(data) != want {
			t.Errorf("got %q, want %q", data, want)
		}
	}
	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("close status = %v, want normal closure", websocket.CloseStatus(err))
	}
}
