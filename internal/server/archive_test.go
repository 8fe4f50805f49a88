package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"dogfight/internal/broadcast"
	"dogfight/internal/db"
	"dogfight/internal/events"
)

type fakeArchive struct {
	mu      sync.Mutex
	batches [][]db.Match
}

func (f *fakeArchive) BatchArchiveMatches(matches []db.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]db.Match(nil), matches...))
	return nil
}

func (f *fakeArchive) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestMatchBatchWriter_FlushesOnTicker(t *testing.T) {
	archive := &fakeArchive{}
	bus := events.NewBus()
	feed := broadcast.NewBroadcaster()
	sub := feed.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		matchBatchWriter(ctx, archive, bus.MatchEnded, feed)
		close(done)
	}()

	bus.PublishMatchEnded(events.MatchEnded{SessionID: "s-1", RoomID: "ABCD", Ticks: 10, Reason: "time limit reached"})

	deadline := time.Now().Add(3 * time.Second)
	for archive.total() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("match was not archived")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done

	got := archive.batches[0][0]
	if got.SessionID != "s-1" || got.RoomCode != "ABCD" || got.TickCount != 10 {
		t.Errorf("archived = %+v", got)
	}
	select {
	case msg := <-sub:
		if msg.Event != eventMatchEnded {
			t.Errorf("feed event = %q, want %q", msg.Event, eventMatchEnded)
		}
	default:
		t.Error("match not announced on the feed")
	}
}

func TestMatchBatchWriter_DrainsOnCancel(t *testing.T) {
	archive := &fakeArchive{}
	bus := events.NewBus()
	for i := 0; i < 3; i++ {
		bus.PublishMatchEnded(events.MatchEnded{SessionID: "s"})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	matchBatchWriter(ctx, archive, bus.MatchEnded, nil)

	if archive.total() != 3 {
		t.Errorf("archived %d matches, want 3", archive.total())
	}
}

func TestMatchBatchWriter_NoArchive(t *testing.T) {
	bus := events.NewBus()
	bus.PublishMatchEnded(events.MatchEnded{SessionID: "s"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	matchBatchWriter(ctx, nil, bus.MatchEnded, nil)
	if len(bus.MatchEnded) != 0 {
		t.Error("events left on the bus")
	}
}
