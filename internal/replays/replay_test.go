package replays

import (
	"errors"
	"sync"
	"testing"
	"time"

	"dogfight/internal/input"
)

func testRecorder() *Recorder {
	return NewRecorder("session-1", "ABCD", []string{"a", "b"}, 30, time.Unix(100, 0))
}

func TestRecorder_AppendCopies(t *testing.T) {
	rec := testRecorder()
	live := Tick{{"fireWeapon": true}, {"fireWeapon": false}}

	if err := rec.Append(live); err != nil {
		t.Fatal(err)
	}
	live[0]["fireWeapon"] = false

	r := rec.Seal(time.Unix(200, 0), "time limit reached")
	got, ok := r.At(1)
	if !ok {
		t.Fatal("At(1) missing")
	}
	if !got[0]["fireWeapon"] {
		t.Error("recorded tick changed after live input mutated")
	}
}

func TestRecorder_SealRejectsAppend(t *testing.T) {
	rec := testRecorder()
	rec.Append(Tick{{}, {}})
	r := rec.Seal(time.Unix(200, 0), "participant left")

	if err := rec.Append(Tick{{}, {}}); !errors.Is(err, ErrSealed) {
		t.Errorf("Append after Seal error = %v, want ErrSealed", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	again := rec.Seal(time.Unix(300, 0), "other")
	if again != r || again.EndReason != "participant left" {
		t.Error("second Seal should return the original replay unchanged")
	}
}

func TestReplay_AtBounds(t *testing.T) {
	rec := testRecorder()
	rec.Append(Tick{input.State{}, input.State{}})
	r := rec.Seal(time.Unix(200, 0), "done")
	if _, ok := r.At(0); ok {
		t.Error("At(0) should be out of range")
	}
	if _, ok := r.At(2); ok {
		t.Error("At(2) should be out of range")
	}
}

func TestReplay_Info(t *testing.T) {
	rec := testRecorder()
	rec.Append(Tick{{}, {}})
	rec.Append(Tick{{}, {}})
	info := rec.Seal(time.Unix(200, 0), "all participants finished").Info()

	if info.SessionID != "session-1" || info.RoomID != "ABCD" {
		t.Errorf("ids = %q/%q", info.SessionID, info.RoomID)
	}
	if info.Ticks != 2 || info.TickRate != 30 {
		t.Errorf("Ticks/TickRate = %d/%d, want 2/30", info.Ticks, info.TickRate)
	}
	if len(info.Participants) != 2 || info.Participants[0] != "a" {
		t.Errorf("Participants = %v", info.Participants)
	}
}

func TestMemoryStore_AddGet(t *testing.T) {
	s := NewMemoryStore()
	r := testRecorder().Seal(time.Unix(200, 0), "done")

	if err := s.Add(r); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(r); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate Add error = %v, want ErrExists", err)
	}
	got, ok := s.Get("session-1")
	if !ok || got != r {
		t.Error("Get() did not return stored replay")
	}
	if _, ok := s.Get("missing"); ok {
		t.Error("Get(missing) should fail")
	}
	if len(s.List()) != 1 || s.Len() != 1 {
		t.Errorf("List() = %d entries, want 1", len(s.List()))
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := NewRecorder(time.Unix(int64(i), 0).String(), "ROOM", nil, 60, time.Now())
			s.Add(rec.Seal(time.Now(), "done"))
			s.List()
		}(i)
	}
	wg.Wait()
	if s.Len() != 50 {
		t.Errorf("Len() = %d, want 50", s.Len())
	}
}
