package clocktest

import (
	"testing"
	"time"
)

func TestFake_AdvanceFiresInOrder(t *testing.T) {
	f := New(time.Unix(0, 0))
	var got []int
	f.AfterFunc(20*time.Millisecond, func() { got = append(got, 2) })
	f.AfterFunc(10*time.Millisecond, func() { got = append(got, 1) })
	f.AfterFunc(50*time.Millisecond, func() { got = append(got, 3) })

	f.Advance(30 * time.Millisecond)

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("fired = %v, want [1 2]", got)
	}
	if f.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", f.Pending())
	}
	if want := time.Unix(0, 0).Add(30 * time.Millisecond); !f.Now().Equal(want) {
		t.Errorf("Now() = %v, want %v", f.Now(), want)
	}
}

func TestFake_Stop(t *testing.T) {
	f := New(time.Unix(0, 0))
	fired := false
	tm := f.AfterFunc(time.Millisecond, func() { fired = true })
	if !tm.Stop() {
		t.Fatal("Stop() = false, want true")
	}
	if tm.Stop() {
		t.Error("second Stop() = true, want false")
	}
	f.Advance(time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFake_RescheduleDuringAdvance(t *testing.T) {
	f := New(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		f.AfterFunc(10*time.Millisecond, tick)
	}
	f.AfterFunc(0, tick)

	f.Advance(35 * time.Millisecond)

	// fires at 0, 10, 20, 30
	if count != 4 {
		t.Errorf("count = %d, want 4", count)
	}
}
