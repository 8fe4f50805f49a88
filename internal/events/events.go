package events

import "time"

// MatchEnded is published once per match that reached the started state.
type MatchEnded struct {
	SessionID    string
	RoomID       string
	Participants []string
	Ticks        int
	Reason       string
	StartedAt    time.Time
	EndedAt      time.Time
}

type Bus struct {
	MatchEnded chan MatchEnded
}

const busBuffer = 64

func NewBus() *Bus {
	return &Bus{
		MatchEnded: make(chan MatchEnded, busBuffer),
	}
}

// PublishMatchEnded never blocks a room; it reports false when the event was
// dropped because nobody is draining the bus.
func (b *Bus) PublishMatchEnded(ev MatchEnded) bool {
	if b == nil {
		return false
	}
	select {
	case b.MatchEnded <- ev:
		return true
	default:
		return false
	}
}
