// Package broadcast fans lobby events out to server-sent-event subscribers.
package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"
)

const subscriberBuffer = 10

// Message is one SSE frame; Data is already JSON.
type Message struct {
	Event string
	Data  string
}

type Broadcaster struct {
	mu      sync.Mutex
	clients map[chan Message]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[chan Message]struct{}),
	}
}

func (b *Broadcaster) Subscribe() chan Message {
	ch := make(chan Message, subscriberBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broadcaster) Unsubscribe(ch chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; !ok {
		return
	}
	delete(b.clients, ch)
	close(ch)
}

func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Publish encodes v and offers it to every subscriber. Subscribers whose
// buffer is full miss the message. A nil Broadcaster drops everything.
func (b *Broadcaster) Publish(event string, v any) error {
	if b == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}
	msg := Message{Event: event, Data: string(data)}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}
