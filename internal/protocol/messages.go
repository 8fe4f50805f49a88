// Package protocol defines the websocket frames exchanged between the relay
// and its clients. Inbound frames are decoded once, at the boundary, into one
// of a fixed set of message types.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"dogfight/internal/input"
)

// ErrMalformed marks a frame that cannot be decoded or lacks required fields.
var ErrMalformed = errors.New("malformed message")

// Type identifiers shared by both directions.
const (
	TypeInput = "input"
	TypeReady = "ready"
	TypeEnd   = "end"
	TypeStart = "start"
)

// Handshake is the first frame of every connection. Exactly one field is set.
type Handshake struct {
	ParticipantID string `json:"participantId,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
}

// Spectator reports whether the connection asks for a replay.
func (h Handshake) Spectator() bool {
	return h.SessionID != ""
}

func DecodeHandshake(data []byte) (Handshake, error) {
	var h Handshake
	if err := json.Unmarshal(data, &h); err != nil {
		return Handshake{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if (h.ParticipantID == "") == (h.SessionID == "") {
		return Handshake{}, fmt.Errorf("%w: handshake needs exactly one of participantId or sessionId", ErrMalformed)
	}
	return h, nil
}

// ClientMessage is one of InputMessage, ReadyMessage or EndMessage.
type ClientMessage interface {
	clientMessage()
}

type InputMessage struct {
	Input input.State
}

type ReadyMessage struct {
	Ready bool
}

// EndMessage reports that the sender's seat is finished.
type EndMessage struct{}

func (InputMessage) clientMessage() {}
func (ReadyMessage) clientMessage() {}
func (EndMessage) clientMessage()   {}

type envelope struct {
	Type  string          `json:"type"`
	Input json.RawMessage `json:"input,omitempty"`
	Ready *bool           `json:"ready,omitempty"`
}

// DecodeClient parses a participant frame.
func DecodeClient(data []byte, schema input.Schema) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch env.Type {
	case TypeInput:
		if len(env.Input) == 0 {
			return nil, fmt.Errorf("%w: input message without input", ErrMalformed)
		}
		st, err := schema.Decode(env.Input)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return InputMessage{Input: st}, nil
	case TypeReady:
		if env.Ready == nil {
			return nil, fmt.Errorf("%w: ready message without ready flag", ErrMalformed)
		}
		return ReadyMessage{Ready: *env.Ready}, nil
	case TypeEnd:
		return EndMessage{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
}

// DecodeSpectator parses a frame from a replay viewer. Only ready is valid.
func DecodeSpectator(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type != TypeReady {
		return fmt.Errorf("%w: spectators may only send ready, got %q", ErrMalformed, env.Type)
	}
	return nil
}

// Start tells a participant its seat.
type Start struct {
	Seat             int    `json:"seat"`
	SessionDisplayID string `json:"sessionDisplayId"`
}

// ReadyEntry encodes as a [participantId, ready] pair.
type ReadyEntry struct {
	ParticipantID string
	Ready         bool
}

func (e ReadyEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.ParticipantID, e.Ready})
}

func (e *ReadyEntry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: ready entry needs 2 elements, got %d", ErrMalformed, len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.ParticipantID); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &e.Ready)
}

type ReadyStatus struct {
	ReadyStatus []ReadyEntry `json:"readyStatus"`
}

// Tick carries every seat's input for one tick, in seat order.
type Tick struct {
	Tick  int64         `json:"tick"`
	Input []input.State `json:"input"`
}

type End struct {
	Reason    string `json:"reason,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// EncodeTick renders a tick frame, writing each seat's input through the
// schema so every field is present and unknown fields are refused.
func EncodeTick(s input.Schema, t Tick) ([]byte, error) {
	seats := make([]json.RawMessage, len(t.Input))
	for i, st := range t.Input {
		data, err := s.Encode(st)
		if err != nil {
			return nil, fmt.Errorf("protocol: tick %d seat %d: %w", t.Tick, i, err)
		}
		seats[i] = data
	}
	return json.Marshal(struct {
		Type  string            `json:"type"`
		Tick  int64             `json:"tick"`
		Input []json.RawMessage `json:"input"`
	}{TypeInput, t.Tick, seats})
}

// Encode renders a server message with its type tag.
func Encode(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case Start:
		return json.Marshal(struct {
			Type string `json:"type"`
			Start
		}{TypeStart, m})
	case ReadyStatus:
		if m.ReadyStatus == nil {
			m.ReadyStatus = []ReadyEntry{}
		}
		return json.Marshal(struct {
			Type string `json:"type"`
			ReadyStatus
		}{TypeReady, m})
	case Tick:
		return json.Marshal(struct {
			Type string `json:"type"`
			Tick
		}{TypeInput, m})
	case End:
		return json.Marshal(struct {
			Type string `json:"type"`
			End
		}{TypeEnd, m})
	default:
		return nil, fmt.Errorf("protocol: cannot encode %T", msg)
	}
}
