package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/pion/webrtc/v4"
)

var validate = validator.New()

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps m into its envelope.
func Encode(m Message) (core.Frame, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	b, err := json.Marshal(envelope{Type: m.Kind(), Payload: body})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return b, nil
}

// MustEncode is for messages whose shape cannot fail to marshal.
func MustEncode(m Message) core.Frame {
	b, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return b
}

var requests = map[string]func() Message{
	TypeSessionJoin:  func() Message { return &JoinSession{} },
	TypeSessionLeave: func() Message { return &LeaveSession{} },
	TypeSessionStart: func() Message { return &StartSession{} },
	TypeSessionEnd:   func() Message { return &EndSession{} },
	TypeSessionMedia: func() Message { return &UpdateMedia{} },
	TypeOffer:        func() Message { return &Offer{} },
	TypeAnswer:       func() Message { return &Answer{} },
	TypeCandidate:    func() Message { return &Candidate{} },
	TypeChatJoin:     func() Message { return &JoinRoom{} },
	TypeChatLeave:    func() Message { return &LeaveRoom{} },
	TypeChatMessage:  func() Message { return &SendChat{} },
	TypePing:         func() Message { return &Ping{} },
}

var events = map[string]func() Message{
	TypeSessionJoined:      func() Message { return &SessionJoined{} },
	TypeSessionLeft:        func() Message { return &SessionLeft{} },
	TypeParticipantJoined:  func() Message { return &ParticipantJoined{} },
	TypeParticipantLeft:    func() Message { return &ParticipantLeft{} },
	TypeParticipantUpdated: func() Message { return &ParticipantUpdated{} },
	TypeSessionStatus:      func() Message { return &SessionStatus{} },
	TypeOffer:              func() Message { return &RelayedOffer{} },
	TypeAnswer:             func() Message { return &RelayedAnswer{} },
	TypeCandidate:          func() Message { return &RelayedCandidate{} },
	TypeChatJoined:         func() Message { return &ChatJoined{} },
	TypeChatLeft:           func() Message { return &ChatLeft{} },
	TypeChatMessage:        func() Message { return &ChatMessage{} },
	TypeChatOnline:         func() Message { return &OnlineUsers{} },
	TypeError:              func() Message { return &Error{} },
	TypePong:               func() Message { return &Pong{} },
}

// DecodeRequest parses and validates a client frame. The returned kind is set
// whenever the envelope itself was readable, so callers can name the request in
// error replies.
func DecodeRequest(data []byte) (string, Message, error) {
	return decode(data, requests, true)
}

// DecodeEvent parses a server frame.
func DecodeEvent(data []byte) (string, Message, error) {
	return decode(data, events, false)
}

func decode(data []byte, kinds map[string]func() Message, strict bool) (string, Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", domain.ErrBadPayload, err)
	}
	mk, ok := kinds[env.Type]
	if !ok {
		return env.Type, nil, fmt.Errorf("%w: unknown type %q", domain.ErrBadPayload, env.Type)
	}
	msg := mk()
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return env.Type, nil, fmt.Errorf("%w: %s: %v", domain.ErrBadPayload, env.Type, err)
		}
	}
	if strict {
		if err := validate.Struct(msg); err != nil {
			return env.Type, nil, fmt.Errorf("%w: %s: %v", domain.ErrBadPayload, env.Type, err)
		}
		if err := check(msg); err != nil {
			return env.Type, nil, fmt.Errorf("%w: %s: %v", domain.ErrBadPayload, env.Type, err)
		}
	}
	return env.Type, msg, nil
}

// check covers the pion types validator tags cannot reach.
func check(msg Message) error {
	switch m := msg.(type) {
	case *Offer:
		return checkDescription(m.Description, webrtc.SDPTypeOffer)
	case *Answer:
		return checkDescription(m.Description, webrtc.SDPTypeAnswer)
	case *Candidate:
		if m.Candidate.Candidate == "" {
			return fmt.Errorf("empty candidate")
		}
	case *SendChat:
		return m.Draft().Validate()
	}
	return nil
}

func checkDescription(d webrtc.SessionDescription, want webrtc.SDPType) error {
	if d.Type != want {
		return fmt.Errorf("description type %s, want %s", d.Type, want)
	}
	if d.SDP == "" {
		return fmt.Errorf("empty sdp")
	}
	return nil
}
