// Package signaling relays offers, answers and ICE candidates between a call
// session and an external relay reachable over a resilient WebSocket.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	TypeOffer     MessageType = "offer"
	TypeAnswer    MessageType = "answer"
	TypeCandidate MessageType = "candidate"
	TypeHangup    MessageType = "hangup"
)

var (
	ErrMalformed   = errors.New("signaling: malformed message")
	ErrUnknownType = errors.New("signaling: unknown message type")
)

// Message is the JSON envelope exchanged through the relay.
type Message struct {
	Type      MessageType              `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// Description returns the session description carried by an offer or
// answer.
func (m Message) Description() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(string(m.Type)), SDP: m.SDP}
}

// Decode parses and checks one envelope.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch m.Type {
	case TypeOffer, TypeAnswer:
		if m.SDP == "" {
			return Message{}, fmt.Errorf("%w: %s without sdp", ErrMalformed, m.Type)
		}
	case TypeCandidate:
		if m.Candidate == nil {
			return Message{}, fmt.Errorf("%w: candidate without payload", ErrMalformed)
		}
	case TypeHangup:
	case "":
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return m, nil
}
