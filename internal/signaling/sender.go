package signaling

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ErrNotDelivered is returned when the socket refused a message, typically
// because it is between connections.
var ErrNotDelivered = errors.New("signaling: message not delivered")

func (r *Relay) send(msg Message) error {
	if !r.socket.Send(msg) {
		return fmt.Errorf("%w: %s", ErrNotDelivered, msg.Type)
	}
	r.log.Tracef("sent %s", msg.Type)
	return nil
}

// sendDescription sends an offer or an answer.
func (r *Relay) sendDescription(sdp webrtc.SessionDescription) error {
	return r.send(Message{Type: MessageType(sdp.Type.String()), SDP: sdp.SDP})
}

// sendCandidate is the session's candidate sink.
func (r *Relay) sendCandidate(c webrtc.ICECandidateInit) {
	r.mu.Lock()
	if !r.ready {
		r.pending = append(r.pending, c)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.deliverCandidate(c)
}

func (r *Relay) holdCandidates() {
	r.mu.Lock()
	r.ready = false
	r.pending = nil
	r.mu.Unlock()
}

func (r *Relay) releaseCandidates() {
	r.mu.Lock()
	r.ready = true
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, c := range pending {
		r.deliverCandidate(c)
	}
}

// deliverCandidate is best-effort.
func (r *Relay) deliverCandidate(c webrtc.ICECandidateInit) {
	if err := r.send(Message{Type: TypeCandidate, Candidate: &c}); err != nil {
		r.log.Warnf("%v", err)
	}
}
