package signaling

import (
	"errors"

	"github.com/1ureka/p2pcall/internal/socket"
)

func (r *Relay) handleEvent(ev socket.Event) {
	if r.ctx.Err() != nil {
		return
	}

	msg, err := Decode(ev.Raw)
	if err != nil {
		// The relay may carry traffic for other consumers.
		if errors.Is(err, ErrUnknownType) {
			r.log.Tracef("ignoring %v", err)
			return
		}
		r.reportError(err)
		return
	}

	if err := r.handle(msg); err != nil {
		r.reportError(err)
	}
}

func (r *Relay) handle(msg Message) error {
	r.log.Tracef("received %s", msg.Type)

	switch msg.Type {
	case TypeOffer:
		r.holdCandidates()
		answer, err := r.session.AcceptCall(r.ctx, msg.Description())
		if err != nil {
			return err
		}
		if err := r.sendDescription(answer); err != nil {
			return err
		}
		r.releaseCandidates()

	case TypeAnswer:
		return r.session.ApplyAnswer(msg.Description())

	case TypeCandidate:
		return r.session.SubmitRemoteCandidate(*msg.Candidate)

	case TypeHangup:
		r.session.EndCall()
		r.remoteHungUp()
	}
	return nil
}
