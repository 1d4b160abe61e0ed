package signaling

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/socket"
	"github.com/1ureka/p2pcall/internal/util"
)

// Session is the part of call.Session the relay drives.
type Session interface {
	StartCall(ctx context.Context) (webrtc.SessionDescription, error)
	AcceptCall(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	SubmitRemoteCandidate(candidate webrtc.ICECandidateInit) error
	EndCall()
	OnICECandidate(fn func(webrtc.ICECandidateInit))
}

// Socket is the part of socket.Client the relay needs.
type Socket interface {
	Send(v any) bool
	On(kind socket.EventKind, fn socket.Handler) socket.ListenerID
	Off(kind socket.EventKind, id socket.ListenerID)
}

// Relay binds one call session to one socket. Local candidates go out as
// they are gathered; inbound offers are answered, answers applied,
// candidates submitted and hangups end the call.
type Relay struct {
	session Session
	socket  Socket
	log     util.Scope

	ctx      context.Context
	cancel   context.CancelFunc
	listener socket.ListenerID

	mu       sync.Mutex
	onHangup func()
	onError  func(error)
	// Local candidates are held until the description they belong to has
	// been sent, so the other peer never sees a candidate before it has a
	// peer connection to add it to.
	ready   bool
	pending []webrtc.ICECandidateInit
}

// NewRelay wires session and sock together. Inbound messages are handled
// on the socket's delivery goroutine, one at a time, so a candidate never
// overtakes the offer it belongs to.
func NewRelay(ctx context.Context, session Session, sock Socket, debug bool) *Relay {
	rctx, cancel := context.WithCancel(ctx)
	r := &Relay{
		session: session,
		socket:  sock,
		log:     util.NewScope("signaling", "", debug),
		ctx:     rctx,
		cancel:  cancel,
	}
	session.OnICECandidate(r.sendCandidate)
	r.listener = sock.On(socket.EventMessage, r.handleEvent)
	return r
}

// OnHangup sets a callback for when the other peer hangs up.
func (r *Relay) OnHangup(fn func()) {
	r.mu.Lock()
	r.onHangup = fn
	r.mu.Unlock()
}

// OnError replaces the sink for errors raised while handling inbound
// messages. Without one they are logged as errors.
func (r *Relay) OnError(fn func(error)) {
	r.mu.Lock()
	r.onError = fn
	r.mu.Unlock()
}

// Call starts a call and sends the offer.
func (r *Relay) Call(ctx context.Context) error {
	r.holdCandidates()
	offer, err := r.session.StartCall(ctx)
	if err != nil {
		return err
	}
	if err := r.sendDescription(offer); err != nil {
		return err
	}
	r.releaseCandidates()
	return nil
}

// Hangup ends the call locally and tells the other peer.
func (r *Relay) Hangup() error {
	r.session.EndCall()
	return r.send(Message{Type: TypeHangup})
}

// Close detaches the relay from both ends. The session and socket stay
// open.
func (r *Relay) Close() {
	r.cancel()
	r.socket.Off(socket.EventMessage, r.listener)
	r.session.OnICECandidate(nil)
}

func (r *Relay) reportError(err error) {
	r.mu.Lock()
	fn := r.onError
	r.mu.Unlock()
	if fn == nil {
		r.log.Errorf("%v", err)
		return
	}
	fn(err)
}

func (r *Relay) remoteHungUp() {
	r.mu.Lock()
	fn := r.onHangup
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}
