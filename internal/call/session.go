// Package call negotiates one peer-to-peer audio/video call: it owns the
// local capture, a single peer connection and the remote stream, and runs
// the offer/answer/ICE flow. Delivering offers, answers and candidates to
// the other peer is left to the host (see internal/signaling).
package call

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/media"
	"github.com/1ureka/p2pcall/internal/util"
)

// Session is one side of a call. At most one peer connection and one local
// stream are open at any time.
//
// Operations are serialized: a candidate submitted while AcceptCall is
// running waits until the remote offer has been applied. Observers
// registered with OnStateChange / OnRemoteStream run on the goroutine that
// caused the change and must not call back into the Session synchronously.
type Session struct {
	id   string
	opts Options
	log  util.Scope

	opMu sync.Mutex // held for the duration of every public operation

	mu          sync.Mutex // guards everything below
	pc          PeerConnection
	local       *media.LocalStream
	remote      *media.RemoteStream
	state       SessionState
	onCandidate func(webrtc.ICECandidateInit)
	onState     func(SessionState)
	onRemote    func(*media.RemoteStream)
}

// New creates an idle Session. Zero-valued collaborators in opts are
// replaced by the defaults described on Options.
func New(opts Options) *Session {
	if opts.Device == nil {
		opts.Device = &media.SyntheticDevice{}
	}
	if opts.Constraints == (media.Constraints{}) {
		opts.Constraints = media.AudioVideo
	}
	if opts.NewPeer == nil {
		opts.NewPeer = PionFactory(opts.ICEServers)
	}
	if opts.OnNonFatal == nil {
		opts.OnNonFatal = util.ReportNonFatal
	}

	id := uuid.NewString()[:8]
	return &Session{
		id:   id,
		opts: opts,
		log:  util.NewScope("call", id, opts.Debug),
	}
}

func (s *Session) ID() string { return s.id }

// State returns a snapshot of the session flags.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) LocalStream() *media.LocalStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *Session) RemoteStream() *media.RemoteStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// OnICECandidate sets the sink that receives every locally gathered
// candidate, for relay through the host's signaling channel.
func (s *Session) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	s.mu.Lock()
	s.onCandidate = fn
	s.mu.Unlock()
}

// OnStateChange sets an observer called after every state change.
func (s *Session) OnStateChange(fn func(SessionState)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// OnRemoteStream sets an observer called whenever the remote stream
// reference changes or gains a track.
func (s *Session) OnRemoteStream(fn func(*media.RemoteStream)) {
	s.mu.Lock()
	s.onRemote = fn
	s.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// AcquireLocalMedia stops any current capture and opens a new one.
func (s *Session) AcquireLocalMedia(ctx context.Context) (*media.LocalStream, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.acquireLocalMedia(ctx)
}

// StartCall creates a fresh peer connection as the caller and returns the
// offer to deliver to the other peer.
func (s *Session) StartCall(ctx context.Context) (webrtc.SessionDescription, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.ensureLocalMedia(ctx); err != nil {
		return webrtc.SessionDescription{}, err
	}

	pc, err := s.newPeerConnection(true)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := pc.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, s.negotiationFailed("create offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, s.negotiationFailed("set local description", err)
	}

	util.Stats.AddCallStarted()
	s.log.Tracef("offer created")
	return offer, nil
}

// AcceptCall answers a remote offer as the callee and returns the answer.
func (s *Session) AcceptCall(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if offer.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, s.negotiationFailed("accept call",
			fmt.Errorf("expected an offer, got %s", offer.Type))
	}

	if err := s.ensureLocalMedia(ctx); err != nil {
		return webrtc.SessionDescription{}, err
	}

	pc, err := s.newPeerConnection(false)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, s.negotiationFailed("set remote description", err)
	}
	answer, err := pc.CreateAnswer()
	if err != nil {
		return webrtc.SessionDescription{}, s.negotiationFailed("create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, s.negotiationFailed("set local description", err)
	}

	util.Stats.AddCallStarted()
	s.log.Tracef("answer created")
	return answer, nil
}

// ApplyAnswer applies the callee's answer. It fails with ErrNotInitialized
// when no call has been started.
func (s *Session) ApplyAnswer(answer webrtc.SessionDescription) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	pc := s.currentPeer()
	if pc == nil {
		return ErrNotInitialized
	}

	if answer.Type != webrtc.SDPTypeAnswer {
		return s.negotiationFailed("apply answer", fmt.Errorf("expected an answer, got %s", answer.Type))
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return s.negotiationFailed("set remote description", err)
	}

	s.mu.Lock()
	if s.pc == pc {
		s.state.IsConnected = true
	}
	s.mu.Unlock()

	s.log.Tracef("answer applied")
	s.notify()
	return nil
}

// SubmitRemoteCandidate adds a candidate relayed from the other peer. A
// candidate that cannot be added is reported as a CandidateError through
// Options.OnNonFatal and does not fail the call.
func (s *Session) SubmitRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	pc := s.currentPeer()
	if pc == nil {
		return ErrNotInitialized
	}

	util.Stats.AddCandidateRecv()
	if err := pc.AddICECandidate(candidate); err != nil {
		s.opts.OnNonFatal(&CandidateError{Candidate: candidate.Candidate, Err: err})
	}
	return nil
}

// EndCall closes the peer connection, stops the remote stream and, unless
// configured otherwise, the local capture. Safe to call when idle.
func (s *Session) EndCall() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.endCall(s.opts.StopLocalMediaOnEndCall)
}

// Close ends the call and always releases the local capture.
func (s *Session) Close() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.endCall(true)
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (s *Session) currentPeer() PeerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pc
}

func (s *Session) acquireLocalMedia(ctx context.Context) (*media.LocalStream, error) {
	s.mu.Lock()
	old := s.local
	s.local = nil
	s.mu.Unlock()

	if old != nil {
		old.Stop()
	}

	stream, err := s.opts.Device.Capture(ctx, s.opts.Constraints)
	if err != nil {
		merr := &MediaAccessError{Err: err}
		s.setError(merr)
		return nil, merr
	}

	s.mu.Lock()
	s.local = stream
	s.mu.Unlock()

	s.log.Tracef("local media acquired (%d tracks)", len(stream.Tracks()))
	return stream, nil
}

func (s *Session) ensureLocalMedia(ctx context.Context) error {
	s.mu.Lock()
	local := s.local
	s.mu.Unlock()

	if local != nil && local.Active() {
		return nil
	}
	_, err := s.acquireLocalMedia(ctx)
	return err
}

// newPeerConnection replaces the current peer connection with a new one,
// wires its callbacks and attaches the local tracks.
func (s *Session) newPeerConnection(caller bool) (PeerConnection, error) {
	s.mu.Lock()
	prev := s.pc
	s.pc = nil
	// The flags follow the connection; Err is kept until a new one exists.
	s.state = SessionState{Err: s.state.Err}
	s.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			s.opts.OnNonFatal(fmt.Errorf("call: close previous peer connection: %w", err))
		}
	}

	pc, err := s.opts.NewPeer()
	if err != nil {
		return nil, s.negotiationFailed("create peer connection", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		s.handleCandidate(pc, c)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.handleICEState(pc, state)
	})
	pc.OnTrack(func(t media.RemoteTrack) {
		s.handleTrack(pc, t)
	})

	s.mu.Lock()
	s.pc = pc
	s.state = SessionState{IsCalling: true, IsCaller: caller}
	local := s.local
	s.mu.Unlock()

	if local != nil {
		for _, t := range local.Tracks() {
			if err := pc.AddTrack(t.Track()); err != nil {
				return nil, s.negotiationFailed("add local track", err)
			}
		}
	}

	s.notify()
	return pc, nil
}

func (s *Session) handleCandidate(pc PeerConnection, c *webrtc.ICECandidate) {
	if c == nil {
		return
	}

	s.mu.Lock()
	current := s.pc == pc
	sink := s.onCandidate
	s.mu.Unlock()

	if !current || sink == nil {
		return
	}

	util.Stats.AddCandidateSent()
	sink(c.ToJSON())
}

func (s *Session) handleICEState(pc PeerConnection, state webrtc.ICEConnectionState) {
	s.log.Tracef("ICE connection state: %s", state)

	effect, ok := transitionFor(state)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.pc != pc {
		s.mu.Unlock()
		return
	}
	if effect.connected {
		s.state.IsConnected = true
	}
	if effect.err != nil {
		s.state.Err = effect.err
	}
	end := effect.end && s.opts.EndCallOnDisconnect
	s.mu.Unlock()

	s.notify()

	// Closing a pion connection from inside its own callback can block on
	// that callback, so teardown runs separately.
	if end {
		go s.endCallFor(pc)
	}
}

// endCallFor ends the call only if pc is still the active connection.
func (s *Session) endCallFor(pc PeerConnection) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.currentPeer() != pc {
		return
	}
	s.log.Warnf("connection lost, ending call")
	s.endCall(s.opts.StopLocalMediaOnEndCall)
}

func (s *Session) handleTrack(pc PeerConnection, t media.RemoteTrack) {
	s.mu.Lock()
	if s.pc != pc {
		s.mu.Unlock()
		return
	}
	if s.remote == nil || s.remote.ID() != t.StreamID() {
		s.remote = media.NewRemoteStream(t.StreamID())
	}
	s.remote.AddTrack(t)
	remote := s.remote
	fn := s.onRemote
	s.mu.Unlock()

	s.log.Tracef("remote %s track %s (stream %s)", t.Kind(), t.ID(), t.StreamID())
	if fn != nil {
		fn(remote)
	}
}

func (s *Session) endCall(stopLocal bool) {
	s.mu.Lock()
	pc := s.pc
	remote := s.remote
	s.pc = nil
	s.remote = nil
	var local *media.LocalStream
	if stopLocal {
		local = s.local
		s.local = nil
	}
	s.state.IsCalling = false
	s.state.IsCaller = false
	s.state.IsConnected = false
	onRemote := s.onRemote
	s.mu.Unlock()

	if pc != nil {
		if err := pc.Close(); err != nil {
			s.opts.OnNonFatal(fmt.Errorf("call: close peer connection: %w", err))
		}
		util.Stats.AddCallEnded()
		s.log.Tracef("call ended")
	}
	if remote != nil {
		if err := remote.Stop(); err != nil {
			s.opts.OnNonFatal(fmt.Errorf("call: stop remote stream: %w", err))
		}
		if onRemote != nil {
			onRemote(nil)
		}
	}
	if local != nil {
		local.Stop()
	}

	s.notify()
}

func (s *Session) negotiationFailed(op string, err error) error {
	nerr := &NegotiationError{Op: op, Err: err}
	s.setError(nerr)
	return nerr
}

func (s *Session) setError(err error) {
	s.mu.Lock()
	s.state.Err = err
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	s.mu.Lock()
	st := s.state
	fn := s.onState
	s.mu.Unlock()

	if fn != nil {
		fn(st)
	}
}
