package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/p2pcall/internal/call"
	"github.com/1ureka/p2pcall/internal/socket"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeSocket records outbound messages and delivers injected ones
// synchronously to its listeners.
type fakeSocket struct {
	mu        sync.Mutex
	down      bool
	sent      []Message
	nextID    socket.ListenerID
	listeners map[socket.ListenerID]socket.Handler
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{listeners: map[socket.ListenerID]socket.Handler{}}
}

func (s *fakeSocket) Send(v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return false
	}
	s.sent = append(s.sent, v.(Message))
	return true
}

func (s *fakeSocket) On(kind socket.EventKind, fn socket.Handler) socket.ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.listeners[s.nextID] = fn
	return s.nextID
}

func (s *fakeSocket) Off(_ socket.EventKind, id socket.ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, id)
}

func (s *fakeSocket) inject(t *testing.T, raw string) {
	t.Helper()
	s.mu.Lock()
	var hs []socket.Handler
	for _, h := range s.listeners {
		hs = append(hs, h)
	}
	s.mu.Unlock()
	for _, h := range hs {
		h(socket.Event{Kind: socket.EventMessage, Raw: []byte(raw)})
	}
}

func (s *fakeSocket) types() []MessageType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []MessageType
	for _, m := range s.sent {
		out = append(out, m.Type)
	}
	return out
}

// fakeSession emits one local candidate from inside every offer/answer
// creation, the way a real peer starts gathering on SetLocalDescription.
type fakeSession struct {
	mu         sync.Mutex
	sink       func(webrtc.ICECandidateInit)
	accepted   []webrtc.SessionDescription
	answers    []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	ended      int
	failApply  error
}

func (f *fakeSession) gather() {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink != nil {
		sink(webrtc.ICECandidateInit{Candidate: "candidate:local"})
	}
}

func (f *fakeSession) StartCall(context.Context) (webrtc.SessionDescription, error) {
	f.gather()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "local-offer"}, nil
}

func (f *fakeSession) AcceptCall(_ context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	f.accepted = append(f.accepted, offer)
	f.mu.Unlock()
	f.gather()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "local-answer"}, nil
}

func (f *fakeSession) ApplyAnswer(answer webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failApply != nil {
		return f.failApply
	}
	f.answers = append(f.answers, answer)
	return nil
}

func (f *fakeSession) SubmitRemoteCandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeSession) EndCall() {
	f.mu.Lock()
	f.ended++
	f.mu.Unlock()
}

func (f *fakeSession) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	f.sink = fn
	f.mu.Unlock()
}

func newTestRelay(t *testing.T) (*Relay, *fakeSession, *fakeSocket, *[]error) {
	t.Helper()
	sess := &fakeSession{}
	sock := newFakeSocket()
	r := NewRelay(context.Background(), sess, sock, false)
	var errs []error
	r.OnError(func(err error) { errs = append(errs, err) })
	t.Cleanup(r.Close)
	return r, sess, sock, &errs
}

// ---------------------------------------------------------------------------
// Decode
// ---------------------------------------------------------------------------

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    MessageType
		wantErr error
	}{
		{"offer", `{"type":"offer","sdp":"v=0"}`, TypeOffer, nil},
		{"answer", `{"type":"answer","sdp":"v=0"}`, TypeAnswer, nil},
		{"candidate", `{"type":"candidate","candidate":{"candidate":"candidate:1"}}`, TypeCandidate, nil},
		{"hangup", `{"type":"hangup"}`, TypeHangup, nil},
		{"not json", `ping`, "", ErrMalformed},
		{"missing type", `{"sdp":"v=0"}`, "", ErrMalformed},
		{"offer without sdp", `{"type":"offer"}`, "", ErrMalformed},
		{"candidate without payload", `{"type":"candidate"}`, "", ErrMalformed},
		{"foreign type", `{"type":"chat","text":"hi"}`, "", ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Type)
		})
	}
}

func TestMessageWireFormat(t *testing.T) {
	mid := "0"
	data, err := json.Marshal(Message{
		Type:      TypeCandidate,
		Candidate: &webrtc.ICECandidateInit{Candidate: "candidate:1", SDPMid: &mid},
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"candidate"`)
	assert.Contains(t, string(data), `"candidate":"candidate:1"`)

	back, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, back.Candidate.SDPMid)
	assert.Equal(t, "0", *back.Candidate.SDPMid)

	desc := Message{Type: TypeAnswer, SDP: "v=0"}.Description()
	assert.Equal(t, webrtc.SDPTypeAnswer, desc.Type)
}

// ---------------------------------------------------------------------------
// Relay
// ---------------------------------------------------------------------------

func TestCallSendsOfferBeforeCandidates(t *testing.T) {
	r, _, sock, _ := newTestRelay(t)

	require.NoError(t, r.Call(context.Background()))

	assert.Equal(t, []MessageType{TypeOffer, TypeCandidate}, sock.types())
	assert.Equal(t, "local-offer", sock.sent[0].SDP)
	assert.Equal(t, "candidate:local", sock.sent[1].Candidate.Candidate)
}

func TestCallFailsWhenSocketIsDown(t *testing.T) {
	r, _, sock, _ := newTestRelay(t)
	sock.down = true

	err := r.Call(context.Background())
	assert.ErrorIs(t, err, ErrNotDelivered)
}

func TestInboundOfferIsAnswered(t *testing.T) {
	_, sess, sock, errs := newTestRelay(t)

	sock.inject(t, `{"type":"offer","sdp":"remote-offer"}`)

	require.Len(t, sess.accepted, 1)
	assert.Equal(t, webrtc.SDPTypeOffer, sess.accepted[0].Type)
	assert.Equal(t, "remote-offer", sess.accepted[0].SDP)
	assert.Equal(t, []MessageType{TypeAnswer, TypeCandidate}, sock.types())
	assert.Empty(t, *errs)
}

func TestInboundAnswerAndCandidates(t *testing.T) {
	_, sess, sock, errs := newTestRelay(t)

	sock.inject(t, `{"type":"answer","sdp":"remote-answer"}`)
	sock.inject(t, `{"type":"candidate","candidate":{"candidate":"candidate:remote"}}`)

	require.Len(t, sess.answers, 1)
	assert.Equal(t, webrtc.SDPTypeAnswer, sess.answers[0].Type)
	require.Len(t, sess.candidates, 1)
	assert.Equal(t, "candidate:remote", sess.candidates[0].Candidate)
	assert.Empty(t, *errs)
}

func TestInboundHangupEndsCall(t *testing.T) {
	r, sess, sock, _ := newTestRelay(t)
	hungUp := false
	r.OnHangup(func() { hungUp = true })

	sock.inject(t, `{"type":"hangup"}`)

	assert.Equal(t, 1, sess.ended)
	assert.True(t, hungUp)
}

func TestHangupNotifiesPeer(t *testing.T) {
	r, sess, sock, _ := newTestRelay(t)

	require.NoError(t, r.Hangup())

	assert.Equal(t, 1, sess.ended)
	assert.Equal(t, []MessageType{TypeHangup}, sock.types())
}

func TestInboundErrorsReachHook(t *testing.T) {
	_, sess, sock, errs := newTestRelay(t)
	sess.failApply = call.ErrNotInitialized

	sock.inject(t, `not json`)
	sock.inject(t, `{"type":"chat","text":"hi"}`)
	sock.inject(t, `{"type":"answer","sdp":"x"}`)

	require.Len(t, *errs, 2)
	assert.ErrorIs(t, (*errs)[0], ErrMalformed)
	assert.ErrorIs(t, (*errs)[1], call.ErrNotInitialized)
}

func TestInboundErrorsWithoutHookKeepRelaying(t *testing.T) {
	r, sess, sock, _ := newTestRelay(t)
	r.OnError(nil)

	sock.inject(t, `not json`)
	sock.inject(t, `{"type":"hangup"}`)

	assert.Equal(t, 1, sess.ended)
}

func TestCloseDetaches(t *testing.T) {
	r, sess, sock, _ := newTestRelay(t)
	r.Close()

	sock.inject(t, `{"type":"hangup"}`)
	assert.Equal(t, 0, sess.ended)
	assert.Nil(t, sess.sink)
}

// ---------------------------------------------------------------------------
// End to end over real sessions
// ---------------------------------------------------------------------------

// pipeSocket connects two relays in memory. Deliveries run on one goroutine
// per side, in order, like socket.Client.
type pipeSocket struct {
	mu       sync.Mutex
	peer     *pipeSocket
	inbox    chan []byte
	handlers map[socket.ListenerID]socket.Handler
	nextID   socket.ListenerID
}

func newPipe(t *testing.T) (*pipeSocket, *pipeSocket) {
	a := &pipeSocket{inbox: make(chan []byte, 256), handlers: map[socket.ListenerID]socket.Handler{}}
	b := &pipeSocket{inbox: make(chan []byte, 256), handlers: map[socket.ListenerID]socket.Handler{}}
	a.peer, b.peer = b, a

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go a.run(done)
	go b.run(done)
	return a, b
}

func (p *pipeSocket) run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case raw := <-p.inbox:
			p.mu.Lock()
			var hs []socket.Handler
			for _, h := range p.handlers {
				hs = append(hs, h)
			}
			p.mu.Unlock()
			for _, h := range hs {
				h(socket.Event{Kind: socket.EventMessage, Raw: raw})
			}
		}
	}
}

func (p *pipeSocket) Send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	p.peer.inbox <- data
	return true
}

func (p *pipeSocket) On(_ socket.EventKind, fn socket.Handler) socket.ListenerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.handlers[p.nextID] = fn
	return p.nextID
}

func (p *pipeSocket) Off(_ socket.EventKind, id socket.ListenerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers, id)
}

func TestRelayEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pion negotiation in short mode")
	}

	newSession := func() *call.Session {
		opts := call.DefaultOptions()
		opts.ICEServers = nil
		s := call.New(opts)
		t.Cleanup(s.Close)
		return s
	}
	caller, callee := newSession(), newSession()
	sockA, sockB := newPipe(t)

	var errMu sync.Mutex
	var errs []error
	collect := func(err error) {
		errMu.Lock()
		errs = append(errs, err)
		errMu.Unlock()
	}

	relayA := NewRelay(context.Background(), caller, sockA, false)
	relayA.OnError(collect)
	relayB := NewRelay(context.Background(), callee, sockB, false)
	relayB.OnError(collect)
	t.Cleanup(relayA.Close)
	t.Cleanup(relayB.Close)

	hungUp := make(chan struct{})
	relayB.OnHangup(func() { close(hungUp) })

	require.NoError(t, relayA.Call(context.Background()))

	require.Eventually(t, func() bool {
		return callee.State().IsCalling && caller.State().IsConnected
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, caller.State().IsCaller)
	assert.False(t, callee.State().IsCaller)

	errMu.Lock()
	for _, err := range errs {
		assert.False(t, errors.Is(err, call.ErrNotInitialized), "candidate arrived before its description: %v", err)
	}
	errMu.Unlock()

	require.NoError(t, relayA.Hangup())
	select {
	case <-hungUp:
	case <-time.After(5 * time.Second):
		t.Fatal("callee never saw the hangup")
	}
	assert.False(t, caller.State().IsCalling)
	assert.False(t, callee.State().IsCalling)

}
