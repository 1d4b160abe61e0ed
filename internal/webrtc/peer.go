// Package webrtc adapts pion PeerConnections to the narrow surface a call
// session negotiates through.
package webrtc

import (
	"errors"
	"io"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/media"
	"github.com/1ureka/p2pcall/internal/util"
)

// DefaultSTUNServers are used when no ICE servers are configured. No TURN:
// calls aim for direct connectivity.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Configuration builds a pion configuration from STUN/TURN URLs.
func Configuration(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: iceServers},
		},
	}
}

// Peer wraps a single pion PeerConnection. It is safe for concurrent use.
type Peer struct {
	pc *webrtc.PeerConnection
}

// NewPeer creates a Peer with the default codecs and interceptors.
func NewPeer(config webrtc.Configuration) (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}
	return &Peer{pc: pc}, nil
}

// AddTrack attaches a local track and drains the RTCP the remote side sends
// back for it. Interceptors (NACK, reports) only run while RTCP is read.
func (p *Peer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return err
	}
	go readRTCP(sender)
	return nil
}

// readRTCP exits once the sender is stopped or the connection closes.
func readRTCP(sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				util.LogDebug("rtcp read stopped: %v", err)
			}
			return
		}
		util.Stats.AddRTCP(len(pkts))
		for _, pkt := range pkts {
			if pli, ok := pkt.(*rtcp.PictureLossIndication); ok {
				util.LogDebug("remote requested keyframe (ssrc=%d)", pli.MediaSSRC)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *Peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (p *Peer) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(fn)
}

func (p *Peer) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	p.pc.OnICEConnectionStateChange(fn)
}

// OnTrack delivers remote tracks together with the means to stop them.
func (p *Peer) OnTrack(fn func(media.RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		fn(&remoteTrack{track: track, receiver: receiver})
	})
}

// Close shuts down the PeerConnection and every transceiver.
func (p *Peer) Close() error {
	return p.pc.Close()
}

// remoteTrack adapts a pion remote track to media.RemoteTrack.
type remoteTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

func (t *remoteTrack) ID() string                { return t.track.ID() }
func (t *remoteTrack) StreamID() string          { return t.track.StreamID() }
func (t *remoteTrack) Kind() webrtc.RTPCodecType { return t.track.Kind() }
func (t *remoteTrack) Stop() error               { return t.receiver.Stop() }
