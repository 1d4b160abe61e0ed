package call

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/media"
	rtc "github.com/1ureka/p2pcall/internal/webrtc"
)

// PeerConnection is the negotiation surface a Session drives.
// *webrtc.Peer from internal/webrtc satisfies it.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sdp webrtc.SessionDescription) error
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(fn func(*webrtc.ICECandidate))
	OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState))
	OnTrack(fn func(media.RemoteTrack))
	Close() error
}

// PeerFactory creates a fresh PeerConnection for each call attempt.
type PeerFactory func() (PeerConnection, error)

// Options configures a Session. The zero value is not useful; start from
// DefaultOptions.
type Options struct {
	// Device supplies local media. Defaults to a SyntheticDevice.
	Device media.Device
	// Constraints for every capture. Defaults to audio+video.
	Constraints media.Constraints
	// NewPeer creates peer connections. Defaults to pion with ICEServers.
	NewPeer PeerFactory
	// ICEServers is used by the default factory.
	ICEServers []string

	// StopLocalMediaOnEndCall releases the camera/microphone on hangup.
	// When false the local stream survives EndCall and is reused by the
	// next call.
	StopLocalMediaOnEndCall bool
	// EndCallOnDisconnect tears the call down when ICE reports
	// "disconnected".
	EndCallOnDisconnect bool

	// OnNonFatal receives errors that are absorbed, such as a candidate
	// that cannot be added. Defaults to util.ReportNonFatal.
	OnNonFatal func(error)
	// Debug traces negotiation steps at info level.
	Debug bool
}

// DefaultOptions returns the options used by New when none are given.
func DefaultOptions() Options {
	return Options{
		Constraints:             media.AudioVideo,
		ICEServers:              rtc.DefaultSTUNServers,
		StopLocalMediaOnEndCall: true,
		EndCallOnDisconnect:     true,
	}
}

// PionFactory returns a factory backed by real pion peer connections.
func PionFactory(iceServers []string) PeerFactory {
	config := rtc.Configuration(iceServers)
	return func() (PeerConnection, error) {
		p, err := rtc.NewPeer(config)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
