package call

import "github.com/pion/webrtc/v4"

// SessionState is a snapshot of the flags a host view renders.
type SessionState struct {
	IsCalling   bool
	IsCaller    bool
	IsConnected bool
	Err         error
}

// iceEffect is what one ICE connection state does to the session.
type iceEffect struct {
	connected bool  // mark the session connected
	err       error // record as the session error
	end       bool  // tear the call down (subject to Options.EndCallOnDisconnect)
}

// iceTransitions drives the session from ICE connection state changes.
// States missing from the table leave the session untouched.
var iceTransitions = map[webrtc.ICEConnectionState]iceEffect{
	webrtc.ICEConnectionStateConnected:    {connected: true},
	webrtc.ICEConnectionStateCompleted:    {connected: true},
	webrtc.ICEConnectionStateFailed:       {err: ErrConnectionFailed},
	webrtc.ICEConnectionStateDisconnected: {err: ErrConnectionLost, end: true},
}

// transitionFor returns the effect for state and whether one exists.
func transitionFor(state webrtc.ICEConnectionState) (iceEffect, bool) {
	effect, ok := iceTransitions[state]
	return effect, ok
}
