// Package media models capture handles for a call: local streams built from
// pion sample tracks, remote streams assembled from OnTrack events, and the
// devices that produce local streams.
package media

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// LocalTrack is one captured track. Stop cancels whatever is feeding it;
// a stopped track never produces samples again.
type LocalTrack struct {
	track   webrtc.TrackLocal
	cancel  context.CancelFunc
	stopped atomic.Bool
	once    sync.Once
}

// NewLocalTrack wraps track. cancel may be nil for tracks nobody feeds.
func NewLocalTrack(track webrtc.TrackLocal, cancel context.CancelFunc) *LocalTrack {
	return &LocalTrack{track: track, cancel: cancel}
}

func (t *LocalTrack) Track() webrtc.TrackLocal  { return t.track }
func (t *LocalTrack) ID() string                { return t.track.ID() }
func (t *LocalTrack) Kind() webrtc.RTPCodecType { return t.track.Kind() }
func (t *LocalTrack) Stopped() bool             { return t.stopped.Load() }

// Stop is safe to call more than once.
func (t *LocalTrack) Stop() {
	t.once.Do(func() {
		t.stopped.Store(true)
		if t.cancel != nil {
			t.cancel()
		}
	})
}

// LocalStream groups the tracks returned by a single Capture call.
type LocalStream struct {
	id     string
	tracks []*LocalTrack
}

func NewLocalStream(id string, tracks ...*LocalTrack) *LocalStream {
	return &LocalStream{id: id, tracks: tracks}
}

func (s *LocalStream) ID() string { return s.id }

// Tracks returns a copy of the track list.
func (s *LocalStream) Tracks() []*LocalTrack {
	return append([]*LocalTrack(nil), s.tracks...)
}

// Stop stops every track of the stream.
func (s *LocalStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// Active reports whether at least one track is still running.
func (s *LocalStream) Active() bool {
	for _, t := range s.tracks {
		if !t.Stopped() {
			return true
		}
	}
	return false
}

// RemoteTrack is the session's view of a track received from the peer.
// Stop releases the receiving side of the track.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Stop() error
}

// RemoteStream is the set of remote tracks that share one stream ID.
type RemoteStream struct {
	id string

	mu     sync.Mutex
	tracks []RemoteTrack
}

func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id}
}

func (s *RemoteStream) ID() string { return s.id }

// AddTrack appends a track; tracks are kept in arrival order.
func (s *RemoteStream) AddTrack(t RemoteTrack) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RemoteTrack(nil), s.tracks...)
}

// Stop stops every track and drops them from the stream.
func (s *RemoteStream) Stop() error {
	s.mu.Lock()
	tracks := s.tracks
	s.tracks = nil
	s.mu.Unlock()

	var errs []error
	for _, t := range tracks {
		if err := t.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
