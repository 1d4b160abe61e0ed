package media

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Device-layer failures. Callers normalize them into a single error kind.
var (
	ErrPermissionDenied = errors.New("media: permission denied")
	ErrDeviceNotFound   = errors.New("media: requested device not found")
	ErrUnsatisfiable    = errors.New("media: constraints cannot be satisfied")
)

// Constraints selects which kinds a capture must produce.
type Constraints struct {
	Audio bool
	Video bool
}

// AudioVideo requests both an audio and a video track.
var AudioVideo = Constraints{Audio: true, Video: true}

// Device produces local streams.
type Device interface {
	Capture(ctx context.Context, c Constraints) (*LocalStream, error)
}

// opusSilence is a single 20ms Opus frame encoding silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const opusFrame = 20 * time.Millisecond

// vp8KeyFrame is a 16x16 VP8 key frame header (frame tag, start code,
// dimensions) with an empty first partition.
var vp8KeyFrame = []byte{
	0x10, 0x00, 0x00, // key frame, version 0, shown
	0x9d, 0x01, 0x2a, // start code
	0x10, 0x00, // width 16, no scaling
	0x10, 0x00, // height 16, no scaling
	0x00, 0x00, 0x00, 0x00,
}

const vp8Frame = 33 * time.Millisecond

// SyntheticDevice captures generated media: an Opus track fed with silence
// and a VP8 track repeating a blank key frame at ~30fps. It never needs hardware, which makes it
// the default for headless peers.
type SyntheticDevice struct {
	// Deny makes every capture fail as if permission was refused.
	Deny bool
}

func (d *SyntheticDevice) Capture(ctx context.Context, c Constraints) (*LocalStream, error) {
	if d.Deny {
		return nil, ErrPermissionDenied
	}
	if !c.Audio && !c.Video {
		return nil, ErrUnsatisfiable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := uuid.NewString()
	var tracks []*LocalTrack

	if c.Audio {
		audio, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio", streamID,
		)
		if err != nil {
			return nil, err
		}
		pumpCtx, cancel := context.WithCancel(context.Background())
		go pumpFrames(pumpCtx, audio, opusSilence, opusFrame)
		tracks = append(tracks, NewLocalTrack(audio, cancel))
	}

	if c.Video {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", streamID,
		)
		if err != nil {
			NewLocalStream(streamID, tracks...).Stop()
			return nil, err
		}
		pumpCtx, cancel := context.WithCancel(context.Background())
		go pumpFrames(pumpCtx, video, vp8KeyFrame, vp8Frame)
		tracks = append(tracks, NewLocalTrack(video, cancel))
	}

	return NewLocalStream(streamID, tracks...), nil
}

// pumpFrames writes the same frame every interval until ctx is cancelled.
func pumpFrames(ctx context.Context, track *webrtc.TrackLocalStaticSample, frame []byte, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := track.WriteSample(media.Sample{Data: frame, Duration: interval}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
