package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// FileDevice replays an IVF (VP8) file as the video source and an Ogg
// (Opus) file as the audio source. Both files loop until the track stops.
type FileDevice struct {
	AudioPath string
	VideoPath string
}

func (d *FileDevice) Capture(ctx context.Context, c Constraints) (*LocalStream, error) {
	if !c.Audio && !c.Video {
		return nil, ErrUnsatisfiable
	}
	if c.Audio && d.AudioPath == "" || c.Video && d.VideoPath == "" {
		return nil, ErrDeviceNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := uuid.NewString()
	var tracks []*LocalTrack
	fail := func(err error) (*LocalStream, error) {
		NewLocalStream(streamID, tracks...).Stop()
		return nil, err
	}

	if c.Audio {
		t, err := openOggTrack(d.AudioPath, streamID)
		if err != nil {
			return fail(err)
		}
		tracks = append(tracks, t)
	}

	if c.Video {
		t, err := openIVFTrack(d.VideoPath, streamID)
		if err != nil {
			return fail(err)
		}
		tracks = append(tracks, t)
	}

	return NewLocalStream(streamID, tracks...), nil
}

// openFile maps filesystem failures onto device errors.
func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	switch {
	case err == nil:
		return f, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, path)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
	default:
		return nil, err
	}
}

func openIVFTrack(path, streamID string) (*LocalTrack, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}

	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsatisfiable, path, err)
	}
	if header.FourCC != "VP80" {
		f.Close()
		return nil, fmt.Errorf("%w: %s: unsupported codec %q", ErrUnsatisfiable, path, header.FourCC)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", streamID,
	)
	if err != nil {
		f.Close()
		return nil, err
	}

	interval := time.Duration(float64(header.TimebaseNumerator)/float64(header.TimebaseDenominator)*1000) * time.Millisecond
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	go replayIVF(ctx, f, track, interval)
	return NewLocalTrack(track, cancel), nil
}

// replayIVF paces frames at the file's timebase and rewinds at EOF.
func replayIVF(ctx context.Context, f *os.File, track *webrtc.TrackLocalStaticSample, interval time.Duration) {
	defer f.Close()

	reader, err := rewindIVF(f)
	if err != nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			frame, _, err := reader.ParseNextFrame()
			if errors.Is(err, io.EOF) {
				if reader, err = rewindIVF(f); err != nil {
					return
				}
				continue
			}
			if err != nil {
				return
			}
			if err := track.WriteSample(media.Sample{Data: frame, Duration: interval}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func rewindIVF(f *os.File) (*ivfreader.IVFReader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	reader, _, err := ivfreader.NewWith(f)
	return reader, err
}

func openOggTrack(path, streamID string) (*LocalTrack, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}

	if _, _, err := oggreader.NewWith(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsatisfiable, path, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", streamID,
	)
	if err != nil {
		f.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	go replayOgg(ctx, f, track)
	return NewLocalTrack(track, cancel), nil
}

// replayOgg sends one page per tick; the page duration comes from the
// granule delta at 48kHz, as Opus always counts.
func replayOgg(ctx context.Context, f *os.File, track *webrtc.TrackLocalStaticSample) {
	defer f.Close()

	reader, err := rewindOgg(f)
	if err != nil {
		return
	}

	var lastGranule uint64
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			page, header, err := reader.ParseNextPage()
			if errors.Is(err, io.EOF) {
				if reader, err = rewindOgg(f); err != nil {
					return
				}
				lastGranule = 0
				continue
			}
			if err != nil {
				return
			}

			sampleCount := float64(header.GranulePosition - lastGranule)
			lastGranule = header.GranulePosition
			duration := time.Duration((sampleCount/48000)*1000) * time.Millisecond
			if duration <= 0 {
				continue
			}
			ticker.Reset(duration)

			if err := track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func rewindOgg(f *os.File) (*oggreader.OggReader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	reader, _, err := oggreader.NewWith(f)
	return reader, err
}
