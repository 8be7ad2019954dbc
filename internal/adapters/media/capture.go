// Package media provides the local capture implementation: sample tracks
// fed from IVF (VP8) and Ogg (Opus) files. With no files configured the
// tracks negotiate normally but carry no frames, which is enough for
// headless runs.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"

	"github.com/voxlink/voxlink/internal/core"
)

const opusSampleRate = 48000

// Devices opens file-backed capture. Implements core.MediaDevices.
type Devices struct {
	VideoFile string
	AudioFile string
}

func NewDevices(videoFile, audioFile string) *Devices {
	return &Devices{VideoFile: videoFile, AudioFile: audioFile}
}

// Acquire builds one audio and one video track on a shared stream id and
// starts the file feeders. Missing or unreadable files are fatal to the
// call attempt, mapped onto the capture error taxonomy.
func (d *Devices) Acquire(_ context.Context) (core.LocalMedia, error) {
	streamID := uuid.NewString()

	videoRTP, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		uuid.NewString(), streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrBadConstraints, err)
	}
	audioRTP, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: 2},
		uuid.NewString(), streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrBadConstraints, err)
	}

	video := newLocalTrack(core.TrackVideo, videoRTP)
	audio := newLocalTrack(core.TrackAudio, audioRTP)
	lm := &localMedia{tracks: []core.LocalTrack{audio, video}}

	if d.VideoFile != "" {
		f, err := openCapture(d.VideoFile)
		if err != nil {
			lm.Stop()
			return nil, err
		}
		go feedVideo(video, f)
	}
	if d.AudioFile != "" {
		f, err := openCapture(d.AudioFile)
		if err != nil {
			lm.Stop()
			return nil, err
		}
		go feedAudio(audio, f)
	}
	return lm, nil
}

func openCapture(path string) (*os.File, error) {
	f, err := os.Open(path)
	switch {
	case err == nil:
		return f, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", core.ErrNoDevice, path)
	case errors.Is(err, os.ErrPermission):
		return nil, fmt.Errorf("%w: %s", core.ErrPermissionDenied, path)
	default:
		return nil, fmt.Errorf("%w: %v", core.ErrDeviceBusy, err)
	}
}

type localMedia struct {
	tracks []core.LocalTrack
}

func (m *localMedia) Tracks() []core.LocalTrack { return m.tracks }

func (m *localMedia) Track(kind string) core.LocalTrack {
	for _, t := range m.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

func (m *localMedia) Stop() {
	for _, t := range m.tracks {
		t.Stop()
	}
}

type localTrack struct {
	kind    string
	track   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stopped atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
}

func newLocalTrack(kind string, track *webrtc.TrackLocalStaticSample) *localTrack {
	t := &localTrack{kind: kind, track: track, stop: make(chan struct{})}
	t.enabled.Store(true)
	return t
}

func (t *localTrack) Kind() string            { return t.kind }
func (t *localTrack) Enabled() bool           { return t.enabled.Load() }
func (t *localTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *localTrack) Stopped() bool           { return t.stopped.Load() }
func (t *localTrack) RTP() webrtc.TrackLocal  { return t.track }

func (t *localTrack) Stop() {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		close(t.stop)
	})
}

// feedVideo pushes IVF frames at the file's timebase, looping at EOF.
// A disabled track keeps pacing but writes nothing, so re-enabling is
// instant.
func feedVideo(t *localTrack, f *os.File) {
	defer f.Close()

	ivf, header, err := ivfreader.NewWith(f)
	if err != nil {
		log.Error().Err(err).Str("module", "media").Msg("read ivf header")
		return
	}
	frameDelay := time.Duration(
		(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator)) * float64(time.Second),
	)
	ticker := time.NewTicker(frameDelay)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}

		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return
			}
			if ivf, _, err = ivfreader.NewWith(f); err != nil {
				return
			}
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("module", "media").Msg("parse ivf frame")
			return
		}
		if !t.enabled.Load() {
			continue
		}
		if err := t.track.WriteSample(media.Sample{Data: frame, Duration: frameDelay}); err != nil {
			return
		}
	}
}

// feedAudio pushes Ogg pages paced by their granule positions.
func feedAudio(t *localTrack, f *os.File) {
	defer f.Close()

	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		log.Error().Err(err).Str("module", "media").Msg("read ogg header")
		return
	}

	var lastGranule uint64
	for {
		pageData, pageHeader, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return
			}
			if ogg, _, err = oggreader.NewWith(f); err != nil {
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("module", "media").Msg("parse ogg page")
			return
		}

		sampleCount := pageHeader.GranulePosition - lastGranule
		lastGranule = pageHeader.GranulePosition
		duration := time.Duration(sampleCount) * time.Second / opusSampleRate

		if t.enabled.Load() {
			if err := t.track.WriteSample(media.Sample{Data: pageData, Duration: duration}); err != nil {
				return
			}
		}

		select {
		case <-t.stop:
			return
		case <-time.After(duration):
		}
	}
}
