package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

// opusSilence is a valid opus frame encoding 20ms of silence.
var opusSilence = []byte{0xF8, 0xFF, 0xFE}

// SyntheticDevices produces locally generated capture tracks: opus silence
// for audio and a synthetic pattern payload for video. It stands in where a
// hardware capture pipeline would otherwise be wired.
type SyntheticDevices struct {
	logger *zap.SugaredLogger
}

func NewSyntheticDevices(logger *zap.SugaredLogger) ports.MediaDevices {
	return &SyntheticDevices{logger: logger}
}

func (d *SyntheticDevices) GetUserMedia(ctx context.Context, audio, video bool) (*domain.MediaStream, error) {
	if !audio && !video {
		return nil, fmt.Errorf("get user media: at least one of audio, video required")
	}

	stream := &domain.MediaStream{ID: uuid.NewString()}
	if audio {
		track, err := newAudioSourceTrack(stream.ID)
		if err != nil {
			return nil, err
		}
		stream.Tracks = append(stream.Tracks, track)
	}
	if video {
		track, err := newVideoSourceTrack(stream.ID, "camera", 640, 480, 24)
		if err != nil {
			stream.StopAll()
			return nil, err
		}
		stream.Tracks = append(stream.Tracks, track)
	}

	d.logger.Debugw("user media acquired",
		"stream_id", stream.ID,
		"tracks", len(stream.Tracks),
	)
	return stream, nil
}

func (d *SyntheticDevices) GetDisplayMedia(ctx context.Context, includeAudio bool) (*domain.MediaStream, error) {
	stream := &domain.MediaStream{ID: uuid.NewString()}

	track, err := newVideoSourceTrack(stream.ID, "screen", 1280, 720, 15)
	if err != nil {
		return nil, err
	}
	stream.Tracks = append(stream.Tracks, track)

	if includeAudio {
		audio, err := newAudioSourceTrack(stream.ID)
		if err != nil {
			stream.StopAll()
			return nil, err
		}
		stream.Tracks = append(stream.Tracks, audio)
	}

	d.logger.Debugw("display media acquired", "stream_id", stream.ID)
	return stream, nil
}

func (d *SyntheticDevices) GetCameraTrack(ctx context.Context, cameraID string) (*domain.LocalTrack, error) {
	label := "camera"
	if cameraID != "" {
		label = cameraID
	}
	return newVideoSourceTrack(uuid.NewString(), label, 640, 480, 24)
}

// audioSource pumps opus silence frames at a fixed 20ms cadence.
type audioSource struct {
	track *webrtc.TrackLocalStaticSample

	done     chan struct{}
	stopOnce sync.Once
}

func newAudioSourceTrack(streamID string) (*domain.LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio-"+uuid.NewString(),
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	src := &audioSource{track: track, done: make(chan struct{})}
	go src.pump()

	return &domain.LocalTrack{Track: track, Kind: domain.TrackKindAudio, Source: src}, nil
}

func (s *audioSource) pump() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.track.WriteSample(media.Sample{Data: opusSilence, Duration: 20 * time.Millisecond})
		}
	}
}

// ApplyConstraints is a no-op for audio sources.
func (s *audioSource) ApplyConstraints(width, height, framerate int) error {
	return nil
}

func (s *audioSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// videoSource pumps synthetic frame payloads at the configured framerate.
// Constraint changes take effect on the next frame.
type videoSource struct {
	track *webrtc.TrackLocalStaticSample

	mu        sync.Mutex
	width     int
	height    int
	framerate int

	done     chan struct{}
	stopOnce sync.Once
}

func newVideoSourceTrack(streamID, label string, width, height, framerate int) (*domain.LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		fmt.Sprintf("video-%s-%s", label, uuid.NewString()),
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}

	src := &videoSource{
		track:     track,
		width:     width,
		height:    height,
		framerate: framerate,
		done:      make(chan struct{}),
	}
	go src.pump()

	return &domain.LocalTrack{Track: track, Kind: domain.TrackKindVideo, Source: src}, nil
}

func (s *videoSource) pump() {
	for {
		s.mu.Lock()
		fps := s.framerate
		size := s.width * s.height / 256
		s.mu.Unlock()
		if fps <= 0 {
			fps = 1
		}
		frameDuration := time.Second / time.Duration(fps)

		select {
		case <-s.done:
			return
		case <-time.After(frameDuration):
			s.track.WriteSample(media.Sample{
				Data:     make([]byte, size),
				Duration: frameDuration,
			})
		}
	}
}

func (s *videoSource) ApplyConstraints(width, height, framerate int) error {
	if width <= 0 || height <= 0 || framerate <= 0 {
		return fmt.Errorf("invalid video constraints %dx%d@%d", width, height, framerate)
	}
	s.mu.Lock()
	s.width = width
	s.height = height
	s.framerate = framerate
	s.mu.Unlock()
	return nil
}

func (s *videoSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}
