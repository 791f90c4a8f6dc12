package domain

import (
	"github.com/pion/webrtc/v3"
)

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// LocalTrack pairs an outbound pion track with the source that feeds it.
// Stop releases the capture resource; it must be safe to call twice.
type LocalTrack struct {
	Track  webrtc.TrackLocal
	Kind   TrackKind
	Source TrackSource
}

// TrackSource is the capture device behind a local track. Video sources accept
// constraint changes without renegotiation.
type TrackSource interface {
	ApplyConstraints(width, height, framerate int) error
	Stop()
}

// MediaStream is a bundle of local capture tracks. Streams are exclusively
// owned by the participant that acquired them and never shared across
// sessions.
type MediaStream struct {
	ID     string
	Tracks []*LocalTrack
}

// TracksOfKind returns the tracks matching kind.
func (m *MediaStream) TracksOfKind(kind TrackKind) []*LocalTrack {
	var out []*LocalTrack
	for _, t := range m.Tracks {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// StopAll stops every track source in the stream.
func (m *MediaStream) StopAll() {
	for _, t := range m.Tracks {
		if t.Source != nil {
			t.Source.Stop()
		}
	}
}

// RemoteStream collects the inbound tracks received from one remote user.
type RemoteStream struct {
	UserID UserID
	Tracks []*webrtc.TrackRemote
}
