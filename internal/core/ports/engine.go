package ports

import (
	"context"

	"callmesh/internal/core/domain"
)

// ConnectionEngine owns one peer transport per remote user. It has no
// knowledge of call semantics.
type ConnectionEngine interface {
	Init(ctx context.Context) error
	CreatePeerConnection(userID domain.UserID, isInitiator bool) error
	AddLocalStream(userID domain.UserID, stream *domain.MediaStream) error
	RemoveLocalStream(userID domain.UserID) error
	CreateOffer(ctx context.Context, userID domain.UserID) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context, userID domain.UserID) (domain.SessionDescription, error)
	SetRemoteDescription(userID domain.UserID, desc domain.SessionDescription) error
	AddICECandidate(userID domain.UserID, cand domain.ICECandidate) error
	ReplaceMediaTrack(userID domain.UserID, track *domain.LocalTrack) error
	StartScreenShare(ctx context.Context, userID domain.UserID, includeAudio bool) error
	StopScreenShare(ctx context.Context, userID domain.UserID, cameraID string) error
	AdjustVideoQuality(userID domain.UserID, preset string) error
	AdjustVideoQualityCustom(userID domain.UserID, width, height, framerate int) error
	DetectNetworkQuality(ctx context.Context, userID domain.UserID) (domain.NetworkQualitySample, error)
	AutoAdjustVideoQuality(ctx context.Context, userID domain.UserID) (domain.QualityTier, error)
	SendDataChannelMessage(userID domain.UserID, payload interface{}) error
	ClosePeerConnection(userID domain.UserID)
	CloseAll()
	PeerInfo(userID domain.UserID) (domain.PeerInfo, bool)
	Peers() []domain.PeerInfo
	SetEvents(events EngineEvents)
}

// EngineEvents receives transport-level callbacks from the engine.
type EngineEvents interface {
	OnPeerStateChanged(userID domain.UserID, state domain.PeerState)
	OnICECandidate(userID domain.UserID, cand domain.ICECandidate)
	OnRemoteTrack(userID domain.UserID, stream *domain.RemoteStream)
	OnDataChannelOpen(userID domain.UserID)
	OnDataChannelClose(userID domain.UserID)
	OnDataChannelMessage(userID domain.UserID, data []byte)
	OnEngineError(userID domain.UserID, err error)
}
