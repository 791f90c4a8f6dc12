package ports

import (
	"context"
	"time"

	"callmesh/internal/core/domain"
)

// CallConfig is the slice of runtime configuration the call core consumes.
// Updates apply on the next operation, never retroactively to live sessions.
type CallConfig struct {
	STUNServers               []string
	CallTimeout               time.Duration
	IdleSweepInterval         time.Duration
	IdleThreshold             time.Duration
	MaxConferenceParticipants int
	VideoPresets              map[string]domain.VideoQualityPreset
	QualityThresholds         map[domain.QualityTier]domain.QualityThreshold
}

type ConfigProvider interface {
	CallConfig() CallConfig
	OnConfigUpdate(func(CallConfig))
}

// MediaDevices acquires local capture streams. Streams belong to the caller
// and must be stopped by it.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, audio, video bool) (*domain.MediaStream, error)
	GetDisplayMedia(ctx context.Context, includeAudio bool) (*domain.MediaStream, error)
	GetCameraTrack(ctx context.Context, cameraID string) (*domain.LocalTrack, error)
}

// CallEvents is the only contract the application layer may depend on.
// Dispatch is synchronous within the emitting call.
type CallEvents interface {
	OnIncomingCall(session *domain.CallSession)
	OnCallStateChanged(callID domain.CallID, from, to domain.CallState)
	OnCallStarted(session *domain.CallSession)
	OnCallEnded(callID domain.CallID, reason domain.EndReason, duration time.Duration)
	OnCallFailed(callID domain.CallID, reason domain.EndReason)
	OnParticipantJoined(callID domain.CallID, participant *domain.Participant)
	OnParticipantLeft(callID domain.CallID, userID domain.UserID, reason domain.EndReason)
	OnParticipantMediaChanged(callID domain.CallID, userID domain.UserID, state domain.MediaState)
	OnRemoteStreamReceived(callID domain.CallID, userID domain.UserID, stream *domain.RemoteStream)
	OnLocalStreamReady(callID domain.CallID, stream *domain.MediaStream)
	OnGroupCallInvite(from domain.UserID, payload domain.GroupInvitePayload)
}

// CallService is the session-manager surface exposed to transports and the
// ops API.
type CallService interface {
	Initiate(ctx context.Context, target domain.UserID, callType domain.CallType, meta domain.CallMetadata) (*domain.CallSession, error)
	AcceptCall(ctx context.Context, callID domain.CallID) error
	RejectCall(ctx context.Context, callID domain.CallID, reason domain.EndReason) error
	EndCall(ctx context.Context, callID domain.CallID, reason domain.EndReason) error

	CreateConference(ctx context.Context, groupID domain.GroupID, callType domain.CallType, meta domain.CallMetadata) (*domain.CallSession, error)
	JoinConference(ctx context.Context, callID domain.CallID, role domain.ParticipantRole) error
	InviteToConference(ctx context.Context, callID domain.CallID, userIDs []domain.UserID, role domain.ParticipantRole) error
	LeaveConference(ctx context.Context, callID domain.CallID, reason domain.EndReason) error
	SetParticipantRole(ctx context.Context, callID domain.CallID, target domain.UserID, role domain.ParticipantRole) error
	MuteParticipant(ctx context.Context, callID domain.CallID, target domain.UserID, muted bool) error

	ToggleAudio(ctx context.Context, callID domain.CallID, enabled bool) error
	ToggleVideo(ctx context.Context, callID domain.CallID, enabled bool) error
	ToggleSpeaker(ctx context.Context, callID domain.CallID, enabled bool) error
	StartScreenShare(ctx context.Context, callID domain.CallID, includeAudio bool) error
	StopScreenShare(ctx context.Context, callID domain.CallID, cameraID string) error
	SwitchCamera(ctx context.Context, callID domain.CallID, cameraID string) error
	AdjustQuality(ctx context.Context, callID domain.CallID, preset string) error
	AutoAdjustQuality(ctx context.Context, callID domain.CallID) (domain.QualityTier, error)

	ActiveCalls() []*domain.CallSession
	GetCall(callID domain.CallID) (*domain.CallSession, bool)
	Statistics() domain.CallStatistics
	AddListener(CallEvents)
}
