package domain

import "time"

type ParticipantRole string

const (
	RoleHost        ParticipantRole = "host"
	RoleModerator   ParticipantRole = "moderator"
	RoleParticipant ParticipantRole = "participant"
	RoleObserver    ParticipantRole = "observer"
)

// CanInvite reports whether the role may invite or remove participants.
func (r ParticipantRole) CanInvite() bool {
	return r == RoleHost || r == RoleModerator
}

// CanMuteOthers reports whether the role may mute other participants.
func (r ParticipantRole) CanMuteOthers() bool {
	return r == RoleHost || r == RoleModerator
}

// CanManageRoles reports whether the role may reassign participant roles.
func (r ParticipantRole) CanManageRoles() bool {
	return r == RoleHost
}

// MediaState tracks which local media a participant is sending or receiving.
type MediaState struct {
	AudioEnabled   bool `json:"audio_enabled"`
	VideoEnabled   bool `json:"video_enabled"`
	SpeakerEnabled bool `json:"speaker_enabled"`
	MicMuted       bool `json:"mic_muted"`
	CameraOff      bool `json:"camera_off"`
	ScreenSharing  bool `json:"screen_sharing"`
}

// Participant is one user inside a CallSession.
type Participant struct {
	UserID          UserID
	IsLocal         bool
	MediaState      MediaState
	ConnectionState PeerState
	JoinedAt        time.Time
	Stream          *MediaStream

	// Conference-only fields.
	Role          ParticipantRole
	IsPresenting  bool
	IsMutedByHost bool
	Pending       bool // invited but not yet joined
}

func NewLocalParticipant(userID UserID, callType CallType) *Participant {
	return &Participant{
		UserID:  userID,
		IsLocal: true,
		MediaState: MediaState{
			AudioEnabled:   true,
			VideoEnabled:   callType != CallTypeAudio,
			SpeakerEnabled: true,
		},
		JoinedAt: time.Now(),
	}
}

func NewRemoteParticipant(userID UserID) *Participant {
	return &Participant{
		UserID:   userID,
		JoinedAt: time.Now(),
		MediaState: MediaState{
			AudioEnabled:   true,
			VideoEnabled:   true,
			SpeakerEnabled: true,
		},
	}
}
