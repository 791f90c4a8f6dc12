package domain

import (
	"time"
)

type CallID string
type UserID string
type GroupID string

type CallType string

const (
	CallTypeAudio       CallType = "audio"
	CallTypeVideo       CallType = "video"
	CallTypeScreenShare CallType = "screen_share"
)

type CallDirection string

const (
	DirectionOutgoing CallDirection = "outgoing"
	DirectionIncoming CallDirection = "incoming"
)

type CallState string

const (
	CallStateIdle       CallState = "idle"
	CallStateInitiating CallState = "initiating"
	CallStateRinging    CallState = "ringing"
	CallStateConnecting CallState = "connecting"
	CallStateConnected  CallState = "connected"
	CallStateEnded      CallState = "ended"
	CallStateFailed     CallState = "failed"
	CallStateRejected   CallState = "rejected"

	// Conference-only pre-states, before the session accepts joiners.
	CallStateCreating CallState = "creating"
	CallStateWaiting  CallState = "waiting"
	CallStateActive   CallState = "active"
)

// IsTerminal reports whether a session in this state is finished and must be
// discarded rather than transitioned further.
func (s CallState) IsTerminal() bool {
	return s == CallStateEnded || s == CallStateFailed || s == CallStateRejected
}

// CallMetadata is the closed set of application metadata a session may carry.
type CallMetadata struct {
	CaseID   string            `json:"case_id,omitempty"`
	Subject  string            `json:"subject,omitempty"`
	Priority string            `json:"priority,omitempty"`
	Custom   map[string]string `json:"custom,omitempty"`
}

// CallSession is one call or conference. The session manager owns these
// exclusively; they are never reused after reaching a terminal state.
type CallSession struct {
	ID           CallID
	Type         CallType
	Direction    CallDirection
	State        CallState
	Participants map[UserID]*Participant
	LocalUserID  UserID
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	IsGroup      bool
	GroupID      GroupID
	Metadata     CallMetadata
	CreatedAt    time.Time
}

// LocalParticipant returns the single participant with IsLocal set.
func (c *CallSession) LocalParticipant() *Participant {
	return c.Participants[c.LocalUserID]
}

// RemoteParticipants returns every participant except the local one.
func (c *CallSession) RemoteParticipants() []*Participant {
	remotes := make([]*Participant, 0, len(c.Participants))
	for _, p := range c.Participants {
		if !p.IsLocal {
			remotes = append(remotes, p)
		}
	}
	return remotes
}

// EndReason carried on teardown signals and listener notifications.
type EndReason string

const (
	EndReasonNormal   EndReason = "normal"
	EndReasonBusy     EndReason = "busy"
	EndReasonTimeout  EndReason = "timeout"
	EndReasonFailed   EndReason = "connection_failed"
	EndReasonRejected EndReason = "rejected"
	EndReasonLeft     EndReason = "left"
)

// CallOutcome classifies a finished session for statistics and records.
type CallOutcome string

const (
	OutcomeCompleted CallOutcome = "completed"
	OutcomeFailed    CallOutcome = "failed"
	OutcomeRejected  CallOutcome = "rejected"
	OutcomeMissed    CallOutcome = "missed"
)

// CallRecord is the persisted summary of a finished call.
type CallRecord struct {
	CallID           CallID        `json:"call_id"`
	Type             CallType      `json:"type"`
	Direction        CallDirection `json:"direction"`
	Outcome          CallOutcome   `json:"outcome"`
	Reason           EndReason     `json:"reason"`
	Duration         time.Duration `json:"duration"`
	ParticipantCount int           `json:"participant_count"`
	IsGroup          bool          `json:"is_group"`
	EndedAt          time.Time     `json:"ended_at"`
}

// CallStatistics aggregates terminated sessions. Only sessions that reached
// connected contribute to the duration figures.
type CallStatistics struct {
	TotalInitiated  int
	TotalCompleted  int
	TotalFailed     int
	TotalRejected   int
	TotalDuration   time.Duration
	AverageDuration time.Duration
}
