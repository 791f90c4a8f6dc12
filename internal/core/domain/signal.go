package domain

import "encoding/json"

// SignalType identifies an out-of-band call-control message.
type SignalType string

const (
	SignalCallRequest  SignalType = "call_request"
	SignalCallAccept   SignalType = "call_accept"
	SignalCallReject   SignalType = "call_reject"
	SignalCallEnd      SignalType = "call_end"
	SignalGroupRequest SignalType = "group_call_request"
	SignalGroupJoin    SignalType = "group_call_join"
	SignalGroupLeave   SignalType = "group_call_leave"
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice_candidate"
	SignalConfControl  SignalType = "conference_control"
)

// SignalMessage is the JSON envelope exchanged over the signaling channel.
type SignalMessage struct {
	Type    SignalType      `json:"type"`
	From    UserID          `json:"from,omitempty"`
	To      UserID          `json:"to,omitempty"`
	Group   GroupID         `json:"group,omitempty"`
	CallID  CallID          `json:"call_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type CallRequestPayload struct {
	CallID   CallID              `json:"call_id"`
	CallType CallType            `json:"call_type"`
	Metadata CallMetadata        `json:"metadata,omitempty"`
	Offer    *SessionDescription `json:"offer,omitempty"`
}

type CallAcceptPayload struct {
	CallID CallID              `json:"call_id"`
	Answer *SessionDescription `json:"answer,omitempty"`
}

type CallRejectPayload struct {
	CallID CallID    `json:"call_id"`
	Reason EndReason `json:"reason"`
}

type CallEndPayload struct {
	CallID CallID    `json:"call_id"`
	Reason EndReason `json:"reason"`
}

type GroupJoinPayload struct {
	CallID CallID          `json:"call_id"`
	Role   ParticipantRole `json:"role"`
}

type GroupInvitePayload struct {
	CallID   CallID          `json:"call_id"`
	CallType CallType        `json:"call_type"`
	Role     ParticipantRole `json:"role"`
	Metadata CallMetadata    `json:"metadata,omitempty"`
}

// ConfControlAction is an in-conference control verb.
type ConfControlAction string

const (
	ConfActionMute              ConfControlAction = "participant-mute"
	ConfActionUnmute            ConfControlAction = "participant-unmute"
	ConfActionRoleChange        ConfControlAction = "role-change"
	ConfActionPresentationStart ConfControlAction = "presentation-start"
	ConfActionPresentationStop  ConfControlAction = "presentation-stop"
	ConfActionConferenceEnd     ConfControlAction = "conference-end"
)

type ConfControlPayload struct {
	CallID CallID            `json:"call_id"`
	Action ConfControlAction `json:"action"`
	Target UserID            `json:"target,omitempty"`
	Role   ParticipantRole   `json:"role,omitempty"`
}
