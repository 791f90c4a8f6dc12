package ports

import (
	"context"

	"callmesh/internal/core/domain"
)

// SignalingChannel is the out-of-band transport for call-control and
// negotiation messages. Delivery is at most once per send; retries are the
// channel's concern.
type SignalingChannel interface {
	SendCallRequest(ctx context.Context, to domain.UserID, p domain.CallRequestPayload) error
	SendCallAccept(ctx context.Context, to domain.UserID, p domain.CallAcceptPayload) error
	SendCallReject(ctx context.Context, to domain.UserID, p domain.CallRejectPayload) error
	SendCallEnd(ctx context.Context, to domain.UserID, p domain.CallEndPayload) error

	SendGroupRequest(ctx context.Context, group domain.GroupID, to domain.UserID, p domain.GroupInvitePayload) error
	SendGroupJoin(ctx context.Context, group domain.GroupID, p domain.GroupJoinPayload) error
	SendGroupLeave(ctx context.Context, group domain.GroupID, p domain.CallEndPayload) error
	SendConferenceControl(ctx context.Context, group domain.GroupID, p domain.ConfControlPayload) error

	SendOffer(ctx context.Context, to domain.UserID, callID domain.CallID, desc domain.SessionDescription) error
	SendAnswer(ctx context.Context, to domain.UserID, callID domain.CallID, desc domain.SessionDescription) error
	SendICECandidate(ctx context.Context, to domain.UserID, callID domain.CallID, cand domain.ICECandidate) error

	SetEventListeners(events SignalEvents)
	Close() error
}

// SignalEvents receives inbound signaling messages.
type SignalEvents interface {
	OnCallRequest(from domain.UserID, p domain.CallRequestPayload)
	OnCallAccept(from domain.UserID, p domain.CallAcceptPayload)
	OnCallReject(from domain.UserID, p domain.CallRejectPayload)
	OnCallEnd(from domain.UserID, p domain.CallEndPayload)
	OnGroupCallRequest(from domain.UserID, group domain.GroupID, p domain.GroupInvitePayload)
	OnGroupCallJoin(from domain.UserID, group domain.GroupID, p domain.GroupJoinPayload)
	OnGroupCallLeave(from domain.UserID, group domain.GroupID, p domain.CallEndPayload)
	OnOffer(from domain.UserID, callID domain.CallID, desc domain.SessionDescription)
	OnAnswer(from domain.UserID, callID domain.CallID, desc domain.SessionDescription)
	OnICECandidate(from domain.UserID, callID domain.CallID, cand domain.ICECandidate)
	OnConferenceControl(from domain.UserID, p domain.ConfControlPayload)
}
