package domain

import "errors"

var (
	ErrNotInitialized     = errors.New("engine not initialized")
	ErrPeerNotFound       = errors.New("peer connection not found")
	ErrCallNotFound       = errors.New("call not found")
	ErrCallAlreadyActive  = errors.New("a call is already active")
	ErrInvalidCallState   = errors.New("operation not valid in current call state")
	ErrNotIncomingCall    = errors.New("call is not incoming")
	ErrPermissionDenied   = errors.New("insufficient conference role")
	ErrDataChannelClosed  = errors.New("data channel does not exist or is not open")
	ErrUnknownPreset      = errors.New("unknown video quality preset")
	ErrConferenceFull     = errors.New("conference participant limit reached")
	ErrNotConference      = errors.New("call is not a conference")
	ErrMutedByHost        = errors.New("participant is muted by the host")
	ErrSignalingClosed    = errors.New("signaling channel is closed")
	ErrMediaUnavailable   = errors.New("media acquisition failed")
	ErrNegotiationPending = errors.New("negotiation already in progress for peer")
)
