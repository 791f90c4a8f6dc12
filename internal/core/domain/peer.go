package domain

import "time"

// PeerState mirrors the lifecycle of an underlying peer transport.
type PeerState string

const (
	PeerStateNew          PeerState = "new"
	PeerStateConnecting   PeerState = "connecting"
	PeerStateConnected    PeerState = "connected"
	PeerStateDisconnected PeerState = "disconnected"
	PeerStateFailed       PeerState = "failed"
	PeerStateClosed       PeerState = "closed"
)

// PeerInfo is the engine's externally visible view of one transport record.
type PeerInfo struct {
	UserID       UserID
	State        PeerState
	IsInitiator  bool
	HasLocal     bool
	HasRemote    bool
	HasDataCh    bool
	CreatedAt    time.Time
	LastActivity time.Time
}

// SessionDescription is the negotiated media description exchanged between
// peers. SDPType is "offer" or "answer".
type SessionDescription struct {
	SDPType string `json:"type"`
	SDP     string `json:"sdp"`
}

// ICECandidate is a network path proposal exchanged to establish connectivity
// through NAT.
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid,omitempty"`
	SDPMLineIndex uint16 `json:"sdp_mline_index,omitempty"`
}
