package services

import (
	"context"
	"encoding/json"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
)

// signalEvents adapts inbound signaling callbacks onto the session manager.
// A separate type keeps the two OnICECandidate shapes from colliding.
type signalEvents struct{ m *SessionManager }

func (e signalEvents) OnCallRequest(from domain.UserID, p domain.CallRequestPayload) {
	e.m.handleCallRequest(from, p)
}

func (e signalEvents) OnCallAccept(from domain.UserID, p domain.CallAcceptPayload) {
	e.m.handleCallAccept(from, p)
}

func (e signalEvents) OnCallReject(from domain.UserID, p domain.CallRejectPayload) {
	e.m.handleCallReject(from, p)
}

func (e signalEvents) OnCallEnd(from domain.UserID, p domain.CallEndPayload) {
	e.m.handleCallEnd(from, p)
}

func (e signalEvents) OnGroupCallRequest(from domain.UserID, group domain.GroupID, p domain.GroupInvitePayload) {
	e.m.handleGroupInvite(from, group, p)
}

func (e signalEvents) OnGroupCallJoin(from domain.UserID, group domain.GroupID, p domain.GroupJoinPayload) {
	e.m.handleGroupJoin(from, group, p)
}

func (e signalEvents) OnGroupCallLeave(from domain.UserID, group domain.GroupID, p domain.CallEndPayload) {
	e.m.handleGroupLeave(from, p)
}

func (e signalEvents) OnOffer(from domain.UserID, callID domain.CallID, desc domain.SessionDescription) {
	e.m.handleOffer(from, callID, desc)
}

func (e signalEvents) OnAnswer(from domain.UserID, callID domain.CallID, desc domain.SessionDescription) {
	e.m.handleAnswer(from, desc)
}

func (e signalEvents) OnICECandidate(from domain.UserID, callID domain.CallID, cand domain.ICECandidate) {
	if err := e.m.engine.AddICECandidate(from, cand); err != nil {
		e.m.logger.Debugw("dropping ice candidate", "peer", from, "error", err)
	}
}

func (e signalEvents) OnConferenceControl(from domain.UserID, p domain.ConfControlPayload) {
	e.m.handleConferenceControl(from, p)
}

// engineEvents adapts transport callbacks onto the session manager.
type engineEvents struct{ m *SessionManager }

func (e engineEvents) OnPeerStateChanged(userID domain.UserID, state domain.PeerState) {
	e.m.handlePeerStateChanged(userID, state)
}

func (e engineEvents) OnICECandidate(userID domain.UserID, cand domain.ICECandidate) {
	session, ok := e.m.callForPeer(userID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.m.signaling.SendICECandidate(ctx, userID, session.ID, cand); err != nil {
		e.m.logger.Warnw("failed to relay ice candidate", "peer", userID, "error", err)
	}
}

func (e engineEvents) OnRemoteTrack(userID domain.UserID, stream *domain.RemoteStream) {
	e.m.handleRemoteTrack(userID, stream)
}

func (e engineEvents) OnDataChannelOpen(userID domain.UserID) {
	e.m.broadcastMediaState(userID)
}

func (e engineEvents) OnDataChannelClose(userID domain.UserID) {}

func (e engineEvents) OnDataChannelMessage(userID domain.UserID, data []byte) {
	e.m.handleDataChannelMessage(userID, data)
}

func (e engineEvents) OnEngineError(userID domain.UserID, err error) {
	e.m.logger.Warnw("transport error", "peer", userID, "error", err)
}

// handleCallRequest processes an inbound 1:1 invitation. A node already in a
// call answers busy without surfacing the invitation.
func (m *SessionManager) handleCallRequest(from domain.UserID, p domain.CallRequestPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m.mu.Lock()
	if m.hasLiveSessionLocked() {
		m.mu.Unlock()
		m.logger.Infow("rejecting call while busy", "call_id", p.CallID, "from", from)
		if err := m.signaling.SendCallReject(ctx, from, domain.CallRejectPayload{
			CallID: p.CallID,
			Reason: domain.EndReasonBusy,
		}); err != nil {
			m.logger.Warnw("failed to send busy reject", "call_id", p.CallID, "error", err)
		}
		return
	}

	session := &domain.CallSession{
		ID:           p.CallID,
		Type:         p.CallType,
		Direction:    domain.DirectionIncoming,
		State:        domain.CallStateRinging,
		Participants: make(map[domain.UserID]*domain.Participant),
		LocalUserID:  m.localUserID,
		Metadata:     p.Metadata,
		CreatedAt:    time.Now(),
	}
	session.Participants[m.localUserID] = domain.NewLocalParticipant(m.localUserID, p.CallType)
	session.Participants[from] = domain.NewRemoteParticipant(from)

	m.sessions[p.CallID] = session
	m.peerCalls[from] = p.CallID
	if p.Offer != nil {
		m.pendingOffers[p.CallID] = *p.Offer
	}
	m.mu.Unlock()

	m.logger.Infow("incoming call", "call_id", p.CallID, "from", from, "call_type", p.CallType)
	if m.metrics != nil {
		m.metrics.CallStarted(p.CallType, domain.DirectionIncoming)
	}

	m.armRingTimer(p.CallID)
	m.emit(func(l ports.CallEvents) { l.OnIncomingCall(session) })
}

func (m *SessionManager) handleCallAccept(from domain.UserID, p domain.CallAcceptPayload) {
	m.mu.Lock()
	session, ok := m.sessions[p.CallID]
	if !ok || session.Direction != domain.DirectionOutgoing || session.State != domain.CallStateRinging {
		m.mu.Unlock()
		m.logger.Debugw("ignoring stale call accept", "call_id", p.CallID, "from", from)
		return
	}
	m.mu.Unlock()

	m.cancelRingTimer(p.CallID)
	m.transition(p.CallID, domain.CallStateConnecting)

	if p.Answer != nil {
		if err := m.engine.SetRemoteDescription(from, *p.Answer); err != nil {
			m.logger.Errorw("failed to apply answer", "call_id", p.CallID, "error", err)
			m.finish(p.CallID, domain.EndReasonFailed)
		}
	}
}

func (m *SessionManager) handleCallReject(from domain.UserID, p domain.CallRejectPayload) {
	m.mu.Lock()
	session, ok := m.sessions[p.CallID]
	if !ok || session.Direction != domain.DirectionOutgoing || session.State.IsTerminal() {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	reason := p.Reason
	if reason == "" {
		reason = domain.EndReasonRejected
	}
	m.logger.Infow("call rejected by remote", "call_id", p.CallID, "from", from, "reason", reason)
	m.finish(p.CallID, reason)
}

func (m *SessionManager) handleCallEnd(from domain.UserID, p domain.CallEndPayload) {
	m.mu.Lock()
	_, ok := m.sessions[p.CallID]
	m.mu.Unlock()
	if !ok {
		return
	}

	reason := p.Reason
	if reason == "" {
		reason = domain.EndReasonNormal
	}
	m.logger.Infow("call ended by remote", "call_id", p.CallID, "from", from, "reason", reason)
	m.finish(p.CallID, reason)
}

// handleOffer applies a renegotiation offer from an established peer, or the
// initial offer from a conference peer connecting to us.
func (m *SessionManager) handleOffer(from domain.UserID, callID domain.CallID, desc domain.SessionDescription) {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok || session.State.IsTerminal() {
		m.mu.Unlock()
		return
	}
	if _, known := m.peerCalls[from]; !known {
		m.peerCalls[from] = callID
	}
	stream := m.localStreams[callID]
	_, hasPeer := session.Participants[from]
	m.mu.Unlock()

	if !hasPeer {
		m.logger.Debugw("offer from unknown participant", "call_id", callID, "from", from)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, exists := m.engine.PeerInfo(from); !exists {
		if err := m.engine.CreatePeerConnection(from, false); err != nil {
			m.logger.Errorw("failed to create peer for offer", "peer", from, "error", err)
			return
		}
		if stream != nil {
			if err := m.engine.AddLocalStream(from, stream); err != nil {
				m.logger.Errorw("failed to attach local stream", "peer", from, "error", err)
			}
		}
	}

	if err := m.engine.SetRemoteDescription(from, desc); err != nil {
		m.logger.Errorw("failed to apply offer", "peer", from, "error", err)
		return
	}
	answer, err := m.engine.CreateAnswer(ctx, from)
	if err != nil {
		m.logger.Errorw("failed to create answer", "peer", from, "error", err)
		return
	}
	if err := m.signaling.SendAnswer(ctx, from, callID, answer); err != nil {
		m.logger.Warnw("failed to send answer", "peer", from, "error", err)
	}
}

func (m *SessionManager) handleAnswer(from domain.UserID, desc domain.SessionDescription) {
	if err := m.engine.SetRemoteDescription(from, desc); err != nil {
		m.logger.Errorw("failed to apply answer", "peer", from, "error", err)
	}
}

// handlePeerStateChanged reflects transport state onto the owning session.
func (m *SessionManager) handlePeerStateChanged(userID domain.UserID, state domain.PeerState) {
	session, ok := m.callForPeer(userID)
	if !ok {
		return
	}
	callID := session.ID

	m.mu.Lock()
	if p, exists := session.Participants[userID]; exists {
		p.ConnectionState = state
	}
	isGroup := session.IsGroup
	m.mu.Unlock()

	switch state {
	case domain.PeerStateConnected:
		if m.metrics != nil {
			m.metrics.PeerConnected()
		}
		m.markConnected(callID)

	case domain.PeerStateFailed:
		if isGroup {
			m.handleConferencePeerFailure(callID, userID)
		} else {
			m.logger.Warnw("peer transport failed", "call_id", callID, "peer", userID)
			m.finish(callID, domain.EndReasonFailed)
		}

	case domain.PeerStateClosed:
		if isGroup {
			m.removeConferenceParticipant(callID, userID, domain.EndReasonLeft)
		}
	}
}

func (m *SessionManager) handleRemoteTrack(userID domain.UserID, stream *domain.RemoteStream) {
	session, ok := m.callForPeer(userID)
	if !ok {
		return
	}

	m.emit(func(l ports.CallEvents) { l.OnRemoteStreamReceived(session.ID, userID, stream) })
}

// dataChannelEnvelope is the in-band control message exchanged over the peer
// data channel. Only media state travels this way; call control stays on the
// signaling channel.
type dataChannelEnvelope struct {
	Type  string            `json:"type"`
	State domain.MediaState `json:"state,omitempty"`
}

const dataChannelMediaState = "media_state"

func (m *SessionManager) handleDataChannelMessage(userID domain.UserID, data []byte) {
	var env dataChannelEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.logger.Debugw("undecodable data channel message", "peer", userID, "error", err)
		return
	}
	if env.Type != dataChannelMediaState {
		return
	}

	session, ok := m.callForPeer(userID)
	if !ok {
		return
	}

	m.mu.Lock()
	if p, exists := session.Participants[userID]; exists {
		p.MediaState = env.State
	}
	m.mu.Unlock()

	m.emit(func(l ports.CallEvents) { l.OnParticipantMediaChanged(session.ID, userID, env.State) })
}

// broadcastMediaState pushes the local media state to one peer, typically
// right after its data channel opens.
func (m *SessionManager) broadcastMediaState(userID domain.UserID) {
	session, ok := m.callForPeer(userID)
	if !ok {
		return
	}

	m.mu.Lock()
	local := session.LocalParticipant()
	var state domain.MediaState
	if local != nil {
		state = local.MediaState
	}
	m.mu.Unlock()

	if err := m.engine.SendDataChannelMessage(userID, dataChannelEnvelope{
		Type:  dataChannelMediaState,
		State: state,
	}); err != nil {
		m.logger.Debugw("failed to push media state", "peer", userID, "error", err)
	}
}
