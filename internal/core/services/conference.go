package services

import (
	"context"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"

	"github.com/google/uuid"
)

// CreateConference starts a group call with the local user as host. The
// session waits for joiners; peers connect in a full mesh as they arrive.
func (m *SessionManager) CreateConference(ctx context.Context, groupID domain.GroupID, callType domain.CallType, meta domain.CallMetadata) (*domain.CallSession, error) {
	m.mu.Lock()
	if m.hasLiveSessionLocked() {
		m.mu.Unlock()
		return nil, domain.ErrCallAlreadyActive
	}

	callID := domain.CallID(uuid.New().String())
	session := &domain.CallSession{
		ID:           callID,
		Type:         callType,
		Direction:    domain.DirectionOutgoing,
		State:        domain.CallStateCreating,
		Participants: make(map[domain.UserID]*domain.Participant),
		LocalUserID:  m.localUserID,
		IsGroup:      true,
		GroupID:      groupID,
		Metadata:     meta,
		CreatedAt:    time.Now(),
	}
	local := domain.NewLocalParticipant(m.localUserID, callType)
	local.Role = domain.RoleHost
	session.Participants[m.localUserID] = local

	m.sessions[callID] = session
	m.stats.TotalInitiated++
	m.mu.Unlock()

	m.logger.Infow("creating conference",
		"call_id", callID,
		"group_id", groupID,
		"call_type", callType,
	)
	if m.metrics != nil {
		m.metrics.CallStarted(callType, domain.DirectionOutgoing)
	}

	if _, err := m.acquireMedia(ctx, callID, callType); err != nil {
		m.finish(callID, domain.EndReasonFailed)
		return nil, err
	}

	m.transition(callID, domain.CallStateWaiting)
	return session, nil
}

// JoinConference accepts a previously received group invitation. The local
// node only announces itself to the group; it does not dial anyone. Each
// existing member reacts to the announcement in handleGroupJoin by sending
// the joiner an offer, which builds the same full mesh from the other end.
func (m *SessionManager) JoinConference(ctx context.Context, callID domain.CallID, role domain.ParticipantRole) error {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok {
		m.mu.Unlock()
		return domain.ErrCallNotFound
	}
	if !session.IsGroup {
		m.mu.Unlock()
		return domain.ErrNotConference
	}
	if session.State != domain.CallStateWaiting {
		m.mu.Unlock()
		return domain.ErrInvalidCallState
	}
	groupID := session.GroupID
	callType := session.Type
	if role == "" {
		role = domain.RoleParticipant
	}
	if local := session.LocalParticipant(); local != nil {
		local.Role = role
	}
	m.mu.Unlock()

	if _, err := m.acquireMedia(ctx, callID, callType); err != nil {
		m.finish(callID, domain.EndReasonFailed)
		return err
	}

	m.transition(callID, domain.CallStateConnecting)
	return m.signaling.SendGroupJoin(ctx, groupID, domain.GroupJoinPayload{
		CallID: callID,
		Role:   role,
	})
}

// InviteToConference sends group invitations. Requires a role that may
// invite.
func (m *SessionManager) InviteToConference(ctx context.Context, callID domain.CallID, userIDs []domain.UserID, role domain.ParticipantRole) error {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok {
		m.mu.Unlock()
		return domain.ErrCallNotFound
	}
	if !session.IsGroup {
		m.mu.Unlock()
		return domain.ErrNotConference
	}
	local := session.LocalParticipant()
	if local == nil || !local.Role.CanInvite() {
		m.mu.Unlock()
		return domain.ErrPermissionDenied
	}

	limit := m.provider.CallConfig().MaxConferenceParticipants
	if limit > 0 && len(session.Participants)+len(userIDs) > limit {
		m.mu.Unlock()
		return domain.ErrConferenceFull
	}
	if role == "" {
		role = domain.RoleParticipant
	}
	for _, id := range userIDs {
		if _, exists := session.Participants[id]; exists {
			continue
		}
		p := domain.NewRemoteParticipant(id)
		p.Role = role
		p.Pending = true
		session.Participants[id] = p
	}
	groupID := session.GroupID
	callType := session.Type
	meta := session.Metadata
	m.mu.Unlock()

	payload := domain.GroupInvitePayload{
		CallID:   callID,
		CallType: callType,
		Role:     role,
		Metadata: meta,
	}
	for _, id := range userIDs {
		if err := m.signaling.SendGroupRequest(ctx, groupID, id, payload); err != nil {
			return err
		}
		m.logger.Infow("conference invite sent", "call_id", callID, "target", id, "role", role)
	}
	return nil
}

// LeaveConference exits the group call locally. Other members keep going.
func (m *SessionManager) LeaveConference(ctx context.Context, callID domain.CallID, reason domain.EndReason) error {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok || !session.IsGroup {
		m.mu.Unlock()
		if !ok {
			return domain.ErrCallNotFound
		}
		return domain.ErrNotConference
	}
	m.mu.Unlock()

	if reason == "" {
		reason = domain.EndReasonLeft
	}
	return m.EndCall(ctx, callID, reason)
}

// SetParticipantRole reassigns a role. Host only.
func (m *SessionManager) SetParticipantRole(ctx context.Context, callID domain.CallID, target domain.UserID, role domain.ParticipantRole) error {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok {
		m.mu.Unlock()
		return domain.ErrCallNotFound
	}
	if !session.IsGroup {
		m.mu.Unlock()
		return domain.ErrNotConference
	}
	local := session.LocalParticipant()
	if local == nil || !local.Role.CanManageRoles() {
		m.mu.Unlock()
		return domain.ErrPermissionDenied
	}
	p, exists := session.Participants[target]
	if !exists {
		m.mu.Unlock()
		return domain.ErrPeerNotFound
	}
	p.Role = role
	groupID := session.GroupID
	m.mu.Unlock()

	m.logger.Infow("participant role changed", "call_id", callID, "target", target, "role", role)
	return m.signaling.SendConferenceControl(ctx, groupID, domain.ConfControlPayload{
		CallID: callID,
		Action: domain.ConfActionRoleChange,
		Target: target,
		Role:   role,
	})
}

// MuteParticipant force-mutes or unmutes another member. Host or moderator
// only.
func (m *SessionManager) MuteParticipant(ctx context.Context, callID domain.CallID, target domain.UserID, muted bool) error {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok {
		m.mu.Unlock()
		return domain.ErrCallNotFound
	}
	if !session.IsGroup {
		m.mu.Unlock()
		return domain.ErrNotConference
	}
	local := session.LocalParticipant()
	if local == nil || !local.Role.CanMuteOthers() {
		m.mu.Unlock()
		return domain.ErrPermissionDenied
	}
	p, exists := session.Participants[target]
	if !exists {
		m.mu.Unlock()
		return domain.ErrPeerNotFound
	}
	p.IsMutedByHost = muted
	groupID := session.GroupID
	m.mu.Unlock()

	action := domain.ConfActionMute
	if !muted {
		action = domain.ConfActionUnmute
	}
	m.logger.Infow("participant mute changed", "call_id", callID, "target", target, "muted", muted)
	return m.signaling.SendConferenceControl(ctx, groupID, domain.ConfControlPayload{
		CallID: callID,
		Action: action,
		Target: target,
	})
}

// handleGroupInvite materializes an invitation as a waiting session and
// surfaces it to the application, which decides whether to join.
func (m *SessionManager) handleGroupInvite(from domain.UserID, group domain.GroupID, p domain.GroupInvitePayload) {
	m.mu.Lock()
	if _, exists := m.sessions[p.CallID]; exists {
		m.mu.Unlock()
		return
	}
	if m.hasLiveSessionLocked() {
		m.mu.Unlock()
		m.logger.Infow("ignoring conference invite while busy", "call_id", p.CallID, "from", from)
		return
	}

	session := &domain.CallSession{
		ID:           p.CallID,
		Type:         p.CallType,
		Direction:    domain.DirectionIncoming,
		State:        domain.CallStateWaiting,
		Participants: make(map[domain.UserID]*domain.Participant),
		LocalUserID:  m.localUserID,
		IsGroup:      true,
		GroupID:      group,
		Metadata:     p.Metadata,
		CreatedAt:    time.Now(),
	}
	local := domain.NewLocalParticipant(m.localUserID, p.CallType)
	local.Role = p.Role
	session.Participants[m.localUserID] = local

	inviter := domain.NewRemoteParticipant(from)
	inviter.Role = domain.RoleHost
	session.Participants[from] = inviter
	m.peerCalls[from] = p.CallID
	m.sessions[p.CallID] = session
	m.mu.Unlock()

	m.logger.Infow("conference invite received",
		"call_id", p.CallID,
		"group_id", group,
		"from", from,
		"role", p.Role,
	)
	m.emit(func(l ports.CallEvents) { l.OnGroupCallInvite(from, p) })
}

// handleGroupJoin reacts to a member announcing itself: existing members dial
// the joiner with a fresh offer, building out the mesh.
func (m *SessionManager) handleGroupJoin(from domain.UserID, group domain.GroupID, p domain.GroupJoinPayload) {
	m.mu.Lock()
	session, ok := m.sessions[p.CallID]
	if !ok || !session.IsGroup || session.State.IsTerminal() {
		m.mu.Unlock()
		return
	}

	limit := m.provider.CallConfig().MaxConferenceParticipants
	participant, known := session.Participants[from]
	if !known {
		if limit > 0 && len(session.Participants) >= limit {
			m.mu.Unlock()
			m.logger.Warnw("conference full, ignoring join", "call_id", p.CallID, "from", from)
			return
		}
		participant = domain.NewRemoteParticipant(from)
		session.Participants[from] = participant
	}
	participant.Pending = false
	if p.Role != "" {
		participant.Role = p.Role
	}
	m.peerCalls[from] = p.CallID
	stream := m.localStreams[p.CallID]
	m.mu.Unlock()

	m.logger.Infow("conference member joined", "call_id", p.CallID, "from", from, "role", p.Role)
	m.emit(func(l ports.CallEvents) { l.OnParticipantJoined(p.CallID, participant) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m.dialConferencePeer(ctx, p.CallID, from, stream)
}

// dialConferencePeer creates an initiating transport toward a member and
// sends the offer.
func (m *SessionManager) dialConferencePeer(ctx context.Context, callID domain.CallID, peer domain.UserID, stream *domain.MediaStream) {
	if err := m.engine.CreatePeerConnection(peer, true); err != nil {
		m.logger.Errorw("failed to create conference peer", "call_id", callID, "peer", peer, "error", err)
		return
	}
	if stream != nil {
		if err := m.engine.AddLocalStream(peer, stream); err != nil {
			m.logger.Errorw("failed to attach local stream", "call_id", callID, "peer", peer, "error", err)
		}
	}
	offer, err := m.engine.CreateOffer(ctx, peer)
	if err != nil {
		m.logger.Errorw("failed to create conference offer", "call_id", callID, "peer", peer, "error", err)
		return
	}
	if err := m.signaling.SendOffer(ctx, peer, callID, offer); err != nil {
		m.logger.Warnw("failed to send conference offer", "call_id", callID, "peer", peer, "error", err)
	}
}

func (m *SessionManager) handleGroupLeave(from domain.UserID, p domain.CallEndPayload) {
	m.mu.Lock()
	session, ok := m.sessions[p.CallID]
	if !ok || !session.IsGroup {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	reason := p.Reason
	if reason == "" {
		reason = domain.EndReasonLeft
	}
	m.removeConferenceParticipant(p.CallID, from, reason)
}

// removeConferenceParticipant drops one member. With no remote members left
// the session returns to waiting rather than terminating.
func (m *SessionManager) removeConferenceParticipant(callID domain.CallID, userID domain.UserID, reason domain.EndReason) {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok || session.State.IsTerminal() {
		m.mu.Unlock()
		return
	}
	if _, exists := session.Participants[userID]; !exists {
		m.mu.Unlock()
		return
	}
	delete(session.Participants, userID)
	delete(m.peerCalls, userID)
	delete(m.reconnects, userID)
	remaining := len(session.RemoteParticipants())
	m.mu.Unlock()

	m.engine.ClosePeerConnection(userID)

	m.logger.Infow("conference member left",
		"call_id", callID,
		"user_id", userID,
		"reason", reason,
		"remaining", remaining,
	)
	m.emit(func(l ports.CallEvents) { l.OnParticipantLeft(callID, userID, reason) })

	if remaining == 0 {
		m.transition(callID, domain.CallStateWaiting)
	}
}

// handleConferencePeerFailure retries a failed member transport once, then
// removes the member.
func (m *SessionManager) handleConferencePeerFailure(callID domain.CallID, userID domain.UserID) {
	m.mu.Lock()
	attempted := m.reconnects[userID]
	m.reconnects[userID] = true
	stream := m.localStreams[callID]
	m.mu.Unlock()

	if attempted {
		m.logger.Warnw("conference peer failed after retry", "call_id", callID, "peer", userID)
		m.removeConferenceParticipant(callID, userID, domain.EndReasonFailed)
		return
	}

	m.logger.Infow("retrying conference peer", "call_id", callID, "peer", userID)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m.dialConferencePeer(ctx, callID, userID, stream)
}

// handleConferenceControl applies an in-conference control verb after
// validating the sender's role.
func (m *SessionManager) handleConferenceControl(from domain.UserID, p domain.ConfControlPayload) {
	m.mu.Lock()
	session, ok := m.sessions[p.CallID]
	if !ok || !session.IsGroup || session.State.IsTerminal() {
		m.mu.Unlock()
		return
	}
	sender, known := session.Participants[from]
	if !known {
		m.mu.Unlock()
		m.logger.Debugw("conference control from non-member", "call_id", p.CallID, "from", from)
		return
	}
	m.mu.Unlock()

	switch p.Action {
	case domain.ConfActionMute, domain.ConfActionUnmute:
		if !sender.Role.CanMuteOthers() {
			m.logger.Warnw("unauthorized mute attempt", "call_id", p.CallID, "from", from)
			return
		}
		m.applyForcedMute(session, p.Target, p.Action == domain.ConfActionMute)

	case domain.ConfActionRoleChange:
		if !sender.Role.CanManageRoles() {
			m.logger.Warnw("unauthorized role change", "call_id", p.CallID, "from", from)
			return
		}
		m.mu.Lock()
		if target, exists := session.Participants[p.Target]; exists {
			target.Role = p.Role
		}
		m.mu.Unlock()
		m.logger.Infow("role change applied", "call_id", p.CallID, "target", p.Target, "role", p.Role)

	case domain.ConfActionPresentationStart:
		m.mu.Lock()
		displaced := clearPresentersLocked(session, from)
		if presenter, exists := session.Participants[from]; exists {
			presenter.IsPresenting = true
			presenter.MediaState.ScreenSharing = true
		}
		m.mu.Unlock()
		if displaced != "" {
			m.logger.Infow("presenter displaced", "call_id", p.CallID, "previous", displaced, "presenter", from)
		}

	case domain.ConfActionPresentationStop:
		m.mu.Lock()
		if presenter, exists := session.Participants[from]; exists {
			presenter.IsPresenting = false
			presenter.MediaState.ScreenSharing = false
		}
		m.mu.Unlock()

	case domain.ConfActionConferenceEnd:
		if sender.Role != domain.RoleHost {
			m.logger.Warnw("unauthorized conference end", "call_id", p.CallID, "from", from)
			return
		}
		m.logger.Infow("conference ended by host", "call_id", p.CallID, "host", from)
		m.finish(p.CallID, domain.EndReasonNormal)

	default:
		m.logger.Debugw("unknown conference control action", "call_id", p.CallID, "action", p.Action)
	}
}

// applyForcedMute records a host mute. When the target is the local user the
// microphone is silenced until explicitly unmuted by the host.
func (m *SessionManager) applyForcedMute(session *domain.CallSession, target domain.UserID, muted bool) {
	m.mu.Lock()
	p, exists := session.Participants[target]
	if !exists {
		m.mu.Unlock()
		return
	}
	p.IsMutedByHost = muted
	isLocal := p.IsLocal
	if isLocal && muted {
		p.MediaState.AudioEnabled = false
		p.MediaState.MicMuted = true
	}
	state := p.MediaState
	callID := session.ID
	m.mu.Unlock()

	m.logger.Infow("forced mute applied", "call_id", callID, "target", target, "muted", muted)
	m.emit(func(l ports.CallEvents) { l.OnParticipantMediaChanged(callID, target, state) })

	if isLocal && muted {
		m.mu.Lock()
		remotes := session.RemoteParticipants()
		m.mu.Unlock()
		for _, r := range remotes {
			if err := m.engine.SendDataChannelMessage(r.UserID, dataChannelEnvelope{
				Type:  dataChannelMediaState,
				State: state,
			}); err != nil {
				m.logger.Debugw("failed to push media state", "peer", r.UserID, "error", err)
			}
		}
	}
}

// announcePresentation tells the group that the local presentation started or
// stopped.
func (m *SessionManager) announcePresentation(ctx context.Context, session *domain.CallSession, action domain.ConfControlAction) {
	if err := m.signaling.SendConferenceControl(ctx, session.GroupID, domain.ConfControlPayload{
		CallID: session.ID,
		Action: action,
	}); err != nil {
		m.logger.Warnw("failed to announce presentation", "call_id", session.ID, "error", err)
	}
}

// clearPresentersLocked drops the presenter flag on every member except keep
// and returns the user that was displaced, if any. A presentation-start always
// wins over the current presenter. Caller holds the manager lock.
func clearPresentersLocked(session *domain.CallSession, keep domain.UserID) domain.UserID {
	var displaced domain.UserID
	for _, p := range session.Participants {
		if p.UserID == keep || !p.IsPresenting {
			continue
		}
		p.IsPresenting = false
		p.MediaState.ScreenSharing = false
		displaced = p.UserID
	}
	return displaced
}

// RunReconciler periodically inspects conference transports and retries or
// removes members whose peer state has degraded. Runs until ctx is done.
func (m *SessionManager) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reconcileOnce(ctx)
		}
	}
}

func (m *SessionManager) reconcileOnce(ctx context.Context) {
	for _, info := range m.engine.Peers() {
		switch info.State {
		case domain.PeerStateConnected:
			m.samplePeerQuality(ctx, info.UserID)
		case domain.PeerStateFailed, domain.PeerStateDisconnected:
			session, ok := m.callForPeer(info.UserID)
			if !ok || !session.IsGroup {
				continue
			}
			m.handleConferencePeerFailure(session.ID, info.UserID)
		}
	}
}

func (m *SessionManager) samplePeerQuality(ctx context.Context, userID domain.UserID) {
	if m.metrics == nil {
		return
	}
	sample, err := m.engine.DetectNetworkQuality(ctx, userID)
	if err != nil {
		return
	}
	m.metrics.QualitySample(sample.Tier)
}
