package services

import (
	"context"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
)

// ToggleAudio enables or disables the local microphone for a call. Peers are
// told through the data channel so UIs can show mute indicators.
func (m *SessionManager) ToggleAudio(ctx context.Context, callID domain.CallID, enabled bool) error {
	return m.updateLocalMedia(callID, func(local *domain.Participant) error {
		if enabled && local.MediaState.MicMuted && local.IsMutedByHost {
			return domain.ErrMutedByHost
		}
		local.MediaState.AudioEnabled = enabled
		local.MediaState.MicMuted = !enabled
		return nil
	})
}

// ToggleVideo enables or disables the local camera for a call.
func (m *SessionManager) ToggleVideo(ctx context.Context, callID domain.CallID, enabled bool) error {
	return m.updateLocalMedia(callID, func(local *domain.Participant) error {
		local.MediaState.VideoEnabled = enabled
		local.MediaState.CameraOff = !enabled
		return nil
	})
}

// ToggleSpeaker routes audio output. Local-only: peers are not notified.
func (m *SessionManager) ToggleSpeaker(ctx context.Context, callID domain.CallID, enabled bool) error {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok || session.State.IsTerminal() {
		m.mu.Unlock()
		return domain.ErrCallNotFound
	}
	local := session.LocalParticipant()
	if local != nil {
		local.MediaState.SpeakerEnabled = enabled
	}
	m.mu.Unlock()
	return nil
}

// updateLocalMedia applies a state mutation and propagates it to every
// connected peer of the session. The mutation runs under the manager lock so
// it never races with inbound control handlers touching the same MediaState;
// mutate must not acquire the lock itself.
func (m *SessionManager) updateLocalMedia(callID domain.CallID, mutate func(*domain.Participant) error) error {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok || session.State.IsTerminal() {
		m.mu.Unlock()
		return domain.ErrCallNotFound
	}
	local := session.LocalParticipant()
	if local == nil {
		m.mu.Unlock()
		return domain.ErrCallNotFound
	}
	if err := mutate(local); err != nil {
		m.mu.Unlock()
		return err
	}
	state := local.MediaState
	remotes := session.RemoteParticipants()
	m.mu.Unlock()

	for _, p := range remotes {
		if err := m.engine.SendDataChannelMessage(p.UserID, dataChannelEnvelope{
			Type:  dataChannelMediaState,
			State: state,
		}); err != nil {
			m.logger.Debugw("failed to push media state", "peer", p.UserID, "error", err)
		}
	}

	m.emit(func(l ports.CallEvents) { l.OnParticipantMediaChanged(callID, m.localUserID, state) })
	return nil
}

// StartScreenShare swaps the outbound video for a display capture on every
// peer of the call. In a conference this claims the presenter slot, displacing
// whoever held it.
func (m *SessionManager) StartScreenShare(ctx context.Context, callID domain.CallID, includeAudio bool) error {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok || session.State.IsTerminal() {
		m.mu.Unlock()
		return domain.ErrCallNotFound
	}
	if session.IsGroup {
		clearPresentersLocked(session, m.localUserID)
	}
	remotes := session.RemoteParticipants()
	m.mu.Unlock()

	for _, p := range remotes {
		if err := m.engine.StartScreenShare(ctx, p.UserID, includeAudio); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if local := session.LocalParticipant(); local != nil {
		local.MediaState.ScreenSharing = true
		local.IsPresenting = session.IsGroup
	}
	m.mu.Unlock()

	m.logger.Infow("screen share started", "call_id", callID)
	if session.IsGroup {
		m.announcePresentation(ctx, session, domain.ConfActionPresentationStart)
	}
	return m.updateLocalMedia(callID, func(*domain.Participant) error { return nil })
}

// StopScreenShare restores camera video on every peer of the call.
func (m *SessionManager) StopScreenShare(ctx context.Context, callID domain.CallID, cameraID string) error {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok || session.State.IsTerminal() {
		m.mu.Unlock()
		return domain.ErrCallNotFound
	}
	remotes := session.RemoteParticipants()
	m.mu.Unlock()

	for _, p := range remotes {
		if err := m.engine.StopScreenShare(ctx, p.UserID, cameraID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if local := session.LocalParticipant(); local != nil {
		local.MediaState.ScreenSharing = false
		local.IsPresenting = false
	}
	m.mu.Unlock()

	m.logger.Infow("screen share stopped", "call_id", callID)
	if session.IsGroup {
		m.announcePresentation(ctx, session, domain.ConfActionPresentationStop)
	}
	return m.updateLocalMedia(callID, func(*domain.Participant) error { return nil })
}

// SwitchCamera replaces the outbound video track with a different capture
// device without renegotiation.
func (m *SessionManager) SwitchCamera(ctx context.Context, callID domain.CallID, cameraID string) error {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok || session.State.IsTerminal() {
		m.mu.Unlock()
		return domain.ErrCallNotFound
	}
	remotes := session.RemoteParticipants()
	m.mu.Unlock()

	track, err := m.devices.GetCameraTrack(ctx, cameraID)
	if err != nil {
		return err
	}

	for _, p := range remotes {
		if err := m.engine.ReplaceMediaTrack(p.UserID, track); err != nil {
			track.Source.Stop()
			return err
		}
	}

	m.logger.Infow("camera switched", "call_id", callID, "camera_id", cameraID)
	return nil
}

// AdjustQuality applies a named video preset to every peer of the call.
func (m *SessionManager) AdjustQuality(ctx context.Context, callID domain.CallID, preset string) error {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok || session.State.IsTerminal() {
		m.mu.Unlock()
		return domain.ErrCallNotFound
	}
	remotes := session.RemoteParticipants()
	m.mu.Unlock()

	for _, p := range remotes {
		if err := m.engine.AdjustVideoQuality(p.UserID, preset); err != nil {
			return err
		}
	}

	m.logger.Infow("video quality adjusted", "call_id", callID, "preset", preset)
	return nil
}

// AutoAdjustQuality measures each peer transport and applies the preset
// matching its detected tier. Returns the worst tier seen across peers.
func (m *SessionManager) AutoAdjustQuality(ctx context.Context, callID domain.CallID) (domain.QualityTier, error) {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok || session.State.IsTerminal() {
		m.mu.Unlock()
		return "", domain.ErrCallNotFound
	}
	remotes := session.RemoteParticipants()
	m.mu.Unlock()

	worst := domain.TierExcellent
	for _, p := range remotes {
		tier, err := m.engine.AutoAdjustVideoQuality(ctx, p.UserID)
		if err != nil {
			return "", err
		}
		if tier.WorseThan(worst) {
			worst = tier
		}
		if m.metrics != nil {
			m.metrics.QualitySample(tier)
		}
	}

	m.logger.Infow("video quality auto-adjusted", "call_id", callID, "tier", worst)
	return worst, nil
}
