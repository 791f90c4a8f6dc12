package webrtc

import (
	"context"
	"fmt"
	"time"

	"callmesh/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// StartScreenShare acquires a capture stream and swaps it into the outbound
// video (and optionally audio) sender. The camera track is parked so the
// share can be stopped without renegotiation.
func (e *Engine) StartScreenShare(ctx context.Context, userID domain.UserID, includeAudio bool) error {
	e.mu.RLock()
	record, exists := e.peers[userID]
	var parked *domain.LocalTrack
	if exists && record.localStream != nil {
		if videos := record.localStream.TracksOfKind(domain.TrackKindVideo); len(videos) > 0 {
			parked = videos[0]
		}
	}
	e.mu.RUnlock()
	if !exists {
		return domain.ErrPeerNotFound
	}

	screen, err := e.devices.GetDisplayMedia(ctx, includeAudio)
	if err != nil {
		return fmt.Errorf("failed to acquire screen capture: %w", err)
	}

	for _, track := range screen.Tracks {
		if err := e.ReplaceMediaTrack(userID, track); err != nil {
			screen.StopAll()
			return err
		}
	}

	e.mu.Lock()
	if record, ok := e.peers[userID]; ok {
		record.parkedCamera = parked
		record.screenStream = screen
	}
	e.mu.Unlock()

	e.logger.Infow("screen share started",
		"user_id", userID,
		"include_audio", includeAudio,
	)
	return nil
}

// StopScreenShare stops the capture stream and restores a camera track,
// either the parked one or a fresh capture from cameraID.
func (e *Engine) StopScreenShare(ctx context.Context, userID domain.UserID, cameraID string) error {
	e.mu.Lock()
	record, exists := e.peers[userID]
	if !exists {
		e.mu.Unlock()
		return domain.ErrPeerNotFound
	}
	screen := record.screenStream
	camera := record.parkedCamera
	record.screenStream = nil
	record.parkedCamera = nil
	e.mu.Unlock()

	if screen != nil {
		screen.StopAll()
	}

	if camera == nil || cameraID != "" {
		fresh, err := e.devices.GetCameraTrack(ctx, cameraID)
		if err != nil {
			return fmt.Errorf("failed to reacquire camera: %w", err)
		}
		camera = fresh
	}

	if err := e.ReplaceMediaTrack(userID, camera); err != nil {
		return err
	}

	e.logger.Infow("screen share stopped", "user_id", userID)
	return nil
}

// AdjustVideoQuality applies a named preset's constraints to the local video
// source. Unknown presets are rejected.
func (e *Engine) AdjustVideoQuality(userID domain.UserID, preset string) error {
	presets := e.provider.CallConfig().VideoPresets
	p, ok := presets[preset]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownPreset, preset)
	}
	return e.AdjustVideoQualityCustom(userID, p.Width, p.Height, p.Framerate)
}

// AdjustVideoQualityCustom applies explicit constraints to the local video
// source.
func (e *Engine) AdjustVideoQualityCustom(userID domain.UserID, width, height, framerate int) error {
	e.mu.RLock()
	record, exists := e.peers[userID]
	var video *domain.LocalTrack
	if exists && record.localStream != nil {
		if videos := record.localStream.TracksOfKind(domain.TrackKindVideo); len(videos) > 0 {
			video = videos[0]
		}
	}
	e.mu.RUnlock()

	if !exists {
		return domain.ErrPeerNotFound
	}
	if video == nil || video.Source == nil {
		return fmt.Errorf("no adjustable video track for user %s", userID)
	}
	if err := video.Source.ApplyConstraints(width, height, framerate); err != nil {
		return fmt.Errorf("failed to apply video constraints: %w", err)
	}

	e.logger.Infow("video quality adjusted",
		"user_id", userID,
		"width", width,
		"height", height,
		"framerate", framerate,
	)
	return nil
}

// DetectNetworkQuality reads transport statistics and classifies them into a
// tier. RTCP-derived figures fill in when the stats report has no usable
// entries yet.
func (e *Engine) DetectNetworkQuality(ctx context.Context, userID domain.UserID) (domain.NetworkQualitySample, error) {
	e.mu.RLock()
	record, exists := e.peers[userID]
	var pc *webrtc.PeerConnection
	var fallbackLoss float64
	var fallbackRTT time.Duration
	if exists {
		pc = record.pc
		fallbackLoss = record.rtcpPacketLoss
		fallbackRTT = record.rtcpRTT
	}
	e.mu.RUnlock()
	if !exists {
		return domain.NetworkQualitySample{}, domain.ErrPeerNotFound
	}

	packetLoss, rtt, found := readTransportStats(pc.GetStats())
	if !found {
		packetLoss = fallbackLoss
		rtt = fallbackRTT
	}

	sample := e.qualityService.Sample(packetLoss, rtt)
	e.logger.Debugw("network quality sampled",
		"user_id", userID,
		"packet_loss", sample.PacketLoss,
		"rtt", sample.RoundTripTime,
		"tier", sample.Tier,
	)
	return sample, nil
}

// readTransportStats pulls outbound loss ratio and candidate-pair round-trip
// time out of a stats report.
func readTransportStats(report webrtc.StatsReport) (packetLoss float64, rtt time.Duration, found bool) {
	lossSamples := 0
	for _, stats := range report {
		switch s := stats.(type) {
		case webrtc.RemoteInboundRTPStreamStats:
			packetLoss += s.FractionLost
			lossSamples++
			if s.RoundTripTime > 0 && rtt == 0 {
				rtt = time.Duration(s.RoundTripTime * float64(time.Second))
			}
			found = true
		case webrtc.ICECandidatePairStats:
			if s.State == webrtc.StatsICECandidatePairStateSucceeded && s.CurrentRoundTripTime > 0 {
				rtt = time.Duration(s.CurrentRoundTripTime * float64(time.Second))
				found = true
			}
		}
	}
	if lossSamples > 0 {
		packetLoss /= float64(lossSamples)
	}
	return packetLoss, rtt, found
}

// AutoAdjustVideoQuality chains quality detection into a preset switch.
func (e *Engine) AutoAdjustVideoQuality(ctx context.Context, userID domain.UserID) (domain.QualityTier, error) {
	sample, err := e.DetectNetworkQuality(ctx, userID)
	if err != nil {
		return "", err
	}

	preset := e.qualityService.PresetForTier(sample.Tier)
	if err := e.AdjustVideoQuality(userID, preset); err != nil {
		return sample.Tier, err
	}

	e.logger.Infow("video quality auto-adjusted",
		"user_id", userID,
		"tier", sample.Tier,
		"preset", preset,
	)
	return sample.Tier, nil
}
