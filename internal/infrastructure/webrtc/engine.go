package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/internal/core/services"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Engine drives one peer transport per remote user through connection
// establishment and media renegotiation. It has no knowledge of call
// semantics; the session manager layers those on top.
type Engine struct {
	provider       ports.ConfigProvider
	devices        ports.MediaDevices
	qualityService *services.QualityService

	api         *webrtc.API
	iceServers  []webrtc.ICEServer
	initialized bool

	peers map[domain.UserID]*peerRecord
	mu    sync.RWMutex

	events   ports.EngineEvents
	eventsMu sync.RWMutex

	sweepDone chan struct{}
	stopOnce  sync.Once

	logger *zap.SugaredLogger
}

// peerRecord is the engine-private bookkeeping for one transport.
type peerRecord struct {
	userID       domain.UserID
	pc           *webrtc.PeerConnection
	localStream  *domain.MediaStream
	remoteStream *domain.RemoteStream
	dataChannel  *webrtc.DataChannel
	senders      map[domain.TrackKind]*webrtc.RTPSender

	state        domain.PeerState
	isInitiator  bool
	createdAt    time.Time
	lastActivity time.Time

	// Candidates received before the remote description are queued and
	// drained once SetRemoteDescription lands.
	pendingCandidates []domain.ICECandidate
	remoteSet         bool
	negotiating       bool

	// Camera track parked while a screen share replaces it.
	parkedCamera *domain.LocalTrack
	screenStream *domain.MediaStream

	// Last RTCP-derived figures, fallback input for quality detection.
	rtcpPacketLoss float64
	rtcpRTT        time.Duration
}

func NewEngine(
	provider ports.ConfigProvider,
	devices ports.MediaDevices,
	qualityService *services.QualityService,
	logger *zap.SugaredLogger,
) *Engine {
	return &Engine{
		provider:       provider,
		devices:        devices,
		qualityService: qualityService,
		peers:          make(map[domain.UserID]*peerRecord),
		sweepDone:      make(chan struct{}),
		logger:         logger,
	}
}

// Init loads the transport configuration and starts the idle sweep. Every
// other operation fails before Init succeeds.
func (e *Engine) Init(ctx context.Context) error {
	cfg := e.provider.CallConfig()
	if len(cfg.STUNServers) == 0 {
		return fmt.Errorf("init engine: no STUN servers configured")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.iceServers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	settingEngine := webrtc.SettingEngine{}
	e.api = webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	e.initialized = true

	go e.idleSweep(cfg.IdleSweepInterval, cfg.IdleThreshold)

	e.logger.Infow("connection engine initialized",
		"stun_servers", cfg.STUNServers,
		"idle_sweep_interval", cfg.IdleSweepInterval,
	)
	return nil
}

// SetEvents registers the transport event listener.
func (e *Engine) SetEvents(events ports.EngineEvents) {
	e.eventsMu.Lock()
	e.events = events
	e.eventsMu.Unlock()
}

func (e *Engine) listener() ports.EngineEvents {
	e.eventsMu.RLock()
	defer e.eventsMu.RUnlock()
	return e.events
}

// CreatePeerConnection creates the transport for userID. Any pre-existing
// record for the same user is torn down before the new one is installed, so
// there is never more than one live transport per user.
func (e *Engine) CreatePeerConnection(userID domain.UserID, isInitiator bool) error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return domain.ErrNotInitialized
	}
	if old, exists := e.peers[userID]; exists {
		e.teardownLocked(old)
		delete(e.peers, userID)
		e.logger.Infow("superseding existing peer connection", "user_id", userID)
	}
	api := e.api
	iceServers := e.iceServers
	e.mu.Unlock()

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	record := &peerRecord{
		userID:       userID,
		pc:           pc,
		senders:      make(map[domain.TrackKind]*webrtc.RTPSender),
		state:        domain.PeerStateNew,
		isInitiator:  isInitiator,
		createdAt:    time.Now(),
		lastActivity: time.Now(),
	}

	pc.OnConnectionStateChange(e.handleConnectionState(userID))
	pc.OnICECandidate(e.handleICECandidate(userID))
	pc.OnTrack(e.handleRemoteTrack(userID))

	if isInitiator {
		ordered := true
		maxRetransmits := uint16(10)
		dc, err := pc.CreateDataChannel("control", &webrtc.DataChannelInit{
			Ordered:        &ordered,
			MaxRetransmits: &maxRetransmits,
		})
		if err != nil {
			pc.Close()
			return fmt.Errorf("failed to create data channel: %w", err)
		}
		record.dataChannel = dc
		e.attachDataChannelHandlers(userID, dc)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			e.mu.Lock()
			if r, ok := e.peers[userID]; ok {
				r.dataChannel = dc
				r.lastActivity = time.Now()
			}
			e.mu.Unlock()
			e.attachDataChannelHandlers(userID, dc)
		})
	}

	e.mu.Lock()
	e.peers[userID] = record
	e.mu.Unlock()

	e.logger.Infow("peer connection created",
		"user_id", userID,
		"is_initiator", isInitiator,
	)
	return nil
}

// AddLocalStream attaches every track of the stream to the transport's
// outbound senders.
func (e *Engine) AddLocalStream(userID domain.UserID, stream *domain.MediaStream) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, exists := e.peers[userID]
	if !exists {
		return domain.ErrPeerNotFound
	}

	for _, track := range stream.Tracks {
		sender, err := record.pc.AddTrack(track.Track)
		if err != nil {
			return fmt.Errorf("failed to add %s track: %w", track.Kind, err)
		}
		record.senders[track.Kind] = sender
	}
	record.localStream = stream
	record.lastActivity = time.Now()
	return nil
}

// RemoveLocalStream detaches the outbound senders and stops the local tracks.
func (e *Engine) RemoveLocalStream(userID domain.UserID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, exists := e.peers[userID]
	if !exists {
		return domain.ErrPeerNotFound
	}

	for kind, sender := range record.senders {
		if err := record.pc.RemoveTrack(sender); err != nil {
			e.logger.Warnw("failed to remove track sender",
				"user_id", userID,
				"kind", kind,
				"error", err,
			)
		}
		delete(record.senders, kind)
	}
	if record.localStream != nil {
		record.localStream.StopAll()
		record.localStream = nil
	}
	record.lastActivity = time.Now()
	return nil
}

// CreateOffer generates an SDP offer and applies it as the local description.
func (e *Engine) CreateOffer(ctx context.Context, userID domain.UserID) (domain.SessionDescription, error) {
	record, err := e.beginNegotiation(userID)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	defer e.endNegotiation(userID)

	offer, err := record.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := record.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return domain.SessionDescription{SDPType: "offer", SDP: offer.SDP}, nil
}

// CreateAnswer generates an SDP answer and applies it as the local
// description. The remote offer must already be set.
func (e *Engine) CreateAnswer(ctx context.Context, userID domain.UserID) (domain.SessionDescription, error) {
	record, err := e.beginNegotiation(userID)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	defer e.endNegotiation(userID)

	answer, err := record.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := record.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return domain.SessionDescription{SDPType: "answer", SDP: answer.SDP}, nil
}

func (e *Engine) beginNegotiation(userID domain.UserID) (*peerRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, exists := e.peers[userID]
	if !exists {
		return nil, domain.ErrPeerNotFound
	}
	if record.negotiating {
		return nil, domain.ErrNegotiationPending
	}
	record.negotiating = true
	record.lastActivity = time.Now()
	return record, nil
}

func (e *Engine) endNegotiation(userID domain.UserID) {
	e.mu.Lock()
	if record, exists := e.peers[userID]; exists {
		record.negotiating = false
	}
	e.mu.Unlock()
}

// SetRemoteDescription applies the remote offer or answer and drains any ICE
// candidates queued before it arrived.
func (e *Engine) SetRemoteDescription(userID domain.UserID, desc domain.SessionDescription) error {
	e.mu.Lock()
	record, exists := e.peers[userID]
	if !exists {
		e.mu.Unlock()
		return domain.ErrPeerNotFound
	}
	pc := record.pc
	e.mu.Unlock()

	remote := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.SDPType),
		SDP:  desc.SDP,
	}
	if err := pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	e.mu.Lock()
	record.remoteSet = true
	pending := record.pendingCandidates
	record.pendingCandidates = nil
	record.lastActivity = time.Now()
	e.mu.Unlock()

	for _, cand := range pending {
		if err := e.applyCandidate(pc, cand); err != nil {
			e.logger.Warnw("failed to apply queued ICE candidate",
				"user_id", userID,
				"error", err,
			)
		}
	}
	if len(pending) > 0 {
		e.logger.Debugw("drained queued ICE candidates",
			"user_id", userID,
			"count", len(pending),
		)
	}
	return nil
}

// AddICECandidate applies a remote candidate, queueing it when the remote
// description has not been set yet.
func (e *Engine) AddICECandidate(userID domain.UserID, cand domain.ICECandidate) error {
	e.mu.Lock()
	record, exists := e.peers[userID]
	if !exists {
		e.mu.Unlock()
		return domain.ErrPeerNotFound
	}
	if !record.remoteSet {
		record.pendingCandidates = append(record.pendingCandidates, cand)
		e.mu.Unlock()
		return nil
	}
	pc := record.pc
	record.lastActivity = time.Now()
	e.mu.Unlock()

	return e.applyCandidate(pc, cand)
}

func (e *Engine) applyCandidate(pc *webrtc.PeerConnection, cand domain.ICECandidate) error {
	init := webrtc.ICECandidateInit{Candidate: cand.Candidate}
	if cand.SDPMid != "" {
		mid := cand.SDPMid
		init.SDPMid = &mid
	}
	idx := cand.SDPMLineIndex
	init.SDPMLineIndex = &idx
	return pc.AddICECandidate(init)
}

// ReplaceMediaTrack swaps the outbound track of the matching kind without a
// full renegotiation.
func (e *Engine) ReplaceMediaTrack(userID domain.UserID, track *domain.LocalTrack) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, exists := e.peers[userID]
	if !exists {
		return domain.ErrPeerNotFound
	}
	sender, ok := record.senders[track.Kind]
	if !ok {
		return fmt.Errorf("no %s sender for user %s", track.Kind, userID)
	}
	if err := sender.ReplaceTrack(track.Track); err != nil {
		return fmt.Errorf("failed to replace %s track: %w", track.Kind, err)
	}

	if record.localStream != nil {
		for i, t := range record.localStream.Tracks {
			if t.Kind == track.Kind {
				record.localStream.Tracks[i] = track
				break
			}
		}
	}
	record.lastActivity = time.Now()
	return nil
}

// SendDataChannelMessage serializes payload (JSON unless already a string)
// and sends it over the control channel.
func (e *Engine) SendDataChannelMessage(userID domain.UserID, payload interface{}) error {
	e.mu.RLock()
	record, exists := e.peers[userID]
	var dc *webrtc.DataChannel
	if exists {
		dc = record.dataChannel
	}
	e.mu.RUnlock()

	if !exists {
		return domain.ErrPeerNotFound
	}
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return domain.ErrDataChannelClosed
	}

	if s, ok := payload.(string); ok {
		return dc.SendText(s)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode data channel payload: %w", err)
	}
	return dc.Send(data)
}

// ClosePeerConnection tears down the record for userID. Calling it for an
// unknown user or twice is a no-op.
func (e *Engine) ClosePeerConnection(userID domain.UserID) {
	e.mu.Lock()
	record, exists := e.peers[userID]
	if exists {
		e.teardownLocked(record)
		delete(e.peers, userID)
	}
	e.mu.Unlock()

	if exists {
		e.logger.Infow("peer connection closed", "user_id", userID)
	}
}

// CloseAll tears down every record and stops the idle sweep.
func (e *Engine) CloseAll() {
	e.mu.Lock()
	for userID, record := range e.peers {
		e.teardownLocked(record)
		delete(e.peers, userID)
	}
	e.mu.Unlock()

	e.stopOnce.Do(func() {
		close(e.sweepDone)
	})
}

// teardownLocked stops local tracks and closes channel and transport. The
// engine mutex must be held.
func (e *Engine) teardownLocked(record *peerRecord) {
	if record.localStream != nil {
		record.localStream.StopAll()
	}
	if record.screenStream != nil {
		record.screenStream.StopAll()
	}
	if record.dataChannel != nil {
		record.dataChannel.Close()
	}
	if record.pc != nil {
		record.pc.Close()
	}
	record.state = domain.PeerStateClosed
}

// PeerInfo returns the visible view of one record.
func (e *Engine) PeerInfo(userID domain.UserID) (domain.PeerInfo, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	record, exists := e.peers[userID]
	if !exists {
		return domain.PeerInfo{}, false
	}
	return infoOf(record), true
}

// Peers returns the visible connection set.
func (e *Engine) Peers() []domain.PeerInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	infos := make([]domain.PeerInfo, 0, len(e.peers))
	for _, record := range e.peers {
		infos = append(infos, infoOf(record))
	}
	return infos
}

func infoOf(record *peerRecord) domain.PeerInfo {
	return domain.PeerInfo{
		UserID:       record.userID,
		State:        record.state,
		IsInitiator:  record.isInitiator,
		HasLocal:     record.localStream != nil,
		HasRemote:    record.remoteStream != nil,
		HasDataCh:    record.dataChannel != nil,
		CreatedAt:    record.createdAt,
		LastActivity: record.lastActivity,
	}
}

// handleConnectionState mirrors transport state into the record and notifies
// the listener.
func (e *Engine) handleConnectionState(userID domain.UserID) func(webrtc.PeerConnectionState) {
	return func(state webrtc.PeerConnectionState) {
		mapped := mapPeerState(state)

		e.mu.Lock()
		record, exists := e.peers[userID]
		if exists {
			record.state = mapped
			record.lastActivity = time.Now()
		}
		e.mu.Unlock()
		if !exists {
			return
		}

		e.logger.Infow("peer connection state changed",
			"user_id", userID,
			"state", mapped,
		)
		if l := e.listener(); l != nil {
			l.OnPeerStateChanged(userID, mapped)
		}
	}
}

func (e *Engine) handleICECandidate(userID domain.UserID) func(*webrtc.ICECandidate) {
	return func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		cand := domain.ICECandidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			cand.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *init.SDPMLineIndex
		}
		if l := e.listener(); l != nil {
			l.OnICECandidate(userID, cand)
		}
	}
}

// handleRemoteTrack collects inbound tracks, starts the RTP activity monitor
// and the RTCP reader, and notifies the listener with the updated stream.
func (e *Engine) handleRemoteTrack(userID domain.UserID) func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
	return func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		e.logger.Infow("remote track received",
			"user_id", userID,
			"track_id", track.ID(),
			"codec", track.Codec().MimeType,
		)

		e.mu.Lock()
		record, exists := e.peers[userID]
		var stream *domain.RemoteStream
		if exists {
			if record.remoteStream == nil {
				record.remoteStream = &domain.RemoteStream{UserID: userID}
			}
			record.remoteStream.Tracks = append(record.remoteStream.Tracks, track)
			record.lastActivity = time.Now()
			stream = record.remoteStream
		}
		e.mu.Unlock()
		if !exists {
			return
		}

		go e.monitorRemoteTrack(userID, track)
		go e.processRTCP(userID, receiver)

		if l := e.listener(); l != nil {
			l.OnRemoteTrack(userID, stream)
		}
	}
}

// monitorRemoteTrack drains inbound RTP to keep lastActivity fresh while
// media flows.
func (e *Engine) monitorRemoteTrack(userID domain.UserID, track *webrtc.TrackRemote) {
	packetBuffer := make([]byte, 1500) // MTU size
	rtpPacket := &rtp.Packet{}
	packetCount := 0

	for {
		n, _, err := track.Read(packetBuffer)
		if err != nil {
			e.logger.Debugw("remote track reader stopped",
				"user_id", userID,
				"track_id", track.ID(),
				"error", err,
			)
			return
		}
		if err := rtpPacket.Unmarshal(packetBuffer[:n]); err != nil {
			continue
		}

		packetCount++
		if packetCount%100 == 0 {
			e.touchActivity(userID)
		}
	}
}

func (e *Engine) touchActivity(userID domain.UserID) {
	e.mu.Lock()
	if record, exists := e.peers[userID]; exists {
		record.lastActivity = time.Now()
	}
	e.mu.Unlock()
}

// processRTCP extracts loss and round-trip figures from receiver reports to
// back up stats-based quality detection.
func (e *Engine) processRTCP(userID domain.UserID, receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}

		var totalLost float64
		var totalRTT time.Duration
		reports := 0

		for _, packet := range packets {
			rr, ok := packet.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, report := range rr.Reports {
				totalLost += float64(report.FractionLost) / 255.0
				reports++
				if report.LastSenderReport != 0 && report.Delay != 0 {
					totalRTT += time.Duration(report.Delay) * time.Second / 65536
				}
			}
		}
		if reports == 0 {
			continue
		}

		e.mu.Lock()
		if record, exists := e.peers[userID]; exists {
			record.rtcpPacketLoss = totalLost / float64(reports)
			record.rtcpRTT = totalRTT / time.Duration(reports)
			record.lastActivity = time.Now()
		}
		e.mu.Unlock()
	}
}

func (e *Engine) attachDataChannelHandlers(userID domain.UserID, dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		e.touchActivity(userID)
		if l := e.listener(); l != nil {
			l.OnDataChannelOpen(userID)
		}
	})
	dc.OnClose(func() {
		if l := e.listener(); l != nil {
			l.OnDataChannelClose(userID)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		e.touchActivity(userID)
		if l := e.listener(); l != nil {
			l.OnDataChannelMessage(userID, msg.Data)
		}
	})
	dc.OnError(func(err error) {
		e.logger.Warnw("data channel error", "user_id", userID, "error", err)
		if l := e.listener(); l != nil {
			l.OnEngineError(userID, err)
		}
	})
}

// idleSweep closes records with no activity for longer than threshold.
func (e *Engine) idleSweep(interval, threshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.sweepDone:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-threshold)

			e.mu.RLock()
			var stale []domain.UserID
			for userID, record := range e.peers {
				if record.lastActivity.Before(cutoff) {
					stale = append(stale, userID)
				}
			}
			e.mu.RUnlock()

			for _, userID := range stale {
				e.logger.Infow("closing idle peer connection", "user_id", userID)
				e.ClosePeerConnection(userID)
			}
		}
	}
}

func mapPeerState(state webrtc.PeerConnectionState) domain.PeerState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return domain.PeerStateNew
	case webrtc.PeerConnectionStateConnecting:
		return domain.PeerStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.PeerStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.PeerStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.PeerStateFailed
	default:
		return domain.PeerStateClosed
	}
}
