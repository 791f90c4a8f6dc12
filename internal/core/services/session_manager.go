package services

import (
	"context"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CallMetrics is implemented by the monitoring collector. Implementations
// must be safe for concurrent use. A nil CallMetrics disables metrics.
type CallMetrics interface {
	CallStarted(callType domain.CallType, direction domain.CallDirection)
	CallEnded(outcome domain.CallOutcome, duration time.Duration)
	SetActiveCalls(n int)
	PeerConnected()
	QualitySample(tier domain.QualityTier)
}

// SessionManager owns every call session on this node and drives the call
// state machine. All signaling and transport callbacks funnel through its
// mutex, so state transitions are observed in a single order.
type SessionManager struct {
	mu sync.Mutex

	localUserID domain.UserID
	engine      ports.ConnectionEngine
	signaling   ports.SignalingChannel
	devices     ports.MediaDevices
	provider    ports.ConfigProvider
	records     ports.CallRecordRepository
	metrics     CallMetrics
	logger      *zap.SugaredLogger

	sessions      map[domain.CallID]*domain.CallSession
	peerCalls     map[domain.UserID]domain.CallID
	localStreams  map[domain.CallID]*domain.MediaStream
	ringTimers    map[domain.CallID]*time.Timer
	pendingOffers map[domain.CallID]domain.SessionDescription
	reconnects    map[domain.UserID]bool

	listeners   []ports.CallEvents
	listenersMu sync.RWMutex

	stats domain.CallStatistics
}

func NewSessionManager(
	localUserID domain.UserID,
	engine ports.ConnectionEngine,
	signaling ports.SignalingChannel,
	devices ports.MediaDevices,
	provider ports.ConfigProvider,
	records ports.CallRecordRepository,
	metrics CallMetrics,
	logger *zap.SugaredLogger,
) *SessionManager {
	m := &SessionManager{
		localUserID:   localUserID,
		engine:        engine,
		signaling:     signaling,
		devices:       devices,
		provider:      provider,
		records:       records,
		metrics:       metrics,
		logger:        logger,
		sessions:      make(map[domain.CallID]*domain.CallSession),
		peerCalls:     make(map[domain.UserID]domain.CallID),
		localStreams:  make(map[domain.CallID]*domain.MediaStream),
		ringTimers:    make(map[domain.CallID]*time.Timer),
		pendingOffers: make(map[domain.CallID]domain.SessionDescription),
		reconnects:    make(map[domain.UserID]bool),
	}

	engine.SetEvents(engineEvents{m})
	signaling.SetEventListeners(signalEvents{m})
	return m
}

// AddListener registers an application listener. Listeners are invoked
// synchronously, outside the manager's lock.
func (m *SessionManager) AddListener(l ports.CallEvents) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, l)
	m.listenersMu.Unlock()
}

func (m *SessionManager) emit(fn func(ports.CallEvents)) {
	m.listenersMu.RLock()
	listeners := make([]ports.CallEvents, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMu.RUnlock()

	for _, l := range listeners {
		fn(l)
	}
}

// Initiate starts an outgoing 1:1 call. Only one non-terminal session may
// exist at a time; a second Initiate fails with ErrCallAlreadyActive.
func (m *SessionManager) Initiate(ctx context.Context, target domain.UserID, callType domain.CallType, meta domain.CallMetadata) (*domain.CallSession, error) {
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
		State:        domain.CallStateInitiating,
		Participants: make(map[domain.UserID]*domain.Participant),
		LocalUserID:  m.localUserID,
		Metadata:     meta,
		CreatedAt:    time.Now(),
	}
	session.Participants[m.localUserID] = domain.NewLocalParticipant(m.localUserID, callType)
	session.Participants[target] = domain.NewRemoteParticipant(target)

	m.sessions[callID] = session
	m.peerCalls[target] = callID
	m.stats.TotalInitiated++
	m.mu.Unlock()

	m.logger.Infow("initiating call",
		"call_id", callID,
		"target", target,
		"call_type", callType,
	)
	if m.metrics != nil {
		m.metrics.CallStarted(callType, domain.DirectionOutgoing)
	}

	offer, err := m.prepareOutgoingPeer(ctx, callID, target, callType)
	if err != nil {
		m.finish(callID, domain.EndReasonFailed)
		return nil, err
	}

	req := domain.CallRequestPayload{
		CallID:   callID,
		CallType: callType,
		Metadata: meta,
		Offer:    &offer,
	}
	if err := m.signaling.SendCallRequest(ctx, target, req); err != nil {
		m.finish(callID, domain.EndReasonFailed)
		return nil, err
	}

	m.transition(callID, domain.CallStateRinging)
	m.armRingTimer(callID)
	return session, nil
}

// prepareOutgoingPeer acquires local media, wires the peer transport and
// produces the initial offer.
func (m *SessionManager) prepareOutgoingPeer(ctx context.Context, callID domain.CallID, peer domain.UserID, callType domain.CallType) (domain.SessionDescription, error) {
	stream, err := m.acquireMedia(ctx, callID, callType)
	if err != nil {
		return domain.SessionDescription{}, err
	}

	if err := m.engine.CreatePeerConnection(peer, true); err != nil {
		return domain.SessionDescription{}, err
	}
	if err := m.engine.AddLocalStream(peer, stream); err != nil {
		return domain.SessionDescription{}, err
	}
	return m.engine.CreateOffer(ctx, peer)
}

func (m *SessionManager) acquireMedia(ctx context.Context, callID domain.CallID, callType domain.CallType) (*domain.MediaStream, error) {
	m.mu.Lock()
	existing := m.localStreams[callID]
	m.mu.Unlock()
	if existing != nil {
		return existing, nil
	}

	stream, err := m.devices.GetUserMedia(ctx, true, callType != domain.CallTypeAudio)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.localStreams[callID] = stream
	m.mu.Unlock()

	m.emit(func(l ports.CallEvents) { l.OnLocalStreamReady(callID, stream) })
	return stream, nil
}

// AcceptCall answers a ringing incoming call.
func (m *SessionManager) AcceptCall(ctx context.Context, callID domain.CallID) error {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok {
		m.mu.Unlock()
		return domain.ErrCallNotFound
	}
	if session.Direction != domain.DirectionIncoming {
		m.mu.Unlock()
		return domain.ErrNotIncomingCall
	}
	if session.State != domain.CallStateRinging {
		m.mu.Unlock()
		return domain.ErrInvalidCallState
	}
	offer, hasOffer := m.pendingOffers[callID]
	delete(m.pendingOffers, callID)
	caller := remotePeerLocked(session)
	callType := session.Type
	m.mu.Unlock()

	if !hasOffer {
		return domain.ErrInvalidCallState
	}

	m.cancelRingTimer(callID)
	m.transition(callID, domain.CallStateConnecting)

	stream, err := m.acquireMedia(ctx, callID, callType)
	if err != nil {
		m.finish(callID, domain.EndReasonFailed)
		return err
	}
	if err := m.engine.CreatePeerConnection(caller, false); err != nil {
		m.finish(callID, domain.EndReasonFailed)
		return err
	}
	if err := m.engine.AddLocalStream(caller, stream); err != nil {
		m.finish(callID, domain.EndReasonFailed)
		return err
	}
	if err := m.engine.SetRemoteDescription(caller, offer); err != nil {
		m.finish(callID, domain.EndReasonFailed)
		return err
	}
	answer, err := m.engine.CreateAnswer(ctx, caller)
	if err != nil {
		m.finish(callID, domain.EndReasonFailed)
		return err
	}

	return m.signaling.SendCallAccept(ctx, caller, domain.CallAcceptPayload{
		CallID: callID,
		Answer: &answer,
	})
}

// RejectCall declines a ringing incoming call.
func (m *SessionManager) RejectCall(ctx context.Context, callID domain.CallID, reason domain.EndReason) error {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok {
		m.mu.Unlock()
		return domain.ErrCallNotFound
	}
	if session.Direction != domain.DirectionIncoming {
		m.mu.Unlock()
		return domain.ErrNotIncomingCall
	}
	if session.State != domain.CallStateRinging {
		m.mu.Unlock()
		return domain.ErrInvalidCallState
	}
	caller := remotePeerLocked(session)
	m.mu.Unlock()

	if reason == "" {
		reason = domain.EndReasonRejected
	}
	if err := m.signaling.SendCallReject(ctx, caller, domain.CallRejectPayload{
		CallID: callID,
		Reason: reason,
	}); err != nil {
		m.logger.Warnw("failed to send call reject", "call_id", callID, "error", err)
	}

	m.finish(callID, domain.EndReasonRejected)
	return nil
}

// EndCall hangs up. Idempotent: ending an unknown or already terminated call
// is a no-op.
func (m *SessionManager) EndCall(ctx context.Context, callID domain.CallID, reason domain.EndReason) error {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok || session.State.IsTerminal() {
		m.mu.Unlock()
		return nil
	}
	isGroup := session.IsGroup
	groupID := session.GroupID
	remotes := session.RemoteParticipants()
	m.mu.Unlock()

	if reason == "" {
		reason = domain.EndReasonNormal
	}
	payload := domain.CallEndPayload{CallID: callID, Reason: reason}
	if isGroup {
		if err := m.signaling.SendGroupLeave(ctx, groupID, payload); err != nil {
			m.logger.Warnw("failed to send group leave", "call_id", callID, "error", err)
		}
	} else {
		for _, p := range remotes {
			if err := m.signaling.SendCallEnd(ctx, p.UserID, payload); err != nil {
				m.logger.Warnw("failed to send call end", "call_id", callID, "peer", p.UserID, "error", err)
			}
		}
	}

	m.finish(callID, reason)
	return nil
}

// ActiveCalls returns every non-terminal session.
func (m *SessionManager) ActiveCalls() []*domain.CallSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.CallSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !s.State.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}

func (m *SessionManager) GetCall(callID domain.CallID) (*domain.CallSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callID]
	return s, ok
}

// Statistics returns the aggregate counters over terminated sessions.
func (m *SessionManager) Statistics() domain.CallStatistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	if stats.TotalCompleted > 0 {
		stats.AverageDuration = stats.TotalDuration / time.Duration(stats.TotalCompleted)
	}
	return stats
}

func (m *SessionManager) hasLiveSessionLocked() bool {
	for _, s := range m.sessions {
		if !s.State.IsTerminal() {
			return true
		}
	}
	return false
}

// remotePeerLocked returns the single remote participant of a 1:1 session.
func remotePeerLocked(session *domain.CallSession) domain.UserID {
	for id, p := range session.Participants {
		if !p.IsLocal {
			return id
		}
	}
	return ""
}

// transition moves a session to a new state and notifies listeners. Terminal
// sessions never transition again.
func (m *SessionManager) transition(callID domain.CallID, to domain.CallState) {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok || session.State.IsTerminal() || session.State == to {
		m.mu.Unlock()
		return
	}
	from := session.State
	session.State = to
	m.mu.Unlock()

	m.logger.Infow("call state changed", "call_id", callID, "from", from, "to", to)
	m.emit(func(l ports.CallEvents) { l.OnCallStateChanged(callID, from, to) })
}

func (m *SessionManager) armRingTimer(callID domain.CallID) {
	timeout := m.provider.CallConfig().CallTimeout

	m.mu.Lock()
	if old := m.ringTimers[callID]; old != nil {
		old.Stop()
	}
	m.ringTimers[callID] = time.AfterFunc(timeout, func() {
		m.handleRingTimeout(callID)
	})
	m.mu.Unlock()
}

func (m *SessionManager) cancelRingTimer(callID domain.CallID) {
	m.mu.Lock()
	if t := m.ringTimers[callID]; t != nil {
		t.Stop()
		delete(m.ringTimers, callID)
	}
	m.mu.Unlock()
}

func (m *SessionManager) handleRingTimeout(callID domain.CallID) {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok || session.State != domain.CallStateRinging {
		m.mu.Unlock()
		return
	}
	remotes := session.RemoteParticipants()
	outgoing := session.Direction == domain.DirectionOutgoing
	m.mu.Unlock()

	m.logger.Infow("call ring timed out", "call_id", callID)
	if outgoing {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, p := range remotes {
			if err := m.signaling.SendCallEnd(ctx, p.UserID, domain.CallEndPayload{
				CallID: callID,
				Reason: domain.EndReasonTimeout,
			}); err != nil {
				m.logger.Warnw("failed to send timeout end", "call_id", callID, "error", err)
			}
		}
	}
	m.finish(callID, domain.EndReasonTimeout)
}

// finish terminates a session: tears down transports and media, fixes the
// terminal state, updates statistics and persists the call record. Safe to
// call more than once.
func (m *SessionManager) finish(callID domain.CallID, reason domain.EndReason) {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok || session.State.IsTerminal() {
		m.mu.Unlock()
		return
	}

	if t := m.ringTimers[callID]; t != nil {
		t.Stop()
		delete(m.ringTimers, callID)
	}
	delete(m.pendingOffers, callID)

	wasConnected := !session.StartTime.IsZero()
	var peers []domain.UserID
	for id, p := range session.Participants {
		if !p.IsLocal {
			peers = append(peers, id)
			delete(m.peerCalls, id)
			delete(m.reconnects, id)
		}
	}
	stream := m.localStreams[callID]
	delete(m.localStreams, callID)

	session.EndTime = time.Now()
	if wasConnected {
		session.Duration = session.EndTime.Sub(session.StartTime)
	}
	session.State = terminalStateFor(reason, wasConnected)

	outcome := outcomeFor(session, reason, wasConnected)
	m.applyStatsLocked(outcome, session.Duration)

	record := &domain.CallRecord{
		CallID:           session.ID,
		Type:             session.Type,
		Direction:        session.Direction,
		Outcome:          outcome,
		Reason:           reason,
		Duration:         session.Duration,
		ParticipantCount: len(session.Participants),
		IsGroup:          session.IsGroup,
		EndedAt:          session.EndTime,
	}
	duration := session.Duration
	terminal := session.State
	active := 0
	for _, s := range m.sessions {
		if !s.State.IsTerminal() {
			active++
		}
	}
	delete(m.sessions, callID)
	m.mu.Unlock()

	for _, peer := range peers {
		m.engine.ClosePeerConnection(peer)
	}
	if stream != nil {
		stream.StopAll()
	}

	m.logger.Infow("call finished",
		"call_id", callID,
		"reason", reason,
		"outcome", outcome,
		"duration", duration,
	)
	if m.metrics != nil {
		m.metrics.CallEnded(outcome, duration)
		m.metrics.SetActiveCalls(active)
	}
	if m.records != nil {
		go m.persistRecord(record)
	}

	if terminal == domain.CallStateFailed {
		m.emit(func(l ports.CallEvents) { l.OnCallFailed(callID, reason) })
	}
	m.emit(func(l ports.CallEvents) { l.OnCallEnded(callID, reason, duration) })
}

func (m *SessionManager) persistRecord(record *domain.CallRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.records.Save(ctx, record); err != nil {
		m.logger.Warnw("failed to persist call record", "call_id", record.CallID, "error", err)
	}
}

func terminalStateFor(reason domain.EndReason, wasConnected bool) domain.CallState {
	if wasConnected {
		return domain.CallStateEnded
	}
	switch reason {
	case domain.EndReasonRejected, domain.EndReasonBusy:
		return domain.CallStateRejected
	case domain.EndReasonFailed, domain.EndReasonTimeout:
		return domain.CallStateFailed
	default:
		return domain.CallStateEnded
	}
}

func outcomeFor(session *domain.CallSession, reason domain.EndReason, wasConnected bool) domain.CallOutcome {
	if wasConnected {
		return domain.OutcomeCompleted
	}
	switch reason {
	case domain.EndReasonRejected, domain.EndReasonBusy:
		return domain.OutcomeRejected
	case domain.EndReasonTimeout:
		if session.Direction == domain.DirectionIncoming {
			return domain.OutcomeMissed
		}
		return domain.OutcomeFailed
	case domain.EndReasonFailed:
		return domain.OutcomeFailed
	default:
		return domain.OutcomeMissed
	}
}

func (m *SessionManager) applyStatsLocked(outcome domain.CallOutcome, duration time.Duration) {
	switch outcome {
	case domain.OutcomeCompleted:
		m.stats.TotalCompleted++
		m.stats.TotalDuration += duration
	case domain.OutcomeFailed:
		m.stats.TotalFailed++
	case domain.OutcomeRejected:
		m.stats.TotalRejected++
	}
}

// markConnected records the first successful transport for a session and
// moves it to the connected (or active, for conferences) state.
func (m *SessionManager) markConnected(callID domain.CallID) {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok || session.State.IsTerminal() {
		m.mu.Unlock()
		return
	}
	first := session.StartTime.IsZero()
	if first {
		session.StartTime = time.Now()
	}
	target := domain.CallStateConnected
	if session.IsGroup {
		target = domain.CallStateActive
	}
	active := 0
	for _, s := range m.sessions {
		if !s.State.IsTerminal() {
			active++
		}
	}
	m.mu.Unlock()

	m.transition(callID, target)
	if first {
		if m.metrics != nil {
			m.metrics.SetActiveCalls(active)
		}
		m.emit(func(l ports.CallEvents) { l.OnCallStarted(session) })
	}
}

// callForPeer resolves which session a transport event belongs to.
func (m *SessionManager) callForPeer(userID domain.UserID) (*domain.CallSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	callID, ok := m.peerCalls[userID]
	if !ok {
		return nil, false
	}
	session, ok := m.sessions[callID]
	return session, ok
}
