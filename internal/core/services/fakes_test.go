package services

import (
	"context"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
)

// fakeEngine records transport operations without touching the network.
type fakeEngine struct {
	mu         sync.Mutex
	events     ports.EngineEvents
	created    []domain.UserID
	closed     []domain.UserID
	offers     []domain.UserID
	answers    []domain.UserID
	remoteSet  []domain.UserID
	candidates []domain.ICECandidate
	messages   map[domain.UserID][]interface{}
	failOffer  bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{messages: make(map[domain.UserID][]interface{})}
}

func (f *fakeEngine) Init(ctx context.Context) error { return nil }

func (f *fakeEngine) CreatePeerConnection(userID domain.UserID, isInitiator bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, userID)
	return nil
}

func (f *fakeEngine) AddLocalStream(userID domain.UserID, stream *domain.MediaStream) error {
	return nil
}

func (f *fakeEngine) RemoveLocalStream(userID domain.UserID) error { return nil }

func (f *fakeEngine) CreateOffer(ctx context.Context, userID domain.UserID) (domain.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOffer {
		return domain.SessionDescription{}, domain.ErrPeerNotFound
	}
	f.offers = append(f.offers, userID)
	return domain.SessionDescription{SDPType: "offer", SDP: "v=0"}, nil
}

func (f *fakeEngine) CreateAnswer(ctx context.Context, userID domain.UserID) (domain.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, userID)
	return domain.SessionDescription{SDPType: "answer", SDP: "v=0"}, nil
}

func (f *fakeEngine) SetRemoteDescription(userID domain.UserID, desc domain.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteSet = append(f.remoteSet, userID)
	return nil
}

func (f *fakeEngine) AddICECandidate(userID domain.UserID, cand domain.ICECandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, cand)
	return nil
}

func (f *fakeEngine) ReplaceMediaTrack(userID domain.UserID, track *domain.LocalTrack) error {
	return nil
}

func (f *fakeEngine) StartScreenShare(ctx context.Context, userID domain.UserID, includeAudio bool) error {
	return nil
}

func (f *fakeEngine) StopScreenShare(ctx context.Context, userID domain.UserID, cameraID string) error {
	return nil
}

func (f *fakeEngine) AdjustVideoQuality(userID domain.UserID, preset string) error { return nil }

func (f *fakeEngine) AdjustVideoQualityCustom(userID domain.UserID, width, height, framerate int) error {
	return nil
}

func (f *fakeEngine) DetectNetworkQuality(ctx context.Context, userID domain.UserID) (domain.NetworkQualitySample, error) {
	return domain.NetworkQualitySample{Tier: domain.TierGood}, nil
}

func (f *fakeEngine) AutoAdjustVideoQuality(ctx context.Context, userID domain.UserID) (domain.QualityTier, error) {
	return domain.TierGood, nil
}

func (f *fakeEngine) SendDataChannelMessage(userID domain.UserID, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[userID] = append(f.messages[userID], payload)
	return nil
}

func (f *fakeEngine) ClosePeerConnection(userID domain.UserID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, userID)
}

func (f *fakeEngine) CloseAll() {}

func (f *fakeEngine) PeerInfo(userID domain.UserID) (domain.PeerInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.created {
		if id == userID {
			return domain.PeerInfo{UserID: id, State: domain.PeerStateConnected}, true
		}
	}
	return domain.PeerInfo{}, false
}

func (f *fakeEngine) Peers() []domain.PeerInfo { return nil }

func (f *fakeEngine) SetEvents(events ports.EngineEvents) { f.events = events }

func (f *fakeEngine) createdPeers() []domain.UserID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.UserID(nil), f.created...)
}

// fakeSignaling captures outbound messages and exposes the registered
// listener so tests can inject inbound traffic.
type fakeSignaling struct {
	mu       sync.Mutex
	events   ports.SignalEvents
	requests []domain.CallRequestPayload
	accepts  []domain.CallAcceptPayload
	rejects  []domain.CallRejectPayload
	ends     []domain.CallEndPayload
	invites  []domain.GroupInvitePayload
	joins    []domain.GroupJoinPayload
	leaves   []domain.CallEndPayload
	controls []domain.ConfControlPayload
	offers   []domain.SessionDescription
	answers  []domain.SessionDescription
	failNext error
}

func (f *fakeSignaling) takeErr() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeSignaling) SendCallRequest(ctx context.Context, to domain.UserID, p domain.CallRequestPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return err
	}
	f.requests = append(f.requests, p)
	return nil
}

func (f *fakeSignaling) SendCallAccept(ctx context.Context, to domain.UserID, p domain.CallAcceptPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepts = append(f.accepts, p)
	return nil
}

func (f *fakeSignaling) SendCallReject(ctx context.Context, to domain.UserID, p domain.CallRejectPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects = append(f.rejects, p)
	return nil
}

func (f *fakeSignaling) SendCallEnd(ctx context.Context, to domain.UserID, p domain.CallEndPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends = append(f.ends, p)
	return nil
}

func (f *fakeSignaling) SendGroupRequest(ctx context.Context, group domain.GroupID, to domain.UserID, p domain.GroupInvitePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invites = append(f.invites, p)
	return nil
}

func (f *fakeSignaling) SendGroupJoin(ctx context.Context, group domain.GroupID, p domain.GroupJoinPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, p)
	return nil
}

func (f *fakeSignaling) SendGroupLeave(ctx context.Context, group domain.GroupID, p domain.CallEndPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, p)
	return nil
}

func (f *fakeSignaling) SendConferenceControl(ctx context.Context, group domain.GroupID, p domain.ConfControlPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, p)
	return nil
}

func (f *fakeSignaling) SendOffer(ctx context.Context, to domain.UserID, callID domain.CallID, desc domain.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = append(f.offers, desc)
	return nil
}

func (f *fakeSignaling) SendAnswer(ctx context.Context, to domain.UserID, callID domain.CallID, desc domain.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, desc)
	return nil
}

func (f *fakeSignaling) SendICECandidate(ctx context.Context, to domain.UserID, callID domain.CallID, cand domain.ICECandidate) error {
	return nil
}

func (f *fakeSignaling) SetEventListeners(events ports.SignalEvents) { f.events = events }

func (f *fakeSignaling) Close() error { return nil }

// fakeSource is an inert capture source.
type fakeSource struct {
	mu      sync.Mutex
	stopped bool
}

func (s *fakeSource) ApplyConstraints(width, height, framerate int) error { return nil }

func (s *fakeSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// fakeDevices hands out streams of inert tracks.
type fakeDevices struct {
	mu      sync.Mutex
	streams []*domain.MediaStream
	failUserMedia bool
}

func (f *fakeDevices) GetUserMedia(ctx context.Context, audio, video bool) (*domain.MediaStream, error) {
	if f.failUserMedia {
		return nil, domain.ErrMediaUnavailable
	}
	stream := &domain.MediaStream{ID: "stream"}
	if audio {
		stream.Tracks = append(stream.Tracks, &domain.LocalTrack{Kind: domain.TrackKindAudio, Source: &fakeSource{}})
	}
	if video {
		stream.Tracks = append(stream.Tracks, &domain.LocalTrack{Kind: domain.TrackKindVideo, Source: &fakeSource{}})
	}
	f.mu.Lock()
	f.streams = append(f.streams, stream)
	f.mu.Unlock()
	return stream, nil
}

func (f *fakeDevices) GetDisplayMedia(ctx context.Context, includeAudio bool) (*domain.MediaStream, error) {
	return &domain.MediaStream{ID: "display"}, nil
}

func (f *fakeDevices) GetCameraTrack(ctx context.Context, cameraID string) (*domain.LocalTrack, error) {
	return &domain.LocalTrack{Kind: domain.TrackKindVideo, Source: &fakeSource{}}, nil
}

// fakeProvider serves a static CallConfig.
type fakeProvider struct {
	mu  sync.Mutex
	cfg ports.CallConfig
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{cfg: ports.CallConfig{
		STUNServers:               []string{"stun:stun.example.com:3478"},
		CallTimeout:               30 * time.Second,
		IdleSweepInterval:         30 * time.Second,
		IdleThreshold:             5 * time.Minute,
		MaxConferenceParticipants: 4,
		VideoPresets: map[string]domain.VideoQualityPreset{
			"low":    {Name: "low", Width: 320, Height: 240, Framerate: 15},
			"medium": {Name: "medium", Width: 640, Height: 480, Framerate: 24},
			"high":   {Name: "high", Width: 1280, Height: 720, Framerate: 30},
		},
		QualityThresholds: map[domain.QualityTier]domain.QualityThreshold{
			domain.TierExcellent: {MaxPacketLoss: 0.02, MaxRoundTripTime: 150 * time.Millisecond},
			domain.TierGood:      {MaxPacketLoss: 0.05, MaxRoundTripTime: 300 * time.Millisecond},
			domain.TierFair:      {MaxPacketLoss: 0.1, MaxRoundTripTime: 500 * time.Millisecond},
		},
	}}
}

func (f *fakeProvider) CallConfig() ports.CallConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func (f *fakeProvider) OnConfigUpdate(fn func(ports.CallConfig)) {}

// fakeRecords collects persisted call records.
type fakeRecords struct {
	mu      sync.Mutex
	records []*domain.CallRecord
}

func (f *fakeRecords) Save(ctx context.Context, record *domain.CallRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeRecords) List(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.CallRecord(nil), f.records...), nil
}

func (f *fakeRecords) saved() []*domain.CallRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.CallRecord(nil), f.records...)
}

// recordingListener captures emitted call events.
type recordingListener struct {
	mu         sync.Mutex
	incoming   []*domain.CallSession
	states     []domain.CallState
	started    []domain.CallID
	ended      map[domain.CallID]domain.EndReason
	failed     map[domain.CallID]domain.EndReason
	joined     []domain.UserID
	left       []domain.UserID
	media      []domain.MediaState
	invites    []domain.GroupInvitePayload
	localReady []domain.CallID
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		ended:  make(map[domain.CallID]domain.EndReason),
		failed: make(map[domain.CallID]domain.EndReason),
	}
}

func (r *recordingListener) OnIncomingCall(session *domain.CallSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incoming = append(r.incoming, session)
}

func (r *recordingListener) OnCallStateChanged(callID domain.CallID, from, to domain.CallState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, to)
}

func (r *recordingListener) OnCallStarted(session *domain.CallSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, session.ID)
}

func (r *recordingListener) OnCallEnded(callID domain.CallID, reason domain.EndReason, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended[callID] = reason
}

func (r *recordingListener) OnCallFailed(callID domain.CallID, reason domain.EndReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[callID] = reason
}

func (r *recordingListener) OnParticipantJoined(callID domain.CallID, participant *domain.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, participant.UserID)
}

func (r *recordingListener) OnParticipantLeft(callID domain.CallID, userID domain.UserID, reason domain.EndReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, userID)
}

func (r *recordingListener) OnParticipantMediaChanged(callID domain.CallID, userID domain.UserID, state domain.MediaState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.media = append(r.media, state)
}

func (r *recordingListener) OnRemoteStreamReceived(callID domain.CallID, userID domain.UserID, stream *domain.RemoteStream) {
}

func (r *recordingListener) OnLocalStreamReady(callID domain.CallID, stream *domain.MediaStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localReady = append(r.localReady, callID)
}

func (r *recordingListener) localReadyCount(callID domain.CallID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range r.localReady {
		if id == callID {
			n++
		}
	}
	return n
}

func (r *recordingListener) OnGroupCallInvite(from domain.UserID, payload domain.GroupInvitePayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invites = append(r.invites, payload)
}

func (r *recordingListener) endedReason(callID domain.CallID) (domain.EndReason, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reason, ok := r.ended[callID]
	return reason, ok
}
