package webrtc

import (
	"context"
	"sync"
	"testing"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/internal/core/services"
	"callmesh/internal/infrastructure/media"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticProvider struct {
	mu  sync.Mutex
	cfg ports.CallConfig
}

func newStaticProvider() *staticProvider {
	return &staticProvider{cfg: ports.CallConfig{
		STUNServers:       []string{"stun:stun.example.com:3478"},
		CallTimeout:       30 * time.Second,
		IdleSweepInterval: time.Hour,
		IdleThreshold:     time.Hour,
		VideoPresets: map[string]domain.VideoQualityPreset{
			"low":  {Name: "low", Width: 320, Height: 240, Framerate: 15},
			"high": {Name: "high", Width: 1280, Height: 720, Framerate: 30},
		},
		QualityThresholds: map[domain.QualityTier]domain.QualityThreshold{
			domain.TierExcellent: {MaxPacketLoss: 0.02, MaxRoundTripTime: 150 * time.Millisecond},
			domain.TierGood:      {MaxPacketLoss: 0.05, MaxRoundTripTime: 300 * time.Millisecond},
			domain.TierFair:      {MaxPacketLoss: 0.1, MaxRoundTripTime: 500 * time.Millisecond},
		},
	}}
}

func (p *staticProvider) CallConfig() ports.CallConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *staticProvider) OnConfigUpdate(fn func(ports.CallConfig)) {}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	provider := newStaticProvider()
	logger := zap.NewNop().Sugar()
	devices := media.NewSyntheticDevices(logger)
	engine := NewEngine(provider, devices, services.NewQualityService(provider), logger)

	require.NoError(t, engine.Init(context.Background()))
	t.Cleanup(engine.CloseAll)
	return engine
}

func TestCreatePeerConnection_RequiresInit(t *testing.T) {
	provider := newStaticProvider()
	logger := zap.NewNop().Sugar()
	engine := NewEngine(provider, media.NewSyntheticDevices(logger), services.NewQualityService(provider), logger)

	err := engine.CreatePeerConnection("bob", true)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestCreatePeerConnection_InitiatorGetsDataChannel(t *testing.T) {
	engine := newTestEngine(t)

	require.NoError(t, engine.CreatePeerConnection("bob", true))

	info, ok := engine.PeerInfo("bob")
	require.True(t, ok)
	assert.True(t, info.IsInitiator)
	assert.True(t, info.HasDataCh)
	assert.Equal(t, domain.PeerStateNew, info.State)
}

func TestCreatePeerConnection_SupersedesExisting(t *testing.T) {
	engine := newTestEngine(t)

	require.NoError(t, engine.CreatePeerConnection("bob", true))
	require.NoError(t, engine.CreatePeerConnection("bob", false))

	assert.Len(t, engine.Peers(), 1)
	info, _ := engine.PeerInfo("bob")
	assert.False(t, info.IsInitiator)
}

func TestCreateOffer_UnknownPeer(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.CreateOffer(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrPeerNotFound)
}

func TestNegotiation_OfferAnswerRoundTrip(t *testing.T) {
	caller := newTestEngine(t)
	callee := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, caller.CreatePeerConnection("bob", true))
	offer, err := caller.CreateOffer(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.SDPType)
	assert.NotEmpty(t, offer.SDP)

	require.NoError(t, callee.CreatePeerConnection("alice", false))

	// Candidates arriving before the remote description must be queued,
	// not rejected.
	require.NoError(t, callee.AddICECandidate("alice", domain.ICECandidate{
		Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 54321 typ host",
	}))

	require.NoError(t, callee.SetRemoteDescription("alice", offer))
	answer, err := callee.CreateAnswer(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.SDPType)

	require.NoError(t, caller.SetRemoteDescription("bob", answer))
}

func TestAddICECandidate_UnknownPeer(t *testing.T) {
	engine := newTestEngine(t)

	err := engine.AddICECandidate("ghost", domain.ICECandidate{Candidate: "candidate:1"})
	assert.ErrorIs(t, err, domain.ErrPeerNotFound)
}

func TestAddLocalStream_TracksBecomeSenders(t *testing.T) {
	engine := newTestEngine(t)
	logger := zap.NewNop().Sugar()
	devices := media.NewSyntheticDevices(logger)

	stream, err := devices.GetUserMedia(context.Background(), true, true)
	require.NoError(t, err)
	defer stream.StopAll()

	require.NoError(t, engine.CreatePeerConnection("bob", true))
	require.NoError(t, engine.AddLocalStream("bob", stream))

	info, _ := engine.PeerInfo("bob")
	assert.True(t, info.HasLocal)

	require.NoError(t, engine.RemoveLocalStream("bob"))
	info, _ = engine.PeerInfo("bob")
	assert.False(t, info.HasLocal)
}

func TestAdjustVideoQuality_UnknownPreset(t *testing.T) {
	engine := newTestEngine(t)

	err := engine.AdjustVideoQuality("bob", "ultra")
	assert.ErrorIs(t, err, domain.ErrUnknownPreset)
}

func TestAdjustVideoQuality_AppliesConstraints(t *testing.T) {
	engine := newTestEngine(t)
	logger := zap.NewNop().Sugar()
	devices := media.NewSyntheticDevices(logger)

	stream, err := devices.GetUserMedia(context.Background(), false, true)
	require.NoError(t, err)
	defer stream.StopAll()

	require.NoError(t, engine.CreatePeerConnection("bob", true))
	require.NoError(t, engine.AddLocalStream("bob", stream))

	assert.NoError(t, engine.AdjustVideoQuality("bob", "low"))
	assert.NoError(t, engine.AdjustVideoQualityCustom("bob", 800, 600, 20))
}

func TestSendDataChannelMessage_Errors(t *testing.T) {
	engine := newTestEngine(t)

	err := engine.SendDataChannelMessage("ghost", "hello")
	assert.ErrorIs(t, err, domain.ErrPeerNotFound)

	require.NoError(t, engine.CreatePeerConnection("bob", true))
	// Channel exists but has not opened without a connected transport.
	err = engine.SendDataChannelMessage("bob", "hello")
	assert.ErrorIs(t, err, domain.ErrDataChannelClosed)
}

func TestClosePeerConnection_Idempotent(t *testing.T) {
	engine := newTestEngine(t)

	require.NoError(t, engine.CreatePeerConnection("bob", true))
	engine.ClosePeerConnection("bob")
	engine.ClosePeerConnection("bob")
	engine.ClosePeerConnection("never-existed")

	assert.Empty(t, engine.Peers())
}

func TestCloseAll_DropsEveryRecord(t *testing.T) {
	engine := newTestEngine(t)

	require.NoError(t, engine.CreatePeerConnection("bob", true))
	require.NoError(t, engine.CreatePeerConnection("carol", true))
	engine.CloseAll()

	assert.Empty(t, engine.Peers())
}
