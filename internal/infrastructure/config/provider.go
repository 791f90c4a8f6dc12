package config

import (
	"sync"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/pkg/config"
)

// Provider projects the application configuration onto the slice the call
// core consumes and fans out updates pushed by the file watcher.
type Provider struct {
	mu        sync.RWMutex
	current   ports.CallConfig
	listeners []func(ports.CallConfig)
}

func NewProvider(cfg *config.Config) *Provider {
	return &Provider{current: project(cfg)}
}

func (p *Provider) CallConfig() ports.CallConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

func (p *Provider) OnConfigUpdate(fn func(ports.CallConfig)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Apply installs a freshly loaded configuration and notifies listeners.
// Suitable as a config.Watcher callback.
func (p *Provider) Apply(cfg *config.Config) {
	next := project(cfg)

	p.mu.Lock()
	p.current = next
	listeners := make([]func(ports.CallConfig), len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
}

func project(cfg *config.Config) ports.CallConfig {
	presets := make(map[string]domain.VideoQualityPreset, len(cfg.Quality.Presets))
	for _, p := range cfg.Quality.Presets {
		presets[p.Name] = domain.VideoQualityPreset{
			Name:      p.Name,
			Width:     p.Width,
			Height:    p.Height,
			Framerate: p.Framerate,
			Bitrate:   p.Bitrate,
		}
	}

	thresholds := map[domain.QualityTier]domain.QualityThreshold{
		domain.TierExcellent: toThreshold(cfg.Quality.Thresholds.Excellent),
		domain.TierGood:      toThreshold(cfg.Quality.Thresholds.Good),
		domain.TierFair:      toThreshold(cfg.Quality.Thresholds.Fair),
	}

	return ports.CallConfig{
		STUNServers:               append([]string(nil), cfg.WebRTC.STUNServers...),
		CallTimeout:               cfg.Calls.CallTimeout,
		IdleSweepInterval:         cfg.Calls.IdleSweepInterval,
		IdleThreshold:             cfg.Calls.IdleThreshold,
		MaxConferenceParticipants: cfg.Calls.MaxConferenceParticipants,
		VideoPresets:              presets,
		QualityThresholds:         thresholds,
	}
}

func toThreshold(t config.QualityThreshold) domain.QualityThreshold {
	return domain.QualityThreshold{
		MaxPacketLoss:    t.MaxPacketLoss,
		MaxRoundTripTime: t.MaxRoundTripTime,
	}
}
