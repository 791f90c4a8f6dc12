package services

import (
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
)

// QualityService classifies transport statistics into quality tiers using the
// thresholds supplied by the config provider.
type QualityService struct {
	provider ports.ConfigProvider
}

func NewQualityService(provider ports.ConfigProvider) *QualityService {
	return &QualityService{provider: provider}
}

// Classify maps a packet-loss ratio and round-trip time to a tier. Tiers are
// checked best-first; a sample that meets no threshold is poor.
func (qs *QualityService) Classify(packetLoss float64, rtt time.Duration) domain.QualityTier {
	thresholds := qs.provider.CallConfig().QualityThresholds

	for _, tier := range []domain.QualityTier{domain.TierExcellent, domain.TierGood, domain.TierFair} {
		th, ok := thresholds[tier]
		if !ok {
			continue
		}
		if packetLoss <= th.MaxPacketLoss && rtt <= th.MaxRoundTripTime {
			return tier
		}
	}
	return domain.TierPoor
}

// Sample builds a transient quality sample from raw statistics.
func (qs *QualityService) Sample(packetLoss float64, rtt time.Duration) domain.NetworkQualitySample {
	return domain.NetworkQualitySample{
		Timestamp:     time.Now(),
		PacketLoss:    packetLoss,
		RoundTripTime: rtt,
		Tier:          qs.Classify(packetLoss, rtt),
	}
}

// PresetForTier picks the video preset matching the detected tier, used by
// the automatic quality adjustment chain.
func (qs *QualityService) PresetForTier(tier domain.QualityTier) string {
	switch tier {
	case domain.TierExcellent:
		return "high"
	case domain.TierGood:
		return "medium"
	default:
		return "low"
	}
}
