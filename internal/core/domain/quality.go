package domain

import "time"

type QualityTier string

const (
	TierExcellent QualityTier = "excellent"
	TierGood      QualityTier = "good"
	TierFair      QualityTier = "fair"
	TierPoor      QualityTier = "poor"
)

var tierRank = map[QualityTier]int{
	TierExcellent: 0,
	TierGood:      1,
	TierFair:      2,
	TierPoor:      3,
}

// WorseThan reports whether t is a lower tier than other.
func (t QualityTier) WorseThan(other QualityTier) bool {
	return tierRank[t] > tierRank[other]
}

// NetworkQualitySample is a transient classification of transport statistics.
// Samples are derived on demand and never persisted.
type NetworkQualitySample struct {
	Timestamp     time.Time
	PacketLoss    float64 // outbound loss ratio, 0-1
	RoundTripTime time.Duration
	Tier          QualityTier
}

// QualityThreshold is the ceiling a sample must stay under to qualify for a
// tier. Tiers are checked best-first.
type QualityThreshold struct {
	MaxPacketLoss    float64
	MaxRoundTripTime time.Duration
}

// VideoQualityPreset constrains the outbound video track.
type VideoQualityPreset struct {
	Name      string
	Width     int
	Height    int
	Framerate int
	Bitrate   int // kbps
}
