package orchestration

import (
	"strconv"
	"strings"
)

// highResolutionEdge is the longest-edge pixel count from which final output
// is billed at the high-resolution rate.
const highResolutionEdge = 3840

// CostPolicy prices each chargeable step of the saga.
type CostPolicy struct {
	Sample       float64
	Regeneration float64
	Final        float64
	FinalHighRes float64
	// FreeSampleTiers lists subscription tiers whose sample and regeneration
	// fees are waived. Matching is case-insensitive.
	FreeSampleTiers []string
}

// DefaultCostPolicy returns the standard price list.
func DefaultCostPolicy() CostPolicy {
	return CostPolicy{
		Sample:          0.25,
		Regeneration:    0.25,
		Final:           1.0,
		FinalHighRes:    2.0,
		FreeSampleTiers: []string{"team", "enterprise"},
	}
}

// SamplesWaived reports whether tier generates samples for free.
func (p CostPolicy) SamplesWaived(tier string) bool {
	tier = strings.TrimSpace(tier)
	for _, t := range p.FreeSampleTiers {
		if strings.EqualFold(t, tier) {
			return true
		}
	}
	return false
}

// FinalCost prices final generation at the requested resolution.
func (p CostPolicy) FinalCost(resolution string) float64 {
	if IsHighResolution(resolution) {
		return p.FinalHighRes
	}
	return p.Final
}

// IsHighResolution accepts labels such as "4K" or "8k" and explicit sizes
// such as "4096x4096".
func IsHighResolution(resolution string) bool {
	r := strings.ToLower(strings.TrimSpace(resolution))
	if r == "" {
		return false
	}
	if strings.Contains(r, "4k") || strings.Contains(r, "8k") {
		return true
	}
	w, h, ok := strings.Cut(r, "x")
	if !ok {
		return false
	}
	width, err1 := strconv.Atoi(strings.TrimSpace(w))
	height, err2 := strconv.Atoi(strings.TrimSpace(h))
	if err1 != nil || err2 != nil {
		return false
	}
	return max(width, height) >= highResolutionEdge
}
