package search

import (
	"math"
	"time"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// Profile fixes the recency half-life and the score weights for one
// search. The combined score is normalized by the weight sum, so weights
// only need to be meaningful relative to each other.
type Profile struct {
	Name          string        `json:"name,omitempty"`
	HalfLife      time.Duration `json:"half_life"`
	WeightSim     float64       `json:"weight_similarity"`
	WeightConf    float64       `json:"weight_confidence"`
	WeightRecency float64       `json:"weight_recency"`
}

var namedProfiles = map[string]Profile{
	"recent": {
		Name: "recent", HalfLife: 24 * time.Hour,
		WeightSim: 0.30, WeightConf: 0.10, WeightRecency: 0.60,
	},
	"quality": {
		Name: "quality", HalfLife: 30 * 24 * time.Hour,
		WeightSim: 0.40, WeightConf: 0.50, WeightRecency: 0.10,
	},
	"balanced": {
		Name: "balanced", HalfLife: 7 * 24 * time.Hour,
		WeightSim: 0.34, WeightConf: 0.33, WeightRecency: 0.33,
	},
	"similarity": {
		Name: "similarity", HalfLife: 365 * 24 * time.Hour,
		WeightSim: 1.00, WeightConf: 0.00, WeightRecency: 0.00,
	},
}

// ProfileByName resolves a named ranking profile. The empty name means
// "balanced".
func ProfileByName(name string) (Profile, error) {
	if name == "" {
		name = "balanced"
	}
	p, ok := namedProfiles[name]
	if !ok {
		return Profile{}, store.InvalidArgumentf("unknown ranking profile %q", name)
	}
	return p, nil
}

// Validate checks a caller-supplied custom profile.
func (p Profile) Validate() error {
	if p.HalfLife <= 0 {
		return store.InvalidArgumentf("ranking profile requires a positive half-life")
	}
	if p.WeightSim < 0 || p.WeightConf < 0 || p.WeightRecency < 0 {
		return store.InvalidArgumentf("ranking weights must be non-negative")
	}
	if p.WeightSim+p.WeightConf+p.WeightRecency <= 0 {
		return store.InvalidArgumentf("ranking weights must not all be zero")
	}
	return nil
}

// Decay is the recency term: 2^(-age/half_life), 1.0 for a message sent
// right now, 0.5 one half-life ago.
func (p Profile) Decay(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	return math.Exp2(-age.Hours() / p.HalfLife.Hours())
}

// Score combines similarity, confidence and recency under the profile's
// weights, normalized to [0,1].
func (p Profile) Score(sim, conf, recency float64) float64 {
	total := p.WeightSim + p.WeightConf + p.WeightRecency
	return (p.WeightSim*sim + p.WeightConf*conf + p.WeightRecency*recency) / total
}
