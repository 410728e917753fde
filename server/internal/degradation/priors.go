package degradation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// FallbackCompound is used for compounds missing from the priors table.
const FallbackCompound = "MEDIUM"

// ErrNoFallbackPrior is returned by NewPriors when the table has no entry
// for FallbackCompound.
var ErrNoFallbackPrior = errors.New("degradation: priors table has no MEDIUM entry")

// Prior is the expected behaviour of one tyre compound.
type Prior struct {
	DegPerLap          float64 // seconds lost per lap
	DegStd             float64
	CliffLap           int     // stint length where the cliff is expected
	CliffRiskThreshold float64 // slope at which cliff risk reaches 1
}

// DefaultPriors returns the built-in table, averaged across tracks.
func DefaultPriors() map[string]Prior {
	return map[string]Prior{
		"SOFT":         {DegPerLap: 0.08, DegStd: 0.03, CliffLap: 20, CliffRiskThreshold: 0.12},
		"MEDIUM":       {DegPerLap: 0.05, DegStd: 0.02, CliffLap: 35, CliffRiskThreshold: 0.10},
		"HARD":         {DegPerLap: 0.03, DegStd: 0.015, CliffLap: 50, CliffRiskThreshold: 0.08},
		"INTERMEDIATE": {DegPerLap: 0.10, DegStd: 0.05, CliffLap: 25, CliffRiskThreshold: 0.15},
		"WET":          {DegPerLap: 0.12, DegStd: 0.06, CliffLap: 20, CliffRiskThreshold: 0.18},
	}
}

// Priors is an immutable compound lookup table.
type Priors struct {
	table map[string]Prior
}

// NewPriors validates table and returns a lookup over it. Keys are
// case-insensitive. A nil or empty table selects DefaultPriors.
func NewPriors(table map[string]Prior) (*Priors, error) {
	if len(table) == 0 {
		table = DefaultPriors()
	}
	out := make(map[string]Prior, len(table))
	for name, p := range table {
		key := strings.ToUpper(strings.TrimSpace(name))
		if p.CliffRiskThreshold <= 0 {
			return nil, fmt.Errorf("degradation: prior %s: cliff_risk_threshold must be > 0", key)
		}
		out[key] = p
	}
	if _, ok := out[FallbackCompound]; !ok {
		return nil, ErrNoFallbackPrior
	}
	return &Priors{table: out}, nil
}

// MustDefaultPriors returns the built-in table.
func MustDefaultPriors() *Priors {
	p, err := NewPriors(nil)
	if err != nil {
		panic(err)
	}
	return p
}

// Lookup returns the prior for compound, or the MEDIUM prior when unknown.
func (p *Priors) Lookup(compound string) Prior {
	if pr, ok := p.table[strings.ToUpper(compound)]; ok {
		return pr
	}
	return p.table[FallbackCompound]
}

// CliffThreshold is Lookup(compound).CliffRiskThreshold.
func (p *Priors) CliffThreshold(compound string) float64 {
	return p.Lookup(compound).CliffRiskThreshold
}

// CliffLap is Lookup(compound).CliffLap.
func (p *Priors) CliffLap(compound string) int {
	return p.Lookup(compound).CliffLap
}

// Compounds lists the known compounds in alphabetical order.
func (p *Priors) Compounds() []string {
	out := make([]string, 0, len(p.table))
	for name := range p.table {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CliffRisk maps a degradation slope onto [0, 1] relative to the compound's
// cliff threshold.
func (p *Priors) CliffRisk(compound string, slope float64) float64 {
	return clamp01(slope / p.CliffThreshold(compound))
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
