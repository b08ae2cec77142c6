// Package matcher resolves symbolic capability requirements to concrete
// registry candidates using a weighted multi-criteria score. Candidates
// below the acceptance threshold are excluded rather than returned with a
// low rank, so callers never re-filter.
package matcher

import (
	"sort"
	"strings"

	"github.com/hupe1980/reactmesh/registry"
)

// Scoring weights. They sum to 1.0; the capability dimension dominates so a
// cheap but incapable candidate can never outrank a capable one on cost.
const (
	weightCapability = 0.35
	weightCost       = 0.20
	weightLatency    = 0.15
	weightHistory    = 0.20
	weightStability  = 0.10
)

// partialMatchScore is awarded when a candidate only matches the category
// prefix of a requirement (e.g. "search" for "search.web").
const partialMatchScore = 0.6

// DefaultMinScore is the acceptance threshold applied when none is
// configured.
const DefaultMinScore = 0.5

// Requirement is a symbolic capability requirement to resolve.
//
// Execution marks a side-effect-bearing requirement: only candidates
// registered with the side-effect flag are eligible, regardless of score.
// This is a hard filter applied before scoring, not a weighted factor.
type Requirement struct {
	Capability string
	Execution  bool
}

// Match is one ranked candidate with its score breakdown.
type Match struct {
	Candidate       registry.Candidate
	CapabilityScore float64
	TotalScore      float64
}

// Options configures a Matcher.
type Options struct {
	// MinScore excludes candidates scoring below it. Defaults to
	// DefaultMinScore when zero.
	MinScore float64
}

// Matcher scores registry candidates against requirements. It is stateless
// beyond its registry reference and safe for concurrent use.
type Matcher struct {
	registry *registry.Registry
	minScore float64
}

// New constructs a Matcher over the given registry.
func New(reg *registry.Registry, optFns ...func(o *Options)) *Matcher {
	opts := Options{MinScore: DefaultMinScore}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MinScore <= 0 {
		opts.MinScore = DefaultMinScore
	}
	return &Matcher{registry: reg, minScore: opts.MinScore}
}

// Match returns candidates whose capability set intersects the requirement,
// ranked descending by total score. Ties break on candidate id so the
// ranking is deterministic for a fixed registry snapshot.
func (m *Matcher) Match(req Requirement) []Match {
	var matches []Match
	for _, c := range m.registry.Snapshot() {
		if req.Execution && !c.SideEffect {
			continue
		}
		capScore := capabilityScore(req.Capability, c)
		if capScore == 0 {
			continue
		}
		total := weightCapability*capScore +
			weightCost*c.CostScore +
			weightLatency*c.LatencyScore +
			weightHistory*c.SuccessHistory +
			weightStability*c.Stability
		if total < m.minScore {
			continue
		}
		matches = append(matches, Match{Candidate: c, CapabilityScore: capScore, TotalScore: total})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].TotalScore != matches[j].TotalScore {
			return matches[i].TotalScore > matches[j].TotalScore
		}
		return matches[i].Candidate.ID < matches[j].Candidate.ID
	})
	return matches
}

// Best returns the top ranked candidate, or false when no candidate clears
// the acceptance threshold.
func (m *Matcher) Best(req Requirement) (Match, bool) {
	matches := m.Match(req)
	if len(matches) == 0 {
		return Match{}, false
	}
	return matches[0], true
}

// capabilityScore rewards an exact symbolic match with the ceiling value
// and a category-prefix match with a partial score. Requirements and tags
// use dotted category paths ("search.web", "file.edit").
func capabilityScore(requirement string, c registry.Candidate) float64 {
	if c.HasCapability(requirement) {
		return 1.0
	}
	category := categoryOf(requirement)
	for _, tag := range c.Capabilities {
		if tag == category || categoryOf(tag) == category {
			return partialMatchScore
		}
	}
	return 0
}

func categoryOf(tag string) string {
	if i := strings.IndexByte(tag, '.'); i > 0 {
		return tag[:i]
	}
	return tag
}
