package intent

import "lumen/internal/core"

const DefaultMinScore = 0.5

type MatchedBy string

const (
	MatchedExact    MatchedBy = "exact"
	MatchedFallback MatchedBy = "fallback"
)

// Resolution is the outcome of Resolve. Capability is empty when the
// utterance should go to the conversational fallback.
type Resolution struct {
	Capability string
	Params     core.Params
	MatchedBy  MatchedBy
	Score      float64
}

func (r Resolution) Fallback() bool {
	return r.MatchedBy == MatchedFallback
}

// Resolver picks the highest-scoring capability for an utterance. It holds no
// state besides its threshold, so it is safe for concurrent use.
type Resolver struct {
	// MinScore is the lowest score that still counts as a match.
	MinScore float64
}

func NewResolver(minScore float64) Resolver {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return Resolver{MinScore: minScore}
}

// Resolve walks capabilities in registration order. A later capability only
// wins with a strictly higher score, so ties go to the earliest registered.
func (r Resolver) Resolve(u core.Utterance, reg *Registry) Resolution {
	best := Resolution{MatchedBy: MatchedFallback, Params: core.Params{}}
	found := false

	for _, c := range reg.All() {
		params, score, ok := c.Match(u.Text)
		if !ok || score < r.MinScore {
			continue
		}
		if !found || score > best.Score {
			best = Resolution{
				Capability: c.Name,
				Params:     params,
				MatchedBy:  MatchedExact,
				Score:      score,
			}
			found = true
		}
	}

	if best.Params == nil {
		best.Params = core.Params{}
	}
	return best
}
