package agent

import "converse/internal/types"

// Scorer rates a default-path response in [0,1]. The scorer only sees
// responses from the default path; custom handler output is trusted and
// never scored.
type Scorer interface {
	Score(state *types.AgentState, response string) float64
}

// LengthScorer is the built-in heuristic: response length in runes
// normalized against a ceiling, clamped to [0,1]. Cheap and
// uncalibrated; swap in a real scorer when one exists.
type LengthScorer struct {
	Ceiling int
}

// NewLengthScorer builds a scorer with the given ceiling. Non-positive
// ceilings fall back to 100.
func NewLengthScorer(ceiling int) LengthScorer {
	if ceiling <= 0 {
		ceiling = 100
	}
	return LengthScorer{Ceiling: ceiling}
}

func (s LengthScorer) Score(_ *types.AgentState, response string) float64 {
	score := float64(len([]rune(response))) / float64(s.Ceiling)
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}
