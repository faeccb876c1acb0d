package verdict

import "fmt"

// EscalationThreshold is the fixed confidence floor applied during
// aggregation. Callers judging individual verdicts may use a configured
// threshold instead; see Verdict.NeedsEscalation.
const EscalationThreshold = 0.7

// decisionPriority is the fixed tie-break order for equal vote weight:
// the more cautious decision wins.
var decisionPriority = map[Decision]int{
	DecisionReject:      3,
	DecisionConditional: 2,
	DecisionApprove:     1,
	DecisionSkip:        0,
}

// Consensus is the outcome of aggregating several verdicts on one question.
type Consensus struct {
	Decision        Decision             `json:"decision"`
	Confidence      float64              `json:"confidence"`
	NeedsEscalation bool                 `json:"needs_escalation"`
	Reasoning       string               `json:"reasoning"`
	Concerns        []string             `json:"concerns,omitempty"`
	VoteWeights     map[Decision]float64 `json:"vote_weights,omitempty"`
}

// Aggregate combines N verdicts into a consensus. weights maps agent name to
// vote weight; absent agents get weight 1.0. A nil weights map gives every
// verdict equal weight.
//
// Escalation is signalled when the weighted confidence is below
// EscalationThreshold, when any verdict carries concerns, or when more than
// one distinct decision is present. An empty input never defaults to approve.
func Aggregate(verdicts []*Verdict, weights map[string]float64) Consensus {
	if len(verdicts) == 0 {
		return Consensus{
			Decision:        DecisionSkip,
			Confidence:      0,
			NeedsEscalation: true,
			Reasoning:       "no agent outputs to aggregate",
		}
	}

	votes := make(map[Decision]float64, 4)
	var totalWeight, weightedConfidence float64
	var concerns []string
	seen := make(map[string]bool)

	for _, v := range verdicts {
		w := 1.0
		if weights != nil {
			if ww, ok := weights[v.AgentName]; ok {
				w = ww
			}
		}
		votes[v.Decision] += w
		totalWeight += w
		weightedConfidence += v.Confidence * w

		for _, f := range v.Flags {
			if !seen[f] {
				seen[f] = true
				concerns = append(concerns, f)
			}
		}
	}

	if totalWeight > 0 {
		weightedConfidence /= totalWeight
	}

	winner := DecisionSkip
	best := -1.0
	for d, w := range votes {
		if w > best || (w == best && decisionPriority[d] > decisionPriority[winner]) {
			winner = d
			best = w
		}
	}

	disagreement := len(votes) > 1
	return Consensus{
		Decision:        winner,
		Confidence:      weightedConfidence,
		NeedsEscalation: weightedConfidence < EscalationThreshold || len(concerns) > 0 || disagreement,
		Reasoning:       aggregateReason(len(verdicts), winner, disagreement),
		Concerns:        concerns,
		VoteWeights:     votes,
	}
}

func aggregateReason(n int, winner Decision, disagreement bool) string {
	if disagreement {
		return fmt.Sprintf("weighted majority of %d verdicts chose %s with disagreement present", n, winner)
	}
	return fmt.Sprintf("all %d verdicts chose %s", n, winner)
}
