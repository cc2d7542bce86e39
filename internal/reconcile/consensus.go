package reconcile

import (
	"sort"
)

// PartyValue is one party's reported value for a field under dispute.
type PartyValue struct {
	Party string
	Value string
}

// ConsensusResult is the outcome of reconciling one field across N
// independent party data sources.
type ConsensusResult struct {
	Field       string   `json:"field"`
	Value       string   `json:"value,omitempty"`
	Achieved    bool     `json:"achieved"`
	Agreeing    []string `json:"agreeing,omitempty"`
	Disagreeing []string `json:"disagreeing,omitempty"`
}

// ConsensusResolver reconciles a field-level value across independent
// parties, surfacing disagreements. It is stateless.
type ConsensusResolver struct{}

// NewConsensusResolver constructs a resolver.
func NewConsensusResolver() *ConsensusResolver { return &ConsensusResolver{} }

// Resolve picks the strict-majority value among the reported values. A tie
// for the top count means no consensus; every party is then listed as
// disagreeing so the dispute surfaces whole. Party lists come back sorted
// for deterministic output.
func (c *ConsensusResolver) Resolve(field string, values []PartyValue) ConsensusResult {
	result := ConsensusResult{Field: field}
	if len(values) == 0 {
		return result
	}

	counts := make(map[string]int)
	byValue := make(map[string][]string)
	for _, pv := range values {
		counts[pv.Value]++
		byValue[pv.Value] = append(byValue[pv.Value], pv.Party)
	}

	top, topCount, tied := "", 0, false
	// Deterministic scan order over candidate values.
	candidates := make([]string, 0, len(counts))
	for v := range counts {
		candidates = append(candidates, v)
	}
	sort.Strings(candidates)
	for _, v := range candidates {
		switch {
		case counts[v] > topCount:
			top, topCount, tied = v, counts[v], false
		case counts[v] == topCount:
			tied = true
		}
	}

	if tied || topCount*2 <= len(values) {
		// No strict majority: dispute, all parties surfaced.
		for _, pv := range values {
			result.Disagreeing = append(result.Disagreeing, pv.Party)
		}
		sort.Strings(result.Disagreeing)
		return result
	}

	result.Achieved = true
	result.Value = top
	result.Agreeing = append(result.Agreeing, byValue[top]...)
	sort.Strings(result.Agreeing)
	for v, parties := range byValue {
		if v == top {
			continue
		}
		result.Disagreeing = append(result.Disagreeing, parties...)
	}
	sort.Strings(result.Disagreeing)
	return result
}

// ResolveAll reconciles several fields at once, keyed by field name.
func (c *ConsensusResolver) ResolveAll(fields map[string][]PartyValue) map[string]ConsensusResult {
	out := make(map[string]ConsensusResult, len(fields))
	for field, values := range fields {
		out[field] = c.Resolve(field, values)
	}
	return out
}
