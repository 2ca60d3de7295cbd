package policy

import "github.com/ineyio/keyrotor"

// Static tries providers in the configured order.
type Static struct{}

var _ keyrotor.Policy = (*Static)(nil)

// Order returns a copy of candidates sorted by configured priority.
func (p *Static) Order(candidates []keyrotor.Candidate) []keyrotor.Candidate {
	result := make([]keyrotor.Candidate, len(candidates))
	copy(result, candidates)

	sortByPriority(result)
	return result
}
