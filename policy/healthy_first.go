package policy

import (
	"sort"

	"github.com/ineyio/keyrotor"
)

// HealthyFirst tries healthy and half-open providers before unhealthy ones,
// keeping the configured order within each group. Unhealthy providers stay
// in the chain as a last resort.
type HealthyFirst struct{}

var _ keyrotor.Policy = (*HealthyFirst)(nil)

// Order moves unhealthy candidates to the end.
func (p *HealthyFirst) Order(candidates []keyrotor.Candidate) []keyrotor.Candidate {
	result := make([]keyrotor.Candidate, len(candidates))
	copy(result, candidates)

	sortByPriority(result)
	sort.SliceStable(result, func(i, j int) bool {
		ui := result[i].Health == keyrotor.HealthUnhealthy
		uj := result[j].Health == keyrotor.HealthUnhealthy
		return !ui && uj
	})
	return result
}

func sortByPriority(c []keyrotor.Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		return c[i].Priority < c[j].Priority
	})
}
