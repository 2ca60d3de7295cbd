package keyrotor

// Backend binds a provider to its credentials. A backend with a Pool is
// rotated; otherwise APIKey is used for every request.
type Backend struct {
	Provider Provider
	Model    string
	Pool     *Pool
	APIKey   string
}

// buildCandidates creates the fallback chain in configured order.
func buildCandidates(backends []Backend, rotators []*Rotator, health *HealthTracker) []Candidate {
	candidates := make([]Candidate, 0, len(backends))
	for i, b := range backends {
		candidates = append(candidates, Candidate{
			Provider:  b.Provider,
			Model:     b.Model,
			Priority:  i,
			Health:    health.GetHealth(b.Provider.Name()),
			Rotator:   rotators[i],
			StaticKey: b.APIKey,
		})
	}
	return candidates
}
