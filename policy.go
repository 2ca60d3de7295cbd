package keyrotor

// Policy orders the fallback chain for a request.
type Policy interface {
	// Order returns candidates in the order they should be tried.
	Order(candidates []Candidate) []Candidate
}

// Candidate is one provider in the fallback chain.
type Candidate struct {
	Provider Provider
	Model    string
	Priority int // position in the configured chain, 0 first
	Health   HealthState

	// Exactly one of Rotator and StaticKey is used.
	Rotator   *Rotator
	StaticKey string
}

// Rotated reports whether the candidate draws keys from a pool.
func (c Candidate) Rotated() bool { return c.Rotator != nil }

// staticOrder keeps the configured chain order.
type staticOrder struct{}

func (staticOrder) Order(candidates []Candidate) []Candidate { return candidates }
