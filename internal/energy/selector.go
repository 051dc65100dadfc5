package energy

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Selector picks the comparison metric for a new assistant turn.
// It is consulted exactly once per turn; replay never calls it.
type Selector interface {
	Select(turnIndex int) Metric
}

// FixedSelector always picks the catalog's first metric.
type FixedSelector struct {
	catalog *Catalog
}

func (s FixedSelector) Select(int) Metric { return s.catalog.At(0) }

// CycleSelector walks the catalog by turn index.
type CycleSelector struct {
	catalog *Catalog
}

func (s CycleSelector) Select(turnIndex int) Metric {
	if turnIndex < 0 {
		turnIndex = 0
	}
	return s.catalog.At(turnIndex % s.catalog.Len())
}

// RandomSelector picks uniformly at random from an injected source.
type RandomSelector struct {
	catalog *Catalog
	mu      sync.Mutex
	rng     *rand.Rand
}

// NewRandomSelector creates a uniform selector seeded with seed.
func NewRandomSelector(catalog *Catalog, seed uint64) *RandomSelector {
	return &RandomSelector{catalog: catalog, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *RandomSelector) Select(int) Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog.At(s.rng.IntN(s.catalog.Len()))
}

// NewSelector builds the selector named by mode: fixed, cycle or random.
func NewSelector(mode string, catalog *Catalog, seed uint64) (Selector, error) {
	switch mode {
	case "", "fixed":
		return FixedSelector{catalog: catalog}, nil
	case "cycle":
		return CycleSelector{catalog: catalog}, nil
	case "random":
		return NewRandomSelector(catalog, seed), nil
	default:
		return nil, fmt.Errorf("unknown energy selection %q", mode)
	}
}
