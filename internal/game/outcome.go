// internal/game/outcome.go
package game

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Outcome bounds per game type.
const (
	CrashMinMultiplier = 1.01
	CrashMaxMultiplier = 1000.0
	SlideMinMultiplier = 1.01
	SlideMaxMultiplier = 100.0
	MineCells          = 25

	// crashHouseEdge shaves the crash-point distribution in the house's
	// favor.
	crashHouseEdge = 0.03
)

// Generator produces round outcomes. One generation happens per round, at
// the transition into RESOLVED/CREATED, and the result is immutable after.
//
// The source is a wall-clock-seeded PRNG. This preserves the original
// distributional contract only; it is NOT a provably-fair commitment
// scheme. See DESIGN.md.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator seeds a generator from the wall clock.
func NewGenerator() *Generator {
	now := uint64(time.Now().UnixNano())
	return &Generator{rng: rand.New(rand.NewPCG(now, now>>32))}
}

// NewSeededGenerator builds a deterministic generator for tests.
func NewSeededGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// CrashPoint draws the multiplier at which a crash round busts,
// in [1.01, 1000].
func (g *Generator) CrashPoint() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.rng.Float64()
	point := (1 - crashHouseEdge) / (1 - r)
	return clamp(point, CrashMinMultiplier, CrashMaxMultiplier)
}

// SlidePoint draws the terminal multiplier of a slide round, in [1.01, 100].
func (g *Generator) SlidePoint() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.rng.Float64()
	point := (1 - crashHouseEdge) / (1 - r)
	return clamp(point, SlideMinMultiplier, SlideMaxMultiplier)
}

// MineLayout picks mineCount distinct cells out of cells.
func (g *Generator) MineLayout(cells, mineCount int) []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	perm := g.rng.Perm(cells)
	layout := make([]int, mineCount)
	copy(layout, perm[:mineCount])
	return layout
}

// ShuffledDeck returns a fresh 52-card deck in random order.
func (g *Generator) ShuffledDeck() []Card {
	g.mu.Lock()
	defer g.mu.Unlock()
	deck := NewDeck()
	Shuffle(deck, g.rng)
	return deck
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
