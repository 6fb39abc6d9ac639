package delivery

import "math/rand/v2"

// Selector supplies the randomness used to pick campaigns and creatives.
// Swapping it changes the selection strategy without touching the matcher.
type Selector interface {
	Shuffle(n int, swap func(i, j int))
	IntN(n int) int
}

type uniformSelector struct{}

func (uniformSelector) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }
func (uniformSelector) IntN(n int) int                     { return rand.IntN(n) }

// UniformSelector picks uniformly at random. Selection is unweighted and
// ignores recency and pacing.
func UniformSelector() Selector { return uniformSelector{} }
