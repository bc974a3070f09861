package provider

import (
	"math/rand"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
)

// RequiresRandom is implemented by actions that draw random numbers. The
// generator is injected in the Before phase.
type RequiresRandom interface {
	core.Action
	SetRandom(r *rand.Rand)
}

// RandomProvider owns the seeded generator of one match.
type RandomProvider struct {
	core.Leaf
	Seed int64 `json:"seed"`

	rng *rand.Rand
}

func NewRandomProvider(target core.Domain, seed int64) *RandomProvider {
	p := &RandomProvider{Seed: seed, rng: rand.New(rand.NewSource(seed))}
	core.Init(p, target)
	r := core.NewReaction[core.Domain, RequiresRandom]("ProvideRandom").
		Before(func(_ core.Domain, a RequiresRandom) { a.SetRandom(p.rng) }).
		AddTo(target)
	p.OnDispose(r.Dispose)
	return p
}

func (p *RandomProvider) Rand() *rand.Rand { return p.rng }

// Reset restarts the sequence from seed.
func (p *RandomProvider) Reset(seed int64) {
	p.Seed = seed
	p.rng = rand.New(rand.NewSource(seed))
}
