package engine

import "math/rand/v2"

// seedMixMultiplier is the 32-bit golden-ratio constant used to decorrelate per-step seeds.
const seedMixMultiplier = 0x9E3779B1

// pcgStream is the fixed PCG increment shared by every generator, so a generator is fully
// determined by its 32-bit seed.
const pcgStream = 0xDA3E39CB94B95BDB

// MixSeed derives the seed of timestep t from the base seed:
// (seed XOR (t * 0x9E3779B1)) masked to 32 bits.
func MixSeed(seed uint32, t int) uint32 {
	return uint32((uint64(seed) ^ (uint64(t) * seedMixMultiplier)) & 0xFFFFFFFF)
}

// RandomSeed draws a fresh base seed for callers that did not supply one.
func RandomSeed() uint32 {
	return rand.Uint32()
}

// normalStream yields unit-normal float32 draws from a seeded PCG generator.
type normalStream struct {
	r *rand.Rand
}

func newNormalStream(seed uint32) *normalStream {
	return &normalStream{r: rand.New(rand.NewPCG(uint64(seed), pcgStream))}
}

// fill overwrites dst with independent N(0, 1) samples, in index order.
func (n *normalStream) fill(dst []float32) {
	for i := range dst {
		dst[i] = float32(n.r.NormFloat64())
	}
}
