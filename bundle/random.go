package bundle

import (
	"iter"
	"math"
	"math/big"
	"math/rand/v2"

	"github.com/google/btree"
	"gonum.org/v1/gonum/stat/distuv"
)

// MaxDefaultBudgetExponent caps the default random-unique budget at 2^13-1.
const MaxDefaultBudgetExponent = 13

// RandomConfig parametrizes RandomUnique. Zero values select defaults.
type RandomConfig struct {
	Seed uint64
	// MeanSize of the Gaussian size draw. Defaults to n/2.
	MeanSize float64
	// StdDevSize of the Gaussian size draw. Defaults to max(1, n/4).
	StdDevSize float64
	// Budget is the maximum number of subsets yielded.
	// Defaults to 2^min(n,13) - 1.
	Budget int
}

// DefaultBudget returns 2^min(n,13) - 1.
func DefaultBudget(n int) int {
	return 1<<min(n, MaxDefaultBudgetExponent) - 1
}

func (cfg RandomConfig) withDefaults(n int) RandomConfig {
	if cfg.MeanSize <= 0 {
		cfg.MeanSize = float64(n) / 2
	}
	if cfg.StdDevSize <= 0 {
		cfg.StdDevSize = math.Max(1, float64(n)/4)
	}
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget(n)
	}
	return cfg
}

// sizeClass tracks which sub-ranks of one size were already issued.
type sizeClass struct {
	remaining *big.Int
	issued    *btree.BTreeG[*big.Int]
}

func bigLess(a, b *big.Int) bool { return a.Cmp(b) < 0 }

// RandomUnique yields distinct non-empty subsets in random order. The size of
// each subset is drawn from a Gaussian clipped to [1, n]; the subset itself
// is drawn uniformly among the unused subsets of that size. If that size is
// used up, the nearest size with unused subsets is taken instead.
//
// The sequence is fully determined by the config. Ranging again restarts it.
func (c *Codec) RandomUnique(cfg RandomConfig) iter.Seq[[]int] {
	cfg = cfg.withDefaults(c.n)
	return func(yield func([]int) bool) {
		if c.n == 0 {
			return
		}
		src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
		rng := rand.New(src)
		size := distuv.Normal{Mu: cfg.MeanSize, Sigma: cfg.StdDevSize, Src: src}

		classes := make([]*sizeClass, c.n+1)
		for k := 1; k <= c.n; k++ {
			classes[k] = &sizeClass{
				remaining: c.SizeClassCount(k),
				issued:    btree.NewG(8, bigLess),
			}
		}

		for issued := 0; issued < cfg.Budget; issued++ {
			k := int(math.Round(size.Rand()))
			k = max(1, min(c.n, k))
			k = nearestOpenClass(classes, k)
			if k < 0 {
				return
			}
			class := classes[k]

			r := uniformBigInt(rng, class.remaining)
			class.issued.Ascend(func(s *big.Int) bool {
				if s.Cmp(r) <= 0 {
					r.Add(r, big.NewInt(1))
					return true
				}
				return false
			})
			class.issued.ReplaceOrInsert(r)
			class.remaining.Sub(class.remaining, big.NewInt(1))

			subset := c.unrank(new(big.Int).Set(r), k)
			if !yield(subset) {
				return
			}
		}
	}
}

// nearestOpenClass returns k if it has unused sub-ranks, otherwise the
// closest size that does, preferring the smaller one on ties. -1 when every
// class is exhausted.
func nearestOpenClass(classes []*sizeClass, k int) int {
	n := len(classes) - 1
	for d := 0; d <= n; d++ {
		if lo := k - d; lo >= 1 && classes[lo].remaining.Sign() > 0 {
			return lo
		}
		if hi := k + d; hi <= n && classes[hi].remaining.Sign() > 0 {
			return hi
		}
	}
	return -1
}

// uniformBigInt draws uniformly from [0, limit) by rejection sampling.
func uniformBigInt(rng *rand.Rand, limit *big.Int) *big.Int {
	if limit.IsUint64() {
		return new(big.Int).SetUint64(rng.Uint64N(limit.Uint64()))
	}
	bits := limit.BitLen()
	buf := make([]byte, (bits+7)/8)
	topMask := byte(0xff >> (len(buf)*8 - bits))
	v := new(big.Int)
	for {
		for i := range buf {
			buf[i] = byte(rng.Uint32())
		}
		buf[0] &= topMask
		v.SetBytes(buf)
		if v.Cmp(limit) < 0 {
			return v
		}
	}
}
