package core

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand/v2"
	"sort"
)

// RandSource draws the shuffles that order equally valued bundles.
// Intn returns a value in [0, n) and panics for n <= 0.
type RandSource interface {
	Intn(n int) int
}

// CryptoRandSource draws from crypto/rand.
type CryptoRandSource struct{}

func (CryptoRandSource) Intn(n int) int {
	if n <= 0 {
		panic("core: Intn bound must be positive")
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(err)
	}
	return int(v.Int64())
}

type seededRandSource struct{ r *mrand.Rand }

// NewSeededRandSource returns a reproducible RandSource. Equal seeds give
// equal tie orders.
func NewSeededRandSource(seed uint64) RandSource {
	return seededRandSource{r: mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s seededRandSource) Intn(n int) int { return s.r.IntN(n) }

// RankingResult orders the distinct bundles of a set of atomic values.
type RankingResult struct {
	// Values holds the highest atomic value per bundle, best first.
	Values []AtomicValue
	// Ranks maps bundle keys to their 1-based rank.
	Ranks map[string]int
}

// DedupeByBundle keeps the highest-valued atomic value for every bundle,
// preserving the order in which bundles first occur. On equal values the
// earlier atomic value wins.
func DedupeByBundle(values []AtomicValue) []AtomicValue {
	best := make(map[string]int, len(values))
	out := make([]AtomicValue, 0, len(values))
	for _, v := range values {
		key := v.Bundle.Key()
		idx, seen := best[key]
		if !seen {
			best[key] = len(out)
			out = append(out, v)
			continue
		}
		if v.Value.GreaterThan(out[idx].Value) {
			out[idx] = v
		}
	}
	return out
}

// RankAtomicValues dedupes values per bundle and sorts them by value,
// descending. Equal values are shuffled with randSource, or with
// CryptoRandSource when it is nil.
func RankAtomicValues(values []AtomicValue, randSource RandSource) *RankingResult {
	entries := DedupeByBundle(values)

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Value.GreaterThan(entries[j].Value)
	})

	if randSource == nil {
		randSource = CryptoRandSource{}
	}

	i := 0
	for i < len(entries) {
		value := entries[i].Value
		j := i + 1
		for j < len(entries) && entries[j].Value.Equal(value) {
			j++
		}

		if j-i > 1 {
			for k := j - 1; k > i; k-- {
				randIdx := i + randSource.Intn(k-i+1)
				entries[k], entries[randIdx] = entries[randIdx], entries[k]
			}
		}

		i = j
	}

	result := &RankingResult{
		Values: entries,
		Ranks:  make(map[string]int, len(entries)),
	}
	for rank, v := range entries {
		result.Ranks[v.Bundle.Key()] = rank + 1
	}
	return result
}
