// Package bundle maps integer ranks to subsets of a universe of n goods and
// back, and enumerates subsets in size order or at random without ever
// holding the power set.
//
// Subsets are sorted slices of good indices in [0, n). Rank 0 is the empty
// subset. Ranks grow with subset size; within one size class subsets are in
// lexicographic order.
package bundle

import (
	"fmt"
	"iter"
	"math/big"

	"github.com/spectrumauctions/sats/core"
)

// Codec is the rank bijection for a universe of n goods.
type Codec struct {
	n int
	// binom[a][b] = C(a, b) for 0 <= b <= a <= n.
	binom [][]*big.Int
	// start[k] is the rank of the first subset of size k; start[n+1] = 2^n.
	start []*big.Int
}

// NewCodec builds the codec for n goods.
func NewCodec(n int) (*Codec, error) {
	if n < 0 {
		return nil, fmt.Errorf("bundle: negative universe size %d", n)
	}
	c := &Codec{
		n:     n,
		binom: make([][]*big.Int, n+1),
		start: make([]*big.Int, n+2),
	}
	for a := 0; a <= n; a++ {
		c.binom[a] = make([]*big.Int, a+1)
		c.binom[a][0] = big.NewInt(1)
		c.binom[a][a] = big.NewInt(1)
		for b := 1; b < a; b++ {
			c.binom[a][b] = new(big.Int).Add(c.binom[a-1][b-1], c.binom[a-1][b])
		}
	}
	c.start[0] = big.NewInt(0)
	for k := 0; k <= n; k++ {
		c.start[k+1] = new(big.Int).Add(c.start[k], c.binom[n][k])
	}
	return c, nil
}

// N is the universe size.
func (c *Codec) N() int { return c.n }

// Count returns 2^n, the number of subsets including the empty one.
func (c *Codec) Count() *big.Int {
	return new(big.Int).Set(c.start[c.n+1])
}

// SizeClassCount returns C(n, k).
func (c *Codec) SizeClassCount(k int) *big.Int {
	return new(big.Int).Set(c.choose(c.n, k))
}

func (c *Codec) choose(a, b int) *big.Int {
	if b < 0 || a < 0 || b > a {
		return big.NewInt(0)
	}
	return c.binom[a][b]
}

// SubsetOfRank decodes rank in [0, 2^n).
func (c *Codec) SubsetOfRank(rank *big.Int) ([]int, error) {
	if rank.Sign() < 0 || rank.Cmp(c.start[c.n+1]) >= 0 {
		return nil, fmt.Errorf("%w: %s not in [0, 2^%d)", core.ErrInvalidRank, rank, c.n)
	}
	k := 0
	for rank.Cmp(c.start[k+1]) >= 0 {
		k++
	}
	offset := new(big.Int).Sub(rank, c.start[k])
	return c.unrank(offset, k), nil
}

// SubsetOfRankInSizeClass decodes a rank relative to the first subset of size k.
func (c *Codec) SubsetOfRankInSizeClass(subRank *big.Int, k int) ([]int, error) {
	if k < 0 || k > c.n {
		return nil, fmt.Errorf("%w: size class %d with n=%d", core.ErrInvalidRank, k, c.n)
	}
	if subRank.Sign() < 0 || subRank.Cmp(c.choose(c.n, k)) >= 0 {
		return nil, fmt.Errorf("%w: sub-rank %s not in [0, C(%d,%d))", core.ErrInvalidRank, subRank, c.n, k)
	}
	return c.unrank(new(big.Int).Set(subRank), k), nil
}

// unrank walks the goods in order. With m goods left and k still to pick,
// the first C(m-1, k-1) offsets pick the current good.
func (c *Codec) unrank(offset *big.Int, k int) []int {
	subset := make([]int, 0, k)
	for i := 0; k > 0; i++ {
		remaining := c.n - i
		with := c.choose(remaining-1, k-1)
		if offset.Cmp(with) < 0 {
			subset = append(subset, i)
			k--
			continue
		}
		offset.Sub(offset, with)
	}
	return subset
}

// RankOfSubset is the inverse of SubsetOfRank. Indices may be in any order
// but must be distinct and within [0, n).
func (c *Codec) RankOfSubset(indices []int) (*big.Int, error) {
	member := make([]bool, c.n)
	for _, idx := range indices {
		if idx < 0 || idx >= c.n {
			return nil, fmt.Errorf("%w: index %d outside universe of %d", core.ErrInvalidRank, idx, c.n)
		}
		if member[idx] {
			return nil, fmt.Errorf("%w: duplicate index %d", core.ErrInvalidRank, idx)
		}
		member[idx] = true
	}
	k := len(indices)
	rank := new(big.Int).Set(c.start[k])
	left := k
	for i := 0; left > 0; i++ {
		if member[i] {
			left--
			continue
		}
		rank.Add(rank, c.choose(c.n-i-1, left-1))
	}
	return rank, nil
}

// Increasing yields every non-empty subset by ascending rank, so sizes never
// decrease. Ranging over it again restarts the enumeration.
func (c *Codec) Increasing() iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		for k := 1; k <= c.n; k++ {
			comb := make([]int, k)
			for i := range comb {
				comb[i] = i
			}
			for {
				if !yield(clone(comb)) {
					return
				}
				if !nextCombination(comb, c.n) {
					break
				}
			}
		}
	}
}

// Decreasing yields the exact reverse of Increasing.
func (c *Codec) Decreasing() iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		for k := c.n; k >= 1; k-- {
			comb := make([]int, k)
			for i := range comb {
				comb[i] = c.n - k + i
			}
			for {
				if !yield(clone(comb)) {
					return
				}
				if !prevCombination(comb, c.n) {
					break
				}
			}
		}
	}
}

func nextCombination(comb []int, n int) bool {
	k := len(comb)
	i := k - 1
	for i >= 0 && comb[i] == n-k+i {
		i--
	}
	if i < 0 {
		return false
	}
	comb[i]++
	for j := i + 1; j < k; j++ {
		comb[j] = comb[j-1] + 1
	}
	return true
}

func prevCombination(comb []int, n int) bool {
	k := len(comb)
	i := k - 1
	for i >= 0 {
		floor := 0
		if i > 0 {
			floor = comb[i-1] + 1
		}
		if comb[i] > floor {
			break
		}
		i--
	}
	if i < 0 {
		return false
	}
	comb[i]--
	for j := i + 1; j < k; j++ {
		comb[j] = n - k + j
	}
	return true
}

func clone(s []int) []int {
	c := make([]int, len(s))
	copy(c, s)
	return c
}
