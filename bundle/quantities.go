package bundle

import "iter"

// Quantities yields every non-zero integer vector q with 0 <= q[i] <= caps[i],
// ordered by total quantity (ascending, or descending when descending is
// set). Vectors of equal total come in lexicographic order, reversed when
// descending, so the descending sequence is the exact reverse of the
// ascending one.
func Quantities(caps []int, descending bool) iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		total := 0
		for _, c := range caps {
			total += max(c, 0)
		}
		// suffix[i] is the most the positions from i on can hold.
		suffix := make([]int, len(caps)+1)
		for i := len(caps) - 1; i >= 0; i-- {
			suffix[i] = suffix[i+1] + max(caps[i], 0)
		}

		q := make([]int, len(caps))
		var fill func(pos, left int) bool
		fill = func(pos, left int) bool {
			if pos == len(caps) {
				if left != 0 {
					return true
				}
				return yield(clone(q))
			}
			lo := max(0, left-suffix[pos+1])
			hi := min(max(caps[pos], 0), left)
			if lo > hi {
				return true
			}
			if descending {
				for v := hi; v >= lo; v-- {
					q[pos] = v
					if !fill(pos+1, left-v) {
						return false
					}
				}
			} else {
				for v := lo; v <= hi; v++ {
					q[pos] = v
					if !fill(pos+1, left-v) {
						return false
					}
				}
			}
			q[pos] = 0
			return true
		}

		if descending {
			for t := total; t >= 1; t-- {
				if !fill(0, t) {
					return
				}
			}
			return
		}
		for t := 1; t <= total; t++ {
			if !fill(0, t) {
				return
			}
		}
	}
}

// CountQuantities returns the number of vectors Quantities yields.
func CountQuantities(caps []int) int {
	n := 1
	for _, c := range caps {
		n *= max(c, 0) + 1
	}
	return n - 1
}
