package dsp

// MovingSum maintains the sum of the last N pushed values in O(log N) per
// push by storing the window as the leaves of a complete binary tree (array-
// backed, heap-indexed) whose internal nodes cache the sum of their subtree.
// Pushing a value only needs to update the O(log N) ancestors of the leaf it
// replaces, instead of re-summing the whole window.
type MovingSum struct {
	n        int
	leafBase int // index of the first leaf in tree
	tree     []float64
	next     int // next leaf slot to overwrite, mod n
	filled   int
}

// NewMovingSum builds a moving-sum accumulator over a window of n values,
// seeded at zero.
func NewMovingSum(n int) *MovingSum {
	if n < 1 {
		n = 1
	}
	leaves := 1
	for leaves < n {
		leaves <<= 1
	}
	return &MovingSum{
		n:        n,
		leafBase: leaves,
		tree:     make([]float64, leaves*2),
	}
}

// Push adds value to the window, evicting the oldest value, and returns the
// updated window sum.
func (m *MovingSum) Push(value float64) float64 {
	leaf := m.leafBase + m.next
	m.tree[leaf] = value
	for leaf > 1 {
		leaf >>= 1
		m.tree[leaf] = m.tree[leaf*2] + m.tree[leaf*2+1]
	}
	m.next = (m.next + 1) % m.n
	if m.filled < m.n {
		m.filled++
	}
	return m.tree[1]
}

// Sum returns the current window sum without pushing.
func (m *MovingSum) Sum() float64 { return m.tree[1] }

// Len reports how many values have been pushed so far, capped at the window
// length.
func (m *MovingSum) Len() int { return m.filled }

// Mean returns Sum()/Len(), or 0 if nothing has been pushed yet.
func (m *MovingSum) Mean() float64 {
	if m.filled == 0 {
		return 0
	}
	return m.Sum() / float64(m.filled)
}
