package vetomint

import "math/bits"

// HasQuorum returns true if the voting power sum is strictly more than two thirds of total.
func HasQuorum(sum, total uint64) bool {
	return greater(sum, 3, total, 2)
}

// HasFaultThreshold returns true if the voting power sum is strictly more than one third of total.
// This is enough power to guarantee that at least one correct validator is included.
func HasFaultThreshold(sum, total uint64) bool {
	return greater(sum, 3, total, 1)
}

// greater reports whether a*x > b*y without overflowing.
func greater(a, x, b, y uint64) bool {
	hiA, loA := bits.Mul64(a, x)
	hiB, loB := bits.Mul64(b, y)
	if hiA != hiB {
		return hiA > hiB
	}
	return loA > loB
}

// NumFaulty returns the largest voting power that may be faulty for the given total power.
func NumFaulty(total uint64) uint64 {
	if total == 0 {
		return 0
	}
	return (total - 1) / 3
}

// QuorumPower returns the smallest voting power sum that forms a quorum of total.
func QuorumPower(total uint64) uint64 {
	return total - NumFaulty(total)
}
