package vetomint

import (
	"fmt"
	"math"
	"testing"
)

func TestHasQuorum(t *testing.T) {
	tests := []struct {
		sum, total uint64
		want       bool
	}{
		{sum: 3, total: 4, want: true},
		{sum: 2, total: 4, want: false},
		{sum: 2, total: 3, want: false}, // exactly 2/3 is not enough
		{sum: 3, total: 3, want: true},
		{sum: 4, total: 6, want: false},
		{sum: 5, total: 6, want: true},
		{sum: 67, total: 100, want: true},
		{sum: 66, total: 100, want: false},
		{sum: 0, total: 0, want: false},
		{sum: math.MaxUint64, total: math.MaxUint64, want: true},
		{sum: math.MaxUint64 / 3 * 2, total: math.MaxUint64, want: false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.sum, tt.total), func(t *testing.T) {
			if got := HasQuorum(tt.sum, tt.total); got != tt.want {
				t.Errorf("HasQuorum(%d, %d) = %t; want %t", tt.sum, tt.total, got, tt.want)
			}
		})
	}
}

func TestHasFaultThreshold(t *testing.T) {
	tests := []struct {
		sum, total uint64
		want       bool
	}{
		{sum: 1, total: 4, want: false},
		{sum: 2, total: 4, want: true},
		{sum: 1, total: 3, want: false}, // exactly 1/3 is not enough
		{sum: 2, total: 3, want: true},
		{sum: 34, total: 100, want: true},
		{sum: 33, total: 100, want: false},
		{sum: math.MaxUint64, total: math.MaxUint64, want: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.sum, tt.total), func(t *testing.T) {
			if got := HasFaultThreshold(tt.sum, tt.total); got != tt.want {
				t.Errorf("HasFaultThreshold(%d, %d) = %t; want %t", tt.sum, tt.total, got, tt.want)
			}
		})
	}
}

func TestQuorumPower(t *testing.T) {
	tests := []struct {
		total uint64
		want  uint64
	}{
		{total: 1, want: 1},
		{total: 3, want: 3},
		{total: 4, want: 3},  // f=1
		{total: 5, want: 4},  // f=1
		{total: 6, want: 5},  // f=1
		{total: 7, want: 5},  // f=2
		{total: 10, want: 7}, // f=3
		{total: 100, want: 67},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("total=%d", tt.total), func(t *testing.T) {
			got := QuorumPower(tt.total)
			if got != tt.want {
				t.Errorf("QuorumPower(%d) = %d; want %d", tt.total, got, tt.want)
			}
			if !HasQuorum(got, tt.total) {
				t.Errorf("HasQuorum(%d, %d) = false; want true", got, tt.total)
			}
			if HasQuorum(got-1, tt.total) {
				t.Errorf("HasQuorum(%d, %d) = true; want false", got-1, tt.total)
			}
		})
	}
}
