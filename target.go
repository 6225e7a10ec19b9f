package vetomint

import "fmt"

// Target is what a vote is cast for: either a concrete block or nil.
// The zero value is the nil target.
type Target struct {
	block BlockIdentifier
	valid bool
}

// Nil is the nil target.
var Nil = Target{}

// ForBlock returns a target for the given block.
func ForBlock(id BlockIdentifier) Target {
	return Target{block: id, valid: true}
}

// IsNil returns true if the target is nil.
func (t Target) IsNil() bool {
	return !t.valid
}

// Block returns the block of the target and true, or false if the target is nil.
func (t Target) Block() (BlockIdentifier, bool) {
	return t.block, t.valid
}

func (t Target) String() string {
	if !t.valid {
		return "nil"
	}
	return fmt.Sprintf("block(%d)", t.block)
}
