package replica

import "github.com/relab/vetomint"

// Host executes the responses of the consensus on behalf of a replica.
// It owns everything outside the agreement core: block contents, signatures and the network.
// All methods are called from the replica's event loop and must not block for long.
//
//go:generate mockgen -destination=../internal/mocks/host_mock.go -package=mocks . Host
type Host interface {
	// Propose creates, signs and broadcasts a proposal for the round and returns its identifier.
	// If valid is not nil, the host must propose that block and announce validRound.
	Propose(round vetomint.Round, valid vetomint.Target, validRound vetomint.Round) (vetomint.BlockIdentifier, error)
	// Broadcast signs and sends a vote of this replica to the other validators.
	// The replica delivers its own votes to itself.
	Broadcast(vote vetomint.ConsensusEvent) error
	// Finalize is called once with the decided block.
	Finalize(block vetomint.BlockIdentifier) error
	// Report is called for each protocol violation observed by the consensus.
	Report(report vetomint.ViolationReport)
}
