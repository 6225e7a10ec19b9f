// Package vetomint defines the types shared by the components of a Tendermint-style
// agreement core for a single height.
//
// The core is split into small packages that only communicate through these types:
//
//	                       +------------------+
//	ConsensusEvent ------->|     consensus    |-------> []ConsensusResponse
//	                       |  (Progress, the  |
//	                       |  state machine)  |
//	                       +------------------+
//	                         |       |      |
//	                         v       v      v
//	             leaderrotation  votetally  timeout
//	               (proposer)    (ledger)  (deadlines)
//
// All identifiers are height-local integer indices: the lower layer maps them to real
// public keys and block payloads, verifies signatures, gossips messages and supplies
// time through Timer events. The core never blocks and never reads a clock, so a height
// can be replayed deterministically from its event log.
//
// Quorums are computed over voting power: a quorum is strictly more than two thirds of the
// total power, the fault threshold is strictly more than one third.
package vetomint
