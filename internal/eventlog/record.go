// Package eventlog records the events delivered to a consensus instance, together with the
// responses they produced, so that a height can be inspected or replayed later.
//
// A log starts with the HeightInfo of the height, followed by one record per Progress call.
// Records are written either as JSON lines or as a stream of CBOR items.
package eventlog

import (
	"fmt"

	"github.com/relab/vetomint"
)

// Entry is a decoded log record. Exactly one of Height and Event is set.
type Entry struct {
	Height    *vetomint.HeightInfo
	Event     vetomint.ConsensusEvent
	Responses []vetomint.ConsensusResponse
}

// record is the wire representation of an entry.
// The event and the responses are encoded as unions with one field set.
type record struct {
	Height    *vetomint.HeightInfo `json:"height,omitempty"`
	Event     *eventRecord         `json:"event,omitempty"`
	Responses []responseRecord     `json:"responses,omitempty"`
}

type eventRecord struct {
	BlockProposal            *vetomint.BlockProposal            `json:"block_proposal,omitempty"`
	ProposalFavor            *vetomint.ProposalFavor            `json:"proposal_favor,omitempty"`
	BlockProposalBroadcasted *vetomint.BlockProposalBroadcasted `json:"block_proposal_broadcasted,omitempty"`
	Prevote                  *vetomint.Prevote                  `json:"prevote,omitempty"`
	Precommit                *vetomint.Precommit                `json:"precommit,omitempty"`
	NilPrevote               *vetomint.NilPrevote               `json:"nil_prevote,omitempty"`
	NilPrecommit             *vetomint.NilPrecommit             `json:"nil_precommit,omitempty"`
	Timer                    *vetomint.Timer                    `json:"timer,omitempty"`
}

// proposalRecord replaces CreateAndBroadcastProposal, whose valid value is a Target.
type proposalRecord struct {
	Round      vetomint.Round            `json:"round"`
	ValidValue *vetomint.BlockIdentifier `json:"valid_value,omitempty"`
	ValidRound vetomint.Round            `json:"valid_round"`
}

type responseRecord struct {
	CreateAndBroadcastProposal *proposalRecord                 `json:"create_and_broadcast_proposal,omitempty"`
	BroadcastPrevote           *vetomint.BroadcastPrevote      `json:"broadcast_prevote,omitempty"`
	BroadcastPrecommit         *vetomint.BroadcastPrecommit    `json:"broadcast_precommit,omitempty"`
	BroadcastNilPrevote        *vetomint.BroadcastNilPrevote   `json:"broadcast_nil_prevote,omitempty"`
	BroadcastNilPrecommit      *vetomint.BroadcastNilPrecommit `json:"broadcast_nil_precommit,omitempty"`
	FinalizeBlock              *vetomint.FinalizeBlock         `json:"finalize_block,omitempty"`
	ViolationReport            *vetomint.ViolationReport       `json:"violation_report,omitempty"`
}

func toEventRecord(event vetomint.ConsensusEvent) (*eventRecord, error) {
	var r eventRecord
	switch e := event.(type) {
	case vetomint.BlockProposal:
		r.BlockProposal = &e
	case vetomint.ProposalFavor:
		r.ProposalFavor = &e
	case vetomint.BlockProposalBroadcasted:
		r.BlockProposalBroadcasted = &e
	case vetomint.Prevote:
		r.Prevote = &e
	case vetomint.Precommit:
		r.Precommit = &e
	case vetomint.NilPrevote:
		r.NilPrevote = &e
	case vetomint.NilPrecommit:
		r.NilPrecommit = &e
	case vetomint.Timer:
		r.Timer = &e
	default:
		return nil, fmt.Errorf("%w: %T", vetomint.ErrUnknownEvent, event)
	}
	return &r, nil
}

func (r *eventRecord) event() (vetomint.ConsensusEvent, error) {
	var events []vetomint.ConsensusEvent
	if r.BlockProposal != nil {
		events = append(events, *r.BlockProposal)
	}
	if r.ProposalFavor != nil {
		events = append(events, *r.ProposalFavor)
	}
	if r.BlockProposalBroadcasted != nil {
		events = append(events, *r.BlockProposalBroadcasted)
	}
	if r.Prevote != nil {
		events = append(events, *r.Prevote)
	}
	if r.Precommit != nil {
		events = append(events, *r.Precommit)
	}
	if r.NilPrevote != nil {
		events = append(events, *r.NilPrevote)
	}
	if r.NilPrecommit != nil {
		events = append(events, *r.NilPrecommit)
	}
	if r.Timer != nil {
		events = append(events, *r.Timer)
	}
	if len(events) != 1 {
		return nil, fmt.Errorf("%w: event record with %d events", ErrMalformed, len(events))
	}
	return events[0], nil
}

func toResponseRecord(response vetomint.ConsensusResponse) (responseRecord, error) {
	var r responseRecord
	switch e := response.(type) {
	case vetomint.CreateAndBroadcastProposal:
		p := proposalRecord{Round: e.Round, ValidRound: e.ValidRound}
		if block, ok := e.ValidValue.Block(); ok {
			p.ValidValue = &block
		}
		r.CreateAndBroadcastProposal = &p
	case vetomint.BroadcastPrevote:
		r.BroadcastPrevote = &e
	case vetomint.BroadcastPrecommit:
		r.BroadcastPrecommit = &e
	case vetomint.BroadcastNilPrevote:
		r.BroadcastNilPrevote = &e
	case vetomint.BroadcastNilPrecommit:
		r.BroadcastNilPrecommit = &e
	case vetomint.FinalizeBlock:
		r.FinalizeBlock = &e
	case vetomint.ViolationReport:
		r.ViolationReport = &e
	default:
		return r, fmt.Errorf("%w: unknown response %T", ErrMalformed, response)
	}
	return r, nil
}

func (r responseRecord) response() (vetomint.ConsensusResponse, error) {
	var responses []vetomint.ConsensusResponse
	if p := r.CreateAndBroadcastProposal; p != nil {
		create := vetomint.CreateAndBroadcastProposal{Round: p.Round, ValidRound: p.ValidRound}
		if p.ValidValue != nil {
			create.ValidValue = vetomint.ForBlock(*p.ValidValue)
		}
		responses = append(responses, create)
	}
	if r.BroadcastPrevote != nil {
		responses = append(responses, *r.BroadcastPrevote)
	}
	if r.BroadcastPrecommit != nil {
		responses = append(responses, *r.BroadcastPrecommit)
	}
	if r.BroadcastNilPrevote != nil {
		responses = append(responses, *r.BroadcastNilPrevote)
	}
	if r.BroadcastNilPrecommit != nil {
		responses = append(responses, *r.BroadcastNilPrecommit)
	}
	if r.FinalizeBlock != nil {
		responses = append(responses, *r.FinalizeBlock)
	}
	if r.ViolationReport != nil {
		responses = append(responses, *r.ViolationReport)
	}
	if len(responses) != 1 {
		return nil, fmt.Errorf("%w: response record with %d responses", ErrMalformed, len(responses))
	}
	return responses[0], nil
}

func (r *record) entry() (Entry, error) {
	switch {
	case r.Height != nil && r.Event == nil:
		if len(r.Responses) != 0 {
			return Entry{}, fmt.Errorf("%w: height record with responses", ErrMalformed)
		}
		return Entry{Height: r.Height}, nil
	case r.Height == nil && r.Event != nil:
		event, err := r.Event.event()
		if err != nil {
			return Entry{}, err
		}
		entry := Entry{Event: event}
		for _, rr := range r.Responses {
			resp, err := rr.response()
			if err != nil {
				return Entry{}, err
			}
			entry.Responses = append(entry.Responses, resp)
		}
		return entry, nil
	}
	return Entry{}, fmt.Errorf("%w: record must hold either a height or an event", ErrMalformed)
}
