// Package replica drives the consensus of a single height with real events.
//
// A Replica owns a consensus.State and an event loop. Events delivered from any goroutine are
// queued on the event loop, passed to consensus.Progress one at a time, and the resulting
// responses are executed against a Host. Time enters the consensus through Timer events that
// the replica derives from its clock.
package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relab/vetomint"
	"github.com/relab/vetomint/consensus"
	"github.com/relab/vetomint/eventloop"
	"github.com/relab/vetomint/internal/eventlog"
	"github.com/relab/vetomint/logging"
	"github.com/relab/vetomint/metrics"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

// ErrHalted is returned by Run when the consensus breaks an internal invariant.
var ErrHalted = errors.New("consensus halted")

var eventTypes = []vetomint.ConsensusEvent{
	vetomint.BlockProposal{},
	vetomint.ProposalFavor{},
	vetomint.BlockProposalBroadcasted{},
	vetomint.Prevote{},
	vetomint.Precommit{},
	vetomint.NilPrevote{},
	vetomint.NilPrecommit{},
	vetomint.Timer{},
}

// Replica is a participant in the consensus of one height.
type Replica struct {
	info      vetomint.HeightInfo
	host      Host
	state     *consensus.State
	eventLoop *eventloop.EventLoop
	logger    logging.Logger
	clock     func() time.Time
	interval  time.Duration
	eventLog  *eventlog.Writer
	publish   bool
	step      func(*consensus.State, vetomint.ConsensusEvent) ([]vetomint.ConsensusResponse, error)

	// report limiters per violator, only used on the event loop
	reportLimit rate.Limit
	reportBurst int
	reporters   map[vetomint.ValidatorIndex]*rate.Limiter

	mut      sync.Mutex // protects the following:
	errs     error
	decision vetomint.Target
	round    vetomint.Round

	doneOnce sync.Once
	done     chan struct{}
	cancel   context.CancelFunc
	stopped  chan struct{}
}

// New returns a replica for the height. The replica does not process events until it is run.
func New(info vetomint.HeightInfo, host Host, opts ...Option) (*Replica, error) {
	rOpt := newDefaultOpts()
	for _, opt := range opts {
		opt(rOpt)
	}
	consensusOpts := append([]consensus.Option{consensus.WithLogger(rOpt.logger)}, rOpt.consensusOpts...)
	state, err := consensus.New(info, consensusOpts...)
	if err != nil {
		return nil, err
	}
	if rOpt.eventLog != nil {
		if err := rOpt.eventLog.WriteHeight(info); err != nil {
			return nil, err
		}
	}
	r := &Replica{
		info:      state.HeightInfo(),
		host:      host,
		state:     state,
		eventLoop: eventloop.New(rOpt.bufferSize),
		logger:    rOpt.logger,
		clock:     rOpt.clock,
		interval:  rOpt.tickInterval,
		eventLog:  rOpt.eventLog,
		step:      consensus.Progress,
		done:      make(chan struct{}),
		cancel:    func() {},
		stopped:   make(chan struct{}),

		reportLimit: rOpt.reportLimit,
		reportBurst: rOpt.reportBurst,
		reporters:   make(map[vetomint.ValidatorIndex]*rate.Limiter),
	}
	if rOpt.metricsReg != nil {
		if err := metrics.Enable(r.eventLoop, r.logger, rOpt.metricsReg, rOpt.metricNames...); err != nil {
			return nil, err
		}
		r.publish = true
	}
	for _, t := range eventTypes {
		r.eventLoop.RegisterHandler(t, func(event any) {
			r.progress(event.(vetomint.ConsensusEvent))
		})
	}
	return r, nil
}

// EventLoop returns the event loop of the replica, e.g. to enable metrics on it.
func (r *Replica) EventLoop() *eventloop.EventLoop {
	return r.eventLoop
}

// HeightInfo returns the height info of the replica.
func (r *Replica) HeightInfo() vetomint.HeightInfo {
	return r.info
}

// Now returns the current time of the replica's clock as a timestamp.
func (r *Replica) Now() vetomint.Timestamp {
	return vetomint.Timestamp(r.clock().UnixMilli())
}

// Deliver queues an event for the consensus. It is safe to call from any goroutine.
func (r *Replica) Deliver(event vetomint.ConsensusEvent) {
	r.eventLoop.AddEvent(event)
}

// Done returns a channel that is closed when the replica has decided or halted.
func (r *Replica) Done() <-chan struct{} {
	return r.done
}

// Decision returns the decided block and the round the replica was in when it decided.
func (r *Replica) Decision() (block vetomint.BlockIdentifier, round vetomint.Round, ok bool) {
	r.mut.Lock()
	defer r.mut.Unlock()
	block, ok = r.decision.Block()
	return block, r.round, ok
}

// Round returns the round of the replica after the last processed event.
func (r *Replica) Round() vetomint.Round {
	r.mut.Lock()
	defer r.mut.Unlock()
	return r.round
}

// Err returns the errors that occurred while executing responses, and ErrHalted if the
// consensus halted.
func (r *Replica) Err() error {
	r.mut.Lock()
	defer r.mut.Unlock()
	return r.errs
}

// Start runs the replica in a goroutine.
func (r *Replica) Start() {
	var ctx context.Context
	ctx, r.cancel = context.WithCancel(context.Background())
	go func() {
		_ = r.Run(ctx)
		close(r.stopped)
	}()
}

// Stop stops a replica started with Start and returns its errors.
func (r *Replica) Stop() error {
	r.cancel()
	<-r.stopped
	return r.Err()
}

// Run processes events until the replica decides or halts, or the context is canceled.
// A ticker delivers a Timer event with the clock's time at every tick interval.
func (r *Replica) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	id := r.eventLoop.AddTicker(r.interval, func(time.Time) any {
		return vetomint.Timer{Time: r.Now()}
	})
	defer r.eventLoop.RemoveTicker(id)

	r.eventLoop.Run(ctx)
	return r.Err()
}

// Drain processes the queued events on the calling goroutine, including the events that are
// queued while draining, and returns the number of events processed.
// It is used to step a replica deterministically instead of running it.
func (r *Replica) Drain() int {
	n := 0
	for r.eventLoop.Tick(context.Background()) {
		n++
	}
	return n
}

func (r *Replica) isDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Replica) finish() {
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *Replica) addError(err error) {
	r.mut.Lock()
	r.errs = multierr.Append(r.errs, err)
	r.mut.Unlock()
}

func (r *Replica) progress(event vetomint.ConsensusEvent) {
	if r.isDone() {
		return
	}
	responses, err := r.step(r.state, event)
	if r.eventLog != nil {
		if logErr := r.eventLog.WriteProgress(event, responses); logErr != nil {
			r.logger.Warnf("failed to record %v: %v", event, logErr)
		}
	}
	r.mut.Lock()
	r.round = r.state.Round()
	r.mut.Unlock()

	if err != nil {
		r.logger.Errorf("halting: %v", err)
		r.addError(fmt.Errorf("%w: %w", ErrHalted, err))
		r.finish()
		return
	}

	for _, resp := range responses {
		r.execute(resp)
	}

	if !r.publish {
		return
	}
	r.eventLoop.AddEvent(metrics.ProgressEvent{
		Node:      r.info.ThisNodeIndex,
		Start:     r.info.Timestamp,
		Event:     event,
		Responses: responses,
		Round:     r.state.Round(),
		Step:      r.state.Step(),
	})
}

func (r *Replica) execute(resp vetomint.ConsensusResponse) {
	me := r.info.ThisNodeIndex
	switch resp := resp.(type) {
	case vetomint.CreateAndBroadcastProposal:
		block, err := r.host.Propose(resp.Round, resp.ValidValue, resp.ValidRound)
		if err != nil {
			r.logger.Warnf("failed to propose in round %d: %v", resp.Round, err)
			r.addError(fmt.Errorf("propose in round %d: %w", resp.Round, err))
			return
		}
		r.Deliver(vetomint.BlockProposalBroadcasted{Proposal: block, Round: resp.Round, Time: r.Now()})
	case vetomint.BroadcastPrevote:
		r.broadcast(vetomint.Prevote{Proposal: resp.Proposal, Signer: me, Round: resp.Round, Time: r.Now()})
	case vetomint.BroadcastPrecommit:
		r.broadcast(vetomint.Precommit{Proposal: resp.Proposal, Signer: me, Round: resp.Round, Time: r.Now()})
	case vetomint.BroadcastNilPrevote:
		r.broadcast(vetomint.NilPrevote{Signer: me, Round: resp.Round, Time: r.Now()})
	case vetomint.BroadcastNilPrecommit:
		r.broadcast(vetomint.NilPrecommit{Signer: me, Round: resp.Round, Time: r.Now()})
	case vetomint.FinalizeBlock:
		r.mut.Lock()
		r.decision = vetomint.ForBlock(resp.Proposal)
		r.mut.Unlock()
		r.logger.Infof("decided block %d in round %d", resp.Proposal, r.state.Round())
		if err := r.host.Finalize(resp.Proposal); err != nil {
			r.addError(fmt.Errorf("finalize block %d: %w", resp.Proposal, err))
		}
		r.finish()
	case vetomint.ViolationReport:
		if !r.reportLimiter(resp.Violator).AllowN(r.clock(), 1) {
			r.logger.Debugf("dropped report: %v", resp)
			return
		}
		r.host.Report(resp)
	}
}

// reportLimiter returns the limiter of reports about the violator, creating it on first use.
func (r *Replica) reportLimiter(violator vetomint.ValidatorIndex) *rate.Limiter {
	limiter, ok := r.reporters[violator]
	if !ok {
		limiter = rate.NewLimiter(r.reportLimit, r.reportBurst)
		r.reporters[violator] = limiter
	}
	return limiter
}

func (r *Replica) broadcast(vote vetomint.ConsensusEvent) {
	if err := r.host.Broadcast(vote); err != nil {
		r.logger.Warnf("failed to broadcast %v: %v", vote, err)
		r.addError(fmt.Errorf("broadcast %v: %w", vote, err))
	}
	// our own vote counts even if some peers did not get it
	r.Deliver(vote)
}
