package replica

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/relab/vetomint/consensus"
	"github.com/relab/vetomint/internal/eventlog"
	"github.com/relab/vetomint/logging"
	"golang.org/x/time/rate"
)

type replicaOptions struct {
	logger        logging.Logger
	clock         func() time.Time
	tickInterval  time.Duration
	bufferSize    uint
	consensusOpts []consensus.Option
	eventLog      *eventlog.Writer
	reportLimit   rate.Limit
	reportBurst   int
	metricsReg    prometheus.Registerer
	metricNames   []string
}

func newDefaultOpts() *replicaOptions {
	return &replicaOptions{
		logger:       logging.New("replica"),
		clock:        time.Now,
		tickInterval: 10 * time.Millisecond,
		bufferSize:   1024,
		reportLimit:  rate.Inf,
		reportBurst:  1,
	}
}

// Option configures a replica.
type Option func(*replicaOptions)

// WithLogger sets the logger of the replica. It is also passed to the consensus.
func WithLogger(logger logging.Logger) Option {
	return func(ro *replicaOptions) {
		ro.logger = logger
	}
}

// WithClock replaces the wall clock used to timestamp events.
func WithClock(clock func() time.Time) Option {
	return func(ro *replicaOptions) {
		ro.clock = clock
	}
}

// WithTickInterval sets how often Run delivers a Timer event.
func WithTickInterval(interval time.Duration) Option {
	return func(ro *replicaOptions) {
		ro.tickInterval = interval
	}
}

// WithBufferSize sets the capacity of the event queue.
func WithBufferSize(size uint) Option {
	return func(ro *replicaOptions) {
		ro.bufferSize = size
	}
}

// WithConsensusOptions passes options to the consensus state.
func WithConsensusOptions(opts ...consensus.Option) Option {
	return func(ro *replicaOptions) {
		ro.consensusOpts = append(ro.consensusOpts, opts...)
	}
}

// WithEventLog records every consensus step to the writer.
func WithEventLog(w *eventlog.Writer) Option {
	return func(ro *replicaOptions) {
		ro.eventLog = w
	}
}

// WithReportLimit limits how often violation reports about each violator are passed to the
// host. Reports above the limit are only logged.
func WithReportLimit(limit rate.Limit, burst int) Option {
	return func(ro *replicaOptions) {
		ro.reportLimit = limit
		ro.reportBurst = burst
	}
}

// WithMetrics enables the named metrics and registers their collectors with reg.
func WithMetrics(reg prometheus.Registerer, names ...string) Option {
	return func(ro *replicaOptions) {
		ro.metricsReg = reg
		ro.metricNames = names
	}
}
