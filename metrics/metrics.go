package metrics

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/relab/vetomint"
	"github.com/relab/vetomint/eventloop"
	"github.com/relab/vetomint/logging"
	"go.uber.org/multierr"
)

const namespace = "vetomint"

// ProgressEvent describes one consensus step of a replica.
type ProgressEvent struct {
	Node      vetomint.ValidatorIndex
	Start     vetomint.Timestamp // start of round 0
	Event     vetomint.ConsensusEvent
	Responses []vetomint.ConsensusResponse
	Round     vetomint.Round // round after the step
	Step      vetomint.Step  // step after the step
}

// Names of the available metrics.
const (
	NameEvents     = "events"
	NameRounds     = "rounds"
	NameViolations = "violations"
	NameDecision   = "decision"
)

// Names returns the names of all metrics.
func Names() []string {
	return []string{NameEvents, NameRounds, NameViolations, NameDecision}
}

// Enable registers the named metrics on the event loop and their collectors with the registerer.
func Enable(eventLoop *eventloop.EventLoop, logger logging.Logger, reg prometheus.Registerer, metricNames ...string) (err error) {
	if len(metricNames) == 0 {
		return fmt.Errorf("no metric names provided")
	}
	var enabled []string
	for _, name := range metricNames {
		var collectors []prometheus.Collector
		var handler func(ProgressEvent)
		switch name {
		case NameEvents:
			m := newEvents()
			collectors, handler = m.collectors(), m.progress
		case NameRounds:
			m := newRounds()
			collectors, handler = m.collectors(), m.progress
		case NameViolations:
			m := newViolations()
			collectors, handler = m.collectors(), m.progress
		case NameDecision:
			m := newDecision(logger)
			collectors, handler = m.collectors(), m.progress
		default:
			err = multierr.Append(err, fmt.Errorf("invalid metric: %s", name))
			continue
		}
		var regErr error
		for _, c := range collectors {
			regErr = multierr.Append(regErr, reg.Register(c))
		}
		if regErr != nil {
			err = multierr.Append(err, fmt.Errorf("metric %s: %w", name, regErr))
			continue
		}
		eventLoop.RegisterHandler(ProgressEvent{}, func(event any) {
			handler(event.(ProgressEvent))
		})
		enabled = append(enabled, name)
	}
	logger.Infof("Metrics enabled: %v", enabled)
	return err
}

func typeName(v any) string {
	return reflect.TypeOf(v).Name()
}

// Events counts the events delivered to the consensus and the responses it emitted, by type.
type Events struct {
	events    *prometheus.CounterVec
	responses *prometheus.CounterVec
}

func newEvents() *Events {
	return &Events{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Number of events delivered to the consensus, by type.",
		}, []string{"type"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Number of responses emitted by the consensus, by type.",
		}, []string{"type"}),
	}
}

func (m *Events) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.events, m.responses}
}

func (m *Events) progress(e ProgressEvent) {
	m.events.WithLabelValues(typeName(e.Event)).Inc()
	for _, r := range e.Responses {
		m.responses.WithLabelValues(typeName(r)).Inc()
	}
}

// Rounds tracks the current round and counts round changes, separating those caused by timeouts.
type Rounds struct {
	round    prometheus.Gauge
	changes  prometheus.Counter
	timeouts prometheus.Counter
	last     vetomint.Round
}

func newRounds() *Rounds {
	return &Rounds{
		round: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "round",
			Help:      "Current consensus round.",
		}),
		changes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_changes_total",
			Help:      "Number of times the replica entered a new round.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_timeouts_total",
			Help:      "Number of round changes caused by a precommit timeout.",
		}),
	}
}

func (m *Rounds) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.round, m.changes, m.timeouts}
}

func (m *Rounds) progress(e ProgressEvent) {
	if e.Round <= m.last {
		return
	}
	m.changes.Inc()
	if _, ok := e.Event.(vetomint.Timer); ok {
		m.timeouts.Inc()
	}
	m.last = e.Round
	m.round.Set(float64(e.Round))
}

// Violations counts the violation reports per violator.
type Violations struct {
	violations *prometheus.CounterVec
}

func newViolations() *Violations {
	return &Violations{
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Number of protocol violations reported, by violator.",
		}, []string{"violator"}),
	}
}

func (m *Violations) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.violations}
}

func (m *Violations) progress(e ProgressEvent) {
	for _, r := range e.Responses {
		if v, ok := r.(vetomint.ViolationReport); ok {
			m.violations.WithLabelValues(strconv.Itoa(int(v.Violator))).Inc()
		}
	}
}

// Decision records the round and latency of decisions.
type Decision struct {
	logger  logging.Logger
	round   prometheus.Gauge
	latency prometheus.Histogram
	welford Welford
}

func newDecision(logger logging.Logger) *Decision {
	return &Decision{
		logger: logger,
		round: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "decision_round",
			Help:      "Round in which the height was decided.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_latency_milliseconds",
			Help:      "Time from the start of round 0 to the decision.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
		}),
	}
}

func (m *Decision) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.round, m.latency}
}

func (m *Decision) progress(e ProgressEvent) {
	for _, r := range e.Responses {
		f, ok := r.(vetomint.FinalizeBlock)
		if !ok {
			continue
		}
		latency := float64(e.Event.EventTime() - e.Start)
		m.round.Set(float64(e.Round))
		m.latency.Observe(latency)
		m.welford.Update(latency)
		m.logger.Infof("Decided block %d in round %d after %.0f ms (%s)", f.Proposal, e.Round, latency, &m.welford)
	}
}
