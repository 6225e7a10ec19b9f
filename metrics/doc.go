// Package metrics collects consensus metrics from the event loop of a replica.
//
// The replica adds a ProgressEvent to its event loop after every consensus step. Each enabled
// metric registers a handler for ProgressEvent and updates its Prometheus collectors, which are
// registered with the registry passed to Enable.
package metrics
