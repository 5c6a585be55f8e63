// Package sinks implements concrete fleet event consumers: Prometheus
// gauges, repository-backed status history, structured logging and a
// websocket broadcaster. Each sink satisfies the progress.Sink interface.
package sinks
