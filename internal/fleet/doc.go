// Package fleet mirrors the lifecycle state and per-URL outcome counters of
// every crawl worker and fans changes out to any number of subscribers.
//
// The Tracker is a passive aggregator: workers push absolute values (their
// latest state, their current count for a flag) and the Tracker recomputes
// fleet-wide totals over every registered worker on each report. It never
// validates state transitions; Lifecycle is the worker-side state machine
// that decides which transitions are legal and reports them.
package fleet
