// Package progress turns fleet tracker notifications into events and fans
// them out to pluggable sinks such as Prometheus metrics, structured logs or
// persistent status history. The Hub subscribes to a fleet.Tracker and never
// blocks it. Worker transitions reach sinks in the order they were observed;
// fleet totals reach them as the newest value at each flush.
package progress
