package fleet

import (
	"fmt"
	"strings"
)

// WorkerID is the opaque identity of one crawl worker.
type WorkerID string

// State is a worker lifecycle state.
type State string

// Supported lifecycle states.
const (
	StateRunning State = "RUNNING"
	// StatePausing means a pause was requested but the worker has not yet
	// finished its current unit of work.
	StatePausing State = "PAUSING"
	StatePaused  State = "PAUSED"
	StateStopped State = "STOPPED"
)

// Valid reports whether s is one of the known lifecycle states.
func (s State) Valid() bool {
	switch s {
	case StateRunning, StatePausing, StatePaused, StateStopped:
		return true
	default:
		return false
	}
}

// ParseState converts a case-insensitive name into a State.
func ParseState(raw string) (State, error) {
	s := State(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown worker state %q", raw)
	}
	return s, nil
}

// Flag classifies the outcome of processing one URL.
type Flag string

// Supported outcome flags.
const (
	FlagFound   Flag = "FOUND"
	FlagVisited Flag = "VISITED"
	FlagRetry   Flag = "RETRY"
	FlagFile    Flag = "FILE"
	FlagDead    Flag = "DEAD"
	FlagRecrawl Flag = "RECRAWL"
)

var allFlags = []Flag{FlagFound, FlagVisited, FlagRetry, FlagFile, FlagDead, FlagRecrawl}

// Flags returns every outcome flag in a stable order.
func Flags() []Flag {
	return append([]Flag(nil), allFlags...)
}

// Valid reports whether f is one of the known outcome flags.
func (f Flag) Valid() bool {
	for _, known := range allFlags {
		if f == known {
			return true
		}
	}
	return false
}

// ParseFlag converts a case-insensitive name into a Flag.
func ParseFlag(raw string) (Flag, error) {
	f := Flag(strings.ToUpper(strings.TrimSpace(raw)))
	if !f.Valid() {
		return "", fmt.Errorf("unknown outcome flag %q", raw)
	}
	return f, nil
}

// StateCounts maps the totalled lifecycle states to the number of workers
// currently in them. PAUSING workers are tracked but have no total.
type StateCounts map[State]int

var countedStates = []State{StateRunning, StatePaused, StateStopped}

func newStateCounts() StateCounts {
	counts := make(StateCounts, len(countedStates))
	for _, s := range countedStates {
		counts[s] = 0
	}
	return counts
}

// FlagCounts maps outcome flags to a count.
type FlagCounts map[Flag]int

func newFlagCounts() FlagCounts {
	counts := make(FlagCounts, len(allFlags))
	for _, f := range allFlags {
		counts[f] = 0
	}
	return counts
}

func (c FlagCounts) clone() FlagCounts {
	out := make(FlagCounts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
