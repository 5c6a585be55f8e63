package fleet

// Subscriber consumes Tracker notifications. Callbacks run synchronously
// while the Tracker holds its lock, so implementations must return quickly
// and must not call back into the Tracker. Slow consumers should be wrapped
// in an asynchronous adapter such as progress.Hub.
type Subscriber interface {
	// OnStateChanged receives a worker's newly reported lifecycle state.
	OnStateChanged(id WorkerID, state State)
	// OnFlagCountChanged receives the recomputed fleet-wide total for flag.
	OnFlagCountChanged(flag Flag, total int)
	// OnStateCountsChanged receives the recomputed per-state worker counts.
	OnStateCountsChanged(counts StateCounts)
	// OnWorkerRemoved signals that a worker's values left every total.
	OnWorkerRemoved(id WorkerID)
}

// SubscriberFuncs adapts optional callbacks to the Subscriber interface.
// Nil fields are skipped.
type SubscriberFuncs struct {
	StateChanged       func(id WorkerID, state State)
	FlagCountChanged   func(flag Flag, total int)
	StateCountsChanged func(counts StateCounts)
	WorkerRemoved      func(id WorkerID)
}

// OnStateChanged implements Subscriber.
func (f SubscriberFuncs) OnStateChanged(id WorkerID, state State) {
	if f.StateChanged != nil {
		f.StateChanged(id, state)
	}
}

// OnFlagCountChanged implements Subscriber.
func (f SubscriberFuncs) OnFlagCountChanged(flag Flag, total int) {
	if f.FlagCountChanged != nil {
		f.FlagCountChanged(flag, total)
	}
}

// OnStateCountsChanged implements Subscriber.
func (f SubscriberFuncs) OnStateCountsChanged(counts StateCounts) {
	if f.StateCountsChanged != nil {
		f.StateCountsChanged(counts)
	}
}

// OnWorkerRemoved implements Subscriber.
func (f SubscriberFuncs) OnWorkerRemoved(id WorkerID) {
	if f.WorkerRemoved != nil {
		f.WorkerRemoved(id)
	}
}
