package progress

import (
	"time"

	"github.com/JakeFAU/jobhearted-crawler/internal/fleet"
)

var _ fleet.Subscriber = (*Hub)(nil)

// OnStateChanged implements fleet.Subscriber.
func (h *Hub) OnStateChanged(id fleet.WorkerID, state fleet.State) {
	h.Emit(Event{Kind: KindStateChanged, TS: h.now(), WorkerID: id, State: state})
}

// OnFlagCountChanged implements fleet.Subscriber.
func (h *Hub) OnFlagCountChanged(flag fleet.Flag, total int) {
	h.Emit(Event{Kind: KindFlagTotal, TS: h.now(), Flag: flag, Total: total})
}

// OnStateCountsChanged implements fleet.Subscriber. The tracker hands each
// subscriber its own copy of counts.
func (h *Hub) OnStateCountsChanged(counts fleet.StateCounts) {
	h.Emit(Event{Kind: KindStateCounts, TS: h.now(), Counts: counts})
}

// OnWorkerRemoved implements fleet.Subscriber.
func (h *Hub) OnWorkerRemoved(id fleet.WorkerID) {
	h.Emit(Event{Kind: KindWorkerRemoved, TS: h.now(), WorkerID: id})
}

func (h *Hub) now() time.Time {
	if h == nil || h.cfg.Now == nil {
		return time.Now().UTC()
	}
	return h.cfg.Now().UTC()
}
