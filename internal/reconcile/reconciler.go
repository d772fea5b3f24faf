package reconcile

import (
	"sort"

	"github.com/capitalize-ai/stream-reconciler/internal/model"
)

// Reconciler reconciles a growing buffer incrementally. Appending an event
// whose timestamp is at or past the end of the buffer extends the most recent
// run (or starts a new one) in O(1); a late event is inserted at its sorted
// position and the compacted view is rebuilt. At every point Records returns
// exactly what Reconcile would produce for the full buffer.
//
// A Reconciler is not safe for concurrent use; give each stream its own.
type Reconciler struct {
	events  []model.StreamEvent
	records []model.MergedRecord
}

// NewReconciler returns an empty incremental reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Append adds one event to the buffer.
func (r *Reconciler) Append(ev model.StreamEvent) {
	if len(r.events) == 0 || ev.Timestamp >= r.events[len(r.events)-1].Timestamp {
		r.events = append(r.events, ev)
		r.extendTail(ev)
		return
	}

	// Late arrival. Insert after every buffered event with an equal or
	// earlier timestamp, which is where a stable sort of the arrival order
	// would place it, then rebuild the compacted view.
	idx := sort.Search(len(r.events), func(i int) bool {
		return r.events[i].Timestamp > ev.Timestamp
	})
	r.events = append(r.events, model.StreamEvent{})
	copy(r.events[idx+1:], r.events[idx:])
	r.events[idx] = ev
	r.records = scan(r.events)
}

// extendTail folds an in-order event into the last emitted record when the
// run conditions hold, mirroring one step of the batch scan.
func (r *Reconciler) extendTail(ev model.StreamEvent) {
	if mergeable(ev) && len(r.records) > 0 {
		last := &r.records[len(r.records)-1]
		if mergeable(last.StreamEvent) && last.MessageID == ev.MessageID {
			last.Content += ev.Content
			last.OriginalFragments++
			last.IsMerged = true
			return
		}
	}
	r.records = append(r.records, singleton(ev))
}

// Records returns a copy of the current compacted view.
func (r *Reconciler) Records() []model.MergedRecord {
	out := make([]model.MergedRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Len reports how many raw events have been buffered.
func (r *Reconciler) Len() int {
	return len(r.events)
}
