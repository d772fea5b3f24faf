// Package reconcile compacts raw agent stream fragments into whole records.
//
// Streams deliver assistant text as many small markdown fragments interleaved
// with tool calls, cards and task markers. Reconciliation sorts fragments by
// timestamp and merges each maximal contiguous run of same-message markdown
// fragments into one record, leaving everything else untouched.
package reconcile

import (
	"sort"
	"strings"

	"github.com/capitalize-ai/stream-reconciler/internal/model"
)

// Reconcile sorts events by timestamp (stable, so equal timestamps keep
// arrival order) and merges contiguous assistant markdown fragments that
// share a message ID. Non-markdown events, role changes and message ID
// changes all end a run; the stopping event starts its own group.
//
// Merged content is the concatenation of the run's fragments in timestamp
// order, and all other fields come from the run's first fragment. The
// operation is idempotent: reconciling its own output changes nothing.
func Reconcile(events []model.StreamEvent) []model.MergedRecord {
	if len(events) == 0 {
		return []model.MergedRecord{}
	}

	sorted := make([]model.StreamEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	return scan(sorted)
}

// scan walks an already-sorted slice and emits merged records.
func scan(sorted []model.StreamEvent) []model.MergedRecord {
	records := make([]model.MergedRecord, 0, len(sorted))

	for i := 0; i < len(sorted); {
		first := sorted[i]
		if !mergeable(first) {
			records = append(records, singleton(first))
			i++
			continue
		}

		// Extend the run while role, kind and message identity hold. Two
		// fragments that both omit a message ID share the empty identity;
		// permissive, but it matches what producers rely on today.
		j := i + 1
		for j < len(sorted) && mergeable(sorted[j]) && sorted[j].MessageID == first.MessageID {
			j++
		}

		if j-i == 1 {
			records = append(records, singleton(first))
			i = j
			continue
		}

		var content strings.Builder
		for k := i; k < j; k++ {
			content.WriteString(sorted[k].Content)
		}

		merged := first
		merged.Content = content.String()
		records = append(records, model.MergedRecord{
			StreamEvent:       merged,
			IsMerged:          true,
			OriginalFragments: j - i,
		})
		i = j
	}

	return records
}

func mergeable(ev model.StreamEvent) bool {
	return ev.Role == model.RoleAssistant && ev.Kind == model.KindMarkdown
}

func singleton(ev model.StreamEvent) model.MergedRecord {
	return model.MergedRecord{StreamEvent: ev, OriginalFragments: 1}
}

// Events extracts the underlying stream events from reconciled records,
// for feeding a record set back through Reconcile.
func Events(records []model.MergedRecord) []model.StreamEvent {
	events := make([]model.StreamEvent, len(records))
	for i, rec := range records {
		events[i] = rec.StreamEvent
	}
	return events
}
