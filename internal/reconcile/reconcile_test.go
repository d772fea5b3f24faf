package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/stream-reconciler/internal/model"
)

func markdown(id string, ts float64, content string) model.StreamEvent {
	return model.StreamEvent{
		Role:      model.RoleAssistant,
		Kind:      model.KindMarkdown,
		MessageID: id,
		Timestamp: ts,
		Content:   content,
	}
}

func TestReconcileEmptyInput(t *testing.T) {
	records := Reconcile(nil)
	require.NotNil(t, records)
	assert.Empty(t, records)

	assert.Empty(t, Reconcile([]model.StreamEvent{}))
}

func TestReconcileMergesContiguousFragments(t *testing.T) {
	records := Reconcile([]model.StreamEvent{
		markdown("m1", 1, "He"),
		markdown("m1", 2, "llo"),
	})

	require.Len(t, records, 1)
	assert.Equal(t, "Hello", records[0].Content)
	assert.True(t, records[0].IsMerged)
	assert.Equal(t, 2, records[0].OriginalFragments)
	assert.Equal(t, "m1", records[0].MessageID)
	assert.Equal(t, float64(1), records[0].Timestamp)
}

func TestReconcileToolEventBreaksRun(t *testing.T) {
	records := Reconcile([]model.StreamEvent{
		markdown("m1", 1, "He"),
		{Role: model.RoleAssistant, Kind: model.KindTool, Timestamp: 1.5},
		markdown("m1", 2, "llo"),
	})

	require.Len(t, records, 3)
	for _, rec := range records {
		assert.False(t, rec.IsMerged)
		assert.Equal(t, 1, rec.OriginalFragments)
	}
	assert.Equal(t, "He", records[0].Content)
	assert.Equal(t, model.KindTool, records[1].Kind)
	assert.Equal(t, "llo", records[2].Content)
}

func TestReconcileCardEventBreaksRun(t *testing.T) {
	records := Reconcile([]model.StreamEvent{
		markdown("m1", 1, "a"),
		{Role: model.RoleAssistant, Kind: model.KindCard, Timestamp: 2},
		markdown("m1", 3, "b"),
	})

	require.Len(t, records, 3)
	assert.Equal(t, 1, records[0].OriginalFragments)
	assert.Equal(t, 1, records[2].OriginalFragments)
}

func TestReconcileMessageIdentityBreaksRun(t *testing.T) {
	records := Reconcile([]model.StreamEvent{
		markdown("m1", 1, "first"),
		markdown("m2", 2, "second"),
		markdown("m2", 3, " half"),
	})

	require.Len(t, records, 2)
	assert.Equal(t, "first", records[0].Content)
	assert.False(t, records[0].IsMerged)
	assert.Equal(t, "second half", records[1].Content)
	assert.Equal(t, 2, records[1].OriginalFragments)
}

func TestReconcileNonAssistantMarkdownNotMerged(t *testing.T) {
	records := Reconcile([]model.StreamEvent{
		{Role: model.RoleUser, Kind: model.KindMarkdown, MessageID: "m1", Timestamp: 1, Content: "a"},
		{Role: model.RoleUser, Kind: model.KindMarkdown, MessageID: "m1", Timestamp: 2, Content: "b"},
	})

	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].Content)
	assert.Equal(t, "b", records[1].Content)
}

func TestReconcileSortsByTimestamp(t *testing.T) {
	records := Reconcile([]model.StreamEvent{
		markdown("m1", 3, "lo"),
		markdown("m1", 1, "He"),
		markdown("m1", 2, "l"),
	})

	require.Len(t, records, 1)
	assert.Equal(t, "Hello", records[0].Content)
	assert.Equal(t, 3, records[0].OriginalFragments)
}

func TestReconcileEqualTimestampsKeepArrivalOrder(t *testing.T) {
	records := Reconcile([]model.StreamEvent{
		markdown("m1", 1, "one "),
		markdown("m1", 1, "two "),
		markdown("m1", 1, "three"),
	})

	require.Len(t, records, 1)
	assert.Equal(t, "one two three", records[0].Content)
}

func TestReconcileEmptyMessageIDSharesIdentity(t *testing.T) {
	// Fragments that both omit an identity still merge. Deliberate, if
	// permissive: the upstream producer relies on it today.
	records := Reconcile([]model.StreamEvent{
		markdown("", 1, "no "),
		markdown("", 2, "id"),
	})

	require.Len(t, records, 1)
	assert.Equal(t, "no id", records[0].Content)
	assert.True(t, records[0].IsMerged)
}

func TestReconcileKeepsFirstFragmentFields(t *testing.T) {
	first := markdown("m1", 1, "a")
	first.Extra = map[string]any{"trace_id": "t-123", "model": "sonnet"}
	second := markdown("m1", 2, "b")
	second.Extra = map[string]any{"trace_id": "t-456"}

	records := Reconcile([]model.StreamEvent{first, second})

	require.Len(t, records, 1)
	assert.Equal(t, "t-123", records[0].Extra["trace_id"])
	assert.Equal(t, "sonnet", records[0].Extra["model"])
}

func TestReconcileIdempotent(t *testing.T) {
	events := []model.StreamEvent{
		markdown("m1", 1, "He"),
		markdown("m1", 2, "llo"),
		{Role: model.RoleAssistant, Kind: model.KindTool, Timestamp: 3},
		markdown("m2", 4, "wor"),
		markdown("m2", 5, "ld"),
		{Role: model.RoleUser, Kind: model.KindOther, Timestamp: 6},
	}

	once := Reconcile(events)
	twice := Reconcile(Events(once))

	require.Len(t, twice, len(once))
	for i := range once {
		assert.Equal(t, once[i].StreamEvent, twice[i].StreamEvent, "record %d", i)
	}
}

func TestReconcilePreservesMarkdownCharacterCount(t *testing.T) {
	events := []model.StreamEvent{
		markdown("m1", 1, "abc"),
		markdown("m1", 2, "defg"),
		{Role: model.RoleAssistant, Kind: model.KindTool, Timestamp: 3},
		markdown("m1", 4, "hi"),
		markdown("m2", 5, "jklmn"),
	}

	var before int
	for _, ev := range events {
		if ev.Kind == model.KindMarkdown {
			before += len(ev.Content)
		}
	}

	var after int
	for _, rec := range Reconcile(events) {
		if rec.Kind == model.KindMarkdown {
			after += len(rec.Content)
		}
	}

	assert.Equal(t, before, after)
}

func TestReconcileDoesNotMutateInput(t *testing.T) {
	events := []model.StreamEvent{
		markdown("m1", 2, "llo"),
		markdown("m1", 1, "He"),
	}

	Reconcile(events)

	assert.Equal(t, "llo", events[0].Content)
	assert.Equal(t, float64(2), events[0].Timestamp)
}

func TestReconcilerMatchesBatchInOrder(t *testing.T) {
	events := []model.StreamEvent{
		markdown("m1", 1, "He"),
		markdown("m1", 2, "llo"),
		{Role: model.RoleAssistant, Kind: model.KindTool, Timestamp: 3},
		markdown("m2", 4, "wor"),
		markdown("m2", 5, "ld"),
	}

	r := NewReconciler()
	for i, ev := range events {
		r.Append(ev)
		assert.Equal(t, Reconcile(events[:i+1]), r.Records(), "after event %d", i)
	}
	assert.Equal(t, len(events), r.Len())
}

func TestReconcilerMatchesBatchOutOfOrder(t *testing.T) {
	events := []model.StreamEvent{
		markdown("m1", 5, "llo"),
		markdown("m1", 1, "He"),
		{Role: model.RoleAssistant, Kind: model.KindTool, Timestamp: 3},
		markdown("m1", 1, " again"),
		markdown("m2", 2, "mid"),
	}

	r := NewReconciler()
	for i, ev := range events {
		r.Append(ev)
		assert.Equal(t, Reconcile(events[:i+1]), r.Records(), "after event %d", i)
	}
}

func TestReconcilerExtendsTailRun(t *testing.T) {
	r := NewReconciler()
	r.Append(markdown("m1", 1, "He"))
	r.Append(markdown("m1", 2, "l"))
	r.Append(markdown("m1", 3, "lo"))

	records := r.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "Hello", records[0].Content)
	assert.Equal(t, 3, records[0].OriginalFragments)
}
