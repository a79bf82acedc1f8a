package realtime

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityKeepsOnlyFilterColumns(t *testing.T) {
	row := map[string]any{
		"id":           "m1",
		"household_id": "h1",
		"user_id":      "u1",
		"body":         strings.Repeat("x", 10000),
		"created_at":   "2026-01-01T00:00:00Z",
	}
	assert.Equal(t, map[string]any{"id": "m1", "household_id": "h1", "user_id": "u1"}, Identity(ResourceMessages, row))

	h := Identity(ResourceHouseholds, map[string]any{"id": "h1", "name": "Flat 4", "invite_code": "ABC"})
	assert.Equal(t, map[string]any{"id": "h1", "household_id": "h1"}, h)

	assert.Nil(t, Identity(ResourceTasks, nil))
}

func TestTriggerPayloadMatchesDescriptors(t *testing.T) {
	// shape produced by notify_row_change
	payload := `{"table":"tasks","type":"DELETE","commit_timestamp":"2026-10-19T08:00:00.123456+00:00",
		"old_record":{"id":"t1","household_id":"h1"}}`
	var ev ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(payload), &ev))
	assert.Nil(t, ev.Record)
	assert.True(t, tasksDesc("h1").Matches(ev))
	assert.False(t, tasksDesc("h2").Matches(ev))

	payload = `{"table":"households","type":"UPDATE","commit_timestamp":"2026-10-19T08:00:00+00:00",
		"record":{"id":"h1","household_id":"h1"},"old_record":{"id":"h1","household_id":"h1"}}`
	ev = ChangeEvent{}
	require.NoError(t, json.Unmarshal([]byte(payload), &ev))
	assert.True(t, Descriptor{Resource: ResourceHouseholds, Filter: "household_id=eq.h1"}.Matches(ev))
}
