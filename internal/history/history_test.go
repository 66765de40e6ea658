package history

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewEventAssignsIDAndUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, loc)
	a := NewEvent(EventAllocate, at)
	b := NewEvent(EventAllocate, at)

	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct non-empty IDs, got %q and %q", a.ID, b.ID)
	}
	if a.OccurredAt.Location() != time.UTC || !a.OccurredAt.Equal(at) {
		t.Fatalf("expected UTC time equal to input, got %v", a.OccurredAt)
	}
}

func TestEventJSONOmitsEmptyFields(t *testing.T) {
	e := NewEvent(EventReclaim, time.Now())
	e.Path = "/nfs/ws@3"
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "reclaim" || m["path"] != "/nfs/ws@3" {
		t.Fatalf("unexpected payload: %s", b)
	}
	for _, k := range []string{"node", "project", "detail"} {
		if _, ok := m[k]; ok {
			t.Errorf("field %q should be omitted: %s", k, b)
		}
	}
}
