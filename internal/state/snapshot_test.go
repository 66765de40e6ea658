package state

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func sampleSnapshot() *Snapshot {
	s := New()
	s.Allocations = []Allocation{
		{Path: "/nfs/ws@2", Owner: "agent-2"},
		{Path: "/nfs/ws", Owner: "agent-1"},
	}
	s.LastUsed["/nfs/ws@3"] = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Projects["app"] = "/nfs/ws/app"
	return s
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := sampleSnapshot()
	in.Normalize()
	var buf bytes.Buffer
	if err := Encode(&buf, in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Allocations) != 2 || out.Allocations[0].Path != "/nfs/ws" || out.Allocations[1].Owner != "agent-2" {
		t.Fatalf("allocations mismatch: %+v", out.Allocations)
	}
	if !out.LastUsed["/nfs/ws@3"].Equal(in.LastUsed["/nfs/ws@3"]) {
		t.Fatalf("last used mismatch: %v", out.LastUsed)
	}
	if out.Projects["app"] != "/nfs/ws/app" {
		t.Fatalf("projects mismatch: %v", out.Projects)
	}
}

func TestDecodeUpgradesMissingVersion(t *testing.T) {
	s, err := Decode(strings.NewReader(`{"allocations":[{"path":"/a"}]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Version != CurrentVersion {
		t.Fatalf("expected version %d, got %d", CurrentVersion, s.Version)
	}
	if s.LastUsed == nil || s.Projects == nil {
		t.Fatalf("expected collections to be filled")
	}
}

func TestValidateRejectsBrokenSnapshots(t *testing.T) {
	cases := map[string]string{
		"future version": `{"version":99}`,
		"empty path":     `{"version":1,"allocations":[{"path":""}]}`,
		"duplicate":      `{"version":1,"allocations":[{"path":"/a"},{"path":"/a"}]}`,
		"in use and pending": `{"version":1,"allocations":[{"path":"/a"}],
			"last_used":{"/a":"2026-01-01T00:00:00Z"}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(strings.NewReader(doc)); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	a := sampleSnapshot()
	b := a.Clone()
	b.Allocations[0].Owner = "changed"
	b.LastUsed["/x"] = time.Now()
	b.Projects["other"] = "/y"
	if a.Allocations[0].Owner == "changed" || len(a.LastUsed) != 1 || len(a.Projects) != 1 {
		t.Fatalf("clone shares state with original")
	}
}
