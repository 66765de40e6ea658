package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/sharedws/internal/history"
)

func TestSQLiteSinkSendAndCount(t *testing.T) {
	sink, err := New("sqlite://:memory:")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	at := time.Now()
	for _, tp := range []history.EventType{history.EventAllocate, history.EventAllocate, history.EventRelease} {
		e := history.NewEvent(tp, at)
		e.Node, e.Path = "agent-1", "/nfs/ws"
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send %s: %v", tp, err)
		}
	}

	if n, err := sink.Count(ctx, ""); err != nil || n != 3 {
		t.Fatalf("count all = %d, %v", n, err)
	}
	if n, err := sink.Count(ctx, history.EventAllocate); err != nil || n != 2 {
		t.Fatalf("count allocate = %d, %v", n, err)
	}
}

func TestSQLiteSinkRejectsDuplicateID(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sink.Close() }()

	e := history.NewEvent(history.EventReclaim, time.Now())
	if err := sink.Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sink.Send(context.Background(), e); err == nil {
		t.Fatal("expected primary key violation on resend")
	}
}

func TestSQLiteSinkFileReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	sink, err := New(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := sink.Send(context.Background(), history.NewEvent(history.EventBuild, time.Now())); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = sink.Close()

	sink, err = New("sqlite://" + path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = sink.Close() }()
	if n, err := sink.Count(context.Background(), history.EventBuild); err != nil || n != 1 {
		t.Fatalf("count after reopen = %d, %v", n, err)
	}
}

func TestSQLiteSinkEmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
