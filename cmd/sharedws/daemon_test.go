package main

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"testing"
)

func TestPidFileRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sharedws.pid")
	if err := writePidFile(p, 4242); err != nil {
		t.Fatalf("writePidFile: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if pid, _ := strconv.Atoi(string(b)); pid != 4242 {
		t.Fatalf("pid = %s", b)
	}
	if err := removePidFile(p); err != nil {
		t.Fatalf("removePidFile: %v", err)
	}
	if err := removePidFile(""); err != nil {
		t.Fatalf("removePidFile empty: %v", err)
	}
}

func TestChildArgs(t *testing.T) {
	in := []string{"serve", "--daemonize", "--pidfile", "/run/x.pid", "--config", "a.toml", "--logfile", "/tmp/l"}
	want := []string{"serve", "--config", "a.toml"}
	if got := childArgs(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("childArgs = %v, want %v", got, want)
	}
}
