package engine

import (
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fake-engine")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return p
}

func TestSpawnArgs(t *testing.T) {
	a := &spawnAdapter{cfg: SpawnConfig{Bin: "vllm", GPUMemUtil: 0.25, MaxModelLen: 4096, ExtraArgs: []string{"--dtype", "auto"}}}
	got := a.spawnArgs("models/Qwen3-4B", "127.0.0.1", 30001)
	want := []string{
		"serve", "models/Qwen3-4B",
		"--host", "127.0.0.1",
		"--port", "30001",
		"--gpu-memory-utilization", "0.25",
		"--max-model-len", "4096",
		"--dtype", "auto",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("argv mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestSpawnArgsMinimal(t *testing.T) {
	a := &spawnAdapter{cfg: SpawnConfig{Bin: "vllm"}}
	got := a.spawnArgs("m", "h", 1)
	if len(got) != 6 {
		t.Fatalf("unexpected argv for zero config: %q", got)
	}
}

func TestStartMissingBin(t *testing.T) {
	a := NewSpawnAdapter(SpawnConfig{Bin: filepath.Join(t.TempDir(), "no-such-engine"), ReadyWait: 2 * time.Second})
	_, err := a.Start("models/m", Params{})
	if err == nil {
		t.Fatalf("expected error for missing engine binary")
	}
	if !IsUnavailable(err) {
		t.Fatalf("expected IsUnavailable, got %v", err)
	}
}

func TestStartEmptyModelDir(t *testing.T) {
	a := NewSpawnAdapter(SpawnConfig{Bin: "vllm"})
	if _, err := a.Start("  ", Params{}); !IsUnavailable(err) {
		t.Fatalf("expected IsUnavailable for empty model dir, got %v", err)
	}
}

func TestStartEngineExitsEarly(t *testing.T) {
	bin := writeScript(t, "echo boom >&2; exit 3")
	a := NewSpawnAdapter(SpawnConfig{Bin: bin, ReadyWait: 5 * time.Second})
	_, err := a.Start("models/m", Params{})
	if err == nil {
		t.Fatalf("expected early-exit error")
	}
	if !IsUnavailable(err) {
		t.Fatalf("expected IsUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("stderr tail missing from error: %v", err)
	}
}

func TestStartReadinessTimeout(t *testing.T) {
	bin := writeScript(t, "sleep 30")
	a := NewSpawnAdapter(SpawnConfig{Bin: bin, ReadyWait: 500 * time.Millisecond})
	_, err := a.Start("models/m", Params{})
	if err == nil {
		t.Fatalf("expected readiness timeout")
	}
	if !IsNotReady(err) {
		t.Fatalf("expected IsNotReady, got %v", err)
	}
	// The sleeping child must have been killed; no proc entry remains.
	if _, _, _, ok := a.(*spawnAdapter).ProcInfo("models/m"); ok {
		t.Fatalf("proc entry should be cleaned up after timeout")
	}
}

func TestPickPortInRange(t *testing.T) {
	// Occupy one port and make sure the picker skips it.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	_, portStr, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	busy, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port: %v", err)
	}

	p, err := pickPortInRange("127.0.0.1", busy, busy+20)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if p == busy {
		t.Fatalf("picked the busy port %d", p)
	}
	if p < busy || p > busy+20 {
		t.Fatalf("port %d outside range", p)
	}
}

func TestPickFreePort(t *testing.T) {
	p, err := pickFreePort("127.0.0.1")
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if p <= 0 || p > 65535 {
		t.Fatalf("bad port %d", p)
	}
}
