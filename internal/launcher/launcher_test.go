package launcher

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestInvocationArgsExactOrder(t *testing.T) {
	iv := Invocation{
		Program:     "python3",
		Script:      "keywords.py",
		Device:      2,
		Input:       "results/results.jsonl",
		Output:      "results/results_with_keywords.jsonl",
		ModelDir:    "models/Qwen3-4B",
		GPUMemUtil:  0.25,
		Temperature: 0.0,
		TopP:        1.0,
		K:           10,
	}
	want := []string{
		"keywords.py",
		"--input", "results/results.jsonl",
		"--output", "results/results_with_keywords.jsonl",
		"--model", "models/Qwen3-4B",
		"--gpu_mem_util", "0.25",
		"--temperature", "0.0",
		"--top_p", "1.0",
		"--k", "10",
	}
	if got := iv.Args(); !reflect.DeepEqual(got, want) {
		t.Fatalf("argv mismatch:\n got %q\nwant %q", got, want)
	}
	if env := iv.Env(); env[VisibleDevicesEnv] != "2" {
		t.Fatalf("expected %s=2, got %q", VisibleDevicesEnv, env[VisibleDevicesEnv])
	}
}

func TestInvocationArgsNoCrossCoupling(t *testing.T) {
	base := Invocation{Input: "a", Output: "b", ModelDir: "m", GPUMemUtil: 0.5, Temperature: 0.2, TopP: 0.9, K: 8}
	changed := base
	changed.TopP = 0.7

	got, ref := changed.Args(), base.Args()
	if len(got) != len(ref) {
		t.Fatalf("changing one literal altered argv length")
	}
	diffs := 0
	for i := range got {
		if got[i] != ref[i] {
			diffs++
			if ref[i] != "0.9" || got[i] != "0.7" {
				t.Fatalf("unexpected diff at %d: %q -> %q", i, ref[i], got[i])
			}
		}
	}
	if diffs != 1 {
		t.Fatalf("expected exactly one changed argv entry, got %d", diffs)
	}
}

func TestInvocationOptionalExtras(t *testing.T) {
	iv := Invocation{Input: "a", Output: "b", ModelDir: "m", BatchSize: 16, MaxTokens: 128, MaxModelLen: 4096, KeepRaw: true}
	args := iv.Args()
	joined := ""
	for _, a := range args {
		joined += a + " "
	}
	for _, want := range []string{"--batch_size 16", "--max_tokens 128", "--max_model_len 4096", "--keep_raw"} {
		if !bytes.Contains([]byte(joined), []byte(want)) {
			t.Fatalf("missing %q in argv %q", want, joined)
		}
	}
}

func TestInvocationExtraArgsLast(t *testing.T) {
	iv := Invocation{Input: "a", Output: "b", ModelDir: "m", ExtraArgs: []string{"--seed", "42"}}
	args := iv.Args()
	if len(args) < 2 || args[len(args)-2] != "--seed" || args[len(args)-1] != "42" {
		t.Fatalf("extra args not appended last: %q", args)
	}
}

func TestDepInvocationArgs(t *testing.T) {
	iv := DepInvocation{
		Program:         "python3",
		Script:          "dep_extract.py",
		Device:          1,
		Input:           "results/results.jsonl",
		Output:          "results/dep_results.jsonl",
		PreferLangField: true,
		DefaultLang:     "en",
	}
	want := []string{
		"dep_extract.py",
		"--input", "results/results.jsonl",
		"--output", "results/dep_results.jsonl",
		"--prefer_lang_field",
		"--default_lang", "en",
	}
	if got := iv.Args(); !reflect.DeepEqual(got, want) {
		t.Fatalf("argv mismatch:\n got %q\nwant %q", got, want)
	}
	if env := iv.Env(); env[VisibleDevicesEnv] != "1" {
		t.Fatalf("expected %s=1, got %q", VisibleDevicesEnv, env[VisibleDevicesEnv])
	}
}

func TestDepInvocationMinimalArgs(t *testing.T) {
	iv := DepInvocation{Script: "dep_extract.py", Input: "in.jsonl", Output: "out.jsonl"}
	want := []string{"dep_extract.py", "--input", "in.jsonl", "--output", "out.jsonl"}
	if got := iv.Args(); !reflect.DeepEqual(got, want) {
		t.Fatalf("argv mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestFormatFloat(t *testing.T) {
	cases := map[float64]string{
		0.25: "0.25",
		0.0:  "0.0",
		1.0:  "1.0",
		0.9:  "0.9",
		2.0:  "2.0",
	}
	for in, want := range cases {
		if got := FormatFloat(in); got != want {
			t.Fatalf("FormatFloat(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestRunForwardsEnv(t *testing.T) {
	var out bytes.Buffer
	err := Run(context.Background(), Cmd{
		Path:   "/bin/sh",
		Args:   []string{"-c", "printf '%s' \"$CUDA_VISIBLE_DEVICES\""},
		Env:    map[string]string{VisibleDevicesEnv: "5"},
		Stdout: &out,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.String() != "5" {
		t.Fatalf("child saw %q, want 5", out.String())
	}
}

func TestRunWorkingDir(t *testing.T) {
	d := t.TempDir()
	var out bytes.Buffer
	err := Run(context.Background(), Cmd{
		Path:   "/bin/sh",
		Args:   []string{"-c", "pwd"},
		Dir:    d,
		Stdout: &out,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := filepath.EvalSymlinks(string(bytes.TrimSpace(out.Bytes())))
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	want, _ := filepath.EvalSymlinks(d)
	if got != want {
		t.Fatalf("cwd = %q, want %q", got, want)
	}
}

func TestExitCodePassthrough(t *testing.T) {
	err := Run(context.Background(), Cmd{Path: "/bin/sh", Args: []string{"-c", "exit 7"}})
	if err == nil {
		t.Fatalf("expected non-zero exit")
	}
	if code := ExitCode(err); code != 7 {
		t.Fatalf("exit code = %d, want 7", code)
	}
	if code := ExitCode(nil); code != 0 {
		t.Fatalf("nil error should map to 0, got %d", code)
	}
}

func TestExitCodeMissingProgram(t *testing.T) {
	err := Run(context.Background(), Cmd{Path: filepath.Join(t.TempDir(), "definitely-not-here")})
	if err == nil {
		t.Fatalf("expected error for missing program")
	}
	if code := ExitCode(err); code == 0 {
		t.Fatalf("missing program must not map to success")
	}
}

func TestRunStreamOutput(t *testing.T) {
	out := &syncBuffer{}
	err := Run(context.Background(), Cmd{
		Path:   "/bin/sh",
		Args:   []string{"-c", "echo line1; echo line2"},
		Stream: true,
		Stdout: out,
		Stderr: os.Stderr,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// The stream goroutines may lag Wait slightly; give them a moment.
	deadline := time.Now().Add(2 * time.Second)
	for !bytes.Contains(out.Bytes(), []byte("line2")) {
		if time.Now().After(deadline) {
			t.Fatalf("expected streamed output, got %q", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *syncBuffer) String() string { return string(b.Bytes()) }
