package engine

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// SpawnConfig holds tunables for the per-model engine subprocess.
type SpawnConfig struct {
	Bin         string // engine binary, e.g. "vllm"
	Host        string // defaults to 127.0.0.1
	PortStart   int    // optional port range
	PortEnd     int
	Device      int     // accelerator index exported via CUDA_VISIBLE_DEVICES
	GPUMemUtil  float64 // fraction of accelerator memory to reserve
	MaxModelLen int
	ExtraArgs   []string
	ReadyWait   time.Duration // defaults to 60s
}

// spawnAdapter spawns and manages one engine server per model directory.
type spawnAdapter struct {
	cfg        SpawnConfig
	mu         sync.Mutex
	procs      map[string]*procInfo // key: modelDir
	httpClient *http.Client
}

type procInfo struct {
	cmd     *exec.Cmd
	baseURL string
	port    int
	ready   bool
	pid     int
}

// NewSpawnAdapter constructs a subprocess-backed adapter.
func NewSpawnAdapter(cfg SpawnConfig) Adapter {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ReadyWait <= 0 {
		cfg.ReadyWait = 60 * time.Second
	}
	// Timeout stays 0: readiness polls and completions carry their own deadlines.
	return &spawnAdapter{cfg: cfg, procs: make(map[string]*procInfo), httpClient: &http.Client{Timeout: 0}}
}

// spawnSession reuses the server client against the spawned process.
type spawnSession struct {
	inner Session
	a     *spawnAdapter
}

func (s *spawnSession) Complete(ctx context.Context, prompt string, onToken func(string) error) (Result, error) {
	return s.inner.Complete(ctx, prompt, onToken)
}

func (s *spawnSession) Close() error { return s.inner.Close() }

func (a *spawnAdapter) Start(modelDir string, params Params) (Session, error) {
	if strings.TrimSpace(modelDir) == "" {
		return nil, ErrUnavailable("model directory is empty")
	}
	baseURL, err := a.ensureProcess(modelDir)
	if err != nil {
		return nil, err
	}
	inner, err := NewServerAdapter(baseURL, "", 0, 5*time.Second).Start(modelDir, params)
	if err != nil {
		return nil, err
	}
	return &spawnSession{inner: inner, a: a}, nil
}

// ProcInfo returns a snapshot of the spawned process for modelDir, if any.
func (a *spawnAdapter) ProcInfo(modelDir string) (pid, port int, ready, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p := a.procs[modelDir]; p != nil {
		return p.pid, p.port, p.ready, true
	}
	return 0, 0, false, false
}

// isHealthy checks whether the engine at baseURL responds OK to /v1/models.
func (a *spawnAdapter) isHealthy(baseURL string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, p))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", host+":0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	_, portStr, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}

// spawnArgs renders the engine argv for a model directory.
func (a *spawnAdapter) spawnArgs(modelDir, host string, port int) []string {
	args := []string{
		"serve", modelDir,
		"--host", host,
		"--port", fmt.Sprint(port),
	}
	if a.cfg.GPUMemUtil > 0 {
		args = append(args, "--gpu-memory-utilization", strconv.FormatFloat(a.cfg.GPUMemUtil, 'f', -1, 64))
	}
	if a.cfg.MaxModelLen > 0 {
		args = append(args, "--max-model-len", fmt.Sprint(a.cfg.MaxModelLen))
	}
	if len(a.cfg.ExtraArgs) > 0 {
		args = append(args, a.cfg.ExtraArgs...)
	}
	return args
}

// ensureProcess starts (or returns the existing) engine server for modelDir
// and waits for readiness.
func (a *spawnAdapter) ensureProcess(modelDir string) (string, error) {
	a.mu.Lock()
	if p := a.procs[modelDir]; p != nil {
		base := p.baseURL
		a.mu.Unlock()
		if a.isHealthy(base, 1*time.Second) {
			a.mu.Lock()
			if q := a.procs[modelDir]; q != nil {
				q.ready = true
			}
			a.mu.Unlock()
			return base, nil
		}
		// unhealthy: drop and restart
		_ = a.Stop(modelDir)
		a.mu.Lock()
	}
	a.mu.Unlock()

	host := a.cfg.Host
	var port int
	var err error
	if a.cfg.PortStart > 0 && a.cfg.PortEnd >= a.cfg.PortStart {
		port, err = pickPortInRange(host, a.cfg.PortStart, a.cfg.PortEnd)
	} else {
		port, err = pickFreePort(host)
	}
	if err != nil {
		return "", err
	}
	baseURL := fmt.Sprintf("http://%s:%d", host, port)

	cmd := exec.Command(a.cfg.Bin, a.spawnArgs(modelDir, host, port)...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("CUDA_VISIBLE_DEVICES=%d", a.cfg.Device))
	// Capture stderr for diagnostics; the tail is included on failure.
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		spawnFailures.WithLabelValues("start").Inc()
		return "", ErrUnavailable(fmt.Sprintf("start engine %s: %v", a.cfg.Bin, err))
	}
	spawnsTotal.Inc()
	log.Printf("engine=spawn event=start model=%q pid=%d host=%s port=%d", modelDir, cmd.Process.Pid, host, port)

	a.mu.Lock()
	a.procs[modelDir] = &procInfo{cmd: cmd, baseURL: baseURL, port: port, ready: false, pid: cmd.Process.Pid}
	a.mu.Unlock()

	// Early-exit watcher: surface non-zero exit before readiness.
	waitErrCh := make(chan error, 1)
	go func() {
		waitErrCh <- cmd.Wait()
	}()

	deadline := time.Now().Add(a.cfg.ReadyWait)
	for {
		if time.Now().After(deadline) {
			a.mu.Lock()
			delete(a.procs, modelDir)
			a.mu.Unlock()
			_ = cmd.Process.Kill()
			spawnFailures.WithLabelValues("timeout").Inc()
			log.Printf("engine=spawn event=timeout model=%q pid=%d", modelDir, cmd.Process.Pid)
			return "", notReadyError{url: baseURL}
		}
		select {
		case werr := <-waitErrCh:
			tail := stderr.String()
			if len(tail) > 4096 {
				tail = tail[len(tail)-4096:]
			}
			a.mu.Lock()
			delete(a.procs, modelDir)
			a.mu.Unlock()
			spawnFailures.WithLabelValues("exit_early").Inc()
			if werr != nil {
				log.Printf("engine=spawn event=exit_early model=%q pid=%d err=%v", modelDir, cmd.Process.Pid, werr)
				return "", ErrUnavailable(fmt.Sprintf("engine exited early: %v; stderr tail: %s", werr, tail))
			}
			log.Printf("engine=spawn event=exit_clean model=%q pid=%d before_ready=1", modelDir, cmd.Process.Pid)
			return "", ErrUnavailable("engine exited before ready: " + baseURL)
		default:
		}

		if a.isHealthy(baseURL, 1*time.Second) {
			log.Printf("engine=spawn event=ready model=%q pid=%d url=%s", modelDir, cmd.Process.Pid, baseURL)
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	a.mu.Lock()
	if p := a.procs[modelDir]; p != nil {
		p.ready = true
	}
	a.mu.Unlock()
	return baseURL, nil
}

// Stop terminates the spawned engine for modelDir, if present.
func (a *spawnAdapter) Stop(modelDir string) error {
	a.mu.Lock()
	p := a.procs[modelDir]
	a.mu.Unlock()
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	// SIGTERM first, then kill after a short grace period.
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_, _ = p.cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
		_, _ = p.cmd.Process.Wait()
	}
	a.mu.Lock()
	delete(a.procs, modelDir)
	a.mu.Unlock()
	log.Printf("engine=spawn event=stop model=%q", modelDir)
	return nil
}

// StopAll terminates all managed engines. Best effort.
func (a *spawnAdapter) StopAll() {
	a.mu.Lock()
	dirs := make([]string, 0, len(a.procs))
	for k := range a.procs {
		dirs = append(dirs, k)
	}
	a.mu.Unlock()
	for _, d := range dirs {
		_ = a.Stop(d)
	}
}
