package extract

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kwextract/internal/engine"
	"kwextract/internal/records"
)

// RunConfig holds tunables for one extraction run.
type RunConfig struct {
	Input    string
	Output   string
	ModelDir string

	K           int
	BatchSize   int
	MaxTokens   int
	Temperature float64
	TopP        float64
	KeepRaw     bool
}

// State values reported in Progress.
const (
	StateLoading = "loading"
	StateRunning = "running"
	StateDone    = "done"
	StateError   = "error"
)

// Progress is a read-only snapshot of a run.
type Progress struct {
	RunID     string
	State     string
	Total     int
	Processed int
	Batches   int
	Keywords  int
	StartedAt time.Time
	Err       string
}

// Runner drives the extraction pipeline: read records, complete one prompt
// per row against the engine, back-fill keywords, write the output file.
type Runner struct {
	adapter engine.Adapter
	cfg     RunConfig
	log     zerolog.Logger

	mu       sync.Mutex
	progress Progress
}

// NewRunner constructs a Runner. Defaults: batch size 16, max tokens 128,
// about 10 keywords per record.
func NewRunner(adapter engine.Adapter, cfg RunConfig, log zerolog.Logger) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 128
	}
	if cfg.K <= 0 {
		cfg.K = 10
	}
	return &Runner{
		adapter: adapter,
		cfg:     cfg,
		log:     log,
		progress: Progress{
			RunID:     uuid.NewString(),
			State:     StateLoading,
			StartedAt: time.Now(),
		},
	}
}

// Snapshot returns the current progress.
func (r *Runner) Snapshot() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

func (r *Runner) update(fn func(p *Progress)) {
	r.mu.Lock()
	fn(&r.progress)
	r.mu.Unlock()
}

// Ready reports whether the run has left the loading state.
func (r *Runner) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress.State != StateLoading
}

// Run executes the pipeline to completion or first error.
func (r *Runner) Run(ctx context.Context) error {
	err := r.run(ctx)
	if err != nil {
		r.update(func(p *Progress) {
			p.State = StateError
			p.Err = err.Error()
		})
		return err
	}
	r.update(func(p *Progress) { p.State = StateDone })
	return nil
}

func (r *Runner) run(ctx context.Context) error {
	rows, err := records.ReadFile(r.cfg.Input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	r.update(func(p *Progress) { p.Total = len(rows) })
	r.log.Info().Str("run_id", r.progress.RunID).Int("rows", len(rows)).
		Str("model", r.cfg.ModelDir).Msg("extraction start")

	sess, err := r.adapter.Start(r.cfg.ModelDir, engine.Params{
		Temperature: r.cfg.Temperature,
		TopP:        r.cfg.TopP,
		MaxTokens:   r.cfg.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer sess.Close()

	r.update(func(p *Progress) { p.State = StateRunning })

	for start := 0; start < len(rows); start += r.cfg.BatchSize {
		end := start + r.cfg.BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := r.runBatch(ctx, sess, rows[start:end]); err != nil {
			return err
		}
		r.update(func(p *Progress) {
			p.Batches++
			p.Processed = end
		})
	}

	if err := records.WriteFile(r.cfg.Output, rows); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	r.log.Info().Str("run_id", r.progress.RunID).Int("rows", len(rows)).
		Str("output", r.cfg.Output).Msg("extraction done")
	return nil
}

// runBatch completes all rows of one batch concurrently. The engine does its
// own request batching server-side; the client just keeps it busy.
func (r *Runner) runBatch(ctx context.Context, sess engine.Session, batch []records.Record) error {
	started := time.Now()
	var wg sync.WaitGroup
	errCh := make(chan error, len(batch))
	for _, rec := range batch {
		wg.Add(1)
		go func(rec records.Record) {
			defer wg.Done()
			if err := r.extractOne(ctx, sess, rec); err != nil {
				errCh <- err
			}
		}(rec)
	}
	wg.Wait()
	batchDuration.Observe(time.Since(started).Seconds())
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (r *Runner) extractOne(ctx context.Context, sess engine.Session, rec records.Record) error {
	answer := rec.Answer()
	if answer == "" {
		rec.SetKeywords([]string{})
		r.bump(0)
		return nil
	}
	prompt := BuildPrompt(answer, r.cfg.K, rec.Lang())
	res, err := sess.Complete(ctx, prompt, nil)
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	kws, fallback := parseKeywords(res.Content)
	if fallback {
		parseFallbacks.Inc()
		r.log.Debug().Str("run_id", r.progress.RunID).Msg("keyword output was not a JSON array, used fallback parse")
	}
	rec.SetKeywords(kws)
	if r.cfg.KeepRaw {
		rec.SetRaw(res.Content)
	}
	r.bump(len(kws))
	return nil
}

func (r *Runner) bump(keywords int) {
	recordsProcessed.Inc()
	keywordsExtracted.Add(float64(keywords))
	r.update(func(p *Progress) { p.Keywords += keywords })
}
