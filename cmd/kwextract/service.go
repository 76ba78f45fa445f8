package main

import (
	"time"

	"kwextract/internal/engine"
	"kwextract/internal/extract"
	"kwextract/pkg/types"
)

// procReporter is implemented by the spawn adapter; the attach adapter has no
// process to report on.
type procReporter interface {
	ProcInfo(modelDir string) (pid, port int, ready, ok bool)
}

// statusService adapts a Runner (plus the engine adapter) to the HTTP layer.
type statusService struct {
	runner  *extract.Runner
	adapter engine.Adapter
	cfg     extract.RunConfig
}

func newStatusService(runner *extract.Runner, adapter engine.Adapter, cfg extract.RunConfig) *statusService {
	return &statusService{runner: runner, adapter: adapter, cfg: cfg}
}

func (s *statusService) Ready() bool { return s.runner.Ready() }

func (s *statusService) Status() types.RunStatus {
	p := s.runner.Snapshot()
	st := types.RunStatus{
		RunID:            p.RunID,
		State:            p.State,
		Input:            s.cfg.Input,
		Output:           s.cfg.Output,
		Model:            s.cfg.ModelDir,
		TotalRecords:     p.Total,
		ProcessedRecords: p.Processed,
		BatchesDone:      p.Batches,
		KeywordsTotal:    p.Keywords,
		UptimeSeconds:    int64(time.Since(p.StartedAt).Seconds()),
		ServerTimeUnix:   time.Now().Unix(),
		Error:            p.Err,
	}
	if pr, ok := s.adapter.(procReporter); ok {
		if pid, port, _, running := pr.ProcInfo(s.cfg.ModelDir); running {
			st.EnginePID = pid
			st.EnginePort = port
		}
	}
	return st
}
