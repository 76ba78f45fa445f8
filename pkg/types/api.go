package types

// RunStatus is returned by GET /status while a pipeline run is active.
type RunStatus struct {
	// Unique identifier of this run.
	// example: 7b1c9a4e-0f1d-4c2a-9a3e-1d2f3a4b5c6d
	RunID string `json:"run_id" example:"7b1c9a4e-0f1d-4c2a-9a3e-1d2f3a4b5c6d"`
	// Current run state (loading, running, done, error).
	// example: running
	State string `json:"state" example:"running"`
	// Input JSONL path.
	Input string `json:"input"`
	// Output JSONL path.
	Output string `json:"output"`
	// Model directory served by the engine.
	Model string `json:"model"`
	// Total records read from the input file.
	// example: 1200
	TotalRecords int `json:"total_records" example:"1200"`
	// Records completed so far.
	// example: 640
	ProcessedRecords int `json:"processed_records" example:"640"`
	// Batches completed so far.
	// example: 40
	BatchesDone int `json:"batches_done" example:"40"`
	// Keywords extracted so far across all records.
	// example: 5120
	KeywordsTotal int `json:"keywords_total" example:"5120"`
	// Process ID of the spawned engine, when spawn mode is active.
	// example: 12345
	EnginePID int `json:"engine_pid,omitempty" example:"12345"`
	// TCP port of the spawned engine, when spawn mode is active.
	// example: 30001
	EnginePort int `json:"engine_port,omitempty" example:"30001"`
	// Uptime of the run in seconds.
	// example: 93
	UptimeSeconds int64 `json:"uptime_seconds" example:"93"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Last error observed, if any.
	Error string `json:"error,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
