package models

// Stage names used in status artifacts and events
const (
	StageFetch   = "api_fetch"
	StageProcess = "data_process"
	StageLoad    = "db_import"
)

// Run outcomes
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusInterrupted = "interrupted"
)

// RunStatus is the terminal artifact every stage writes, {stage}_status.json or {stage}_error.json
type RunStatus struct {
	RunID          string         `json:"run_id"`
	Stage          string         `json:"stage"`
	Status         string         `json:"status"`
	Timestamp      string         `json:"timestamp"`
	RuntimeSeconds float64        `json:"runtime_seconds"`
	Error          string         `json:"error,omitempty"`
	ConfigFile     string         `json:"config_file,omitempty"`
	Counts         map[string]int `json:"counts,omitempty"`
	Skipped        []string       `json:"skipped"`
}

// RunStatusEvent is the message payload published to RabbitMQ when a stage ends
type RunStatusEvent struct {
	Event  string    `json:"event"` // stage.finished
	Status RunStatus `json:"status"`
}

// ProcessedFileMetadata describes one canonical output file
type ProcessedFileMetadata struct {
	Type      string   `json:"type"`
	RowCount  int      `json:"row_count"`
	Columns   []string `json:"columns"`
	FilePath  string   `json:"file_path"`
	CreatedAt string   `json:"created_at"`
}
