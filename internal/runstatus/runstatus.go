package runstatus

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"shopetl/internal/artifact"
	"shopetl/internal/metrics"
	"shopetl/models"
)

// Exit codes of the CLI
const (
	ExitOK          = 0
	ExitError       = 1
	ExitInterrupted = 2
)

const publishTimeout = 10 * time.Second

// Publisher announces finished runs
type Publisher interface {
	Publish(ctx context.Context, evt models.RunStatusEvent) error
}

// Reporter writes the terminal status artifact of each stage
type Reporter struct {
	Dir       string
	Publisher Publisher // optional
	Metrics   *metrics.Recorder
	Now       func() time.Time
}

// Run accumulates counts for one stage execution
type Run struct {
	reporter   *Reporter
	id         string
	stage      string
	configFile string
	started    time.Time

	mu      sync.Mutex
	counts  map[string]int
	skipped []string
}

func (r *Reporter) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Reporter) Start(stage, configFile string) *Run {
	return &Run{
		reporter:   r,
		id:         uuid.NewString(),
		stage:      stage,
		configFile: configFile,
		started:    r.now(),
		counts:     map[string]int{},
		skipped:    []string{},
	}
}

func (run *Run) ID() string { return run.id }

func (run *Run) Count(key string, n int) {
	run.mu.Lock()
	defer run.mu.Unlock()
	run.counts[key] += n
}

func (run *Run) Skip(part string) {
	run.mu.Lock()
	defer run.mu.Unlock()
	run.skipped = append(run.skipped, part)
}

// Interrupted reports whether err comes from a cancelled run
func Interrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}

// ExitCode maps a run error to the process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case Interrupted(err):
		return ExitInterrupted
	default:
		return ExitError
	}
}

// Finish writes {stage}_status.json, or {stage}_error.json when runErr is set,
// and publishes the same document. Failures to publish are logged only.
func (run *Run) Finish(ctx context.Context, runErr error) (models.RunStatus, error) {
	r := run.reporter
	end := r.now()

	run.mu.Lock()
	st := models.RunStatus{
		RunID:          run.id,
		Stage:          run.stage,
		Status:         models.StatusSuccess,
		Timestamp:      end.Format(time.RFC3339),
		RuntimeSeconds: end.Sub(run.started).Seconds(),
		ConfigFile:     run.configFile,
		Counts:         run.counts,
		Skipped:        run.skipped,
	}
	run.mu.Unlock()

	name := run.stage + "_status.json"
	if runErr != nil {
		st.Status = models.StatusError
		if Interrupted(runErr) {
			st.Status = models.StatusInterrupted
		}
		st.Error = runErr.Error()
		name = run.stage + "_error.json"
	}

	r.Metrics.StageFinished(run.stage, st.Status, end.Sub(run.started))

	if err := artifact.WriteJSON(filepath.Join(r.Dir, name), st); err != nil {
		return st, err
	}

	if r.Publisher != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		evt := models.RunStatusEvent{Event: "stage.finished", Status: st}
		if err := r.Publisher.Publish(pctx, evt); err != nil {
			slog.Warn("Failed to publish status event", "stage", run.stage, "error", err)
		}
	}
	return st, nil
}

// Counted returns the current value of a counter
func (run *Run) Counted(key string) int {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.counts[key]
}
