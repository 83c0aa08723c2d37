package runstatus

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shopetl/internal/artifact"
	"shopetl/models"
)

type fakePublisher struct {
	events []models.RunStatusEvent
	err    error
}

func (f *fakePublisher) Publish(ctx context.Context, evt models.RunStatusEvent) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.events = append(f.events, evt)
	return f.err
}

func newReporter(t *testing.T) (*Reporter, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	clock := time.Date(2024, time.March, 2, 8, 0, 0, 0, time.UTC)
	r := &Reporter{
		Dir:       t.TempDir(),
		Publisher: pub,
		Now: func() time.Time {
			clock = clock.Add(30 * time.Second)
			return clock
		},
	}
	return r, pub
}

func TestFinishSuccess(t *testing.T) {
	r, pub := newReporter(t)
	run := r.Start(models.StageFetch, "config.ini")
	run.Count("days_processed", 2)
	run.Count("days_processed", 1)
	run.Skip("external")
	require.Equal(t, 3, run.Counted("days_processed"))

	st, err := run.Finish(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, st.Status)
	require.Equal(t, 30.0, st.RuntimeSeconds)

	var onDisk models.RunStatus
	require.NoError(t, artifact.ReadJSON(filepath.Join(r.Dir, "api_fetch_status.json"), &onDisk))
	require.Equal(t, 3, onDisk.Counts["days_processed"])
	require.Equal(t, []string{"external"}, onDisk.Skipped)
	require.Equal(t, run.ID(), onDisk.RunID)

	require.Len(t, pub.events, 1)
	require.Equal(t, "stage.finished", pub.events[0].Event)
}

func TestFinishError(t *testing.T) {
	r, _ := newReporter(t)
	run := r.Start(models.StageLoad, "")

	st, err := run.Finish(context.Background(), errors.New("connection refused"))
	require.NoError(t, err)
	require.Equal(t, models.StatusError, st.Status)
	require.FileExists(t, filepath.Join(r.Dir, "db_import_error.json"))
	require.NoFileExists(t, filepath.Join(r.Dir, "db_import_status.json"))
}

func TestFinishInterruptedStillPublishes(t *testing.T) {
	r, pub := newReporter(t)
	run := r.Start(models.StageProcess, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st, err := run.Finish(ctx, fmt.Errorf("fetch: %w", context.Canceled))
	require.NoError(t, err)
	require.Equal(t, models.StatusInterrupted, st.Status)
	require.Len(t, pub.events, 1)
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	r, pub := newReporter(t)
	pub.err = errors.New("channel closed")

	_, err := r.Start(models.StageFetch, "").Finish(context.Background(), nil)
	require.NoError(t, err)
}

func TestExitCode(t *testing.T) {
	require.Equal(t, ExitOK, ExitCode(nil))
	require.Equal(t, ExitError, ExitCode(errors.New("boom")))
	require.Equal(t, ExitInterrupted, ExitCode(fmt.Errorf("wrapped: %w", context.Canceled)))
}
