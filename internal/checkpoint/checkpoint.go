package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"shopetl/internal/artifact"
	"shopetl/models"
)

const statusFile = "historical_fetch_status.json"

// Store reads and writes fetch progress under the data dir.
// It assumes a single writer per (date, report type).
type Store struct {
	layout artifact.Layout
}

func NewStore(layout artifact.Layout) *Store {
	return &Store{layout: layout}
}

func (s *Store) path(date string, t models.ReportType) string {
	return filepath.Join(s.layout.DateDir(date), string(t)+"_metadata.json")
}

// Load returns the checkpoint for (date, t); ok is false when none exists yet.
func (s *Store) Load(date string, t models.ReportType) (cp models.FetchCheckpoint, ok bool, err error) {
	err = artifact.ReadJSON(s.path(date, t), &cp)
	if errors.Is(err, os.ErrNotExist) {
		return models.FetchCheckpoint{}, false, nil
	}
	if err != nil {
		return models.FetchCheckpoint{}, false, err
	}
	return cp, true, nil
}

func (s *Store) Save(cp models.FetchCheckpoint) error {
	if err := artifact.WriteJSON(s.path(cp.Date, cp.Type), cp); err != nil {
		return fmt.Errorf("failed to save checkpoint %s/%s: %w", cp.Date, cp.Type, err)
	}
	return nil
}

// DateCompleted reports whether every report type for date has a completed checkpoint.
// Unreadable checkpoints count as incomplete.
func (s *Store) DateCompleted(date string) bool {
	for _, t := range models.ReportTypes {
		cp, ok, err := s.Load(date, t)
		if err != nil || !ok || !cp.Completed {
			return false
		}
	}
	return true
}

// ProcessedSet is the set of dates fully fetched for all report types
type ProcessedSet map[string]struct{}

func (p ProcessedSet) Has(date string) bool {
	_, ok := p[date]
	return ok
}

func (p ProcessedSet) Add(date string) { p[date] = struct{}{} }

func (p ProcessedSet) Sorted() []string {
	out := make([]string, 0, len(p))
	for d := range p {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// LoadProcessed reads historical_fetch_status.json; a missing file yields an empty set.
func (s *Store) LoadProcessed() (ProcessedSet, error) {
	var doc models.ProcessedDates
	set := ProcessedSet{}
	err := artifact.ReadJSON(s.layout.Path(statusFile), &doc)
	if errors.Is(err, os.ErrNotExist) {
		return set, nil
	}
	if err != nil {
		return nil, err
	}
	for _, d := range doc.ProcessedDates {
		set.Add(d)
	}
	return set, nil
}

func (s *Store) SaveProcessed(set ProcessedSet) error {
	return artifact.WriteJSON(s.layout.Path(statusFile), models.ProcessedDates{ProcessedDates: set.Sorted()})
}
