package workers

import (
	"context"
	"log/slog"
	"time"

	"shopetl/internal/checkpoint"
)

// HistoricalBlockSize is the number of dates fetched between long pauses
const HistoricalBlockSize = 10

// DefaultHistoricalStart is the first date of a full historical fetch
var DefaultHistoricalStart = time.Date(2010, time.January, 1, 0, 0, 0, 0, time.UTC)

// Runner drives OrderWorker over ranges of dates, one date at a time
type Runner struct {
	env    *Env
	orders *OrderWorker
}

func NewRunner(env *Env, orders *OrderWorker) *Runner {
	return &Runner{env: env, orders: orders}
}

// Result counts what a run did
type Result struct {
	Fetched int // dates fetched successfully
	Skipped int // dates already processed
	Failed  int
}

// FetchRecentDays fetches yesterday and the days before it, days dates in total
func (r *Runner) FetchRecentDays(ctx context.Context, days int) (Result, error) {
	var res Result
	today := truncateDay(r.env.Now())

	for i := 1; i <= days; i++ {
		date := today.AddDate(0, 0, -i)
		pause := r.env.Pauses.AfterDate

		if err := r.orders.FetchDate(ctx, date); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			slog.Error("Date failed", "date", date.Format(time.DateOnly), "error", err)
			res.Failed++
			pause = r.env.Pauses.AfterDateError
		} else {
			res.Fetched++
		}

		if i < days {
			if err := r.env.sleep(ctx, pause); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

// FetchHistorical walks from yesterday back to start, newest first, in blocks.
// Dates already in historical_fetch_status.json are skipped, and dates whose
// three checkpoints are complete are recorded without any request.
func (r *Runner) FetchHistorical(ctx context.Context, start time.Time) (Result, error) {
	var res Result
	store := r.env.Checkpoints

	processed, err := store.LoadProcessed()
	if err != nil {
		return res, err
	}

	dates := datesBack(truncateDay(r.env.Now()).AddDate(0, 0, -1), truncateDay(start))
	slog.Info("🚀 Historical fetch", "dates", len(dates), "already_processed", len(processed))

	fetchedInBlock := false
	for i, date := range dates {
		if i > 0 && i%HistoricalBlockSize == 0 && fetchedInBlock {
			slog.Info("Block done, pausing", "done", i, "remaining", len(dates)-i)
			if err := r.env.sleep(ctx, r.env.Pauses.BetweenBlocks); err != nil {
				return res, err
			}
			fetchedInBlock = false
		}

		day := date.Format(time.DateOnly)
		if processed.Has(day) {
			res.Skipped++
			continue
		}
		if store.DateCompleted(day) {
			processed.Add(day)
			if err := store.SaveProcessed(processed); err != nil {
				return res, err
			}
			res.Skipped++
			continue
		}

		fetchedInBlock = true
		if err := r.fetchOne(ctx, date, processed); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			slog.Error("Date failed", "date", day, "error", err)
			res.Failed++
			if err := r.env.sleep(ctx, r.env.Pauses.HistoricalError); err != nil {
				return res, err
			}
			continue
		}
		res.Fetched++
		if err := r.env.sleep(ctx, r.env.Pauses.AfterDate); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (r *Runner) fetchOne(ctx context.Context, date time.Time, processed checkpoint.ProcessedSet) error {
	if err := r.orders.FetchDate(ctx, date); err != nil {
		return err
	}
	day := date.Format(time.DateOnly)
	if !r.env.Checkpoints.DateCompleted(day) {
		slog.Warn("Date fetched but not all reports completed", "date", day)
		return nil
	}
	processed.Add(day)
	return r.env.Checkpoints.SaveProcessed(processed)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// datesBack lists from, from-1, ... down to and including to
func datesBack(from, to time.Time) []time.Time {
	var out []time.Time
	to = time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, from.Location())
	for d := from; !d.Before(to); d = d.AddDate(0, 0, -1) {
		out = append(out, d)
	}
	return out
}
