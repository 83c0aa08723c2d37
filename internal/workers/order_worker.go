package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"shopetl/internal/artifact"
	"shopetl/internal/httpclient"
	"shopetl/internal/normalize"
	"shopetl/internal/plenty"
	"shopetl/models"
)

const (
	// MaxReportPages stops a report sequence that never signals its end
	MaxReportPages = 50
	// maxServerRetries bounds consecutive 429/5xx retries of the same page
	maxServerRetries = 10
)

// OrderWorker fetches the raw-data report files of one date, page by page,
// resuming from the checkpoint left by an earlier run.
type OrderWorker struct {
	env *Env
}

func NewOrderWorker(env *Env) *OrderWorker {
	return &OrderWorker{env: env}
}

// FetchDate fetches every report type for date, in order, pausing between types
func (w *OrderWorker) FetchDate(ctx context.Context, date time.Time) error {
	day := date.Format(time.DateOnly)
	slog.Info("📦 Fetching reports", "date", day)

	for i, rt := range models.ReportTypes {
		cp, err := w.FetchReport(ctx, date, rt)
		if err != nil {
			return fmt.Errorf("failed to fetch %s for %s: %w", rt, day, err)
		}
		slog.Info("✓ Report fetched", "date", day, "type", rt, "pages", cp.PagesProcessed)

		if i < len(models.ReportTypes)-1 {
			if err := w.env.sleep(ctx, w.env.Pauses.BetweenTypes); err != nil {
				return err
			}
		}
	}
	return nil
}

// FetchReport walks the page sequence of one (date, report type) until the
// server signals its end, writing each page and the checkpoint to disk.
// The returned checkpoint is the final one, with Completed set.
func (w *OrderWorker) FetchReport(ctx context.Context, date time.Time, rt models.ReportType) (models.FetchCheckpoint, error) {
	day := date.Format(time.DateOnly)
	store := w.env.Checkpoints

	cp, ok, err := store.Load(day, rt)
	if err != nil {
		slog.Warn("Unreadable checkpoint, starting at page 1", "date", day, "type", rt, "error", err)
		cp, ok = models.FetchCheckpoint{}, false
	}
	page := 1
	if ok && cp.PagesProcessed > 0 {
		page = cp.PagesProcessed + 1
		slog.Info("Resuming report", "date", day, "type", rt, "page", page)
	}
	cp.Type, cp.Date, cp.Version = rt, day, rt.Version()
	cp.Completed = false

	dir := w.env.Layout.DateDir(day)
	retries := 0

loop:
	for {
		if page > MaxReportPages {
			slog.Warn("Page limit reached, stopping", "date", day, "type", rt, "limit", MaxReportPages)
			w.env.Metrics.ReportPage(string(rt), "limit")
			break
		}

		path := plenty.ReportPath(rt, w.env.ShopID, date, page)
		resp, err := w.env.API.RawDataFile(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return cp, ctx.Err()
			}
			if errors.Is(err, httpclient.ErrNoResponse) {
				slog.Warn("No response, ending report", "date", day, "type", rt, "page", page)
				w.env.Metrics.ReportPage(string(rt), "no_response")
				break
			}
			return cp, err
		}

		switch code := resp.StatusCode; {
		case code == http.StatusOK:
			retries = 0
			text, enc, err := normalize.DecodeText(resp.Body, normalize.EncodingUTF8, normalize.EncodingLatin1)
			if err != nil {
				slog.Error("Undecodable page skipped", "date", day, "type", rt, "page", page, "error", err)
				w.env.Metrics.ReportPage(string(rt), "decode_error")
				page++
				continue
			}

			name := fmt.Sprintf("%s_page_%d.csv", rt, page)
			if enc == normalize.EncodingLatin1 {
				name = fmt.Sprintf("%s_page_%d_latin1.csv", rt, page)
				cp.Encoding = enc
			}
			if err := artifact.WriteFile(filepath.Join(dir, name), []byte(text)); err != nil {
				return cp, err
			}

			cp.PagesProcessed = page
			cp.LastUpdate = w.env.timestamp()
			if err := store.Save(cp); err != nil {
				return cp, err
			}
			w.env.Metrics.ReportPage(string(rt), "ok")
			slog.Debug("Page saved", "date", day, "type", rt, "page", page, "bytes", len(text), "encoding", enc)
			page++

		case code == http.StatusNotFound:
			w.env.Metrics.ReportPage(string(rt), "end")
			break loop

		case code == http.StatusInternalServerError:
			// 500 is how the endpoint reports a missing page too; a real fault
			// here truncates the report for this date.
			slog.Warn("Status 500 treated as end of report, pages after this one may be missing",
				"date", day, "type", rt, "page", page)
			w.env.Metrics.ReportPage(string(rt), "end")
			break loop

		case code == http.StatusTooManyRequests:
			w.env.Metrics.ReportPage(string(rt), "rate_limited")
			if retries++; retries > maxServerRetries {
				slog.Error("Rate limited too often, ending report", "date", day, "type", rt, "page", page)
				break loop
			}
			if err := w.env.sleep(ctx, w.env.Pauses.RateLimited); err != nil {
				return cp, err
			}

		case code >= 400 && code < 500:
			slog.Warn("Page skipped", "date", day, "type", rt, "page", page, "status", code)
			w.env.Metrics.ReportPage(string(rt), "skipped")
			retries = 0
			page++

		default:
			w.env.Metrics.ReportPage(string(rt), "server_error")
			if retries++; retries > maxServerRetries {
				slog.Error("Server errors persist, ending report", "date", day, "type", rt, "page", page, "status", code)
				break loop
			}
			slog.Warn("Server error, retrying page", "date", day, "type", rt, "page", page, "status", code)
			if err := w.env.sleep(ctx, w.env.Pauses.ServerError); err != nil {
				return cp, err
			}
		}
	}

	cp.Completed = true
	cp.PagesProcessed = page - 1
	cp.LastUpdate = w.env.timestamp()
	if err := store.Save(cp); err != nil {
		return cp, err
	}
	return cp, nil
}
