package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"shopetl/internal/artifact"
	"shopetl/models"
)

// ErrBarcodeGroupMissing is returned when WG1 or WG2 is not defined in the shop
var ErrBarcodeGroupMissing = errors.New("barcode group not found")

const (
	// MaxVariationPages caps the variation pages fetched regardless of lastPageNumber
	MaxVariationPages = 1000
	workerTimeout     = 2 * time.Hour
	snapshotEvery     = 50
)

// BarcodeWorker collects the WG1/WG2 barcodes of every variation.
// Pages after the first are split across a pool of workers.
type BarcodeWorker struct {
	env           *Env
	workers       int
	workerTimeout time.Duration
}

func NewBarcodeWorker(env *Env, workers int) *BarcodeWorker {
	if workers < 1 {
		workers = 1
	}
	return &BarcodeWorker{env: env, workers: workers, workerTimeout: workerTimeout}
}

// Run resolves the group ids, fetches all variation pages and writes
// all_variation_barcodes.json. It returns the number of entries collected.
func (w *BarcodeWorker) Run(ctx context.Context) (int, error) {
	wg1, wg2, err := w.ResolveGroupIDs(ctx)
	if err != nil {
		return 0, err
	}
	entries, err := w.FetchVariations(ctx, wg1, wg2)
	if err != nil {
		return 0, err
	}

	summary := models.VariationBarcodeSummary{
		TotalCount: len(entries),
		Timestamp:  w.env.timestamp(),
		Entries:    entries,
	}
	if err := artifact.WriteJSON(w.env.Layout.Path("all_variation_barcodes.json"), summary); err != nil {
		return 0, err
	}
	w.env.Metrics.BarcodeEntries(len(entries))
	slog.Info("✓ Variation barcodes saved", "entries", len(entries))
	return len(entries), nil
}

// ResolveGroupIDs looks up the ids of the WG1 and WG2 barcode groups
func (w *BarcodeWorker) ResolveGroupIDs(ctx context.Context) (wg1, wg2 int64, err error) {
	page, raw, err := w.env.API.BarcodeDefinitions(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch barcode definitions: %w", err)
	}
	if err := artifact.WriteFile(w.env.Layout.Path("all_barcodes.json"), raw); err != nil {
		return 0, 0, err
	}
	if !page.IsLastPage {
		slog.Warn("Barcode definitions span more than one page, only the first is used",
			"total", page.TotalCount)
	}

	byName := make(map[string]int64, len(page.Entries))
	for _, def := range page.Entries {
		byName[def.Name] = def.ID
	}
	if err := artifact.WriteJSON(w.env.Layout.Path("barcode_map.json"), byName); err != nil {
		return 0, 0, err
	}

	var ok1, ok2 bool
	wg1, ok1 = byName["WG1"]
	wg2, ok2 = byName["WG2"]
	if !ok1 {
		return 0, 0, fmt.Errorf("WG1: %w", ErrBarcodeGroupMissing)
	}
	if !ok2 {
		return 0, 0, fmt.Errorf("WG2: %w", ErrBarcodeGroupMissing)
	}
	slog.Info("✓ Barcode groups resolved", "wg1", wg1, "wg2", wg2)
	return wg1, wg2, nil
}

// FetchVariations fetches page 1, then the remaining pages in parallel chunks.
// Entry order across chunks is not defined.
func (w *BarcodeWorker) FetchVariations(ctx context.Context, wg1, wg2 int64) ([]models.BarcodeEntry, error) {
	first := w.fetchPage(ctx, 1, wg1, wg2)
	if first.Error != "" {
		return nil, fmt.Errorf("failed to fetch variation page 1: %s", first.Error)
	}

	lastPage := first.LastPage
	if lastPage > MaxVariationPages {
		slog.Warn("Variation pages capped", "reported", lastPage, "cap", MaxVariationPages)
		lastPage = MaxVariationPages
	}
	slog.Info("🚀 Fetching variation pages", "pages", lastPage, "total", first.Total, "workers", w.workers)

	entries := first.Entries
	if lastPage <= 1 {
		return entries, nil
	}

	chunks := splitPages(2, lastPage, w.workers)
	results := make(chan []models.BarcodeEntry, len(chunks))

	var g errgroup.Group
	for i, chunk := range chunks {
		id, chunk := i+1, chunk
		g.Go(func() error {
			wctx, cancel := context.WithTimeout(ctx, w.workerTimeout)
			defer cancel()

			batch, err := w.fetchChunk(wctx, id, chunk, wg1, wg2)
			if err != nil {
				slog.Error("Barcode worker stopped, its entries are lost",
					"worker", id, "from", chunk[0], "to", chunk[1], "error", err)
				return fmt.Errorf("worker %d (pages %d-%d): %w", id, chunk[0], chunk[1], err)
			}
			results <- batch
			return nil
		})
	}
	// Wait returns the first worker failure; the batches of the others are kept.
	if err := g.Wait(); err != nil {
		slog.Warn("Variation barcodes are incomplete", "error", err)
	}
	close(results)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for batch := range results {
		entries = append(entries, batch...)
	}
	return entries, nil
}

// fetchChunk fetches pages chunk[0]..chunk[1] in order
func (w *BarcodeWorker) fetchChunk(ctx context.Context, id int, chunk [2]int, wg1, wg2 int64) ([]models.BarcodeEntry, error) {
	slog.Debug("Barcode worker started", "worker", id, "from", chunk[0], "to", chunk[1])

	var batch []models.BarcodeEntry
	for p := chunk[0]; p <= chunk[1]; p++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vp := w.fetchPage(ctx, p, wg1, wg2)
		if vp.Error != "" {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			slog.Warn("Variation page failed", "worker", id, "page", p, "error", vp.Error)
			if err := w.env.sleep(ctx, w.env.Pauses.PageError); err != nil {
				return nil, err
			}
			continue
		}
		batch = append(batch, vp.Entries...)
	}

	slog.Debug("Barcode worker done", "worker", id, "entries", len(batch))
	return batch, nil
}

func (w *BarcodeWorker) fetchPage(ctx context.Context, page int, wg1, wg2 int64) models.VariationPage {
	resp, err := w.env.API.Variations(ctx, page)
	if err != nil {
		return models.VariationPage{Page: page, Error: err.Error()}
	}

	vp := parseVariations(resp, wg1, wg2)
	vp.Page = page
	if page == 1 {
		if err := artifact.WriteJSON(w.env.Layout.Path("variation_barcodes_page_1_full.json"), resp); err != nil {
			slog.Warn("Failed to save page snapshot", "page", page, "error", err)
		}
	}
	if page == 1 || page%snapshotEvery == 0 {
		name := fmt.Sprintf("variation_barcodes_page_%d.json", page)
		if err := artifact.WriteJSON(w.env.Layout.Path(name), vp); err != nil {
			slog.Warn("Failed to save page snapshot", "page", page, "error", err)
		}
	}
	return vp
}

func parseVariations(resp *models.VariationResponse, wg1, wg2 int64) models.VariationPage {
	vp := models.VariationPage{
		Page:     resp.Page,
		LastPage: resp.LastPageNumber,
		Total:    resp.TotalsCount,
		Entries:  make([]models.BarcodeEntry, 0, len(resp.Entries)),
	}
	for _, v := range resp.Entries {
		e := models.BarcodeEntry{
			VariationID: v.ID,
			AllBarcodes: make(map[int64]string, len(v.VariationBarcodes)),
		}
		for _, b := range v.VariationBarcodes {
			code := b.Code
			e.AllBarcodes[b.BarcodeID] = code
			switch b.BarcodeID {
			case wg1:
				e.WG1 = &code
			case wg2:
				e.WG2 = &code
			}
		}
		vp.Entries = append(vp.Entries, e)
	}
	return vp
}

// splitPages divides from..to into n contiguous ranges whose sizes differ by at most one
func splitPages(from, to, n int) [][2]int {
	total := to - from + 1
	if total <= 0 {
		return nil
	}
	if n > total {
		n = total
	}
	size, extra := total/n, total%n

	chunks := make([][2]int, 0, n)
	start := from
	for i := 0; i < n; i++ {
		end := start + size - 1
		if i < extra {
			end++
		}
		chunks = append(chunks, [2]int{start, end})
		start = end + 1
	}
	return chunks
}
