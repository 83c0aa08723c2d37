package workers

import (
	"context"
	"fmt"
	"log/slog"

	"shopetl/internal/artifact"
	"shopetl/internal/normalize"
	"shopetl/models"
)

// ExternalWorker downloads the catalog CSV published outside the shop API
type ExternalWorker struct {
	env *Env
}

func NewExternalWorker(env *Env) *ExternalWorker {
	return &ExternalWorker{env: env}
}

// Fetch downloads url, stores it as UTF-8 in external_data.csv and writes its metadata
func (w *ExternalWorker) Fetch(ctx context.Context, url string) (models.ExternalDataMetadata, error) {
	resp, err := w.env.API.Download(ctx, url)
	if err != nil {
		return models.ExternalDataMetadata{}, fmt.Errorf("failed to download external csv: %w", err)
	}

	text, enc, err := normalize.DecodeText(resp.Body, normalize.EncodingUTF8, normalize.EncodingLatin1)
	if err != nil {
		return models.ExternalDataMetadata{}, err
	}
	if err := artifact.WriteFile(w.env.Layout.Path("external_data.csv"), []byte(text)); err != nil {
		return models.ExternalDataMetadata{}, err
	}

	meta := models.ExternalDataMetadata{
		URL:       url,
		SizeBytes: len(resp.Body),
		Encoding:  enc,
		Timestamp: w.env.timestamp(),
	}
	if err := artifact.WriteJSON(w.env.Layout.Path("external_data_metadata.json"), meta); err != nil {
		return meta, err
	}
	slog.Info("✓ External CSV saved", "bytes", meta.SizeBytes, "encoding", enc)
	return meta, nil
}
