package workers

import (
	"context"
	"fmt"
	"time"

	"shopetl/internal/artifact"
	"shopetl/internal/checkpoint"
	"shopetl/internal/httpclient"
	"shopetl/internal/metrics"
	"shopetl/internal/plenty"
)

// Pauses are the fixed waits that keep the pipeline under the shop's rate limits
type Pauses struct {
	BetweenTypes    time.Duration // between report types of one date
	AfterDate       time.Duration
	AfterDateError  time.Duration // daily mode
	HistoricalError time.Duration // historical mode
	BetweenBlocks   time.Duration // between blocks of historical dates
	RateLimited     time.Duration // report endpoint answered 429
	ServerError     time.Duration // report endpoint answered 5xx other than 500
	PageError       time.Duration // barcode worker after a failed page
}

func DefaultPauses() Pauses {
	return Pauses{
		BetweenTypes:    5 * time.Second,
		AfterDate:       10 * time.Second,
		AfterDateError:  30 * time.Second,
		HistoricalError: 60 * time.Second,
		BetweenBlocks:   60 * time.Second,
		RateLimited:     60 * time.Second,
		ServerError:     30 * time.Second,
		PageError:       10 * time.Second,
	}
}

// Env carries everything the fetchers share during one run
type Env struct {
	API         *plenty.Client
	Layout      artifact.Layout
	Checkpoints *checkpoint.Store
	ShopID      string
	Pauses      Pauses
	Sleeper     httpclient.Sleeper
	Metrics     *metrics.Recorder
	Now         func() time.Time
}

func NewEnv(api *plenty.Client, layout artifact.Layout, shopID string) *Env {
	return &Env{
		API:         api,
		Layout:      layout,
		Checkpoints: checkpoint.NewStore(layout),
		ShopID:      shopID,
		Pauses:      DefaultPauses(),
		Sleeper:     httpclient.RealSleeper,
		Now:         time.Now,
	}
}

func (e *Env) sleep(ctx context.Context, d time.Duration) error {
	return e.Sleeper.Sleep(ctx, d)
}

func (e *Env) timestamp() string {
	return e.Now().Format(time.RFC3339)
}

// Authenticate logs in and stores the token in bearer_token.json
func Authenticate(ctx context.Context, env *Env, username, password string) error {
	tok, err := env.API.Login(ctx, username, password)
	if err != nil {
		return err
	}
	if err := artifact.WriteJSON(env.Layout.Path("bearer_token.json"), tok); err != nil {
		return fmt.Errorf("failed to save bearer token: %w", err)
	}
	return nil
}
