package runtime

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pescn/psy-data-gen/coreengine/session"
)

// BatchResult is the outcome of one session of a batch.
type BatchResult struct {
	Index    int
	Snapshot *session.Snapshot
	Err      error
}

// Failed reports whether the session should be retried.
func (r BatchResult) Failed() bool {
	return r.Err != nil || r.Snapshot == nil || r.Snapshot.TerminationReason.IsFailure()
}

// BatchSummary aggregates a finished batch.
type BatchSummary struct {
	Total      int                               `json:"total"`
	Failed     int                               `json:"failed"`
	ByReason   map[session.TerminationReason]int `json:"by_reason"`
	DurationMS int                               `json:"duration_ms"`
}

// RunBatch runs inputs with at most concurrency sessions in flight. Inputs
// without an explicit seed get the configured seed offset by their index, so a
// seeded batch is reproducible regardless of scheduling.
//
// With WithPrepare, each input is prepared inside its own slot, so
// preparation shares the concurrency limit with the sessions.
//
// Session failures are reported per result and never stop the batch. The
// returned error is non-nil only when ctx was cancelled.
func (o *Orchestrator) RunBatch(ctx context.Context, inputs []SessionInput, concurrency int) ([]BatchResult, BatchSummary, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	start := time.Now()
	results := make([]BatchResult, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, in := range inputs {
		if gctx.Err() != nil {
			break
		}
		if in.Seed == nil {
			seed := o.cfg.SeedFor(i)
			in.Seed = &seed
		}
		g.Go(func() error {
			if o.prepare != nil {
				prepared, err := SafeExecuteWithResult(o.logger, "prepare_session", func() (SessionInput, error) {
					return o.prepare(gctx, i, in)
				})
				if err != nil {
					results[i] = BatchResult{Index: i, Err: fmt.Errorf("prepare session %d: %w", i, err)}
					o.logger.Warn("batch_session_failed", "index", i, "stage", "prepare", "error", err.Error())
					return nil
				}
				in = prepared
			}
			snap, err := o.Run(gctx, in)
			results[i] = BatchResult{Index: i, Snapshot: snap, Err: err}
			if err != nil {
				o.logger.Warn("batch_session_failed", "index", i, "error", err.Error())
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := BatchSummary{
		Total:      len(inputs),
		ByReason:   make(map[session.TerminationReason]int),
		DurationMS: int(time.Since(start).Milliseconds()),
	}
	for i := range results {
		if results[i].Snapshot == nil && results[i].Err == nil {
			results[i] = BatchResult{Index: i, Err: ctx.Err()}
		}
		if results[i].Failed() {
			summary.Failed++
		}
		if snap := results[i].Snapshot; snap != nil {
			summary.ByReason[snap.TerminationReason]++
		}
	}

	o.logger.Info("batch_completed",
		"total", summary.Total,
		"failed", summary.Failed,
		"duration_ms", summary.DurationMS,
	)
	return results, summary, ctx.Err()
}
