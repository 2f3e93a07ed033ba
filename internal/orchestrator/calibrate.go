package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voicekit-labs/cascade/pkg/backend"
)

// ProbeResult is one backend's outcome from [Orchestrator.Calibrate].
type ProbeResult struct {
	Config   backend.Config
	Duration time.Duration
	RTF      float64
	Err      error
}

// Calibrate runs one timed probe per configured backend (primary plus chain)
// against the given sample clip and reports per-backend latency. It is an
// offline sizing aid for operators choosing a chain order before any request
// history exists — the request path itself never runs backends in parallel.
//
// Probes run concurrently using an [errgroup] and respect ctx for
// cancellation and deadline propagation. Per-backend failures are reported in
// the corresponding [ProbeResult], not returned; only context cancellation
// aborts calibration.
//
// Results are ordered primary first, then chain order.
func (o *Orchestrator) Calibrate(ctx context.Context, sampleRef string, sampleDuration time.Duration) ([]ProbeResult, error) {
	configs := append([]backend.Config{o.primary}, o.Chain()...)
	results := make([]ProbeResult, len(configs))

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for i, cfg := range configs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := o.probeOne(gctx, cfg, sampleRef, sampleDuration)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// probeOne runs a single timed inference against cfg.
func (o *Orchestrator) probeOne(ctx context.Context, cfg backend.Config, sampleRef string, sampleDuration time.Duration) ProbeResult {
	res := ProbeResult{Config: cfg}

	tr, err := o.cache.GetOrCreate(cfg)
	if err != nil {
		res.Err = err
		return res
	}

	start := time.Now()
	_, err = tr.Transcribe(ctx, sampleRef, cfg)
	res.Duration = time.Since(start)
	res.Err = err
	if err == nil {
		res.RTF = computeRTF(res.Duration, sampleDuration)
	}
	return res
}
