package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpalmerr/pulseproxy/internal/store"
)

// DefaultMaxConcurrency is the worker pool size when none is configured.
const DefaultMaxConcurrency = 10

// ProbeFunc probes a single target. It must not panic and must always return
// a result, success or failure.
type ProbeFunc func(ctx context.Context, t TargetInfo) store.ProbeResult

// FanOut runs fn against every target using at most concurrency workers and
// waits for all of them to settle. One failure never cancels the others.
//
// The snapshot holds exactly one entry per target name, and TakenAt is
// stamped once the last probe settles. Targets not yet started when ctx is
// cancelled are recorded as failed rather than left out.
func FanOut(ctx context.Context, targets []TargetInfo, concurrency int, fn ProbeFunc) store.Snapshot {
	if concurrency <= 0 {
		concurrency = DefaultMaxConcurrency
	}
	if concurrency > len(targets) {
		concurrency = len(targets)
	}

	jobs := make(chan TargetInfo, len(targets))
	for _, t := range targets {
		jobs <- t
	}
	close(jobs)

	var (
		mu      sync.Mutex
		results = make(map[string]store.ProbeResult, len(targets))
		wg      sync.WaitGroup
	)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				var result store.ProbeResult
				if err := ctx.Err(); err != nil {
					result = cancelledResult(t, err)
				} else {
					result = fn(ctx, t)
				}

				mu.Lock()
				results[t.Name] = result
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return store.Snapshot{
		Results: results,
		TakenAt: time.Now(),
	}
}

func cancelledResult(t TargetInfo, err error) store.ProbeResult {
	return store.ProbeResult{
		Name:      t.Name,
		Kind:      t.Kind,
		URL:       t.URL(t.HealthPath),
		Error:     fmt.Sprintf("probe not started: %v", err),
		CheckedAt: time.Now(),
	}
}

// CheckAll runs [Prober.Check] against every target concurrently.
func (p *Prober) CheckAll(ctx context.Context, targets []TargetInfo, concurrency int) store.Snapshot {
	return FanOut(ctx, targets, concurrency, p.Check)
}

// ProbeAll probes path on every target concurrently under one shared timeout,
// without status extraction or scraping.
func (p *Prober) ProbeAll(ctx context.Context, targets []TargetInfo, path string, timeout time.Duration, concurrency int) store.Snapshot {
	return FanOut(ctx, targets, concurrency, func(ctx context.Context, t TargetInfo) store.ProbeResult {
		return p.Probe(ctx, t, path, timeout)
	})
}
