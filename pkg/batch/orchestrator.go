// Package batch fans a list of location specs over a worker pool of
// pipeline executors and aggregates the per-location results.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kazeguide/pkg/config"
	"kazeguide/pkg/faults"
	"kazeguide/pkg/location"
	"kazeguide/pkg/model"
	"kazeguide/pkg/pipeline"
)

// Runner is the per-location executor slice the orchestrator drives.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) model.LocationResult
}

// Progress is invoked after each location completes with the zero-based
// index of the completion (0 for the first, total-1 for the last), the
// total, and the location name.
type Progress func(completed, total int, name string)

// Orchestrator turns location specs into a BatchResult.
type Orchestrator struct {
	index    *location.Index
	runner   Runner
	fetcher  pipeline.ForecastProvider // only used for prefetch
	provider string

	maxWorkers    int
	deterministic bool
	prefetch      bool
}

// New creates an Orchestrator. fetcher may be nil when prefetch is off.
func New(cfg config.BatchConfig, idx *location.Index, runner Runner, fetcher pipeline.ForecastProvider, provider string) *Orchestrator {
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 16
	}
	return &Orchestrator{
		index:         idx,
		runner:        runner,
		fetcher:       fetcher,
		provider:      provider,
		maxWorkers:    maxWorkers,
		deterministic: cfg.Deterministic,
		prefetch:      cfg.PreFetch,
	}
}

// Workers returns the pool size for n locations:
// min(max(2*NumCPU, 1), maxWorkers, n).
func (o *Orchestrator) Workers(n int) int {
	w := 2 * runtime.NumCPU()
	if w < 1 {
		w = 1
	}
	if w > o.maxWorkers {
		w = o.maxWorkers
	}
	if w > n {
		w = n
	}
	if w < 1 {
		w = 1
	}
	return w
}

// job pairs a resolved request with its input position.
type job struct {
	idx int
	req pipeline.Request
}

// Run processes the specs and returns the aggregate. The returned result
// always satisfies SuccessCount+FailedCount == TotalCount == len(Results).
func (o *Orchestrator) Run(ctx context.Context, specs []string, targetDate time.Time, progress Progress) *model.BatchResult {
	start := time.Now()
	res := &model.BatchResult{
		RunID:      uuid.NewString(),
		TotalCount: len(specs),
	}
	if len(specs) == 0 {
		return res
	}

	slog.Info("Batch: starting run", "run_id", res.RunID, "locations", len(specs), "workers", o.Workers(len(specs)))

	// Resolve every spec up front so unresolvable names fail fast without
	// occupying a worker.
	jobs := make([]job, 0, len(specs))
	resolved := make([]model.LocationResult, len(specs))
	pending := make([]bool, len(specs))
	for i, spec := range specs {
		req, err := o.resolve(spec, targetDate)
		if err != nil {
			kind := faults.KindOf(err)
			resolved[i] = model.LocationResult{
				Location:     strings.TrimSpace(spec),
				Success:      false,
				ErrorKind:    string(kind),
				ErrorMessage: faults.Message(kind, "ja"),
			}
			continue
		}
		pending[i] = true
		jobs = append(jobs, job{idx: i, req: req})
	}

	if o.prefetch && o.fetcher != nil {
		o.prefetchForecasts(ctx, jobs, targetDate)
	}

	var (
		mu        sync.Mutex
		completed int
		order     []int // completion order, used when not deterministic
	)
	notify := func(idx int, name string) {
		if progress == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				slog.Warn("Batch: progress callback panicked", "panic", r)
			}
		}()
		progress(idx, len(specs), name)
	}

	jobCh := make(chan job)
	var wg sync.WaitGroup
	for w := 0; w < o.Workers(len(jobs)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				var lr model.LocationResult
				if ctx.Err() != nil {
					// Cancelled while queued.
					lr = model.LocationResult{
						Location:     j.req.RawName,
						Success:      false,
						ErrorKind:    string(faults.TimeoutError),
						ErrorMessage: faults.Message(faults.TimeoutError, "ja"),
					}
				} else {
					lr = o.runner.Run(ctx, j.req)
				}
				mu.Lock()
				resolved[j.idx] = lr
				pending[j.idx] = false
				order = append(order, j.idx)
				notify(completed, lr.Location)
				completed++
				mu.Unlock()
			}
		}()
	}
	for _, j := range jobs {
		jobCh <- j
	}
	close(jobCh)
	wg.Wait()

	// Safety net: anything still pending (cannot normally happen) becomes a
	// classified failure so the count invariant holds.
	for i := range pending {
		if pending[i] {
			resolved[i] = model.LocationResult{
				Location:     strings.TrimSpace(specs[i]),
				Success:      false,
				ErrorKind:    string(faults.SystemError),
				ErrorMessage: faults.Message(faults.SystemError, "ja"),
			}
		}
	}

	if o.deterministic {
		res.Results = resolved
	} else {
		// Pre-resolved failures first (their order is input order), then
		// completion order.
		done := make(map[int]bool, len(order))
		for _, i := range order {
			done[i] = true
		}
		for i := range resolved {
			if !done[i] {
				res.Results = append(res.Results, resolved[i])
			}
		}
		for _, i := range order {
			res.Results = append(res.Results, resolved[i])
		}
	}

	for _, lr := range res.Results {
		if lr.Success {
			res.SuccessCount++
		} else {
			res.FailedCount++
		}
	}
	res.ProcessingTimeMS = time.Since(start).Milliseconds()

	slog.Info("Batch: run finished", "run_id", res.RunID,
		"success", res.SuccessCount, "failed", res.FailedCount,
		"elapsed_ms", res.ProcessingTimeMS)
	return res
}

// resolve turns a spec into a pipeline request. Specs are either a bare
// name resolved through the catalogue, or "name,lat,lon" with explicit
// coordinates that bypass it.
func (o *Orchestrator) resolve(spec string, targetDate time.Time) (pipeline.Request, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return pipeline.Request{}, faults.Errorf(faults.LocationNotFound, "batch.resolve", "empty location spec")
	}

	parts := strings.Split(spec, ",")
	if len(parts) == 3 {
		name := strings.TrimSpace(parts[0])
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if errLat != nil || errLon != nil {
			return pipeline.Request{}, faults.Errorf(faults.ValidationError, "batch.resolve",
				"bad coordinates in spec %q", spec)
		}
		loc := &model.Location{
			Name:           name,
			NormalizedName: location.Normalize(name),
			Lat:            lat,
			Lon:            lon,
			HasCoords:      true,
		}
		return pipeline.Request{
			Location:   loc,
			RawName:    name,
			TargetDate: targetDate,
			Provider:   o.provider,
		}, nil
	}

	loc := o.index.Lookup(spec)
	if loc == nil {
		return pipeline.Request{}, faults.Errorf(faults.LocationNotFound, "batch.resolve",
			"unknown location %q", spec)
	}
	return pipeline.Request{
		Location:   loc,
		RawName:    spec,
		TargetDate: targetDate,
		Provider:   o.provider,
	}, nil
}

// prefetchForecasts warms the forecast cache for each distinct coordinate
// pair before the pool starts, bounded to the worker count. Failures are
// ignored here; the pipeline retries and classifies them properly.
func (o *Orchestrator) prefetchForecasts(ctx context.Context, jobs []job, targetDate time.Time) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Workers(len(jobs)))

	seen := make(map[string]bool, len(jobs))
	for i := range jobs {
		loc := jobs[i].req.Location
		key := fmt.Sprintf("%.6f,%.6f", loc.Lat, loc.Lon)
		if seen[key] {
			continue
		}
		seen[key] = true
		g.Go(func() error {
			if _, err := o.fetcher.Fetch(gctx, loc.Name, loc.Lat, loc.Lon, targetDate); err != nil {
				slog.Debug("Batch: prefetch failed", "location", loc.Name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
