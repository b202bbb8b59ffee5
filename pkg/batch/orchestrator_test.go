package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kazeguide/pkg/config"
	"kazeguide/pkg/faults"
	"kazeguide/pkg/location"
	"kazeguide/pkg/model"
	"kazeguide/pkg/pipeline"
)

// stubRunner succeeds for every request unless the name is listed in fail.
type stubRunner struct {
	mu    sync.Mutex
	seen  []string
	fail  map[string]bool
	delay time.Duration
}

func (s *stubRunner) Run(_ context.Context, req pipeline.Request) model.LocationResult {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	s.seen = append(s.seen, req.Location.Name)
	s.mu.Unlock()

	if s.fail[req.Location.Name] {
		return model.LocationResult{
			Location:  req.Location.Name,
			ErrorKind: string(faults.LLMError),
		}
	}
	return model.LocationResult{
		Location: req.Location.Name,
		Success:  true,
		Comment:  "テスト " + req.Location.Name,
	}
}

func testOrchestrator(t *testing.T, cfg config.BatchConfig, r Runner) *Orchestrator {
	t.Helper()
	idx := location.NewIndex(location.DefaultCatalogue())
	return New(cfg, idx, r, nil, "mock")
}

func target() time.Time {
	return time.Date(2026, 8, 25, 0, 0, 0, 0, model.JST)
}

func TestRunCountsInvariant(t *testing.T) {
	runner := &stubRunner{fail: map[string]bool{"大阪": true}}
	o := testOrchestrator(t, config.BatchConfig{MaxWorkers: 4}, runner)

	res := o.Run(context.Background(), []string{"東京", "大阪", "名古屋", "未知の地点"}, target(), nil)

	assert.Equal(t, 4, res.TotalCount)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 2, res.FailedCount)
	assert.Len(t, res.Results, 4)
	assert.Equal(t, res.TotalCount, res.SuccessCount+res.FailedCount)
	assert.NotEmpty(t, res.RunID)
}

func TestRunUnknownLocationFailsFast(t *testing.T) {
	runner := &stubRunner{}
	o := testOrchestrator(t, config.BatchConfig{MaxWorkers: 2}, runner)

	res := o.Run(context.Background(), []string{"存在しない街"}, target(), nil)

	require.Len(t, res.Results, 1)
	lr := res.Results[0]
	assert.False(t, lr.Success)
	assert.Equal(t, string(faults.LocationNotFound), lr.ErrorKind)
	assert.Equal(t, "地点が見つかりません", lr.ErrorMessage)
	assert.Empty(t, runner.seen, "unresolvable specs never reach a worker")
}

func TestRunCoordinateSpecBypassesCatalogue(t *testing.T) {
	runner := &stubRunner{}
	o := testOrchestrator(t, config.BatchConfig{MaxWorkers: 2}, runner)

	res := o.Run(context.Background(), []string{"基地,24.290000,153.980000"}, target(), nil)

	require.Len(t, res.Results, 1)
	assert.True(t, res.Results[0].Success)
	assert.Equal(t, []string{"基地"}, runner.seen)
}

func TestRunBadCoordinateSpec(t *testing.T) {
	o := testOrchestrator(t, config.BatchConfig{MaxWorkers: 2}, &stubRunner{})
	res := o.Run(context.Background(), []string{"変,abc,139.0"}, target(), nil)

	require.Len(t, res.Results, 1)
	assert.Equal(t, string(faults.ValidationError), res.Results[0].ErrorKind)
}

func TestRunDeterministicOrdering(t *testing.T) {
	specs := []string{"東京", "大阪", "名古屋", "札幌", "福岡", "仙台", "広島", "高松"}
	runner := &stubRunner{delay: time.Millisecond}
	o := testOrchestrator(t, config.BatchConfig{MaxWorkers: 8, Deterministic: true}, runner)

	res := o.Run(context.Background(), specs, target(), nil)

	require.Len(t, res.Results, len(specs))
	for i, spec := range specs {
		assert.Equal(t, spec, res.Results[i].Location)
	}
}

func TestRunSingleWorkerMatchesParallel(t *testing.T) {
	specs := []string{"東京", "大阪", "名古屋", "札幌"}

	serial := testOrchestrator(t, config.BatchConfig{MaxWorkers: 1, Deterministic: true}, &stubRunner{})
	parallel := testOrchestrator(t, config.BatchConfig{MaxWorkers: 8, Deterministic: true}, &stubRunner{})

	a := serial.Run(context.Background(), specs, target(), nil)
	b := parallel.Run(context.Background(), specs, target(), nil)

	require.Equal(t, len(a.Results), len(b.Results))
	for i := range a.Results {
		assert.Equal(t, a.Results[i].Location, b.Results[i].Location)
		assert.Equal(t, a.Results[i].Success, b.Results[i].Success)
		assert.Equal(t, a.Results[i].Comment, b.Results[i].Comment)
	}
}

func TestWorkersBounds(t *testing.T) {
	o := testOrchestrator(t, config.BatchConfig{MaxWorkers: 4}, &stubRunner{})
	assert.Equal(t, 1, o.Workers(1))
	assert.Equal(t, 2, o.Workers(2))
	assert.LessOrEqual(t, o.Workers(100), 4)
	assert.GreaterOrEqual(t, o.Workers(100), 1)
}

func TestRunProgressCallback(t *testing.T) {
	var (
		mu      sync.Mutex
		indices []int
	)
	progress := func(completed, total int, name string) {
		mu.Lock()
		indices = append(indices, completed)
		mu.Unlock()
		assert.Equal(t, 3, total)
		assert.NotEmpty(t, name)
	}

	o := testOrchestrator(t, config.BatchConfig{MaxWorkers: 2}, &stubRunner{})
	o.Run(context.Background(), []string{"東京", "大阪", "名古屋"}, target(), progress)

	// Zero-based: first completion reports 0, last reports total-1.
	assert.Equal(t, []int{0, 1, 2}, indices)
}

func TestRunProgressPanicIsContained(t *testing.T) {
	progress := func(int, int, string) { panic("listener bug") }
	o := testOrchestrator(t, config.BatchConfig{MaxWorkers: 2}, &stubRunner{})

	res := o.Run(context.Background(), []string{"東京", "大阪"}, target(), progress)
	assert.Equal(t, 2, res.SuccessCount)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := testOrchestrator(t, config.BatchConfig{MaxWorkers: 1}, &stubRunner{})
	res := o.Run(ctx, []string{"東京", "大阪"}, target(), nil)

	assert.Equal(t, 2, res.TotalCount)
	assert.Equal(t, 2, res.FailedCount)
	for _, lr := range res.Results {
		assert.Equal(t, string(faults.TimeoutError), lr.ErrorKind)
	}
}

func TestRunEmptyInput(t *testing.T) {
	o := testOrchestrator(t, config.BatchConfig{MaxWorkers: 4}, &stubRunner{})
	res := o.Run(context.Background(), nil, target(), nil)

	assert.Equal(t, 0, res.TotalCount)
	assert.Empty(t, res.Results)
	assert.NotEmpty(t, res.RunID)
}
