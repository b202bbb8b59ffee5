package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kazeguide/pkg/config"
	"kazeguide/pkg/evaluate"
	"kazeguide/pkg/faults"
	"kazeguide/pkg/forecast"
	"kazeguide/pkg/llm"
	"kazeguide/pkg/model"
)

// ForecastProvider is the slice of the forecast client the pipeline needs.
type ForecastProvider interface {
	Fetch(ctx context.Context, locationName string, lat, lon float64, targetDate time.Time) (*forecast.Result, error)
}

// CommentProvider is the slice of the comment repository the pipeline needs.
type CommentProvider interface {
	GetRecent(ctx context.Context, m time.Month, limit int) ([]model.ReferenceComment, error)
}

// Request describes one location run. PreFetched, when set, skips the
// forecast fetch inside the fan-out.
type Request struct {
	Location   *model.Location
	RawName    string
	TargetDate time.Time
	Provider   string
	PreFetched *forecast.Result
}

// Executor runs the workflow for one location at a time. It is stateless
// between runs and safe for concurrent use.
type Executor struct {
	forecasts ForecastProvider
	comments  CommentProvider
	selector  llm.Selector
	evaluator *evaluate.Evaluator

	maxRetries      int
	fanoutTimeout   time.Duration
	locationTimeout time.Duration
	candidateLimit  int
	unified         bool
}

// NewExecutor wires an Executor from its collaborators.
func NewExecutor(cfg config.PipelineConfig, fp ForecastProvider, cp CommentProvider, sel llm.Selector) *Executor {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	fanout := time.Duration(cfg.FanoutTimeout)
	if fanout <= 0 {
		fanout = 30 * time.Second
	}
	budget := time.Duration(cfg.LocationTimeout)
	if budget <= 0 {
		budget = 30 * time.Second
	}
	return &Executor{
		forecasts:       fp,
		comments:        cp,
		selector:        sel,
		evaluator:       evaluate.New(evaluate.ParseMode(cfg.EvaluationMode)),
		maxRetries:      maxRetries,
		fanoutTimeout:   fanout,
		locationTimeout: budget,
		candidateLimit:  100,
		unified:         true,
	}
}

// SetUnified switches between the unified path, where the selector's own
// final sentence is trusted, and the classic path, where the output stage
// always composes the sentence from the selected pair.
func (e *Executor) SetUnified(unified bool) { e.unified = unified }

// Run executes the workflow under the per-location time budget and always
// returns a result; failures are folded into the error taxonomy.
func (e *Executor) Run(ctx context.Context, req Request) model.LocationResult {
	done := make(chan model.LocationResult, 1)
	go func() {
		done <- e.run(ctx, req)
	}()

	select {
	case res := <-done:
		return res
	case <-time.After(e.locationTimeout):
		slog.Warn("Pipeline: location exceeded time budget", "location", req.RawName, "budget", e.locationTimeout)
		return model.LocationResult{
			Location:     req.RawName,
			Success:      false,
			ErrorKind:    string(faults.TimeoutError),
			ErrorMessage: faults.Message(faults.TimeoutError, "ja"),
		}
	case <-ctx.Done():
		return model.LocationResult{
			Location:     req.RawName,
			Success:      false,
			ErrorKind:    string(faults.TimeoutError),
			ErrorMessage: faults.Message(faults.TimeoutError, "ja"),
		}
	}
}

func (e *Executor) run(ctx context.Context, req Request) model.LocationResult {
	st := model.NewPipelineState(req.RawName, req.TargetDate, req.Provider)
	st.Location = req.Location
	st.WorkflowStart = time.Now()

	stages := []Stage{
		stageFunc{"input", e.inputStage(req)},
		stageFunc{"fanout", e.fanoutStage(req)},
		stageFunc{"select_pair", e.selectStage},
		stageFunc{"output", e.generateStage},
	}
	for _, stage := range stages {
		if err := runTimed(ctx, stage, st); err != nil {
			st.AddError(err.Error())
			return e.failure(req, st, stage.Name(), err)
		}
	}
	return e.success(req, st)
}

// inputStage checks that the request carries a resolvable location with
// usable coordinates and a sane target date.
func (e *Executor) inputStage(req Request) func(context.Context, *model.PipelineState) error {
	return func(_ context.Context, st *model.PipelineState) error {
		if req.Location == nil {
			return faults.Errorf(faults.LocationNotFound, "pipeline.input", "unknown location %q", req.RawName)
		}
		if !req.Location.HasCoords {
			return faults.Errorf(faults.LocationNotFound, "pipeline.input",
				"location %q has no coordinates", req.Location.Name)
		}
		if req.TargetDate.IsZero() {
			return faults.Errorf(faults.ValidationError, "pipeline.input", "target date is zero")
		}
		st.LocationName = req.Location.Name
		return nil
	}
}

// fanoutStage retrieves forecasts and reference comments concurrently.
// A forecast failure aborts the run; a comment failure degrades to a
// warning and an empty candidate set.
func (e *Executor) fanoutStage(req Request) func(context.Context, *model.PipelineState) error {
	return func(ctx context.Context, st *model.PipelineState) error {
		fanCtx, cancel := context.WithTimeout(ctx, e.fanoutTimeout)
		defer cancel()

		var (
			wg          sync.WaitGroup
			forecastErr error
			commentErr  error
			fres        *forecast.Result
			comments    []model.ReferenceComment
		)

		var fetchMS, retrieveMS int64
		wg.Add(2)
		go func() {
			defer wg.Done()
			start := time.Now()
			defer func() { fetchMS = time.Since(start).Milliseconds() }()
			if req.PreFetched != nil {
				fres = req.PreFetched
				return
			}
			fres, forecastErr = e.forecasts.Fetch(fanCtx, req.Location.Name,
				req.Location.Lat, req.Location.Lon, req.TargetDate)
		}()
		go func() {
			defer wg.Done()
			start := time.Now()
			defer func() { retrieveMS = time.Since(start).Milliseconds() }()
			comments, commentErr = e.comments.GetRecent(fanCtx,
				req.TargetDate.In(model.JST).Month(), e.candidateLimit)
		}()
		wg.Wait()
		st.NodeTimes["fetch_forecast"] = fetchMS
		st.NodeTimes["retrieve_comments"] = retrieveMS

		if forecastErr != nil {
			kind := faults.KindOf(forecastErr)
			if kind == faults.Unknown {
				kind = faults.WeatherFetch
			}
			if fres != nil {
				st.Metadata["retry_count_forecast"] = fres.Attempts - 1
			}
			return faults.New(kind, "pipeline.fanout", forecastErr)
		}
		st.WeatherData = fres.Collection
		st.Metadata["retry_count_forecast"] = maxInt(fres.Attempts-1, 0)
		st.Metadata["forecast_cache_hit"] = fres.CacheHit
		for _, w := range fres.Warnings {
			st.AddWarning(w)
		}

		if commentErr != nil {
			st.AddWarning(fmt.Sprintf("comment retrieval failed, proceeding without candidates: %v", commentErr))
			slog.Warn("Pipeline: comment retrieval failed", "location", req.Location.Name, "error", commentErr)
			comments = nil
		}
		st.PastComments = comments
		return nil
	}
}

// selectStage asks the selector for a pair and validates it, retrying up to
// maxRetries times on an invalid verdict. When every attempt stays invalid
// the last pair is carried forward with a warning rather than discarded.
func (e *Executor) selectStage(ctx context.Context, st *model.PipelineState) error {
	wc := llm.WeatherContext{
		LocationName: st.LocationName,
		TargetDate:   st.TargetDate,
		Forecasts:    st.WeatherData,
	}

	var (
		sel        *llm.Selection
		validation *model.ValidationResult
	)
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		st.RetryCount = attempt

		var err error
		sel, err = e.selector.SelectAndGenerate(ctx, wc, st.PastComments)
		if err != nil {
			kind := faults.KindOf(err)
			if kind == faults.Unknown {
				kind = faults.LLMError
			}
			return faults.New(kind, "pipeline.select", err)
		}

		pair := model.CommentPair{
			WeatherComment: sel.WeatherComment,
			AdviceComment:  sel.AdviceComment,
		}
		validation = sel.Validation
		if validation == nil {
			validation = e.evaluator.Evaluate(wc, pair)
		}
		if validation.IsValid {
			st.SelectedPair = &pair
			st.Validation = validation
			st.FinalComment = sel.FinalText
			return nil
		}
		slog.Debug("Pipeline: selection failed validation, retrying",
			"location", st.LocationName, "attempt", attempt, "score", validation.Score)
	}

	// Exhausted retries: keep the last pair, flag the weak validation.
	st.SelectedPair = &model.CommentPair{
		WeatherComment: sel.WeatherComment,
		AdviceComment:  sel.AdviceComment,
	}
	st.Validation = validation
	st.FinalComment = sel.FinalText
	st.AddWarning(fmt.Sprintf("validation did not pass after %d retries (score %.2f)",
		e.maxRetries, validation.Score))
	return nil
}

// generateStage assembles the final sentence. The classic path always
// composes it from the pair; the unified path only fills in when the
// selector left it empty.
func (e *Executor) generateStage(_ context.Context, st *model.PipelineState) error {
	if st.SelectedPair == nil {
		return faults.Errorf(faults.CommentGeneration, "pipeline.generate", "no pair selected")
	}
	if !e.unified || st.FinalComment == "" {
		st.FinalComment = st.SelectedPair.WeatherComment + " " + st.SelectedPair.AdviceComment
	}
	return nil
}

func (e *Executor) success(req Request, st *model.PipelineState) model.LocationResult {
	meta := e.outputMetadata(st)

	var sources []string
	seen := make(map[string]bool)
	for _, c := range st.PastComments {
		if c.SourceFile != "" && !seen[c.SourceFile] {
			seen[c.SourceFile] = true
			sources = append(sources, c.SourceFile)
		}
	}

	res := model.LocationResult{
		Location:      st.LocationName,
		Success:       true,
		Comment:       st.FinalComment,
		AdviceComment: st.SelectedPair.AdviceComment,
		Metadata:      meta,
		SourceFiles:   sources,
	}
	if out, err := json.Marshal(res); err == nil {
		meta["output_json"] = string(out)
	}
	return res
}

func (e *Executor) failure(req Request, st *model.PipelineState, stage string, err error) model.LocationResult {
	kind := faults.KindOf(err)
	if kind == faults.Unknown {
		// Untypable failures still land in a stage-appropriate bucket.
		switch stage {
		case "fanout":
			kind = faults.WeatherFetch
		case "select_pair":
			kind = faults.LLMError
		case "output":
			kind = faults.CommentGeneration
		}
	}
	slog.Error("Pipeline: location failed", "location", req.RawName, "stage", stage, "kind", kind, "error", err)
	return model.LocationResult{
		Location:     req.RawName,
		Success:      false,
		ErrorKind:    string(kind),
		ErrorMessage: faults.Message(kind, "ja"),
		Metadata:     e.outputMetadata(st),
	}
}

// outputMetadata folds the state bookkeeping into the result metadata.
func (e *Executor) outputMetadata(st *model.PipelineState) map[string]any {
	meta := make(map[string]any, len(st.Metadata)+4)
	for k, v := range st.Metadata {
		meta[k] = v
	}
	meta["execution_time_ms"] = time.Since(st.WorkflowStart).Milliseconds()
	meta["retry_count"] = st.RetryCount
	meta["node_execution_times"] = st.NodeTimes
	if st.Validation != nil {
		meta["validation_score"] = st.Validation.Score
	}
	if len(st.Warnings) > 0 {
		meta["warnings"] = st.Warnings
	}
	if st.WeatherData != nil {
		// Condition snapshot comes from the forecast nearest 09:00.
		at := time.Date(st.TargetDate.In(model.JST).Year(), st.TargetDate.In(model.JST).Month(),
			st.TargetDate.In(model.JST).Day(), 9, 0, 0, 0, model.JST)
		if f := st.WeatherData.Nearest(at); f != nil {
			meta["weather_condition"] = f.WeatherDesc
			meta["temperature"] = f.Temperature
		}
	}
	return meta
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
