package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kazeguide/pkg/config"
	"kazeguide/pkg/faults"
	"kazeguide/pkg/forecast"
	"kazeguide/pkg/llm"
	"kazeguide/pkg/model"
)

type stubForecasts struct {
	res   *forecast.Result
	err   error
	delay time.Duration
}

func (s *stubForecasts) Fetch(ctx context.Context, _ string, _, _ float64, _ time.Time) (*forecast.Result, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, faults.New(faults.TimeoutError, "stub.fetch", ctx.Err())
		}
	}
	return s.res, s.err
}

type stubComments struct {
	comments []model.ReferenceComment
	err      error
}

func (s *stubComments) GetRecent(context.Context, time.Month, int) ([]model.ReferenceComment, error) {
	return s.comments, s.err
}

func targetDate() time.Time {
	return time.Date(2026, 8, 25, 0, 0, 0, 0, model.JST)
}

func tokyo() *model.Location {
	return &model.Location{Name: "東京", Lat: 35.68, Lon: 139.65, HasCoords: true}
}

func sunnyForecast() *forecast.Result {
	return &forecast.Result{
		Collection: &model.ForecastCollection{
			LocationName: "東京",
			Forecasts: []model.Forecast{
				{DateTime: time.Date(2026, 8, 25, 9, 0, 0, 0, model.JST), Temperature: 28, WeatherDesc: "晴れ"},
				{DateTime: time.Date(2026, 8, 25, 12, 0, 0, 0, model.JST), Temperature: 31, WeatherDesc: "晴れ"},
			},
		},
		Attempts: 1,
	}
}

func candidates() []model.ReferenceComment {
	return []model.ReferenceComment{
		{Text: "夏空が広がります", Kind: model.KindWeatherComment, Count: 10, SourceFile: "summer_weather_comment.csv"},
		{Text: "水分補給を忘れずに", Kind: model.KindAdvice, Count: 8, SourceFile: "summer_advice.csv"},
	}
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		MaxRetries:      2,
		FanoutTimeout:   config.Duration(5 * time.Second),
		LocationTimeout: config.Duration(5 * time.Second),
		EvaluationMode:  "moderate",
	}
}

func TestRunSuccess(t *testing.T) {
	mock := &llm.Mock{}
	e := NewExecutor(testConfig(), &stubForecasts{res: sunnyForecast()}, &stubComments{comments: candidates()}, mock)

	res := e.Run(context.Background(), Request{
		Location: tokyo(), RawName: "東京", TargetDate: targetDate(), Provider: "mock",
	})

	require.True(t, res.Success, "error: %s %s", res.ErrorKind, res.ErrorMessage)
	assert.Equal(t, "東京", res.Location)
	assert.Equal(t, "夏空が広がります 水分補給を忘れずに", res.Comment)
	assert.Equal(t, "水分補給を忘れずに", res.AdviceComment)
	assert.ElementsMatch(t, []string{"summer_weather_comment.csv", "summer_advice.csv"}, res.SourceFiles)
	assert.Equal(t, 1, mock.Calls())

	require.NotNil(t, res.Metadata)
	assert.Equal(t, "晴れ", res.Metadata["weather_condition"])
	assert.Equal(t, 0, res.Metadata["retry_count_forecast"])
	assert.Contains(t, res.Metadata, "execution_time_ms")
	assert.Contains(t, res.Metadata, "output_json")

	times, ok := res.Metadata["node_execution_times"].(map[string]int64)
	require.True(t, ok, "per-stage timings keyed under node_execution_times")
	assert.Contains(t, times, "input")
	assert.Contains(t, times, "output")
}

func TestRunUnknownLocation(t *testing.T) {
	e := NewExecutor(testConfig(), &stubForecasts{}, &stubComments{}, &llm.Mock{})
	res := e.Run(context.Background(), Request{RawName: "どこか", TargetDate: targetDate()})

	assert.False(t, res.Success)
	assert.Equal(t, string(faults.LocationNotFound), res.ErrorKind)
	assert.NotEmpty(t, res.ErrorMessage)
}

func TestRunForecastFailureAborts(t *testing.T) {
	mock := &llm.Mock{}
	fp := &stubForecasts{err: faults.Errorf(faults.RateLimitError, "stub", "rate limit")}
	e := NewExecutor(testConfig(), fp, &stubComments{comments: candidates()}, mock)

	res := e.Run(context.Background(), Request{
		Location: tokyo(), RawName: "東京", TargetDate: targetDate(),
	})

	assert.False(t, res.Success)
	assert.Equal(t, string(faults.RateLimitError), res.ErrorKind)
	assert.Equal(t, 0, mock.Calls(), "the selector must not run without a forecast")
}

func TestRunUntaggedForecastErrorBucketsAsWeatherFetch(t *testing.T) {
	fp := &stubForecasts{err: errors.New("boom")}
	e := NewExecutor(testConfig(), fp, &stubComments{}, &llm.Mock{})

	res := e.Run(context.Background(), Request{
		Location: tokyo(), RawName: "東京", TargetDate: targetDate(),
	})
	assert.False(t, res.Success)
	assert.Equal(t, string(faults.WeatherFetch), res.ErrorKind)
}

func TestRunCommentFailureDegrades(t *testing.T) {
	cp := &stubComments{err: errors.New("csv exploded")}
	e := NewExecutor(testConfig(), &stubForecasts{res: sunnyForecast()}, cp, &llm.Mock{})

	res := e.Run(context.Background(), Request{
		Location: tokyo(), RawName: "東京", TargetDate: targetDate(),
	})

	require.True(t, res.Success, "comment failure degrades, it does not abort")
	assert.NotEmpty(t, res.Comment, "mock falls back to default comments")
	warnings, _ := res.Metadata["warnings"].([]string)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "comment retrieval failed")
}

func TestRunValidationRetries(t *testing.T) {
	mock := &llm.Mock{FailValidations: 2}
	e := NewExecutor(testConfig(), &stubForecasts{res: sunnyForecast()}, &stubComments{comments: candidates()}, mock)

	res := e.Run(context.Background(), Request{
		Location: tokyo(), RawName: "東京", TargetDate: targetDate(),
	})

	require.True(t, res.Success)
	assert.Equal(t, 3, mock.Calls(), "two invalid attempts then one valid")
	assert.Equal(t, 2, res.Metadata["retry_count"])
}

func TestRunValidationExhaustionCarriesLastPair(t *testing.T) {
	// MaxRetries 2 allows 3 attempts; all of them fail validation.
	mock := &llm.Mock{FailValidations: 10}
	e := NewExecutor(testConfig(), &stubForecasts{res: sunnyForecast()}, &stubComments{comments: candidates()}, mock)

	res := e.Run(context.Background(), Request{
		Location: tokyo(), RawName: "東京", TargetDate: targetDate(),
	})

	require.True(t, res.Success)
	assert.Equal(t, 3, mock.Calls())
	assert.NotEmpty(t, res.Comment)
	warnings, _ := res.Metadata["warnings"].([]string)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "validation did not pass")
}

func TestRunSelectorErrorClassified(t *testing.T) {
	mock := &llm.Mock{Err: errors.New("quota exceeded")}
	e := NewExecutor(testConfig(), &stubForecasts{res: sunnyForecast()}, &stubComments{comments: candidates()}, mock)

	res := e.Run(context.Background(), Request{
		Location: tokyo(), RawName: "東京", TargetDate: targetDate(),
	})
	assert.False(t, res.Success)
	assert.Equal(t, string(faults.LLMError), res.ErrorKind)
}

func TestRunLocationTimeBudget(t *testing.T) {
	cfg := testConfig()
	cfg.LocationTimeout = config.Duration(50 * time.Millisecond)
	fp := &stubForecasts{res: sunnyForecast(), delay: 2 * time.Second}
	e := NewExecutor(cfg, fp, &stubComments{comments: candidates()}, &llm.Mock{})

	start := time.Now()
	res := e.Run(context.Background(), Request{
		Location: tokyo(), RawName: "東京", TargetDate: targetDate(),
	})

	assert.False(t, res.Success)
	assert.Equal(t, string(faults.TimeoutError), res.ErrorKind)
	assert.Less(t, time.Since(start), time.Second, "the budget must cut the run short")
}

// trustingSelector returns a canned final sentence that differs from the
// pair composition, to expose which path assembled the output.
type trustingSelector struct{}

func (trustingSelector) SelectAndGenerate(context.Context, llm.WeatherContext, []model.ReferenceComment) (*llm.Selection, error) {
	return &llm.Selection{
		WeatherComment: "夏空",
		AdviceComment:  "水分補給を",
		FinalText:      "夏空のもと、水分補給を忘れずに。",
		Validation:     &model.ValidationResult{IsValid: true, Score: 0.9},
	}, nil
}

func TestRunUnifiedTrustsSelectorSentence(t *testing.T) {
	e := NewExecutor(testConfig(), &stubForecasts{res: sunnyForecast()}, &stubComments{}, trustingSelector{})

	res := e.Run(context.Background(), Request{
		Location: tokyo(), RawName: "東京", TargetDate: targetDate(),
	})
	require.True(t, res.Success)
	assert.Equal(t, "夏空のもと、水分補給を忘れずに。", res.Comment)
}

func TestRunClassicComposesFromPair(t *testing.T) {
	e := NewExecutor(testConfig(), &stubForecasts{res: sunnyForecast()}, &stubComments{}, trustingSelector{})
	e.SetUnified(false)

	res := e.Run(context.Background(), Request{
		Location: tokyo(), RawName: "東京", TargetDate: targetDate(),
	})
	require.True(t, res.Success)
	assert.Equal(t, "夏空 水分補給を", res.Comment)
}

func TestRunPreFetchedForecastSkipsFetch(t *testing.T) {
	fp := &stubForecasts{err: errors.New("must not be called")}
	e := NewExecutor(testConfig(), fp, &stubComments{comments: candidates()}, &llm.Mock{})

	pre := sunnyForecast()
	pre.CacheHit = true
	res := e.Run(context.Background(), Request{
		Location: tokyo(), RawName: "東京", TargetDate: targetDate(), PreFetched: pre,
	})

	require.True(t, res.Success)
	assert.Equal(t, true, res.Metadata["forecast_cache_hit"])
}
