package evaluate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kazeguide/pkg/llm"
	"kazeguide/pkg/model"
)

func dryContext() llm.WeatherContext {
	return llm.WeatherContext{
		LocationName: "東京",
		TargetDate:   time.Date(2026, 8, 25, 0, 0, 0, 0, model.JST),
		Forecasts: &model.ForecastCollection{Forecasts: []model.Forecast{
			{DateTime: time.Date(2026, 8, 25, 9, 0, 0, 0, model.JST), Temperature: 28, WeatherDesc: "晴れ"},
		}},
	}
}

func rainyContext() llm.WeatherContext {
	wc := dryContext()
	wc.Forecasts.Forecasts[0].PrecipitationMM = 2.5
	wc.Forecasts.Forecasts[0].WeatherDesc = "雨"
	return wc
}

func TestModeThresholds(t *testing.T) {
	assert.Equal(t, 0.80, ModeStrict.Threshold())
	assert.Equal(t, 0.60, ModeModerate.Threshold())
	assert.Equal(t, 0.40, ModeRelaxed.Threshold())
	assert.Equal(t, 0.60, Mode("bogus").Threshold())
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeStrict, ParseMode("STRICT"))
	assert.Equal(t, ModeRelaxed, ParseMode(" relaxed "))
	assert.Equal(t, ModeModerate, ParseMode(""))
	assert.Equal(t, ModeModerate, ParseMode("whatever"))
}

func TestEvaluateConsistentPairPasses(t *testing.T) {
	e := New(ModeStrict)
	res := e.Evaluate(dryContext(), model.CommentPair{
		WeatherComment: "夏空が広がります",
		AdviceComment:  "水分補給を忘れずに",
	})
	require.True(t, res.IsValid)
	assert.Equal(t, 1.0, res.Score)
	assert.Empty(t, res.Reasons)
}

func TestEvaluateEmptyCommentFails(t *testing.T) {
	e := New(ModeRelaxed)
	res := e.Evaluate(dryContext(), model.CommentPair{
		WeatherComment: "",
		AdviceComment:  "水分補給を",
	})
	assert.False(t, res.IsValid)
	require.NotEmpty(t, res.Reasons)
	assert.Contains(t, res.Reasons[0], "nonempty_length")
}

func TestEvaluateRainMismatchPenalized(t *testing.T) {
	e := New(ModeStrict)

	// Rain mentioned on a dry day drops consistency to 0.5 of its two
	// weight units: (2 + 1 + 1) / 5 = 0.8.
	res := e.Evaluate(dryContext(), model.CommentPair{
		WeatherComment: "雨が降りやすい空",
		AdviceComment:  "傘をお持ちください",
	})
	assert.InDelta(t, 0.8, res.Score, 1e-9)
	require.NotEmpty(t, res.Reasons)
	assert.Contains(t, res.Reasons[0], "forecast_consistency")

	// The same pair on a rainy day scores clean.
	res = e.Evaluate(rainyContext(), model.CommentPair{
		WeatherComment: "雨が降りやすい空",
		AdviceComment:  "傘をお持ちください",
	})
	assert.True(t, res.IsValid)
	assert.Equal(t, 1.0, res.Score)
	assert.Empty(t, res.Reasons)
}

func TestEvaluateRainOmissionPassesModerate(t *testing.T) {
	e := New(ModeModerate)
	// Missing the rain theme costs 0.5 on one of five weight units:
	// (2 + 0.5*2 + 1) / 5 = 0.8, above moderate but below nothing strict.
	res := e.Evaluate(rainyContext(), model.CommentPair{
		WeatherComment: "蒸し暑い一日",
		AdviceComment:  "水分補給を",
	})
	assert.True(t, res.IsValid)
	assert.InDelta(t, 0.8, res.Score, 1e-9)
	assert.NotEmpty(t, res.Reasons)
}

func TestEvaluateIdenticalPairPenalized(t *testing.T) {
	// pair_distinct alone zeroes one of five weight units: 4/5 = 0.8, which
	// still clears moderate. Stacked with a rain mismatch it drops to
	// (2 + 1 + 0) / 5 = 0.6 and fails strict.
	e := New(ModeModerate)
	res := e.Evaluate(dryContext(), model.CommentPair{
		WeatherComment: "同じ文",
		AdviceComment:  "同じ文",
	})
	assert.True(t, res.IsValid)
	assert.Contains(t, res.Reasons[len(res.Reasons)-1], "pair_distinct")

	strict := New(ModeStrict)
	res = strict.Evaluate(dryContext(), model.CommentPair{
		WeatherComment: "雨の同じ文",
		AdviceComment:  "雨の同じ文",
	})
	assert.False(t, res.IsValid)
	assert.InDelta(t, 0.6, res.Score, 1e-9)
}

func TestEvaluateNoForecastStaysNeutral(t *testing.T) {
	e := New(ModeStrict)
	res := e.Evaluate(llm.WeatherContext{}, model.CommentPair{
		WeatherComment: "穏やかな空",
		AdviceComment:  "お出かけ日和",
	})
	assert.True(t, res.IsValid)
}

func TestRegisterCustomCriterion(t *testing.T) {
	e := New(ModeModerate)
	e.Register(func(_ llm.WeatherContext, _ model.CommentPair) CriterionScore {
		return CriterionScore{Name: "always_zero", Weight: 100, Score: 0, Reason: "nope"}
	})
	res := e.Evaluate(dryContext(), model.CommentPair{
		WeatherComment: "晴れ",
		AdviceComment:  "散歩日和",
	})
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Reasons[len(res.Reasons)-1], "always_zero")
}
