// Package evaluate scores selected comment pairs against the forecast.
// Criteria are small pure functions; the Evaluator combines their weighted
// scores and applies a mode threshold.
package evaluate

import (
	"fmt"
	"strings"

	"kazeguide/pkg/llm"
	"kazeguide/pkg/model"
)

// Mode selects the acceptance threshold.
type Mode string

const (
	ModeStrict   Mode = "strict"
	ModeModerate Mode = "moderate"
	ModeRelaxed  Mode = "relaxed"
)

// Threshold returns the minimum passing score for the mode. Unknown modes
// fall back to moderate.
func (m Mode) Threshold() float64 {
	switch m {
	case ModeStrict:
		return 0.80
	case ModeRelaxed:
		return 0.40
	default:
		return 0.60
	}
}

// ParseMode maps a config string to a Mode, defaulting to moderate.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeStrict:
		return ModeStrict
	case ModeRelaxed:
		return ModeRelaxed
	default:
		return ModeModerate
	}
}

// CriterionScore is one criterion's verdict.
type CriterionScore struct {
	Name   string
	Score  float64 // 0..1
	Weight float64
	Reason string // set when the criterion found a problem
	Fatal  bool   // a fatal finding invalidates the pair regardless of score
}

// Criterion scores one aspect of a candidate pair.
type Criterion func(wc llm.WeatherContext, pair model.CommentPair) CriterionScore

// Evaluator runs the registered criteria and aggregates a weighted mean.
type Evaluator struct {
	mode     Mode
	criteria []Criterion
}

// New returns an Evaluator preloaded with the builtin criteria.
func New(mode Mode) *Evaluator {
	e := &Evaluator{mode: mode}
	e.Register(NonEmptyLength)
	e.Register(ForecastConsistency)
	e.Register(PairDistinct)
	return e
}

// Register appends a criterion. Not safe for concurrent use with Evaluate.
func (e *Evaluator) Register(c Criterion) {
	e.criteria = append(e.criteria, c)
}

// Evaluate scores the pair. The result is valid when the weighted mean
// meets the mode threshold; reasons collect every criterion complaint.
func (e *Evaluator) Evaluate(wc llm.WeatherContext, pair model.CommentPair) *model.ValidationResult {
	var (
		sum     float64
		weight  float64
		fatal   bool
		reasons []string
	)
	for _, c := range e.criteria {
		cs := c(wc, pair)
		if cs.Weight <= 0 {
			cs.Weight = 1
		}
		sum += cs.Score * cs.Weight
		weight += cs.Weight
		fatal = fatal || cs.Fatal
		if cs.Reason != "" {
			reasons = append(reasons, fmt.Sprintf("%s: %s", cs.Name, cs.Reason))
		}
	}

	score := 1.0
	if weight > 0 {
		score = sum / weight
	}
	return &model.ValidationResult{
		IsValid: !fatal && score >= e.mode.Threshold(),
		Score:   score,
		Reasons: reasons,
	}
}

// NonEmptyLength requires both texts present and neither absurdly long.
func NonEmptyLength(_ llm.WeatherContext, pair model.CommentPair) CriterionScore {
	cs := CriterionScore{Name: "nonempty_length", Weight: 2, Score: 1}
	switch {
	case strings.TrimSpace(pair.WeatherComment) == "":
		cs.Score = 0
		cs.Fatal = true
		cs.Reason = "weather comment is empty"
	case strings.TrimSpace(pair.AdviceComment) == "":
		cs.Score = 0
		cs.Fatal = true
		cs.Reason = "advice comment is empty"
	case len([]rune(pair.WeatherComment)) > 200 || len([]rune(pair.AdviceComment)) > 200:
		cs.Score = 0.3
		cs.Reason = "comment exceeds 200 characters"
	}
	return cs
}

// ForecastConsistency penalizes pairs that contradict the forecast: a
// rain-themed comment on a dry day, or no rain mention on a wet one.
func ForecastConsistency(wc llm.WeatherContext, pair model.CommentPair) CriterionScore {
	cs := CriterionScore{Name: "forecast_consistency", Weight: 2, Score: 1}
	if wc.Forecasts == nil || len(wc.Forecasts.Forecasts) == 0 {
		// Nothing to check against; stay neutral.
		return cs
	}

	rainy := false
	for _, f := range wc.Forecasts.Forecasts {
		if f.PrecipitationMM > 0 || strings.Contains(f.WeatherDesc, "雨") {
			rainy = true
			break
		}
	}
	mentions := mentionsRain(pair.WeatherComment) || mentionsRain(pair.AdviceComment)

	switch {
	case rainy && !mentions:
		cs.Score = 0.5
		cs.Reason = "forecast has precipitation but the pair never mentions rain"
	case !rainy && mentions:
		cs.Score = 0.5
		cs.Reason = "pair mentions rain on a dry forecast"
	}
	return cs
}

func mentionsRain(text string) bool {
	for _, w := range []string{"雨", "傘", "レイン"} {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// PairDistinct rejects pairs where weather and advice are the same text.
func PairDistinct(_ llm.WeatherContext, pair model.CommentPair) CriterionScore {
	cs := CriterionScore{Name: "pair_distinct", Weight: 1, Score: 1}
	w := strings.TrimSpace(pair.WeatherComment)
	a := strings.TrimSpace(pair.AdviceComment)
	if w != "" && w == a {
		cs.Score = 0
		cs.Reason = "weather and advice comments are identical"
	}
	return cs
}
