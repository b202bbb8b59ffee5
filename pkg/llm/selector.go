// Package llm defines the selection/generation capability the pipeline
// consumes. The pipeline sees only SelectAndGenerate; provider wiring and
// prompt formats live behind it.
package llm

import (
	"context"
	"time"

	"kazeguide/pkg/model"
)

// WeatherContext is the forecast context handed to the selector.
type WeatherContext struct {
	LocationName string
	TargetDate   time.Time
	Forecasts    *model.ForecastCollection
}

// Selection is the selector's answer: a reference pair, an optional
// synthesized final sentence, and an optional self-assessed validation.
type Selection struct {
	WeatherComment string
	AdviceComment  string
	FinalText      string
	Validation     *model.ValidationResult
}

// Selector picks a (weather, advice) pair from the candidates and may
// synthesize the final sentence. A call either returns the tuple or fails
// with an error the executor classifies as llm_error.
type Selector interface {
	SelectAndGenerate(ctx context.Context, wc WeatherContext, candidates []model.ReferenceComment) (*Selection, error)
}
