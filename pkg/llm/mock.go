package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"kazeguide/pkg/model"
)

// Mock is a deterministic Selector for tests and offline runs. It picks the
// highest-count candidate of each kind, preferring rain-themed comments
// when the forecast shows precipitation.
type Mock struct {
	mu sync.Mutex

	// FailValidations makes the first N calls return an invalid result.
	FailValidations int
	// Err, when set, is returned from every call.
	Err error

	calls int
}

// Calls returns how many times SelectAndGenerate ran.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// SelectAndGenerate implements Selector.
func (m *Mock) SelectAndGenerate(_ context.Context, wc WeatherContext, candidates []model.ReferenceComment) (*Selection, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	failing := call <= m.FailValidations
	err := m.Err
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}

	rainy := false
	if wc.Forecasts != nil {
		for _, f := range wc.Forecasts.Forecasts {
			if f.PrecipitationMM > 0 {
				rainy = true
				break
			}
		}
	}

	weather := pickBest(candidates, model.KindWeatherComment, rainy)
	advice := pickBest(candidates, model.KindAdvice, rainy)
	if weather == "" {
		weather = defaultWeatherComment(rainy)
	}
	if advice == "" {
		advice = defaultAdvice(rainy)
	}

	sel := &Selection{
		WeatherComment: weather,
		AdviceComment:  advice,
		FinalText:      fmt.Sprintf("%s %s", weather, advice),
		Validation:     &model.ValidationResult{IsValid: true, Score: 1.0},
	}
	if failing {
		sel.Validation = &model.ValidationResult{
			IsValid: false,
			Score:   0.2,
			Reasons: []string{"forced invalid by mock"},
		}
	}
	return sel, nil
}

// pickBest returns the highest-count candidate of the kind; when rainy,
// candidates mentioning rain win first.
func pickBest(candidates []model.ReferenceComment, kind model.Kind, rainy bool) string {
	best := ""
	bestScore := -1
	for _, c := range candidates {
		if c.Kind != kind {
			continue
		}
		score := c.Count
		if rainy && containsRain(c.Text) {
			score += 1 << 20
		}
		if score > bestScore {
			best = c.Text
			bestScore = score
		}
	}
	return best
}

func containsRain(text string) bool {
	return strings.Contains(text, "雨") || strings.Contains(text, "傘")
}

func defaultWeatherComment(rainy bool) string {
	if rainy {
		return "雨が降りやすい一日です"
	}
	return "穏やかな空が広がります"
}

func defaultAdvice(rainy bool) string {
	if rainy {
		return "傘をお持ちください"
	}
	return "お出かけ日和です"
}
