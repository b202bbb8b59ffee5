package model

import (
	"math"
	"sort"
	"time"
)

// JST is the reference timezone. All forecast arithmetic happens in it.
var JST = loadJST()

func loadJST() *time.Location {
	if loc, err := time.LoadLocation("Asia/Tokyo"); err == nil {
		return loc
	}
	return time.FixedZone("JST", 9*60*60)
}

// Location is one entry of the geographic catalogue. Immutable after load.
type Location struct {
	Name           string  `yaml:"name"`
	Kana           string  `yaml:"kana"` // optional reading, e.g. とうきょう
	NormalizedName string  `yaml:"-"`
	Prefecture     string  `yaml:"prefecture"`
	Region         string  `yaml:"region"`
	Lat            float64 `yaml:"lat"`
	Lon            float64 `yaml:"lon"`
	HasCoords      bool    `yaml:"-"`
}

// Forecast is a single (location, timestamp) record, normalized to JST.
type Forecast struct {
	DateTime         time.Time
	Temperature      float64
	WeatherCode      string
	WeatherDesc      string
	PrecipitationMM  float64
	HumidityPct      float64
	WindSpeedMPS     float64
	WindDirectionDeg float64
}

// Valid reports whether all numeric fields are finite and the timestamp is set.
func (f *Forecast) Valid() bool {
	for _, v := range []float64{f.Temperature, f.PrecipitationMM, f.HumidityPct, f.WindSpeedMPS, f.WindDirectionDeg} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return !f.DateTime.IsZero()
}

// ForecastCollection holds forecasts for one location, ascending by datetime.
type ForecastCollection struct {
	LocationName string
	Forecasts    []Forecast
}

// Normalize sorts the forecasts ascending and drops duplicate instants,
// keeping the first occurrence.
func (c *ForecastCollection) Normalize() {
	sort.SliceStable(c.Forecasts, func(i, j int) bool {
		return c.Forecasts[i].DateTime.Before(c.Forecasts[j].DateTime)
	})
	out := c.Forecasts[:0]
	var last time.Time
	for _, f := range c.Forecasts {
		if !last.IsZero() && f.DateTime.Equal(last) {
			continue
		}
		out = append(out, f)
		last = f.DateTime
	}
	c.Forecasts = out
}

// Nearest returns the forecast closest in time to t, or nil when empty.
// Ties resolve to the earlier record.
func (c *ForecastCollection) Nearest(t time.Time) *Forecast {
	var best *Forecast
	var bestDiff time.Duration
	for i := range c.Forecasts {
		d := c.Forecasts[i].DateTime.Sub(t)
		if d < 0 {
			d = -d
		}
		if best == nil || d < bestDiff {
			best = &c.Forecasts[i]
			bestDiff = d
		}
	}
	return best
}

// Season partitions reference comments by time of year.
type Season string

const (
	SeasonSpring      Season = "spring"
	SeasonSummer      Season = "summer"
	SeasonAutumn      Season = "autumn"
	SeasonWinter      Season = "winter"
	SeasonRainySeason Season = "rainy_season"
	SeasonTyphoon     Season = "typhoon"
)

// AllSeasons lists the six seasons in display order.
var AllSeasons = []Season{
	SeasonSpring, SeasonSummer, SeasonAutumn,
	SeasonWinter, SeasonRainySeason, SeasonTyphoon,
}

// Kind distinguishes the two comment flavors.
type Kind string

const (
	KindWeatherComment Kind = "weather_comment"
	KindAdvice         Kind = "advice"
)

// AllKinds lists the two comment kinds.
var AllKinds = []Kind{KindWeatherComment, KindAdvice}

// ReferenceComment is one human-authored comment from the on-disk tables.
type ReferenceComment struct {
	Text       string
	Kind       Kind
	Season     Season
	SourceFile string
	RowNumber  int
	Count      int
}

// CommentPair is the selected (weather, advice) pair.
type CommentPair struct {
	WeatherComment string `json:"weather_comment"`
	AdviceComment  string `json:"advice_comment"`
}

// ValidationResult is the outcome of validating a generated pair.
// A valid result carries only the score; an invalid one also carries reasons.
type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}
