package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForecastValid(t *testing.T) {
	f := Forecast{DateTime: time.Now(), Temperature: 21.5}
	assert.True(t, f.Valid())

	f.Temperature = math.NaN()
	assert.False(t, f.Valid())

	f = Forecast{DateTime: time.Now(), WindSpeedMPS: math.Inf(1)}
	assert.False(t, f.Valid())

	f = Forecast{Temperature: 20}
	assert.False(t, f.Valid(), "zero timestamp is invalid")
}

func TestCollectionNormalize(t *testing.T) {
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, JST)
	col := &ForecastCollection{Forecasts: []Forecast{
		{DateTime: base.Add(3 * time.Hour), Temperature: 3},
		{DateTime: base, Temperature: 1},
		{DateTime: base, Temperature: 99}, // duplicate instant, later in input
		{DateTime: base.Add(time.Hour), Temperature: 2},
	}}
	col.Normalize()

	require.Len(t, col.Forecasts, 3)
	assert.Equal(t, 1.0, col.Forecasts[0].Temperature, "first occurrence of a duplicate instant wins")
	assert.True(t, col.Forecasts[0].DateTime.Before(col.Forecasts[1].DateTime))
	assert.True(t, col.Forecasts[1].DateTime.Before(col.Forecasts[2].DateTime))
}

func TestCollectionNearestTieGoesEarlier(t *testing.T) {
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, JST)
	col := &ForecastCollection{Forecasts: []Forecast{
		{DateTime: base, Temperature: 1},
		{DateTime: base.Add(2 * time.Hour), Temperature: 2},
	}}

	// 10:00 is exactly one hour from both records.
	got := col.Nearest(base.Add(time.Hour))
	require.NotNil(t, got)
	assert.Equal(t, 1.0, got.Temperature)

	assert.Nil(t, (&ForecastCollection{}).Nearest(base))
}

func TestPipelineStateBookkeeping(t *testing.T) {
	st := NewPipelineState("東京", time.Now(), "mock")
	st.AddError("e1")
	st.AddWarning("w1")
	st.AddWarning("w2")

	assert.Equal(t, []string{"e1"}, st.Errors)
	assert.Len(t, st.Warnings, 2)
	assert.NotNil(t, st.Metadata)
	assert.NotNil(t, st.NodeTimes)
}
