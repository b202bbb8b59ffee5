package forecast

import (
	"math"
	"time"

	"kazeguide/pkg/model"
)

// TargetHours are the sampling points on the target date, in JST.
var TargetHours = []int{9, 12, 15, 18}

// windowBounds returns the filter window [08:00, 19:00] of the target date
// in the reference timezone.
func windowBounds(targetDate time.Time) (first, last time.Time) {
	d := targetDate.In(model.JST)
	first = time.Date(d.Year(), d.Month(), d.Day(), 8, 0, 0, 0, model.JST)
	last = time.Date(d.Year(), d.Month(), d.Day(), 19, 0, 0, 0, model.JST)
	return first, last
}

// HourWindow computes the minimal `hours` request parameter such that the
// upstream response window still covers every target hour of the target
// date. The upstream counts hours forward from "now", so asking for the
// naive 72 wastes ~68 records per call.
func HourWindow(now, targetDate time.Time) int {
	now = now.In(model.JST)
	first, last := windowBounds(targetDate)

	if now.Before(first) {
		// 11 more hours past 08:00 reaches the end of the window at 19:00.
		return int(math.Ceil(first.Sub(now).Hours())) + 11
	}
	h := int(math.Ceil(last.Sub(now).Hours())) + 1
	if h < 1 {
		h = 1
	}
	return h
}

// FilterTargetHours reduces a parsed collection to at most one forecast per
// target hour: the record inside [08:00, 19:00] of the target date with the
// smallest absolute distance to that hour, ties going to the earlier record.
func FilterTargetHours(col *model.ForecastCollection, targetDate time.Time) *model.ForecastCollection {
	first, last := windowBounds(targetDate)

	var inWindow []model.Forecast
	for _, f := range col.Forecasts {
		if !f.DateTime.Before(first) && !f.DateTime.After(last) {
			inWindow = append(inWindow, f)
		}
	}

	d := targetDate.In(model.JST)
	picked := make(map[time.Time]model.Forecast)
	for _, hour := range TargetHours {
		target := time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, model.JST)
		var best *model.Forecast
		var bestDiff time.Duration
		for i := range inWindow {
			diff := inWindow[i].DateTime.Sub(target)
			if diff < 0 {
				diff = -diff
			}
			// Strict < keeps the earlier record on ties.
			if best == nil || diff < bestDiff {
				best = &inWindow[i]
				bestDiff = diff
			}
		}
		if best != nil {
			picked[best.DateTime] = *best
		}
	}

	out := &model.ForecastCollection{LocationName: col.LocationName}
	for _, f := range picked {
		out.Forecasts = append(out.Forecasts, f)
	}
	out.Normalize()
	return out
}
