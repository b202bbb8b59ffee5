package comment

import (
	"time"

	"kazeguide/pkg/model"
)

// SeasonsForMonth returns the seasons considered relevant for a calendar
// month. The overlaps around seasonal transitions are deliberate: early
// March still wants winter comments, September still wants summer ones.
func SeasonsForMonth(m time.Month) []model.Season {
	switch m {
	case time.January, time.February:
		return []model.Season{model.SeasonWinter}
	case time.March:
		return []model.Season{model.SeasonWinter, model.SeasonSpring}
	case time.April:
		return []model.Season{model.SeasonSpring}
	case time.May:
		return []model.Season{model.SeasonSpring, model.SeasonRainySeason}
	case time.June:
		return []model.Season{model.SeasonRainySeason, model.SeasonSummer}
	case time.July, time.August:
		return []model.Season{model.SeasonSummer, model.SeasonRainySeason, model.SeasonTyphoon}
	case time.September:
		return []model.Season{model.SeasonSummer, model.SeasonTyphoon, model.SeasonAutumn}
	case time.October, time.November:
		return []model.Season{model.SeasonAutumn, model.SeasonTyphoon}
	default: // December
		return []model.Season{model.SeasonWinter}
	}
}
