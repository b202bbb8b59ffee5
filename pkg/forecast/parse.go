package forecast

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"kazeguide/pkg/faults"
	"kazeguide/pkg/model"
)

// apiResponse mirrors the upstream wxdata schema. srf holds hourly
// short-range forecasts, mrf medium-range; both feed one collection.
type apiResponse struct {
	WXData []struct {
		SRF []apiRecord `json:"srf"`
		MRF []apiRecord `json:"mrf"`
	} `json:"wxdata"`
}

type apiRecord struct {
	JST     string   `json:"jst"`
	Temp    *float64 `json:"temp"`
	RH      float64  `json:"rh"`
	Prec    float64  `json:"prec"`
	WDir    float64  `json:"wdir"`
	WSpd    float64  `json:"wspd"`
	Weather string   `json:"weather"`
}

// ParseResponse decodes an upstream payload into a collection in JST.
// Unparseable records are skipped with a warning; an empty forecast array is
// an api_response_error.
func ParseResponse(locationName string, data []byte) (*model.ForecastCollection, []string, error) {
	var resp apiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, nil, faults.New(faults.ParsingError, "forecast.parse", err)
	}

	col := &model.ForecastCollection{LocationName: locationName}
	var warnings []string
	for _, wx := range resp.WXData {
		for _, rec := range append(wx.SRF, wx.MRF...) {
			f, err := parseRecord(rec)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("skipped forecast record %q: %v", rec.JST, err))
				continue
			}
			col.Forecasts = append(col.Forecasts, f)
		}
	}

	if len(col.Forecasts) == 0 {
		return nil, warnings, faults.Errorf(faults.APIResponseError, "forecast.parse", "empty_response: no forecast records")
	}

	col.Normalize()
	return col, warnings, nil
}

func parseRecord(rec apiRecord) (model.Forecast, error) {
	// Timestamps arrive naive; they are JST by contract.
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", rec.JST, model.JST)
	if err != nil {
		return model.Forecast{}, fmt.Errorf("bad timestamp: %w", err)
	}
	if rec.Temp == nil {
		return model.Forecast{}, fmt.Errorf("missing temperature")
	}

	f := model.Forecast{
		DateTime:         ts,
		Temperature:      *rec.Temp,
		WeatherCode:      rec.Weather,
		WeatherDesc:      describeCode(rec.Weather),
		PrecipitationMM:  rec.Prec,
		HumidityPct:      rec.RH,
		WindSpeedMPS:     rec.WSpd,
		WindDirectionDeg: rec.WDir,
	}
	if !f.Valid() {
		return model.Forecast{}, fmt.Errorf("non-finite numeric field")
	}
	return f, nil
}

// describeCode maps an opaque weather code to a coarse description. Codes
// outside the known families pass through unchanged.
func describeCode(code string) string {
	switch {
	case code == "":
		return ""
	case strings.HasPrefix(code, "1"):
		return "晴れ"
	case strings.HasPrefix(code, "2"):
		return "曇り"
	case strings.HasPrefix(code, "3"):
		return "雨"
	case strings.HasPrefix(code, "4"):
		return "雪"
	default:
		return code
	}
}
