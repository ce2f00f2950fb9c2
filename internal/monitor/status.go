package monitor

import (
	"encoding/json"
	"strconv"
	"time"
)

// statusPayload is the subset of the Prediction Service /health body the
// monitor understands. Every field is optional.
type statusPayload struct {
	Status      string          `json:"status"`
	Uptime      *float64        `json:"uptime"`
	ModelLoaded *bool           `json:"model_loaded"`
	ModelInfo   json.RawMessage `json:"model_info"`
	MemoryUsage struct {
		RSSMB lenientFloat `json:"rss_mb"`
	} `json:"memory_usage"`
	DataInfo struct {
		ForecastModified string `json:"forecast_modified"`
		NumAreas         *int   `json:"num_areas"`
		NumDates         *int   `json:"num_dates"`
		NumRows          *int   `json:"num_rows"`
	} `json:"data_info"`
}

// lenientFloat accepts a JSON number or numeric string; anything else
// (such as "psutil not installed") leaves it unset.
type lenientFloat struct {
	v *float64
}

func (f *lenientFloat) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		f.v = &n
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			f.v = &n
		}
	}
	return nil
}

// modelLoaded prefers an explicit model_loaded flag, falling back to the
// presence of a non-empty model_info object.
func (p statusPayload) modelLoaded() *bool {
	if p.ModelLoaded != nil {
		return p.ModelLoaded
	}
	if len(p.ModelInfo) == 0 || string(p.ModelInfo) == "null" {
		return nil
	}
	var info map[string]any
	loaded := json.Unmarshal(p.ModelInfo, &info) == nil && len(info) > 0
	return &loaded
}

func (p statusPayload) datasetRows() *int {
	d := p.DataInfo
	if d.NumRows != nil {
		return d.NumRows
	}
	if d.NumAreas != nil && d.NumDates != nil {
		rows := *d.NumAreas * *d.NumDates
		return &rows
	}
	return nil
}

var modifiedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// datasetModified parses forecast_modified. Timestamps without an offset
// are taken to be in loc.
func (p statusPayload) datasetModified(loc *time.Location) *time.Time {
	s := p.DataInfo.ForecastModified
	if s == "" {
		return nil
	}
	for _, layout := range modifiedLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t
		}
	}
	return nil
}
