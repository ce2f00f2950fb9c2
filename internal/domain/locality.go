package domain

// Locality is a named Mumbai area with fixed geographic attributes.
type Locality struct {
	Name                 string  `json:"name" validate:"required"`
	WardCode             string  `json:"ward_code,omitempty"`
	Latitude             float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude            float64 `json:"longitude" validate:"gte=-180,lte=180"`
	NearestStation       string  `json:"nearest_station,omitempty"`
	Elevation            float64 `json:"elevation"`
	LandUse              string  `json:"land_use,omitempty"`
	Population           float64 `json:"population"`
	RoadDensityM         float64 `json:"road_density_m"`
	DistanceToWaterM     float64 `json:"distance_to_water_m"`
	SoilType             string  `json:"soil_type,omitempty"`
	BuiltUpPct           float64 `json:"built_up_pct"`
	TrueNearestDistanceM float64 `json:"true_nearest_distance_m"`
}
