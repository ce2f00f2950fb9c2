package domain

import "strings"

// Dataset column names, in output order.
const (
	ColDate                = "Date"
	ColWardCode            = "Ward Code"
	ColAreas               = "Areas"
	ColLatitude            = "Latitude"
	ColLongitude           = "Longitude"
	ColNearestStation      = "Nearest Station"
	ColElevation           = "Elevation"
	ColLandUse             = "Land Use Classes"
	ColPopulation          = "Population"
	ColRoadDensity         = "Road Density_m"
	ColDistanceToWater     = "Distance_to_water_m"
	ColSoilType            = "Soil Type"
	ColBuiltUp             = "Built_up%"
	ColTrueNearestDistance = "True_nearest_distance_m"
	ColRainfallMM          = "Rainfall_mm"
	ColRainfallIntensity   = "Rainfall_Intensity_mm_hr"
	ColRainfallDaysCount   = "Rainfall_Days_Count"
	ColRainfallHours       = "Rainfall_Hours"
	ColRainfallCategory    = "Rainfall_Category"
	ColTemperatureMax      = "Temperature_Max_C"
	ColTemperatureMin      = "Temperature_Min_C"
)

// LocalityColumns are the static attribute columns of the reference store.
var LocalityColumns = []string{
	ColWardCode, ColAreas, ColLatitude, ColLongitude, ColNearestStation,
	ColElevation, ColLandUse, ColPopulation, ColRoadDensity, ColDistanceToWater,
	ColSoilType, ColBuiltUp, ColTrueNearestDistance,
}

// DatasetColumns is the header of the shared dataset file.
var DatasetColumns = []string{
	ColDate, ColWardCode, ColAreas, ColLatitude, ColLongitude, ColNearestStation,
	ColElevation, ColLandUse, ColPopulation, ColRoadDensity, ColDistanceToWater,
	ColSoilType, ColBuiltUp, ColTrueNearestDistance, ColRainfallMM,
	ColRainfallIntensity, ColRainfallDaysCount, ColRainfallHours,
	ColRainfallCategory, ColTemperatureMax, ColTemperatureMin,
}

// LocalityRow renders the static attributes in LocalityColumns order.
func LocalityRow(l Locality) []string {
	return []string{
		l.WardCode, l.Name, FormatFloat(l.Latitude), FormatFloat(l.Longitude),
		l.NearestStation, FormatFloat(l.Elevation), l.LandUse,
		FormatFloat(l.Population), FormatFloat(l.RoadDensityM),
		FormatFloat(l.DistanceToWaterM), l.SoilType, FormatFloat(l.BuiltUpPct),
		FormatFloat(l.TrueNearestDistanceM),
	}
}

// DatasetRow renders a record in DatasetColumns order.
func DatasetRow(r MergedRecord) []string {
	row := make([]string, 0, len(DatasetColumns))
	row = append(row, r.Date)
	row = append(row, LocalityRow(r.Locality)...)
	return append(row,
		FormatFloat(r.RainfallMM),
		FormatFloat(r.IntensityMMHr),
		FormatFloat(float64(r.RainyDay)),
		FormatFloat(r.RainfallHours),
		r.Category,
		FormatFloat(r.TempMaxC),
		FormatFloat(r.TempMinC),
	)
}

// Row is a header-indexed view of one CSV record.
type Row struct {
	index  map[string]int
	fields []string
}

// NewHeaderIndex maps column names to positions. The legacy "Area" column is
// accepted as an alias of "Areas".
func NewHeaderIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	if _, ok := idx[ColAreas]; !ok {
		if i, ok := idx["Area"]; ok {
			idx[ColAreas] = i
		}
	}
	return idx
}

// NewRow wraps fields with a header index built by NewHeaderIndex.
func NewRow(index map[string]int, fields []string) Row {
	return Row{index: index, fields: fields}
}

// Get returns the trimmed value of column, or "" when absent.
func (r Row) Get(column string) string {
	i, ok := r.index[column]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

// Float returns the numeric value of column, or 0.
func (r Row) Float(column string) float64 {
	return ParseFloatOrZero(r.Get(column))
}

// LocalityFromRow reads the static attributes of a row.
func LocalityFromRow(r Row) Locality {
	return Locality{
		Name:                 r.Get(ColAreas),
		WardCode:             r.Get(ColWardCode),
		Latitude:             r.Float(ColLatitude),
		Longitude:            r.Float(ColLongitude),
		NearestStation:       r.Get(ColNearestStation),
		Elevation:            r.Float(ColElevation),
		LandUse:              r.Get(ColLandUse),
		Population:           r.Float(ColPopulation),
		RoadDensityM:         r.Float(ColRoadDensity),
		DistanceToWaterM:     r.Float(ColDistanceToWater),
		SoilType:             r.Get(ColSoilType),
		BuiltUpPct:           r.Float(ColBuiltUp),
		TrueNearestDistanceM: r.Float(ColTrueNearestDistance),
	}
}

// RecordFromRow reads a full dataset row.
func RecordFromRow(r Row) MergedRecord {
	loc := LocalityFromRow(r)
	return MergedRecord{
		Locality: loc,
		ForecastDay: ForecastDay{
			Locality:      loc.Name,
			Date:          r.Get(ColDate),
			RainfallMM:    r.Float(ColRainfallMM),
			IntensityMMHr: r.Float(ColRainfallIntensity),
			RainyDay:      int(r.Float(ColRainfallDaysCount)),
			RainfallHours: r.Float(ColRainfallHours),
			Category:      r.Get(ColRainfallCategory),
			TempMaxC:      r.Float(ColTemperatureMax),
			TempMinC:      r.Float(ColTemperatureMin),
		},
	}
}
