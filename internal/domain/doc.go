// Package domain models the Mumbai flood forecast dataset and the health
// signals collected from the Prediction Service.
//
// # Reference Data
//
// Localities come from a static CSV (mumbai_static_areas_unique.csv). Each row
// describes one named area ("Areas" column) with its BMC ward code, WGS-84
// coordinates, nearest rain gauge station, and fixed geographic attributes:
//
//	Ward Code, Areas, Latitude, Longitude, Nearest Station, Elevation,
//	Land Use Classes, Population, Road Density_m, Distance_to_water_m,
//	Soil Type, Built_up%, True_nearest_distance_m
//
// Area names are the join key and must be unique within the store.
//
// # Forecast Data
//
// The forecast source returns seven daily values per locality (today plus six
// days) in the configured timezone, normally Asia/Kolkata:
//
//	precipitation_sum    → Rainfall_mm
//	max(hourly precip)   → Rainfall_Intensity_mm_hr
//	precipitation_sum>0  → Rainfall_Days_Count (0 or 1)
//	precipitation_hours  → Rainfall_Hours
//	temperature_2m_max   → Temperature_Max_C
//	temperature_2m_min   → Temperature_Min_C
//
// Rainfall category follows the India Meteorological Department 24-hour
// rainfall terminology:
//
//	0 mm            none
//	0.1 – 2.4 mm    very_light
//	2.5 – 15.5 mm   light
//	15.6 – 64.4 mm  moderate
//	64.5 – 115.5 mm heavy
//	115.6 – 204.4   very_heavy
//	≥ 204.5 mm      extremely_heavy
//
// # Shared Dataset
//
// The published dataset is a CSV of [MergedRecord] rows, one per locality per
// date, ordered by locality (store order) and then date. Column names match
// what the Prediction Service reads; see [DatasetColumns].
package domain
