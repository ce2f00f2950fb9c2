package localitystore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "areas.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestStore_Load(t *testing.T) {
	path := writeFile(t, `Ward Code,Areas,Latitude,Longitude,Nearest Station,Elevation,Land Use Classes,Population,Road Density_m,Distance_to_water_m,Soil Type,Built_up%,True_nearest_distance_m
K/E,Andheri East,19.1136,72.8697,Andheri,14,Residential,806000,12.5,850,Clay,78.2,1200
A,Colaba,18.9067,72.8147,Colaba,3,Mixed,150000,9.1,120,Sandy,65,300
`)

	locs, err := New(path).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, locs, 2)

	assert.Equal(t, "Andheri East", locs[0].Name)
	assert.Equal(t, "K/E", locs[0].WardCode)
	assert.InDelta(t, 19.1136, locs[0].Latitude, 1e-9)
	assert.InDelta(t, 72.8697, locs[0].Longitude, 1e-9)
	assert.Equal(t, "Clay", locs[0].SoilType)
	assert.InDelta(t, 78.2, locs[0].BuiltUpPct, 1e-9)
	assert.Equal(t, "Colaba", locs[1].Name)
}

func TestStore_Load_MinimalColumns(t *testing.T) {
	path := writeFile(t, "Areas,Latitude,Longitude\nBandra,19.0596,72.8295\n\n")

	locs, err := New(path).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "Bandra", locs[0].Name)
	assert.Empty(t, locs[0].WardCode)
}

func TestStore_Load_Duplicate(t *testing.T) {
	path := writeFile(t, "Areas,Latitude,Longitude\nBandra,19.05,72.82\nBandra,19.06,72.83\n")

	_, err := New(path).Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateLocality)
	assert.Contains(t, err.Error(), "line 3")
}

func TestStore_Load_InvalidLatitude(t *testing.T) {
	path := writeFile(t, "Areas,Latitude,Longitude\nNowhere,95,72.82\n")

	_, err := New(path).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nowhere")
}

func TestStore_Load_MissingNameColumn(t *testing.T) {
	path := writeFile(t, "Latitude,Longitude\n19.05,72.82\n")

	_, err := New(path).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Areas")
}

func TestStore_Load_MissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope.csv")).Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWrite_RoundTrip(t *testing.T) {
	want := []domain.Locality{
		{Name: "Dadar", WardCode: "G/N", Latitude: 19.0178, Longitude: 72.8478, Elevation: 8, Population: 420000},
		{Name: "Kurla", WardCode: "L", Latitude: 19.0726, Longitude: 72.8845, SoilType: "Clay"},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, want))

	got, err := New("").read(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
