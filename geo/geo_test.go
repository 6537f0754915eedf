package geo

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/amp-labs/denguebot/sqlitedb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tainanStation = Point{Lat: 22.997, Lng: 120.212}
	facilitiesCSV = `name,address,phone,opening_hours,lat,lng
成大醫院,台南市北區勝利路138號,06-2353535,24h,22.9997,120.2186
台南醫院,台南市中西區中山路125號,06-2200055,,22.9930,120.2075
奇美醫院,台南市永康區中華路901號,06-2812811,,23.0207,120.2216
高雄長庚,高雄市鳥松區大埤路123號,07-7317123,,22.6497,120.3563
`
)

func TestDistanceKM(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0, DistanceKM(tainanStation, tainanStation), 1e-9)

	// Taipei Main Station to Kaohsiung Main Station is roughly 297 km.
	taipei := Point{Lat: 25.0478, Lng: 121.5170}
	kaohsiung := Point{Lat: 22.6394, Lng: 120.3025}
	assert.InDelta(t, 297, DistanceKM(taipei, kaohsiung), 5)
	assert.InDelta(t, DistanceKM(taipei, kaohsiung), DistanceKM(kaohsiung, taipei), 1e-9)
}

func TestReadCSV(t *testing.T) {
	t.Parallel()

	facilities, err := ReadCSV(strings.NewReader(facilitiesCSV))
	require.NoError(t, err)
	require.Len(t, facilities, 4)
	assert.Equal(t, "成大醫院", facilities[0].Name)
	assert.Equal(t, "24h", facilities[0].OpeningHours)
	assert.InDelta(t, 120.2186, facilities[0].Lng, 1e-9)

	_, err = ReadCSV(strings.NewReader("name,address\nx,y\n"))
	require.ErrorIs(t, err, ErrInvalidCSV)

	_, err = ReadCSV(strings.NewReader("name,address,lat,lng\nx,y,north,1\n"))
	require.ErrorIs(t, err, ErrInvalidCSV)
}

func newStore(t *testing.T) *FacilityStore {
	t.Helper()

	db, err := sqlitedb.Open(t.Context(), sqlitedb.DefaultConfig(filepath.Join(t.TempDir(), "geo.db")))
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, sqlitedb.Migrate(t.Context(), db, Migrations...))

	facilities, err := ReadCSV(strings.NewReader(facilitiesCSV))
	require.NoError(t, err)

	store := NewFacilityStore(db)

	written, err := store.Upsert(t.Context(), facilities)
	require.NoError(t, err)
	require.Equal(t, 4, written)

	return store
}

func TestFacilityStoreNearby(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	found, err := store.Nearby(t.Context(), tainanStation, 5, 3)
	require.NoError(t, err)
	require.Len(t, found, 3)

	names := []string{found[0].Name, found[1].Name, found[2].Name}
	assert.Equal(t, []string{"台南醫院", "成大醫院", "奇美醫院"}, names)
	assert.LessOrEqual(t, found[0].DistanceKM, found[1].DistanceKM)
	assert.LessOrEqual(t, found[1].DistanceKM, found[2].DistanceKM)

	found, err = store.Nearby(t.Context(), tainanStation, 1.5, 3)
	require.NoError(t, err)
	require.Len(t, found, 2)

	found, err = store.Nearby(t.Context(), Point{Lat: 25.0478, Lng: 121.5170}, 5, 3)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestFacilityStoreByAddress(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	facility, err := store.ByAddress(t.Context(), "台南市北區勝利路138號")
	require.NoError(t, err)
	assert.Equal(t, "成大醫院", facility.Name)

	_, err = store.ByAddress(t.Context(), "nowhere")
	require.ErrorIs(t, err, ErrFacilityNotFound)

	// Upserting the same address replaces the row.
	_, err = store.Upsert(t.Context(), []Facility{{Name: "成大", Address: "台南市北區勝利路138號", Lat: 1, Lng: 2}})
	require.NoError(t, err)

	count, err := store.Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestGoogleGeocoder(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "tw", r.URL.Query().Get("region"))

		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Query().Get("address") {
		case "台南市北區勝利路138號":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "OK",
				"results": []any{map[string]any{
					"formatted_address": "704台灣台南市北區勝利路138號",
					"geometry":          map[string]any{"location": map[string]any{"lat": 22.9997, "lng": 120.2186}},
				}},
			})
		case "denied":
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "REQUEST_DENIED", "error_message": "bad key"})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ZERO_RESULTS", "results": []any{}})
		}
	}))
	t.Cleanup(server.Close)

	geocoder := NewGoogleGeocoder("test-key", WithEndpoint(server.URL), WithHTTPClient(server.Client()))

	point, err := geocoder.Geocode(t.Context(), "台南市北區勝利路138號")
	require.NoError(t, err)
	assert.InDelta(t, 22.9997, point.Lat, 1e-9)
	assert.InDelta(t, 120.2186, point.Lng, 1e-9)

	_, err = geocoder.Geocode(t.Context(), "asdfghjkl")
	require.ErrorIs(t, err, ErrNoResult)

	_, err = geocoder.Geocode(t.Context(), "  ")
	require.ErrorIs(t, err, ErrEmptyAddress)

	_, err = geocoder.Geocode(t.Context(), "denied")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "REQUEST_DENIED", apiErr.Status)
	assert.Contains(t, apiErr.Error(), "bad key")
}
