// Package geo resolves free-text addresses to coordinates and finds medical
// facilities near a point.
package geo

import (
	"context"
	"errors"
	"math"
)

var (
	// ErrNoResult is returned when an address does not resolve to a location.
	ErrNoResult = errors.New("geo: no result")
	// ErrEmptyAddress is returned when geocoding a blank address.
	ErrEmptyAddress = errors.New("geo: empty address")
	// ErrFacilityNotFound is returned when no facility matches a lookup.
	ErrFacilityNotFound = errors.New("geo: facility not found")
)

// earthRadiusKM is the mean Earth radius.
const earthRadiusKM = 6371.0

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Facility is a clinic or hospital that can be recommended to a user.
type Facility struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Address      string  `json:"address"`
	Phone        string  `json:"phone"`
	OpeningHours string  `json:"opening_hours"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`

	// DistanceKM is filled in by Nearby.
	DistanceKM float64 `json:"distance_km,omitempty"`
}

// Point returns the facility location.
func (f Facility) Point() Point {
	return Point{Lat: f.Lat, Lng: f.Lng}
}

// Geocoder resolves an address to a point.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Point, error)
}

// Searcher finds facilities.
type Searcher interface {
	// Nearby returns at most limit facilities within radiusKM of p, closest first.
	Nearby(ctx context.Context, p Point, radiusKM float64, limit int) ([]Facility, error)
	// ByAddress returns the facility registered at address.
	ByAddress(ctx context.Context, address string) (Facility, error)
}

// DistanceKM returns the great-circle distance between two points.
func DistanceKM(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// boundingBox returns the lat/lng ranges that contain every point within
// radiusKM of p.
func boundingBox(p Point, radiusKM float64) (minLat, maxLat, minLng, maxLng float64) {
	dLat := degrees(radiusKM / earthRadiusKM)

	cosLat := math.Cos(radians(p.Lat))
	if cosLat < 1e-6 {
		return p.Lat - dLat, p.Lat + dLat, -180, 180
	}

	dLng := degrees(radiusKM / (earthRadiusKM * cosLat))

	return p.Lat - dLat, p.Lat + dLat, p.Lng - dLng, p.Lng + dLng
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
