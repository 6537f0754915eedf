package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amp-labs/denguebot/logger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultGoogleEndpoint is the Google Geocoding API endpoint.
const DefaultGoogleEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

// GoogleOption configures a GoogleGeocoder.
type GoogleOption func(*GoogleGeocoder)

// WithEndpoint overrides the API endpoint.
func WithEndpoint(endpoint string) GoogleOption {
	return func(g *GoogleGeocoder) {
		g.endpoint = endpoint
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) GoogleOption {
	return func(g *GoogleGeocoder) {
		g.client = client
	}
}

// WithRegion biases results towards a region code.
func WithRegion(region string) GoogleOption {
	return func(g *GoogleGeocoder) {
		g.region = region
	}
}

// GoogleGeocoder calls the Google Geocoding API.
type GoogleGeocoder struct {
	apiKey   string
	endpoint string
	region   string
	client   *http.Client
}

// NewGoogleGeocoder creates a geocoder using apiKey.
func NewGoogleGeocoder(apiKey string, opts ...GoogleOption) *GoogleGeocoder {
	g := &GoogleGeocoder{
		apiKey:   apiKey,
		endpoint: DefaultGoogleEndpoint,
		region:   "tw",
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// APIError is a non-OK geocoding status.
type APIError struct {
	Status  string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "geocoding failed: " + e.Status
	}

	return fmt.Sprintf("geocoding failed: %s: %s", e.Status, e.Message)
}

type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location Point `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode resolves address to the first result's location.
func (g *GoogleGeocoder) Geocode(ctx context.Context, address string) (Point, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Point{}, ErrEmptyAddress
	}

	query := url.Values{}
	query.Set("address", address)
	query.Set("key", g.apiKey)

	if g.region != "" {
		query.Set("region", g.region)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return Point{}, fmt.Errorf("geocode request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Point{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Point{}, &APIError{Status: resp.Status}
	}

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Point{}, fmt.Errorf("geocode response: %w", err)
	}

	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		return Point{}, ErrNoResult
	default:
		return Point{}, &APIError{Status: body.Status, Message: body.ErrorMessage}
	}

	if len(body.Results) == 0 {
		return Point{}, ErrNoResult
	}

	result := body.Results[0]

	logger.Get(ctx).DebugContext(ctx, "Geocoded address",
		"address", address,
		"formatted", result.FormattedAddress)

	return result.Geometry.Location, nil
}
