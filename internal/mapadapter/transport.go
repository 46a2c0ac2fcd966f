package mapadapter

import "context"

// Transport is the uniform operation set both the tool-RPC and direct-HTTP
// transports implement. MapAdapter is a transport-agnostic façade over
// whichever Transport it is built with.
//
// All methods degrade on upstream failure rather than propagating an
// error for a single-object query (nil result, nil error) or a list query
// (empty slice, nil error); a non-nil error is reserved for cases the
// adapter itself must react to (e.g. at connect time, to decide fallback).
type Transport interface {
	Name() string

	Geocode(ctx context.Context, query string) (*GeocodeResult, error)
	ReverseGeocode(ctx context.Context, point GeoPoint) (*GeocodeResult, error)
	GetWeatherForecast(ctx context.Context, city string, days int) (*WeatherForecast, error)
	SearchPOI(ctx context.Context, params POISearchParams) (*POISearchResult, error)
	SearchNearby(ctx context.Context, params POISearchParams) (*POISearchResult, error)
	GetPOIDetail(ctx context.Context, id string) (*POI, error)
	GetRoute(ctx context.Context, mode RouteMode, origin, destination GeoPoint, city string) (*RouteResult, error)
	CalculateDistance(ctx context.Context, origin, destination GeoPoint) (*DistanceResult, error)
}
