package mapadapter

import (
	"context"

	"github.com/tripplanner/agentcore/internal/cache"
	"go.uber.org/zap"
)

// MapAdapter is the stable, transport-independent API every specialist
// agent and chat tool calls into. It wraps whichever Transport it is
// built with (cmd/server/main.go picks tool-RPC or direct HTTP at
// startup) with the ToolCache and in-flight request
// de-duplication described in §4.1/§4.2.
type MapAdapter struct {
	transport Transport
	cacheOn   bool
	toolCache *cache.ToolCache
	dedup     *callGroup
	log       *zap.SugaredLogger
}

// Option configures a MapAdapter at construction.
type Option func(*MapAdapter)

// WithCache enables the ToolCache for read operations.
func WithCache(c *cache.ToolCache) Option {
	return func(a *MapAdapter) {
		a.toolCache = c
		a.cacheOn = true
	}
}

// NewMapAdapter wraps transport with caching and de-duplication.
func NewMapAdapter(transport Transport, log *zap.SugaredLogger, opts ...Option) *MapAdapter {
	a := &MapAdapter{
		transport: transport,
		dedup:     newCallGroup(),
		log:       log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// cachedCall de-duplicates concurrent identical calls and, when caching is
// enabled, serves repeat calls within the cache type's TTL from the
// ToolCache instead of re-invoking fn. fn must itself never return a
// non-nil error: every Transport method already degrades upstream
// failures into a null/empty shape, so only that shape is ever cached or
// returned here.
func (a *MapAdapter) cachedCall(cacheType cache.CacheType, params map[string]interface{}, fn func() any) any {
	key, keyErr := cache.Key(cacheType, params)

	if a.cacheOn && keyErr == nil {
		if cached, ok := a.toolCache.Get(key); ok {
			return cached
		}
	}

	dedupKey := key
	if keyErr != nil {
		dedupKey = string(cacheType)
	}
	result, _ := a.dedup.Do(dedupKey, func() (interface{}, error) {
		return fn(), nil
	})

	if a.cacheOn && keyErr == nil && !isNilResult(result) {
		if err := a.toolCache.Set(key, result, cacheType.DefaultTTL()); err != nil {
			a.log.Debugw("mapadapter: cache set skipped", "error", err)
		}
	}
	return result
}

// Geocode resolves a free-text query to a coordinate. Returns nil rather
// than an error on upstream failure.
func (a *MapAdapter) Geocode(ctx context.Context, query string) *GeocodeResult {
	res := a.cachedCall(cache.CacheTypeGeocode, map[string]interface{}{"query": query}, func() any {
		r, err := a.transport.Geocode(ctx, query)
		if err != nil {
			a.log.Warnw("mapadapter: geocode failed, returning empty shape", "query", query, "error", err)
			return (*GeocodeResult)(nil)
		}
		return r
	})
	out, _ := res.(*GeocodeResult)
	return out
}

func (a *MapAdapter) ReverseGeocode(ctx context.Context, point GeoPoint) *GeocodeResult {
	res := a.cachedCall(cache.CacheTypeGeocode, map[string]interface{}{"lat": point.Lat, "lng": point.Lng}, func() any {
		r, err := a.transport.ReverseGeocode(ctx, point)
		if err != nil {
			a.log.Warnw("mapadapter: reverse geocode failed", "error", err)
			return (*GeocodeResult)(nil)
		}
		return r
	})
	out, _ := res.(*GeocodeResult)
	return out
}

func (a *MapAdapter) GetWeatherForecast(ctx context.Context, city string, days int) *WeatherForecast {
	res := a.cachedCall(cache.CacheTypeWeather, map[string]interface{}{"city": city, "days": days}, func() any {
		r, err := a.transport.GetWeatherForecast(ctx, city, days)
		if err != nil {
			a.log.Warnw("mapadapter: weather forecast failed", "city", city, "error", err)
			return (*WeatherForecast)(nil)
		}
		return r
	})
	out, _ := res.(*WeatherForecast)
	return out
}

func (a *MapAdapter) SearchPOI(ctx context.Context, params POISearchParams) *POISearchResult {
	res := a.cachedCall(cache.CacheTypePOISearch, poiParamsKey(params), func() any {
		r, err := a.transport.SearchPOI(ctx, params)
		if err != nil {
			a.log.Warnw("mapadapter: POI search failed, returning empty list", "error", err)
			return &POISearchResult{}
		}
		return r
	})
	out, ok := res.(*POISearchResult)
	if !ok || out == nil {
		return &POISearchResult{}
	}
	return out
}

func (a *MapAdapter) SearchNearby(ctx context.Context, params POISearchParams) *POISearchResult {
	res := a.cachedCall(cache.CacheTypeNearbySearch, poiParamsKey(params), func() any {
		r, err := a.transport.SearchNearby(ctx, params)
		if err != nil {
			a.log.Warnw("mapadapter: nearby search failed, returning empty list", "error", err)
			return &POISearchResult{}
		}
		return r
	})
	out, ok := res.(*POISearchResult)
	if !ok || out == nil {
		return &POISearchResult{}
	}
	return out
}

func (a *MapAdapter) GetPOIDetail(ctx context.Context, id string) *POI {
	res := a.cachedCall(cache.CacheTypePOIDetail, map[string]interface{}{"id": id}, func() any {
		r, err := a.transport.GetPOIDetail(ctx, id)
		if err != nil {
			a.log.Warnw("mapadapter: POI detail failed", "id", id, "error", err)
			return (*POI)(nil)
		}
		return r
	})
	out, _ := res.(*POI)
	return out
}

func (a *MapAdapter) getRoute(ctx context.Context, mode RouteMode, origin, destination GeoPoint, city string) *RouteResult {
	params := map[string]interface{}{
		"mode": string(mode), "o_lat": origin.Lat, "o_lng": origin.Lng,
		"d_lat": destination.Lat, "d_lng": destination.Lng, "city": city,
	}
	res := a.cachedCall(cache.CacheTypeRoute, params, func() any {
		r, err := a.transport.GetRoute(ctx, mode, origin, destination, city)
		if err != nil {
			a.log.Warnw("mapadapter: route query failed", "mode", mode, "error", err)
			return (*RouteResult)(nil)
		}
		return r
	})
	out, _ := res.(*RouteResult)
	return out
}

func (a *MapAdapter) GetDrivingRoute(ctx context.Context, origin, destination GeoPoint, city string) *RouteResult {
	return a.getRoute(ctx, RouteModeDriving, origin, destination, city)
}

func (a *MapAdapter) GetWalkingRoute(ctx context.Context, origin, destination GeoPoint, city string) *RouteResult {
	return a.getRoute(ctx, RouteModeWalking, origin, destination, city)
}

func (a *MapAdapter) GetBicyclingRoute(ctx context.Context, origin, destination GeoPoint, city string) *RouteResult {
	return a.getRoute(ctx, RouteModeCycling, origin, destination, city)
}

func (a *MapAdapter) GetTransitRoute(ctx context.Context, origin, destination GeoPoint, city string) *RouteResult {
	return a.getRoute(ctx, RouteModeTransit, origin, destination, city)
}

func (a *MapAdapter) CalculateDistance(ctx context.Context, origin, destination GeoPoint) *DistanceResult {
	params := map[string]interface{}{"o_lat": origin.Lat, "o_lng": origin.Lng, "d_lat": destination.Lat, "d_lng": destination.Lng}
	res := a.cachedCall(cache.CacheTypeDistance, params, func() any {
		r, err := a.transport.CalculateDistance(ctx, origin, destination)
		if err != nil {
			a.log.Warnw("mapadapter: distance calc failed", "error", err)
			return &DistanceResult{DistanceM: haversineMeters(origin, destination)}
		}
		return r
	})
	out, _ := res.(*DistanceResult)
	return out
}

// Stats exposes the underlying ToolCache's hit/miss/eviction counters, or
// zero-value stats if caching is disabled.
func (a *MapAdapter) Stats() cache.ToolCacheStats {
	if !a.cacheOn {
		return cache.ToolCacheStats{}
	}
	return a.toolCache.Stats()
}

func poiParamsKey(p POISearchParams) map[string]interface{} {
	m := map[string]interface{}{
		"city": p.City, "keyword": p.Keyword, "type": p.Type,
		"radius": p.RadiusM, "page_size": p.PageSize,
	}
	if p.Location != nil {
		m["lat"] = p.Location.Lat
		m["lng"] = p.Location.Lng
	}
	return m
}

// isNilResult reports whether a typed-nil-or-untyped-nil result should be
// treated as "nothing to cache", matching §4.1's "rejects null/undefined".
func isNilResult(v interface{}) bool {
	switch r := v.(type) {
	case nil:
		return true
	case *GeocodeResult:
		return r == nil
	case *WeatherForecast:
		return r == nil
	case *POI:
		return r == nil
	case *RouteResult:
		return r == nil
	case *DistanceResult:
		return r == nil
	case *POISearchResult:
		return r == nil
	default:
		return false
	}
}
