package specialist

import (
	"context"
	"time"

	"github.com/tripplanner/agentcore/internal/mapadapter"
	"github.com/tripplanner/agentcore/internal/orchestration"
)

// fallbackSpeedKmh estimates travel duration from great-circle distance
// when every route query for a mode fails.
var fallbackSpeedKmh = map[mapadapter.RouteMode]float64{
	mapadapter.RouteModeWalking: 4.5,
	mapadapter.RouteModeCycling: 15,
	mapadapter.RouteModeTransit: 25,
	mapadapter.RouteModeDriving: 30,
}

// Transport returns the Transport NodeFunc: for every day it builds
// hotel->attraction->...->hotel segments, picks a mode per the §4.3
// distance-bucket rule, prefers a live route query and falls back to the
// haversine distance when the query fails, and prices each segment with
// the taxi/transit/cycling cost models.
func Transport(deps *Deps, metrics *MetricsTracker) orchestration.NodeFunc {
	return func(ctx context.Context, state *orchestration.TripState) (orchestration.StateUpdate, error) {
		start := time.Now()

		if state.Draft == nil {
			metrics.Record(time.Since(start), 0, false)
			return orchestration.StateUpdate{}, nil
		}

		var hotel *mapadapter.GeoPoint
		if state.Accommodation != nil && state.Accommodation.Selected != nil {
			loc := state.Accommodation.Selected.Location
			hotel = &loc
		} else if state.Accommodation != nil {
			loc := state.Accommodation.Centroid
			hotel = &loc
		}

		var segments []orchestration.TransportSegment
		for _, day := range state.Draft.Days {
			points := dayWaypoints(hotel, day.Attractions)
			for i := 0; i+1 < len(points); i++ {
				if points[i].loc == nil || points[i+1].loc == nil {
					continue
				}
				seg := buildSegment(ctx, deps, day.DayIndex, points[i], points[i+1], state.Input.Destination)
				segments = append(segments, seg)
			}
		}

		total := 0.0
		for _, s := range segments {
			total += s.Cost * float64(state.Input.Travelers)
		}

		metrics.Record(time.Since(start), 0.7, true)
		return orchestration.StateUpdate{
			Transport: &orchestration.TransportResult{Segments: segments, TotalCost: total},
		}, nil
	}
}

type waypoint struct {
	name string
	loc  *mapadapter.GeoPoint
}

func dayWaypoints(hotel *mapadapter.GeoPoint, attractions []orchestration.AttractionSlot) []waypoint {
	var points []waypoint
	if hotel != nil {
		points = append(points, waypoint{name: "hotel", loc: hotel})
	}
	for _, a := range attractions {
		points = append(points, waypoint{name: a.Name, loc: a.Location})
	}
	if hotel != nil {
		points = append(points, waypoint{name: "hotel", loc: hotel})
	}
	return points
}

func buildSegment(ctx context.Context, deps *Deps, day int, from, to waypoint, city string) orchestration.TransportSegment {
	distance := deps.Adapter.CalculateDistance(ctx, *from.loc, *to.loc)
	distM := 0.0
	if distance != nil {
		distM = distance.DistanceM
	}
	distKm := distM / 1000

	for _, mode := range modeCandidates(distKm) {
		if route := getRouteForMode(ctx, deps, mode, *from.loc, *to.loc, city); route != nil {
			return orchestration.TransportSegment{
				Day: day, From: from.name, To: to.name, Mode: mode,
				DurationMins: route.DurationMins, DistanceM: route.DistanceM,
				Cost: costForMode(mode, route.DistanceM/1000),
			}
		}
	}

	mode := modeCandidates(distKm)[0]
	speed := fallbackSpeedKmh[mode]
	durationMins := 0.0
	if speed > 0 {
		durationMins = distKm / speed * 60
	}
	return orchestration.TransportSegment{
		Day: day, From: from.name, To: to.name, Mode: mode,
		DurationMins: durationMins, DistanceM: distM,
		Cost: costForMode(mode, distKm),
	}
}

// modeCandidates orders the modes to try for a given great-circle
// distance: under 1km walking only, 1-5km cycling only, 5-15km transit
// then driving, over 15km driving then transit.
func modeCandidates(distKm float64) []mapadapter.RouteMode {
	switch {
	case distKm < 1:
		return []mapadapter.RouteMode{mapadapter.RouteModeWalking}
	case distKm < 5:
		return []mapadapter.RouteMode{mapadapter.RouteModeCycling}
	case distKm < 15:
		return []mapadapter.RouteMode{mapadapter.RouteModeTransit, mapadapter.RouteModeDriving}
	default:
		return []mapadapter.RouteMode{mapadapter.RouteModeDriving, mapadapter.RouteModeTransit}
	}
}

func getRouteForMode(ctx context.Context, deps *Deps, mode mapadapter.RouteMode, origin, destination mapadapter.GeoPoint, city string) *mapadapter.RouteResult {
	switch mode {
	case mapadapter.RouteModeWalking:
		return deps.Adapter.GetWalkingRoute(ctx, origin, destination, city)
	case mapadapter.RouteModeCycling:
		return deps.Adapter.GetBicyclingRoute(ctx, origin, destination, city)
	case mapadapter.RouteModeTransit:
		return deps.Adapter.GetTransitRoute(ctx, origin, destination, city)
	default:
		return deps.Adapter.GetDrivingRoute(ctx, origin, destination, city)
	}
}

// costForMode prices one segment: driving uses the taxi model (13 base +
// 2.5/km over 3km), transit is 2 per 5km capped at 10, cycling is a flat
// 1.5 up to 5km else 5, and walking is free. Preserved byte-for-byte per
// §4.3's constants.
func costForMode(mode mapadapter.RouteMode, distKm float64) float64 {
	switch mode {
	case mapadapter.RouteModeDriving:
		cost := 13.0
		if distKm > 3 {
			cost += (distKm - 3) * 2.5
		}
		return cost
	case mapadapter.RouteModeTransit:
		cost := (distKm / 5) * 2
		if cost > 10 {
			cost = 10
		}
		return cost
	case mapadapter.RouteModeCycling:
		if distKm <= 5 {
			return 1.5
		}
		return 5
	default:
		return 0
	}
}
