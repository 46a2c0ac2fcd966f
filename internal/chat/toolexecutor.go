package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tripplanner/agentcore/internal/jsonutil"
	"github.com/tripplanner/agentcore/internal/llm/providers"
	"github.com/tripplanner/agentcore/internal/mapadapter"
	"github.com/tripplanner/agentcore/internal/orchestration"
	"github.com/tripplanner/agentcore/internal/tools"
)

// ToolHandler interprets already-schema-validated arguments and returns
// a structured result; it never returns a bare Go error to the chat
// loop, per §7's "chat tool results always produce a structured JSON
// object even on failure" policy.
type ToolHandler func(ctx context.Context, deps *Deps, args map[string]interface{}) tools.ToolResult

// ToolExecutor validates and dispatches calls against the fixed §4.5
// tool surface, continuing internal/tools.ToolRegistry's
// name-to-implementation lookup but with real JSON Schema validation
// ahead of every call.
type ToolExecutor struct {
	deps  *Deps
	specs map[string]*ToolSpec
}

// NewToolExecutor builds the full 12-tool registry.
func NewToolExecutor(deps *Deps) *ToolExecutor {
	e := &ToolExecutor{deps: deps, specs: make(map[string]*ToolSpec)}
	for _, s := range buildToolSpecs() {
		e.specs[s.Name] = s
	}
	return e
}

// ProviderToolList returns the tool surface in the shape LLMProvider
// expects for GenerateRequest.Tools.
func (e *ToolExecutor) ProviderToolList() []providers.Tool {
	out := make([]providers.Tool, 0, len(e.specs))
	for _, s := range e.specs {
		out = append(out, s.AsProviderTool())
	}
	return out
}

// Dispatch decodes argsJSON, validates it against the named tool's
// schema, and invokes its handler. A schema violation short-circuits to a
// validation_error result, and an unknown tool name to an unknown_tool
// result, without invoking the handler body, per §4.5.
func (e *ToolExecutor) Dispatch(ctx context.Context, name, argsJSON string) tools.ToolResult {
	spec, ok := e.specs[name]
	if !ok {
		return tools.Fail("unknown_tool", fmt.Sprintf("unknown tool: %s", name), name)
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return tools.Fail("validation_error", "arguments are not valid JSON: "+err.Error(), name)
	}
	if err := jsonutil.Validate(spec.schema, args); err != nil {
		return tools.Fail("validation_error", err.Error(), name)
	}

	return spec.Handler(ctx, e.deps, args)
}

func handleSearchAttractions(ctx context.Context, deps *Deps, args map[string]interface{}) tools.ToolResult {
	res := deps.Adapter.SearchPOI(ctx, mapadapter.POISearchParams{
		City:     stringParam(args, "city", ""),
		Keyword:  stringParam(args, "keywords", ""),
		Type:     orDefault(stringParam(args, "type", ""), "attraction"),
		PageSize: orDefaultInt(intParam(args, "limit", 0), 10),
	})
	return tools.Ok(res)
}

func handleSearchHotels(ctx context.Context, deps *Deps, args map[string]interface{}) tools.ToolResult {
	res := deps.Adapter.SearchPOI(ctx, mapadapter.POISearchParams{
		City:     stringParam(args, "city", ""),
		Keyword:  stringParam(args, "priceRange", "") + " hotel",
		Type:     "hotel",
		PageSize: orDefaultInt(intParam(args, "limit", 0), 10),
	})
	return tools.Ok(res)
}

func handleSearchRestaurants(ctx context.Context, deps *Deps, args map[string]interface{}) tools.ToolResult {
	res := deps.Adapter.SearchPOI(ctx, mapadapter.POISearchParams{
		City:     stringParam(args, "city", ""),
		Keyword:  stringParam(args, "cuisine", ""),
		Type:     "restaurant",
		PageSize: orDefaultInt(intParam(args, "limit", 0), 10),
	})
	return tools.Ok(res)
}

func handleGetWeather(ctx context.Context, deps *Deps, args map[string]interface{}) tools.ToolResult {
	res := deps.Adapter.GetWeatherForecast(ctx, stringParam(args, "city", ""), 7)
	return tools.Ok(res)
}

func handleCalculateRoute(ctx context.Context, deps *Deps, args map[string]interface{}) tools.ToolResult {
	origin := stringParam(args, "origin", "")
	dest := stringParam(args, "destination", "")
	mode := mapadapter.RouteMode(orDefault(stringParam(args, "mode", ""), "driving"))

	originGeo := deps.Adapter.Geocode(ctx, origin)
	destGeo := deps.Adapter.Geocode(ctx, dest)
	if originGeo == nil || destGeo == nil {
		return tools.Fail("upstream_unavailable", "could not geocode origin/destination", "calculate_route")
	}

	var route *mapadapter.RouteResult
	switch mode {
	case mapadapter.RouteModeWalking:
		route = deps.Adapter.GetWalkingRoute(ctx, originGeo.Location, destGeo.Location, dest)
	case mapadapter.RouteModeCycling:
		route = deps.Adapter.GetBicyclingRoute(ctx, originGeo.Location, destGeo.Location, dest)
	case mapadapter.RouteModeTransit:
		route = deps.Adapter.GetTransitRoute(ctx, originGeo.Location, destGeo.Location, dest)
	default:
		route = deps.Adapter.GetDrivingRoute(ctx, originGeo.Location, destGeo.Location, dest)
	}
	if route == nil {
		dist := deps.Adapter.CalculateDistance(ctx, originGeo.Location, destGeo.Location)
		return tools.Ok(map[string]interface{}{"mode": mode, "distance_m": dist.DistanceM, "estimated": true})
	}
	return tools.Ok(route)
}

func handleGetRecommendations(ctx context.Context, deps *Deps, args map[string]interface{}) tools.ToolResult {
	category := stringParam(args, "category", "attractions")
	typeMap := map[string]string{
		"attractions": "attraction",
		"restaurants": "restaurant",
		"hotels":      "hotel",
		"activities":  "attraction",
	}
	keyword := ""
	if prefs, ok := args["preferences"].([]interface{}); ok && len(prefs) > 0 {
		if s, ok := prefs[0].(string); ok {
			keyword = s
		}
	}
	res := deps.Adapter.SearchPOI(ctx, mapadapter.POISearchParams{
		City:     stringParam(args, "city", ""),
		Keyword:  keyword,
		Type:     typeMap[category],
		PageSize: 10,
	})
	return tools.Ok(res)
}

func handleGetTripDetails(ctx context.Context, deps *Deps, args map[string]interface{}) tools.ToolResult {
	tripID := stringParam(args, "tripId", "")
	trip, err := deps.Store.GetByID(ctx, tripID)
	if err != nil {
		return tools.Fail("not_found", "trip not found", "get_trip_details")
	}
	return tools.Ok(trip)
}

func handlePrepareTripForm(ctx context.Context, deps *Deps, args map[string]interface{}) tools.ToolResult {
	validation := validateForm(args)
	return tools.Ok(map[string]interface{}{
		"formData":   args,
		"validation": validation,
	})
}

func handleConfirmAndGenerateTrip(ctx context.Context, deps *Deps, args map[string]interface{}) tools.ToolResult {
	form, _ := args["form_data"].(map[string]interface{})
	validation := validateForm(form)
	if !validation.IsValid {
		return tools.Fail("validation_error", "trip form is incomplete or invalid", "confirm_and_generate_trip")
	}
	return tools.Ok(map[string]interface{}{
		"action":    "trigger_generation",
		"formData":  form,
		"sessionId": stringParam(args, "session_id", ""),
	})
}

// FormValidation is prepare_trip_form/confirm_and_generate_trip's
// validation object.
type FormValidation struct {
	IsValid         bool     `json:"isValid"`
	MissingRequired []string `json:"missingRequired"`
	MissingOptional []string `json:"missingOptional"`
}

func validateForm(form map[string]interface{}) FormValidation {
	v := FormValidation{IsValid: true}
	for _, f := range requiredFormFields {
		if isBlank(form[f]) {
			v.MissingRequired = append(v.MissingRequired, f)
			v.IsValid = false
		}
	}
	for _, f := range optionalFormFields {
		if isBlank(form[f]) {
			v.MissingOptional = append(v.MissingOptional, f)
		}
	}
	start, sOk := form["start_date"].(string)
	end, eOk := form["end_date"].(string)
	if sOk && eOk && start != "" && end != "" {
		st, err1 := time.Parse("2006-01-02", start)
		et, err2 := time.Parse("2006-01-02", end)
		if err1 == nil && err2 == nil && et.Before(st) {
			v.IsValid = false
			v.MissingRequired = append(v.MissingRequired, "end_date before start_date")
		}
	}
	return v
}

func isBlank(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case float64:
		return t == 0
	}
	return false
}

func handlePrepareModification(ctx context.Context, deps *Deps, args map[string]interface{}) tools.ToolResult {
	operation := stringParam(args, "operation", "")
	if rejectedOperations[operation] {
		return tools.Fail("validation_error", fmt.Sprintf("operation %q is not supported", operation), "prepare_itinerary_modification")
	}

	tripID := stringParam(args, "trip_id", "")
	trip, err := deps.Store.GetByID(ctx, tripID)
	if err != nil {
		return tools.Fail("not_found", "trip not found", "prepare_itinerary_modification")
	}

	params, _ := args["params"].(map[string]interface{})
	after, changes, err := applyOperation(ctx, deps, trip, operation, params)
	if err != nil {
		return tools.Fail("validation_error", err.Error(), "prepare_itinerary_modification")
	}

	impact := assessImpact(trip, after)
	modID := uuid.NewString()
	deps.ModCache.put(modID, &previewEntry{
		TripID:    tripID,
		Operation: operation,
		Before:    trip,
		After:     after,
		Changes:   changes,
		Impact:    impact,
		Status:    modPending,
		ExpiresAt: time.Now().Add(defaultModificationTTL),
	})

	return tools.Ok(map[string]interface{}{
		"modificationId": deps.Signer.Sign(modID),
		"preview":        after,
		"changes":        changes,
		"impact":         impact,
	})
}

func handleConfirmModification(ctx context.Context, deps *Deps, args map[string]interface{}) tools.ToolResult {
	modID, err := deps.Signer.Verify(stringParam(args, "modification_id", ""))
	if err != nil {
		return tools.Fail("not_found", "expired or not exist", "confirm_itinerary_modification")
	}
	entry, ok := deps.ModCache.get(modID)
	if !ok {
		return tools.Fail("not_found", "expired or not exist", "confirm_itinerary_modification")
	}

	final := entry.After
	if adj, ok := args["user_adjustments"].(map[string]interface{}); ok {
		applyUserTimeAdjustments(final, adj)
	}

	if err := deps.Store.Save(ctx, entry.TripID, final); err != nil {
		return tools.Fail("upstream_unavailable", "failed to persist confirmed itinerary", "confirm_itinerary_modification")
	}
	entry.Status = modConfirmed
	deps.ModCache.delete(modID)
	deps.recordModificationOutcome("confirmed")

	return tools.Ok(map[string]interface{}{"tripId": entry.TripID, "itinerary": final})
}

func handleCancelModification(ctx context.Context, deps *Deps, args map[string]interface{}) tools.ToolResult {
	signedID := stringParam(args, "modification_id", "")
	modID, err := deps.Signer.Verify(signedID)
	if err != nil {
		return tools.Fail("not_found", "expired or not exist", "cancel_itinerary_modification")
	}
	entry, ok := deps.ModCache.get(modID)
	if !ok {
		return tools.Fail("not_found", "expired or not exist", "cancel_itinerary_modification")
	}
	entry.Status = modCancelled
	deps.ModCache.delete(modID)
	deps.recordModificationOutcome("cancelled")
	return tools.Ok(map[string]interface{}{"modificationId": signedID, "status": "cancelled"})
}

// applyUserTimeAdjustments applies a {"day_<dayIndex>": ["HH:MM", ...]}
// style map of last-mile time tweaks gathered during confirmation; the
// Nth time in a day's list becomes the start time of its Nth activity.
func applyUserTimeAdjustments(trip *orchestration.FinalItinerary, adjustments map[string]interface{}) {
	for _, d := range trip.Days {
		key := fmt.Sprintf("day_%d", d.DayIndex)
		raw, ok := adjustments[key]
		if !ok {
			continue
		}
		times, ok := raw.([]interface{})
		if !ok {
			continue
		}
		for i := range d.Activities {
			if i < len(times) {
				if t, ok := times[i].(string); ok && t != "" {
					d.Activities[i].Time = t
				}
			}
		}
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
