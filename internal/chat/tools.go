package chat

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tripplanner/agentcore/internal/jsonutil"
	"github.com/tripplanner/agentcore/internal/llm/providers"
)

// ToolSpec is one entry of the fixed tool surface: its name/description
// for the LLM's function-calling prompt, its JSON Schema for argument
// validation, and the handler ToolExecutor dispatches to.
type ToolSpec struct {
	Name        string
	Description string
	ParamsJSON  string
	schema      *jsonschema.Schema
	paramsMap   map[string]interface{}
	Handler     ToolHandler
}

// AsProviderTool converts the spec into the function-calling shape every
// LLMProvider expects.
func (s *ToolSpec) AsProviderTool() providers.Tool {
	return providers.Tool{
		Type: "function",
		Function: providers.ToolFunction{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.paramsMap,
		},
	}
}

func tool(name, desc, paramsJSON string, handler ToolHandler) *ToolSpec {
	var paramsMap map[string]interface{}
	if err := json.Unmarshal([]byte(paramsJSON), &paramsMap); err != nil {
		panic("chat: invalid tool schema for " + name + ": " + err.Error())
	}
	return &ToolSpec{
		Name:        name,
		Description: desc,
		ParamsJSON:  paramsJSON,
		schema:      jsonutil.MustCompileSchema(name, paramsJSON),
		paramsMap:   paramsMap,
		Handler:     handler,
	}
}

// buildToolSpecs assembles the 12-tool surface named in §4.5. Handlers
// are defined in toolexecutor.go; this function only wires names to
// schemas to handlers so the two concerns (argument shape, argument
// interpretation) stay separated.
func buildToolSpecs() []*ToolSpec {
	return []*ToolSpec{
		tool("search_attractions", "Search attractions in a city.",
			`{"type":"object","properties":{
				"city":{"type":"string"},
				"keywords":{"type":"string"},
				"type":{"type":"string"},
				"limit":{"type":"integer","minimum":1,"maximum":20}
			},"required":["city"]}`, handleSearchAttractions),

		tool("search_hotels", "Search hotels in a city.",
			`{"type":"object","properties":{
				"city":{"type":"string"},
				"priceRange":{"type":"string","enum":["economy","standard","luxury"]},
				"type":{"type":"string"},
				"limit":{"type":"integer","minimum":1,"maximum":20}
			},"required":["city"]}`, handleSearchHotels),

		tool("search_restaurants", "Search restaurants in a city.",
			`{"type":"object","properties":{
				"city":{"type":"string"},
				"cuisine":{"type":"string"},
				"priceRange":{"type":"string","enum":["economy","standard","luxury"]},
				"limit":{"type":"integer","minimum":1,"maximum":20}
			},"required":["city"]}`, handleSearchRestaurants),

		tool("get_weather", "Get the weather forecast for a city.",
			`{"type":"object","properties":{
				"city":{"type":"string"},
				"date":{"type":"string"}
			},"required":["city"]}`, handleGetWeather),

		tool("calculate_route", "Calculate a route between two points.",
			`{"type":"object","properties":{
				"origin":{"type":"string"},
				"destination":{"type":"string"},
				"mode":{"type":"string","enum":["driving","walking","cycling","transit"]}
			},"required":["origin","destination"]}`, handleCalculateRoute),

		tool("get_recommendations", "Get recommendations for a category in a city.",
			`{"type":"object","properties":{
				"city":{"type":"string"},
				"category":{"type":"string","enum":["attractions","restaurants","hotels","activities"]},
				"preferences":{"type":"array","items":{"type":"string"}}
			},"required":["city","category"]}`, handleGetRecommendations),

		tool("get_trip_details", "Fetch a previously generated trip's itinerary.",
			`{"type":"object","properties":{
				"tripId":{"type":"string"}
			},"required":["tripId"]}`, handleGetTripDetails),

		tool("prepare_trip_form", "Assemble and validate a trip-planning form from fields gathered so far.",
			`{"type":"object","properties":{
				"destination":{"type":"string"},
				"start_date":{"type":"string"},
				"end_date":{"type":"string"},
				"budget":{"type":"number"},
				"travelers":{"type":"integer"},
				"preferences":{"type":"array","items":{"type":"string"}},
				"notes":{"type":"string"}
			}}`, handlePrepareTripForm),

		tool("confirm_and_generate_trip", "Confirm a validated trip form and trigger itinerary generation.",
			`{"type":"object","properties":{
				"form_data":{"type":"object"},
				"session_id":{"type":"string"}
			},"required":["form_data"]}`, handleConfirmAndGenerateTrip),

		tool("prepare_itinerary_modification", "Preview a modification to an existing itinerary.",
			`{"type":"object","properties":{
				"trip_id":{"type":"string"},
				"operation":{"type":"string","enum":["add_attraction","remove_attraction","reorder_attraction","update_attraction","change_time","add_day","remove_day","change_hotel","change_restaurant","optimize_route","replan_day","adjust_for_weather","split_day","merge_days","regenerate_trip_segment"]},
				"params":{"type":"object"},
				"reason":{"type":"string"}
			},"required":["trip_id","operation","params"]}`, handlePrepareModification),

		tool("confirm_itinerary_modification", "Confirm a previously previewed itinerary modification.",
			`{"type":"object","properties":{
				"modification_id":{"type":"string"},
				"user_adjustments":{"type":"object"}
			},"required":["modification_id"]}`, handleConfirmModification),

		tool("cancel_itinerary_modification", "Cancel a previously previewed itinerary modification.",
			`{"type":"object","properties":{
				"modification_id":{"type":"string"}
			},"required":["modification_id"]}`, handleCancelModification),
	}
}

// requiredFormFields/optionalFormFields drive prepare_trip_form's
// validation object per §4.5.
var requiredFormFields = []string{"destination", "start_date", "end_date", "budget", "travelers"}
var optionalFormFields = []string{"preferences", "notes"}
