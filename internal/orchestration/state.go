package orchestration

import (
	"time"

	"github.com/tripplanner/agentcore/internal/mapadapter"
)

// TripInput is the immutable request that seeds a single graph run.
type TripInput struct {
	Origin           string   `json:"origin,omitempty"`
	Destination      string   `json:"destination"`
	StartDate        string   `json:"start_date"`
	EndDate          string   `json:"end_date"`
	StartTime        string   `json:"start_time,omitempty"`
	EndTime          string   `json:"end_time,omitempty"`
	Budget           float64  `json:"budget"`
	Travelers        int      `json:"travelers"`
	AdultCount       int      `json:"adult_count"`
	ChildCount       int      `json:"child_count"`
	Preferences      []string `json:"preferences,omitempty"`
	HotelPreferences []string `json:"hotel_preferences,omitempty"`
	Notes            string   `json:"notes,omitempty"`
}

// Nights returns the number of nights between StartDate and EndDate,
// falling back to 1 if the dates don't parse (defensive only; TripInput
// is validated before a run starts).
func (t TripInput) Nights() int {
	start, err1 := time.Parse("2006-01-02", t.StartDate)
	end, err2 := time.Parse("2006-01-02", t.EndDate)
	if err1 != nil || err2 != nil {
		return 1
	}
	n := int(end.Sub(start).Hours() / 24)
	if n < 1 {
		return 1
	}
	return n
}

// Days returns Nights()+1, the number of calendar days covered.
func (t TripInput) Days() int { return t.Nights() + 1 }

// StrategyTag biases downstream agents toward an itinerary shape without
// forcing a specific plan.
type StrategyTag string

const (
	StrategyIndoorPriority StrategyTag = "indoor_priority"
	StrategyOutdoorFriendly StrategyTag = "outdoor_friendly"
	StrategyRainPrepared   StrategyTag = "rain_prepared"
	StrategyColdWeather    StrategyTag = "cold_weather"
	StrategyHotWeather     StrategyTag = "hot_weather"
)

// WeatherReport is the Weather Scout's output.
type WeatherReport struct {
	Days            []mapadapter.DailyWeather `json:"days"`
	StrategyTags    []StrategyTag             `json:"strategy_tags"`
	ClothingAdvice  string                    `json:"clothing_advice"`
	Warnings        []string                  `json:"warnings,omitempty"`
}

// HasStrategy reports whether tag is present in the report.
func (w WeatherReport) HasStrategy(tag StrategyTag) bool {
	for _, t := range w.StrategyTags {
		if t == tag {
			return true
		}
	}
	return false
}

// AttractionSlot is one scheduled attraction visit within a draft day.
type AttractionSlot struct {
	StartTime string             `json:"start_time"`
	Name      string             `json:"name"`
	Duration  string             `json:"duration,omitempty"`
	Type      string             `json:"type,omitempty"`
	Location  *mapadapter.GeoPoint `json:"location,omitempty"`
	POIID     string             `json:"poi_id,omitempty"`
}

// MealSlot is one scheduled meal within a draft day.
type MealSlot struct {
	Time    string `json:"time"`
	Meal    string `json:"meal"` // breakfast|lunch|dinner|snack
	Cuisine string `json:"cuisine,omitempty"`
}

// DraftDay is one day of a DraftItinerary.
type DraftDay struct {
	DayIndex    int              `json:"day_index"` // 1-based
	Date        string           `json:"date"`
	Attractions []AttractionSlot `json:"attractions"`
	Meals       []MealSlot       `json:"meals"`
}

// DraftItinerary is the Itinerary Planner's output.
type DraftItinerary struct {
	Days                   []DraftDay `json:"days"`
	TotalAttractionCount   int        `json:"total_attraction_count"`
	EstimatedAttractionCost float64   `json:"estimated_attraction_cost"`
}

// Renumber resets DayIndex/Date to a contiguous 1-based sequence matching
// the current slice order, preserving the invariant that day indices are
// contiguous and start at 1 after every insertion/removal.
func (d *DraftItinerary) Renumber(startDate string) {
	start, err := time.Parse("2006-01-02", startDate)
	for i := range d.Days {
		d.Days[i].DayIndex = i + 1
		if err == nil {
			d.Days[i].Date = start.AddDate(0, 0, i).Format("2006-01-02")
		}
	}
}

// EnrichedAttraction augments a raw AttractionSlot with heuristic or
// LLM-sourced commercial detail.
type EnrichedAttraction struct {
	Name               string             `json:"name"`
	Location           mapadapter.GeoPoint `json:"location"`
	Address            string             `json:"address,omitempty"`
	TicketPrice        float64            `json:"ticket_price"`
	OpeningHours       string             `json:"opening_hours,omitempty"`
	Rating             float64            `json:"rating,omitempty"`
	Photos             []string           `json:"photos,omitempty"`
	Tel                string             `json:"tel,omitempty"`
	Description        string             `json:"description,omitempty"`
	RecommendedMinutes int                `json:"recommended_minutes,omitempty"`
	Tips               string             `json:"tips,omitempty"`
	Tags               []string           `json:"tags,omitempty"`
	POIID              string             `json:"poi_id,omitempty"`
	Category           string             `json:"category,omitempty"`
}

// EnrichmentResult is the Attraction Enricher's output.
type EnrichmentResult struct {
	Attractions     []EnrichedAttraction `json:"attractions"`
	TotalTicketCost float64              `json:"total_ticket_cost"`
}

// HotelRecommendation is one ranked hotel candidate.
type HotelRecommendation struct {
	Name          string              `json:"name"`
	Location      mapadapter.GeoPoint `json:"location"`
	Address       string              `json:"address,omitempty"`
	PriceTier     string              `json:"price_tier"` // economy|standard|luxury
	PricePerNight float64             `json:"price_per_night"`
	Rating        float64             `json:"rating,omitempty"`
	POIID         string              `json:"poi_id,omitempty"`
}

// AccommodationResult is the Accommodation agent's output.
type AccommodationResult struct {
	Recommendations []HotelRecommendation `json:"recommendations"`
	Selected        *HotelRecommendation  `json:"selected"`
	TotalCost       float64               `json:"total_cost"`
	Centroid        mapadapter.GeoPoint   `json:"centroid"`
}

// TransportSegment is one leg of a day's travel plan.
type TransportSegment struct {
	Day          int                  `json:"day"`
	From         string               `json:"from"`
	To           string               `json:"to"`
	Mode         mapadapter.RouteMode `json:"mode"`
	DurationMins float64              `json:"duration_mins"`
	DistanceM    float64              `json:"distance_m"`
	Cost         float64              `json:"cost"`
}

// TransportResult is the Transport agent's output.
type TransportResult struct {
	Segments  []TransportSegment `json:"segments"`
	TotalCost float64            `json:"total_cost"`
}

// DiningRecommendation is a restaurant tagged to a specific day/meal.
type DiningRecommendation struct {
	Day      int                 `json:"day"`
	Meal     string              `json:"meal"`
	Name     string              `json:"name"`
	Location mapadapter.GeoPoint `json:"location"`
	Price    float64             `json:"price"`
	POIID    string              `json:"poi_id,omitempty"`
}

// DiningResult is the Dining agent's output.
type DiningResult struct {
	Recommendations []DiningRecommendation `json:"recommendations"`
	TotalCost       float64                `json:"total_cost"`
}

// BudgetFeedback names the single biggest lever the planner should pull
// on the next retry.
type BudgetFeedback struct {
	Action          string  `json:"action"` // downgrade_hotel|reduce_attractions|cheaper_transport|adjust_meals
	TargetReduction float64 `json:"target_reduction"`
	Suggestion      string  `json:"suggestion"`
}

// BudgetResult is the Budget Critic's output.
type BudgetResult struct {
	TotalCost     float64            `json:"total_cost"`
	Utilization   float64            `json:"utilization"`
	IsWithinBudget bool              `json:"is_within_budget"`
	Breakdown     map[string]float64 `json:"breakdown"`
	Feedback      *BudgetFeedback    `json:"feedback,omitempty"`
}

// FinalActivity is one scheduled activity in the finalized itinerary.
type FinalActivity struct {
	Time        string              `json:"time"`
	Name        string              `json:"name"`
	Type        string              `json:"type,omitempty"`
	Location    mapadapter.GeoPoint `json:"location"`
	Duration    string              `json:"duration"`
	Description string              `json:"description"`
	TicketPrice float64             `json:"ticket_price"`
}

// FinalMeal is one scheduled meal in the finalized itinerary.
type FinalMeal struct {
	Time  string  `json:"time"`
	Meal  string  `json:"meal"`
	Name  string  `json:"name,omitempty"`
	Price float64 `json:"price"`
}

// FinalDay is one day of a FinalItinerary.
type FinalDay struct {
	DayIndex   int             `json:"day_index"`
	Date       string          `json:"date"`
	Activities []FinalActivity `json:"activities"`
	Meals      []FinalMeal     `json:"meals"`
}

// FinalTransportation summarizes to/from-destination travel plus local
// transport spend.
type FinalTransportation struct {
	ToDestination   string  `json:"to_destination,omitempty"`
	FromDestination string  `json:"from_destination,omitempty"`
	LocalMethods    []string `json:"local_methods"`
	EstimatedLocalCost float64 `json:"estimated_local_cost"`
}

// CostBreakdown is the finalized estimated cost, including the "other"
// reserve.
type CostBreakdown struct {
	Attractions float64 `json:"attractions"`
	Hotel       float64 `json:"hotel"`
	Transport   float64 `json:"transport"`
	Dining      float64 `json:"dining"`
	Other       float64 `json:"other"`
	Total       float64 `json:"total"`
}

// FinalItinerary is the Finalizer's output, ready to present to the user.
type FinalItinerary struct {
	Destination   string                 `json:"destination"`
	Days          []FinalDay             `json:"days"`
	Accommodation []HotelRecommendation  `json:"accommodation"`
	Transportation FinalTransportation   `json:"transportation"`
	Cost          CostBreakdown          `json:"cost"`
	Summary       string                 `json:"summary"`
}

// RunMeta is shallow-merged into state on every node update: free-form
// bookkeeping that does not warrant its own typed field.
type RunMeta map[string]interface{}

// RunStatus is the coarse lifecycle state of one graph execution.
type RunStatus string

const (
	StatusRunning              RunStatus = "running"
	StatusSuspendedItinerary   RunStatus = "suspended:itinerary_review"
	StatusSuspendedBudget      RunStatus = "suspended:budget_decision"
	StatusTerminatedCancelled  RunStatus = "terminated:cancelled"
	StatusCompleted            RunStatus = "completed"
)

// TripState is the single typed state bag threaded through every node of
// an orchestration run. Every specialist agent receives a read-only copy
// and returns a StateUpdate (never mutating its input) naming only the
// fields it touched; the executor merges updates with Reduce and
// MergeFanIn below.
type TripState struct {
	ThreadID string    `json:"thread_id"`
	Input    TripInput `json:"input"`
	Status   RunStatus `json:"status"`

	Weather        *WeatherReport        `json:"weather,omitempty"`
	Draft          *DraftItinerary       `json:"draft,omitempty"`
	Enrichment     *EnrichmentResult     `json:"enrichment,omitempty"`
	Accommodation  *AccommodationResult  `json:"accommodation,omitempty"`
	Transport      *TransportResult      `json:"transport,omitempty"`
	Dining         *DiningResult         `json:"dining,omitempty"`
	Budget         *BudgetResult         `json:"budget,omitempty"`
	Final          *FinalItinerary       `json:"final,omitempty"`

	RetryCount int     `json:"retry_count"`
	Meta       RunMeta `json:"meta,omitempty"`

	Interrupt *Interrupt `json:"interrupt,omitempty"`

	CurrentNode string `json:"current_node"`
}

// Clone returns a deep-enough copy for safe concurrent fan-out: each
// resource agent receives its own *TripState and can read freely without
// a lock, matching the "no agent mutates input state" rule.
func (s *TripState) Clone() *TripState {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Meta = make(RunMeta, len(s.Meta))
	for k, v := range s.Meta {
		clone.Meta[k] = v
	}
	return &clone
}

// StateUpdate is the partial result a node returns; nil fields mean "no
// change". RetryDelta is added (never overwritten) into RetryCount.
type StateUpdate struct {
	Weather       *WeatherReport
	Draft         *DraftItinerary
	Enrichment    *EnrichmentResult
	Accommodation *AccommodationResult
	Transport     *TransportResult
	Dining        *DiningResult
	Budget        *BudgetResult
	Final         *FinalItinerary

	RetryDelta int
	Meta       RunMeta

	Interrupt    *Interrupt
	ClearInterrupt bool
	Status       RunStatus
}

// Reduce applies update onto state's leaf fields ("last writer wins"),
// adds RetryDelta into RetryCount, and shallow-merges Meta. It never
// mutates the receiver; it returns a new *TripState.
func Reduce(state *TripState, update StateUpdate) *TripState {
	next := state.Clone()

	if update.Weather != nil {
		next.Weather = update.Weather
	}
	if update.Draft != nil {
		next.Draft = update.Draft
	}
	if update.Enrichment != nil {
		next.Enrichment = update.Enrichment
	}
	if update.Accommodation != nil {
		next.Accommodation = update.Accommodation
	}
	if update.Transport != nil {
		next.Transport = update.Transport
	}
	if update.Dining != nil {
		next.Dining = update.Dining
	}
	if update.Budget != nil {
		next.Budget = update.Budget
	}
	if update.Final != nil {
		next.Final = update.Final
	}
	if update.RetryDelta != 0 {
		next.RetryCount += update.RetryDelta
	}
	for k, v := range update.Meta {
		next.Meta[k] = v
	}
	if update.ClearInterrupt {
		next.Interrupt = nil
	} else if update.Interrupt != nil {
		next.Interrupt = update.Interrupt
	}
	if update.Status != "" {
		next.Status = update.Status
	}
	return next
}

// MergeFanIn reduces a set of concurrently-produced updates in any order
// and yields the same result, because accommodation/transport/dining
// write disjoint fields (fan-in determinism, §8).
func MergeFanIn(state *TripState, updates ...StateUpdate) *TripState {
	next := state
	for _, u := range updates {
		next = Reduce(next, u)
	}
	return next
}
