package chat

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tripplanner/agentcore/internal/mapadapter"
	"github.com/tripplanner/agentcore/internal/orchestration"
)

const (
	defaultModificationTTL  = 10 * time.Minute
	modificationSweepPeriod = 60 * time.Second
)

// ModificationChange describes one field-level edit applied to produce
// the "after" itinerary from the "before" one.
type ModificationChange struct {
	Field       string `json:"field"`
	Description string `json:"description"`
}

// ImpactAssessment summarizes the consequence of a modification before
// the caller commits to it.
type ImpactAssessment struct {
	AffectedDays []int    `json:"affected_days"`
	CostDelta    float64  `json:"cost_delta"`
	Warnings     []string `json:"warnings,omitempty"`
}

// modificationStatus is the lifecycle of one preview entry.
type modificationStatus string

const (
	modPending   modificationStatus = "pending"
	modConfirmed modificationStatus = "confirmed"
	modCancelled modificationStatus = "cancelled"
)

// previewEntry is what prepare_itinerary_modification stores and
// confirm/cancel later resolve.
type previewEntry struct {
	TripID    string
	Operation string
	Before    *orchestration.FinalItinerary
	After     *orchestration.FinalItinerary
	Changes   []ModificationChange
	Impact    ImpactAssessment
	Status    modificationStatus
	ExpiresAt time.Time
}

// ModificationCache is the 10-minute TTL store backing the two-phase
// preview/confirm protocol. A background goroutine sweeps expired
// entries every 60s; Close stops it so the process can exit cleanly,
// matching the checkpointer/tool-cache singleton lifecycle discipline.
type ModificationCache struct {
	mu       sync.Mutex
	entries  map[string]*previewEntry
	ttl      time.Duration
	ticker   *time.Ticker
	done     chan struct{}
	onExpire func()
}

// NewModificationCache starts the sweep goroutine immediately. onExpire
// (may be nil) is called once per entry that expires, whether that is
// discovered by the periodic sweep or by a get() that lands after the
// TTL; NewDeps wires this to the metrics collector's "expired" outcome
// counter.
func NewModificationCache(ttl time.Duration, onExpire func()) *ModificationCache {
	c := &ModificationCache{
		entries:  make(map[string]*previewEntry),
		ttl:      ttl,
		ticker:   time.NewTicker(modificationSweepPeriod),
		done:     make(chan struct{}),
		onExpire: onExpire,
	}
	go c.sweepLoop()
	return c
}

func (c *ModificationCache) sweepLoop() {
	for {
		select {
		case <-c.done:
			return
		case now := <-c.ticker.C:
			c.sweep(now)
		}
	}
}

func (c *ModificationCache) sweep(now time.Time) {
	c.mu.Lock()
	expired := 0
	for id, e := range c.entries {
		if now.After(e.ExpiresAt) {
			delete(c.entries, id)
			expired++
		}
	}
	c.mu.Unlock()
	for i := 0; i < expired; i++ {
		c.notifyExpired()
	}
}

func (c *ModificationCache) notifyExpired() {
	if c.onExpire != nil {
		c.onExpire()
	}
}

// Close stops the sweep goroutine. Safe to call once.
func (c *ModificationCache) Close() {
	c.ticker.Stop()
	close(c.done)
}

func (c *ModificationCache) put(id string, e *previewEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = e
}

// get returns the entry if present and unexpired; an expired entry is
// treated as missing (and evicted), per §4.5/§7.
func (c *ModificationCache) get(id string) (*previewEntry, bool) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	if time.Now().After(e.ExpiresAt) {
		delete(c.entries, id)
		c.mu.Unlock()
		c.notifyExpired()
		return nil, false
	}
	c.mu.Unlock()
	return e, true
}

func (c *ModificationCache) delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// rejectedOperations are declared in the tool surface's operation enum
// but handlePrepareModification refuses them before applyOperation runs:
// the repo does not implement day-granularity restructuring.
var rejectedOperations = map[string]bool{
	"split_day":               true,
	"merge_days":              true,
	"regenerate_trip_segment": true,
}

// cloneItinerary deep-copies the slices a modification might mutate.
func cloneItinerary(trip *orchestration.FinalItinerary) *orchestration.FinalItinerary {
	cp := *trip
	cp.Days = make([]orchestration.FinalDay, len(trip.Days))
	for i, d := range trip.Days {
		nd := d
		nd.Activities = append([]orchestration.FinalActivity(nil), d.Activities...)
		nd.Meals = append([]orchestration.FinalMeal(nil), d.Meals...)
		cp.Days[i] = nd
	}
	cp.Accommodation = append([]orchestration.HotelRecommendation(nil), trip.Accommodation...)
	return &cp
}

func totalCost(trip *orchestration.FinalItinerary) float64 {
	total := 0.0
	for _, d := range trip.Days {
		for _, a := range d.Activities {
			total += a.TicketPrice
		}
		for _, m := range d.Meals {
			total += m.Price
		}
	}
	total += trip.Transportation.EstimatedLocalCost
	return total
}

func dayIndexOf(trip *orchestration.FinalItinerary, day int) int {
	for i, d := range trip.Days {
		if d.DayIndex == day {
			return i
		}
	}
	return -1
}

// applyOperation applies one named modification to a deep copy of trip,
// returning the after-state, the changes that produced it, and the
// impact assessment. It never mutates trip.
func applyOperation(ctx context.Context, deps *Deps, trip *orchestration.FinalItinerary, operation string, params map[string]interface{}) (*orchestration.FinalItinerary, []ModificationChange, error) {
	after := cloneItinerary(trip)
	var changes []ModificationChange

	switch operation {
	case "add_attraction":
		day := intParam(params, "day", 1)
		idx := dayIndexOf(after, day)
		if idx < 0 {
			return nil, nil, fmt.Errorf("%w: day %d not found", orchestration.ErrValidationFailure, day)
		}
		act := orchestration.FinalActivity{
			Time:        stringParam(params, "time", "14:00"),
			Name:        stringParam(params, "name", "New activity"),
			Duration:    stringParam(params, "duration", "2 hours"),
			Description: stringParam(params, "description", ""),
			TicketPrice: floatParam(params, "ticket_price", 0),
		}
		after.Days[idx].Activities = append(after.Days[idx].Activities, act)
		changes = append(changes, ModificationChange{Field: fmt.Sprintf("days[%d].activities", day), Description: "added " + act.Name})

	case "remove_attraction":
		day := intParam(params, "day", 1)
		index := intParam(params, "activity_index", -1)
		idx := dayIndexOf(after, day)
		if idx < 0 || index < 0 || index >= len(after.Days[idx].Activities) {
			return nil, nil, fmt.Errorf("%w: day %d activity %d not found", orchestration.ErrValidationFailure, day, index)
		}
		removed := after.Days[idx].Activities[index]
		after.Days[idx].Activities = append(after.Days[idx].Activities[:index], after.Days[idx].Activities[index+1:]...)
		changes = append(changes, ModificationChange{Field: fmt.Sprintf("days[%d].activities", day), Description: "removed " + removed.Name})

	case "reorder_attraction":
		day := intParam(params, "day", 1)
		from, to := intParam(params, "from_index", -1), intParam(params, "to_index", -1)
		idx := dayIndexOf(after, day)
		if idx < 0 {
			return nil, nil, fmt.Errorf("%w: day %d not found", orchestration.ErrValidationFailure, day)
		}
		acts := after.Days[idx].Activities
		if from < 0 || from >= len(acts) || to < 0 || to >= len(acts) {
			return nil, nil, fmt.Errorf("%w: reorder indices out of range", orchestration.ErrValidationFailure)
		}
		moved := acts[from]
		acts = append(acts[:from], acts[from+1:]...)
		acts = append(acts[:to], append([]orchestration.FinalActivity{moved}, acts[to:]...)...)
		after.Days[idx].Activities = acts
		changes = append(changes, ModificationChange{Field: fmt.Sprintf("days[%d].activities", day), Description: "reordered " + moved.Name})

	case "update_attraction":
		day := intParam(params, "day", 1)
		index := intParam(params, "activity_index", -1)
		idx := dayIndexOf(after, day)
		if idx < 0 || index < 0 || index >= len(after.Days[idx].Activities) {
			return nil, nil, fmt.Errorf("%w: day %d activity %d not found", orchestration.ErrValidationFailure, day, index)
		}
		a := &after.Days[idx].Activities[index]
		if v, ok := params["name"].(string); ok && v != "" {
			a.Name = v
		}
		if v, ok := params["duration"].(string); ok && v != "" {
			a.Duration = v
		}
		if v, ok := params["description"].(string); ok && v != "" {
			a.Description = v
		}
		changes = append(changes, ModificationChange{Field: fmt.Sprintf("days[%d].activities[%d]", day, index), Description: "updated " + a.Name})

	case "change_time":
		day := intParam(params, "day", 1)
		index := intParam(params, "activity_index", -1)
		idx := dayIndexOf(after, day)
		if idx < 0 || index < 0 || index >= len(after.Days[idx].Activities) {
			return nil, nil, fmt.Errorf("%w: day %d activity %d not found", orchestration.ErrValidationFailure, day, index)
		}
		newTime := stringParam(params, "time", "")
		if newTime == "" {
			return nil, nil, fmt.Errorf("%w: time is required", orchestration.ErrValidationFailure)
		}
		after.Days[idx].Activities[index].Time = newTime
		changes = append(changes, ModificationChange{Field: fmt.Sprintf("days[%d].activities[%d].time", day, index), Description: "moved to " + newTime})

	case "add_day":
		newDay := orchestration.FinalDay{DayIndex: len(after.Days) + 1}
		if len(after.Days) > 0 {
			last, err := time.Parse("2006-01-02", after.Days[len(after.Days)-1].Date)
			if err == nil {
				newDay.Date = last.AddDate(0, 0, 1).Format("2006-01-02")
			}
		}
		after.Days = append(after.Days, newDay)
		changes = append(changes, ModificationChange{Field: "days", Description: fmt.Sprintf("added day %d", newDay.DayIndex)})

	case "remove_day":
		day := intParam(params, "day", -1)
		idx := dayIndexOf(after, day)
		if idx < 0 {
			return nil, nil, fmt.Errorf("%w: day %d not found", orchestration.ErrValidationFailure, day)
		}
		after.Days = append(after.Days[:idx], after.Days[idx+1:]...)
		for i := range after.Days {
			after.Days[i].DayIndex = i + 1
		}
		changes = append(changes, ModificationChange{Field: "days", Description: fmt.Sprintf("removed day %d", day)})

	case "change_hotel":
		name := stringParam(params, "hotel_name", "")
		if name == "" {
			return nil, nil, fmt.Errorf("%w: hotel_name is required", orchestration.ErrValidationFailure)
		}
		var found *orchestration.HotelRecommendation
		for i := range after.Accommodation {
			if after.Accommodation[i].Name == name {
				found = &after.Accommodation[i]
				break
			}
		}
		if found == nil {
			return nil, nil, fmt.Errorf("%w: hotel %q not among recommendations", orchestration.ErrValidationFailure, name)
		}
		changes = append(changes, ModificationChange{Field: "accommodation", Description: "switched to " + name})

	case "change_restaurant":
		day := intParam(params, "day", 1)
		meal := stringParam(params, "meal", "")
		name := stringParam(params, "name", "")
		idx := dayIndexOf(after, day)
		if idx < 0 || name == "" {
			return nil, nil, fmt.Errorf("%w: day/name required", orchestration.ErrValidationFailure)
		}
		found := false
		for i := range after.Days[idx].Meals {
			if after.Days[idx].Meals[i].Meal == meal {
				after.Days[idx].Meals[i].Name = name
				found = true
				break
			}
		}
		if !found {
			return nil, nil, fmt.Errorf("%w: meal %q not found on day %d", orchestration.ErrValidationFailure, meal, day)
		}
		changes = append(changes, ModificationChange{Field: fmt.Sprintf("days[%d].meals", day), Description: "switched " + meal + " to " + name})

	case "optimize_route":
		day := intParam(params, "day", 1)
		idx := dayIndexOf(after, day)
		if idx < 0 {
			return nil, nil, fmt.Errorf("%w: day %d not found", orchestration.ErrValidationFailure, day)
		}
		optimizeRouteForDay(&after.Days[idx])
		changes = append(changes, ModificationChange{Field: fmt.Sprintf("days[%d].activities", day), Description: "reordered by nearest-neighbor route"})

	case "replan_day":
		day := intParam(params, "day", 1)
		idx := dayIndexOf(after, day)
		if idx < 0 {
			return nil, nil, fmt.Errorf("%w: day %d not found", orchestration.ErrValidationFailure, day)
		}
		replanDay(ctx, deps, &after.Days[idx], params)
		changes = append(changes, ModificationChange{Field: fmt.Sprintf("days[%d]", day), Description: "replanned"})

	case "adjust_for_weather":
		day := intParam(params, "day", 1)
		idx := dayIndexOf(after, day)
		if idx < 0 {
			return nil, nil, fmt.Errorf("%w: day %d not found", orchestration.ErrValidationFailure, day)
		}
		note := adjustForWeather(ctx, deps, &after.Days[idx], stringParam(params, "strategy", "mixed"))
		changes = append(changes, ModificationChange{Field: fmt.Sprintf("days[%d].activities", day), Description: note})

	default:
		return nil, nil, fmt.Errorf("%w: unknown operation %q", orchestration.ErrValidationFailure, operation)
	}

	return after, changes, nil
}

// optimizeRouteForDay reorders activities via a nearest-neighbor walk
// over their coordinates starting from the first activity, then
// redistributes start times from the day's original first time with 30
// minutes of slack between activities, per §4.5.
func optimizeRouteForDay(day *orchestration.FinalDay) {
	if len(day.Activities) < 2 {
		return
	}
	startTime := day.Activities[0].Time
	remaining := append([]orchestration.FinalActivity(nil), day.Activities...)
	ordered := []orchestration.FinalActivity{remaining[0]}
	remaining = remaining[1:]

	for len(remaining) > 0 {
		cur := ordered[len(ordered)-1].Location
		bestIdx, bestDist := 0, math.MaxFloat64
		for i, a := range remaining {
			d := haversineMeters(cur, a.Location)
			if d < bestDist {
				bestDist, bestIdx = d, i
			}
		}
		ordered = append(ordered, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	t, err := time.Parse("15:04", startTime)
	if err != nil {
		t, _ = time.Parse("15:04", "09:00")
	}
	for i := range ordered {
		ordered[i].Time = t.Format("15:04")
		t = t.Add(30 * time.Minute)
	}
	day.Activities = ordered
}

func haversineMeters(a, b mapadapter.GeoPoint) float64 {
	const r = 6371000.0
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * r * math.Asin(math.Sqrt(h))
}

// replanDay regenerates a day's activities via the LLM under the
// keep/exclude/preference constraints in params, when an LLM is
// configured: activities named in keepAttractions keep their slot and the
// rest are renamed in order. Without an LLM, or when it returns no names,
// the day is left unchanged.
func replanDay(ctx context.Context, deps *Deps, day *orchestration.FinalDay, params map[string]interface{}) {
	if deps.LLM == nil {
		return
	}
	keep, _ := params["keepAttractions"].([]interface{})
	exclude, _ := params["excludeAttractions"].([]interface{})
	prefs, _ := params["preferences"].([]interface{})
	prompt := fmt.Sprintf(
		"Suggest replacement activity names (comma-separated, no explanation) for a day that must keep %v and must not include %v, favouring %v. Day has %d current slots.",
		keep, exclude, prefs, len(day.Activities))
	text, err := deps.askLLM(ctx, prompt, 200)
	if err != nil || text == "" {
		return
	}
	names := splitCSV(text)
	if len(names) == 0 {
		return
	}
	for i := range day.Activities {
		if i < len(names) && !containsStr(keep, day.Activities[i].Name) {
			day.Activities[i].Name = names[i]
		}
	}
}

// adjustForWeather replaces outdoor activities with LLM-suggested indoor
// alternatives when strategy is "indoor"; otherwise it is a no-op and
// returns a descriptive note either way.
func adjustForWeather(ctx context.Context, deps *Deps, day *orchestration.FinalDay, strategy string) string {
	if strategy != "indoor" {
		return "weather strategy " + strategy + ": no activities changed"
	}
	if deps.LLM == nil {
		return "indoor strategy requested but no LLM configured: outdoor activities kept"
	}
	changed := 0
	for i, a := range day.Activities {
		if a.Type != "outdoor" {
			continue
		}
		prompt := fmt.Sprintf("Suggest one indoor replacement (name only) for the outdoor activity %q.", a.Name)
		text, err := deps.askLLM(ctx, prompt, 60)
		if err != nil || text == "" {
			continue
		}
		day.Activities[i].Name = firstLine(text)
		day.Activities[i].Type = "indoor"
		changed++
	}
	return fmt.Sprintf("replaced %d outdoor activities with indoor alternatives", changed)
}

func assessImpact(before, after *orchestration.FinalItinerary) ImpactAssessment {
	impact := ImpactAssessment{CostDelta: totalCost(after) - totalCost(before)}
	seen := make(map[int]bool)
	for _, d := range after.Days {
		count := len(d.Activities)
		if count == 0 {
			impact.Warnings = append(impact.Warnings, fmt.Sprintf("day %d has no activities", d.DayIndex))
		}
		if count > 6 {
			impact.Warnings = append(impact.Warnings, fmt.Sprintf("day %d has %d activities, consider trimming", d.DayIndex, count))
		}
		seen[d.DayIndex] = true
	}
	for d := range seen {
		impact.AffectedDays = append(impact.AffectedDays, d)
	}
	sort.Ints(impact.AffectedDays)
	return impact
}

func intParam(params map[string]interface{}, key string, def int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

func floatParam(params map[string]interface{}, key string, def float64) float64 {
	if v, ok := params[key].(float64); ok {
		return v
	}
	return def
}

func stringParam(params map[string]interface{}, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}
