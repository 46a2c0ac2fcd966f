package specialist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tripplanner/agentcore/internal/mapadapter"
	"github.com/tripplanner/agentcore/internal/orchestration"
)

var weatherSchema = mustCompileSchema("weather-report.json", `{
	"type": "object",
	"required": ["strategyTags", "clothingAdvice"],
	"properties": {
		"strategyTags": {"type": "array", "items": {"type": "string"}},
		"clothingAdvice": {"type": "string"},
		"warnings": {"type": "array", "items": {"type": "string"}}
	}
}`)

type weatherLLMOutput struct {
	StrategyTags   []string `json:"strategyTags"`
	ClothingAdvice string   `json:"clothingAdvice"`
	Warnings       []string `json:"warnings"`
}

// WeatherScout returns the Weather Scout NodeFunc: it fetches a forecast,
// asks the LLM to classify it into strategy tags when one is configured,
// and otherwise (or on parse failure) falls back to the rule-based
// analyzer. The result always carries at least one strategy tag.
func WeatherScout(deps *Deps, metrics *MetricsTracker) orchestration.NodeFunc {
	return func(ctx context.Context, state *orchestration.TripState) (orchestration.StateUpdate, error) {
		start := time.Now()
		forecast := deps.Adapter.GetWeatherForecast(ctx, state.Input.Destination, state.Input.Days())

		tags, advice, warnings := ruleBasedWeather(forecast)
		confidence := 0.55

		if deps.LLM != nil {
			if out, err := weatherFromLLM(ctx, deps, state.Input.Destination, forecast); err == nil {
				tags, advice, warnings = out.tags(), out.ClothingAdvice, out.Warnings
				confidence = 0.85
			} else {
				deps.Log.Debugw("weather_scout: LLM classification failed, using rule-based fallback", "error", err)
			}
		}

		if len(tags) == 0 {
			tags = []orchestration.StrategyTag{orchestration.StrategyOutdoorFriendly}
		}

		var days []mapadapter.DailyWeather
		if forecast != nil {
			days = forecast.Days
		}

		metrics.Record(time.Since(start), confidence, true)
		return orchestration.StateUpdate{
			Weather: &orchestration.WeatherReport{
				Days:           days,
				StrategyTags:   tags,
				ClothingAdvice: advice,
				Warnings:       warnings,
			},
		}, nil
	}
}

func (w weatherLLMOutput) tags() []orchestration.StrategyTag {
	tags := make([]orchestration.StrategyTag, 0, len(w.StrategyTags))
	for _, t := range w.StrategyTags {
		tags = append(tags, orchestration.StrategyTag(t))
	}
	return tags
}

func weatherFromLLM(ctx context.Context, deps *Deps, destination string, forecast *mapadapter.WeatherForecast) (weatherLLMOutput, error) {
	var summary strings.Builder
	if forecast != nil {
		for _, d := range forecast.Days {
			fmt.Fprintf(&summary, "%s: day %s (%.0f°C), night %s (%.0f°C), wind %s\n",
				d.Date, d.DayLabel, d.DayTemp, d.NightLabel, d.NightTemp, d.Wind)
		}
	}

	prompt := fmt.Sprintf(`You are planning a trip to %s. Forecast:
%s
Emit a single JSON object with keys "strategyTags" (an array drawn from
indoor_priority, outdoor_friendly, rain_prepared, cold_weather, hot_weather),
"clothingAdvice" (a short sentence), and "warnings" (an array of short
strings, may be empty). Reply with only the JSON object.`, destination, summary.String())

	text, err := deps.askLLM(ctx, prompt, 400)
	if err != nil {
		return weatherLLMOutput{}, err
	}
	raw, err := extractJSONObject(text)
	if err != nil {
		return weatherLLMOutput{}, err
	}
	var out weatherLLMOutput
	if err := decodeAndValidate(raw, weatherSchema, &out); err != nil {
		return weatherLLMOutput{}, err
	}
	if len(out.StrategyTags) == 0 {
		return weatherLLMOutput{}, fmt.Errorf("specialist: LLM returned no strategy tags")
	}
	return out, nil
}

// ruleBasedWeather classifies a forecast deterministically: rain in any
// day's label forces indoor_priority+rain_prepared, the trip's hottest day
// above 30C forces hot_weather, its coldest night below 10C forces
// cold_weather, and absent any of those outdoor_friendly applies.
func ruleBasedWeather(forecast *mapadapter.WeatherForecast) ([]orchestration.StrategyTag, string, []string) {
	if forecast == nil || len(forecast.Days) == 0 {
		return []orchestration.StrategyTag{orchestration.StrategyOutdoorFriendly},
			"Forecast unavailable; pack adaptable layers and a light rain shell.", nil
	}

	var tags []orchestration.StrategyTag
	var warnings []string
	maxDay := forecast.Days[0].DayTemp
	minNight := forecast.Days[0].NightTemp
	rain := false

	for _, d := range forecast.Days {
		if d.DayTemp > maxDay {
			maxDay = d.DayTemp
		}
		if d.NightTemp < minNight {
			minNight = d.NightTemp
		}
		if looksLikeRain(d.DayLabel) || looksLikeRain(d.NightLabel) {
			rain = true
			warnings = append(warnings, fmt.Sprintf("Rain expected around %s, plan indoor alternatives", d.Date))
		}
	}

	if rain {
		tags = append(tags, orchestration.StrategyIndoorPriority, orchestration.StrategyRainPrepared)
	}
	if maxDay > 30 {
		tags = append(tags, orchestration.StrategyHotWeather)
	}
	if minNight < 10 {
		tags = append(tags, orchestration.StrategyColdWeather)
	}
	if len(tags) == 0 {
		tags = append(tags, orchestration.StrategyOutdoorFriendly)
	}

	return tags, clothingAdviceFor(tags), warnings
}

func looksLikeRain(label string) bool {
	l := strings.ToLower(label)
	return strings.Contains(l, "rain") || strings.Contains(label, "雨")
}

func clothingAdviceFor(tags []orchestration.StrategyTag) string {
	var parts []string
	for _, t := range tags {
		switch t {
		case orchestration.StrategyRainPrepared:
			parts = append(parts, "bring a compact umbrella or rain shell")
		case orchestration.StrategyHotWeather:
			parts = append(parts, "pack light breathable clothing and sun protection")
		case orchestration.StrategyColdWeather:
			parts = append(parts, "pack a warm layer for the evenings")
		case orchestration.StrategyIndoorPriority:
			parts = append(parts, "favor indoor-friendly layers you can shed easily")
		case orchestration.StrategyOutdoorFriendly:
			parts = append(parts, "comfortable walking shoes will serve you well")
		}
	}
	if len(parts) == 0 {
		return "Pack versatile layers for changing conditions."
	}
	return strings.ToUpper(parts[0][:1]) + parts[0][1:] + "."
}
