package specialist

import (
	"context"
	"fmt"
	"time"

	"github.com/tripplanner/agentcore/internal/llm/providers"
	"github.com/tripplanner/agentcore/internal/mapadapter"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Deps bundles the shared collaborators every specialist NodeFunc closes
// over. LLM is optional: a nil LLM means the agent always takes its
// rule-based path, the degrade mode required everywhere in §4.3.
type Deps struct {
	Adapter *mapadapter.MapAdapter
	LLM     providers.LLMProvider
	Log     *zap.SugaredLogger

	// EnrichLimiter paces MapAdapter lookups issued one-per-attraction
	// during planning/enrichment to at most one every 200ms (§4.3).
	EnrichLimiter *rate.Limiter
}

// NewDeps wires the limiter to the ≥200ms inter-call pacing §4.3 requires;
// llm may be nil.
func NewDeps(adapter *mapadapter.MapAdapter, llm providers.LLMProvider, log *zap.SugaredLogger) *Deps {
	return &Deps{
		Adapter:       adapter,
		LLM:           llm,
		Log:           log,
		EnrichLimiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
}

// askLLM sends a single-turn user prompt and returns the raw completion
// text, mirroring BaseAgent.ExecuteLLM's request shape.
func (d *Deps) askLLM(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if d.LLM == nil {
		return "", fmt.Errorf("specialist: no LLM provider configured")
	}
	resp, err := d.LLM.GenerateResponse(ctx, &providers.GenerateRequest{
		Messages:    []providers.Message{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("specialist: LLM request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("specialist: no response choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// throttleEnrichCall blocks until the shared limiter admits one more
// MapAdapter lookup, enforcing the ≥200ms pacing across every caller
// that shares this Deps (Itinerary Planner and Attraction Enricher both
// hammer MapAdapter.SearchPOI/Geocode per-attraction).
func (d *Deps) throttleEnrichCall(ctx context.Context) error {
	return d.EnrichLimiter.Wait(ctx)
}
