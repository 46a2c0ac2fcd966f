// Package chat implements the tool-calling conversational agent: a
// streaming multi-round tool loop over a pluggable LLM provider, backed
// by a fixed tool surface and a two-phase itinerary-modification
// protocol.
package chat

import (
	"context"
	"fmt"

	"github.com/tripplanner/agentcore/internal/idsign"
	"github.com/tripplanner/agentcore/internal/llm/providers"
	"github.com/tripplanner/agentcore/internal/mapadapter"
	"github.com/tripplanner/agentcore/internal/metrics"
	"github.com/tripplanner/agentcore/internal/tripstore"
	"go.uber.org/zap"
)

// Deps bundles the collaborators the chat agent and its tools share.
// Metrics may be nil, in which case modification outcomes simply go
// unrecorded rather than panicking.
type Deps struct {
	Adapter  *mapadapter.MapAdapter
	LLM      providers.LLMProvider
	Store    tripstore.Store
	ModCache *ModificationCache
	Metrics  *metrics.Collector
	Signer   *idsign.Signer
	Log      *zap.SugaredLogger
}

// NewDeps wires a Deps with a fresh modification cache at the default
// §6 TTL (10 minutes, 60s sweep) and a signer over jwtSecret so opaque
// modification preview IDs handed to the client can't be forged or
// guessed. collector may be nil.
func NewDeps(adapter *mapadapter.MapAdapter, llm providers.LLMProvider, store tripstore.Store, collector *metrics.Collector, jwtSecret string, log *zap.SugaredLogger) *Deps {
	var onExpire func()
	if collector != nil {
		onExpire = func() { collector.RecordModificationOutcome("expired") }
	}
	return &Deps{
		Adapter:  adapter,
		LLM:      llm,
		Store:    store,
		ModCache: NewModificationCache(defaultModificationTTL, onExpire),
		Metrics:  collector,
		Signer:   idsign.New(jwtSecret),
		Log:      log,
	}
}

// recordModificationOutcome is a nil-safe shim so call sites don't need
// to guard on d.Metrics themselves.
func (d *Deps) recordModificationOutcome(outcome string) {
	if d.Metrics != nil {
		d.Metrics.RecordModificationOutcome(outcome)
	}
}

// askLLM mirrors specialist.Deps.askLLM: a single-turn prompt, raw
// completion text back.
func (d *Deps) askLLM(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if d.LLM == nil {
		return "", fmt.Errorf("chat: no LLM provider configured")
	}
	resp, err := d.LLM.GenerateResponse(ctx, &providers.GenerateRequest{
		Messages:    []providers.Message{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("chat: LLM request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat: no response choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
