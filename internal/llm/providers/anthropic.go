package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AnthropicProvider implements LLMProvider for Anthropic Claude on top of
// the official anthropic-sdk-go Messages client.
type AnthropicProvider struct {
	*BaseProvider
	client *sdk.Client
	tracer trace.Tracer
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(config *LLMConfig) (LLMProvider, error) {
	base := NewBaseProvider(config, "anthropic")
	if err := base.ValidateConfig(); err != nil {
		return nil, err
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	opts = append(opts, option.WithRequestTimeout(timeout))

	client := sdk.NewClient(opts...)
	tracer := otel.Tracer("llm.anthropic")

	return &AnthropicProvider{
		BaseProvider: base,
		client:       &client,
		tracer:       tracer,
	}, nil
}

// GenerateResponse generates a single response using Anthropic.
func (p *AnthropicProvider) GenerateResponse(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	ctx, span := p.tracer.Start(ctx, "anthropic.generate_response")
	defer span.End()

	span.SetAttributes(
		attribute.String("llm.provider", "anthropic"),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.max_tokens", req.MaxTokens),
		attribute.Float64("llm.temperature", req.Temperature),
	)

	prepared := p.PrepareRequest(req)

	params, err := p.buildParams(prepared)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var response *GenerateResponse
	err = p.WithRetry(ctx, func() error {
		msg, err := p.client.Messages.New(ctx, *params)
		if err != nil {
			return p.handleAnthropicError(err)
		}
		response = p.convertFromAnthropicMessage(msg)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if response.Usage.TotalTokens > 0 {
		span.SetAttributes(
			attribute.Int("llm.usage.prompt_tokens", response.Usage.PromptTokens),
			attribute.Int("llm.usage.completion_tokens", response.Usage.CompletionTokens),
			attribute.Int("llm.usage.total_tokens", response.Usage.TotalTokens),
		)
	}

	return response, nil
}

// StreamResponse generates a streaming response using Anthropic, converting
// each content-block delta event into a StreamChunk as it arrives. Tool-use
// blocks carry their content-block index through ToolCall.Index so the chat
// loop's accumulator can join fragments belonging to the same call.
func (p *AnthropicProvider) StreamResponse(ctx context.Context, req *GenerateRequest) (<-chan *StreamChunk, error) {
	ctx, span := p.tracer.Start(ctx, "anthropic.stream_response")

	span.SetAttributes(
		attribute.String("llm.provider", "anthropic"),
		attribute.String("llm.model", req.Model),
		attribute.Bool("llm.stream", true),
	)

	prepared := p.PrepareRequest(req)
	prepared.Stream = true

	params, err := p.buildParams(prepared)
	if err != nil {
		span.RecordError(err)
		span.End()
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, *params)

	chunks := make(chan *StreamChunk, 10)

	go func() {
		defer close(chunks)
		defer span.End()
		defer stream.Close()

		blockID := map[int64]string{}
		blockName := map[int64]string{}
		var stopReason string

		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case sdk.ContentBlockStartEvent:
				if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
					blockID[ev.Index] = toolUse.ID
					blockName[ev.Index] = toolUse.Name
				}
			case sdk.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case sdk.TextDelta:
					if delta.Text == "" {
						continue
					}
					if !p.emit(ctx, chunks, &StreamChunk{
						Model:   prepared.Model,
						Choices: []StreamChoice{{Delta: MessageDelta{Content: delta.Text}}},
					}) {
						return
					}
				case sdk.InputJSONDelta:
					if delta.PartialJSON == "" {
						continue
					}
					tc := ToolCall{Index: int(ev.Index), ID: blockID[ev.Index], Type: "function"}
					tc.Function.Name = blockName[ev.Index]
					tc.Function.Arguments = delta.PartialJSON
					if !p.emit(ctx, chunks, &StreamChunk{
						Model:   prepared.Model,
						Choices: []StreamChoice{{Delta: MessageDelta{ToolCalls: []ToolCall{tc}}}},
					}) {
						return
					}
				}
			case sdk.MessageDeltaEvent:
				stopReason = string(ev.Delta.StopReason)
				usage := &Usage{
					PromptTokens:     int(ev.Usage.InputTokens),
					CompletionTokens: int(ev.Usage.OutputTokens),
					TotalTokens:      int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
				}
				if !p.emit(ctx, chunks, &StreamChunk{Model: prepared.Model, Usage: usage}) {
					return
				}
			case sdk.MessageStopEvent:
				fr := stopReason
				if !p.emit(ctx, chunks, &StreamChunk{
					Model:   prepared.Model,
					Choices: []StreamChoice{{FinishReason: &fr}},
					Done:    true,
				}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			span.RecordError(err)
		}
	}()

	return chunks, nil
}

func (p *AnthropicProvider) emit(ctx context.Context, chunks chan<- *StreamChunk, c *StreamChunk) bool {
	select {
	case chunks <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// GetModels returns known Anthropic models; Anthropic has no models-listing
// endpoint, so this mirrors the prior hard-coded catalogue, updated to the
// SDK's own model constants.
func (p *AnthropicProvider) GetModels(ctx context.Context) ([]string, error) {
	return []string{
		string(sdk.ModelClaudeSonnet4_5),
		string(sdk.ModelClaudeOpus4_1),
		string(sdk.ModelClaude3_5HaikuLatest),
	}, nil
}

func (p *AnthropicProvider) buildParams(req *GenerateRequest) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: at least one message is required")
	}

	msgs := req.Messages
	if req.SystemPrompt != "" {
		msgs = p.AddSystemMessage(req.Messages, req.SystemPrompt)
	}

	messages := make([]sdk.MessageParam, 0, len(msgs))
	var system []sdk.TextBlockParam

	for _, m := range msgs {
		if m.Role == "system" {
			system = append(system, sdk.TextBlockParam{Text: m.Content})
			continue
		}
		if m.Role == "tool" {
			messages = append(messages, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
		if m.Content != "" {
			blocks = append(blocks, sdk.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			var input any
			if tc.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					input = tc.Function.Arguments
				}
			}
			blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Function.Name))
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == "assistant" {
			messages = append(messages, sdk.NewAssistantMessage(blocks...))
		} else {
			messages = append(messages, sdk.NewUserMessage(blocks...))
		}
	}
	if len(messages) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		return nil, errors.New("anthropic: max_tokens must be positive")
	}

	params := &sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := make([]sdk.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			schema := sdk.ToolInputSchemaParam{ExtraFields: t.Function.Parameters}
			u := sdk.ToolUnionParamOfTool(schema, t.Function.Name)
			if u.OfTool != nil {
				u.OfTool.Description = sdk.String(t.Function.Description)
			}
			tools = append(tools, u)
		}
		params.Tools = tools
	}

	return params, nil
}

func (p *AnthropicProvider) convertFromAnthropicMessage(msg *sdk.Message) *GenerateResponse {
	message := Message{Role: "assistant"}
	var toolCalls []ToolCall

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			message.Content += block.Text
		case "tool_use":
			tc := ToolCall{ID: block.ID, Type: "function"}
			tc.Function.Name = block.Name
			tc.Function.Arguments = string(block.Input)
			toolCalls = append(toolCalls, tc)
		}
	}
	message.ToolCalls = toolCalls

	return &GenerateResponse{
		ID:      msg.ID,
		Model:   string(msg.Model),
		Choices: []Choice{{Message: message, FinishReason: string(msg.StopReason)}},
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
}

func (p *AnthropicProvider) handleAnthropicError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return NewLLMError(
			fmt.Sprintf("http_%d", apiErr.StatusCode),
			apiErr.Error(),
			"api_error",
			"anthropic",
		)
	}
	return NewLLMError("unknown_error", err.Error(), "client_error", "anthropic")
}
