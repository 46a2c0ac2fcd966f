package providers

import (
	"context"
	"fmt"
)

// OllamaProvider adapts the raw OllamaClient to the LLMProvider interface
// so Ollama sits behind the same GenerateRequest/GenerateResponse contract
// as the hosted providers. Ollama needs no API key; NewOllamaProvider skips
// BaseProvider's key check rather than require one.
type OllamaProvider struct {
	*BaseProvider
	client *OllamaClient
}

// NewOllamaProvider creates an Ollama-backed provider.
func NewOllamaProvider(config *LLMConfig) (LLMProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model is required for provider ollama")
	}

	base := NewBaseProvider(config, "ollama")
	client := NewOllamaClient(config.BaseURL, config.Timeout)

	return &OllamaProvider{BaseProvider: base, client: client}, nil
}

// GenerateResponse generates a single response via Ollama's chat endpoint.
func (p *OllamaProvider) GenerateResponse(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	prepared := p.PrepareRequest(req)
	ollamaReq := p.convertToOllamaRequest(prepared)

	var resp *OllamaChatResponse
	err := p.WithRetry(ctx, func() error {
		var err error
		resp, err = p.client.Chat(ctx, ollamaReq)
		if err != nil {
			return NewLLMError("connection_error", err.Error(), "client_error", "ollama")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return p.convertFromOllamaResponse(resp), nil
}

// StreamResponse generates a streaming response via Ollama's chat endpoint.
func (p *OllamaProvider) StreamResponse(ctx context.Context, req *GenerateRequest) (<-chan *StreamChunk, error) {
	prepared := p.PrepareRequest(req)
	ollamaReq := p.convertToOllamaRequest(prepared)

	ollamaChunks, err := p.client.ChatStream(ctx, ollamaReq)
	if err != nil {
		return nil, NewLLMError("connection_error", err.Error(), "client_error", "ollama")
	}

	chunks := make(chan *StreamChunk, 10)
	go func() {
		defer close(chunks)
		for oc := range ollamaChunks {
			select {
			case chunks <- p.convertOllamaStreamChunk(oc):
			case <-ctx.Done():
				return
			}
		}
	}()

	return chunks, nil
}

// GetModels lists models pulled into the local Ollama instance.
func (p *OllamaProvider) GetModels(ctx context.Context) ([]string, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, NewLLMError("connection_error", err.Error(), "client_error", "ollama")
	}
	models := make([]string, len(list.Models))
	for i, m := range list.Models {
		models[i] = m.Name
	}
	return models, nil
}

func (p *OllamaProvider) convertToOllamaRequest(req *GenerateRequest) *OllamaChatRequest {
	messages := make([]OllamaChatMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" && (len(req.Messages) == 0 || req.Messages[0].Role != "system") {
		messages = append(messages, OllamaChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, OllamaChatMessage{Role: m.Role, Content: m.Content})
	}

	options := map[string]interface{}{}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.TopP > 0 {
		options["top_p"] = req.TopP
	}

	return &OllamaChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   false,
		Options:  options,
	}
}

func (p *OllamaProvider) convertFromOllamaResponse(resp *OllamaChatResponse) *GenerateResponse {
	return &GenerateResponse{
		Model: resp.Model,
		Choices: []Choice{{
			Message:      Message{Role: resp.Message.Role, Content: resp.Message.Content},
			FinishReason: "stop",
		}},
	}
}

func (p *OllamaProvider) convertOllamaStreamChunk(resp *OllamaChatResponse) *StreamChunk {
	chunk := &StreamChunk{
		Model: resp.Model,
		Done:  resp.Done,
		Choices: []StreamChoice{{
			Delta: MessageDelta{Role: resp.Message.Role, Content: resp.Message.Content},
		}},
	}
	if resp.Done {
		reason := "stop"
		chunk.Choices[0].FinishReason = &reason
	}
	return chunk
}
