// Copyright 2026 © The Concierge Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider talks to the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini provider. An empty apiKey falls back to
// GOOGLE_API_KEY or GEMINI_API_KEY.
func NewGemini(ctx context.Context, baseURL, apiKey, model string) (*GeminiProvider, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions.BaseURL = baseURL
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

// Chat implements Provider.
func (p *GeminiProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	contents, system := geminiContents(req.Messages)
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	temp := float32(req.Temperature)
	config.Temperature = &temp
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	out, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content failed: %w", err)
	}

	resp := &ChatResponse{}
	if out.UsageMetadata != nil {
		resp.Usage = Usage{
			PromptTokens:     int(out.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(out.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(out.UsageMetadata.TotalTokenCount),
		}
	}
	if len(out.Candidates) > 0 && out.Candidates[0].Content != nil {
		for _, part := range out.Candidates[0].Content.Parts {
			resp.Content += part.Text
		}
	}
	return resp, nil
}

func geminiContents(msgs []Message) ([]*genai.Content, string) {
	var system string
	contents := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case RoleSystem:
			system = msg.Content
		case RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}
	return contents, system
}
