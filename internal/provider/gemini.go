package provider

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Gemini generates completions with the Gemini API.
type Gemini struct {
	client *genai.Client
	name   string
	model  string
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, name, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini provider %s: API key is required", name)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini provider %s: failed to create client: %w", name, err)
	}
	return &Gemini{client: client, name: name, model: model}, nil
}

func (g *Gemini) Name() string  { return g.name }
func (g *Gemini) Model() string { return g.model }

// Complete generates a reply for the request.
func (g *Gemini) Complete(ctx context.Context, req Request) (*Result, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := genai.RoleUser
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		cfg.Temperature = req.Temperature
	}
	if len(req.Stop) > 0 {
		cfg.StopSequences = req.Stop
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, classify(fmt.Errorf("gemini completion: %w", err))
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("%w: gemini returned an empty completion", ErrTransient)
	}

	result := &Result{
		Text:     text,
		Provider: g.name,
		Model:    g.model,
	}
	if len(resp.Candidates) > 0 {
		result.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if resp.UsageMetadata != nil {
		result.PromptTokens = resp.UsageMetadata.PromptTokenCount
		result.CompletionTokens = resp.UsageMetadata.CandidatesTokenCount
	}
	return result, nil
}
