package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini summarizes with the Gemini API using an API key.
type Gemini struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	prompt   string
	maxChars int
}

func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: no API key provided")
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	modelName := strings.TrimPrefix(cfg.Model, "models/")
	if modelName == "" {
		modelName = defaultGeminiModel
	}

	return &Gemini{
		client:   client,
		model:    client.GenerativeModel(modelName),
		prompt:   cfg.Prompt,
		maxChars: cfg.MaxInputChars,
	}, nil
}

func (g *Gemini) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	resp, err := g.model.GenerateContent(ctx, genai.Text(BuildPrompt(g.prompt, text, g.maxChars)))
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	return geminiText(resp), nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}

// geminiText concatenates the text parts of the first candidate.
func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(sb.String())
}
