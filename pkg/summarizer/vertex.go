package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// Vertex summarizes with Gemini models served by Vertex AI, authenticating
// through application default credentials.
type Vertex struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	prompt   string
	maxChars int
}

func NewVertex(ctx context.Context, cfg Config) (*Vertex, error) {
	if cfg.Project == "" || cfg.Location == "" {
		return nil, errors.New("vertex: project and location cannot be empty")
	}

	client, err := genai.NewClient(ctx, cfg.Project, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("vertex: create client: %w", err)
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	model := client.GenerativeModel(modelName)
	model.Temperature = genai.Ptr[float32](0.2)

	return &Vertex{
		client:   client,
		model:    model,
		prompt:   cfg.Prompt,
		maxChars: cfg.MaxInputChars,
	}, nil
}

func (v *Vertex) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	resp, err := v.model.GenerateContent(ctx, genai.Text(BuildPrompt(v.prompt, text, v.maxChars)))
	if err != nil {
		return "", fmt.Errorf("vertex: generate content: %w", err)
	}
	return vertexText(resp), nil
}

func (v *Vertex) Close() error {
	return v.client.Close()
}

func vertexText(resp *genai.GenerateContentResponse) string {
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
