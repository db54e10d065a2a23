package summarizer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// DefaultPrompt asks for a short German summary of at most 25 words.
const DefaultPrompt = "Fasse den folgenden Text kurz und verständlich in ein paar Sätzen zusammen, nicht länger als 25 Wörter:"

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderVertex = "vertex"

	DefaultMaxInputChars = 20000
)

// Summarizer turns OCR text into a short summary. An empty result means
// the provider had nothing to say.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Client is a Summarizer holding network resources.
type Client interface {
	Summarizer
	io.Closer
}

// Config selects and configures a provider.
type Config struct {
	Provider      string
	APIKey        string
	Model         string
	BaseURL       string
	Project       string
	Location      string
	Prompt        string
	MaxInputChars int
}

// New builds the client for cfg.Provider.
func New(ctx context.Context, cfg Config) (Client, error) {
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultMaxInputChars
	}

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderGemini:
		return NewGemini(ctx, cfg)
	case ProviderOpenAI:
		return NewOpenAI(cfg)
	case ProviderVertex:
		return NewVertex(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown summarization provider %q", cfg.Provider)
	}
}

// BuildPrompt appends text to the instruction, cutting text to maxChars
// runes.
func BuildPrompt(prompt, text string, maxChars int) string {
	return prompt + "\n\n" + truncate(strings.TrimSpace(text), maxChars)
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars])
}
