// Package llm is the transport to the advisory language model. It only
// moves text; interpreting the answer belongs to the caller.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const defaultTimeout = 120 * time.Second

type Prompt struct {
	System string
	User   string
}

type Client interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
	Provider() string
	Model() string
}

type Config struct {
	Provider        string
	Model           string
	BaseURL         string
	APIKey          string
	Temperature     float64
	MaxOutputTokens int
	TimeoutSeconds  int
	// JSONMode asks the provider to constrain output to a JSON object.
	JSONMode bool
}

// New returns nil, nil when no provider is configured.
func New(cfg Config) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		return nil, nil
	}

	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	opts := options{
		model:           strings.TrimSpace(cfg.Model),
		baseURL:         strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		temperature:     cfg.Temperature,
		maxOutputTokens: cfg.MaxOutputTokens,
		jsonMode:        cfg.JSONMode,
		timeout:         timeout,
	}

	switch provider {
	case "openai":
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		}
		if apiKey == "" {
			return nil, errors.New("openai selected but no API key provided (OPENAI_API_KEY)")
		}
		if opts.model == "" {
			return nil, errors.New("openai selected but no model configured")
		}
		if opts.baseURL == "" {
			opts.baseURL = "https://api.openai.com/v1"
		}
		return &openAIClient{options: opts, apiKey: apiKey}, nil
	case "ollama":
		if opts.model == "" {
			opts.model = "qwen2.5-coder:3b"
		}
		if opts.baseURL == "" {
			opts.baseURL = "http://127.0.0.1:11434"
		}
		return &ollamaClient{options: opts}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}

type options struct {
	model           string
	baseURL         string
	temperature     float64
	maxOutputTokens int
	jsonMode        bool
	timeout         time.Duration
}
