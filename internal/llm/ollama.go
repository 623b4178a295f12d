package llm

import (
	"context"
	"fmt"
	"strings"
)

type ollamaClient struct {
	options
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
}

func (c *ollamaClient) Provider() string {
	return "ollama"
}

func (c *ollamaClient) Model() string {
	return c.model
}

func (c *ollamaClient) Generate(ctx context.Context, prompt Prompt) (string, error) {
	messages := []map[string]string{}
	if strings.TrimSpace(prompt.System) != "" {
		messages = append(messages, map[string]string{
			"role":    "system",
			"content": prompt.System,
		})
	}
	if strings.TrimSpace(prompt.User) != "" {
		messages = append(messages, map[string]string{
			"role":    "user",
			"content": prompt.User,
		})
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("empty prompt")
	}

	payload := map[string]any{
		"model":    c.model,
		"messages": messages,
		"stream":   false,
	}
	if c.jsonMode {
		payload["format"] = "json"
	}

	opts := map[string]any{}
	if c.temperature > 0 {
		opts["temperature"] = c.temperature
	}
	if c.maxOutputTokens > 0 {
		opts["num_predict"] = c.maxOutputTokens
	}
	if len(opts) > 0 {
		payload["options"] = opts
	}

	var parsed ollamaResponse
	if err := postJSON(ctx, "ollama", c.baseURL+"/api/chat", c.timeout, nil, payload, &parsed); err != nil {
		return "", err
	}
	if strings.TrimSpace(parsed.Error) != "" {
		return "", fmt.Errorf("ollama error: %s", parsed.Error)
	}

	text := strings.TrimSpace(parsed.Message.Content)
	if text == "" {
		return "", fmt.Errorf("ollama response had no content")
	}
	return text, nil
}
