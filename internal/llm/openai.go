package llm

import (
	"context"
	"fmt"
	"strings"
)

type openAIClient struct {
	options
	apiKey string
}

type openAIResponse struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *openAIClient) Provider() string {
	return "openai"
}

func (c *openAIClient) Model() string {
	return c.model
}

func (c *openAIClient) Generate(ctx context.Context, prompt Prompt) (string, error) {
	input := []map[string]any{}
	for _, msg := range []struct{ role, text string }{
		{"system", prompt.System},
		{"user", prompt.User},
	} {
		if strings.TrimSpace(msg.text) == "" {
			continue
		}
		input = append(input, map[string]any{
			"role": msg.role,
			"content": []map[string]any{{
				"type": "input_text",
				"text": msg.text,
			}},
		})
	}
	if len(input) == 0 {
		return "", fmt.Errorf("empty prompt")
	}

	payload := map[string]any{
		"model": c.model,
		"input": input,
	}
	if c.temperature > 0 {
		payload["temperature"] = c.temperature
	}
	if c.maxOutputTokens > 0 {
		payload["max_output_tokens"] = c.maxOutputTokens
	}
	if c.jsonMode {
		payload["text"] = map[string]any{"format": map[string]any{"type": "json_object"}}
	}

	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	var parsed openAIResponse
	if err := postJSON(ctx, "openai", c.baseURL+"/responses", c.timeout, headers, payload, &parsed); err != nil {
		return "", err
	}
	if parsed.Error != nil && strings.TrimSpace(parsed.Error.Message) != "" {
		return "", fmt.Errorf("openai error: %s", parsed.Error.Message)
	}

	if text := strings.TrimSpace(parsed.OutputText); text != "" {
		return text, nil
	}

	var sb strings.Builder
	for _, item := range parsed.Output {
		if item.Type != "message" {
			continue
		}
		for _, content := range item.Content {
			if content.Type != "output_text" || strings.TrimSpace(content.Text) == "" {
				continue
			}
			sb.WriteString(content.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("openai response had no output_text")
	}
	return text, nil
}
