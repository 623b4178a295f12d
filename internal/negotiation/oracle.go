package negotiation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bsrdtoms/fdi-pln2609/internal/llm"
)

// Oracle asks the language model for a decision. Its answers are
// untrusted; anything unreadable becomes Wait.
type Oracle struct {
	client llm.Client
	log    *slog.Logger
}

func NewOracle(client llm.Client, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{client: client, log: logger}
}

// Decide returns an error only when the model could not be reached.
func (o *Oracle) Decide(ctx context.Context, prompt llm.Prompt) (Decision, error) {
	if o == nil || o.client == nil {
		return Wait{}, nil
	}
	raw, err := o.client.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("llm %s/%s: %w", o.client.Provider(), o.client.Model(), err)
	}
	o.log.Info("llm answer", "provider", o.client.Provider(), "model", o.client.Model(), "raw", raw)

	decision, ok := ParseDecision(raw)
	if !ok {
		o.log.Warn("unusable llm output, falling back to wait", "raw", raw)
	}
	return decision, nil
}
