// Package llmgateway implements the LLM Gateway component (spec.md §4.2):
// a provider-agnostic JSON-schema completion call with bounded retry on
// malformed output, grounded on the teacher's internal/llm package (an
// LLM interface with a provider-keyed factory), generalized from Gemini
// selection to the provider prefix the spec's llm_model string carries.
package llmgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maic-labs/mcs/internal/apierr"
	"github.com/maic-labs/mcs/internal/config"
	"github.com/maic-labs/mcs/pkg/logger"
)

// provider is the low-level contract a concrete backend satisfies. The
// Gateway handles schema validation and retry; a provider just returns
// raw model text for a system/user prompt pair.
type provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Gateway is the schema-enforcing façade every caller (Planner, Auditor)
// uses instead of talking to a provider directly.
type Gateway struct {
	p           provider
	maxAttempts int
	log         *logger.Logger
}

// New selects a provider from cfg.Model's "provider:model" prefix
// (spec.md GLOSSARY's llm_model). Supported prefixes are "openai" and
// "ollama"; an unrecognized prefix is a configuration error caught at
// startup rather than at first use.
func New(cfg config.LLMConfig) (*Gateway, error) {
	providerName, modelName, err := splitModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	var p provider
	switch providerName {
	case "openai":
		p = newOpenAIProvider(modelName, cfg.APIKey, cfg.MaxTokens)
	case "ollama":
		p = newOllamaProvider(cfg.OllamaAddr, modelName, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("llmgateway: unsupported provider %q in llm_model %q", providerName, cfg.Model)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return &Gateway{p: p, maxAttempts: maxAttempts, log: logger.New("llmgateway", "", "")}, nil
}

func splitModel(model string) (provider, name string, err error) {
	parts := strings.SplitN(model, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("llmgateway: llm_model %q must be in \"provider:model\" form", model)
	}
	return parts[0], parts[1], nil
}

// CompleteJSON asks the provider to produce JSON matching the shape of
// out, re-prompting with the parse error appended up to maxAttempts times
// before giving up. out must be a pointer.
func (g *Gateway) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, out interface{}) error {
	var lastErr error
	prompt := userPrompt

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		raw, err := g.p.Complete(ctx, systemPrompt, prompt)
		if err != nil {
			lastErr = err
			g.log.WithError(err).Warn("llm completion call failed")
			continue
		}

		if err := json.Unmarshal([]byte(extractJSON(raw)), out); err != nil {
			lastErr = err
			prompt = fmt.Sprintf("%s\n\nYour previous response could not be parsed as the required JSON schema (%v). Respond again with ONLY valid JSON matching the schema.", userPrompt, err)
			continue
		}

		return nil
	}

	return apierr.Wrap(apierr.PlanFailure, fmt.Sprintf("llm gateway exhausted %d attempts", g.maxAttempts), lastErr)
}

// extractJSON trims a fenced code block some models wrap JSON output in
// despite being asked for raw JSON.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	return s
}
