package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maruel/genai"
	"github.com/maruel/genai/providers"
)

// GenaiClient drives a genai.Provider for real coder turns.
type GenaiClient struct {
	provider     genai.Provider
	systemPrompt string
	maxTokens    int64
	temperature  float64
}

// NewGenaiClient resolves providerName via providers.All and returns a
// Client backed by it, mirroring server/titlegen.go's newTitleGenerator.
func NewGenaiClient(ctx context.Context, providerName, model, systemPrompt string) (*GenaiClient, error) {
	cfg, ok := providers.All[providerName]
	if !ok || cfg.Factory == nil {
		return nil, fmt.Errorf("llmclient: unknown provider %q", providerName)
	}
	var opts []genai.ProviderOption
	if model != "" {
		opts = append(opts, genai.ProviderOptionModel(model))
	}
	p, err := cfg.Factory(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("llmclient: creating provider %q: %w", providerName, err)
	}
	return &GenaiClient{
		provider:     p,
		systemPrompt: systemPrompt,
		maxTokens:    4096,
		temperature:  0.2,
	}, nil
}

// Chat implements Client by flattening messages into a single genai text
// turn (the Coder Stage re-sends full transcripts each turn, spec §4.9), with
// tool schemas folded into the system prompt per the TOOL_CALL: convention.
func (c *GenaiClient) Chat(ctx context.Context, messages []Message, tools []ToolSchema) (Response, error) {
	sys := buildSystemPrompt(c.systemPrompt, tools)

	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			b.WriteString("User: ")
		case RoleAssistant:
			b.WriteString("Assistant: ")
		case RoleTool:
			fmt.Fprintf(&b, "Tool result (%s): ", m.ToolName)
		default:
			continue
		}
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}

	res, err := c.provider.GenSync(ctx,
		genai.Messages{genai.NewTextMessage(b.String())},
		&genai.GenOptionText{
			SystemPrompt: sys,
			MaxTokens:    c.maxTokens,
			Temperature:  c.temperature,
		},
	)
	if err != nil {
		return Response{}, fmt.Errorf("llmclient: genai call failed: %w", err)
	}
	parsed := parseResponse(res.String())
	parsed.Usage = extractUsage(res)
	return parsed, nil
}

// extractUsage pulls token counts out of a genai result without depending
// on its concrete Go field names, which aren't evidenced anywhere genai is
// actually driven: it marshals res to JSON and probes for the usage key
// names seen across provider APIs, degrading to a zero Usage rather than a
// hard failure if none match.
func extractUsage(res any) Usage {
	data, err := json.Marshal(res)
	if err != nil {
		return Usage{}
	}
	var probe struct {
		Usage struct {
			InputTokens       int64 `json:"input_tokens"`
			OutputTokens      int64 `json:"output_tokens"`
			InputCachedTokens int64 `json:"input_cached_tokens"`
			CachedTokens      int64 `json:"cached_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Usage{}
	}
	cached := probe.Usage.InputCachedTokens
	if cached == 0 {
		cached = probe.Usage.CachedTokens
	}
	return Usage{
		TokensIn:  probe.Usage.InputTokens,
		TokensOut: probe.Usage.OutputTokens,
		Cached:    cached > 0,
	}
}
