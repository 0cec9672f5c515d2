package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"dnswatch/internal/domain"
)

// OpenAIConfig describes an OpenAI-compatible chat completions endpoint.
// Ollama serves the same API under /v1, so both use this client.
type OpenAIConfig struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
	// Timeout bounds a single request; zero means no client-side limit.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenAI is a decision service backed by the chat completions API.
type OpenAI struct {
	name   string
	model  string
	client *openai.Client
	logger *zap.Logger
}

func NewOpenAI(cfg OpenAIConfig, logger *zap.Logger) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	switch {
	case cfg.HTTPClient != nil:
		cc.HTTPClient = cfg.HTTPClient
	case cfg.Timeout > 0:
		cc.HTTPClient = newHTTPClient(cfg.Timeout)
	}
	return &OpenAI{
		name:   cfg.Name,
		model:  cfg.Model,
		client: openai.NewClientWithConfig(cc),
		logger: logger.Named("provider").With(zap.String("provider", cfg.Name)),
	}
}

func (p *OpenAI) Name() string     { return p.name }
func (p *OpenAI) Models() []string { return []string{p.model} }

func (p *OpenAI) Healthy(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return fmt.Errorf("%s: list models: %w", p.name, err)
	}
	return nil
}

func (p *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	creq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: temperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		creq.Tools = toOpenAITools(req.Tools)
		if req.ToolChoice != "" {
			creq.ToolChoice = req.ToolChoice
		}
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, creq)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("%s chat completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New(p.name + ": response has no choices")
	}

	choice := resp.Choices[0]
	out := &domain.ChatResponse{
		Content:      choice.Message.Content,
		ToolCalls:    fromOpenAIToolCalls(choice.Message.ToolCalls),
		FinishReason: string(choice.FinishReason),
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		LatencyMs: latency.Milliseconds(),
	}
	p.logger.Debug("chat completion",
		zap.String("model", model),
		zap.Int("tool_calls", len(out.ToolCalls)),
		zap.String("finish_reason", out.FinishReason),
		zap.Int("total_tokens", out.Usage.TotalTokens),
		zap.Duration("latency", latency),
	)
	return out, nil
}

// temperature maps 0 to the smallest positive float; the client omits a
// literal zero, which the API would read as its default of 1.
func temperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

func toOpenAIMessages(msgs []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: encodeArguments(tc),
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func encodeArguments(tc domain.ToolCall) string {
	if tc.Arguments == nil && tc.RawArguments != "" {
		return tc.RawArguments
	}
	if tc.Arguments == nil {
		return "{}"
	}
	data, err := json.Marshal(tc.Arguments)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func toOpenAITools(defs []domain.ToolDefinition) []openai.Tool {
	tools := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return tools
}

// fromOpenAIToolCalls decodes argument text into maps. Text that is not a
// JSON object is kept in RawArguments with nil Arguments.
func fromOpenAIToolCalls(calls []openai.ToolCall) []domain.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]domain.ToolCall, 0, len(calls))
	for _, c := range calls {
		id := c.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		tc := domain.ToolCall{ID: id, Name: c.Function.Name}
		raw := strings.TrimSpace(c.Function.Arguments)
		if raw == "" {
			tc.Arguments = map[string]any{}
		} else if err := json.Unmarshal([]byte(raw), &tc.Arguments); err != nil || tc.Arguments == nil {
			tc.Arguments = nil
			tc.RawArguments = c.Function.Arguments
		}
		out = append(out, tc)
	}
	return out
}

var _ domain.Provider = (*OpenAI)(nil)
