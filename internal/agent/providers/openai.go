package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/steward/internal/backoff"
	"github.com/haasonsaas/steward/pkg/models"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAI adapts the Chat Completions streaming API to the canonical
// completion contract. Tool calls arrive as indexed argument fragments
// spread across deltas and are stitched back together per index before
// being emitted as complete ToolCalls.
type OpenAI struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	policy       backoff.Policy
}

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint (optional). Useful for proxies and
	// OpenAI-compatible servers.
	BaseURL string

	// DefaultModel is used when a request names no model.
	DefaultModel string

	// MaxRetries bounds retries of retryable transport failures. Default 3.
	MaxRetries int
}

// NewOpenAI creates the OpenAI adapter.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultOpenAIModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		policy:       backoff.DefaultPolicy(),
	}, nil
}

// ID returns "openai".
func (p *OpenAI) ID() string { return IDOpenAI }

// CompleteSimple runs a tool-free completion and returns the full text.
func (p *OpenAI) CompleteSimple(ctx context.Context, system, prompt string, opts Options) (string, error) {
	return completeText(ctx, p, system, prompt, opts)
}

// CompleteWithTools streams a completion. The returned channel is closed
// after the terminal chunk; stream failures arrive as Chunk.Err.
func (p *OpenAI) CompleteWithTools(ctx context.Context, req Request) (<-chan Chunk, error) {
	out := make(chan Chunk)

	go func() {
		defer close(out)

		model := p.model(req.Model)
		var stream *openai.ChatCompletionStream
		err := backoff.Retry(ctx, p.policy, p.maxRetries+1, IsRetryable, func(int) error {
			s, err := p.newStream(ctx, req, model)
			if err != nil {
				return p.wrapError(err, model)
			}
			stream = s
			return nil
		})
		if err != nil {
			out <- Chunk{Err: err}
			return
		}
		defer stream.Close()

		p.pump(stream, out, model)
	}()

	return out, nil
}

func (p *OpenAI) newStream(ctx context.Context, req Request, model string) (*openai.ChatCompletionStream, error) {
	messages, err := convertOpenAIMessages(req.System, req.Messages)
	if err != nil {
		return nil, fmt.Errorf("openai: convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}

	// Reasoning models reject sampling temperature and the legacy token
	// limit field; everything else takes both.
	if isReasoningModel(model) {
		params.MaxCompletionTokens = maxTokens
	} else {
		params.MaxTokens = maxTokens
		if req.Temperature != nil {
			params.Temperature = float32(*req.Temperature)
		}
	}

	if len(req.Tools) > 0 {
		tools, err := convertOpenAITools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("openai: convert tools: %w", err)
		}
		params.Tools = tools
	}

	return p.client.CreateChatCompletionStream(ctx, params)
}

// pendingToolCall accumulates one tool call's id, name and argument
// fragments across stream deltas.
type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

// pump translates stream responses into canonical chunks. Argument
// fragments accumulate per tool-call index and flush when the model
// reports a finish reason or the stream ends.
func (p *OpenAI) pump(stream *openai.ChatCompletionStream, out chan<- Chunk, model string) {
	pending := make(map[int]*pendingToolCall)
	var usage models.Usage
	var stopReason string
	flushed := false

	flush := func() {
		if flushed {
			return
		}
		flushed = true
		for _, tc := range sortedToolCalls(pending) {
			out <- Chunk{ToolCall: tc}
		}
	}

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			flush()
			out <- Chunk{Done: true, StopReason: stopReason, Usage: &usage}
			return
		}
		if err != nil {
			out <- Chunk{Err: p.wrapError(err, model)}
			return
		}

		// The usage-bearing response arrives with no choices after the
		// final content response.
		if response.Usage != nil {
			usage.InputTokens = response.Usage.PromptTokens
			usage.OutputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			out <- Chunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := pending[idx]
			if !ok {
				acc = &pendingToolCall{}
				pending[idx] = acc
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name += tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				acc.args.WriteString(tc.Function.Arguments)
			}
		}

		if choice.FinishReason != "" {
			stopReason = normalizeOpenAIStop(choice.FinishReason)
			if choice.FinishReason == openai.FinishReasonToolCalls {
				flush()
			}
		}
	}
}

func sortedToolCalls(pending map[int]*pendingToolCall) []*models.ToolCall {
	indices := make([]int, 0, len(pending))
	for idx := range pending {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	calls := make([]*models.ToolCall, 0, len(indices))
	for _, idx := range indices {
		acc := pending[idx]
		if acc.name == "" {
			continue
		}
		calls = append(calls, &models.ToolCall{
			ID:    acc.id,
			Name:  acc.name,
			Input: rawToolInput(acc.args.String()),
		})
	}
	return calls
}

func normalizeOpenAIStop(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonStop:
		return "end_turn"
	case openai.FinishReasonToolCalls:
		return "tool_use"
	case openai.FinishReasonLength:
		return "max_tokens"
	default:
		return string(reason)
	}
}

// isReasoningModel reports whether the model belongs to the o-series
// reasoning families, which take a different request shape.
func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func (p *OpenAI) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *OpenAI) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}

	perr := NewProviderError(IDOpenAI, model, err)

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		perr = perr.WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			perr = perr.WithMessage(apiErr.Message)
		}
		if apiErr.Type != "" {
			perr = perr.WithCode(apiErr.Type)
		}
		return perr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		perr = perr.WithStatus(reqErr.HTTPStatusCode)
	}

	return perr
}

// convertOpenAIMessages maps canonical messages onto chat messages. The
// system prompt becomes a leading system message, and each tool result
// becomes its own tool-role message keyed by tool call id.
func convertOpenAIMessages(system string, msgs []models.Message) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, m)

		case models.RoleToolResult:
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}

	return result, nil
}

func convertOpenAITools(defs []models.ToolDefinition) ([]openai.Tool, error) {
	result := make([]openai.Tool, 0, len(defs))

	for _, def := range defs {
		var params map[string]any
		if err := json.Unmarshal(def.Schema, &params); err != nil {
			return nil, fmt.Errorf("tool %s: invalid schema: %w", def.Name, err)
		}
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}

	return result, nil
}
