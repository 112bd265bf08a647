package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/steward/internal/backoff"
	"github.com/haasonsaas/steward/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// maxEmptyStreamEvents bounds consecutive events that produce no output
// before the stream is treated as malformed. Protects against streams that
// flood with empty events.
const maxEmptyStreamEvents = 300

// Anthropic adapts the Anthropic Messages streaming API to the canonical
// completion contract. Tool input arrives as input_json_delta fragments that
// are accumulated per content block and emitted as one complete ToolCall
// when the block closes.
type Anthropic struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	policy       backoff.Policy
}

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint (optional).
	BaseURL string

	// DefaultModel is used when a request names no model.
	DefaultModel string

	// MaxRetries bounds retries of retryable transport failures. Default 3.
	MaxRetries int
}

// NewAnthropic creates the Anthropic adapter.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultAnthropicModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Anthropic{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		policy:       backoff.DefaultPolicy(),
	}, nil
}

// ID returns "anthropic".
func (p *Anthropic) ID() string { return IDAnthropic }

// CompleteSimple runs a tool-free completion and returns the full text.
func (p *Anthropic) CompleteSimple(ctx context.Context, system, prompt string, opts Options) (string, error) {
	return completeText(ctx, p, system, prompt, opts)
}

// CompleteWithTools streams a completion. The returned channel is closed
// after the terminal chunk; stream failures arrive as Chunk.Err.
func (p *Anthropic) CompleteWithTools(ctx context.Context, req Request) (<-chan Chunk, error) {
	out := make(chan Chunk)

	go func() {
		defer close(out)

		model := p.model(req.Model)
		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
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

		p.pump(stream, out, model)
	}()

	return out, nil
}

func (p *Anthropic) newStream(ctx context.Context, req Request, model string) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// pump translates the SSE event union into canonical chunks. Tool input
// fragments accumulate until content_block_stop closes the block.
func (p *Anthropic) pump(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- Chunk, model string) {
	var tool *models.ToolCall
	var toolInput strings.Builder
	var usage models.Usage
	var stopReason string
	emptyEvents := 0

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				usage.InputTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				tool = &models.ToolCall{ID: use.ID, Name: use.Name}
				toolInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- Chunk{Text: delta.Text}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if tool != nil {
				tool.Input = rawToolInput(toolInput.String())
				out <- Chunk{ToolCall: tool}
				tool = nil
				processed = true
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(md.Usage.OutputTokens)
			}
			if s := string(md.Delta.StopReason); s != "" {
				stopReason = s
			}
			processed = true

		case "message_stop":
			out <- Chunk{Done: true, StopReason: stopReason, Usage: &usage}
			return

		case "error":
			out <- Chunk{Err: p.wrapError(errors.New("stream error"), model)}
			return
		}

		if processed {
			emptyEvents = 0
			continue
		}
		emptyEvents++
		if emptyEvents >= maxEmptyStreamEvents {
			out <- Chunk{Err: p.wrapError(
				fmt.Errorf("stream appears malformed: %d consecutive empty events", emptyEvents), model)}
			return
		}
	}

	if err := stream.Err(); err != nil {
		out <- Chunk{Err: p.wrapError(err, model)}
	}
}

func (p *Anthropic) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *Anthropic) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}

	perr := NewProviderError(IDAnthropic, model, err)

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		perr = perr.WithStatus(apiErr.StatusCode)
		if apiErr.RequestID != "" {
			perr = perr.WithRequestID(apiErr.RequestID)
		}
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					perr = perr.WithMessage(payload.Error.Message)
				}
				if payload.Error.Type != "" {
					perr = perr.WithCode(payload.Error.Type)
				}
				if payload.RequestID != "" {
					perr = perr.WithRequestID(payload.RequestID)
				}
			}
		}
	}

	return perr
}

// convertAnthropicMessages maps canonical messages onto Anthropic content
// blocks. tool_result messages become user messages carrying tool_result
// blocks, matching the Messages API contract.
func convertAnthropicMessages(msgs []models.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(msgs))

	for _, msg := range msgs {
		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("tool call %s: invalid input: %w", tc.ID, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func convertAnthropicTools(defs []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))

	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			return nil, fmt.Errorf("tool %s: invalid schema: %w", def.Name, err)
		}
		tool := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if tool.OfTool == nil {
			return nil, fmt.Errorf("tool %s: missing tool definition", def.Name)
		}
		if def.Description != "" {
			tool.OfTool.Description = anthropic.String(def.Description)
		}
		result = append(result, tool)
	}

	return result, nil
}

// rawToolInput turns accumulated input fragments into valid raw JSON. Tools
// invoked with no arguments stream no fragments at all.
func rawToolInput(s string) json.RawMessage {
	if strings.TrimSpace(s) == "" {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(s)
}
