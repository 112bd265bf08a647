package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/haasonsaas/steward/internal/agent/toolconv"
	"github.com/haasonsaas/steward/internal/backoff"
	"github.com/haasonsaas/steward/pkg/models"
)

const defaultGoogleModel = "gemini-2.0-flash"

// Google adapts the Gemini streaming API to the canonical completion
// contract. Gemini delivers function calls whole rather than as fragments,
// and does not assign call ids, so the adapter mints one per call. Nested
// parameter schemas are flattened before they reach the API; see the
// toolconv package.
type Google struct {
	client       *genai.Client
	defaultModel string
	maxRetries   int
	policy       backoff.Policy
}

// GoogleConfig configures the Google adapter.
type GoogleConfig struct {
	// APIKey is required.
	APIKey string

	// DefaultModel is used when a request names no model.
	DefaultModel string

	// MaxRetries bounds retries of retryable transport failures. Default 3.
	MaxRetries int
}

// NewGoogle creates the Google adapter.
func NewGoogle(cfg GoogleConfig) (*Google, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultGoogleModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}

	return &Google{
		client:       client,
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		policy:       backoff.DefaultPolicy(),
	}, nil
}

// ID returns "google".
func (p *Google) ID() string { return IDGoogle }

// CompleteSimple runs a tool-free completion and returns the full text.
func (p *Google) CompleteSimple(ctx context.Context, system, prompt string, opts Options) (string, error) {
	return completeText(ctx, p, system, prompt, opts)
}

// CompleteWithTools streams a completion. The returned channel is closed
// after the terminal chunk; stream failures arrive as Chunk.Err.
func (p *Google) CompleteWithTools(ctx context.Context, req Request) (<-chan Chunk, error) {
	out := make(chan Chunk)

	go func() {
		defer close(out)

		model := p.model(req.Model)
		contents, err := convertGoogleMessages(req.Messages)
		if err != nil {
			out <- Chunk{Err: p.wrapError(fmt.Errorf("google: convert messages: %w", err), model)}
			return
		}
		config, err := p.buildConfig(req)
		if err != nil {
			out <- Chunk{Err: p.wrapError(err, model)}
			return
		}

		// The SDK iterator is lazy and can fail mid-stream. Retries are
		// safe only while nothing has been emitted to the caller.
		emitted := false
		err = backoff.Retry(ctx, p.policy, p.maxRetries+1, func(err error) bool {
			return !emitted && IsRetryable(err)
		}, func(int) error {
			stream := p.client.Models.GenerateContentStream(ctx, model, contents, config)
			return p.pump(ctx, stream, out, model, &emitted)
		})
		if err != nil {
			out <- Chunk{Err: err}
		}
	}()

	return out, nil
}

// pump consumes the response iterator and emits canonical chunks, including
// the terminal Done chunk on success.
func (p *Google) pump(ctx context.Context, stream iter.Seq2[*genai.GenerateContentResponse, error], out chan<- Chunk, model string, emitted *bool) error {
	var usage models.Usage
	var stopReason string
	sawTool := false

	for resp, err := range stream {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return p.wrapError(err, model)
		}
		if resp == nil {
			continue
		}

		if meta := resp.UsageMetadata; meta != nil {
			if meta.PromptTokenCount > 0 {
				usage.InputTokens = int(meta.PromptTokenCount)
			}
			if meta.CandidatesTokenCount > 0 {
				usage.OutputTokens = int(meta.CandidatesTokenCount)
			}
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil {
				continue
			}
			if r := normalizeGoogleStop(candidate.FinishReason); r != "" {
				stopReason = r
			}
			if candidate.Content == nil {
				continue
			}

			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					out <- Chunk{Text: part.Text}
					*emitted = true
				}
				if part.FunctionCall != nil {
					input, err := json.Marshal(part.FunctionCall.Args)
					if err != nil {
						input = []byte(`{}`)
					}
					out <- Chunk{ToolCall: &models.ToolCall{
						ID:    "call_" + uuid.NewString(),
						Name:  part.FunctionCall.Name,
						Input: input,
					}}
					*emitted = true
					sawTool = true
				}
			}
		}
	}

	if sawTool && (stopReason == "" || stopReason == "end_turn") {
		stopReason = "tool_use"
	}
	out <- Chunk{Done: true, StopReason: stopReason, Usage: &usage}
	*emitted = true
	return nil
}

func (p *Google) buildConfig(req Request) (*genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(min(req.MaxTokens, 1<<31-1))
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if len(req.Tools) > 0 {
		tools, err := toolconv.ToGeminiTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("google: convert tools: %w", err)
		}
		config.Tools = tools
	}

	return config, nil
}

func normalizeGoogleStop(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonStop:
		return "end_turn"
	case genai.FinishReasonMaxTokens:
		return "max_tokens"
	case "":
		return ""
	default:
		return strings.ToLower(string(reason))
	}
}

func (p *Google) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *Google) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}

	perr := NewProviderError(IDGoogle, model, err)

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		perr = perr.WithStatus(apiErr.Code)
		if apiErr.Message != "" {
			perr = perr.WithMessage(apiErr.Message)
		}
		if apiErr.Status != "" {
			perr = perr.WithCode(apiErr.Status)
		}
		return perr
	}

	if status := googleStatusFromMessage(err); status != 0 {
		perr = perr.WithStatus(status)
	}
	return perr
}

// googleStatusFromMessage recovers an HTTP status from error text for SDK
// errors that do not carry a structured code.
func googleStatusFromMessage(err error) int {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthenticated"):
		return http.StatusUnauthorized
	case strings.Contains(msg, "403"), strings.Contains(msg, "permission denied"):
		return http.StatusForbidden
	case strings.Contains(msg, "404"), strings.Contains(msg, "not found"):
		return http.StatusNotFound
	case strings.Contains(msg, "429"), strings.Contains(msg, "resource exhausted"), strings.Contains(msg, "quota"):
		return http.StatusTooManyRequests
	case strings.Contains(msg, "503"), strings.Contains(msg, "unavailable"):
		return http.StatusServiceUnavailable
	case strings.Contains(msg, "500"), strings.Contains(msg, "internal"):
		return http.StatusInternalServerError
	default:
		return 0
	}
}

// convertGoogleMessages maps canonical messages onto Gemini contents. Tool
// results become function response parts on the user side, named by looking
// up the originating call, since Gemini correlates responses by function
// name rather than call id.
func convertGoogleMessages(msgs []models.Message) ([]*genai.Content, error) {
	result := make([]*genai.Content, 0, len(msgs))

	for _, msg := range msgs {
		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Input, &args); err != nil {
				return nil, fmt.Errorf("tool call %s: invalid input: %w", tc.ID, err)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}

		for _, tr := range msg.ToolResults {
			var response map[string]any
			if err := json.Unmarshal([]byte(tr.Content), &response); err != nil {
				response = map[string]any{"result": tr.Content}
				if tr.IsError {
					response["error"] = true
				}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     googleToolName(tr.ToolCallID, msgs),
					Response: response,
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result, nil
}

// googleToolName finds the name of the call a result answers.
func googleToolName(toolCallID string, msgs []models.Message) string {
	for _, msg := range msgs {
		for _, tc := range msg.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	return ""
}
