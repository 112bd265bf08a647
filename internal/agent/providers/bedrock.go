package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/steward/internal/agent/toolconv"
	"github.com/haasonsaas/steward/internal/backoff"
	"github.com/haasonsaas/steward/pkg/models"
)

const (
	defaultBedrockModel  = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	defaultBedrockRegion = "us-east-1"
)

// Bedrock adapts the AWS Bedrock ConverseStream API to the canonical
// completion contract. Authentication goes through the standard AWS
// credential chain unless static credentials are configured.
type Bedrock struct {
	client       *bedrockruntime.Client
	defaultModel string
	maxRetries   int
	policy       backoff.Policy
}

// BedrockConfig configures the Bedrock adapter.
type BedrockConfig struct {
	// Region is the AWS region. Default "us-east-1".
	Region string

	// AccessKeyID and SecretAccessKey select static credentials. When
	// empty the default chain applies (environment, shared config, IAM
	// role).
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// DefaultModel is used when a request names no model.
	DefaultModel string

	// MaxRetries bounds retries of retryable transport failures. Default 3.
	MaxRetries int
}

// NewBedrock creates the Bedrock adapter.
func NewBedrock(cfg BedrockConfig) (*Bedrock, error) {
	if cfg.Region == "" {
		cfg.Region = defaultBedrockRegion
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultBedrockModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	return &Bedrock{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		policy:       backoff.DefaultPolicy(),
	}, nil
}

// ID returns "bedrock".
func (p *Bedrock) ID() string { return IDBedrock }

// CompleteSimple runs a tool-free completion and returns the full text.
func (p *Bedrock) CompleteSimple(ctx context.Context, system, prompt string, opts Options) (string, error) {
	return completeText(ctx, p, system, prompt, opts)
}

// CompleteWithTools streams a completion. The returned channel is closed
// after the terminal chunk; stream failures arrive as Chunk.Err.
func (p *Bedrock) CompleteWithTools(ctx context.Context, req Request) (<-chan Chunk, error) {
	out := make(chan Chunk)

	go func() {
		defer close(out)

		model := p.model(req.Model)
		input, err := p.buildInput(req, model)
		if err != nil {
			out <- Chunk{Err: p.wrapError(err, model)}
			return
		}

		var stream *bedrockruntime.ConverseStreamOutput
		err = backoff.Retry(ctx, p.policy, p.maxRetries+1, IsRetryable, func(int) error {
			s, err := p.client.ConverseStream(ctx, input)
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

		p.pump(ctx, stream, out, model)
	}()

	return out, nil
}

func (p *Bedrock) buildInput(req Request, model string) (*bedrockruntime.ConverseStreamInput, error) {
	messages, err := convertBedrockMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(min(maxTokens, 1<<31-1))),
		},
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if req.Temperature != nil {
		input.InferenceConfig.Temperature = aws.Float32(float32(*req.Temperature))
	}
	if len(req.Tools) > 0 {
		tools, err := toolconv.ToBedrockTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("bedrock: convert tools: %w", err)
		}
		input.ToolConfig = tools
	}

	return input, nil
}

// pump translates the Converse event union into canonical chunks. The usage
// metadata event trails message_stop, so the terminal chunk is emitted when
// the event channel closes rather than at message_stop.
func (p *Bedrock) pump(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, out chan<- Chunk, model string) {
	eventStream := stream.GetStream()
	defer eventStream.Close()

	var tool *models.ToolCall
	var toolInput strings.Builder
	var usage models.Usage
	var stopReason string

	flushTool := func() {
		if tool == nil {
			return
		}
		tool.Input = rawToolInput(toolInput.String())
		out <- Chunk{ToolCall: tool}
		tool = nil
		toolInput.Reset()
	}

	for {
		select {
		case <-ctx.Done():
			out <- Chunk{Err: ctx.Err()}
			return

		case event, ok := <-eventStream.Events():
			if !ok {
				flushTool()
				if err := eventStream.Err(); err != nil {
					out <- Chunk{Err: p.wrapError(err, model)}
					return
				}
				out <- Chunk{Done: true, StopReason: stopReason, Usage: &usage}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if use, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					tool = &models.ToolCall{
						ID:   aws.ToString(use.Value.ToolUseId),
						Name: aws.ToString(use.Value.Name),
					}
					toolInput.Reset()
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						out <- Chunk{Text: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				flushTool()

			case *types.ConverseStreamOutputMemberMessageStop:
				stopReason = string(ev.Value.StopReason)

			case *types.ConverseStreamOutputMemberMetadata:
				if u := ev.Value.Usage; u != nil {
					usage.InputTokens = int(aws.ToInt32(u.InputTokens))
					usage.OutputTokens = int(aws.ToInt32(u.OutputTokens))
				}
			}
		}
	}
}

func (p *Bedrock) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *Bedrock) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}

	perr := NewProviderError(IDBedrock, model, err)

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		perr = perr.WithCode(apiErr.ErrorCode())
		if msg := apiErr.ErrorMessage(); msg != "" {
			perr = perr.WithMessage(msg)
		}
		if status := bedrockStatusFromCode(apiErr.ErrorCode()); status != 0 {
			perr = perr.WithStatus(status)
		}
	}

	return perr
}

// bedrockStatusFromCode maps Bedrock exception names onto the HTTP statuses
// the shared classifier understands.
func bedrockStatusFromCode(code string) int {
	switch code {
	case "ThrottlingException", "TooManyRequestsException":
		return http.StatusTooManyRequests
	case "ServiceUnavailableException", "ModelNotReadyException":
		return http.StatusServiceUnavailable
	case "ModelTimeoutException":
		return http.StatusRequestTimeout
	case "AccessDeniedException", "UnauthorizedException":
		return http.StatusForbidden
	case "ExpiredTokenException", "InvalidSignatureException":
		return http.StatusUnauthorized
	case "ResourceNotFoundException":
		return http.StatusNotFound
	case "ValidationException":
		return http.StatusBadRequest
	case "InternalServerException":
		return http.StatusInternalServerError
	default:
		return 0
	}
}

// convertBedrockMessages maps canonical messages onto Converse messages.
// Tool results ride user-role messages as tool_result blocks, mirroring the
// Converse API contract.
func convertBedrockMessages(msgs []models.Message) ([]types.Message, error) {
	result := make([]types.Message, 0, len(msgs))

	for _, msg := range msgs {
		var content []types.ContentBlock

		if msg.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}
		for _, tr := range msg.ToolResults {
			block := types.ToolResultBlock{
				ToolUseId: aws.String(tr.ToolCallID),
				Content: []types.ToolResultContentBlock{
					&types.ToolResultContentBlockMemberText{Value: tr.Content},
				},
			}
			if tr.IsError {
				block.Status = types.ToolResultStatusError
			}
			content = append(content, &types.ContentBlockMemberToolResult{Value: block})
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("tool call %s: invalid input: %w", tc.ID, err)
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(input),
				},
			})
		}

		if len(content) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}

	return result, nil
}
