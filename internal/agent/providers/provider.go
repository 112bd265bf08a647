// Package providers implements the model adapter layer: one Adapter per
// vendor API, each reconciling that vendor's request shape, streaming
// protocol, and tool-calling conventions with the canonical pkg/models
// representation.
//
// Adapters are selected by provider id through a Registry map. Every adapter
// is safe for concurrent use; each completion call owns an independent
// stream and goroutine. Transport failures are classified into a structured
// ProviderError so callers can distinguish retryable conditions (rate limit,
// timeout, 5xx) from terminal ones (auth, invalid request).
package providers

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/steward/pkg/models"
)

// Provider ids for the built-in adapters.
const (
	IDAnthropic = "anthropic"
	IDOpenAI    = "openai"
	IDGoogle    = "google"
	IDBedrock   = "bedrock"
)

// Request is the canonical completion request shared by every adapter. The
// adapter translates it into the vendor's wire shape; no vendor type leaks
// out of this package.
type Request struct {
	// Model overrides the adapter's default model when non-empty.
	Model string

	// System is the system prompt, carried separately from Messages because
	// several vendors take it out of band.
	System string

	// Messages is the conversation in canonical form.
	Messages []models.Message

	// Tools are the definitions the model may call. The registry supplies
	// kind-appropriate schemas (flattened for providers that cannot parse
	// nested parameter schemas).
	Tools []models.ToolDefinition

	// MaxTokens caps the generated output. Zero means the adapter default.
	MaxTokens int

	// Temperature is the sampling temperature; nil leaves the vendor
	// default. Adapters for model families that reject temperature ignore
	// it.
	Temperature *float64
}

// Chunk is one streamed increment of a model response. Exactly one of Text,
// ToolCall, or Err is meaningful per chunk; Done marks the final chunk and
// carries the stop reason and token usage when the vendor reports them.
type Chunk struct {
	Text       string
	ToolCall   *models.ToolCall
	Done       bool
	StopReason string
	Usage      *models.Usage
	Err        error
}

// Response is one fully aggregated model turn, produced by Collect.
type Response struct {
	Text       string
	ToolCalls  []models.ToolCall
	StopReason string
	Usage      models.Usage
}

// Options tunes a plain text completion.
type Options struct {
	Model     string
	MaxTokens int
}

// Adapter reconciles one vendor API with the canonical request/chunk
// contract. CompleteWithTools returns a channel that streams the response
// and is closed after the terminal chunk; CompleteSimple is the tool-free
// convenience form that collects the stream into plain text.
type Adapter interface {
	ID() string
	CompleteSimple(ctx context.Context, system, prompt string, opts Options) (string, error)
	CompleteWithTools(ctx context.Context, req Request) (<-chan Chunk, error)
}

// KeyFn resolves the API credential for a provider id. Implementations must
// only feed the result into outbound SDK clients; credentials are never
// logged.
type KeyFn func(providerID string) string

// EnvKey is the default KeyFn: it reads the conventional environment
// variable for each provider and returns "" when unset.
func EnvKey(providerID string) string {
	switch providerID {
	case IDAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case IDOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case IDGoogle:
		return os.Getenv("GOOGLE_API_KEY")
	}
	// bedrock authenticates through the AWS credential chain
	return ""
}

// Registry maps provider ids to adapters. Registration happens at startup;
// lookups afterwards are concurrent.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its id. Duplicate ids are rejected.
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return fmt.Errorf("providers: adapter is nil")
	}
	id := a.ID()
	if id == "" {
		return fmt.Errorf("providers: adapter has empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("providers: adapter %q already registered", id)
	}
	r.adapters[id] = a
	return nil
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("providers: unknown provider %q", id)
	}
	return a, nil
}

// IDs returns the registered provider ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Collect drains a chunk stream into one aggregated response. onToken, when
// non-nil, observes each text delta as it arrives. A chunk error or context
// cancellation aborts collection; partial content is discarded with it.
func Collect(ctx context.Context, stream <-chan Chunk, onToken func(string)) (*Response, error) {
	resp := &Response{}
	var text strings.Builder
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				resp.Text = text.String()
				if resp.StopReason == "" {
					resp.StopReason = deriveStopReason(resp)
				}
				return resp, nil
			}
			if chunk.Err != nil {
				return nil, chunk.Err
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
				if onToken != nil {
					onToken(chunk.Text)
				}
			}
			if chunk.ToolCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
			}
			if chunk.Usage != nil {
				resp.Usage.Add(*chunk.Usage)
			}
			if chunk.Done && chunk.StopReason != "" {
				resp.StopReason = chunk.StopReason
			}
		}
	}
}

func deriveStopReason(resp *Response) string {
	if len(resp.ToolCalls) > 0 {
		return "tool_use"
	}
	return "end_turn"
}

// completeText issues a tool-free completion through an adapter and collects
// the streamed text. Shared by every adapter's CompleteSimple.
func completeText(ctx context.Context, a Adapter, system, prompt string, opts Options) (string, error) {
	stream, err := a.CompleteWithTools(ctx, Request{
		Model:     opts.Model,
		System:    system,
		Messages:  []models.Message{models.NewUserMessage(prompt)},
		MaxTokens: opts.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	resp, err := Collect(ctx, stream, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
