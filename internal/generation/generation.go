package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kjstillabower/observability-demo-service/internal/observability"
)

// Generator turns a prompt into generated text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

var (
	ErrMissingAPIKey    = errors.New("generation API key is required")
	ErrGenerationFailed = errors.New("generation failed")
)

// Options configures an OpenAIGenerator.
type Options struct {
	APIKey string
	// BaseURL defaults to the public OpenAI endpoint.
	BaseURL string
	Model   string
	Timeout time.Duration
	Metrics *observability.Metrics
	// Transport is wrapped with otelhttp; nil means http.DefaultTransport.
	Transport http.RoundTripper
}

// OpenAIGenerator generates text through an OpenAI-compatible chat completions API.
type OpenAIGenerator struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	metrics *observability.Metrics
}

func NewOpenAIGenerator(opts Options) (*OpenAIGenerator, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if opts.Model == "" {
		opts.Model = openai.GPT3Dot5Turbo
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("generation timeout must be positive")
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	cfg.HTTPClient = &http.Client{
		Transport: otelhttp.NewTransport(transport,
			otelhttp.WithPropagators(observability.Propagator()),
		),
	}

	return &OpenAIGenerator{
		client:  openai.NewClientWithConfig(cfg),
		model:   opts.Model,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
	}, nil
}

// Generate sends prompt as a single user message and returns the first choice verbatim.
// A response without choices yields an empty string.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		status := errorStatus(ctx, reqCtx, err)
		g.record(ctx, status, time.Since(start))
		if status == "canceled" {
			return "", fmt.Errorf("generation: %w", ctx.Err())
		}
		return "", fmt.Errorf("%w: %s: %w", ErrGenerationFailed, status, err)
	}

	if len(resp.Choices) == 0 {
		g.record(ctx, "empty", time.Since(start))
		return "", nil
	}

	g.record(ctx, "success", time.Since(start))
	return resp.Choices[0].Message.Content, nil
}

func errorStatus(ctx, reqCtx context.Context, err error) string {
	var apiErr *openai.APIError
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return "canceled"
	case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &apiErr):
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized:
			return "unauthorized"
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return "rate_limited"
		case apiErr.HTTPStatusCode >= 500:
			return "server_error"
		default:
			return "client_error"
		}
	default:
		return "error"
	}
}

func (g *OpenAIGenerator) record(ctx context.Context, status string, d time.Duration) {
	if g.metrics == nil {
		return
	}
	g.metrics.RecordGeneration(ctx, status, d)
}
