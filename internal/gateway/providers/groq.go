package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	// SystemPrompt is sent ahead of every user prompt
	SystemPrompt = "You are a helpful assistant."

	// Temperature is the fixed sampling temperature
	Temperature float32 = 0.3

	// ProviderName identifies the upstream in provenance records
	ProviderName = "groq"
)

// ClientConfig configures a Groq completion client
type ClientConfig struct {
	BaseURL string        // OpenAI-compatible base, e.g. https://api.groq.com/openai/v1
	APIKey  string        // Bearer token
	Model   string        // Model identifier
	Timeout time.Duration // Bound on one call, including pacing
	MaxRPS  float64       // Outbound pacing; zero disables it
}

// GroqClient issues single, non-streaming chat completions against Groq's
// OpenAI-compatible endpoint. It never retries.
type GroqClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
}

// NewGroqClient creates a new Groq completion client
func NewGroqClient(cfg ClientConfig) *GroqClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	oaCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oaCfg.HTTPClient = &http.Client{Timeout: timeout}

	c := &GroqClient{
		client:  openai.NewClientWithConfig(oaCfg),
		model:   cfg.Model,
		timeout: timeout,
	}
	if cfg.MaxRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRPS), 1)
	}
	return c
}

// Model returns the configured model identifier
func (c *GroqClient) Model() string {
	return c.model
}

// Provider returns the provider name
func (c *GroqClient) Provider() string {
	return ProviderName
}

// Complete sends prompt as the user message and returns the trimmed reply.
// The request is non-streaming; go-openai omits "stream" when false, which the
// endpoint reads as stream:false.
// All failures are reported through the Outcome.
func (c *GroqClient) Complete(ctx context.Context, prompt string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	startTime := time.Now()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Fail(FailureTimeout, 0, fmt.Sprintf("outbound pacing: %v", err))
		}
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: Temperature,
		Stream:      false,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return classifyError(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return Fail(FailureProtocol, http.StatusOK, "response missing choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return Fail(FailureProtocol, http.StatusOK, "response missing choices[0].message.content")
	}

	log.Printf("groq: %s replied with %d chars in %dms", c.model, len(content), time.Since(startTime).Milliseconds())
	return Success(content)
}

// classifyError maps a go-openai error onto a failure kind
func classifyError(ctx context.Context, err error) Outcome {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return Fail(FailureTimeout, 0, err.Error())
	case errors.As(err, &apiErr):
		return Fail(FailureTransport, apiErr.HTTPStatusCode, apiErr.Message)
	case errors.As(err, &reqErr):
		return Fail(FailureTransport, reqErr.HTTPStatusCode, reqErr.Error())
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return Fail(FailureProtocol, http.StatusOK, fmt.Sprintf("malformed response body: %v", err))
	case errors.As(err, &netErr) && netErr.Timeout():
		return Fail(FailureTimeout, 0, err.Error())
	default:
		return Fail(FailureTransport, 0, err.Error())
	}
}
