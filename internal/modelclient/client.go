// Package modelclient implements the generic text-generation provider
// contract the scheduler depends on, grounded on the teacher's
// connection-pooled HTTPTaskExecutor and its trace-propagating request
// construction.
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dpushkaran/Pyrrhus/internal/resilience"
)

// Usage reports token consumption for one model call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Result is the outcome of a non-streaming generate call.
type Result struct {
	Text string
	Usage
}

// Options controls one generate call.
type Options struct {
	MaxOutputTokens int
	Temperature     float64
}

// StreamChunk is one increment of a streaming response; Done is set on the
// final chunk, which also carries usage metadata.
type StreamChunk struct {
	TextDelta string
	Done      bool
	Usage     Usage
}

// Client is the generic provider contract the scheduler's components
// (planner, evaluator, executors) depend on. No component imports a concrete
// provider SDK directly.
type Client interface {
	Generate(ctx context.Context, model, prompt string, opts Options) (Result, error)
	GenerateStream(ctx context.Context, model, prompt string, opts Options) (<-chan StreamChunk, error)
	GenerateJSON(ctx context.Context, model string, schema json.RawMessage, prompt, systemInstruction string, temperature float64) (json.RawMessage, Usage, error)
}

// HTTPClient is the production Client, calling a model-inference endpoint
// over HTTP the way the teacher's ModelInferencePlugin calls the
// model-registry service, but generalized from a fixed plugin config to the
// generate/generate_stream/generate_json contract this system needs.
type HTTPClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
	tracer   trace.Tracer
	breaker  *resilience.CircuitBreaker
	retries  int
}

// NewHTTPClient builds a client against endpoint (e.g. the model registry's
// base URL), authenticating with apiKey via the X-API-Key header. Calls are
// protected by a retrying circuit breaker: 3 attempts with exponential
// backoff, tripping open after a sustained failure rate over a 30s window.
func NewHTTPClient(endpoint, apiKey string) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		tracer:  otel.Tracer("pyrrhus/modelclient"),
		breaker: resilience.NewCircuitBreakerAdaptive(30*time.Second, 6, 5, 0.5, 10*time.Second, 2),
		retries: 3,
	}
}

type generateRequest struct {
	Model             string          `json:"model"`
	Prompt            string          `json:"prompt"`
	SystemInstruction string          `json:"system_instruction,omitempty"`
	MaxOutputTokens   int             `json:"max_output_tokens"`
	Temperature       float64         `json:"temperature"`
	Schema            json.RawMessage `json:"schema,omitempty"`
	Stream            bool            `json:"stream,omitempty"`
}

type generateResponse struct {
	Text             string          `json:"text"`
	JSON             json.RawMessage `json:"json,omitempty"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	Error            string          `json:"error,omitempty"`
}

// Generate calls the provider synchronously and returns the full text.
func (c *HTTPClient) Generate(ctx context.Context, model, prompt string, opts Options) (Result, error) {
	resp, err := c.call(ctx, "generate", generateRequest{
		Model:           model,
		Prompt:          prompt,
		MaxOutputTokens: opts.MaxOutputTokens,
		Temperature:     opts.Temperature,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Text:  resp.Text,
		Usage: Usage{PromptTokens: resp.PromptTokens, CompletionTokens: resp.CompletionTokens},
	}, nil
}

// GenerateJSON calls the provider's structured-output endpoint and returns
// the raw JSON object plus usage.
func (c *HTTPClient) GenerateJSON(ctx context.Context, model string, schema json.RawMessage, prompt, systemInstruction string, temperature float64) (json.RawMessage, Usage, error) {
	resp, err := c.call(ctx, "generate_json", generateRequest{
		Model:             model,
		Prompt:            prompt,
		SystemInstruction: systemInstruction,
		Temperature:       temperature,
		Schema:            schema,
	})
	if err != nil {
		return nil, Usage{}, err
	}
	if len(resp.JSON) == 0 {
		return nil, Usage{}, fmt.Errorf("modelclient: generate_json returned no json payload")
	}
	return resp.JSON, Usage{PromptTokens: resp.PromptTokens, CompletionTokens: resp.CompletionTokens}, nil
}

// GenerateStream calls the provider's streaming endpoint. The returned
// channel is closed after the final chunk (Done=true) is delivered or on
// error.
func (c *HTTPClient) GenerateStream(ctx context.Context, model, prompt string, opts Options) (<-chan StreamChunk, error) {
	ctx, span := c.tracer.Start(ctx, "modelclient.generate_stream", trace.WithAttributes(attribute.String("model", model)))
	body, err := json.Marshal(generateRequest{Model: model, Prompt: prompt, MaxOutputTokens: opts.MaxOutputTokens, Temperature: opts.Temperature, Stream: true})
	if err != nil {
		span.End()
		return nil, fmt.Errorf("modelclient: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/generate_stream", bytes.NewReader(body))
	if err != nil {
		span.End()
		return nil, fmt.Errorf("modelclient: build request: %w", err)
	}
	c.setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		span.End()
		return nil, fmt.Errorf("modelclient: %w", err)
	}
	out := make(chan StreamChunk)
	go func() {
		defer span.End()
		defer resp.Body.Close()
		defer close(out)
		dec := json.NewDecoder(resp.Body)
		for {
			var chunk StreamChunk
			if err := dec.Decode(&chunk); err != nil {
				if err != io.EOF {
					select {
					case out <- StreamChunk{Done: true}:
					case <-ctx.Done():
					}
				}
				return
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			if chunk.Done {
				return
			}
		}
	}()
	return out, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	otel.GetTextMapPropagator().Inject(req.Context(), propagationCarrier{req.Header})
}

func (c *HTTPClient) call(ctx context.Context, op string, reqBody generateRequest) (generateResponse, error) {
	if !c.breaker.Allow() {
		return generateResponse{}, fmt.Errorf("modelclient: circuit open for %s", op)
	}
	out, err := resilience.Retry(ctx, c.retries, 200*time.Millisecond, func() (generateResponse, error) {
		return c.doCall(ctx, op, reqBody)
	})
	c.breaker.RecordResult(err == nil)
	return out, err
}

func (c *HTTPClient) doCall(ctx context.Context, op string, reqBody generateRequest) (generateResponse, error) {
	ctx, span := c.tracer.Start(ctx, "modelclient."+op, trace.WithAttributes(attribute.String("model", reqBody.Model)))
	defer span.End()

	body, err := json.Marshal(reqBody)
	if err != nil {
		return generateResponse{}, fmt.Errorf("modelclient: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/"+op, bytes.NewReader(body))
	if err != nil {
		return generateResponse{}, fmt.Errorf("modelclient: build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return generateResponse{}, fmt.Errorf("modelclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return generateResponse{}, fmt.Errorf("modelclient: read response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		return generateResponse{}, fmt.Errorf("modelclient: provider returned %d: %s", resp.StatusCode, string(raw))
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return generateResponse{}, fmt.Errorf("modelclient: decode response: %w", err)
	}
	if out.Error != "" {
		return generateResponse{}, fmt.Errorf("modelclient: provider error: %s", out.Error)
	}
	if op == "generate" && out.Text == "" {
		return generateResponse{}, fmt.Errorf("modelclient: empty output")
	}
	return out, nil
}

// propagationCarrier adapts http.Header for OpenTelemetry trace-context
// propagation.
type propagationCarrier struct{ h http.Header }

func (p propagationCarrier) Get(key string) string   { return p.h.Get(key) }
func (p propagationCarrier) Set(key, value string)   { p.h.Set(key, value) }
func (p propagationCarrier) Keys() []string {
	keys := make([]string, 0, len(p.h))
	for k := range p.h {
		keys = append(keys, k)
	}
	return keys
}
