// Package toolrunner invokes remote tools through the tool gateway and
// provides a test-mode runner that can validate, fake, and record calls.
package toolrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/worldline-go/klient"

	"github.com/rxtech-lab/rxflow/internal/service"
)

// Runner is the production tool runner. It posts {input} to the gateway at
// POST <base>/tool/<toolIdentifier>/use and reads {output} back.
type Runner struct {
	client  *klient.Client
	baseURL string
	apiKey  string
	timeout time.Duration
}

var _ service.ToolRunner = (*Runner)(nil)

// Option configures a Runner.
type Option func(*Runner)

// WithClient replaces the underlying klient client (tests).
func WithClient(c *klient.Client) Option {
	return func(r *Runner) {
		r.client = c
	}
}

// WithTimeout bounds a single tool invocation. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.timeout = d
	}
}

// New creates a tool runner for the given gateway base URL and API key.
func New(baseURL, apiKey string, opts ...Option) (*Runner, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("tool runner: gateway base URL is required")
	}

	r := &Runner{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
	for _, opt := range opts {
		opt(r)
	}

	if r.client == nil {
		client, err := klient.New(
			klient.WithDisableBaseURLCheck(true),
			klient.WithDisableEnvValues(true),
			klient.WithDisableRetry(true),
		)
		if err != nil {
			return nil, fmt.Errorf("tool runner: build client: %w", err)
		}
		r.client = client
	}

	return r, nil
}

// toolResponse is the gateway's success body. Output stays raw so that a
// JSON null can be told apart from a missing field.
type toolResponse struct {
	Output json.RawMessage `json:"output"`
}

// Execute posts the input to the gateway and returns the tool's output.
// The schemas are carried for runner implementations that validate; the
// production gateway validates server-side.
func (r *Runner) Execute(ctx context.Context, toolIdentifier string, input any, inputSchema, outputSchema map[string]any) (any, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return nil, fmt.Errorf("Failed to execute tool: marshal input: %w", err)
	}

	endpoint := r.baseURL + "/tool/" + url.PathEscape(toolIdentifier) + "/use"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("Failed to execute tool: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("x-api-key", r.apiKey)
	}

	resp, err := r.client.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Failed to execute tool: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("Failed to execute tool: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("Failed to execute tool: %s returned status %d: %s",
			toolIdentifier, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed toolResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("Failed to execute tool: decode response: %w", err)
	}

	if len(parsed.Output) == 0 || string(parsed.Output) == "null" {
		return nil, fmt.Errorf("No output from tool")
	}

	var output any
	if err := json.Unmarshal(parsed.Output, &output); err != nil {
		return nil, fmt.Errorf("Failed to execute tool: decode output: %w", err)
	}

	return output, nil
}
