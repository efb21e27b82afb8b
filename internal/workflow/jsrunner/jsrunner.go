// Package jsrunner executes user-supplied handler source in a goja sandbox.
//
// The handler source defines `async function handle(ctx)` (plain functions
// work too) where ctx = {input, state}. The awaited return value is the
// node output. The sandbox exposes a single I/O capability: an axios-shaped
// HTTP client. No other globals are guaranteed.
package jsrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/rxtech-lab/rxflow/internal/service"
)

const (
	// defaultTimeout bounds one handler invocation wall-clock.
	defaultTimeout = 60 * time.Second

	// httpTimeout is the per-request timeout of the injected axios client.
	httpTimeout = 30 * time.Second
)

// Runner is a goja-based JSRunner. A fresh VM is created per execution, so
// handlers cannot observe each other; the runner itself is safe for
// concurrent use.
type Runner struct {
	timeout    time.Duration
	httpClient *http.Client
}

var _ service.JSRunner = (*Runner)(nil)

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout bounds a single handler execution. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client behind the axios capability.
// Tests use this to keep handlers off the network.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) {
		r.httpClient = c
	}
}

// New creates a handler runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		timeout:    defaultTimeout,
		httpClient: &http.Client{Timeout: httpTimeout},
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Execute compiles the handler source, invokes handle(ctx), and drains the
// returned promise. meta is diagnostic only.
func (r *Runner) Execute(ctx context.Context, hctx service.HandlerContext, source string, meta service.HandlerMeta) (any, error) {
	vm := goja.New()

	if err := registerAxios(vm, r.httpClient); err != nil {
		return nil, fmt.Errorf("js handler: setup VM: %w", err)
	}

	execCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	// Interrupt the VM when the context expires; goja surfaces the
	// interrupt as an execution error.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-execCtx.Done():
			vm.Interrupt(execCtx.Err())
		case <-done:
		}
	}()

	if _, err := vm.RunString(source); err != nil {
		return nil, fmt.Errorf("js handler: %w", err)
	}

	handle, ok := goja.AssertFunction(vm.Get("handle"))
	if !ok {
		return nil, errors.New("js handler: source does not define a handle function")
	}

	ctxObj := vm.NewObject()
	if hctx.Input != nil {
		if err := ctxObj.Set("input", hctx.Input); err != nil {
			return nil, fmt.Errorf("js handler: set input: %w", err)
		}
	}
	state := hctx.State
	if state == nil {
		state = map[string]any{}
	}
	if err := ctxObj.Set("state", state); err != nil {
		return nil, fmt.Errorf("js handler: set state: %w", err)
	}

	val, err := handle(goja.Undefined(), ctxObj)
	if err != nil {
		return nil, fmt.Errorf("js handler: %w", err)
	}

	return settle(val)
}

// settle unwraps the handler's return value. Async handlers return a
// promise; goja drains the microtask queue before the call returns, so a
// still-pending promise means the handler awaited something that can never
// resolve inside this sandbox.
func settle(val goja.Value) (any, error) {
	if promise, ok := val.Export().(*goja.Promise); ok {
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			return normalize(promise.Result()), nil
		case goja.PromiseStateRejected:
			return nil, fmt.Errorf("js handler: %s", rejectionMessage(promise.Result()))
		default:
			return nil, errors.New("js handler: promise did not settle")
		}
	}

	return normalize(val), nil
}

func normalize(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}

	return v.Export()
}

// rejectionMessage extracts a readable message from a rejected promise's
// reason, preferring Error.message.
func rejectionMessage(reason goja.Value) string {
	if reason == nil {
		return "handler rejected"
	}
	if obj, ok := reason.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}

	return reason.String()
}

// ─── axios capability ───

// registerAxios installs the HTTP capability. The JS surface mirrors the
// axios client shape:
//
//	axios.get(url, config?)            → response
//	axios.delete(url, config?)         → response
//	axios.post(url, data?, config?)    → response
//	axios.put(url, data?, config?)     → response
//	axios.patch(url, data?, config?)   → response
//	axios.request({url, method, data, headers}) → response
//
// where response = {status, statusText, headers, data} and config may carry
// {headers}. Non-2xx statuses throw, like axios defaults.
func registerAxios(vm *goja.Runtime, client *http.Client) error {
	axios := vm.NewObject()

	bodyless := func(method string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) == 0 {
				panic(vm.NewTypeError("axios.%s: url is required", strings.ToLower(method)))
			}
			url := call.Arguments[0].String()
			var headers map[string]string
			if len(call.Arguments) > 1 {
				headers = configHeaders(call.Arguments[1])
			}
			return doRequest(vm, client, method, url, nil, headers)
		}
	}

	bodied := func(method string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) == 0 {
				panic(vm.NewTypeError("axios.%s: url is required", strings.ToLower(method)))
			}
			url := call.Arguments[0].String()
			var data any
			if len(call.Arguments) > 1 && !goja.IsUndefined(call.Arguments[1]) && !goja.IsNull(call.Arguments[1]) {
				data = call.Arguments[1].Export()
			}
			var headers map[string]string
			if len(call.Arguments) > 2 {
				headers = configHeaders(call.Arguments[2])
			}
			return doRequest(vm, client, method, url, data, headers)
		}
	}

	for method, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"get":     bodyless("GET"),
		"delete":  bodyless("DELETE"),
		"post":    bodied("POST"),
		"put":     bodied("PUT"),
		"patch":   bodied("PATCH"),
		"request": requestFn(vm, client),
	} {
		if err := axios.Set(method, fn); err != nil {
			return err
		}
	}

	return vm.Set("axios", axios)
}

// requestFn implements axios.request(config).
func requestFn(vm *goja.Runtime, client *http.Client) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(vm.NewTypeError("axios.request: config is required"))
		}
		cfg, ok := call.Arguments[0].Export().(map[string]any)
		if !ok {
			panic(vm.NewTypeError("axios.request: config must be an object"))
		}

		url, _ := cfg["url"].(string)
		if url == "" {
			panic(vm.NewTypeError("axios.request: url is required"))
		}
		method, _ := cfg["method"].(string)
		if method == "" {
			method = "GET"
		}
		headers := make(map[string]string)
		if h, ok := cfg["headers"].(map[string]any); ok {
			for k, v := range h {
				headers[k] = fmt.Sprintf("%v", v)
			}
		}

		return doRequest(vm, client, strings.ToUpper(method), url, cfg["data"], headers)
	}
}

// configHeaders pulls {headers} out of an axios config argument.
func configHeaders(v goja.Value) map[string]string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	cfg, ok := v.Export().(map[string]any)
	if !ok {
		return nil
	}
	h, ok := cfg["headers"].(map[string]any)
	if !ok {
		return nil
	}

	out := make(map[string]string, len(h))
	for k, val := range h {
		out[k] = fmt.Sprintf("%v", val)
	}

	return out
}

// doRequest performs the HTTP call and builds the axios response object.
// Transport failures and non-2xx statuses throw into the handler.
func doRequest(vm *goja.Runtime, client *http.Client, method, url string, data any, headers map[string]string) goja.Value {
	var bodyReader io.Reader
	if data != nil {
		switch v := data.(type) {
		case string:
			bodyReader = strings.NewReader(v)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				panic(vm.NewTypeError("axios: marshal request data: %v", err))
			}
			bodyReader = bytes.NewReader(raw)
		}
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		panic(vm.NewTypeError("axios: create request: %v", err))
	}

	if bodyReader != nil {
		if _, ok := headers["Content-Type"]; !ok {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		panic(vm.NewTypeError("axios: request failed: %v", err))
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		panic(vm.NewTypeError("axios: read response: %v", err))
	}

	// Parse JSON bodies; everything else stays a string.
	var parsed any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		parsed = string(respBody)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		panic(vm.NewTypeError("axios: request failed with status code %d", resp.StatusCode))
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	return vm.ToValue(map[string]any{
		"status":     resp.StatusCode,
		"statusText": resp.Status,
		"headers":    respHeaders,
		"data":       parsed,
	})
}
