package http_request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/vk/gridflow/internal/registry"
)

// DefaultTimeout applies when the timeout argument is empty.
const DefaultTimeout = 30 * time.Second

// Module implements the registry.Module interface for this package.
type Module struct {
	// Client defaults to a shared client so connections are reused across runs.
	Client *http.Client
}

var sharedClient = &http.Client{}

// Input defines the arguments for the 'arguments' HCL block.
type Input struct {
	URL          string            `gf:"url"`
	Method       string            `gf:"method,optional"`
	Headers      map[string]string `gf:"headers,optional"`
	Body         string            `gf:"body,optional"`
	Timeout      string            `gf:"timeout,optional"`
	ExpectStatus int               `gf:"expect_status,optional"`
}

func (m *Module) client() *http.Client {
	if m.Client != nil {
		return m.Client
	}
	return sharedClient
}

// OnRunHttpRequest performs the request. The result carries status_code,
// body and headers, plus json when the response declares a JSON body.
func (m *Module) OnRunHttpRequest(ctx context.Context, input *Input) (any, error) {
	method := strings.ToUpper(input.Method)
	if method == "" {
		method = http.MethodGet
	}
	timeout := DefaultTimeout
	if input.Timeout != "" {
		d, err := time.ParseDuration(input.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", input.Timeout, err)
		}
		timeout = d
	}
	logger := ctxlog.FromContext(ctx).With("method", method, "url", input.URL)
	logger.Info("Making HTTP request.")

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if input.Body != "" {
		body = strings.NewReader(input.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, input.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range input.Headers {
		req.Header.Set(k, v)
	}

	resp, err := m.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	logger.Info("Received HTTP response.", "status", resp.Status)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if input.ExpectStatus != 0 && resp.StatusCode != input.ExpectStatus {
		return nil, fmt.Errorf("expected status %d, got %s", input.ExpectStatus, resp.Status)
	}

	headers := make(map[string]any, len(resp.Header))
	for k, v := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	result := map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(bodyBytes),
		"headers":     headers,
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		dec := json.NewDecoder(bytes.NewReader(bodyBytes))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil {
			result["json"] = v
		} else {
			logger.Warn("Response declared JSON but did not decode.", "error", err)
		}
	}
	return result, nil
}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("http_request", registry.NewHandler("Perform an HTTP request.", m.OnRunHttpRequest))
}
