package trigger

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Parameters added to every webhook fire. They override body keys of the
// same name.
const (
	ParamWebhookEndpoint = "webhook_endpoint"
	ParamReceivedAt      = "received_at_utc"
)

// Parameters describing the HTTP request, added when it was recorded with
// EnqueueRequest. Header names are lower-cased; repeated headers and query
// values are joined with ", ".
const (
	ParamWebhookMethod  = "webhook_method"
	ParamWebhookPath    = "webhook_path"
	ParamWebhookQuery   = "webhook_query"
	ParamWebhookHeaders = "webhook_headers"
)

// DefaultQueueSize bounds the pending requests of a webhook trigger.
const DefaultQueueSize = 1024

// ErrQueueFull is returned by Enqueue when the pending queue is at capacity.
var ErrQueueFull = errors.New("webhook queue is full")

var endpointRe = regexp.MustCompile(`^[A-Za-z0-9._-]+(/[A-Za-z0-9._-]+)*$`)

type WebhookConfig struct {
	ID       string
	Pipeline string
	// Endpoint is the path below /hooks/ the trigger answers on.
	Endpoint  string
	QueueSize int
	Clock     func() time.Time
}

// Request is an accepted HTTP request. Body is the decoded JSON object.
type Request struct {
	Body    map[string]any
	Method  string
	Path    string
	Query   map[string][]string
	Headers map[string][]string
}

type request struct {
	Request
	receivedAt time.Time
}

// Webhook fires once per accepted HTTP request, in arrival order. Retried
// deliveries of the same request fire again.
type Webhook struct {
	id       string
	pipeline string
	endpoint string
	size     int
	clock    func() time.Time

	mu    sync.Mutex
	queue []request
}

// NormalizeEndpoint strips slashes and an optional leading "hooks/" segment.
func NormalizeEndpoint(endpoint string) string {
	endpoint = strings.Trim(endpoint, "/")
	return strings.TrimPrefix(endpoint, "hooks/")
}

func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if err := validateBinding("webhook", cfg.ID, cfg.Pipeline); err != nil {
		return nil, err
	}
	endpoint := NormalizeEndpoint(cfg.Endpoint)
	if !endpointRe.MatchString(endpoint) {
		return nil, fmt.Errorf("webhook trigger %q: invalid endpoint %q", cfg.ID, cfg.Endpoint)
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Webhook{
		id:       cfg.ID,
		pipeline: cfg.Pipeline,
		endpoint: endpoint,
		size:     size,
		clock:    clockOrNow(cfg.Clock),
	}, nil
}

func (w *Webhook) ID() string       { return w.id }
func (w *Webhook) Pipeline() string { return w.pipeline }
func (w *Webhook) Endpoint() string { return w.endpoint }

// Enqueue accepts a parsed request body without request metadata.
func (w *Webhook) Enqueue(body map[string]any) error {
	return w.EnqueueRequest(Request{Body: body})
}

// EnqueueRequest accepts a request; its method, path, query and headers
// become run parameters next to the body keys.
func (w *Webhook) EnqueueRequest(req Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) >= w.size {
		return ErrQueueFull
	}
	req.Body = maps.Clone(req.Body)
	w.queue = append(w.queue, request{Request: req, receivedAt: w.clock().UTC()})
	return nil
}

// Pending returns the number of requests not yet handed out.
func (w *Webhook) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Check hands out the oldest pending request.
func (w *Webhook) Check(ctx context.Context) (bool, map[string]any, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return false, nil, nil
	}
	req := w.queue[0]
	w.queue[0] = request{}
	w.queue = w.queue[1:]

	params := req.Body
	if params == nil {
		params = make(map[string]any, 3)
	}
	if req.Method != "" {
		params[ParamWebhookMethod] = req.Method
		params[ParamWebhookPath] = req.Path
		params[ParamWebhookQuery] = joinValues(req.Query, false)
		params[ParamWebhookHeaders] = joinValues(req.Headers, true)
	}
	params[ParamTriggerID] = w.id
	params[ParamWebhookEndpoint] = w.endpoint
	params[ParamReceivedAt] = req.receivedAt.Format(time.RFC3339Nano)
	return true, params, nil
}

func joinValues(in map[string][]string, lowerKeys bool) map[string]any {
	out := make(map[string]any, len(in))
	for k, vs := range in {
		if lowerKeys {
			k = strings.ToLower(k)
		}
		out[k] = strings.Join(vs, ", ")
	}
	return out
}
