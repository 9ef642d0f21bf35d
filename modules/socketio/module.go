package socketio

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/vk/gridflow/internal/registry"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// DefaultTimeout applies when the timeout argument is empty or invalid.
const DefaultTimeout = 10 * time.Second

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the socketio step.
type Input struct {
	URL                string         `gf:"url"`
	OnEvent            string         `gf:"on_event"`
	Namespace          string         `gf:"namespace,optional"`
	EmitEvent          string         `gf:"emit_event,optional"`
	EmitData           map[string]any `gf:"emit_data,optional"`
	Timeout            string         `gf:"timeout,optional"`
	InsecureSkipVerify bool           `gf:"insecure_skip_verify,optional"`
}

// opResult is a private struct to safely pass results through the done channel.
type opResult struct {
	value any
	err   error
}

type endpoint struct {
	base      string
	path      string
	namespace string
	timeout   time.Duration
}

func (in *Input) endpoint() (endpoint, error) {
	parsedURL, err := url.Parse(in.URL)
	if err != nil {
		return endpoint{}, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return endpoint{}, fmt.Errorf("url %q must be absolute", in.URL)
	}
	if in.OnEvent == "" {
		return endpoint{}, errors.New("on_event is required")
	}
	ep := endpoint{
		base:      fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host),
		path:      parsedURL.Path,
		namespace: in.Namespace,
		timeout:   DefaultTimeout,
	}
	if ep.path == "" {
		ep.path = "/socket.io/"
	}
	if ep.namespace == "" {
		ep.namespace = "/"
	}
	if in.Timeout != "" {
		d, err := time.ParseDuration(in.Timeout)
		if err != nil {
			return endpoint{}, fmt.Errorf("invalid timeout %q: %w", in.Timeout, err)
		}
		ep.timeout = d
	}
	return ep, nil
}

// OnRunSocketIO connects, optionally emits an event, and waits for OnEvent.
// The first argument of that event is returned as response_data.
func OnRunSocketIO(ctx context.Context, input *Input) (any, error) {
	ep, err := input.endpoint()
	if err != nil {
		return nil, err
	}
	logger := ctxlog.FromContext(ctx).With("url", input.URL, "on_event", input.OnEvent, "emit_event", input.EmitEvent)
	logger.Debug("Handler started")
	defer logger.Debug("Handler finished")

	var isConnected atomic.Bool

	done := make(chan opResult, 1)
	finish := func(r opResult) {
		select {
		case done <- r:
		default:
		}
	}
	opCtx, cancel := context.WithTimeout(ctx, ep.timeout)
	defer cancel()

	opts := socket.DefaultOptions()
	opts.SetPath(ep.path)
	if input.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(ep.base, opts)
	io := manager.Socket(ep.namespace, opts)
	defer func() {
		logger.Debug("Disconnecting socket client")
		io.Disconnect()
	}()

	io.On(types.EventName("connect"), func(...any) {
		isConnected.Store(true)
		logger.Info("Successfully connected.", "namespace", ep.namespace, "sid", io.Id())
		if input.EmitEvent != "" {
			jsonData, _ := json.Marshal(input.EmitData)
			logger.Info("Emitting event.", "event", input.EmitEvent, "data", string(jsonData))
			io.Emit(input.EmitEvent, input.EmitData)
		}
	})

	io.On(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		finish(opResult{err: fmt.Errorf("socket.io connection failed: %w", err)})
	})

	io.On(types.EventName(input.OnEvent), func(data ...any) {
		var responseData any
		if len(data) > 0 {
			responseData = data[0]
		}
		finish(opResult{value: map[string]any{"response_data": responseData}})
	})

	io.Connect()

	select {
	case <-opCtx.Done():
		if isConnected.Load() {
			return nil, fmt.Errorf("timed out after connecting while waiting for event '%s'", input.OnEvent)
		}
		return nil, errors.New("timed out while waiting for initial connection")
	case res := <-done:
		return res.value, res.err
	}
}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("socketio", registry.NewHandler("Exchange events with a Socket.IO server.", OnRunSocketIO))
}
