// Package notify publishes execution events to a socket.io dashboard.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/specialistvlad/cdflow/internal/ctxlog"
	"github.com/specialistvlad/cdflow/internal/engine"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// EventName is the socket.io event every execution event is emitted as.
const EventName = "pipeline_event"

// Config describes the dashboard connection.
type Config struct {
	URL                string        `koanf:"url"`
	Namespace          string        `koanf:"namespace"`
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify"`
	ConnectTimeout     time.Duration `koanf:"connect_timeout"`
}

// Emitter is an engine.Observer that forwards events over socket.io.
type Emitter struct {
	io *socket.Socket
}

// Dial connects to the dashboard and waits for the connection to be
// acknowledged.
func Dial(ctx context.Context, cfg Config) (*Emitter, error) {
	logger := ctxlog.FromContext(ctx).With("notify", "socketio", "url", cfg.URL)

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("notify URL %q must be absolute", cfg.URL)
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("📡 Connected to dashboard.", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connectChan <- err
	})

	io.Connect()
	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return &Emitter{io: io}, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}
}

// Notify implements engine.Observer. Events are dropped while disconnected.
func (e *Emitter) Notify(ctx context.Context, ev engine.Event) {
	if !e.io.Connected() {
		ctxlog.FromContext(ctx).Debug("Dashboard disconnected, dropping event.", "type", ev.Type)
		return
	}
	if err := e.io.Emit(EventName, eventPayload(ev)); err != nil {
		ctxlog.FromContext(ctx).Debug("Failed to emit event.", "type", ev.Type, "error", err)
	}
}

// Close disconnects from the dashboard.
func (e *Emitter) Close() {
	e.io.Disconnect()
}

func eventPayload(ev engine.Event) map[string]any {
	payload := map[string]any{
		"type":         string(ev.Type),
		"execution_id": ev.ExecutionID,
		"pipeline":     ev.Pipeline,
		"time":         ev.Time.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range map[string]string{
		"stage":  ev.Stage,
		"action": ev.Action,
		"status": ev.Status,
		"error":  ev.Error,
	} {
		if v != "" {
			payload[k] = v
		}
	}
	return payload
}

// Fanout forwards every event to each observer in turn.
type Fanout []engine.Observer

// Notify implements engine.Observer.
func (f Fanout) Notify(ctx context.Context, ev engine.Event) {
	for _, o := range f {
		if o != nil {
			o.Notify(ctx, ev)
		}
	}
}

// Log is an engine.Observer that writes events to the context logger.
type Log struct{}

// Notify implements engine.Observer.
func (Log) Notify(ctx context.Context, ev engine.Event) {
	ctxlog.FromContext(ctx).Debug("Execution event.", "type", ev.Type, "stage", ev.Stage, "action", ev.Action, "status", ev.Status)
}
