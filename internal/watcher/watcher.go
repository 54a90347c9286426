// Package watcher follows the live change feed and renders it.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/m3xD/parkus/internal/domain"
)

// closeLagging is the close code the server uses when this watcher fell behind the feed.
const closeLagging = 4000

// FatalError ends Run. Everything else is retried.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

func fatal(format string, args ...any) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

type Options struct {
	URL           string
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	Dialer        *websocket.Dialer
}

type Watcher struct {
	url           string
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	dialer        *websocket.Dialer
	renderer      Renderer
	logger        *zap.Logger
}

func New(opts Options, renderer Renderer, logger *zap.Logger) *Watcher {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.MaxRetryDelay < opts.RetryDelay {
		opts.MaxRetryDelay = opts.RetryDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	return &Watcher{
		url:           opts.URL,
		retryDelay:    opts.RetryDelay,
		maxRetryDelay: opts.MaxRetryDelay,
		dialer:        opts.Dialer,
		renderer:      renderer,
		logger:        logger.Named("watcher"),
	}
}

// Run follows the feed until ctx is done, which returns nil, or a fatal error occurs.
// Events committed while disconnected are not replayed.
func (w *Watcher) Run(ctx context.Context) error {
	if err := validateURL(w.url); err != nil {
		return err
	}

	delay := w.retryDelay
	for {
		connected, err := w.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		var fatalErr *FatalError
		if errors.As(err, &fatalErr) {
			return err
		}
		if connected {
			delay = w.retryDelay
		}

		w.logger.Warn("feed connection lost, retrying", zap.Error(err), zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > w.maxRetryDelay {
			delay = w.maxRetryDelay
		}
	}
}

// session runs one connection. connected reports whether the handshake succeeded.
func (w *Watcher) session(ctx context.Context) (connected bool, err error) {
	conn, resp, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return false, classifyDial(err, resp)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	w.logger.Info("watching for parking slot changes", zap.String("url", w.url))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, classifyRead(err)
		}

		var ev domain.ChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			w.logger.Warn("skipping undecodable change event", zap.Error(err))
			continue
		}
		if err := w.renderer.Render(ev); err != nil {
			return true, &FatalError{Err: fmt.Errorf("render change event: %w", err)}
		}
	}
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fatal("invalid feed url %q: %v", raw, err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fatal("invalid feed url %q: want ws://host/path or wss://host/path", raw)
	}
	return nil
}

// classifyDial treats server-side and network trouble as transient and a rejected request as fatal.
func classifyDial(err error, resp *http.Response) error {
	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("handshake: %s", resp.Status)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return fatal("feed rejected the subscription: %s", resp.Status)
		}
		return fmt.Errorf("handshake: %s", resp.Status)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("dial: %w", err)
	}
	if errors.Is(err, websocket.ErrBadHandshake) {
		return fatal("feed handshake failed: %v", err)
	}
	return fmt.Errorf("dial: %w", err)
}

// classifyRead treats close frames that describe a broken request as fatal; any other way the
// connection ends is connectivity loss.
func classifyRead(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseProtocolError,
			websocket.CloseUnsupportedData,
			websocket.CloseInvalidFramePayloadData,
			websocket.ClosePolicyViolation,
			websocket.CloseMessageTooBig,
			websocket.CloseMandatoryExtension:
			return &FatalError{Err: fmt.Errorf("feed closed the subscription: %w", err)}
		case closeLagging:
			return fmt.Errorf("fell behind the feed: %w", err)
		}
	}
	return fmt.Errorf("read: %w", err)
}
