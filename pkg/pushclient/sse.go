package pushclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/webitel/roster-push-service/pkg/protocol"
)

// DefaultHandshakeTimeout bounds the wait for response headers, matching
// websocket.DefaultDialer.
const DefaultHandshakeTimeout = 45 * time.Second

// SSEDialer opens text/event-stream connections.
type SSEDialer struct {
	URL string
	// Client must not set a Timeout: it would cut long-lived streams.
	Client *http.Client
	// HandshakeTimeout applies when Client is nil. Zero means DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	once     sync.Once
	fallback *http.Client
}

func (d *SSEDialer) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	d.once.Do(func() {
		timeout := d.HandshakeTimeout
		if timeout <= 0 {
			timeout = DefaultHandshakeTimeout
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.ResponseHeaderTimeout = timeout
		d.fallback = &http.Client{Transport: tr}
	})
	return d.fallback
}

func (d *SSEDialer) Dial(ctx context.Context, id Identity, lastEventID string) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("pushclient: build sse request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+id.Token)
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := d.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("pushclient: dial sse: %w", err)
	}

	if err := handshakeStatus(resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, err
	}
	return &sseStream{body: resp.Body, reader: protocol.NewSSEReader(resp.Body)}, nil
}

type sseStream struct {
	body   io.ReadCloser
	reader *protocol.SSEReader
}

func (s *sseStream) Next() (protocol.Frame, error) { return s.reader.Next() }
func (s *sseStream) Close() error                  { return s.body.Close() }

func handshakeStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrUnauthorized
	case code < 200 || code > 299:
		return fmt.Errorf("%w: status %d", ErrHandshake, code)
	}
	return nil
}
