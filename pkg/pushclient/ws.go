package pushclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/webitel/roster-push-service/pkg/protocol"
)

// WSDialer opens websocket connections. The token travels as access_token.
type WSDialer struct {
	URL    string
	Dialer *websocket.Dialer
}

func (d *WSDialer) Dial(ctx context.Context, id Identity, lastEventID string) (Stream, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("pushclient: parse ws url: %w", err)
	}
	q := u.Query()
	q.Set("access_token", id.Token)
	if lastEventID != "" {
		q.Set("last_event_id", lastEventID)
	}
	u.RawQuery = q.Encode()

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			if herr := handshakeStatus(resp.StatusCode); herr != nil {
				return nil, herr
			}
		}
		return nil, fmt.Errorf("pushclient: dial ws: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Next() (protocol.Frame, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return protocol.Frame{}, err
	}
	return protocol.DecodeFrame(data)
}

func (s *wsStream) Close() error { return s.conn.Close() }
