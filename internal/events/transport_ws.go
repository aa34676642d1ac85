package events

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"nhooyr.io/websocket"
)

// WebSocketTransport receives one envelope per text message.
type WebSocketTransport struct {
	HTTPClient *http.Client
}

func (t WebSocketTransport) Open(ctx context.Context, streamURL string) (Stream, error) {
	target, err := websocketURL(streamURL)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPClient: t.HTTPClient})
	if err != nil {
		return nil, err
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Next(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	return data, err
}

func (s *wsStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

func websocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported event stream scheme %q", u.Scheme)
	}
	return u.String(), nil
}
