package events

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Transport opens one connection to the event endpoint.
type Transport interface {
	Open(ctx context.Context, streamURL string) (Stream, error)
}

// Stream yields the payload of one envelope per call to Next. Next returns
// an error once the connection is gone.
type Stream interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// SSETransport reads a text/event-stream response.
type SSETransport struct {
	HTTPClient *http.Client
}

func (t SSETransport) Open(ctx context.Context, streamURL string) (Stream, error) {
	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return &sseStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

// Next returns the joined data lines of the next event. Comments and the
// event, id and retry fields are skipped.
func (s *sseStream) Next(ctx context.Context) ([]byte, error) {
	var data []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && len(data) > 0 {
				return []byte(strings.Join(data, "\n")), nil
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(data) == 0 {
				continue
			}
			return []byte(strings.Join(data, "\n")), nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		data = append(data, strings.TrimPrefix(value, " "))
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

// NewTransport returns the transport registered under name: "sse" or "websocket".
func NewTransport(name string, httpClient *http.Client) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sse":
		return SSETransport{HTTPClient: httpClient}, nil
	case "websocket", "ws":
		return WebSocketTransport{HTTPClient: httpClient}, nil
	default:
		return nil, fmt.Errorf("unknown event transport %q", name)
	}
}

// StreamURL builds the endpoint URL for the given filter.
func StreamURL(baseURL, fileID, taskID string) string {
	params := url.Values{}
	if fileID != "" {
		params.Set("file_id", fileID)
	}
	if taskID != "" {
		params.Set("task_id", taskID)
	}
	target := strings.TrimRight(baseURL, "/") + "/events/stream"
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	return target
}
