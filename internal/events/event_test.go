package events

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentworkforce/reviewsync/internal/api"
)

func TestDecodeEnvelopes(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		check   func(t *testing.T, ev Event)
	}{
		{
			name:    "connected",
			payload: `{"type":"connected","connection_id":"f1_all"}`,
			check: func(t *testing.T, ev Event) {
				if got, ok := ev.(Connected); !ok || got.ConnectionID != "f1_all" {
					t.Fatalf("unexpected event %#v", ev)
				}
			},
		},
		{
			name:    "partial file progress",
			payload: `{"type":"file_progress","file_id":"f1","progress":12.5}`,
			check: func(t *testing.T, ev Event) {
				got, ok := ev.(FileProgress)
				if !ok || got.FileID != "f1" || got.Progress == nil || *got.Progress != 12.5 {
					t.Fatalf("unexpected event %#v", ev)
				}
				if got.ProcessedThreads != nil || got.TotalThreads != nil {
					t.Fatalf("expected absent counters to stay nil, got %#v", got)
				}
			},
		},
		{
			name:    "task status",
			payload: `{"type":"task_status","task_id":"task_1","status":"failed","total":2,"processed":1,"failed":1,"started_at":"t0","completed_at":"t1"}`,
			check: func(t *testing.T, ev Event) {
				got, ok := ev.(TaskStatusEvent)
				if !ok || got.TaskID != "task_1" || got.Status.Status != api.TaskFailed || got.Status.Failed != 1 {
					t.Fatalf("unexpected event %#v", ev)
				}
				if got.Status.CompletedAt == nil || *got.Status.CompletedAt != "t1" {
					t.Fatalf("expected completed_at t1, got %v", got.Status.CompletedAt)
				}
			},
		},
		{
			name:    "error",
			payload: `{"type":"error","message":"boom"}`,
			check: func(t *testing.T, ev Event) {
				if got, ok := ev.(ErrorEvent); !ok || got.Message != "boom" {
					t.Fatalf("unexpected event %#v", ev)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Decode([]byte(tc.payload))
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			tc.check(t, ev)
		})
	}
}

func TestDecodeRejectsMalformedEnvelopes(t *testing.T) {
	for _, payload := range []string{`not json`, `{"file_id":"f1"}`, `{"type":"heartbeat"}`, `[1,2]`} {
		if _, err := Decode([]byte(payload)); !errors.Is(err, ErrParse) {
			t.Fatalf("expected parse error for %s, got %v", payload, err)
		}
	}
}

func TestEncodeDecodeFileProgressKeepsAbsentFields(t *testing.T) {
	processed := 3
	data, err := Encode(FileProgress{FileID: "f1", ProcessedThreads: &processed})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	ev, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	got := ev.(FileProgress)
	if got.ProcessedThreads == nil || *got.ProcessedThreads != 3 || got.Progress != nil || got.TotalThreads != nil {
		t.Fatalf("unexpected round trip %#v", got)
	}
}

func TestSSEStreamJoinsDataLines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("expected event-stream accept header, got %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(": keepalive\n\nevent: message\ndata: {\"type\":\ndata: \"connected\"}\n\ndata: {\"type\":\"error\",\"message\":\"x\"}\r\n\r\n"))
	}))
	defer server.Close()

	stream, err := SSETransport{HTTPClient: server.Client()}.Open(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer stream.Close()

	first, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if string(first) != "{\"type\":\n\"connected\"}" {
		t.Fatalf("unexpected first payload %q", first)
	}
	if _, err := Decode(first); err != nil {
		t.Fatalf("expected joined data lines to decode: %v", err)
	}
	second, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("second event: %v", err)
	}
	if string(second) != `{"type":"error","message":"x"}` {
		t.Fatalf("unexpected second payload %q", second)
	}
	if _, err := stream.Next(context.Background()); err == nil {
		t.Fatalf("expected end of stream")
	}
}

func TestSSETransportRejectsNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	if _, err := (SSETransport{HTTPClient: server.Client()}).Open(context.Background(), server.URL); err == nil {
		t.Fatalf("expected non-200 response to fail the open")
	}
}

func TestStreamURL(t *testing.T) {
	cases := map[string][2]string{
		"http://h/api/events/stream":                       {"", ""},
		"http://h/api/events/stream?file_id=f1":            {"f1", ""},
		"http://h/api/events/stream?file_id=f1&task_id=t1": {"f1", "t1"},
		"http://h/api/events/stream?task_id=t1":            {"", "t1"},
	}
	for want, filter := range cases {
		if got := StreamURL("http://h/api/", filter[0], filter[1]); got != want {
			t.Fatalf("StreamURL(%q, %q) = %q, want %q", filter[0], filter[1], got, want)
		}
	}
}

func TestWebsocketURL(t *testing.T) {
	got, err := websocketURL("https://h/api/events/stream?task_id=t1")
	if err != nil || got != "wss://h/api/events/stream?task_id=t1" {
		t.Fatalf("unexpected websocket url %q (%v)", got, err)
	}
	if _, err := websocketURL("ftp://h"); err == nil {
		t.Fatalf("expected unsupported scheme to fail")
	}
}
