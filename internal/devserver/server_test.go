package devserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentworkforce/reviewsync/internal/api"
	"github.com/agentworkforce/reviewsync/internal/events"
)

const threadsDoc = `{"threads": [
	{"thread_id": "t-1", "subject": "Late delivery", "initiated_by": "customer", "order_id": "ORD-1",
	 "messages": [{"id": "m-1", "sender": "customer", "body": "Where is it?"}]},
	{"thread_id": "t-2", "subject": "Refund", "product": "Kettle", "messages": []}
]}`

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *api.Client) {
	t.Helper()
	srv := New(Config{Now: func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }})
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	client := api.NewClient(api.ClientOptions{BaseURL: ts.URL + "/api", MaxRetries: -1})
	return srv, client
}

func upload(t *testing.T, client *api.Client, doc string) api.UploadResult {
	t.Helper()
	result, err := client.UploadFile(context.Background(), "threads.json", strings.NewReader(doc))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return result
}

func TestUploadRegistersFileThreadsAndTask(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	result := upload(t, client, threadsDoc)
	if result.TotalThreads != 2 || result.TaskID == "" || result.Status != api.TaskProcessing {
		t.Fatalf("unexpected upload result: %+v", result)
	}
	if result.Message != "Processing 2 threads in background" {
		t.Fatalf("unexpected message %q", result.Message)
	}

	files, err := client.ListFiles(ctx)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 1 || files[0].ID != result.FileID || files[0].Progress != 0 {
		t.Fatalf("unexpected files: %+v", files)
	}

	threads, err := client.ListThreads(ctx, result.FileID)
	if err != nil {
		t.Fatalf("list threads: %v", err)
	}
	if len(threads.Threads) != 2 || threads.Description != "CE email threads for file "+result.FileID {
		t.Fatalf("unexpected threads: %+v", threads)
	}
	if threads.Threads[1].InitiatedBy != "customer" {
		t.Fatalf("expected missing initiated_by to default, got %q", threads.Threads[1].InitiatedBy)
	}

	status, err := client.GetTaskStatus(ctx, result.TaskID)
	if err != nil {
		t.Fatalf("task status: %v", err)
	}
	if status.Status != api.TaskProcessing || status.Total != 2 || status.CompletedAt != nil {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestProcessingAdvancesProgressAndCompletesTask(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()
	result := upload(t, client, threadsDoc)

	if !srv.ProcessNext(result.TaskID) {
		t.Fatalf("expected more work after the first thread")
	}
	file, err := client.GetFile(ctx, result.FileID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if file.ProcessedThreads != 1 || file.Progress != 50 {
		t.Fatalf("unexpected half-way file: %+v", file)
	}

	srv.ProcessAll(result.TaskID)
	status, err := client.GetTaskStatus(ctx, result.TaskID)
	if err != nil {
		t.Fatalf("task status: %v", err)
	}
	if status.Status != api.TaskCompleted || status.Processed != 2 || status.CompletedAt == nil {
		t.Fatalf("unexpected final status: %+v", status)
	}
	summaries, err := client.ListSummaries(ctx)
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	if len(summaries) != 2 || summaries[0].ThreadID != "t-1" || summaries[0].Status != api.SummaryPending {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
}

func TestEmptyUploadCompletesImmediately(t *testing.T) {
	_, client := newTestServer(t)
	result := upload(t, client, `[]`)
	status, err := client.GetTaskStatus(context.Background(), result.TaskID)
	if err != nil {
		t.Fatalf("task status: %v", err)
	}
	if status.Status != api.TaskCompleted {
		t.Fatalf("expected completed task, got %+v", status)
	}
}

func TestUploadRejectsInvalidDocument(t *testing.T) {
	_, client := newTestServer(t)
	_, err := client.UploadFile(context.Background(), "bad.json", strings.NewReader(`{"threads": [{"subject": "x"}]}`))
	var httpErr *api.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if !strings.Contains(httpErr.Message, "Error processing file") {
		t.Fatalf("unexpected message %q", httpErr.Message)
	}
}

func TestApproveThenUndoClearsApproval(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()
	result := upload(t, client, threadsDoc)
	srv.ProcessAll(result.TaskID)
	summaries, err := client.ListSummaries(ctx)
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	id := summaries[0].ID

	approved, err := client.ApproveSummary(ctx, id, "looks right")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != api.SummaryApproved || approved.ApprovedBy == nil || *approved.ApprovedBy != "system" || approved.ApprovedAt == nil {
		t.Fatalf("unexpected approved summary: %+v", approved)
	}

	undone, err := client.UndoSummary(ctx, id)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if undone.Status != api.SummaryPending || undone.ApprovedBy != nil || undone.ApprovedAt != nil || undone.Remarks != nil {
		t.Fatalf("undo left approval behind: %+v", undone)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()
	result := upload(t, client, threadsDoc)
	srv.ProcessAll(result.TaskID)
	summaries, _ := client.ListSummaries(ctx)

	_, err := client.RejectSummary(ctx, summaries[0].ID, "")
	var httpErr *api.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %v", err)
	}
	rejected, err := client.RejectSummary(ctx, summaries[0].ID, "wrong order")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != api.SummaryRejected || rejected.RejectionReason == nil || *rejected.RejectionReason != "wrong order" {
		t.Fatalf("unexpected rejected summary: %+v", rejected)
	}
}

func TestSummarizeRegeneratesAsPending(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()
	result := upload(t, client, threadsDoc)
	srv.ProcessAll(result.TaskID)
	summaries, _ := client.ListSummaries(ctx)
	if _, err := client.UpdateSummary(ctx, summaries[0].ID, "edited"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	regenerated, err := client.CreateSummary(ctx, "t-1")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if regenerated.ID != summaries[0].ID || regenerated.EditedSummary != nil || regenerated.Status != api.SummaryPending {
		t.Fatalf("unexpected regenerated summary: %+v", regenerated)
	}
	if _, err := client.CreateSummary(ctx, "missing"); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteFileDropsThreadsAndSummaries(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()
	result := upload(t, client, threadsDoc)
	srv.ProcessAll(result.TaskID)

	if err := client.DeleteFile(ctx, result.FileID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := client.GetFile(ctx, result.FileID); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	threads, err := client.ListThreads(ctx, "")
	if err != nil {
		t.Fatalf("list threads: %v", err)
	}
	summaries, err := client.ListSummaries(ctx)
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	if len(threads.Threads) != 0 || len(summaries) != 0 {
		t.Fatalf("expected empty collections, got %d threads and %d summaries", len(threads.Threads), len(summaries))
	}
}

func TestReuploadMovesThreadToNewestFile(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()
	first := upload(t, client, threadsDoc)
	second := upload(t, client, `[{"thread_id": "t-1", "subject": "Late delivery again"}]`)

	old, err := client.ListThreads(ctx, first.FileID)
	if err != nil {
		t.Fatalf("list threads: %v", err)
	}
	if len(old.Threads) != 1 || old.Threads[0].ThreadID != "t-2" {
		t.Fatalf("expected only t-2 to remain, got %+v", old.Threads)
	}
	moved, _ := client.ListThreads(ctx, second.FileID)
	if len(moved.Threads) != 1 || moved.Threads[0].Subject != "Late delivery again" {
		t.Fatalf("unexpected moved thread: %+v", moved.Threads)
	}
}

func nextEvent(t *testing.T, stream events.Stream) events.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("next event: %v", err)
	}
	ev, err := events.Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return ev
}

func openStream(t *testing.T, transport events.Transport, url string) events.Stream {
	t.Helper()
	stream, err := transport.Open(context.Background(), url)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { _ = stream.Close() })
	return stream
}

func TestSSEStreamSendsConnectedSnapshotAndProgress(t *testing.T) {
	srv, client := newTestServer(t)
	result := upload(t, client, threadsDoc)

	stream := openStream(t, events.SSETransport{}, events.StreamURL(client.BaseURL(), result.FileID, result.TaskID))

	connected, ok := nextEvent(t, stream).(events.Connected)
	if !ok || connected.ConnectionID != result.FileID+"_"+result.TaskID {
		t.Fatalf("expected connected envelope, got %+v", connected)
	}
	if progress, ok := nextEvent(t, stream).(events.FileProgress); !ok || *progress.Progress != 0 {
		t.Fatalf("expected snapshot progress, got %+v", progress)
	}
	if status, ok := nextEvent(t, stream).(events.TaskStatusEvent); !ok || status.TaskID != result.TaskID {
		t.Fatalf("expected snapshot task status, got %+v", status)
	}

	srv.ProcessNext(result.TaskID)
	progress, ok := nextEvent(t, stream).(events.FileProgress)
	if !ok || *progress.ProcessedThreads != 1 || *progress.Progress != 50 {
		t.Fatalf("unexpected progress: %+v", progress)
	}
	status, ok := nextEvent(t, stream).(events.TaskStatusEvent)
	if !ok || status.Status.Processed != 1 || status.Status.Status != api.TaskProcessing {
		t.Fatalf("unexpected task status: %+v", status)
	}
}

func TestStreamFiltersOtherFiles(t *testing.T) {
	srv, client := newTestServer(t)
	first := upload(t, client, threadsDoc)
	second := upload(t, client, `[{"thread_id": "t-9"}]`)

	stream := openStream(t, events.SSETransport{}, events.StreamURL(client.BaseURL(), second.FileID, ""))
	if connected, ok := nextEvent(t, stream).(events.Connected); !ok || connected.ConnectionID != second.FileID+"_all" {
		t.Fatalf("expected connected envelope, got %+v", connected)
	}
	nextEvent(t, stream) // snapshot of the second file

	srv.ProcessNext(first.TaskID)
	srv.ProcessNext(second.TaskID)
	progress, ok := nextEvent(t, stream).(events.FileProgress)
	if !ok || progress.FileID != second.FileID {
		t.Fatalf("expected progress for %s only, got %+v", second.FileID, progress)
	}
}

func TestWebSocketStreamDeliversRawPayloads(t *testing.T) {
	srv, client := newTestServer(t)

	stream := openStream(t, events.WebSocketTransport{}, events.StreamURL(client.BaseURL(), "", ""))
	if connected, ok := nextEvent(t, stream).(events.Connected); !ok || connected.ConnectionID != "all_all" {
		t.Fatalf("expected connected envelope, got %+v", connected)
	}

	srv.PublishRaw([]byte("not json"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(data) != "not json" {
		t.Fatalf("unexpected payload %q", data)
	}
	srv.Publish(events.ErrorEvent{Message: "backend hiccup"})
	if ev, ok := nextEvent(t, stream).(events.ErrorEvent); !ok || ev.Message != "backend hiccup" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestUnknownRouteReturnsDetail(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), `"detail"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}
