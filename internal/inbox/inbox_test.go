package inbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agentworkforce/reviewsync/internal/api"
)

type fakeTarget struct {
	mu      sync.Mutex
	uploads []string
	bodies  []string
	err     error
}

func (f *fakeTarget) Upload(ctx context.Context, fileName string, content io.Reader) (api.UploadResult, error) {
	data, _ := io.ReadAll(content)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return api.UploadResult{}, f.err
	}
	f.uploads = append(f.uploads, fileName)
	f.bodies = append(f.bodies, string(data))
	return api.UploadResult{FileID: fmt.Sprintf("file-%d", len(f.uploads)), TaskID: "task-1"}, nil
}

func (f *fakeTarget) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func writeExport(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newTestUploader(t *testing.T, dir string, target Target, stateFile string) *Uploader {
	t.Helper()
	u, err := New(Options{Dir: dir, StateFile: stateFile, Target: target, Settle: time.Millisecond})
	if err != nil {
		t.Fatalf("new uploader: %v", err)
	}
	return u
}

func TestProcessSkipsContentAlreadyUploaded(t *testing.T) {
	dir := t.TempDir()
	target := &fakeTarget{}
	u := newTestUploader(t, dir, target, "")
	ctx := context.Background()

	first := writeExport(t, dir, "a.json", `[{"thread_id": "t-1"}]`)
	result, uploaded, err := u.Process(ctx, first)
	if err != nil || !uploaded || result.FileID != "file-1" {
		t.Fatalf("expected first upload, got %+v %v %v", result, uploaded, err)
	}

	copyPath := writeExport(t, dir, "b.json", `[{"thread_id": "t-1"}]`)
	if _, uploaded, err := u.Process(ctx, copyPath); err != nil || uploaded {
		t.Fatalf("expected identical content to be skipped, got %v %v", uploaded, err)
	}

	writeExport(t, dir, "a.json", `[{"thread_id": "t-2"}]`)
	if _, uploaded, err := u.Process(ctx, first); err != nil || !uploaded {
		t.Fatalf("expected changed content to upload, got %v %v", uploaded, err)
	}
	if target.count() != 2 || u.Uploaded() != 2 {
		t.Fatalf("expected 2 uploads, got %d (ledger %d)", target.count(), u.Uploaded())
	}
}

func TestLedgerSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	state := filepath.Join(t.TempDir(), "inbox-state.json")
	target := &fakeTarget{}
	path := writeExport(t, dir, "a.json", `[]`)

	if _, uploaded, err := newTestUploader(t, dir, target, state).Process(context.Background(), path); err != nil || !uploaded {
		t.Fatalf("first process: %v %v", uploaded, err)
	}
	restarted := newTestUploader(t, dir, target, state)
	if _, uploaded, err := restarted.Process(context.Background(), path); err != nil || uploaded {
		t.Fatalf("expected restart to remember the upload, got %v %v", uploaded, err)
	}
	if target.count() != 1 {
		t.Fatalf("expected one upload, got %d", target.count())
	}
}

func TestFailedUploadIsNotRecorded(t *testing.T) {
	dir := t.TempDir()
	target := &fakeTarget{err: errors.New("backend down")}
	u := newTestUploader(t, dir, target, "")
	path := writeExport(t, dir, "a.json", `[]`)

	if _, _, err := u.Process(context.Background(), path); err == nil {
		t.Fatalf("expected the upload error")
	}
	target.mu.Lock()
	target.err = nil
	target.mu.Unlock()
	if _, uploaded, err := u.Process(context.Background(), path); err != nil || !uploaded {
		t.Fatalf("expected a retry to upload, got %v %v", uploaded, err)
	}
}

func TestScanQueuesMatchingFilesOnly(t *testing.T) {
	dir := t.TempDir()
	writeExport(t, dir, "a.json", `[]`)
	writeExport(t, dir, "notes.txt", "x")
	writeExport(t, dir, ".hidden.json", `[]`)
	u := newTestUploader(t, dir, &fakeTarget{}, "")

	if err := u.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	pending := u.Pending()
	if len(pending) != 1 || filepath.Base(pending[0]) != "a.json" {
		t.Fatalf("unexpected pending %v", pending)
	}
}

func TestRunUploadsNewFiles(t *testing.T) {
	dir := t.TempDir()
	target := &fakeTarget{}
	u, err := New(Options{Dir: dir, Target: target, Settle: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("new uploader: %v", err)
	}
	writeExport(t, dir, "existing.json", `[{"thread_id": "t-0"}]`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for target.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	writeExport(t, dir, "fresh.json", `[{"thread_id": "t-1"}]`)
	for target.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if target.count() != 2 {
		t.Fatalf("expected the existing and the new file to upload, got %d", target.count())
	}
}

func TestQueueIsBoundedAndDeduplicates(t *testing.T) {
	q, err := NewQueue("", 2)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	if !q.TryEnqueue("a") || !q.TryEnqueue("a") || !q.TryEnqueue("b") {
		t.Fatalf("expected the first enqueues to succeed")
	}
	if got := q.Snapshot(); len(got) != 2 {
		t.Fatalf("expected a duplicate to be folded, got %v", got)
	}
	if q.TryEnqueue("c") {
		t.Fatalf("expected a full queue to refuse")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if q.Enqueue(ctx, "c") {
		t.Fatalf("expected enqueue to give up when ctx ends")
	}
}

func TestQueuePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	q, err := NewQueue(path, 4)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	q.TryEnqueue("a.json")
	q.TryEnqueue("b.json")
	if item, ok := q.Dequeue(context.Background()); !ok || item != "a.json" {
		t.Fatalf("unexpected dequeue %q %v", item, ok)
	}

	reopened, err := NewQueue(path, 4)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.Snapshot(); len(got) != 1 || got[0] != "b.json" {
		t.Fatalf("unexpected persisted items %v", got)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reopened.Dequeue(ctx)
	if _, ok := reopened.Dequeue(ctx); ok {
		t.Fatalf("expected dequeue on an empty queue to honor ctx")
	}
}

func TestQueueEnqueueWakesWhenRoomFrees(t *testing.T) {
	q, err := NewQueue("", 1)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	q.TryEnqueue("a.json")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	queued := make(chan bool, 1)
	go func() { queued <- q.Enqueue(ctx, "b.json") }()

	if item, ok := q.Dequeue(ctx); !ok || item != "a.json" {
		t.Fatalf("unexpected dequeue %q %v", item, ok)
	}
	if !<-queued {
		t.Fatalf("expected the waiting enqueue to succeed once room freed")
	}
	if item, ok := q.Dequeue(ctx); !ok || item != "b.json" {
		t.Fatalf("unexpected dequeue %q %v", item, ok)
	}
}
