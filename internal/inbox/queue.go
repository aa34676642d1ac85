package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

const defaultQueueCapacity = 256

// Queue is a bounded FIFO of paths waiting to be uploaded. With a backing
// file it survives restarts; without one it lives in memory only. A path
// already waiting is not queued twice.
type Queue struct {
	file     string
	capacity int

	mu      sync.Mutex
	paths   []string
	changed chan struct{}
}

func NewQueue(file string, capacity int) (*Queue, error) {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	q := &Queue{file: file, capacity: capacity, changed: make(chan struct{})}
	if err := q.restore(); err != nil {
		return nil, err
	}
	return q, nil
}

// TryEnqueue adds path unless the queue is full. A path that is already
// waiting counts as queued.
func (q *Queue) TryEnqueue(path string) bool {
	if path == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, waiting := range q.paths {
		if waiting == path {
			return true
		}
	}
	if len(q.paths) >= q.capacity {
		return false
	}
	next := append(append([]string(nil), q.paths...), path)
	if err := q.persist(next); err != nil {
		return false
	}
	q.paths = next
	q.broadcastLocked()
	return true
}

// Enqueue waits for room until ctx ends.
func (q *Queue) Enqueue(ctx context.Context, path string) bool {
	for {
		wake := q.wakeup()
		if q.TryEnqueue(path) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-wake:
		}
	}
}

// Dequeue takes the oldest path, waiting for one until ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (string, bool) {
	for {
		q.mu.Lock()
		wake := q.changed
		if len(q.paths) > 0 {
			path := q.paths[0]
			q.paths = append([]string(nil), q.paths[1:]...)
			// A failed save only means path is offered again after a
			// restart; the ledger skips content that already went up.
			_ = q.persist(q.paths)
			q.broadcastLocked()
			q.mu.Unlock()
			return path, true
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return "", false
		case <-wake:
		}
	}
}

// Snapshot returns the waiting paths in order.
func (q *Queue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.paths...)
}

func (q *Queue) wakeup() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.changed
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue) restore() error {
	if q.file == "" {
		return nil
	}
	data, err := os.ReadFile(q.file)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var saved []string
	if err := json.Unmarshal(data, &saved); err != nil {
		return err
	}
	if len(saved) > q.capacity {
		saved = saved[len(saved)-q.capacity:]
	}
	q.paths = saved
	return nil
}

func (q *Queue) persist(paths []string) error {
	if q.file == "" {
		return nil
	}
	data, err := json.Marshal(paths)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(q.file), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(q.file, data, 0o644)
}
