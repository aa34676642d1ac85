// Package inbox uploads thread exports dropped into a directory.
package inbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentworkforce/reviewsync/internal/api"
)

// Target receives uploads. *review.Service implements it.
type Target interface {
	Upload(ctx context.Context, fileName string, content io.Reader) (api.UploadResult, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	Dir string
	// Pattern filters file names with filepath.Match. Defaults to *.json.
	Pattern string
	// StateFile records uploaded content hashes. Empty keeps them in memory.
	StateFile string
	// QueueFile persists pending paths. Empty keeps them in memory.
	QueueFile     string
	QueueCapacity int
	// Settle is how long a file must go unmodified before it is read.
	Settle   time.Duration
	Target   Target
	OnUpload func(path string, result api.UploadResult)
	Now      func() time.Time
	Logger   Logger
}

type Uploader struct {
	dir      string
	pattern  string
	settle   time.Duration
	target   Target
	onUpload func(string, api.UploadResult)
	now      func() time.Time
	logger   Logger
	queue    *Queue
	ledger   *ledger
}

func New(opts Options) (*Uploader, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, errors.New("inbox directory is required")
	}
	if opts.Target == nil {
		return nil, errors.New("inbox upload target is required")
	}
	pattern := opts.Pattern
	if pattern == "" {
		pattern = "*.json"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("inbox pattern %q: %w", pattern, err)
	}
	settle := opts.Settle
	if settle <= 0 {
		settle = 200 * time.Millisecond
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	queue, err := NewQueue(opts.QueueFile, opts.QueueCapacity)
	if err != nil {
		return nil, fmt.Errorf("open inbox queue: %w", err)
	}
	ledger, err := openLedger(opts.StateFile)
	if err != nil {
		return nil, fmt.Errorf("open inbox state: %w", err)
	}
	return &Uploader{
		dir:      dir,
		pattern:  pattern,
		settle:   settle,
		target:   opts.Target,
		onUpload: opts.OnUpload,
		now:      now,
		logger:   opts.Logger,
		queue:    queue,
		ledger:   ledger,
	}, nil
}

// Pending returns the paths waiting to be uploaded.
func (u *Uploader) Pending() []string {
	return u.queue.Snapshot()
}

// Uploaded returns how many distinct contents have been uploaded.
func (u *Uploader) Uploaded() int {
	return u.ledger.size()
}

// Scan queues every matching file already in the directory.
func (u *Uploader) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(u.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !u.matches(entry.Name()) {
			continue
		}
		if !u.queue.Enqueue(ctx, filepath.Join(u.dir, entry.Name())) {
			return ctx.Err()
		}
	}
	return nil
}

// Run scans the directory, then uploads files as they are created or
// rewritten until ctx ends.
func (u *Uploader) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(u.dir); err != nil {
		return fmt.Errorf("watch %s: %w", u.dir, err)
	}
	if err := u.Scan(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		u.drain(ctx)
	}()
	defer wg.Wait()

	u.logf("inbox: watching %s for %s", u.dir, u.pattern)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !u.matches(filepath.Base(ev.Name)) {
				continue
			}
			if !u.queue.Enqueue(ctx, ev.Name) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			u.logf("inbox: watcher error: %v", err)
		}
	}
}

func (u *Uploader) drain(ctx context.Context) {
	for {
		path, ok := u.queue.Dequeue(ctx)
		if !ok {
			return
		}
		if _, _, err := u.Process(ctx, path); err != nil {
			u.logf("inbox: %s: %v", path, err)
		}
	}
}

// Process uploads path unless identical content was uploaded before. It
// reports the upload result and whether an upload happened.
func (u *Uploader) Process(ctx context.Context, path string) (api.UploadResult, bool, error) {
	if err := u.waitSettled(ctx, path); err != nil {
		return api.UploadResult{}, false, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return api.UploadResult{}, false, nil
		}
		return api.UploadResult{}, false, err
	}
	hash := hashBytes(content)
	if rec, ok := u.ledger.lookup(hash); ok {
		u.logf("inbox: %s already uploaded as file %s", path, rec.FileID)
		return api.UploadResult{}, false, nil
	}
	result, err := u.target.Upload(ctx, filepath.Base(path), bytes.NewReader(content))
	if err != nil {
		return api.UploadResult{}, false, err
	}
	rec := Record{
		Path:       path,
		FileID:     result.FileID,
		TaskID:     result.TaskID,
		UploadedAt: u.now().UTC().Format(time.RFC3339),
	}
	if err := u.ledger.add(hash, rec); err != nil {
		u.logf("inbox: failed to persist state for %s: %v", path, err)
	}
	u.logf("inbox: uploaded %s as file %s", path, result.FileID)
	if u.onUpload != nil {
		u.onUpload(path, result)
	}
	return result, true, nil
}

// waitSettled blocks until path has not been modified for the settle window.
func (u *Uploader) waitSettled(ctx context.Context, path string) error {
	for {
		info, err := os.Stat(path)
		if err != nil {
			return nil
		}
		age := time.Since(info.ModTime())
		if age >= u.settle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(u.settle - age):
		}
	}
}

func (u *Uploader) matches(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ok, _ := filepath.Match(u.pattern, name)
	return ok
}

func (u *Uploader) logf(format string, args ...any) {
	if u.logger == nil {
		return
	}
	u.logger.Printf(format, args...)
}
