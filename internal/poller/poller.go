// Package poller re-fetches background task status at a fixed interval
// until the task reaches a terminal state. It backs up the event stream for
// callers that only know a task id.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/agentworkforce/reviewsync/internal/api"
	"github.com/agentworkforce/reviewsync/internal/cache"
	"github.com/agentworkforce/reviewsync/internal/querykey"
	"github.com/agentworkforce/reviewsync/internal/schedule"
)

const DefaultInterval = 2 * time.Second

type StatusSource interface {
	GetTaskStatus(ctx context.Context, taskID string) (api.TaskStatus, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	Store     *cache.Store
	Source    StatusSource
	Scheduler schedule.Scheduler
	Interval  time.Duration
	// Go runs each fetch. Defaults to starting a goroutine.
	Go     func(func())
	Logger Logger
}

type Poller struct {
	store     *cache.Store
	source    StatusSource
	scheduler schedule.Scheduler
	interval  time.Duration
	goFn      func(func())
	logger    Logger

	mu    sync.Mutex
	tasks map[string]*task
}

type task struct {
	id      string
	refs    int
	ctx     context.Context
	cancel  context.CancelFunc
	timer   schedule.Timer
	sub     *cache.Subscription
	fetches int
	done    bool
	stopped bool
}

func New(opts Options) *Poller {
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = schedule.Real()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	goFn := opts.Go
	if goFn == nil {
		goFn = func(f func()) { go f() }
	}
	return &Poller{
		store:     opts.Store,
		source:    opts.Source,
		scheduler: scheduler,
		interval:  interval,
		goFn:      goFn,
		logger:    opts.Logger,
		tasks:     map[string]*task{},
	}
}

// Watch starts polling taskID and returns a function that stops it.
// Watching an id twice shares one poll loop; it stops when every caller
// has released it.
func (p *Poller) Watch(taskID string) (stop func()) {
	p.mu.Lock()
	if t, ok := p.tasks[taskID]; ok {
		t.refs++
		p.mu.Unlock()
		return p.releaser(t)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{id: taskID, refs: 1, ctx: ctx, cancel: cancel}
	p.tasks[taskID] = t
	p.mu.Unlock()

	// Terminal writes from any source, the event stream included, end the loop.
	sub := p.store.Subscribe(querykey.TaskStatus(taskID), nil, func(e cache.Entry) {
		if terminal(e) {
			p.finish(t)
		}
	})
	p.mu.Lock()
	ended := t.done || t.stopped
	if !ended {
		t.sub = sub
	}
	p.mu.Unlock()
	if ended {
		sub.Unsubscribe()
		return p.releaser(t)
	}
	p.poll(t)
	return p.releaser(t)
}

// Watching reports whether taskID still has an active poll loop.
func (p *Poller) Watching(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[taskID]
	return ok && !t.done
}

// Fetches returns how many status fetches were issued for taskID by its
// current poll loop.
func (p *Poller) Fetches(taskID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.tasks[taskID]; ok {
		return t.fetches
	}
	return 0
}

// Close stops every poll loop.
func (p *Poller) Close() {
	p.mu.Lock()
	tasks := make([]*task, 0, len(p.tasks))
	for _, t := range p.tasks {
		tasks = append(tasks, t)
	}
	p.mu.Unlock()
	for _, t := range tasks {
		p.stop(t)
	}
}

func (p *Poller) releaser(t *task) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			t.refs--
			last := t.refs <= 0
			p.mu.Unlock()
			if last {
				p.stop(t)
			}
		})
	}
}

func (p *Poller) stop(t *task) {
	p.mu.Lock()
	if t.stopped {
		p.mu.Unlock()
		return
	}
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if current, ok := p.tasks[t.id]; ok && current == t {
		delete(p.tasks, t.id)
	}
	sub := t.sub
	p.mu.Unlock()

	t.cancel()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// finish ends the loop and releases its subscription to the status key.
func (p *Poller) finish(t *task) {
	p.mu.Lock()
	sub := p.finishLocked(t)
	p.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (p *Poller) finishLocked(t *task) *cache.Subscription {
	t.done = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	sub := t.sub
	t.sub = nil
	return sub
}

func (p *Poller) poll(t *task) {
	p.mu.Lock()
	t.timer = nil
	if t.stopped || t.done {
		p.mu.Unlock()
		return
	}
	t.fetches++
	p.mu.Unlock()
	p.goFn(func() { p.fetch(t) })
}

func (p *Poller) fetch(t *task) {
	key := querykey.TaskStatus(t.id)
	value, err := p.store.Refresh(t.ctx, key, func(ctx context.Context) (any, error) {
		return p.source.GetTaskStatus(ctx, t.id)
	})

	p.mu.Lock()
	if t.stopped || t.done {
		p.mu.Unlock()
		return
	}
	var state api.TaskState
	if err != nil {
		p.logf("poller: task %s status fetch failed: %v", t.id, err)
		// Keep going only if the last known status says the task is running.
		if entry, ok := p.store.Entry(key); ok && entry.HasValue {
			if status, ok := entry.Value.(api.TaskStatus); ok {
				state = status.Status
			}
		}
	} else if status, ok := value.(api.TaskStatus); ok {
		state = status.Status
	}
	if state != api.TaskProcessing {
		sub := p.finishLocked(t)
		p.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		return
	}
	t.timer = p.scheduler.AfterFunc(p.interval, func() { p.poll(t) })
	p.mu.Unlock()
}

func terminal(e cache.Entry) bool {
	if !e.HasValue {
		return false
	}
	status, ok := e.Value.(api.TaskStatus)
	return ok && status.Status.Terminal()
}

func (p *Poller) logf(format string, args ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}
