package events

import (
	"context"
	"sync"
	"time"

	"github.com/agentworkforce/reviewsync/internal/api"
	"github.com/agentworkforce/reviewsync/internal/cache"
	"github.com/agentworkforce/reviewsync/internal/querykey"
	"github.com/agentworkforce/reviewsync/internal/schedule"
)

const DefaultReconnectDelay = 3 * time.Second

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Status is the observable state of a Client.
type Status struct {
	State     State
	Connected bool
	Err       error
}

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	BaseURL string
	FileID  string
	TaskID  string
	// Store receives the cache effects of every envelope. Nil disables them.
	Store          *cache.Store
	Transport      Transport
	Scheduler      schedule.Scheduler
	ReconnectDelay time.Duration
	// OnEvent observes every decoded envelope after its cache effects.
	OnEvent func(Event)
	Logger  Logger
}

// Client holds one event-stream subscription for a (file, task) filter.
// Reconnects run at a fixed delay with no attempt ceiling.
type Client struct {
	url       string
	store     *cache.Store
	transport Transport
	scheduler schedule.Scheduler
	delay     time.Duration
	onEvent   func(Event)
	logger    Logger

	// applyMu serialises envelope effects against teardown so that nothing
	// is applied once SetEnabled(false) or Close returns.
	applyMu sync.Mutex

	mu        sync.Mutex
	enabled   bool
	closed    bool
	gen       uint64
	status    Status
	cancel    context.CancelFunc
	stream    Stream
	timer     schedule.Timer
	nextID    int
	listeners map[int]func(Status)
}

func NewClient(opts Options) *Client {
	transport := opts.Transport
	if transport == nil {
		transport = SSETransport{}
	}
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = schedule.Real()
	}
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = api.DefaultBaseURL
	}
	return &Client{
		url:       StreamURL(baseURL, opts.FileID, opts.TaskID),
		store:     opts.Store,
		transport: transport,
		scheduler: scheduler,
		delay:     delay,
		onEvent:   opts.OnEvent,
		logger:    opts.Logger,
		listeners: map[int]func(Status){},
	}
}

func (c *Client) URL() string {
	return c.url
}

// Start is SetEnabled(true).
func (c *Client) Start() {
	c.SetEnabled(true)
}

// SetEnabled opens the connection when enabled and tears it down otherwise.
// Teardown closes the stream and cancels any pending reconnect.
func (c *Client) SetEnabled(enabled bool) {
	if !enabled {
		c.teardown(false)
		return
	}
	c.mu.Lock()
	if c.closed || c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = true
	// Every new subscription starts from a fresh state.
	c.status = Status{State: StateDisconnected}
	c.connectLocked()
	snap, listeners := c.status, c.listenersLocked()
	c.mu.Unlock()
	notifyStatus(listeners, snap)
}

// Close tears the subscription down for good.
func (c *Client) Close() {
	c.teardown(true)
}

func (c *Client) teardown(final bool) {
	c.applyMu.Lock()
	c.mu.Lock()
	if final {
		c.closed = true
	}
	wasActive := c.enabled
	c.enabled = false
	c.gen++
	c.stopLocked()
	c.status = Status{State: StateDisconnected, Err: c.status.Err}
	snap, listeners := c.status, c.listenersLocked()
	c.mu.Unlock()
	c.applyMu.Unlock()
	if wasActive {
		notifyStatus(listeners, snap)
	}
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// OnStatus registers fn for every status change and returns a function that
// removes it.
func (c *Client) OnStatus(fn func(Status)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) connectLocked() {
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.status.State = StateConnecting
	c.status.Connected = false
	go c.run(ctx, gen)
}

func (c *Client) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
}

func (c *Client) run(ctx context.Context, gen uint64) {
	stream, err := c.transport.Open(ctx, c.url)
	if err != nil {
		c.fail(gen, err)
		return
	}
	if !c.opened(gen, stream) {
		_ = stream.Close()
		return
	}
	for {
		data, err := stream.Next(ctx)
		if err != nil {
			c.fail(gen, err)
			return
		}
		c.handle(gen, data)
	}
}

// opened records a fresh stream and reports whether gen is still current.
func (c *Client) opened(gen uint64, stream Stream) bool {
	c.mu.Lock()
	if gen != c.gen || !c.enabled {
		c.mu.Unlock()
		return false
	}
	c.stream = stream
	c.status = Status{State: StateConnected, Connected: true}
	snap, listeners := c.status, c.listenersLocked()
	c.mu.Unlock()
	c.logf("events: connected to %s", c.url)
	notifyStatus(listeners, snap)
	return true
}

func (c *Client) fail(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || !c.enabled {
		c.mu.Unlock()
		return
	}
	c.stopLocked()
	c.status = Status{State: StateReconnecting, Err: &ConnectionError{URL: c.url, Err: cause}}
	c.timer = c.scheduler.AfterFunc(c.delay, func() { c.reconnect(gen) })
	snap, listeners := c.status, c.listenersLocked()
	c.mu.Unlock()
	c.logf("events: connection lost: %v; reconnecting in %s", cause, c.delay)
	notifyStatus(listeners, snap)
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.enabled {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.connectLocked()
	snap, listeners := c.status, c.listenersLocked()
	c.mu.Unlock()
	notifyStatus(listeners, snap)
}

func (c *Client) handle(gen uint64, data []byte) {
	ev, err := Decode(data)

	c.applyMu.Lock()
	if !c.live(gen) {
		c.applyMu.Unlock()
		return
	}
	if err != nil {
		c.applyMu.Unlock()
		c.logf("events: %v", err)
		c.setError(gen, err)
		return
	}
	c.apply(ev)
	onEvent := c.onEvent
	c.applyMu.Unlock()

	switch e := ev.(type) {
	case Connected:
		c.markConnected(gen)
	case ErrorEvent:
		msg := e.Message
		if msg == "" {
			msg = "Unknown error"
		}
		c.setError(gen, &ServerError{Message: msg})
	}
	if onEvent != nil && c.live(gen) {
		onEvent(ev)
	}
}

func (c *Client) live(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen && c.enabled
}

// apply writes the cache effects of ev.
func (c *Client) apply(ev Event) {
	if c.store == nil {
		return
	}
	switch e := ev.(type) {
	case FileProgress:
		if e.FileID == "" {
			return
		}
		c.store.Patch(querykey.Files(), func(current any) (any, bool) {
			files, ok := current.([]api.FileRecord)
			if !ok {
				return current, false
			}
			return PatchFileList(files, e)
		})
		c.store.Patch(querykey.File(e.FileID), func(current any) (any, bool) {
			file, ok := current.(api.FileRecord)
			if !ok {
				return current, false
			}
			return PatchFile(file, e), true
		})
	case TaskStatusEvent:
		if e.TaskID == "" {
			return
		}
		c.store.Write(querykey.TaskStatus(e.TaskID), e.Status)
	}
}

func (c *Client) markConnected(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.enabled {
		c.mu.Unlock()
		return
	}
	c.status.State = StateConnected
	c.status.Connected = true
	snap, listeners := c.status, c.listenersLocked()
	c.mu.Unlock()
	notifyStatus(listeners, snap)
}

func (c *Client) setError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || !c.enabled {
		c.mu.Unlock()
		return
	}
	c.status.Err = err
	snap, listeners := c.status, c.listenersLocked()
	c.mu.Unlock()
	notifyStatus(listeners, snap)
}

func (c *Client) listenersLocked() []func(Status) {
	out := make([]func(Status), 0, len(c.listeners))
	for _, fn := range c.listeners {
		out = append(out, fn)
	}
	return out
}

func notifyStatus(listeners []func(Status), status Status) {
	for _, fn := range listeners {
		fn(status)
	}
}

func (c *Client) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}

// PatchFileList returns a copy of files with the progress fields of ev
// merged into the matching record. It reports false when no record matches.
func PatchFileList(files []api.FileRecord, ev FileProgress) ([]api.FileRecord, bool) {
	found := false
	next := make([]api.FileRecord, len(files))
	for i, file := range files {
		if file.ID == ev.FileID {
			file = PatchFile(file, ev)
			found = true
		}
		next[i] = file
	}
	if !found {
		return files, false
	}
	return next, true
}

// PatchFile merges the fields present in ev into file.
func PatchFile(file api.FileRecord, ev FileProgress) api.FileRecord {
	if ev.Progress != nil {
		file.Progress = *ev.Progress
	}
	if ev.ProcessedThreads != nil {
		file.ProcessedThreads = *ev.ProcessedThreads
	}
	if ev.TotalThreads != nil {
		file.TotalThreads = *ev.TotalThreads
	}
	return file
}
