// Package review wires the cache, fetch layer, event stream, poller and merge
// engine into the operations the review client performs.
package review

import (
	"context"
	"io"
	"time"

	"github.com/agentworkforce/reviewsync/internal/api"
	"github.com/agentworkforce/reviewsync/internal/cache"
	"github.com/agentworkforce/reviewsync/internal/events"
	"github.com/agentworkforce/reviewsync/internal/poller"
	"github.com/agentworkforce/reviewsync/internal/querykey"
	"github.com/agentworkforce/reviewsync/internal/schedule"
)

// Backend is the REST surface the service consumes. *api.Client implements it.
type Backend interface {
	Health(ctx context.Context) (api.Health, error)
	ListFiles(ctx context.Context) ([]api.FileRecord, error)
	GetFile(ctx context.Context, fileID string) (api.FileRecord, error)
	UploadFile(ctx context.Context, fileName string, content io.Reader) (api.UploadResult, error)
	DeleteFile(ctx context.Context, fileID string) error
	ListThreads(ctx context.Context, fileID string) (api.ThreadsResponse, error)
	GetTaskStatus(ctx context.Context, taskID string) (api.TaskStatus, error)
	ListSummaries(ctx context.Context) ([]api.Summary, error)
	CreateSummary(ctx context.Context, threadID string) (api.Summary, error)
	UpdateSummary(ctx context.Context, summaryID, editedSummary string) (api.Summary, error)
	ApproveSummary(ctx context.Context, summaryID, remarks string) (api.Summary, error)
	RejectSummary(ctx context.Context, summaryID, reason string) (api.Summary, error)
	UndoSummary(ctx context.Context, summaryID string) (api.Summary, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

// StaleTimes is how long each kind of cached value stays fresh.
type StaleTimes struct {
	Files      time.Duration `yaml:"files" mapstructure:"files"`
	FileDetail time.Duration `yaml:"file_detail" mapstructure:"file_detail"`
	Threads    time.Duration `yaml:"threads" mapstructure:"threads"`
	Summaries  time.Duration `yaml:"summaries" mapstructure:"summaries"`
	Health     time.Duration `yaml:"health" mapstructure:"health"`
	TaskStatus time.Duration `yaml:"task_status" mapstructure:"task_status"`
}

func DefaultStaleTimes() StaleTimes {
	return StaleTimes{
		Files:      30 * time.Second,
		FileDetail: 5 * time.Minute,
		Threads:    30 * time.Second,
		Summaries:  30 * time.Second,
		Health:     time.Minute,
	}
}

// TTLFor maps a cache key to its stale time.
func (st StaleTimes) TTLFor(key cache.Key) (time.Duration, bool) {
	switch key.Space() {
	case querykey.SpaceFiles:
		if len(key) > 1 {
			return st.FileDetail, true
		}
		return st.Files, true
	case querykey.SpaceThreads:
		return st.Threads, true
	case querykey.SpaceSummaries:
		return st.Summaries, true
	case querykey.SpaceHealth:
		return st.Health, true
	case querykey.SpaceTaskStatus:
		return st.TaskStatus, true
	}
	return 0, false
}

type Options struct {
	Backend Backend
	// BaseURL is the API root the event stream hangs off.
	BaseURL        string
	StaleTimes     StaleTimes
	Transport      events.Transport
	Scheduler      schedule.Scheduler
	ReconnectDelay time.Duration
	PollInterval   time.Duration
	// Go runs background refetches and poll fetches. Defaults to goroutines.
	Go     func(func())
	Logger Logger
}

type Service struct {
	backend        Backend
	store          *cache.Store
	poller         *poller.Poller
	baseURL        string
	transport      events.Transport
	scheduler      schedule.Scheduler
	reconnectDelay time.Duration
	logger         Logger
}

func New(opts Options) *Service {
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = schedule.Real()
	}
	staleTimes := opts.StaleTimes
	if staleTimes == (StaleTimes{}) {
		staleTimes = DefaultStaleTimes()
	}
	store := cache.NewStoreWithOptions(cache.Options{
		Now:    scheduler.Now,
		TTLFor: staleTimes.TTLFor,
		Go:     opts.Go,
		Logger: opts.Logger,
	})
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = api.DefaultBaseURL
	}
	return &Service{
		backend: opts.Backend,
		store:   store,
		poller: poller.New(poller.Options{
			Store:     store,
			Source:    opts.Backend,
			Scheduler: scheduler,
			Interval:  opts.PollInterval,
			Go:        opts.Go,
			Logger:    opts.Logger,
		}),
		baseURL:        baseURL,
		transport:      opts.Transport,
		scheduler:      scheduler,
		reconnectDelay: opts.ReconnectDelay,
		logger:         opts.Logger,
	}
}

func (s *Service) Store() *cache.Store {
	return s.store
}

// Close stops every poll loop and background refetch.
func (s *Service) Close() {
	s.poller.Close()
	s.store.Close()
}

func (s *Service) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
