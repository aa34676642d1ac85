package review

import (
	"context"

	"github.com/agentworkforce/reviewsync/internal/api"
	"github.com/agentworkforce/reviewsync/internal/cache"
	"github.com/agentworkforce/reviewsync/internal/merge"
	"github.com/agentworkforce/reviewsync/internal/querykey"
)

func (s *Service) Health(ctx context.Context) (api.Health, error) {
	return cache.FetchAs(ctx, s.store, querykey.Health(), s.backend.Health)
}

func (s *Service) Files(ctx context.Context) ([]api.FileRecord, error) {
	return cache.FetchAs(ctx, s.store, querykey.Files(), s.backend.ListFiles)
}

func (s *Service) File(ctx context.Context, fileID string) (api.FileRecord, error) {
	return cache.FetchAs(ctx, s.store, querykey.File(fileID), func(ctx context.Context) (api.FileRecord, error) {
		return s.backend.GetFile(ctx, fileID)
	})
}

// Threads returns the threads of fileID, or every thread when fileID is empty.
func (s *Service) Threads(ctx context.Context, fileID string) (api.ThreadsResponse, error) {
	return cache.FetchAs(ctx, s.store, querykey.ThreadList(fileID), func(ctx context.Context) (api.ThreadsResponse, error) {
		return s.backend.ListThreads(ctx, fileID)
	})
}

func (s *Service) Summaries(ctx context.Context) ([]api.Summary, error) {
	return cache.FetchAs(ctx, s.store, querykey.Summaries(), s.backend.ListSummaries)
}

// TaskStatus always goes to the backend; task status is never fresh.
func (s *Service) TaskStatus(ctx context.Context, taskID string) (api.TaskStatus, error) {
	return cache.FetchAs(ctx, s.store, querykey.TaskStatus(taskID), func(ctx context.Context) (api.TaskStatus, error) {
		return s.backend.GetTaskStatus(ctx, taskID)
	})
}

// ThreadsWithSummaries loads both collections and merges them. A failure of
// either load is returned along with whatever could be merged.
func (s *Service) ThreadsWithSummaries(ctx context.Context, fileID string) (merge.Result, error) {
	_, threadsErr := s.Threads(ctx, fileID)
	_, summariesErr := s.Summaries(ctx)
	res := merge.Current(s.store, querykey.ThreadList(fileID), querykey.Summaries())
	if threadsErr != nil {
		return res, threadsErr
	}
	return res, summariesErr
}

// WatchThreads keeps the merged view of fileID's threads current and calls
// onChange after every change to either collection.
func (s *Service) WatchThreads(fileID string, onChange func(merge.Result)) (stop func()) {
	return merge.Watch(s.store,
		merge.Source{Key: querykey.ThreadList(fileID), Fetch: s.threadsFetcher(fileID)},
		merge.Source{Key: querykey.Summaries(), Fetch: s.summariesFetcher()},
		onChange,
	)
}

// WatchFiles subscribes to the file list.
func (s *Service) WatchFiles(onChange func([]api.FileRecord)) (stop func()) {
	sub := s.store.Subscribe(querykey.Files(), s.filesFetcher(), func(e cache.Entry) {
		if files, ok := e.Value.([]api.FileRecord); ok {
			onChange(files)
		}
	})
	return sub.Unsubscribe
}

func (s *Service) filesFetcher() cache.Fetcher {
	return func(ctx context.Context) (any, error) {
		return s.backend.ListFiles(ctx)
	}
}

func (s *Service) threadsFetcher(fileID string) cache.Fetcher {
	return func(ctx context.Context) (any, error) {
		return s.backend.ListThreads(ctx, fileID)
	}
}

func (s *Service) summariesFetcher() cache.Fetcher {
	return func(ctx context.Context) (any, error) {
		return s.backend.ListSummaries(ctx)
	}
}
