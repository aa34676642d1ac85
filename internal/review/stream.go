package review

import (
	"context"
	"fmt"

	"github.com/agentworkforce/reviewsync/internal/api"
	"github.com/agentworkforce/reviewsync/internal/cache"
	"github.com/agentworkforce/reviewsync/internal/events"
	"github.com/agentworkforce/reviewsync/internal/querykey"
)

// Subscribe opens an event stream scoped to fileID and taskID, either of
// which may be empty. onEvent, if set, sees every decoded envelope. The
// caller owns the returned client and must Close it.
func (s *Service) Subscribe(fileID, taskID string, onEvent func(events.Event)) *events.Client {
	client := events.NewClient(events.Options{
		BaseURL:        s.baseURL,
		FileID:         fileID,
		TaskID:         taskID,
		Store:          s.store,
		Transport:      s.transport,
		Scheduler:      s.scheduler,
		ReconnectDelay: s.reconnectDelay,
		Logger:         s.logger,
		OnEvent: func(ev events.Event) {
			s.afterEvent(ev)
			if onEvent != nil {
				onEvent(ev)
			}
		},
	})
	client.Start()
	return client
}

// afterEvent refreshes the collections a finished task has changed.
func (s *Service) afterEvent(ev events.Event) {
	done := false
	switch e := ev.(type) {
	case events.TaskStatusEvent:
		done = e.Status.Status.Terminal()
	case events.FileProgress:
		done = e.Status != nil && e.Status.Terminal()
	}
	if !done {
		return
	}
	s.store.Invalidate(querykey.Files())
	s.store.Invalidate(querykey.Threads())
	s.store.Invalidate(querykey.Summaries())
}

// PollTask starts the fallback poller for taskID and returns its stop function.
func (s *Service) PollTask(taskID string) (stop func()) {
	return s.poller.Watch(taskID)
}

// WaitTask polls taskID until it reaches a terminal state, ctx ends, or the
// status can no longer be determined. Terminal status written by an event
// stream ends the wait too.
func (s *Service) WaitTask(ctx context.Context, taskID string, onUpdate func(api.TaskStatus)) (api.TaskStatus, error) {
	type outcome struct {
		status api.TaskStatus
		err    error
	}
	results := make(chan outcome, 1)
	deliver := func(o outcome) {
		select {
		case results <- o:
		default:
		}
	}
	sub := s.store.Subscribe(querykey.TaskStatus(taskID), nil, func(e cache.Entry) {
		if !e.HasValue {
			if e.Err != nil {
				deliver(outcome{err: e.Err})
			}
			return
		}
		status, ok := e.Value.(api.TaskStatus)
		if !ok {
			return
		}
		if onUpdate != nil {
			onUpdate(status)
		}
		if status.Status.Terminal() {
			deliver(outcome{status: status})
		}
	})
	defer sub.Unsubscribe()

	if e, ok := s.store.Entry(querykey.TaskStatus(taskID)); ok && terminalEntry(e) {
		return e.Value.(api.TaskStatus), nil
	}
	stop := s.poller.Watch(taskID)
	defer stop()

	select {
	case <-ctx.Done():
		return api.TaskStatus{}, ctx.Err()
	case o := <-results:
		if o.err != nil {
			return api.TaskStatus{}, fmt.Errorf("task %s: %w", taskID, o.err)
		}
		return o.status, nil
	}
}

func terminalEntry(e cache.Entry) bool {
	status, ok := e.Value.(api.TaskStatus)
	return e.HasValue && ok && status.Status.Terminal()
}
