package devserver

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/agentworkforce/reviewsync/internal/api"
	"github.com/agentworkforce/reviewsync/internal/events"
)

// ingest stores an uploaded file and registers its summarisation task.
func (s *Server) ingest(fileName string, threads []api.Thread) api.UploadResult {
	s.mu.Lock()
	fileID := newID("file-")
	taskID := newID("task-")
	now := s.now()
	file := &fileState{
		record: api.FileRecord{
			ID:           fileID,
			FileName:     fileName,
			TotalThreads: len(threads),
			UploadedAt:   now,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		taskID: taskID,
	}
	task := &taskState{
		id:     taskID,
		fileID: fileID,
		status: api.TaskStatus{
			Status:    api.TaskProcessing,
			Total:     len(threads),
			StartedAt: now,
		},
	}
	for _, thread := range threads {
		normalizeThread(&thread)
		// A thread id seen again moves to the newest upload.
		s.dropThreadLocked(thread.ThreadID)
		s.threads[thread.ThreadID] = &threadState{fileID: fileID, thread: thread}
		file.threadIDs = append(file.threadIDs, thread.ThreadID)
		task.pending = append(task.pending, thread.ThreadID)
	}
	s.files[fileID] = file
	s.fileOrder = append(s.fileOrder, fileID)
	s.tasks[taskID] = task
	if len(threads) == 0 {
		s.completeLocked(task)
	}
	s.mu.Unlock()

	s.logf("devserver: accepted %s as %s with %d threads (task %s)", fileName, fileID, len(threads), taskID)
	if s.cfg.AutoProcess {
		go s.runTask(taskID)
	}
	return api.UploadResult{
		FileID:       fileID,
		FileName:     fileName,
		TotalThreads: len(threads),
		Status:       api.TaskProcessing,
		Message:      fmt.Sprintf("Processing %d threads in background", len(threads)),
		TaskID:       taskID,
	}
}

func (s *Server) runTask(taskID string) {
	for {
		time.Sleep(s.cfg.ProcessDelay)
		if !s.ProcessNext(taskID) {
			return
		}
	}
}

// ProcessNext summarises the next pending thread of taskID and publishes the
// resulting progress. It reports whether the task still has work left.
func (s *Server) ProcessNext(taskID string) bool {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok || task.status.Status.Terminal() {
		s.mu.Unlock()
		return false
	}
	if len(task.pending) == 0 {
		s.completeLocked(task)
		progress, status := s.progressLocked(task)
		s.mu.Unlock()
		s.hub.publish(progress)
		s.hub.publish(status)
		return false
	}
	threadID := task.pending[0]
	task.pending = task.pending[1:]
	if _, ok := s.threads[threadID]; ok {
		s.summarizeLocked(threadID)
		task.status.Processed++
	} else {
		task.status.Failed++
	}
	if len(task.pending) == 0 {
		s.completeLocked(task)
	}
	progress, status := s.progressLocked(task)
	more := !task.status.Status.Terminal()
	s.mu.Unlock()

	s.hub.publish(progress)
	s.hub.publish(status)
	return more
}

// ProcessAll runs taskID to completion.
func (s *Server) ProcessAll(taskID string) {
	for s.ProcessNext(taskID) {
	}
}

// ProcessPendingTasks advances every unfinished task by one thread.
func (s *Server) ProcessPendingTasks() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.tasks))
	for id, task := range s.tasks {
		if !task.status.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	sort.Strings(ids)
	for _, id := range ids {
		s.ProcessNext(id)
	}
}

// FailTask marks taskID failed without processing the rest of its threads.
func (s *Server) FailTask(taskID string) {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok || task.status.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	task.status.Failed += len(task.pending)
	task.pending = nil
	completed := s.now()
	task.status.Status = api.TaskFailed
	task.status.CompletedAt = &completed
	_, status := s.progressLocked(task)
	s.mu.Unlock()
	s.hub.publish(status)
}

func (s *Server) completeLocked(task *taskState) {
	completed := s.now()
	task.status.CompletedAt = &completed
	if task.status.Total > 0 && task.status.Failed == task.status.Total {
		task.status.Status = api.TaskFailed
		return
	}
	task.status.Status = api.TaskCompleted
}

func (s *Server) progressLocked(task *taskState) (events.Event, events.Event) {
	status := events.TaskStatusEvent{TaskID: task.id, Status: task.status}
	if _, ok := s.files[task.fileID]; !ok {
		return nil, status
	}
	record := s.fileRecordLocked(task.fileID)
	state := api.TaskProcessing
	if record.Progress >= 100 {
		state = api.TaskCompleted
	}
	processed, total, progress := record.ProcessedThreads, record.TotalThreads, record.Progress
	return events.FileProgress{
		FileID:           record.ID,
		ProcessedThreads: &processed,
		TotalThreads:     &total,
		Progress:         &progress,
		Status:           &state,
	}, status
}

// fileRecordLocked derives progress from how many threads have a summary.
func (s *Server) fileRecordLocked(fileID string) api.FileRecord {
	file := s.files[fileID]
	record := file.record
	processed := 0
	for _, threadID := range file.threadIDs {
		if _, ok := s.byThread[threadID]; ok {
			processed++
		}
	}
	record.ProcessedThreads = processed
	if record.TotalThreads > 0 {
		record.Progress = math.Round(float64(processed)/float64(record.TotalThreads)*10000) / 100
	}
	return record
}

func (s *Server) summarize(threadID string) (api.Summary, bool) {
	s.mu.Lock()
	state, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return api.Summary{}, false
	}
	summary := s.summarizeLocked(threadID)
	var progress events.Event
	if file, ok := s.files[state.fileID]; ok {
		if task, ok := s.tasks[file.taskID]; ok {
			progress, _ = s.progressLocked(task)
		}
	}
	s.mu.Unlock()
	if progress != nil {
		s.hub.publish(progress)
	}
	return summary, true
}

// summarizeLocked creates the summary of threadID, or regenerates it and
// resets it to pending.
func (s *Server) summarizeLocked(threadID string) api.Summary {
	thread := s.threads[threadID].thread
	now := s.now()
	text := fakeSummary(thread)
	if id, ok := s.byThread[threadID]; ok {
		summary := s.summaries[id]
		summary.OriginalSummary = text
		summary.EditedSummary = nil
		summary.Status = api.SummaryPending
		summary.UpdatedAt = now
		return *summary
	}
	summary := &api.Summary{
		ID:              newID("sum-"),
		ThreadID:        threadID,
		OriginalSummary: text,
		Status:          api.SummaryPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		StructuredData: &api.StructuredData{
			IssueSummary: thread.Subject,
			KeyDetails: &api.KeyDetails{
				OrderID: thread.OrderID,
				Product: thread.Product,
			},
			FullSummaryText: text,
		},
	}
	s.summaries[summary.ID] = summary
	s.byThread[threadID] = summary.ID
	return *summary
}

func (s *Server) dropThreadLocked(threadID string) {
	state, ok := s.threads[threadID]
	if !ok {
		return
	}
	if id, ok := s.byThread[threadID]; ok {
		delete(s.summaries, id)
		delete(s.byThread, threadID)
	}
	delete(s.threads, threadID)
	if file, ok := s.files[state.fileID]; ok {
		for i, id := range file.threadIDs {
			if id == threadID {
				file.threadIDs = append(file.threadIDs[:i], file.threadIDs[i+1:]...)
				break
			}
		}
		file.record.TotalThreads = len(file.threadIDs)
	}
}

func fakeSummary(thread api.Thread) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thread started by %s about %q", thread.InitiatedBy, thread.Subject)
	if thread.Product != "" {
		fmt.Fprintf(&b, " concerning %s", thread.Product)
	}
	if thread.OrderID != "" {
		fmt.Fprintf(&b, " (order %s)", thread.OrderID)
	}
	fmt.Fprintf(&b, " with %d messages.", len(thread.Messages))
	if n := len(thread.Messages); n > 0 {
		fmt.Fprintf(&b, " Last message from %s.", thread.Messages[n-1].Sender)
	}
	return b.String()
}

// normalizeThread fills the fields the client schema requires.
func normalizeThread(thread *api.Thread) {
	if thread.InitiatedBy == "" {
		thread.InitiatedBy = "customer"
	}
	messages := make([]api.Message, len(thread.Messages))
	for i, msg := range thread.Messages {
		if msg.Sender == "" {
			msg.Sender = "customer"
		}
		messages[i] = msg
	}
	thread.Messages = messages
}
