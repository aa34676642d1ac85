package review

import (
	"context"
	"fmt"
	"io"

	"github.com/agentworkforce/reviewsync/internal/api"
	"github.com/agentworkforce/reviewsync/internal/querykey"
)

// Mutations are never retried and every failure reaches the caller. Cache
// effects only run after the backend accepted the change.

// Upload sends one thread export and invalidates the file and thread lists.
func (s *Service) Upload(ctx context.Context, fileName string, content io.Reader) (api.UploadResult, error) {
	result, err := s.backend.UploadFile(ctx, fileName, content)
	if err != nil {
		return result, fmt.Errorf("upload %s: %w", fileName, err)
	}
	s.store.Invalidate(querykey.Files())
	s.store.Invalidate(querykey.Threads())
	s.logf("review: uploaded %s as file %s (%d threads)", fileName, result.FileID, result.TotalThreads)
	return result, nil
}

func (s *Service) DeleteFile(ctx context.Context, fileID string) error {
	if err := s.backend.DeleteFile(ctx, fileID); err != nil {
		return fmt.Errorf("delete file %s: %w", fileID, err)
	}
	s.store.Remove(querykey.File(fileID))
	s.store.Invalidate(querykey.Files())
	s.store.Invalidate(querykey.Threads())
	return nil
}

// Summarize generates or regenerates the summary of a thread.
func (s *Service) Summarize(ctx context.Context, threadID string) (api.Summary, error) {
	summary, err := s.backend.CreateSummary(ctx, threadID)
	return s.applySummary(summary, err, "summarize thread "+threadID)
}

func (s *Service) Edit(ctx context.Context, summaryID, text string) (api.Summary, error) {
	summary, err := s.backend.UpdateSummary(ctx, summaryID, text)
	return s.applySummary(summary, err, "edit summary "+summaryID)
}

func (s *Service) Approve(ctx context.Context, summaryID, remarks string) (api.Summary, error) {
	summary, err := s.backend.ApproveSummary(ctx, summaryID, remarks)
	return s.applySummary(summary, err, "approve summary "+summaryID)
}

func (s *Service) Reject(ctx context.Context, summaryID, reason string) (api.Summary, error) {
	summary, err := s.backend.RejectSummary(ctx, summaryID, reason)
	return s.applySummary(summary, err, "reject summary "+summaryID)
}

// Undo returns a reviewed summary to pending.
func (s *Service) Undo(ctx context.Context, summaryID string) (api.Summary, error) {
	summary, err := s.backend.UndoSummary(ctx, summaryID)
	return s.applySummary(summary, err, "undo summary "+summaryID)
}

// applySummary stores a mutated summary under its detail and by-thread keys
// and invalidates the collections that embed it.
func (s *Service) applySummary(summary api.Summary, err error, op string) (api.Summary, error) {
	if err != nil {
		return summary, fmt.Errorf("%s: %w", op, err)
	}
	s.store.Invalidate(querykey.Threads())
	s.store.Invalidate(querykey.Summaries())
	s.store.Write(querykey.Summary(summary.ID), summary)
	s.store.Write(querykey.SummaryByThread(summary.ThreadID), summary)
	return summary, nil
}
