package devserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentworkforce/reviewsync/internal/api"
)

const maxUploadBytes = 10 << 20

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, api.Health{Status: "healthy"})
}

func (s *Server) handleListFiles(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.FileRecord, 0, len(s.fileOrder))
	for _, id := range s.fileOrder {
		out = append(out, s.fileRecordLocked(id))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetFile(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[id]; !ok {
		writeError(c, http.StatusNotFound, "File not found")
		return
	}
	c.JSON(http.StatusOK, s.fileRecordLocked(id))
}

// uploadDocument accepts either {"threads": [...]} or a bare thread array.
type uploadDocument struct {
	Threads []api.Thread `json:"threads"`
}

func parseThreads(content []byte) ([]api.Thread, error) {
	var doc uploadDocument
	if err := json.Unmarshal(content, &doc); err == nil && doc.Threads != nil {
		return doc.Threads, validateThreads(doc.Threads)
	}
	var threads []api.Thread
	if err := json.Unmarshal(content, &threads); err != nil {
		return nil, fmt.Errorf("expected a threads document: %w", err)
	}
	return threads, validateThreads(threads)
}

func validateThreads(threads []api.Thread) error {
	seen := map[string]bool{}
	for i, thread := range threads {
		if thread.ThreadID == "" {
			return fmt.Errorf("thread %d has no thread_id", i)
		}
		if seen[thread.ThreadID] {
			return fmt.Errorf("duplicate thread_id %s", thread.ThreadID)
		}
		seen[thread.ThreadID] = true
	}
	return nil
}

func (s *Server) handleUpload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		writeError(c, http.StatusUnprocessableEntity, "multipart field file is required")
		return
	}
	f, err := header.Open()
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	defer f.Close()
	content, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	threads, err := parseThreads(content)
	if err != nil {
		writeError(c, http.StatusBadRequest, "Error processing file: "+err.Error())
		return
	}
	fileName := header.Filename
	if fileName == "" {
		fileName = "unknown.json"
	}
	result := s.ingest(fileName, threads)
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleDeleteFile(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	file, ok := s.files[id]
	if !ok {
		s.mu.Unlock()
		writeError(c, http.StatusNotFound, "File not found")
		return
	}
	for _, threadID := range file.threadIDs {
		s.dropThreadLocked(threadID)
	}
	delete(s.files, id)
	for i, candidate := range s.fileOrder {
		if candidate == id {
			s.fileOrder = append(s.fileOrder[:i], s.fileOrder[i+1:]...)
			break
		}
	}
	if task, ok := s.tasks[file.taskID]; ok {
		task.pending = nil
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"message": "File deleted successfully"})
}

func (s *Server) handleListThreads(c *gin.Context) {
	fileID := c.Query("file_id")
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := api.ThreadsResponse{
		Version:     "v2",
		GeneratedAt: s.now(),
		Description: "CE email threads",
		Threads:     []api.Thread{},
	}
	if fileID != "" {
		resp.Description = "CE email threads for file " + fileID
		if file, ok := s.files[fileID]; ok {
			for _, id := range file.threadIDs {
				resp.Threads = append(resp.Threads, s.threads[id].thread)
			}
		}
		c.JSON(http.StatusOK, resp)
		return
	}
	for _, fid := range s.fileOrder {
		for _, id := range s.files[fid].threadIDs {
			resp.Threads = append(resp.Threads, s.threads[id].thread)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTaskStatus(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[c.Param("id")]
	if !ok {
		writeError(c, http.StatusNotFound, "Task not found")
		return
	}
	c.JSON(http.StatusOK, task.status)
}

func (s *Server) handleListSummaries(c *gin.Context) {
	status := api.SummaryStatus(c.Query("status"))
	switch status {
	case "", api.SummaryPending, api.SummaryApproved, api.SummaryRejected:
	default:
		writeError(c, http.StatusBadRequest, "Invalid status: "+string(status))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []api.Summary{}
	for _, fid := range s.fileOrder {
		for _, threadID := range s.files[fid].threadIDs {
			id, ok := s.byThread[threadID]
			if !ok {
				continue
			}
			summary := *s.summaries[id]
			if status != "" && summary.Status != status {
				continue
			}
			out = append(out, summary)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleSummarize(c *gin.Context) {
	threadID := c.Param("id")
	summary, ok := s.summarize(threadID)
	if !ok {
		writeError(c, http.StatusNotFound, "Thread not found")
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleUpdateSummary(c *gin.Context) {
	var body struct {
		EditedSummary *string `json:"edited_summary"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.EditedSummary == nil {
		writeError(c, http.StatusUnprocessableEntity, "edited_summary is required")
		return
	}
	s.mutateSummary(c, func(summary *api.Summary) {
		summary.EditedSummary = body.EditedSummary
	})
}

func (s *Server) handleApprove(c *gin.Context) {
	var body struct {
		Remarks string `json:"remarks"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusUnprocessableEntity, "remarks are required")
		return
	}
	s.mutateSummary(c, func(summary *api.Summary) {
		by, at := "system", s.now()
		summary.Status = api.SummaryApproved
		summary.ApprovedBy = &by
		summary.ApprovedAt = &at
		summary.Remarks = &body.Remarks
		summary.RejectionReason = nil
	})
}

func (s *Server) handleReject(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Reason == "" {
		writeError(c, http.StatusUnprocessableEntity, "reason is required")
		return
	}
	s.mutateSummary(c, func(summary *api.Summary) {
		summary.Status = api.SummaryRejected
		summary.RejectionReason = &body.Reason
		summary.Remarks = nil
	})
}

func (s *Server) handleUndo(c *gin.Context) {
	s.mutateSummary(c, func(summary *api.Summary) {
		summary.Status = api.SummaryPending
		summary.ApprovedBy = nil
		summary.ApprovedAt = nil
		summary.Remarks = nil
		summary.RejectionReason = nil
	})
}

func (s *Server) mutateSummary(c *gin.Context, apply func(*api.Summary)) {
	s.mu.Lock()
	summary, ok := s.summaries[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		writeError(c, http.StatusNotFound, "Summary not found")
		return
	}
	apply(summary)
	summary.UpdatedAt = s.now()
	out := *summary
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}
