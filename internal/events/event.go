// Package events keeps a push-event connection to the backend and applies
// the envelopes it receives to the cache.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/agentworkforce/reviewsync/internal/api"
)

const (
	TypeConnected    = "connected"
	TypeFileProgress = "file_progress"
	TypeTaskStatus   = "task_status"
	TypeError        = "error"
)

// Event is one decoded envelope. The concrete types are Connected,
// FileProgress, TaskStatusEvent and ErrorEvent.
type Event interface {
	Type() string
	isEvent()
}

type Connected struct {
	ConnectionID string
}

// FileProgress carries only the fields the server sent. Nil means absent.
type FileProgress struct {
	FileID           string
	ProcessedThreads *int
	TotalThreads     *int
	Progress         *float64
	Status           *api.TaskState
}

// TaskStatusEvent replaces the cached status of TaskID wholesale.
type TaskStatusEvent struct {
	TaskID string
	Status api.TaskStatus
}

type ErrorEvent struct {
	Message string
}

func (Connected) Type() string       { return TypeConnected }
func (FileProgress) Type() string    { return TypeFileProgress }
func (TaskStatusEvent) Type() string { return TypeTaskStatus }
func (ErrorEvent) Type() string      { return TypeError }

func (Connected) isEvent()       {}
func (FileProgress) isEvent()    {}
func (TaskStatusEvent) isEvent() {}
func (ErrorEvent) isEvent()      {}

type envelope struct {
	Type             string         `json:"type"`
	ConnectionID     string         `json:"connection_id"`
	FileID           string         `json:"file_id"`
	TaskID           string         `json:"task_id"`
	ProcessedThreads *int           `json:"processed_threads"`
	TotalThreads     *int           `json:"total_threads"`
	Progress         *float64       `json:"progress"`
	Status           *api.TaskState `json:"status"`
	Message          string         `json:"message"`

	Total       int     `json:"total"`
	Processed   int     `json:"processed"`
	Failed      int     `json:"failed"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at"`
}

// Decode parses one envelope. Anything that is not a JSON object with a
// known type yields a *ParseError.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ParseError{Payload: string(data), Err: err}
	}
	switch env.Type {
	case TypeConnected:
		return Connected{ConnectionID: env.ConnectionID}, nil
	case TypeFileProgress:
		return FileProgress{
			FileID:           env.FileID,
			ProcessedThreads: env.ProcessedThreads,
			TotalThreads:     env.TotalThreads,
			Progress:         env.Progress,
			Status:           env.Status,
		}, nil
	case TypeTaskStatus:
		status := api.TaskStatus{
			Total:       env.Total,
			Processed:   env.Processed,
			Failed:      env.Failed,
			StartedAt:   env.StartedAt,
			CompletedAt: env.CompletedAt,
		}
		if env.Status != nil {
			status.Status = *env.Status
		}
		return TaskStatusEvent{TaskID: env.TaskID, Status: status}, nil
	case TypeError:
		return ErrorEvent{Message: env.Message}, nil
	case "":
		return nil, &ParseError{Payload: string(data), Err: fmt.Errorf("envelope has no type")}
	default:
		return nil, &ParseError{Payload: string(data), Err: fmt.Errorf("unknown envelope type %q", env.Type)}
	}
}

// Encode renders ev as a wire envelope.
func Encode(ev Event) ([]byte, error) {
	env := map[string]any{"type": ev.Type()}
	switch e := ev.(type) {
	case Connected:
		if e.ConnectionID != "" {
			env["connection_id"] = e.ConnectionID
		}
	case FileProgress:
		env["file_id"] = e.FileID
		if e.ProcessedThreads != nil {
			env["processed_threads"] = *e.ProcessedThreads
		}
		if e.TotalThreads != nil {
			env["total_threads"] = *e.TotalThreads
		}
		if e.Progress != nil {
			env["progress"] = *e.Progress
		}
		if e.Status != nil {
			env["status"] = *e.Status
		}
	case TaskStatusEvent:
		env["task_id"] = e.TaskID
		env["status"] = e.Status.Status
		env["total"] = e.Status.Total
		env["processed"] = e.Status.Processed
		env["failed"] = e.Status.Failed
		env["started_at"] = e.Status.StartedAt
		env["completed_at"] = e.Status.CompletedAt
	case ErrorEvent:
		env["message"] = e.Message
	}
	return json.Marshal(env)
}
