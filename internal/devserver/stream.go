package devserver

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"

	"github.com/agentworkforce/reviewsync/internal/events"
)

// hub fans published events out to every open stream whose filter matches.
// Delivery is best effort: a subscriber that falls behind loses events.
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
}

// message is one stream frame. raw, when set, is sent verbatim and reaches
// every subscriber.
type message struct {
	ev  events.Event
	raw []byte
}

type subscriber struct {
	fileID string
	taskID string
	ch     chan message
	done   chan struct{}
	once   sync.Once
}

func newHub() *hub {
	return &hub{subs: map[int]*subscriber{}}
}

func (h *hub) subscribe(fileID, taskID string) (*subscriber, func()) {
	sub := &subscriber{
		fileID: fileID,
		taskID: taskID,
		ch:     make(chan message, 64),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()
	return sub, func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		sub.close()
	}
}

func (h *hub) publish(ev events.Event) {
	if ev == nil {
		return
	}
	h.send(message{ev: ev})
}

func (h *hub) send(msg message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if msg.ev != nil && !sub.wants(msg.ev) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.close()
	}
}

func (sub *subscriber) close() {
	sub.once.Do(func() { close(sub.done) })
}

// wants applies the stream filter: file progress only for the requested
// file (or every file without one) and task status only for the requested task.
func (sub *subscriber) wants(ev events.Event) bool {
	switch e := ev.(type) {
	case events.FileProgress:
		return sub.fileID == "" || sub.fileID == e.FileID
	case events.TaskStatusEvent:
		return sub.taskID != "" && sub.taskID == e.TaskID
	default:
		return true
	}
}

// snapshot returns the current state of everything the filter covers so a
// fresh subscriber does not wait for the next change.
func (s *Server) snapshot(fileID, taskID string) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, id := range s.fileOrder {
		if fileID != "" && id != fileID {
			continue
		}
		if task, ok := s.tasks[s.files[id].taskID]; ok {
			if progress, _ := s.progressLocked(task); progress != nil {
				out = append(out, progress)
			}
		}
	}
	if task, ok := s.tasks[taskID]; ok {
		out = append(out, events.TaskStatusEvent{TaskID: task.id, Status: task.status})
	}
	return out
}

// Publish sends ev to every matching open stream.
func (s *Server) Publish(ev events.Event) {
	s.hub.publish(ev)
}

// PublishRaw sends an arbitrary payload, malformed or not, to every stream.
func (s *Server) PublishRaw(payload []byte) {
	s.hub.send(message{raw: append([]byte(nil), payload...)})
}

func (s *Server) handleStream(c *gin.Context) {
	fileID, taskID := c.Query("file_id"), c.Query("task_id")
	sub, unsubscribe := s.hub.subscribe(fileID, taskID)
	defer unsubscribe()

	connectionID := fmt.Sprintf("%s_%s", orAll(fileID), orAll(taskID))
	initial := []message{{ev: events.Connected{ConnectionID: connectionID}}}
	for _, ev := range s.snapshot(fileID, taskID) {
		initial = append(initial, message{ev: ev})
	}

	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		s.streamWebSocket(c, sub, initial)
		return
	}
	s.streamSSE(c, sub, initial)
}

func (s *Server) streamSSE(c *gin.Context, sub *subscriber, initial []message) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	write := func(msg message) bool {
		payload, err := msg.encode()
		if err != nil {
			s.logf("devserver: encode event: %v", err)
			return true
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
			return false
		}
		c.Writer.Flush()
		return true
	}
	for _, msg := range initial {
		if !write(msg) {
			return
		}
	}
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case msg := <-sub.ch:
			if !write(msg) {
				return
			}
		}
	}
}

func (s *Server) streamWebSocket(c *gin.Context, sub *subscriber, initial []message) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		s.logf("devserver: websocket accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	ctx := conn.CloseRead(c.Request.Context())

	write := func(msg message) bool {
		payload, err := msg.encode()
		if err != nil {
			s.logf("devserver: encode event: %v", err)
			return true
		}
		return conn.Write(ctx, websocket.MessageText, payload) == nil
	}
	for _, msg := range initial {
		if !write(msg) {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case msg := <-sub.ch:
			if !write(msg) {
				return
			}
		}
	}
}

func (msg message) encode() ([]byte, error) {
	if msg.ev == nil {
		return msg.raw, nil
	}
	return events.Encode(msg.ev)
}

func orAll(id string) string {
	if id == "" {
		return "all"
	}
	return id
}
