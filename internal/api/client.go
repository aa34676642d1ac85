// Package api is the fetch layer: typed, schema-validated calls against the
// review backend with bounded retry for idempotent requests.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultBaseURL    = "http://localhost:8000/api"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 2
)

// Only these methods are retried, and only for these statuses, timeouts and
// transport failures. POST is never retried.
var (
	retryMethods = map[string]struct{}{
		http.MethodGet:     {},
		http.MethodPut:     {},
		http.MethodHead:    {},
		http.MethodDelete:  {},
		http.MethodOptions: {},
		http.MethodTrace:   {},
	}
	retryStatuses = map[int]struct{}{
		http.StatusRequestTimeout:        {},
		http.StatusRequestEntityTooLarge: {},
		http.StatusTooManyRequests:       {},
		http.StatusInternalServerError:   {},
		http.StatusBadGateway:            {},
		http.StatusServiceUnavailable:    {},
		http.StatusGatewayTimeout:        {},
	}
)

type Logger interface {
	Printf(format string, args ...any)
}

type ClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxRetries is the number of extra attempts for idempotent requests.
	// Negative disables retries.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     Logger
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     Logger
}

type request struct {
	method      string
	path        string
	body        []byte
	contentType string
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRetries := opts.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = DefaultMaxRetries
	case maxRetries < 0:
		maxRetries = 0
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		timeout:    timeout,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		logger:     opts.Logger,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.getJSON(ctx, "/health", healthSchema, &out)
	return out, err
}

func (c *Client) ListFiles(ctx context.Context) ([]FileRecord, error) {
	var out []FileRecord
	err := c.getJSON(ctx, "/files", fileListSchema, &out)
	return out, err
}

func (c *Client) GetFile(ctx context.Context, fileID string) (FileRecord, error) {
	var out FileRecord
	err := c.getJSON(ctx, "/files/"+url.PathEscape(fileID), fileSchema, &out)
	return out, err
}

// UploadFile posts one thread export as the multipart field "file".
func (c *Client) UploadFile(ctx context.Context, fileName string, content io.Reader) (UploadResult, error) {
	var out UploadResult
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", fileName)
	if err != nil {
		return out, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return out, err
	}
	if err := form.Close(); err != nil {
		return out, err
	}
	path := "/files/upload"
	payload, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        path,
		body:        buf.Bytes(),
		contentType: form.FormDataContentType(),
	})
	if err != nil {
		return out, err
	}
	err = decodeValidated(path, payload, uploadSchema, &out)
	return out, err
}

func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	_, err := c.do(ctx, request{method: http.MethodDelete, path: "/files/" + url.PathEscape(fileID)})
	return err
}

// ListThreads returns every thread, or only those of fileID when it is set.
func (c *Client) ListThreads(ctx context.Context, fileID string) (ThreadsResponse, error) {
	path := "/threads"
	if fileID != "" {
		q := url.Values{}
		q.Set("file_id", fileID)
		path += "?" + q.Encode()
	}
	var out ThreadsResponse
	err := c.getJSON(ctx, path, threadsSchema, &out)
	return out, err
}

func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	var out TaskStatus
	err := c.getJSON(ctx, "/threads/task/"+url.PathEscape(taskID)+"/status", taskStatusSchema, &out)
	return out, err
}

func (c *Client) ListSummaries(ctx context.Context) ([]Summary, error) {
	var out []Summary
	err := c.getJSON(ctx, "/summaries", summaryListSchema, &out)
	return out, err
}

// CreateSummary asks the backend to generate (or regenerate) the summary of
// a thread.
func (c *Client) CreateSummary(ctx context.Context, threadID string) (Summary, error) {
	body := map[string]string{"thread_id": threadID}
	return c.summaryCall(ctx, http.MethodPost, "/summaries/threads/"+url.PathEscape(threadID)+"/summarize", body)
}

func (c *Client) UpdateSummary(ctx context.Context, summaryID, editedSummary string) (Summary, error) {
	body := map[string]string{"edited_summary": editedSummary}
	return c.summaryCall(ctx, http.MethodPut, "/summaries/"+url.PathEscape(summaryID), body)
}

func (c *Client) ApproveSummary(ctx context.Context, summaryID, remarks string) (Summary, error) {
	body := map[string]string{"remarks": remarks}
	return c.summaryCall(ctx, http.MethodPost, "/summaries/"+url.PathEscape(summaryID)+"/approve", body)
}

func (c *Client) RejectSummary(ctx context.Context, summaryID, reason string) (Summary, error) {
	body := map[string]string{"reason": reason}
	return c.summaryCall(ctx, http.MethodPost, "/summaries/"+url.PathEscape(summaryID)+"/reject", body)
}

func (c *Client) UndoSummary(ctx context.Context, summaryID string) (Summary, error) {
	return c.summaryCall(ctx, http.MethodPost, "/summaries/"+url.PathEscape(summaryID)+"/undo", nil)
}

func (c *Client) summaryCall(ctx context.Context, method, path string, body any) (Summary, error) {
	var out Summary
	req := request{method: method, path: path}
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return out, err
		}
		req.body = encoded
		req.contentType = "application/json"
	}
	payload, err := c.do(ctx, req)
	if err != nil {
		return out, err
	}
	err = decodeValidated(path, payload, summarySchema, &out)
	return out, err
}

func (c *Client) getJSON(ctx context.Context, path string, schema *Schema, out any) error {
	payload, err := c.do(ctx, request{method: http.MethodGet, path: path})
	if err != nil {
		return err
	}
	return decodeValidated(path, payload, schema, out)
}

// do sends req and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	_, retryable := retryMethods[req.method]
	for attempt := 0; ; attempt++ {
		payload, status, retryAfter, err := c.attempt(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if retryable && attempt < c.maxRetries {
				c.logf("api: %s %s attempt %d failed: %v; retrying", req.method, req.path, attempt+1, err)
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}
		if status >= 200 && status <= 299 {
			return payload, nil
		}
		if _, transient := retryStatuses[status]; transient && retryable && attempt < c.maxRetries {
			c.logf("api: %s %s returned %d; retrying", req.method, req.path, status)
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, retryAfter)); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		return nil, &HTTPError{
			Method:     req.method,
			Path:       req.path,
			StatusCode: status,
			Message:    errorMessage(payload),
		}
	}
}

func (c *Client) attempt(ctx context.Context, req request) ([]byte, int, string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, 0, "", err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Correlation-Id", correlationID())
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err == nil {
		var payload []byte
		payload, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err == nil {
			return payload, resp.StatusCode, resp.Header.Get("Retry-After"), nil
		}
	}
	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return nil, 0, "", &TimeoutError{Method: req.method, Path: req.path, Timeout: c.timeout}
	}
	return nil, 0, "", err
}

func (c *Client) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}

// errorMessage pulls a human-readable message out of an error body, which
// carries either "message" or a FastAPI-style "detail".
func errorMessage(payload []byte) string {
	var body struct {
		Message string `json:"message"`
		Detail  any    `json:"detail"`
	}
	if len(payload) == 0 || json.Unmarshal(payload, &body) != nil {
		return strings.TrimSpace(string(payload))
	}
	if body.Message != "" {
		return body.Message
	}
	switch detail := body.Detail.(type) {
	case nil:
		return ""
	case string:
		return detail
	default:
		encoded, _ := json.Marshal(detail)
		return string(encoded)
	}
}

func correlationID() string {
	return "reviewsync_" + uuid.NewString()
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// String renders the client for log lines.
func (c *Client) String() string {
	return fmt.Sprintf("api.Client(%s)", c.baseURL)
}
