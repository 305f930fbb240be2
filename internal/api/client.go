package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"dubline/internal/progress"
	"dubline/internal/servicecache"
)

// ErrUnavailable is returned when no API address is configured.
var ErrUnavailable = errors.New("daemon API unavailable")

// Error is a non-2xx response from the daemon.
type Error struct {
	Status    int
	Message   string
	Kind      string
	RequestID string
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("daemon returned %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

// Client talks to the daemon HTTP API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient builds a client for bind, which may be host:port or a full URL.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		// No timeout: event and log follow requests block until the caller cancels.
		http: &http.Client{},
	}, nil
}

// Submit creates and queues a job.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (Job, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Job{}, err
	}
	var resp JobResponse
	err = c.do(ctx, http.MethodPost, "/api/jobs", nil, bytes.NewReader(body), "application/json", &resp)
	return resp.Job, err
}

// Jobs lists jobs, optionally filtered by status.
func (c *Client) Jobs(ctx context.Context, statuses ...string) ([]Job, error) {
	values := url.Values{}
	for _, status := range statuses {
		if s := strings.TrimSpace(status); s != "" {
			values.Add("status", s)
		}
	}
	var resp JobListResponse
	err := c.do(ctx, http.MethodGet, "/api/jobs", values, nil, "", &resp)
	return resp.Jobs, err
}

// Job fetches one job.
func (c *Client) Job(ctx context.Context, id string) (Job, error) {
	var resp JobResponse
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, nil, "", &resp)
	return resp.Job, err
}

// Ledger returns the raw ledger snapshot document for a job.
func (c *Client) Ledger(ctx context.Context, id string) ([]byte, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id)+"/ledger", nil, nil, "", &raw)
	return raw, err
}

// ApplyLedger submits an edited ledger (JSON or YAML) and queues an update run.
func (c *Client) ApplyLedger(ctx context.Context, id string, data []byte, contentType string) (Job, error) {
	if contentType == "" {
		contentType = "application/json"
	}
	var resp JobResponse
	err := c.do(ctx, http.MethodPut, "/api/jobs/"+url.PathEscape(id)+"/ledger", nil, bytes.NewReader(data), contentType, &resp)
	return resp.Job, err
}

// Cancel stops or dequeues a job.
func (c *Client) Cancel(ctx context.Context, id string) (Job, error) {
	var resp JobResponse
	err := c.do(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(id), nil, nil, "", &resp)
	return resp.Job, err
}

// Status returns daemon diagnostics.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var resp DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, "", &resp)
	return resp, err
}

// Cache returns service cache occupancy.
func (c *Client) Cache(ctx context.Context) (servicecache.Status, error) {
	var resp servicecache.Status
	err := c.do(ctx, http.MethodGet, "/api/cache", nil, nil, "", &resp)
	return resp, err
}

// ClearCache releases every cached service handle.
func (c *Client) ClearCache(ctx context.Context) (int, error) {
	var resp CacheClearResponse
	err := c.do(ctx, http.MethodDelete, "/api/cache", nil, nil, "", &resp)
	return resp.Removed, err
}

// TestNotification asks the daemon to send a test notification.
func (c *Client) TestNotification(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/test", nil, nil, "", nil)
}

// LogQuery filters a log fetch.
type LogQuery struct {
	Since  uint64
	Limit  int
	Follow bool
	Tail   bool
	JobID  string
}

// Logs fetches a page of daemon log events.
func (c *Client) Logs(ctx context.Context, q LogQuery) (LogStreamResponse, error) {
	values := url.Values{}
	if q.Since > 0 {
		values.Set("since", strconv.FormatUint(q.Since, 10))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Follow {
		values.Set("follow", "1")
	}
	if q.Tail {
		values.Set("tail", "1")
	}
	if id := strings.TrimSpace(q.JobID); id != "" {
		values.Set("job", id)
	}
	var resp LogStreamResponse
	err := c.do(ctx, http.MethodGet, "/api/logs", values, nil, "", &resp)
	return resp, err
}

// Events streams progress for a job, calling fn for each event until the
// stream ends, fn returns an error, or a final event arrives.
func (c *Client) Events(ctx context.Context, id string, fn func(progress.Event) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id)+"/events", nil, nil, "")
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "" && data.Len() > 0:
			evt, err := progress.DecodeEvent([]byte(data.String()))
			data.Reset()
			if err != nil {
				return err
			}
			if err := fn(evt); err != nil {
				return err
			}
			if evt.Final {
				return nil
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*http.Request, error) {
	if c == nil {
		return nil, ErrUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body, contentType)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var payload ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.Kind = payload.Kind
		apiErr.RequestID = payload.RequestID
	}
	return apiErr
}

// IsUnavailable reports whether err means the daemon could not be reached.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrUnavailable) || errors.As(err, &opErr)
}

// StatusCode returns the HTTP status of a daemon error, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
