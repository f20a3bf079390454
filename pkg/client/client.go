package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gridpull/gridpull/pkg/types"
)

// Client talks to a dispatcher's REST API
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a client for the dispatcher at baseURL. apiKey may be
// empty when the dispatcher runs without the key gate.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SystemStatus mirrors the dispatcher's /status payload
type SystemStatus struct {
	ActiveWorkers    int                        `json:"active_workers"`
	ConnectedWorkers int                        `json:"connected_workers"`
	TotalTasks       int                        `json:"total_tasks"`
	TasksByStatus    map[types.TaskStatus]int   `json:"tasks_by_status"`
	WorkersByStatus  map[types.WorkerStatus]int `json:"workers_by_status"`
	SystemLoad       float64                    `json:"system_load"`
}

// CreateTask submits a download job
func (c *Client) CreateTask(ctx context.Context, downloadURL string, options map[string]any, priority string) (*types.Task, error) {
	body := map[string]any{"url": downloadURL}
	if options != nil {
		body["options"] = options
	}
	if priority != "" {
		body["priority"] = priority
	}
	var task types.Task
	if err := c.do(ctx, http.MethodPost, "/tasks", body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks lists tasks, optionally filtered by status
func (c *Client) ListTasks(ctx context.Context, status string) ([]*types.Task, error) {
	path := "/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var tasks []*types.Task
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask fetches one task
func (c *Client) GetTask(ctx context.Context, id string) (*types.Task, error) {
	var task types.Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// DeleteTask removes a task, canceling it on its worker when active
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil)
}

// RequeueTask returns a task to the pending queue
func (c *Client) RequeueTask(ctx context.Context, id string) (*types.Task, error) {
	var task types.Task
	body := map[string]any{"status": string(types.TaskStatusPending)}
	if err := c.do(ctx, http.MethodPut, "/tasks/"+url.PathEscape(id), body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// PauseTask pauses an assigned task's download
func (c *Client) PauseTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/pause", nil, nil)
}

// ResumeTask resumes a paused download
func (c *Client) ResumeTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/resume", nil, nil)
}

// ListWorkers lists workers, optionally filtered by status
func (c *Client) ListWorkers(ctx context.Context, status string) ([]*types.Worker, error) {
	path := "/workers"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var workers []*types.Worker
	if err := c.do(ctx, http.MethodGet, path, nil, &workers); err != nil {
		return nil, err
	}
	return workers, nil
}

// GetWorker fetches one worker
func (c *Client) GetWorker(ctx context.Context, id string) (*types.Worker, error) {
	var worker types.Worker
	if err := c.do(ctx, http.MethodGet, "/workers/"+url.PathEscape(id), nil, &worker); err != nil {
		return nil, err
	}
	return &worker, nil
}

// DeleteWorker removes a worker and requeues its tasks
func (c *Client) DeleteWorker(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/workers/"+url.PathEscape(id), nil, nil)
}

// Status fetches the system snapshot
func (c *Client) Status(ctx context.Context) (*SystemStatus, error) {
	var status SystemStatus
	if err := c.do(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
