package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aatumaykin/xavier/internal/cron"
)

// APIError is a non-2xx answer from either service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, timeout time.Duration) client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var status StatusResponse
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &status) == nil && status.Error != "" {
			msg = status.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// SchedulerClient talks to the scheduler service.
type SchedulerClient struct {
	client
}

func NewSchedulerClient(baseURL string, timeout time.Duration) *SchedulerClient {
	return &SchedulerClient{client: newClient(baseURL, timeout)}
}

func (c *SchedulerClient) CreateTask(ctx context.Context, userID, spec, text string) (cron.TaskView, error) {
	var view cron.TaskView
	err := c.do(ctx, http.MethodPost, "/tasks", CreateTaskRequest{UserID: userID, Cron: spec, Text: text}, &view)
	return view, err
}

// ListTasks returns all tasks, or only userID's when it is not empty.
func (c *SchedulerClient) ListTasks(ctx context.Context, userID string) ([]cron.TaskView, error) {
	path := "/tasks"
	if userID != "" {
		path += "?user_id=" + url.QueryEscape(userID)
	}
	var views []cron.TaskView
	err := c.do(ctx, http.MethodGet, path, nil, &views)
	return views, err
}

func (c *SchedulerClient) GetTask(ctx context.Context, taskID string) (cron.TaskView, error) {
	var view cron.TaskView
	err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(taskID), nil, &view)
	return view, err
}

func (c *SchedulerClient) DeleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(taskID), nil, nil)
}

func (c *SchedulerClient) Runs(ctx context.Context, taskID string, limit int) ([]cron.Run, error) {
	path := "/tasks/" + url.PathEscape(taskID) + "/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var runs []cron.Run
	err := c.do(ctx, http.MethodGet, path, nil, &runs)
	return runs, err
}

// AgentClient talks to the orchestration service.
type AgentClient struct {
	client
}

func NewAgentClient(baseURL string, timeout time.Duration) *AgentClient {
	return &AgentClient{client: newClient(baseURL, timeout)}
}

func (c *AgentClient) Ask(ctx context.Context, userID, text, password string) (string, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodPost, "/ask", AskRequest{UserID: userID, Text: text, Password: password}, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (c *AgentClient) Login(ctx context.Context, userID, password string) error {
	return c.do(ctx, http.MethodPost, "/login", LoginRequest{UserID: userID, Password: password}, nil)
}

func (c *AgentClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}
