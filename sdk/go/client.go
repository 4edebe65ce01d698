package tasklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taskline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	Title       string   `json:"title"`
	OwnerID     string   `json:"owner_id"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	DependsOn   []string `json:"depends_on"`
	BlockedBy   []string `json:"blocked_by"`
	CompletedAt *string  `json:"completed_at,omitempty"`
}

// Warning carries a non-fatal problem attached to a completion.
type Warning struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Completion is the result of completing or approving a task.
type Completion struct {
	Task      Task     `json:"task"`
	Unblocked []string `json:"unblocked"`
	Warning   *Warning `json:"warning,omitempty"`
}

// TaskRef is a shallow reference to a blocking task.
type TaskRef struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Status string `json:"status,omitempty"`
}

// BlockedTask pairs a blocked task with its unmet blockers.
type BlockedTask struct {
	Task     Task      `json:"task"`
	Blockers []TaskRef `json:"blockers"`
}

// ProjectStats summarizes the tasks of one project.
type ProjectStats struct {
	ProjectID   string         `json:"project_id"`
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"by_status"`
	Completed   int            `json:"completed"`
	Completion  float64        `json:"completion_pct"`
	SubProjects int            `json:"sub_projects"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTaskInput are the parameters for CreateTask. ProjectID, Title,
// and OwnerID are required; the dependency set is fixed at creation.
type CreateTaskInput struct {
	ProjectID   string   `json:"project_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	OwnerID     string   `json:"owner_id"`
	Priority    string   `json:"priority,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Context     string   `json:"context,omitempty"`
	Goal        string   `json:"goal,omitempty"`
	Deliverable string   `json:"deliverable,omitempty"`
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, in CreateTaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.apiPath("tasks"), in, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.taskPath(id, ""), nil, &resp)
	return resp, err
}

// StartTask moves a backlog task to active.
func (c *Client) StartTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(id, "start"), nil, &resp)
	return resp, err
}

// CompleteTask finishes a task; the result says what it unblocked.
func (c *Client) CompleteTask(ctx context.Context, id string) (Completion, error) {
	var resp Completion
	err := c.do(ctx, http.MethodPost, c.taskPath(id, "complete"), nil, &resp)
	return resp, err
}

// ApproveTask approves a task waiting in review.
func (c *Client) ApproveTask(ctx context.Context, id string) (Completion, error) {
	var resp Completion
	err := c.do(ctx, http.MethodPost, c.taskPath(id, "approve"), nil, &resp)
	return resp, err
}

// ReadyTasks lists tasks that can start now, most urgent first.
// projectID may be empty to query the whole workspace.
func (c *Client) ReadyTasks(ctx context.Context, projectID string) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, c.scopedPath("tasks/ready", projectID), nil, &resp)
	return resp, err
}

// BlockedTasks lists blocked tasks with their unmet blockers.
func (c *Client) BlockedTasks(ctx context.Context, projectID string) ([]BlockedTask, error) {
	var resp []BlockedTask
	err := c.do(ctx, http.MethodGet, c.scopedPath("tasks/blocked", projectID), nil, &resp)
	return resp, err
}

// ProjectStats returns task counts and completion for a project.
func (c *Client) ProjectStats(ctx context.Context, projectID string) (ProjectStats, error) {
	var resp ProjectStats
	endpoint := c.apiPath(fmt.Sprintf("projects/%s/stats", url.PathEscape(projectID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.apiPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) taskPath(id, action string) string {
	p := fmt.Sprintf("tasks/%s", url.PathEscape(id))
	if action != "" {
		p += "/" + action
	}
	return c.apiPath(p)
}

func (c *Client) scopedPath(p, projectID string) string {
	endpoint := c.apiPath(p)
	if projectID != "" {
		endpoint = fmt.Sprintf("%s?project_id=%s", endpoint, url.QueryEscape(projectID))
	}
	return endpoint
}

func (c *Client) apiPath(p string) string {
	return "v1/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
