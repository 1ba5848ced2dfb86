package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the cowork API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// ListTasks fetches tasks from the API
func (c *Client) ListTasks(status string) ([]TaskItem, error) {
	path := "/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var tasks []TaskItem
	if err := c.get(path, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask fetches a single task
func (c *Client) GetTask(id string) (*TaskDetail, error) {
	var task TaskDetail
	if err := c.get("/tasks/"+url.PathEscape(id), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListEvents fetches the event timeline of a task
func (c *Client) ListEvents(taskID string) ([]EventItem, error) {
	var events []EventItem
	if err := c.get("/tasks/"+url.PathEscape(taskID)+"/events", &events); err != nil {
		return nil, err
	}
	return events, nil
}

// ListApprovals fetches pending approvals
func (c *Client) ListApprovals() ([]ApprovalItem, error) {
	var approvals []ApprovalItem
	if err := c.get("/approvals", &approvals); err != nil {
		return nil, err
	}
	return approvals, nil
}

// ListWorkspaces fetches registered workspaces
func (c *Client) ListWorkspaces() ([]WorkspaceItem, error) {
	var list []WorkspaceItem
	if err := c.get("/workspaces", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// CreateTask creates and starts a task
func (c *Client) CreateTask(workspaceID, prompt string) (*TaskItem, error) {
	body := map[string]any{
		"workspace_id": workspaceID,
		"prompt":       prompt,
		"start":        true,
	}
	var task TaskItem
	if err := c.post("/tasks", body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// TaskAction posts one of start, cancel, pause, resume or complete for a task
func (c *Client) TaskAction(taskID, action string) error {
	return c.post("/tasks/"+url.PathEscape(taskID)+"/"+action, nil, nil)
}

// SendMessage sends a follow-up message to a task
func (c *Client) SendMessage(taskID, message string) error {
	return c.post("/tasks/"+url.PathEscape(taskID)+"/message", map[string]string{"message": message}, nil)
}

// RespondToApproval approves or denies a pending approval
func (c *Client) RespondToApproval(approvalID string, approved bool) error {
	return c.post("/approvals/"+url.PathEscape(approvalID)+"/respond", map[string]bool{"approved": approved}, nil)
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var health struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}

	return health.OK, nil
}

func (c *Client) get(path string, out any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *Client) post(path string, data, out any) error {
	var body io.Reader = http.NoBody
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return err
		}
		body = bytes.NewReader(jsonData)
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("API error: %s", apiErr.Error)
		}
		return fmt.Errorf("API error: %s", string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
