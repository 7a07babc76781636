package client

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

	"taskflow/pkg/types"
)

// APIClient calls the REST API with the stored credential
type APIClient struct {
	baseURL     string
	credentials CredentialSource
	http        *http.Client
}

// NewAPIClient creates a client for baseURL, e.g. http://localhost:8080
func NewAPIClient(baseURL string, credentials CredentialSource) *APIClient {
	return &APIClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: credentials,
		http:        &http.Client{Timeout: 30 * time.Second},
	}
}

// NewTask is the input of CreateTask
type NewTask struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	AssigneeID  *string    `json:"assigneeId,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// IssueToken asks the development token endpoint for a credential
func (c *APIClient) IssueToken(ctx context.Context, userID, email string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/token", map[string]string{"userId": userID, "email": email}, &resp)
	return resp.Token, err
}

// CreateOrganization creates an org owned by the caller
func (c *APIClient) CreateOrganization(ctx context.Context, name string) (*types.Organization, error) {
	var org types.Organization
	err := c.do(ctx, http.MethodPost, "/api/orgs", map[string]string{"name": name}, &org)
	return &org, err
}

// AddMember adds userID to the org with role
func (c *APIClient) AddMember(ctx context.Context, orgID, userID, email, role string) (*types.OrgMember, error) {
	var member types.OrgMember
	body := map[string]string{"userId": userID, "email": email, "role": role}
	err := c.do(ctx, http.MethodPost, orgPath(orgID, "members"), body, &member)
	return &member, err
}

// CreateProject creates a project in the org
func (c *APIClient) CreateProject(ctx context.Context, orgID, name, description string) (*types.Project, error) {
	var project types.Project
	body := map[string]string{"name": name, "description": description}
	err := c.do(ctx, http.MethodPost, orgPath(orgID, "projects"), body, &project)
	return &project, err
}

// ListTasks lists a project's tasks, newest first
func (c *APIClient) ListTasks(ctx context.Context, orgID, projectID string) ([]types.Task, error) {
	var tasks []types.Task
	err := c.do(ctx, http.MethodGet, tasksPath(orgID, projectID), nil, &tasks)
	return tasks, err
}

// CreateTask creates a task
func (c *APIClient) CreateTask(ctx context.Context, orgID, projectID string, input NewTask) (*types.Task, error) {
	var task types.Task
	err := c.do(ctx, http.MethodPost, tasksPath(orgID, projectID), input, &task)
	return &task, err
}

// UpdateTask sends a partial update; ClearAssignee and ClearDueDate are sent
// as explicit nulls
func (c *APIClient) UpdateTask(ctx context.Context, orgID, projectID, taskID string, patch types.TaskPatch) (*types.Task, error) {
	body := map[string]any{}
	if patch.Title != nil {
		body["title"] = *patch.Title
	}
	if patch.Description != nil {
		body["description"] = *patch.Description
	}
	if patch.Status != nil {
		body["status"] = *patch.Status
	}
	if patch.Priority != nil {
		body["priority"] = *patch.Priority
	}
	switch {
	case patch.ClearAssignee:
		body["assigneeId"] = nil
	case patch.AssigneeID != nil:
		body["assigneeId"] = *patch.AssigneeID
	}
	switch {
	case patch.ClearDueDate:
		body["dueDate"] = nil
	case patch.DueDate != nil:
		body["dueDate"] = *patch.DueDate
	}

	var task types.Task
	err := c.do(ctx, http.MethodPatch, tasksPath(orgID, projectID)+"/"+url.PathEscape(taskID), body, &task)
	return &task, err
}

// DeleteTask deletes a task
func (c *APIClient) DeleteTask(ctx context.Context, orgID, projectID, taskID string) error {
	return c.do(ctx, http.MethodDelete, tasksPath(orgID, projectID)+"/"+url.PathEscape(taskID), nil, nil)
}

// ListComments lists a task's comments, oldest first
func (c *APIClient) ListComments(ctx context.Context, orgID, projectID, taskID string) ([]types.Comment, error) {
	var comments []types.Comment
	err := c.do(ctx, http.MethodGet, commentsPath(orgID, projectID, taskID), nil, &comments)
	return comments, err
}

// CreateComment adds a comment to a task
func (c *APIClient) CreateComment(ctx context.Context, orgID, projectID, taskID, content string) (*types.Comment, error) {
	var comment types.Comment
	err := c.do(ctx, http.MethodPost, commentsPath(orgID, projectID, taskID), map[string]string{"content": content}, &comment)
	return &comment, err
}

// ListNotifications lists the caller's latest notifications
func (c *APIClient) ListNotifications(ctx context.Context) ([]types.Notification, error) {
	var notifications []types.Notification
	err := c.do(ctx, http.MethodGet, "/api/notifications", nil, &notifications)
	return notifications, err
}

// MarkNotificationRead marks one of the caller's notifications read
func (c *APIClient) MarkNotificationRead(ctx context.Context, notificationID string) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(notificationID)+"/read", nil, nil)
}

// ListActivity lists an org's latest activity
func (c *APIClient) ListActivity(ctx context.Context, orgID string) ([]types.Activity, error) {
	var activity []types.Activity
	err := c.do(ctx, http.MethodGet, orgPath(orgID, "activity"), nil, &activity)
	return activity, err
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, ok := c.credentials(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func orgPath(orgID, rest string) string {
	return "/api/orgs/" + url.PathEscape(orgID) + "/" + rest
}

func tasksPath(orgID, projectID string) string {
	return orgPath(orgID, "projects/"+url.PathEscape(projectID)+"/tasks")
}

func commentsPath(orgID, projectID, taskID string) string {
	return tasksPath(orgID, projectID) + "/" + url.PathEscape(taskID) + "/comments"
}
