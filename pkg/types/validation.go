package types

import (
	"regexp"
	"strings"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidID checks an opaque identifier: 1-64 characters, never a colon,
// so it can be embedded in a room key
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return idRegex.MatchString(id)
}

// IsValidStatus checks a task status value
func IsValidStatus(status string) bool {
	switch status {
	case TaskStatusBacklog, TaskStatusInProgress, TaskStatusReview, TaskStatusDone:
		return true
	default:
		return false
	}
}

// IsValidPriority checks a task priority value
func IsValidPriority(priority string) bool {
	switch priority {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh, TaskPriorityUrgent:
		return true
	default:
		return false
	}
}

// IsValidRole checks an organization role
func IsValidRole(role string) bool {
	switch role {
	case OrgRoleOwner, OrgRoleAdmin, OrgRoleMember:
		return true
	default:
		return false
	}
}

// Validate applies defaults and checks a task about to be created.
// FUNCTIONAL DISCOVERY: status defaults to BACKLOG and priority to MEDIUM
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return ErrInvalidTitle
	}
	if t.Status == "" {
		t.Status = TaskStatusBacklog
	}
	if t.Priority == "" {
		t.Priority = TaskPriorityMedium
	}
	if !IsValidStatus(t.Status) {
		return ErrInvalidStatus
	}
	if !IsValidPriority(t.Priority) {
		return ErrInvalidPriority
	}
	if t.Assignee != nil && !IsValidID(*t.Assignee) {
		return ErrInvalidID
	}
	return nil
}

// Validate checks a partial update
func (p *TaskPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return ErrInvalidTitle
	}
	if p.Status != nil && !IsValidStatus(*p.Status) {
		return ErrInvalidStatus
	}
	if p.Priority != nil && !IsValidPriority(*p.Priority) {
		return ErrInvalidPriority
	}
	if p.AssigneeID != nil && !IsValidID(*p.AssigneeID) {
		return ErrInvalidID
	}
	return nil
}

// Apply copies the set fields of the patch onto task
func (p *TaskPatch) Apply(task *Task) {
	if p.Title != nil {
		task.Title = *p.Title
	}
	if p.Description != nil {
		task.Description = *p.Description
	}
	if p.Status != nil {
		task.Status = *p.Status
	}
	if p.Priority != nil {
		task.Priority = *p.Priority
	}
	if p.ClearAssignee {
		task.Assignee = nil
	} else if p.AssigneeID != nil {
		assignee := *p.AssigneeID
		task.Assignee = &assignee
	}
	if p.ClearDueDate {
		task.DueDate = nil
	} else if p.DueDate != nil {
		due := *p.DueDate
		task.DueDate = &due
	}
}

// Validate checks a comment about to be created
func (c *Comment) Validate() error {
	if strings.TrimSpace(c.Content) == "" {
		return ErrEmptyComment
	}
	return nil
}
