package types

import (
	"time"
)

// Task status and priority values accepted by the REST API
const (
	TaskStatusBacklog    = "BACKLOG"
	TaskStatusInProgress = "IN_PROGRESS"
	TaskStatusReview     = "REVIEW"
	TaskStatusDone       = "DONE"

	TaskPriorityLow    = "LOW"
	TaskPriorityMedium = "MEDIUM"
	TaskPriorityHigh   = "HIGH"
	TaskPriorityUrgent = "URGENT"
)

// Notification types
const (
	NotificationTypeComment = "COMMENT"
	NotificationTypeTask    = "TASK"
	NotificationTypeInvite  = "INVITE"
	NotificationTypeSystem  = "SYSTEM"
)

// Activity types written to the organization activity log
const (
	ActivityTaskCreated   = "TASK_CREATED"
	ActivityTaskUpdated   = "TASK_UPDATED"
	ActivityTaskDeleted   = "TASK_DELETED"
	ActivityCommentAdded  = "COMMENT_ADDED"
	ActivityTaskAssigned  = "TASK_ASSIGNED"
	ActivityMemberInvited = "MEMBER_INVITED"
	ActivityMemberJoined  = "MEMBER_JOINED"
)

// Organization membership roles
const (
	OrgRoleOwner  = "OWNER"
	OrgRoleAdmin  = "ADMIN"
	OrgRoleMember = "MEMBER"
)

// Identity is the claim carried by a verified credential.
// ARCHITECTURAL DISCOVERY: the same claim authenticates REST requests and
// realtime connections, so both transports agree on who the caller is
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// Organization is the tenant boundary
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// OrgMember links a user to an organization with a role
type OrgMember struct {
	OrgID     string    `json:"orgId"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Project groups tasks inside an organization
type Project struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"orgId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Task is the unit of work on a project board.
// FUNCTIONAL DISCOVERY: this is both the fetch-response schema and the
// task:created/task:updated payload, so clients can merge it directly
type Task struct {
	ID          string     `json:"id"`
	OrgID       string     `json:"orgId"`
	ProjectID   string     `json:"projectId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	Assignee    *string    `json:"assignee"`
	CreatedBy   string     `json:"createdBy"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TaskPatch carries a partial task update. Nil fields are left unchanged;
// ClearAssignee and ClearDueDate null out the corresponding column.
type TaskPatch struct {
	Title         *string    `json:"title,omitempty"`
	Description   *string    `json:"description,omitempty"`
	Status        *string    `json:"status,omitempty"`
	Priority      *string    `json:"priority,omitempty"`
	AssigneeID    *string    `json:"assigneeId,omitempty"`
	ClearAssignee bool       `json:"-"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
	ClearDueDate  bool       `json:"-"`
}

// Comment is a message on a task thread
type Comment struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"orgId"`
	ProjectID string    `json:"projectId"`
	TaskID    string    `json:"taskId"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Notification is delivered to a single user
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	OrgID     string            `json:"orgId"`
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Read      bool              `json:"read"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Activity is one entry of an organization's activity log
type Activity struct {
	ID        string            `json:"id"`
	OrgID     string            `json:"orgId"`
	ProjectID string            `json:"projectId,omitempty"`
	TaskID    string            `json:"taskId,omitempty"`
	ActorID   string            `json:"actorId"`
	Type      string            `json:"type"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}
