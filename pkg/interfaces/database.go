package interfaces

import (
	"context"

	"taskflow/pkg/types"
)

// DocumentStore handles all persistence operations
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations;
// every write returns only after the write is acknowledged, which is the
// point after which realtime events may be emitted
type DocumentStore interface {
	// Organization operations
	CreateOrganization(ctx context.Context, org *types.Organization) error
	GetOrganization(ctx context.Context, orgID string) (*types.Organization, error)
	AddMember(ctx context.Context, member *types.OrgMember) error
	GetMember(ctx context.Context, orgID, userID string) (*types.OrgMember, error)
	ListMembers(ctx context.Context, orgID string) ([]*types.OrgMember, error)

	// Project operations
	CreateProject(ctx context.Context, project *types.Project) error
	GetProject(ctx context.Context, orgID, projectID string) (*types.Project, error)
	ListProjects(ctx context.Context, orgID string) ([]*types.Project, error)

	// Task operations
	// FUNCTIONAL DISCOVERY: every task lookup is scoped by org and project so a
	// task id from another tenant resolves to ErrNotFound
	CreateTask(ctx context.Context, task *types.Task) error
	GetTask(ctx context.Context, orgID, projectID, taskID string) (*types.Task, error)
	ListTasks(ctx context.Context, orgID, projectID string) ([]*types.Task, error)
	UpdateTask(ctx context.Context, task *types.Task) error
	DeleteTask(ctx context.Context, orgID, projectID, taskID string) (*types.Task, error)

	// Comment operations
	CreateComment(ctx context.Context, comment *types.Comment) error
	ListComments(ctx context.Context, orgID, projectID, taskID string) ([]*types.Comment, error)

	// Notification operations
	CreateNotification(ctx context.Context, notification *types.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]*types.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error

	// Activity operations
	CreateActivity(ctx context.Context, activity *types.Activity) error
	ListActivity(ctx context.Context, orgID string, limit int) ([]*types.Activity, error)

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}
