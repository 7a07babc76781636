package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	dbconfig "taskflow/pkg/database"
	"taskflow/pkg/interfaces"
	"taskflow/pkg/types"
)

// ErrManagerClosed is returned for writes issued after Close
var ErrManagerClosed = errors.New("database manager is closed")

// Manager implements the DocumentStore interface
type Manager struct {
	db           *sql.DB
	driver       string
	logger       *zap.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations and starts the writer
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	if err := dbconfig.NewMigrationManager(db, config.Driver).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	m := &Manager{
		db:           db,
		driver:       config.Driver,
		logger:       logger.Named("database"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write
	// contention; reads go straight to the pool
	m.wg.Add(1)
	go m.writeLoop()

	m.logger.Info("database ready", zap.String("driver", config.Driver))
	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn("database write failed", zap.Error(err))
			}
			op.result <- err
		case <-m.shutdown:
			m.logger.Debug("write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for it to be acknowledged
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	}
}

func (m *Manager) q(query string) string {
	return dbconfig.Rebind(m.driver, query)
}

// CreateOrganization inserts the organization and its owner membership atomically
func (m *Manager) CreateOrganization(ctx context.Context, org *types.Organization) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, m.q(`
			INSERT INTO organizations (id, name, owner_id, created_at)
			VALUES (?, ?, ?, ?)
		`), org.ID, org.Name, org.OwnerID, org.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert organization: %w", err)
		}

		_, err = tx.ExecContext(ctx, m.q(`
			INSERT INTO org_members (org_id, user_id, role, created_at)
			VALUES (?, ?, ?, ?)
		`), org.ID, org.OwnerID, types.OrgRoleOwner, org.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert owner membership: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit organization creation: %w", err)
		}
		return nil
	})
}

// GetOrganization retrieves an organization by ID
func (m *Manager) GetOrganization(ctx context.Context, orgID string) (*types.Organization, error) {
	var org types.Organization
	err := m.db.QueryRowContext(ctx, m.q(`
		SELECT id, name, owner_id, created_at FROM organizations WHERE id = ?
	`), orgID).Scan(&org.ID, &org.Name, &org.OwnerID, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query organization: %w", err)
	}
	return &org, nil
}

// AddMember adds a user to an organization
func (m *Manager) AddMember(ctx context.Context, member *types.OrgMember) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		var count int
		err := db.QueryRowContext(ctx, m.q(`
			SELECT COUNT(*) FROM org_members WHERE org_id = ? AND user_id = ?
		`), member.OrgID, member.UserID).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check membership: %w", err)
		}
		// Writes are serialized, so the check cannot race another insert
		if count > 0 {
			return interfaces.ErrAlreadyExists
		}

		_, err = db.ExecContext(ctx, m.q(`
			INSERT INTO org_members (org_id, user_id, email, role, created_at)
			VALUES (?, ?, ?, ?, ?)
		`), member.OrgID, member.UserID, member.Email, member.Role, member.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert member: %w", err)
		}
		return nil
	})
}

// GetMember returns the membership of a user in an organization
func (m *Manager) GetMember(ctx context.Context, orgID, userID string) (*types.OrgMember, error) {
	var member types.OrgMember
	err := m.db.QueryRowContext(ctx, m.q(`
		SELECT org_id, user_id, email, role, created_at
		FROM org_members WHERE org_id = ? AND user_id = ?
	`), orgID, userID).Scan(&member.OrgID, &member.UserID, &member.Email, &member.Role, &member.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotMember
		}
		return nil, fmt.Errorf("failed to query member: %w", err)
	}
	return &member, nil
}

// ListMembers returns the members of an organization, oldest first
func (m *Manager) ListMembers(ctx context.Context, orgID string) ([]*types.OrgMember, error) {
	rows, err := m.db.QueryContext(ctx, m.q(`
		SELECT org_id, user_id, email, role, created_at
		FROM org_members WHERE org_id = ?
		ORDER BY created_at ASC
	`), orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	members := []*types.OrgMember{}
	for rows.Next() {
		var member types.OrgMember
		if err := rows.Scan(&member.OrgID, &member.UserID, &member.Email, &member.Role, &member.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		members = append(members, &member)
	}
	return members, rows.Err()
}

// CreateProject inserts a project
func (m *Manager) CreateProject(ctx context.Context, project *types.Project) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, m.q(`
			INSERT INTO projects (id, org_id, name, description, created_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`), project.ID, project.OrgID, project.Name, project.Description,
			project.CreatedBy, project.CreatedAt, project.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert project: %w", err)
		}
		return nil
	})
}

const projectColumns = `id, org_id, name, description, created_by, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*types.Project, error) {
	var p types.Project
	err := row.Scan(&p.ID, &p.OrgID, &p.Name, &p.Description, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProject retrieves a project scoped to its organization
func (m *Manager) GetProject(ctx context.Context, orgID, projectID string) (*types.Project, error) {
	project, err := scanProject(m.db.QueryRowContext(ctx, m.q(`
		SELECT `+projectColumns+` FROM projects WHERE org_id = ? AND id = ?
	`), orgID, projectID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query project: %w", err)
	}
	return project, nil
}

// ListProjects returns the projects of an organization, newest first
func (m *Manager) ListProjects(ctx context.Context, orgID string) ([]*types.Project, error) {
	rows, err := m.db.QueryContext(ctx, m.q(`
		SELECT `+projectColumns+` FROM projects WHERE org_id = ?
		ORDER BY created_at DESC
	`), orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	projects := []*types.Project{}
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

const taskColumns = `id, org_id, project_id, title, description, status, priority,
	assignee_id, created_by, due_date, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*types.Task, error) {
	var t types.Task
	var assignee sql.NullString
	var dueDate sql.NullTime

	err := row.Scan(&t.ID, &t.OrgID, &t.ProjectID, &t.Title, &t.Description, &t.Status,
		&t.Priority, &assignee, &t.CreatedBy, &dueDate, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	// FUNCTIONAL DISCOVERY: Handle nullable assignee and due date
	if assignee.Valid {
		t.Assignee = &assignee.String
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.Time
	}
	return &t, nil
}

// CreateTask inserts a task
func (m *Manager) CreateTask(ctx context.Context, task *types.Task) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, m.q(`
			INSERT INTO tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), task.ID, task.OrgID, task.ProjectID, task.Title, task.Description, task.Status,
			task.Priority, nullString(task.Assignee), task.CreatedBy, nullTime(task.DueDate),
			task.CreatedAt, task.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
		return nil
	})
}

// GetTask retrieves a task scoped to its organization and project
func (m *Manager) GetTask(ctx context.Context, orgID, projectID, taskID string) (*types.Task, error) {
	task, err := scanTask(m.db.QueryRowContext(ctx, m.q(`
		SELECT `+taskColumns+` FROM tasks WHERE org_id = ? AND project_id = ? AND id = ?
	`), orgID, projectID, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return task, nil
}

// ListTasks returns the tasks of a project, newest first
func (m *Manager) ListTasks(ctx context.Context, orgID, projectID string) ([]*types.Task, error) {
	rows, err := m.db.QueryContext(ctx, m.q(`
		SELECT `+taskColumns+` FROM tasks WHERE org_id = ? AND project_id = ?
		ORDER BY created_at DESC
	`), orgID, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tasks := []*types.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTask writes every mutable column of the task
func (m *Manager) UpdateTask(ctx context.Context, task *types.Task) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, m.q(`
			UPDATE tasks
			SET title = ?, description = ?, status = ?, priority = ?,
				assignee_id = ?, due_date = ?, updated_at = ?
			WHERE org_id = ? AND project_id = ? AND id = ?
		`), task.Title, task.Description, task.Status, task.Priority,
			nullString(task.Assignee), nullTime(task.DueDate), task.UpdatedAt,
			task.OrgID, task.ProjectID, task.ID)
		if err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		return requireAffected(res)
	})
}

// DeleteTask removes a task and returns the row that was deleted
func (m *Manager) DeleteTask(ctx context.Context, orgID, projectID, taskID string) (*types.Task, error) {
	var deleted *types.Task
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		task, err := scanTask(tx.QueryRowContext(ctx, m.q(`
			SELECT `+taskColumns+` FROM tasks WHERE org_id = ? AND project_id = ? AND id = ?
		`), orgID, projectID, taskID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to query task: %w", err)
		}

		if _, err := tx.ExecContext(ctx, m.q(`DELETE FROM tasks WHERE id = ?`), taskID); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit task deletion: %w", err)
		}
		deleted = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// CreateComment inserts a comment
func (m *Manager) CreateComment(ctx context.Context, comment *types.Comment) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, m.q(`
			INSERT INTO comments (id, org_id, project_id, task_id, author_id, content, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`), comment.ID, comment.OrgID, comment.ProjectID, comment.TaskID,
			comment.AuthorID, comment.Content, comment.CreatedAt, comment.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert comment: %w", err)
		}
		return nil
	})
}

// ListComments returns the comment thread of a task in chronological order
func (m *Manager) ListComments(ctx context.Context, orgID, projectID, taskID string) ([]*types.Comment, error) {
	rows, err := m.db.QueryContext(ctx, m.q(`
		SELECT id, org_id, project_id, task_id, author_id, content, created_at, updated_at
		FROM comments WHERE org_id = ? AND project_id = ? AND task_id = ?
		ORDER BY created_at ASC
	`), orgID, projectID, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	comments := []*types.Comment{}
	for rows.Next() {
		var c types.Comment
		err := rows.Scan(&c.ID, &c.OrgID, &c.ProjectID, &c.TaskID, &c.AuthorID, &c.Content, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment row: %w", err)
		}
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

// CreateNotification inserts a notification
func (m *Manager) CreateNotification(ctx context.Context, n *types.Notification) error {
	meta, err := marshalMeta(n.Meta)
	if err != nil {
		return err
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, m.q(`
			INSERT INTO notifications (id, user_id, org_id, type, message, read, meta, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), n.ID, n.UserID, n.OrgID, n.Type, n.Message, n.Read, meta, n.CreatedAt, n.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}
		return nil
	})
}

// ListNotifications returns a user's notifications, newest first
func (m *Manager) ListNotifications(ctx context.Context, userID string, limit int) ([]*types.Notification, error) {
	rows, err := m.db.QueryContext(ctx, m.q(`
		SELECT id, user_id, org_id, type, message, read, meta, created_at, updated_at
		FROM notifications WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	notifications := []*types.Notification{}
	for rows.Next() {
		var n types.Notification
		var meta string
		err := rows.Scan(&n.ID, &n.UserID, &n.OrgID, &n.Type, &n.Message, &n.Read, &meta, &n.CreatedAt, &n.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		if n.Meta, err = unmarshalMeta(meta); err != nil {
			return nil, err
		}
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead marks one of the user's notifications as read
func (m *Manager) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, m.q(`
			UPDATE notifications SET read = ?, updated_at = ?
			WHERE id = ? AND user_id = ?
		`), true, time.Now().UTC(), notificationID, userID)
		if err != nil {
			return fmt.Errorf("failed to update notification: %w", err)
		}
		return requireAffected(res)
	})
}

// CreateActivity inserts an activity log entry
func (m *Manager) CreateActivity(ctx context.Context, a *types.Activity) error {
	meta, err := marshalMeta(a.Meta)
	if err != nil {
		return err
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, m.q(`
			INSERT INTO activities (id, org_id, project_id, task_id, actor_id, type, meta, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`), a.ID, a.OrgID, a.ProjectID, a.TaskID, a.ActorID, a.Type, meta, a.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert activity: %w", err)
		}
		return nil
	})
}

// ListActivity returns an organization's activity log, newest first
func (m *Manager) ListActivity(ctx context.Context, orgID string, limit int) ([]*types.Activity, error) {
	rows, err := m.db.QueryContext(ctx, m.q(`
		SELECT id, org_id, project_id, task_id, actor_id, type, meta, created_at
		FROM activities WHERE org_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`), orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	activities := []*types.Activity{}
	for rows.Next() {
		var a types.Activity
		var meta string
		err := rows.Scan(&a.ID, &a.OrgID, &a.ProjectID, &a.TaskID, &a.ActorID, &a.Type, &meta, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		if a.Meta, err = unmarshalMeta(meta); err != nil {
			return nil, err
		}
		activities = append(activities, &a)
	}
	return activities, rows.Err()
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func marshalMeta(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta: %w", err)
	}
	return string(data), nil
}

func unmarshalMeta(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal meta: %w", err)
	}
	return meta, nil
}
