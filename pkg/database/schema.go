package database

import (
	"database/sql"
	"fmt"
)

// RequiredTables lists every table the store reads or writes
var RequiredTables = []string{
	"organizations",
	"org_members",
	"projects",
	"tasks",
	"comments",
	"notifications",
	"activities",
	"schema_migrations",
}

// RequiredIndexes lists the indexes backing newest-first listings
var RequiredIndexes = []string{
	"idx_org_members_user",
	"idx_projects_org",
	"idx_tasks_project_time",
	"idx_comments_task_time",
	"idx_notifications_user_time",
	"idx_activities_org_time",
}

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables
// deployment verification without coupling to the migration system
type SchemaValidator struct {
	db     *sql.DB
	driver string
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB, driver string) *SchemaValidator {
	return &SchemaValidator{db: db, driver: driver}
}

// Validate checks that all required tables and indexes exist
func (v *SchemaValidator) Validate() error {
	for _, table := range RequiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}

	for _, index := range RequiredIndexes {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}

	return nil
}

func (v *SchemaValidator) tableExists(name string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if v.driver == DriverPostgres {
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
	}
	return v.count(query, name)
}

func (v *SchemaValidator) indexExists(name string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?"
	if v.driver == DriverPostgres {
		query = "SELECT COUNT(*) FROM pg_indexes WHERE schemaname = current_schema() AND indexname = $1"
	}
	return v.count(query, name)
}

func (v *SchemaValidator) count(query, name string) (bool, error) {
	var n int
	if err := v.db.QueryRow(query, name).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
