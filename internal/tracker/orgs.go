package tracker

import (
	"context"
	"fmt"
	"strings"

	"taskflow/pkg/types"
)

// CreateOrganization creates an organization owned by the actor
func (t *Tracker) CreateOrganization(ctx context.Context, actor types.Identity, name string) (*types.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 200 {
		return nil, types.ErrInvalidName
	}

	org := &types.Organization{
		ID:        t.newID(),
		Name:      name,
		OwnerID:   actor.UserID,
		CreatedAt: t.now(),
	}
	if err := t.store.CreateOrganization(ctx, org); err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}
	return org, nil
}

// RequireMember returns the actor's membership or interfaces.ErrNotMember
func (t *Tracker) RequireMember(ctx context.Context, orgID, userID string) (*types.OrgMember, error) {
	return t.store.GetMember(ctx, orgID, userID)
}

// AddMember adds a user to the organization. Only owners and admins may do so.
func (t *Tracker) AddMember(ctx context.Context, actor types.Identity, orgID, userID, email, role string) (*types.OrgMember, error) {
	if !types.IsValidID(userID) {
		return nil, ErrInvalidUser
	}
	if role == "" {
		role = types.OrgRoleMember
	}
	if !types.IsValidRole(role) || role == types.OrgRoleOwner {
		return nil, types.ErrInvalidRole
	}

	caller, err := t.store.GetMember(ctx, orgID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if caller.Role != types.OrgRoleOwner && caller.Role != types.OrgRoleAdmin {
		return nil, ErrForbidden
	}

	member := &types.OrgMember{
		OrgID:     orgID,
		UserID:    userID,
		Email:     email,
		Role:      role,
		CreatedAt: t.now(),
	}
	if err := t.store.AddMember(ctx, member); err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	t.recordActivity(ctx, &types.Activity{
		OrgID:   orgID,
		ActorID: actor.UserID,
		Type:    types.ActivityMemberJoined,
		Meta:    map[string]string{"userId": userID, "role": role},
	})
	return member, nil
}

// ListMembers lists the organization's members
func (t *Tracker) ListMembers(ctx context.Context, orgID string) ([]*types.OrgMember, error) {
	return t.store.ListMembers(ctx, orgID)
}

// CreateProject creates a project inside the organization
func (t *Tracker) CreateProject(ctx context.Context, actor types.Identity, orgID, name, description string) (*types.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 200 {
		return nil, types.ErrInvalidName
	}

	now := t.now()
	project := &types.Project{
		ID:          t.newID(),
		OrgID:       orgID,
		Name:        name,
		Description: description,
		CreatedBy:   actor.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.store.CreateProject(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return project, nil
}

// GetProject returns a project of the organization
func (t *Tracker) GetProject(ctx context.Context, orgID, projectID string) (*types.Project, error) {
	return t.store.GetProject(ctx, orgID, projectID)
}

// ListProjects lists the organization's projects, newest first
func (t *Tracker) ListProjects(ctx context.Context, orgID string) ([]*types.Project, error) {
	return t.store.ListProjects(ctx, orgID)
}
