package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"taskflow/pkg/types"
)

// TokenRequest is the body of POST /api/auth/token
type TokenRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// TokenResponse carries an issued credential
type TokenResponse struct {
	Token string         `json:"token"`
	User  types.Identity `json:"user"`
}

// CreateOrganizationRequest is the body of POST /api/orgs
type CreateOrganizationRequest struct {
	Name string `json:"name"`
}

// AddMemberRequest is the body of POST /api/orgs/{orgId}/members
type AddMemberRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// CreateProjectRequest is the body of POST /api/orgs/{orgId}/projects
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateTaskRequest is the body of POST .../tasks
type CreateTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	AssigneeID  *string    `json:"assigneeId"`
	DueDate     *time.Time `json:"dueDate"`
}

// UpdateTaskRequest is the body of PATCH .../tasks/{taskId}. assigneeId and
// dueDate are kept raw so an explicit null clears the field.
type UpdateTaskRequest struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Status      *string         `json:"status"`
	Priority    *string         `json:"priority"`
	AssigneeID  json.RawMessage `json:"assigneeId"`
	DueDate     json.RawMessage `json:"dueDate"`
}

// Patch converts the request into a TaskPatch
func (req UpdateTaskRequest) Patch() (types.TaskPatch, error) {
	patch := types.TaskPatch{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
	}

	if len(req.AssigneeID) > 0 {
		if string(req.AssigneeID) == "null" {
			patch.ClearAssignee = true
		} else {
			var assignee string
			if err := json.Unmarshal(req.AssigneeID, &assignee); err != nil {
				return patch, err
			}
			patch.AssigneeID = &assignee
		}
	}

	if len(req.DueDate) > 0 {
		if string(req.DueDate) == "null" {
			patch.ClearDueDate = true
		} else {
			var due time.Time
			if err := json.Unmarshal(req.DueDate, &due); err != nil {
				return patch, err
			}
			patch.DueDate = &due
		}
	}
	return patch, nil
}

// CreateCommentRequest is the body of POST .../comments
type CreateCommentRequest struct {
	Content string `json:"content"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		sendError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !decode(w, r, &req) {
		return
	}
	if !types.IsValidID(req.UserID) {
		sendError(w, types.ErrInvalidID.Error(), http.StatusBadRequest)
		return
	}

	identity := types.Identity{UserID: req.UserID, Email: req.Email}
	token, err := s.issuer.Issue(identity)
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, TokenResponse{Token: token, User: identity})
}

func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	var req CreateOrganizationRequest
	if !decode(w, r, &req) {
		return
	}
	identity, _ := IdentityFrom(r.Context())

	org, err := s.tracker.CreateOrganization(r.Context(), identity, req.Name)
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, org)
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.tracker.ListMembers(r.Context(), mux.Vars(r)["orgId"])
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, members)
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if !decode(w, r, &req) {
		return
	}
	identity, _ := IdentityFrom(r.Context())

	member, err := s.tracker.AddMember(r.Context(), identity, mux.Vars(r)["orgId"], req.UserID, req.Email, req.Role)
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, member)
}

func (s *Server) listActivity(w http.ResponseWriter, r *http.Request) {
	activity, err := s.tracker.ListActivity(r.Context(), mux.Vars(r)["orgId"])
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, activity)
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.tracker.ListProjects(r.Context(), mux.Vars(r)["orgId"])
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, projects)
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if !decode(w, r, &req) {
		return
	}
	identity, _ := IdentityFrom(r.Context())

	project, err := s.tracker.CreateProject(r.Context(), identity, mux.Vars(r)["orgId"], req.Name, req.Description)
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, project)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	project, err := s.tracker.GetProject(r.Context(), vars["orgId"], vars["projectId"])
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, project)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tasks, err := s.tracker.ListTasks(r.Context(), vars["orgId"], vars["projectId"])
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, tasks)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if !decode(w, r, &req) {
		return
	}
	identity, _ := IdentityFrom(r.Context())
	vars := mux.Vars(r)

	task, err := s.tracker.CreateTask(r.Context(), identity, vars["orgId"], vars["projectId"], types.Task{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		Assignee:    req.AssigneeID,
		DueDate:     req.DueDate,
	})
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, task)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	task, err := s.tracker.GetTask(r.Context(), vars["orgId"], vars["projectId"], vars["taskId"])
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, task)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var req UpdateTaskRequest
	if !decode(w, r, &req) {
		return
	}
	patch, err := req.Patch()
	if err != nil {
		sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	identity, _ := IdentityFrom(r.Context())
	vars := mux.Vars(r)

	task, err := s.tracker.UpdateTask(r.Context(), identity, vars["orgId"], vars["projectId"], vars["taskId"], patch)
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, task)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	vars := mux.Vars(r)

	if err := s.tracker.DeleteTask(r.Context(), identity, vars["orgId"], vars["projectId"], vars["taskId"]); err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	comments, err := s.tracker.ListComments(r.Context(), vars["orgId"], vars["projectId"], vars["taskId"])
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, comments)
}

func (s *Server) createComment(w http.ResponseWriter, r *http.Request) {
	var req CreateCommentRequest
	if !decode(w, r, &req) {
		return
	}
	identity, _ := IdentityFrom(r.Context())
	vars := mux.Vars(r)

	comment, err := s.tracker.CreateComment(r.Context(), identity, vars["orgId"], vars["projectId"], vars["taskId"], req.Content)
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, comment)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	notifications, err := s.tracker.ListNotifications(r.Context(), identity.UserID)
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, notifications)
}

func (s *Server) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	if err := s.tracker.MarkNotificationRead(r.Context(), identity.UserID, mux.Vars(r)["notificationId"]); err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
