package types

import (
	"fmt"
	"strings"
)

// RoomKind identifies which of the three room key shapes a key has
type RoomKind int

const (
	RoomKindUser RoomKind = iota + 1
	RoomKindOrg
	RoomKindProject
)

func (k RoomKind) String() string {
	switch k {
	case RoomKindUser:
		return "user"
	case RoomKindOrg:
		return "org"
	case RoomKindProject:
		return "project"
	default:
		return "unknown"
	}
}

// Room is a parsed room key
type Room struct {
	Kind      RoomKind
	UserID    string
	OrgID     string
	ProjectID string
}

// Key renders the room back to its wire form
func (r Room) Key() string {
	switch r.Kind {
	case RoomKindUser:
		return UserRoom(r.UserID)
	case RoomKindOrg:
		return OrgRoom(r.OrgID)
	case RoomKindProject:
		return ProjectRoom(r.OrgID, r.ProjectID)
	default:
		return ""
	}
}

// UserRoom is the personal notification room, auto-joined at handshake
func UserRoom(userID string) string {
	return "user:" + userID
}

// OrgRoom is the organization-wide activity room
func OrgRoom(orgID string) string {
	return "org:" + orgID
}

// ProjectRoom is the task/comment room of one project
func ProjectRoom(orgID, projectID string) string {
	return "org:" + orgID + ":project:" + projectID
}

// ParseRoom parses one of:
//
//	user:<userId> | org:<orgId> | org:<orgId>:project:<projectId>
//
// Ids are opaque and may not contain colons.
func ParseRoom(key string) (Room, error) {
	parts := strings.Split(key, ":")
	for _, part := range parts {
		if part == "" {
			return Room{}, fmt.Errorf("%w: %q", ErrInvalidRoomKey, key)
		}
	}

	switch {
	case len(parts) == 2 && parts[0] == "user":
		return Room{Kind: RoomKindUser, UserID: parts[1]}, nil
	case len(parts) == 2 && parts[0] == "org":
		return Room{Kind: RoomKindOrg, OrgID: parts[1]}, nil
	case len(parts) == 4 && parts[0] == "org" && parts[2] == "project":
		return Room{Kind: RoomKindProject, OrgID: parts[1], ProjectID: parts[3]}, nil
	default:
		return Room{}, fmt.Errorf("%w: %q", ErrInvalidRoomKey, key)
	}
}

// IsValidRoomKey reports whether key matches the room key grammar
func IsValidRoomKey(key string) bool {
	_, err := ParseRoom(key)
	return err == nil
}
