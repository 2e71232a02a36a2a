package permission

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"minuteman/app/core/orchestrator/db"
)

type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleDeptManager Role = "dept_manager"
	RoleGroupAdmin  Role = "group_admin"
	RoleMember      Role = "member"
)

var ErrForbidden = errors.New("permission: forbidden")

func ParseRole(raw string) (Role, bool) {
	switch Role(strings.TrimSpace(raw)) {
	case RoleSuperAdmin:
		return RoleSuperAdmin, true
	case RoleDeptManager:
		return RoleDeptManager, true
	case RoleGroupAdmin:
		return RoleGroupAdmin, true
	case RoleMember:
		return RoleMember, true
	default:
		return "", false
	}
}

// CanStartMeeting reports whether a role may open a recording window.
func (r Role) CanStartMeeting() bool {
	return r == RoleGroupAdmin || r == RoleDeptManager || r == RoleSuperAdmin
}

// CanViewCrossScope reports whether a role may run the cross-scope overview.
func (r Role) CanViewCrossScope() bool {
	return r == RoleDeptManager || r == RoleSuperAdmin
}

type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// GetRole is total: an unknown user is a member, absence is not an error.
func (s *Store) GetRole(ctx context.Context, userID string) Role {
	var roleText string
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT role FROM user_permissions WHERE user_id = ?`, userID).Scan(&roleText)
	if err != nil {
		return RoleMember
	}
	role, ok := ParseRole(roleText)
	if !ok {
		return RoleMember
	}
	return role
}

// GetDepartment returns the stored department for a user, empty when unset.
func (s *Store) GetDepartment(ctx context.Context, userID string) string {
	var dept sql.NullString
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT department FROM user_permissions WHERE user_id = ?`, userID).Scan(&dept)
	if err != nil {
		return ""
	}
	return dept.String
}

// SetRole upserts the target user's role. Only a super_admin actor may write.
func (s *Store) SetRole(ctx context.Context, actingRole Role, targetUserID string, targetUserName string, newRole Role) error {
	if actingRole != RoleSuperAdmin {
		return ErrForbidden
	}
	return s.upsertRole(ctx, targetUserID, targetUserName, newRole)
}

// Bootstrap seeds super_admin rows at startup. Without at least one seeded
// super_admin the role-assignment command can never succeed.
func (s *Store) Bootstrap(ctx context.Context, userIDs []string) error {
	for _, userID := range userIDs {
		userID = strings.TrimSpace(userID)
		if userID == "" {
			continue
		}
		if err := s.upsertRole(ctx, userID, "", RoleSuperAdmin); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertRole(ctx context.Context, userID string, userName string, role Role) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("permission: user id is required")
	}
	now := time.Now().Unix()
	query := `
INSERT INTO user_permissions (user_id, user_name, role, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	role = excluded.role,
	user_name = CASE WHEN excluded.user_name != '' THEN excluded.user_name ELSE user_permissions.user_name END,
	updated_at = excluded.updated_at`
	_, err := s.db.Conn().ExecContext(ctx, query, userID, strings.TrimSpace(userName), string(role), now)
	return err
}
