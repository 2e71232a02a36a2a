package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"minuteman/app/core/orchestrator/db"
	"minuteman/app/core/orchestrator/permission"
	"minuteman/app/pkg/types"
)

var (
	ErrNotFound         = errors.New("task: not found")
	ErrAlreadyCompleted = errors.New("task: already completed")
)

// DepartmentResolver maps a department to the scope keys it owns. The source
// of that mapping lives outside the store; a missing mapping yields an empty
// result, never an error.
type DepartmentResolver interface {
	DepartmentScopes(department string) []string
}

const taskColumns = `id, scope_type, scope_id, creator_id, creator_name,
	COALESCE(assignee_id, ''), COALESCE(assignee_name, ''), content, priority, status,
	COALESCE(due_date, ''), created_at, updated_at, COALESCE(completed_at, 0)`

// listOrder is load-bearing: positional commands address tasks by their
// 1-based rank in this exact ordering.
const listOrder = `ORDER BY
	CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END,
	created_at DESC, id ASC`

type Store struct {
	db       *db.DB
	resolver DepartmentResolver
}

func NewStore(database *db.DB, resolver DepartmentResolver) *Store {
	return &Store{db: database, resolver: resolver}
}

func (s *Store) Create(ctx context.Context, scope types.Scope, creatorID string, creatorName string, fields CreateFields) (Task, error) {
	content := strings.TrimSpace(fields.Content)
	if content == "" {
		return Task{}, fmt.Errorf("task: content is required")
	}
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return Task{}, fmt.Errorf("task: creator id is required")
	}
	priority := fields.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	now := time.Now().Unix()
	query := `INSERT INTO tasks (scope_type, scope_id, creator_id, creator_name, assignee_id, assignee_name,
		content, priority, status, due_date, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?, ?, NULL)`
	res, err := s.db.Conn().ExecContext(ctx, query,
		string(scope.Type), scope.ID, creatorID, creatorName,
		nullIfEmpty(fields.AssigneeID), nullIfEmpty(fields.AssigneeName),
		content, string(priority), nullIfEmpty(fields.DueDate), now, now)
	if err != nil {
		return Task{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Task{}, err
	}
	return Task{
		ID:           id,
		Scope:        scope,
		CreatorID:    creatorID,
		CreatorName:  creatorName,
		AssigneeID:   fields.AssigneeID,
		AssigneeName: fields.AssigneeName,
		Content:      content,
		Priority:     priority,
		Status:       StatusPending,
		DueDate:      fields.DueDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *Store) List(ctx context.Context, scope types.Scope, filter Filter) ([]Task, error) {
	where := `scope_type = ? AND scope_id = ?`
	args := []interface{}{string(scope.Type), scope.ID}
	switch filter {
	case "", FilterAll:
	case FilterPending:
		where += ` AND status = 'pending'`
	case FilterCompleted:
		where += ` AND status = 'completed'`
	case FilterOverdue:
		where += ` AND status = 'pending' AND due_date IS NOT NULL AND due_date != '' AND due_date < ?`
		args = append(args, today())
	default:
		return nil, fmt.Errorf("task: invalid filter: %s", filter)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + where + ` ` + listOrder
	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Complete transitions a pending task to completed and appends the audit
// interaction inside the same transaction. Completing twice reports
// ErrAlreadyCompleted without touching completed_at.
func (s *Store) Complete(ctx context.Context, taskID int64, actorID string, actorName string) (Task, error) {
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return Task{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	if t.Status == StatusCompleted {
		return t, ErrAlreadyCompleted
	}

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'completed', completed_at = ?, updated_at = ? WHERE id = ?`,
		now, now, taskID); err != nil {
		return Task{}, err
	}

	message := fmt.Sprintf("completed by %s", actorName)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO task_interactions (task_id, user_id, action_type, message, created_at) VALUES (?, ?, 'complete', ?, ?)`,
		taskID, actorID, message, now); err != nil {
		return Task{}, err
	}

	if err := tx.Commit(); err != nil {
		return Task{}, err
	}

	t.Status = StatusCompleted
	t.CompletedAt = now
	t.UpdatedAt = now
	return t, nil
}

// CrossScopeList applies the role filter query-side so no other scope's task
// content is materialized, even transiently.
func (s *Store) CrossScopeList(ctx context.Context, actorID string, actorRole permission.Role, actorDepartment string) ([]Task, error) {
	var (
		where string
		args  []interface{}
	)
	switch actorRole {
	case permission.RoleSuperAdmin:
		where = `1 = 1`
	case permission.RoleDeptManager:
		var scopes []string
		if s.resolver != nil {
			scopes = s.resolver.DepartmentScopes(actorDepartment)
		}
		if len(scopes) == 0 {
			return []Task{}, nil
		}
		placeholders := make([]string, len(scopes))
		for i, key := range scopes {
			placeholders[i] = "?"
			args = append(args, key)
		}
		where = `scope_type || ':' || scope_id IN (` + strings.Join(placeholders, ", ") + `)`
	default:
		where = `(creator_id = ? OR assignee_id = ?)`
		args = append(args, actorID, actorID)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + where + ` ` + listOrder
	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListOverdueAll returns pending tasks past due across every scope, for the
// scheduled sweep. Read-only.
func (s *Store) ListOverdueAll(ctx context.Context) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'pending' AND due_date IS NOT NULL AND due_date != '' AND due_date < ? ` + listOrder
	rows, err := s.db.Conn().QueryContext(ctx, query, today())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Stats is derived from the full scope listing, never stored.
func (s *Store) Stats(ctx context.Context, scope types.Scope) (Stats, error) {
	items, err := s.List(ctx, scope, FilterAll)
	if err != nil {
		return Stats{}, err
	}
	todayText := today()
	stats := Stats{Total: len(items)}
	for _, t := range items {
		switch t.Status {
		case StatusCompleted:
			stats.Completed++
		default:
			stats.Pending++
			if t.DueDate != "" && t.DueDate < todayText {
				stats.Overdue++
			}
			if t.Priority == PriorityHigh {
				stats.HighPriorityPending++
			}
		}
	}
	if stats.Total > 0 {
		stats.CompletionRate = int(float64(stats.Completed)/float64(stats.Total)*100 + 0.5)
	}
	return stats, nil
}

func (s *Store) Interactions(ctx context.Context, taskID int64) ([]Interaction, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT id, task_id, user_id, action_type, message, created_at
		 FROM task_interactions WHERE task_id = ? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Interaction, 0)
	for rows.Next() {
		var it Interaction
		if err := rows.Scan(&it.ID, &it.TaskID, &it.UserID, &it.ActionType, &it.Message, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (Task, error) {
	var (
		t         Task
		scopeType string
	)
	if err := row.Scan(
		&t.ID,
		&scopeType,
		&t.Scope.ID,
		&t.CreatorID,
		&t.CreatorName,
		&t.AssigneeID,
		&t.AssigneeName,
		&t.Content,
		&t.Priority,
		&t.Status,
		&t.DueDate,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.CompletedAt,
	); err != nil {
		return Task{}, err
	}
	t.Scope.Type = types.ScopeType(scopeType)
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	items := make([]Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func today() string {
	return time.Now().Format("2006-01-02")
}

func nullIfEmpty(v string) interface{} {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
