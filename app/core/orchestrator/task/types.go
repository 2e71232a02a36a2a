package task

import "minuteman/app/pkg/types"

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ParsePriority maps unknown values to normal.
func ParsePriority(raw string) Priority {
	switch Priority(raw) {
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

type Filter string

const (
	FilterAll       Filter = "all"
	FilterPending   Filter = "pending"
	FilterCompleted Filter = "completed"
	FilterOverdue   Filter = "overdue"
)

type Task struct {
	ID           int64
	Scope        types.Scope
	CreatorID    string
	CreatorName  string
	AssigneeID   string
	AssigneeName string
	Content      string
	Priority     Priority
	Status       Status
	DueDate      string // calendar date "2006-01-02", empty when unset
	CreatedAt    int64
	UpdatedAt    int64
	CompletedAt  int64 // zero until completion
}

type Interaction struct {
	ID         int64
	TaskID     int64
	UserID     string
	ActionType string
	Message    string
	CreatedAt  int64
}

type Stats struct {
	Total               int
	Completed           int
	Pending             int
	Overdue             int
	HighPriorityPending int
	CompletionRate      int // percent, 0 when Total is 0
}

// CreateFields carries the optional attributes of a new task.
type CreateFields struct {
	Content      string
	AssigneeID   string
	AssigneeName string
	Priority     Priority
	DueDate      string
}
