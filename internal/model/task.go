package model

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// DateLayout is the wire format for task due dates.
const DateLayout = "2006-01-02"

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities for sorting; high sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// UserRef is an embedded snapshot of the user who touched a task. It is a
// copy, not a live reference, so task history survives profile changes.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Task is the shared task document. IDs are client-generated so a task can be
// inserted into the local cache optimistically before the store round-trip.
type Task struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Date               string   `json:"date"`
	Notes              string   `json:"notes,omitempty"`
	Priority           Priority `json:"priority"`
	Status             Status   `json:"status"`
	Completed          bool     `json:"completed"`
	Recurring          bool     `json:"recurring,omitempty"`
	ParentTaskID       string   `json:"parentTaskId,omitempty"`
	RecurrenceCount    int      `json:"recurrenceCount,omitempty"`
	NextOccurrenceDate string   `json:"nextOccurrenceDate,omitempty"`
	CreatedAt          string   `json:"createdAt"`
	LastUpdated        string   `json:"lastUpdated"`
	CreatedBy          UserRef  `json:"createdBy"`
	LastUpdatedBy      UserRef  `json:"lastUpdatedBy"`
	CompletedAt        string   `json:"completedAt,omitempty"`
}

// NewID generates a client-side task identifier.
func NewID() string {
	b := make([]byte, 12)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// FormatDate renders a calendar date in the task wire format.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// NowISO renders the current instant as an ISO-8601 timestamp.
func NowISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Normalize keeps the denormalized completed flag consistent with status.
func (t *Task) Normalize() {
	t.Completed = t.Status == StatusCompleted
}

// SameName compares task names case-insensitively.
func (t Task) SameName(name string) bool {
	return strings.EqualFold(t.Name, name)
}

// IsOverdue reports whether a task is past due. Recurring tasks are never
// overdue; they regenerate instead.
func (t Task) IsOverdue(today string) bool {
	return !t.Recurring && t.Date != "" && t.Date < today && t.Status != StatusCompleted
}

// CompletedBefore reports whether the task was completed on a calendar day
// strictly before today.
func (t Task) CompletedBefore(today string) bool {
	if t.CompletedAt == "" {
		return false
	}
	at, err := time.Parse(time.RFC3339, t.CompletedAt)
	if err != nil {
		return false
	}
	return FormatDate(at) < today
}

// SortTasks orders tasks for display: overdue first, then today's tasks,
// then by date ascending, then by priority.
func SortTasks(tasks []Task, today string) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]

		aOverdue, bOverdue := a.IsOverdue(today), b.IsOverdue(today)
		if aOverdue != bOverdue {
			return aOverdue
		}

		aToday, bToday := a.Date == today, b.Date == today
		if aToday != bToday {
			return aToday
		}

		if a.Date != b.Date {
			return a.Date < b.Date
		}

		return a.Priority.Rank() < b.Priority.Rank()
	})
}

// Stats is a dashboard snapshot computed from the local cache.
type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
	Overdue   int `json:"overdue"`
}

// ComputeStats tallies the dashboard counters for a set of tasks.
func ComputeStats(tasks []Task, today string) Stats {
	var s Stats
	s.Total = len(tasks)
	for _, t := range tasks {
		switch t.Status {
		case StatusCompleted:
			s.Completed++
		case StatusPending:
			s.Pending++
		}
		if t.IsOverdue(today) {
			s.Overdue++
		}
	}
	return s
}
