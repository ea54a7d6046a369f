package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityRank(t *testing.T) {
	assert.Less(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Less(t, PriorityMedium.Rank(), PriorityLow.Rank())
	assert.Greater(t, Priority("bogus").Rank(), PriorityLow.Rank())
}

func TestNormalize(t *testing.T) {
	task := Task{Status: StatusCompleted}
	task.Normalize()
	assert.True(t, task.Completed)

	task.Status = StatusPending
	task.Normalize()
	assert.False(t, task.Completed)
}

func TestIsOverdue(t *testing.T) {
	today := "2026-08-31"

	assert.True(t, Task{Date: "2026-08-30", Status: StatusPending}.IsOverdue(today))
	assert.False(t, Task{Date: "2026-08-31", Status: StatusPending}.IsOverdue(today))
	assert.False(t, Task{Date: "2026-08-30", Status: StatusCompleted}.IsOverdue(today))
	// Recurring tasks regenerate instead of going overdue.
	assert.False(t, Task{Date: "2026-08-30", Status: StatusPending, Recurring: true}.IsOverdue(today))
	assert.False(t, Task{Status: StatusPending}.IsOverdue(today))
}

func TestCompletedBefore(t *testing.T) {
	today := "2026-08-31"

	assert.True(t, Task{CompletedAt: "2026-08-30T22:00:00Z"}.CompletedBefore(today))
	assert.False(t, Task{CompletedAt: "2026-08-31T01:00:00Z"}.CompletedBefore(today))
	assert.False(t, Task{}.CompletedBefore(today))
	assert.False(t, Task{CompletedAt: "not-a-timestamp"}.CompletedBefore(today))
}

func TestSortTasks(t *testing.T) {
	today := "2026-08-31"
	tasks := []Task{
		{ID: "later", Date: "2026-09-05", Priority: PriorityHigh, Status: StatusPending},
		{ID: "today-low", Date: today, Priority: PriorityLow, Status: StatusPending},
		{ID: "overdue", Date: "2026-08-29", Priority: PriorityLow, Status: StatusPending},
		{ID: "today-high", Date: today, Priority: PriorityHigh, Status: StatusPending},
		{ID: "soon", Date: "2026-09-01", Priority: PriorityMedium, Status: StatusPending},
	}

	SortTasks(tasks, today)

	got := make([]string, len(tasks))
	for i, task := range tasks {
		got[i] = task.ID
	}
	assert.Equal(t, []string{"overdue", "today-high", "today-low", "soon", "later"}, got)
}

func TestSortTasksStableForTies(t *testing.T) {
	today := "2026-08-31"
	tasks := []Task{
		{ID: "first", Date: "2026-09-01", Priority: PriorityMedium},
		{ID: "second", Date: "2026-09-01", Priority: PriorityMedium},
	}

	SortTasks(tasks, today)

	assert.Equal(t, "first", tasks[0].ID)
	assert.Equal(t, "second", tasks[1].ID)
}

func TestComputeStats(t *testing.T) {
	today := "2026-08-31"
	tasks := []Task{
		{Date: today, Status: StatusPending},
		{Date: "2026-08-20", Status: StatusPending},
		{Date: "2026-08-20", Status: StatusCompleted},
		{Date: today, Status: StatusFailed},
	}

	stats := ComputeStats(tasks, today)

	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Overdue)
}

func TestNewID(t *testing.T) {
	a := NewID()
	b := NewID()
	require.Len(t, a, 24)
	assert.NotEqual(t, a, b)
}

func TestFormatHelpers(t *testing.T) {
	at := time.Date(2026, 8, 31, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "2026-08-31", FormatDate(at))
	assert.Equal(t, "2026-08-31T15:04:05Z", NowISO(at))
}

func TestIdentityRefFallsBackToEmailLocalPart(t *testing.T) {
	u := User{ID: "u1", Email: "sam@example.com"}
	identity := u.Identity()
	assert.Equal(t, "sam", identity.DisplayName)
	assert.Equal(t, UserRef{ID: "u1", Name: "sam"}, identity.Ref())
}
