package cache

import (
	"sync"

	"taskmaster/internal/model"
)

// Cache is the in-memory mirror of the remote task collection. The sync
// engine is its only writer; readers always get copies, and a snapshot is
// stale the moment it is returned.
type Cache struct {
	mu    sync.RWMutex
	tasks map[string]model.Task
	order []string
}

func New() *Cache {
	return &Cache{
		tasks: make(map[string]model.Task),
	}
}

// Upsert inserts a task or replaces the existing one with the same id.
// Insertion order is preserved for existing ids.
func (c *Cache) Upsert(t model.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tasks[t.ID]; !ok {
		c.order = append(c.order, t.ID)
	}
	c.tasks[t.ID] = t
}

// Remove deletes a task by id; removing an absent id is a no-op.
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tasks[id]; !ok {
		return
	}
	delete(c.tasks, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Find returns a copy of the task with the given id.
func (c *Cache) Find(id string) (model.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[id]
	return t, ok
}

// All returns a copy of every task in insertion order.
func (c *Cache) All() []model.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tasks := make([]model.Task, 0, len(c.order))
	for _, id := range c.order {
		tasks = append(tasks, c.tasks[id])
	}
	return tasks
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tasks)
}

// ReplaceAll swaps the whole cache contents for a fresh load.
func (c *Cache) ReplaceAll(tasks []model.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = make(map[string]model.Task, len(tasks))
	c.order = c.order[:0]
	for _, t := range tasks {
		if _, ok := c.tasks[t.ID]; !ok {
			c.order = append(c.order, t.ID)
		}
		c.tasks[t.ID] = t
	}
}
