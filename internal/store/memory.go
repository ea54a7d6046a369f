package store

import (
	"context"
	"sync"

	"taskmaster/internal/model"
)

// MemoryStore is an in-memory TaskStore. It backs tests and serves as the
// reference implementation of the store contract. Writes do not echo
// automatically; remote activity is injected with Emit, which keeps tests in
// control of when the feed fires relative to local operations.
type MemoryStore struct {
	mu         sync.RWMutex
	docs       map[string]model.Task
	order      []string
	subs        map[int]subscriber
	nextSub     int
	failErr     error
	failDelErr  error
	failDelByID map[string]error
}

type subscriber struct {
	onBatch func([]ChangeEvent)
	onError func(error)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:        make(map[string]model.Task),
		subs:        make(map[int]subscriber),
		failDelByID: make(map[string]error),
	}
}

// SetFailure forces every subsequent store operation to fail with err.
// Pass nil to clear.
func (s *MemoryStore) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// SetDeleteFailure makes only Delete fail with err; reads keep working.
func (s *MemoryStore) SetDeleteFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDelErr = err
}

// SetDeleteFailureFor makes Delete fail with err for one id only.
func (s *MemoryStore) SetDeleteFailureFor(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDelByID[id] = err
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	t, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := t
	return &copied, nil
}

func (s *MemoryStore) GetAll(ctx context.Context) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	tasks := make([]model.Task, 0, len(s.order))
	for _, id := range s.order {
		tasks = append(tasks, s.docs[id])
	}
	return tasks, nil
}

func (s *MemoryStore) Set(ctx context.Context, task model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	if _, ok := s.docs[task.ID]; !ok {
		s.order = append(s.order, task.ID)
	}
	s.docs[task.ID] = task
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	if s.failDelErr != nil {
		return s.failDelErr
	}
	if err := s.failDelByID[id]; err != nil {
		return err
	}
	if _, ok := s.docs[id]; !ok {
		return nil
	}
	delete(s.docs, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) QueryByStatus(ctx context.Context, status model.Status) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	tasks := []model.Task{}
	for _, id := range s.order {
		if t := s.docs[id]; t.Status == status {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func (s *MemoryStore) Subscribe(onBatch func([]ChangeEvent), onError func(error)) (Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = subscriber{onBatch: onBatch, onError: onError}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}, nil
}

// Emit delivers a change batch to every active subscriber, simulating
// remote activity or the echo of a prior write.
func (s *MemoryStore) Emit(events ...ChangeEvent) {
	s.mu.RLock()
	subs := make([]subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.onBatch(events)
	}
}

// EmitError delivers a subscription-level error to every subscriber.
func (s *MemoryStore) EmitError(err error) {
	s.mu.RLock()
	subs := make([]subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.onError(err)
	}
}

// SubscriberCount reports how many subscriptions are active.
func (s *MemoryStore) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Has reports whether a document exists, bypassing failure injection.
func (s *MemoryStore) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[id]
	return ok
}
