package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"taskmaster/internal/model"
	"taskmaster/pkg/metrics"
	"taskmaster/pkg/mq"
	"taskmaster/pkg/util"
)

// ChangeRoutingKey is the routing key task change batches are published on.
const ChangeRoutingKey = "task.changed"

const dedupStream = "task-feed"

// changeBatch is the wire envelope for one batch of change events.
type changeBatch struct {
	BatchID string        `json:"batch_id"`
	Events  []ChangeEvent `json:"events"`
}

// PostgresStore keeps task documents as JSONB rows and publishes every
// mutation as a change batch on the task-events exchange. Subscribers,
// including the writing client itself, receive those batches as the
// real-time feed.
type PostgresStore struct {
	db        *pgxpool.Pool
	publisher *mq.Publisher
	mqURL     string
	queue     string
	deduper   *util.Deduper
	logger    *zap.Logger
}

func NewPostgresStore(db *pgxpool.Pool, publisher *mq.Publisher, mqURL, queue string, deduper *util.Deduper, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		db:        db,
		publisher: publisher,
		mqURL:     mqURL,
		queue:     queue,
		deduper:   deduper,
		logger:    logger,
	}
}

// EnsureSchema creates the tasks table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS tasks (
            id         TEXT PRIMARY KEY,
            doc        JSONB NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )
    `)
	if err != nil {
		return fmt.Errorf("failed to create tasks table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Task, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("get", time.Since(start)) }()

	var doc []byte
	err := s.db.QueryRow(ctx, `SELECT doc FROM tasks WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("Failed to get task", zap.String("task_id", id), zap.Error(err))
		return nil, err
	}

	var t model.Task
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", id, err)
	}
	return &t, nil
}

func (s *PostgresStore) GetAll(ctx context.Context) ([]model.Task, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("get_all", time.Since(start)) }()

	rows, err := s.db.Query(ctx, `SELECT doc FROM tasks ORDER BY doc->>'createdAt'`)
	if err != nil {
		s.logger.Error("Failed to query tasks", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

func (s *PostgresStore) Set(ctx context.Context, task model.Task) error {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("set", time.Since(start)) }()

	doc, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", task.ID, err)
	}

	// xmax = 0 distinguishes a fresh insert from a conflict update, which
	// decides whether the feed sees this write as added or modified.
	var inserted bool
	err = s.db.QueryRow(ctx, `
        INSERT INTO tasks (id, doc) VALUES ($1, $2)
        ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
        RETURNING (xmax = 0) AS inserted
    `, task.ID, doc).Scan(&inserted)
	if err != nil {
		s.logger.Error("Failed to upsert task",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
		return err
	}

	changeType := ChangeModified
	if inserted {
		changeType = ChangeAdded
	}
	s.publishChange(ChangeEvent{Type: changeType, ID: task.ID, Task: &task})
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("delete", time.Since(start)) }()

	tag, err := s.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		s.logger.Error("Failed to delete task", zap.String("task_id", id), zap.Error(err))
		return err
	}

	// Deleting an absent document acks without an event, like any
	// idempotent document store.
	if tag.RowsAffected() > 0 {
		s.publishChange(ChangeEvent{Type: ChangeRemoved, ID: id})
	}
	return nil
}

func (s *PostgresStore) QueryByStatus(ctx context.Context, status model.Status) ([]model.Task, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("query", time.Since(start)) }()

	rows, err := s.db.Query(ctx, `SELECT doc FROM tasks WHERE doc->>'status' = $1`, string(status))
	if err != nil {
		s.logger.Error("Failed to query tasks by status",
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

// Subscribe binds a fresh consumer to the change routing key. The returned
// handle closes the consumer; a later Subscribe opens a new one.
func (s *PostgresStore) Subscribe(onBatch func([]ChangeEvent), onError func(error)) (Unsubscribe, error) {
	consumer, err := mq.NewConsumer(s.mqURL, s.queue, ChangeRoutingKey, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open change feed: %w", err)
	}

	consumer.SetHandler(func(ctx context.Context, data json.RawMessage) error {
		var batch changeBatch
		if err := json.Unmarshal(data, &batch); err != nil {
			// A malformed batch is not retryable; ack and drop it.
			s.logger.Error("Failed to decode change batch", zap.Error(err))
			return nil
		}

		if s.deduper != nil && batch.BatchID != "" {
			if !s.deduper.AcquireOnce(ctx, dedupStream, batch.BatchID) {
				return nil
			}
		}

		onBatch(batch.Events)
		return nil
	})

	go func() {
		if err := consumer.StartConsuming(); err != nil {
			onError(err)
		}
	}()

	return func() { consumer.Close() }, nil
}

func (s *PostgresStore) publishChange(events ...ChangeEvent) {
	batch := changeBatch{
		BatchID: model.NewID(),
		Events:  events,
	}
	if err := s.publisher.Publish(ChangeRoutingKey, batch); err != nil {
		// The write itself succeeded; a lost event only delays other
		// clients until their next full load.
		s.logger.Error("Failed to publish change batch",
			zap.String("batch_id", batch.BatchID),
			zap.Int("events", len(events)),
			zap.Error(err),
		)
	}
}

func scanTasks(rows pgx.Rows) ([]model.Task, error) {
	tasks := []model.Task{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var t model.Task
		if err := json.Unmarshal(doc, &t); err != nil {
			return nil, fmt.Errorf("failed to decode task document: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
