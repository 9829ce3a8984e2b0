package service

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
)

// Reconciler repairs a room after a partially failed send.
type Reconciler interface {
	Reconcile(ctx context.Context, chatID uuid.UUID, messageID *uuid.UUID) error
}

// TaskProcessor polls for ready tasks and executes them. It processes
// reconcile_message tasks queued by the message pipeline.
type TaskProcessor struct {
	store      registrystore.ChatStore
	reconciler Reconciler
	interval   time.Duration
	retryDelay time.Duration
	batchSize  int
}

// NewTaskProcessor creates a new background task processor. Zero config values
// fall back to a 30s interval, a 5m retry delay and batches of 100.
func NewTaskProcessor(store registrystore.ChatStore, reconciler Reconciler, cfg *config.Config) *TaskProcessor {
	p := &TaskProcessor{
		store:      store,
		reconciler: reconciler,
		interval:   30 * time.Second,
		retryDelay: 5 * time.Minute,
		batchSize:  100,
	}
	if cfg != nil {
		if cfg.TaskInterval > 0 {
			p.interval = cfg.TaskInterval
		}
		if cfg.TaskRetryDelay > 0 {
			p.retryDelay = cfg.TaskRetryDelay
		}
		if cfg.TaskBatchSize > 0 {
			p.batchSize = cfg.TaskBatchSize
		}
	}
	return p
}

// Start begins the periodic task processing loop. Returns when ctx is cancelled.
func (p *TaskProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch claims and runs one batch of ready tasks, returning how many succeeded.
func (p *TaskProcessor) ProcessBatch(ctx context.Context) int {
	tasks, err := p.store.ClaimReadyTasks(ctx, p.batchSize)
	if err != nil {
		log.Error("TaskProcessor: claim tasks failed", "err", err)
		return 0
	}
	done := 0
	for _, task := range tasks {
		if err := p.executeTask(ctx, task.TaskType, task.TaskBody); err != nil {
			log.Error("TaskProcessor: task failed", "taskId", task.ID, "type", task.TaskType, "retries", task.RetryCount, "err", err)
			if fErr := p.store.FailTask(ctx, task.ID, err.Error(), p.retryDelay); fErr != nil {
				log.Error("TaskProcessor: fail task record failed", "taskId", task.ID, "err", fErr)
			}
			continue
		}
		if dErr := p.store.DeleteTask(ctx, task.ID); dErr != nil {
			log.Error("TaskProcessor: delete task failed", "taskId", task.ID, "err", dErr)
			continue
		}
		done++
	}
	return done
}

func (p *TaskProcessor) executeTask(ctx context.Context, taskType string, body map[string]any) error {
	switch taskType {
	case model.TaskTypeReconcileMessage:
		return p.executeReconcile(ctx, body)
	default:
		return fmt.Errorf("unknown task type: %s", taskType)
	}
}

func (p *TaskProcessor) executeReconcile(ctx context.Context, body map[string]any) error {
	chatIDStr, ok := body["chatId"].(string)
	if !ok {
		return fmt.Errorf("missing or invalid chatId in task body")
	}
	chatID, err := uuid.Parse(chatIDStr)
	if err != nil {
		return fmt.Errorf("invalid chatId %q: %w", chatIDStr, err)
	}
	var messageID *uuid.UUID
	if raw, ok := body["messageId"].(string); ok && raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid messageId %q: %w", raw, err)
		}
		messageID = &id
	}
	return p.reconciler.Reconcile(ctx, chatID, messageID)
}
