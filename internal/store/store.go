// Package store persists monitoring tasks, their scheduled runs and the
// records each run produced.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"pagesentry/internal/model"
)

var (
	ErrNotFound   = errors.New("task not found")
	ErrNotPending = errors.New("task is not pending approval")
)

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskActive  TaskStatus = "active"
	TaskPaused  TaskStatus = "paused"
)

type SiteHealth string

const (
	SiteHealthy SiteHealth = "healthy"
	SiteFailed  SiteHealth = "failed"
)

type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// Task is a monitored (url, instruction) pair.
type Task struct {
	ID                    uuid.UUID               `json:"id"`
	URL                   string                  `json:"url"`
	Instruction           string                  `json:"instruction"`
	ScheduleIntervalHours int                     `json:"scheduleIntervalHours"`
	Status                TaskStatus              `json:"status"`
	Schema                *model.ExtractionSchema `json:"schema,omitempty"`
	Validation            json.RawMessage         `json:"validation,omitempty"`
	SiteHealth            SiteHealth              `json:"siteHealth"`
	LastRunAt             *time.Time              `json:"lastRunAt,omitempty"`
	CreatedAt             time.Time               `json:"createdAt"`
	UpdatedAt             time.Time               `json:"updatedAt"`
}

// Due reports whether the task should run at now. Tasks that never ran are
// always due.
func (t Task) Due(now time.Time) bool {
	if t.Status != TaskActive {
		return false
	}
	if t.LastRunAt == nil {
		return true
	}
	interval := time.Duration(t.ScheduleIntervalHours) * time.Hour
	return !t.LastRunAt.Add(interval).After(now)
}

// PendingTask is a validated task awaiting human approval.
type PendingTask struct {
	URL                   string
	Instruction           string
	ScheduleIntervalHours int
	Schema                *model.ExtractionSchema
	Validation            any
}

// RunRecord is the outcome of one scheduled run.
type RunRecord struct {
	ID          uuid.UUID     `json:"id"`
	TaskID      uuid.UUID     `json:"taskId"`
	Status      RunStatus     `json:"status"`
	StartedAt   time.Time     `json:"startedAt"`
	Duration    time.Duration `json:"duration"`
	ResultCount int           `json:"resultCount"`
	Error       string        `json:"error,omitempty"`
}

// TaskStore is the persistence contract of the pipeline.
type TaskStore interface {
	CreatePendingTask(ctx context.Context, t PendingTask) (Task, error)
	// ActivateTask moves a pending task to active. A nil schema keeps the
	// one stored at validation time.
	ActivateTask(ctx context.Context, id uuid.UUID, schema *model.ExtractionSchema) (Task, error)
	ListActiveTasks(ctx context.Context) ([]Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (Task, error)
	// RecordRun stores the run and sets the task's last run time.
	RecordRun(ctx context.Context, run RunRecord) (RunRecord, error)
	SaveResults(ctx context.Context, taskID, runID uuid.UUID, results []model.ScrapeResult) error
	SetSiteHealth(ctx context.Context, id uuid.UUID, health SiteHealth) error
	// DeleteRunsBefore removes runs (and their results) started before
	// cutoff and returns how many runs were removed.
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

func defaultInterval(hours int) int {
	if hours <= 0 {
		return 24
	}
	return hours
}
