package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pagesentry/internal/model"
)

// MemoryStore is an in-process TaskStore for tests and the CLI.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	tasks   map[uuid.UUID]Task
	runs    map[uuid.UUID]RunRecord
	results map[uuid.UUID][]model.ScrapeResult // keyed by run id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:     time.Now,
		tasks:   make(map[uuid.UUID]Task),
		runs:    make(map[uuid.UUID]RunRecord),
		results: make(map[uuid.UUID][]model.ScrapeResult),
	}
}

func (m *MemoryStore) CreatePendingTask(_ context.Context, p PendingTask) (Task, error) {
	var validation json.RawMessage
	if p.Validation != nil {
		b, err := json.Marshal(p.Validation)
		if err != nil {
			return Task{}, err
		}
		validation = b
	}

	now := m.now().UTC()
	t := Task{
		ID:                    uuid.New(),
		URL:                   p.URL,
		Instruction:           p.Instruction,
		ScheduleIntervalHours: defaultInterval(p.ScheduleIntervalHours),
		Status:                TaskPending,
		Schema:                p.Schema,
		Validation:            validation,
		SiteHealth:            SiteHealthy,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return t, nil
}

func (m *MemoryStore) ActivateTask(_ context.Context, id uuid.UUID, schema *model.ExtractionSchema) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	if t.Status != TaskPending {
		return Task{}, ErrNotPending
	}
	if schema != nil {
		t.Schema = schema
	}
	t.Status = TaskActive
	t.UpdatedAt = m.now().UTC()
	m.tasks[id] = t
	return t, nil
}

func (m *MemoryStore) ListActiveTasks(_ context.Context) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []Task{}
	for _, t := range m.tasks {
		if t.Status == TaskActive {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GetTask(_ context.Context, id uuid.UUID) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t, nil
}

func (m *MemoryStore) RecordRun(_ context.Context, run RunRecord) (RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[run.TaskID]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	started := run.StartedAt
	t.LastRunAt = &started
	t.UpdatedAt = m.now().UTC()
	m.tasks[t.ID] = t
	m.runs[run.ID] = run
	return run, nil
}

func (m *MemoryStore) SaveResults(_ context.Context, taskID, runID uuid.UUID, results []model.ScrapeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[taskID]; !ok {
		return ErrNotFound
	}
	m.results[runID] = append([]model.ScrapeResult(nil), results...)
	return nil
}

func (m *MemoryStore) SetSiteHealth(_ context.Context, id uuid.UUID, health SiteHealth) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.SiteHealth = health
	m.tasks[id] = t
	return nil
}

func (m *MemoryStore) DeleteRunsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, run := range m.runs {
		if run.StartedAt.Before(cutoff) {
			delete(m.runs, id)
			delete(m.results, id)
			n++
		}
	}
	return n, nil
}

// Runs returns the recorded runs of a task, oldest first.
func (m *MemoryStore) Runs(taskID uuid.UUID) []RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []RunRecord
	for _, r := range m.runs {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Results returns the records stored for a run.
func (m *MemoryStore) Results(runID uuid.UUID) []model.ScrapeResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ScrapeResult(nil), m.results[runID]...)
}
