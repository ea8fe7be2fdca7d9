package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"pagesentry/internal/model"
)

func sampleSchema() *model.ExtractionSchema {
	return &model.ExtractionSchema{Selectors: []model.Selector{{Field: "container", Selector: "li.item"}}}
}

func TestTaskDue(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-2 * time.Hour)
	old := now.Add(-25 * time.Hour)

	cases := []struct {
		name string
		task Task
		want bool
	}{
		{"never ran", Task{Status: TaskActive, ScheduleIntervalHours: 24}, true},
		{"ran recently", Task{Status: TaskActive, ScheduleIntervalHours: 24, LastRunAt: &recent}, false},
		{"interval elapsed", Task{Status: TaskActive, ScheduleIntervalHours: 24, LastRunAt: &old}, true},
		{"pending never due", Task{Status: TaskPending, ScheduleIntervalHours: 1}, false},
		{"paused never due", Task{Status: TaskPaused, ScheduleIntervalHours: 1, LastRunAt: &old}, false},
	}
	for _, tc := range cases {
		if got := tc.task.Due(now); got != tc.want {
			t.Fatalf("%s: Due = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestMemoryStore_PendingThenActive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	task, err := s.CreatePendingTask(ctx, PendingTask{
		URL:         "https://shop.test/",
		Instruction: "get prices",
		Schema:      sampleSchema(),
		Validation:  map[string]string{"status": "success"},
	})
	if err != nil {
		t.Fatalf("CreatePendingTask error: %v", err)
	}
	if task.Status != TaskPending || task.ScheduleIntervalHours != 24 {
		t.Fatalf("unexpected new task %+v", task)
	}
	if string(task.Validation) != `{"status":"success"}` {
		t.Fatalf("unexpected validation %s", task.Validation)
	}

	active, _ := s.ListActiveTasks(ctx)
	if len(active) != 0 {
		t.Fatalf("pending task must not be listed as active")
	}

	got, err := s.ActivateTask(ctx, task.ID, nil)
	if err != nil {
		t.Fatalf("ActivateTask error: %v", err)
	}
	if got.Status != TaskActive || got.Schema == nil || got.Schema.Container().Selector != "li.item" {
		t.Fatalf("expected activated task to keep schema, got %+v", got)
	}

	if _, err := s.ActivateTask(ctx, task.ID, nil); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending on second activation, got %v", err)
	}
	if _, err := s.ActivateTask(ctx, uuid.New(), nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	active, _ = s.ListActiveTasks(ctx)
	if len(active) != 1 {
		t.Fatalf("expected one active task, got %d", len(active))
	}
}

func TestMemoryStore_RunsAndRetention(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	task, _ := s.CreatePendingTask(ctx, PendingTask{URL: "https://a.test", Instruction: "x", Schema: sampleSchema()})
	_, _ = s.ActivateTask(ctx, task.ID, nil)

	old := time.Now().Add(-40 * 24 * time.Hour)
	fresh := time.Now()

	oldRun, err := s.RecordRun(ctx, RunRecord{TaskID: task.ID, Status: RunSuccess, StartedAt: old, ResultCount: 1})
	if err != nil {
		t.Fatalf("RecordRun error: %v", err)
	}
	if err := s.SaveResults(ctx, task.ID, oldRun.ID, []model.ScrapeResult{{Title: "a"}}); err != nil {
		t.Fatalf("SaveResults error: %v", err)
	}
	newRun, _ := s.RecordRun(ctx, RunRecord{TaskID: task.ID, Status: RunFailed, StartedAt: fresh, Error: "boom"})

	got, _ := s.GetTask(ctx, task.ID)
	if got.LastRunAt == nil || !got.LastRunAt.Equal(fresh) {
		t.Fatalf("expected last run to track latest run, got %v", got.LastRunAt)
	}

	n, err := s.DeleteRunsBefore(ctx, time.Now().Add(-30*24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("DeleteRunsBefore = %d, %v", n, err)
	}
	runs := s.Runs(task.ID)
	if len(runs) != 1 || runs[0].ID != newRun.ID {
		t.Fatalf("expected only the fresh run to remain, got %+v", runs)
	}
	if len(s.Results(oldRun.ID)) != 0 {
		t.Fatalf("expected results of deleted run to be removed")
	}

	if _, err := s.RecordRun(ctx, RunRecord{TaskID: uuid.New(), StartedAt: fresh}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown task, got %v", err)
	}
}

func TestMemoryStore_SiteHealth(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	task, _ := s.CreatePendingTask(ctx, PendingTask{URL: "https://a.test", Instruction: "x"})

	if err := s.SetSiteHealth(ctx, task.ID, SiteFailed); err != nil {
		t.Fatalf("SetSiteHealth error: %v", err)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.SiteHealth != SiteFailed {
		t.Fatalf("expected failed health, got %s", got.SiteHealth)
	}
	if err := s.SetSiteHealth(ctx, uuid.New(), SiteHealthy); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
