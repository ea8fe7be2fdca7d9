package jobs

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"pagesentry/internal/cache"
	"pagesentry/internal/config"
	"pagesentry/internal/metrics"
	"pagesentry/internal/model"
	"pagesentry/internal/store"
)

// Scraper runs a stored schema against a page. *extract.Runner satisfies it.
type Scraper interface {
	Run(ctx context.Context, url string, s model.ExtractionSchema) ([]model.ScrapeResult, error)
}

// RunSummary reports what one RunOnce pass did.
type RunSummary struct {
	Due       int `json:"due"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Rescraper re-runs active tasks on their schedule. Tasks are processed
// one after another; each task's pipeline is itself sequential.
type Rescraper struct {
	cfg      *config.Config
	store    store.TaskStore
	scraper  Scraper
	cache    cache.Cache
	notifier Notifier
	logger   *slog.Logger
}

// NewRescraper wires a Rescraper. A nil notifier logs notifications and a
// nil cache skips cache expiry during retention.
func NewRescraper(cfg *config.Config, st store.TaskStore, sc Scraper, c cache.Cache, n Notifier, logger *slog.Logger) *Rescraper {
	if logger == nil {
		logger = slog.Default()
	}
	if n == nil {
		n = LogNotifier{Logger: logger}
	}
	return &Rescraper{cfg: cfg, store: st, scraper: sc, cache: c, notifier: n, logger: logger}
}

// Start polls for due tasks until ctx is cancelled, running retention
// cleanup on its own interval. Callers typically run this in its own
// goroutine.
func (r *Rescraper) Start(ctx context.Context) {
	pollInterval := time.Duration(r.cfg.Worker.PollIntervalMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	cleanupInterval := time.Duration(r.cfg.Worker.RetentionIntervalMinutes) * time.Minute
	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastCleanup time.Time
	for {
		now := time.Now().UTC()
		if lastCleanup.IsZero() || now.Sub(lastCleanup) >= cleanupInterval {
			r.Cleanup(ctx, now)
			lastCleanup = now
		}
		if _, err := r.RunOnce(ctx, now); err != nil {
			r.logger.Error("rescrape pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce runs every active task that is due at now.
func (r *Rescraper) RunOnce(ctx context.Context, now time.Time) (RunSummary, error) {
	var sum RunSummary
	tasks, err := r.store.ListActiveTasks(ctx)
	if err != nil {
		return sum, err
	}

	for _, t := range tasks {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		if !t.Due(now) {
			continue
		}
		sum.Due++
		if r.runTask(ctx, t, now) {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}
	if sum.Due > 0 {
		r.logger.Info("rescrape pass finished", "due", sum.Due, "succeeded", sum.Succeeded, "failed", sum.Failed)
	}
	return sum, nil
}

func (r *Rescraper) runTask(ctx context.Context, t store.Task, now time.Time) bool {
	logger := r.logger.With("task_id", t.ID, "url", t.URL)
	started := time.Now()

	var (
		results []model.ScrapeResult
		err     error
	)
	if t.Schema == nil {
		err = errMissingSchema
	} else {
		results, err = r.scraper.Run(ctx, t.URL, *t.Schema)
	}

	run := store.RunRecord{
		TaskID:      t.ID,
		Status:      store.RunSuccess,
		StartedAt:   now,
		Duration:    time.Since(started),
		ResultCount: len(results),
	}
	health := store.SiteHealthy
	if err != nil {
		run.Status = store.RunFailed
		run.Error = err.Error()
		health = store.SiteFailed
		logger.Warn("scheduled scrape failed", "error", err)
	}
	metrics.RecordScrapeRun(string(run.Status), len(results))

	saved, recErr := r.store.RecordRun(ctx, run)
	if recErr != nil {
		logger.Error("failed to record run", "error", recErr)
		return false
	}
	if err == nil && len(results) > 0 {
		if err := r.store.SaveResults(ctx, t.ID, saved.ID, results); err != nil {
			logger.Error("failed to save results", "error", err)
		}
	}
	if t.SiteHealth != health {
		if err := r.store.SetSiteHealth(ctx, t.ID, health); err != nil {
			logger.Error("failed to update site health", "error", err)
		}
	}
	if err != nil {
		return false
	}

	if len(results) > 0 {
		n := Notification{
			ResultCount:     len(results),
			SiteName:        siteName(t.URL),
			SiteURL:         t.URL,
			InstructionText: t.Instruction,
		}
		if err := r.notifier.Notify(ctx, n); err != nil {
			logger.Error("notification failed", "error", err)
		}
	}
	logger.Info("scheduled scrape finished", "results", len(results), "duration_ms", run.Duration.Milliseconds())
	return true
}

func siteName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
