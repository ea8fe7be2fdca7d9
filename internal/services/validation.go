package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"pagesentry/internal/extract"
	"pagesentry/internal/inspector"
	"pagesentry/internal/instruction"
	"pagesentry/internal/metrics"
	"pagesentry/internal/model"
	"pagesentry/internal/schema"
	"pagesentry/internal/scraper"
	"pagesentry/internal/store"
	"pagesentry/internal/urladapt"
)

// Stage is one step of the validation pipeline.
type Stage string

const (
	StageStart              Stage = "START"
	StageURLValidated       Stage = "URL_VALIDATED"
	StageInstructionParsed  Stage = "INSTRUCTION_PARSED"
	StageURLAdapted         Stage = "URL_ADAPTED"
	StageHTMLInspected      Stage = "HTML_INSPECTED"
	StageSchemaGenerated    Stage = "SCHEMA_GENERATED"
	StageSchemaShapeChecked Stage = "SCHEMA_SHAPE_CHECKED"
	StageTestScraped        Stage = "TEST_SCRAPED"
	StageQualityChecked     Stage = "QUALITY_CHECKED"
	StageDone               Stage = "DONE"
)

type ValidationStatus string

const (
	StatusSuccess ValidationStatus = "success"
	StatusWarning ValidationStatus = "warning"
	StatusError   ValidationStatus = "error"
)

// Thresholds of the quality checks run over test results.
const (
	maxEmptyTitleRatio    = 0.5
	minUniqueTitleRatio   = 0.8
	manyResultsNoFilter   = 10
	manyResultsNoSort     = 5
	fewRequestedFields    = 3
	testResultPreviewSize = 5
)

// ValidationRequest is a task submitted for validation.
type ValidationRequest struct {
	URL                   string `json:"url"`
	Instruction           string `json:"instruction"`
	ScheduleIntervalHours int    `json:"scheduleIntervalHours"`
}

// ValidationResult is the only contract callers rely on to decide whether
// a task may be approved. Status is error iff Errors is non-empty.
type ValidationResult struct {
	Status            ValidationStatus               `json:"status"`
	Errors            []string                       `json:"errors"`
	Warnings          []string                       `json:"warnings"`
	Suggestions       []string                       `json:"suggestions"`
	ParsedInstruction *instruction.ParsedInstruction `json:"parsedInstruction,omitempty"`
	AdaptedURL        *urladapt.Adaptation           `json:"adaptedUrl,omitempty"`
	Schema            *model.ExtractionSchema        `json:"schema,omitempty"`
	TestResults       []model.ScrapeResult           `json:"testResults"`
	TestResultCount   int                            `json:"testResultCount"`
	Stages            []Stage                        `json:"stages"`
	ProviderName      string                         `json:"providerName,omitempty"`
	TaskID            *uuid.UUID                     `json:"taskId,omitempty"`
}

// ValidationService runs a submitted task through inspection, schema
// generation and a test scrape.
type ValidationService interface {
	Validate(ctx context.Context, req *ValidationRequest) *ValidationResult
}

// SchemaGenerator is the part of schema.Generator the validator uses.
type SchemaGenerator interface {
	FromHTML(ctx context.Context, in schema.Input) (*schema.Output, error)
}

// URLAdapter picks the URL variant to inspect.
type URLAdapter interface {
	FindWorkingURL(ctx context.Context, raw string) urladapt.Adaptation
}

// StaticAdapter applies the rewrite rules without probing.
type StaticAdapter struct{}

func (StaticAdapter) FindWorkingURL(_ context.Context, raw string) urladapt.Adaptation {
	return urladapt.Adapt(raw)
}

// ValidationDeps wires the validator. Store and Adapter are optional.
type ValidationDeps struct {
	Inspector inspector.Inspector
	Generator SchemaGenerator
	Runner    *extract.Runner
	Adapter   URLAdapter
	Store     store.TaskStore
	Logger    *slog.Logger
}

type validationService struct {
	deps   ValidationDeps
	logger *slog.Logger
}

func NewValidationService(deps ValidationDeps) ValidationService {
	if deps.Adapter == nil {
		deps.Adapter = StaticAdapter{}
	}
	if deps.Runner == nil {
		deps.Runner = extract.NewRunner(nil, 0, deps.Logger)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &validationService{deps: deps, logger: logger}
}

// run is the state of one validation.
type run struct {
	res    *ValidationResult
	logger *slog.Logger
}

func (r *run) enter(s Stage) {
	r.res.Stages = append(r.res.Stages, s)
	r.logger.Debug("validation stage", "stage", s)
}

func (r *run) fail(format string, args ...any) {
	r.res.Errors = append(r.res.Errors, fmt.Sprintf(format, args...))
}

func (r *run) warn(msg string)    { r.res.Warnings = append(r.res.Warnings, msg) }
func (r *run) suggest(msg string) { r.res.Suggestions = append(r.res.Suggestions, msg) }

func (s *validationService) Validate(ctx context.Context, req *ValidationRequest) (result *ValidationResult) {
	r := &run{
		res: &ValidationResult{
			Errors:      []string{},
			Warnings:    []string{},
			Suggestions: []string{},
			TestResults: []model.ScrapeResult{},
			Stages:      []Stage{},
		},
		logger: s.logger,
	}
	if req != nil {
		r.logger = s.logger.With("url", req.URL)
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("validation panicked", "panic", p)
			r.fail("internal error: %v", p)
		}
		r.res.Status = statusOf(r.res)
		metrics.RecordValidation(string(r.res.Status))
		r.logger.Info("validation finished",
			"status", r.res.Status,
			"errors", len(r.res.Errors),
			"warnings", len(r.res.Warnings),
			"results", r.res.TestResultCount,
		)
		result = r.res
	}()

	r.enter(StageStart)
	if req == nil {
		r.fail("request is required")
		return
	}
	sch, ok := s.pipeline(ctx, r, req)
	if !ok {
		return
	}
	r.enter(StageDone)
	s.persist(ctx, r, req, sch)
	return
}

// pipeline walks the stages and stops at the first fatal step.
func (s *validationService) pipeline(ctx context.Context, r *run, req *ValidationRequest) (*model.ExtractionSchema, bool) {
	u, err := scraper.NormalizeURL(req.URL)
	if err != nil {
		r.fail("invalid url: %v", err)
		return nil, false
	}
	target := u.String()
	r.enter(StageURLValidated)

	if strings.TrimSpace(req.Instruction) == "" {
		r.fail("instruction is required")
		return nil, false
	}
	parsed := instruction.Parse(req.Instruction)
	r.res.ParsedInstruction = &parsed
	r.enter(StageInstructionParsed)
	if parsed.Clarity.IsVague {
		r.warn(fmt.Sprintf("instruction is vague (clarity score %d)", parsed.Clarity.Score))
		for _, sug := range parsed.Clarity.MissingSuggestions {
			r.suggest(sug)
		}
	}

	if a := s.deps.Adapter.FindWorkingURL(ctx, target); a.Changed() {
		r.res.AdaptedURL = &a
		target = a.Adapted
		r.enter(StageURLAdapted)
	}

	page, err := s.deps.Inspector.Inspect(ctx, target)
	if err != nil {
		r.fail("failed to fetch page: %v", err)
		return nil, false
	}
	r.enter(StageHTMLInspected)

	out, err := s.deps.Generator.FromHTML(ctx, schema.Input{
		URL:         target,
		Instruction: req.Instruction,
		HTMLSnippet: page.HTMLSnippet,
		Outline:     page.Outline,
		Patterns:    page.Patterns,
		Parsed:      &parsed,
	})
	if err != nil {
		r.failGeneration(err)
		return nil, false
	}
	sch := out.Schema
	r.res.Schema = &sch
	r.res.ProviderName = out.ProviderName
	r.enter(StageSchemaGenerated)

	if err := schema.Validate(&sch); err != nil {
		r.fail("generated schema is unusable: %v", err)
		r.suggest("Regenerate the schema or simplify the instruction")
		return nil, false
	}
	r.enter(StageSchemaShapeChecked)

	pageURL := page.URL
	if pageURL == "" {
		pageURL = target
	}
	results, err := s.deps.Runner.Apply(page.HTML, pageURL, sch)
	if err != nil {
		r.fail("test scrape failed: %v", err)
		if errors.Is(err, extract.ErrNoContainers) {
			r.suggest("The container selector matched nothing; regenerate the schema")
		}
		return nil, false
	}
	r.res.TestResultCount = len(results)
	r.res.TestResults = results[:min(len(results), testResultPreviewSize)]
	if len(results) == 0 {
		r.fail("test scrape returned no results")
		if len(sch.Filters) > 0 {
			r.suggest("Filters removed every record; relax the filter thresholds")
		}
		return nil, false
	}
	r.enter(StageTestScraped)

	checkQuality(r, results, &parsed)
	r.enter(StageQualityChecked)
	return &sch, true
}

func (r *run) failGeneration(err error) {
	r.fail("schema generation failed: %v", err)
	var shapeErr *schema.ShapeError
	if errors.Is(err, schema.ErrMalformedResponse) || errors.As(err, &shapeErr) {
		r.suggest("Regenerate the schema or simplify the instruction")
	}
}

// checkQuality adds non-fatal findings about the test results.
func checkQuality(r *run, results []model.ScrapeResult, parsed *instruction.ParsedInstruction) {
	n := len(results)
	empty := 0
	titles := make(map[string]struct{}, n)
	withDescription := 0
	insecure := false
	for _, res := range results {
		if strings.TrimSpace(res.Title) == "" {
			empty++
		}
		titles[res.Title] = struct{}{}
		if _, ok := res.Metadata["description"]; ok {
			withDescription++
		}
		if u, err := url.Parse(res.URL); err == nil && u.Scheme == "http" {
			insecure = true
		}
	}

	if float64(empty)/float64(n) > maxEmptyTitleRatio {
		r.warn(fmt.Sprintf("%d of %d results have an empty title", empty, n))
	}
	if float64(len(titles))/float64(n) < minUniqueTitleRatio {
		r.warn("many results share the same title; the container selector may be too broad")
	}
	if withDescription == 0 {
		r.suggest("No result has a description; add a description field to the instruction")
	}
	if len(parsed.Filters) == 0 && n > manyResultsNoFilter {
		r.suggest("Many results were found; consider adding a filter such as \"with >100 votes\"")
	}
	if parsed.Sorting.Order == "" && n > manyResultsNoSort {
		r.suggest("Consider asking for an order such as \"latest\" or \"top\"")
	}
	if !parsed.HasExplicitFields && len(parsed.RequestedFields) <= fewRequestedFields {
		r.suggest("Name the fields you need (e.g. title, price, rating) for a more precise schema")
	}
	if insecure {
		r.suggest("Some result links use http; prefer https sources")
	}
}

func statusOf(res *ValidationResult) ValidationStatus {
	switch {
	case len(res.Errors) > 0:
		return StatusError
	case len(res.Warnings) > 0 || len(res.Suggestions) > 0:
		return StatusWarning
	default:
		return StatusSuccess
	}
}

// persist stores a successful validation as a pending task. A storage
// failure becomes a warning; the validation outcome itself stands.
func (s *validationService) persist(ctx context.Context, r *run, req *ValidationRequest, sch *model.ExtractionSchema) {
	if s.deps.Store == nil {
		return
	}
	taskURL := req.URL
	if u, err := scraper.NormalizeURL(req.URL); err == nil {
		taskURL = u.String()
	}
	if r.res.AdaptedURL != nil {
		taskURL = r.res.AdaptedURL.Adapted
	}

	snapshot := *r.res
	snapshot.Status = statusOf(r.res)
	task, err := s.deps.Store.CreatePendingTask(ctx, store.PendingTask{
		URL:                   taskURL,
		Instruction:           req.Instruction,
		ScheduleIntervalHours: req.ScheduleIntervalHours,
		Schema:                sch,
		Validation:            snapshot,
	})
	if err != nil {
		r.logger.Error("failed to persist pending task", "error", err)
		r.warn("validated task could not be saved: " + err.Error())
		return
	}
	r.res.TaskID = &task.ID
	r.logger.Info("pending task created", "task_id", task.ID)
}
