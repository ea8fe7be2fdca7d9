package http

import (
	"pagesentry/internal/model"
	"pagesentry/internal/selector"
)

// ErrorResponse is the error envelope of every route.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// ValidateTaskRequest submits a (url, instruction) pair for validation.
type ValidateTaskRequest struct {
	URL                   string `json:"url"`
	Instruction           string `json:"instruction"`
	ScheduleIntervalHours int    `json:"scheduleIntervalHours,omitempty"`
}

// ApproveTaskRequest optionally replaces the schema stored at validation.
type ApproveTaskRequest struct {
	Schema *model.ExtractionSchema `json:"schema,omitempty"`
}

type ScrapeRequest struct {
	URL     string                 `json:"url"`
	Schema  model.ExtractionSchema `json:"schema"`
	Timeout *int                   `json:"timeout,omitempty"`
}

type ScrapeResponse struct {
	Success bool                 `json:"success"`
	Count   int                  `json:"count"`
	Data    []model.ScrapeResult `json:"data"`
}

type ParseInstructionRequest struct {
	Instruction string `json:"instruction"`
}

type AdaptURLRequest struct {
	URL   string `json:"url"`
	Probe bool   `json:"probe,omitempty"`
}

type DetectRequest struct {
	URL     string `json:"url"`
	Timeout *int   `json:"timeout,omitempty"`
}

// DetectResponse carries the auto-detected fields and what they extract.
type DetectResponse struct {
	Success      bool                   `json:"success"`
	ItemSelector string                 `json:"itemSelector"`
	Pattern      string                 `json:"pattern"`
	ItemCount    int                    `json:"itemCount"`
	Fields       []model.Selector       `json:"fields"`
	Schema       model.ExtractionSchema `json:"schema"`
	Records      []selector.Record      `json:"records"`
}

type GenerateSchemaRequest struct {
	URL         string `json:"url"`
	Instruction string `json:"instruction"`
}

type ClearCacheRequest struct {
	URL  string `json:"url,omitempty"`
	Type string `json:"type,omitempty"`
}
