package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gofiber/fiber/v2"

	"pagesentry/internal/config"
	"pagesentry/internal/extract"
	"pagesentry/internal/schema"
	"pagesentry/internal/scraper"
	"pagesentry/internal/selector"
)

// scrapeHandler applies a caller-supplied schema to a live page.
func scrapeHandler(c *fiber.Ctx) error {
	var reqBody ScrapeRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return badJSON(c)
	}
	if strings.TrimSpace(reqBody.URL) == "" {
		return missingField(c, "url")
	}

	deps := depsFrom(c)
	if deps.Runner == nil {
		return unavailable(c, "SCRAPER_DISABLED", "Scraping is not configured")
	}
	cfg := c.Locals("config").(*config.Config)

	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout(cfg.Scraper.TimeoutMs, reqBody.Timeout))
	defer cancel()

	results, err := deps.Runner.Run(ctx, reqBody.URL, reqBody.Schema)
	if err != nil {
		return scrapeError(c, err)
	}
	return c.JSON(ScrapeResponse{Success: true, Count: len(results), Data: results})
}

// detectHandler finds the dominant repeating group on a page and extracts
// it without any AI involvement.
func detectHandler(c *fiber.Ctx) error {
	var reqBody DetectRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return badJSON(c)
	}
	if strings.TrimSpace(reqBody.URL) == "" {
		return missingField(c, "url")
	}

	deps := depsFrom(c)
	if deps.Fetcher == nil {
		return unavailable(c, "SCRAPER_DISABLED", "Scraping is not configured")
	}
	cfg := c.Locals("config").(*config.Config)
	timeout := requestTimeout(cfg.Scraper.TimeoutMs, reqBody.Timeout)

	ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
	defer cancel()

	page, err := deps.Fetcher.Fetch(ctx, scraper.BuildRequestFromOptions(scraper.RequestOptions{
		URL:       reqBody.URL,
		TimeoutMs: int(timeout / time.Millisecond),
		UserAgent: cfg.Scraper.UserAgent,
	}))
	if err != nil {
		return scrapeError(c, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{
			Success: false,
			Code:    "UNPARSEABLE_HTML",
			Error:   err.Error(),
		})
	}

	det, ok := selector.AutoDetect(doc)
	if !ok {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{
			Success: false,
			Code:    "NO_PATTERN",
			Error:   "No repeating content pattern found on the page",
		})
	}

	records := selector.CleanData(selector.Extract(doc, page.BaseURL(), det.Fields))
	return c.JSON(DetectResponse{
		Success:      true,
		ItemSelector: det.ItemSelector,
		Pattern:      det.Pattern,
		ItemCount:    det.Count,
		Fields:       det.Fields,
		Schema:       det.Schema(),
		Records:      records,
	})
}

func requestTimeout(defaultMs int, override *int) time.Duration {
	ms := defaultMs
	if override != nil && *override > 0 {
		ms = *override
	}
	return time.Duration(ms) * time.Millisecond
}

// scrapeError maps pipeline errors onto envelopes.
func scrapeError(c *fiber.Ctx, err error) error {
	var shapeErr *schema.ShapeError
	var fetchErr *scraper.FetchError

	status := fiber.StatusBadGateway
	code := "SCRAPE_FAILED"
	switch {
	case errors.As(err, &shapeErr):
		status, code = fiber.StatusBadRequest, "INVALID_SCHEMA"
	case errors.Is(err, extract.ErrNoContainers):
		status, code = fiber.StatusUnprocessableEntity, "NO_CONTAINERS"
	case errors.Is(err, scraper.ErrRobotsDisallowed):
		status, code = fiber.StatusForbidden, "ROBOTS_DISALLOWED"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "SCRAPE_TIMEOUT"
	case errors.As(err, &fetchErr):
		code = "FETCH_FAILED"
		if fetchErr.StatusCode == 0 {
			if _, perr := scraper.NormalizeURL(fetchErr.URL); perr != nil {
				status, code = fiber.StatusBadRequest, "BAD_REQUEST_INVALID_URL"
			}
		}
	}

	return c.Status(status).JSON(ErrorResponse{
		Success: false,
		Code:    code,
		Error:   err.Error(),
	})
}
