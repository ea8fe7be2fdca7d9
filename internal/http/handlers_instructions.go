package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"pagesentry/internal/cache"
	"pagesentry/internal/instruction"
	"pagesentry/internal/scraper"
	"pagesentry/internal/urladapt"
)

func parseInstructionHandler(c *fiber.Ctx) error {
	var reqBody ParseInstructionRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return badJSON(c)
	}
	if strings.TrimSpace(reqBody.Instruction) == "" {
		return missingField(c, "instruction")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    instruction.Parse(reqBody.Instruction),
	})
}

// adaptURLHandler returns the rewrite the rules pick for a URL. With probe
// set, candidate rewrites are checked for existence first.
func adaptURLHandler(c *fiber.Ctx) error {
	var reqBody AdaptURLRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return badJSON(c)
	}
	if strings.TrimSpace(reqBody.URL) == "" {
		return missingField(c, "url")
	}
	u, err := scraper.NormalizeURL(reqBody.URL)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST_INVALID_URL",
			Error:   err.Error(),
		})
	}

	var a urladapt.Adaptation
	deps := depsFrom(c)
	if reqBody.Probe && deps.Prober != nil {
		a = deps.Prober.FindWorkingURL(c.UserContext(), u.String())
	} else {
		a = urladapt.Adapt(u.String())
	}
	return c.JSON(fiber.Map{"success": true, "data": a})
}

// clearCacheHandler invalidates cached schemas. Filters come from the JSON
// body or, for clients that cannot send a DELETE body, the query string.
func clearCacheHandler(c *fiber.Ctx) error {
	deps := depsFrom(c)
	if deps.Cache == nil {
		return unavailable(c, "CACHE_DISABLED", "Cache is not configured")
	}

	var reqBody ClearCacheRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&reqBody); err != nil {
			return badJSON(c)
		}
	}
	if reqBody.URL == "" {
		reqBody.URL = c.Query("url")
	}
	if reqBody.Type == "" {
		reqBody.Type = c.Query("type")
	}

	n := deps.Cache.ClearByPattern(c.UserContext(), cache.Pattern{URL: reqBody.URL, Type: reqBody.Type})
	loggerFrom(c).Info("cache cleared", "url", reqBody.URL, "type", reqBody.Type, "entries", n)
	return c.JSON(fiber.Map{"success": true, "cleared": n})
}
