package http

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"pagesentry/internal/llm"
	"pagesentry/internal/schema"
	"pagesentry/internal/scraper"
)

// InstructionSchemaGenerator produces a schema without fetching the page.
// *schema.Generator satisfies it.
type InstructionSchemaGenerator interface {
	FromInstruction(ctx context.Context, url, text string) (*schema.Output, error)
}

// generateSchemaHandler asks the model for a schema from the URL and
// instruction alone, for pages that cannot be inspected upfront.
func generateSchemaHandler(c *fiber.Ctx) error {
	var reqBody GenerateSchemaRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return badJSON(c)
	}
	if strings.TrimSpace(reqBody.URL) == "" {
		return missingField(c, "url")
	}
	if strings.TrimSpace(reqBody.Instruction) == "" {
		return missingField(c, "instruction")
	}

	deps := depsFrom(c)
	if deps.Schemas == nil {
		return unavailable(c, "GENERATOR_DISABLED", "Schema generation is not configured")
	}
	u, err := scraper.NormalizeURL(reqBody.URL)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST_INVALID_URL",
			Error:   err.Error(),
		})
	}

	out, err := deps.Schemas.FromInstruction(c.UserContext(), u.String(), reqBody.Instruction)
	if err != nil {
		status, code := fiber.StatusBadGateway, "SCHEMA_GENERATION_FAILED"
		switch {
		case errors.Is(err, llm.ErrNoProviders):
			status, code = fiber.StatusServiceUnavailable, "NO_AI_PROVIDERS"
		case errors.Is(err, schema.ErrMalformedResponse):
			code = "MALFORMED_AI_RESPONSE"
		}
		loggerFrom(c).Warn("schema generation failed", "url", u.String(), "error", err)
		return c.Status(status).JSON(ErrorResponse{
			Success: false,
			Code:    code,
			Error:   err.Error(),
		})
	}
	c.Locals("llm_provider", out.ProviderName)

	if err := schema.Validate(&out.Schema); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{
			Success: false,
			Code:    "INVALID_SCHEMA",
			Error:   err.Error(),
			Details: out,
		})
	}
	return c.JSON(fiber.Map{"success": true, "data": out})
}
