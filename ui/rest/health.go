package rest

import (
	"context"
	"time"

	"github.com/AzielCF/az-inbox/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

type Health struct {
	Checks  map[string]Check
	Version string
}

func InitRestHealth(app fiber.Router, checks map[string]Check, version string) Health {
	handler := Health{Checks: checks, Version: version}
	app.Get("/health", handler.GetStatus)
	return handler
}

func (h *Health) GetStatus(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	status := fiber.StatusOK
	results := make(map[string]string, len(h.Checks))
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = fiber.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	if status != fiber.StatusOK {
		return c.Status(status).JSON(utils.ResponseData{
			Status:  status,
			Code:    "UNHEALTHY",
			Message: "One or more dependencies are unavailable",
			Results: results,
		})
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Healthy " + h.Version,
		Results: results,
	})
}
