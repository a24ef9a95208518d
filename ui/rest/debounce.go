package rest

import (
	"context"

	"github.com/AzielCF/az-inbox/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
	Pending() int
}

type Debounce struct {
	Scheduler Sweeper
}

func InitRestDebounce(app fiber.Router, scheduler Sweeper) Debounce {
	handler := Debounce{Scheduler: scheduler}
	app.Get("/debounce/pending", handler.Pending)
	app.Post("/debounce/sweep", handler.Sweep)
	return handler
}

func (h *Debounce) Pending(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Armed debounce timers",
		Results: fiber.Map{"pending": h.Scheduler.Pending()},
	})
}

// Sweep claims every due ticket now instead of waiting for the next tick.
func (h *Debounce) Sweep(c *fiber.Ctx) error {
	n, err := h.Scheduler.Sweep(c.UserContext())
	if err != nil {
		return failure(c, err)
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Sweep completed",
		Results: fiber.Map{"dispatched": n},
	})
}
