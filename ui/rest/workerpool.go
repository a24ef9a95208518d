package rest

import (
	"github.com/AzielCF/az-inbox/pkg/msgworker"
	"github.com/gofiber/fiber/v2"
)

type WorkerPool struct {
	Pool *msgworker.Pool
}

func InitRestWorkerPool(app fiber.Router, pool *msgworker.Pool) WorkerPool {
	handler := WorkerPool{Pool: pool}
	app.Get("/worker-pool/stats", handler.GetStats)
	return handler
}

// GetStats returns real-time worker pool statistics
func (h *WorkerPool) GetStats(c *fiber.Ctx) error {
	if h.Pool == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Message worker pool not initialized",
		})
	}
	return c.JSON(h.Pool.Stats())
}
