package rest

import (
	"github.com/AzielCF/az-inbox/pkg/metrics"
	"github.com/gofiber/fiber/v2"
)

func InitRestMetrics(app fiber.Router) {
	handler := metrics.Handler()
	app.Get("/metrics", func(c *fiber.Ctx) error {
		handler(c.Context())
		return nil
	})
}
