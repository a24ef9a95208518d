package rest

import (
	"github.com/AzielCF/az-inbox/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// Settings exposes the non-secret runtime configuration.
type Settings struct {
	Source func() map[string]any
}

func InitRestSettings(app fiber.Router, source func() map[string]any) Settings {
	handler := Settings{Source: source}
	app.Get("/settings", handler.GetSettings)
	return handler
}

func (h *Settings) GetSettings(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Current settings",
		Results: h.Source(),
	})
}
