package rest

import (
	"context"
	"time"

	assistantApp "github.com/AzielCF/az-inbox/assistant/application"
	assistantDomain "github.com/AzielCF/az-inbox/assistant/domain"
	pkgError "github.com/AzielCF/az-inbox/pkg/error"
	"github.com/AzielCF/az-inbox/validations"
	"github.com/gofiber/fiber/v2"
)

type DirectInvoker interface {
	InvokeDirect(ctx context.Context, req assistantApp.DirectRequest) (assistantApp.Invocation, error)
}

type Assistant struct {
	Service DirectInvoker
}

func InitRestAssistant(app fiber.Router, service DirectInvoker) Assistant {
	handler := Assistant{Service: service}
	app.Post("/assistant/process", handler.Process)
	return handler
}

// Process answers one message synchronously. Failures always carry
// success:false, including fatal configuration conditions.
func (h *Assistant) Process(c *fiber.Ctx) error {
	var req assistantDomain.ProcessRequest
	if err := c.BodyParser(&req); err != nil {
		return failure(c, pkgError.ValidationError("invalid request body"))
	}
	if err := validations.ValidateProcessRequest(c.UserContext(), req); err != nil {
		return failure(c, err)
	}

	inv, err := h.Service.InvokeDirect(c.UserContext(), assistantApp.DirectRequest{
		Text:           req.MessageText,
		AssistantID:    req.AssistantID,
		ChatID:         req.ChatID,
		InstanceID:     req.InstanceID,
		MessageID:      req.MessageID,
		IsAudioMessage: req.IsAudioMessage,
	})
	if err != nil {
		return failure(c, err)
	}

	return c.JSON(assistantDomain.ProcessResponse{
		Response:  inv.Result.Text,
		IsAudio:   inv.Result.IsAudio,
		Audio:     inv.Result.Audio,
		Success:   true,
		Timestamp: time.Now().UTC(),
	})
}
