package rest

import (
	"context"
	"crypto/subtle"
	"strings"

	inboxApp "github.com/AzielCF/az-inbox/inbox/application"
	pkgError "github.com/AzielCF/az-inbox/pkg/error"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type Ingester interface {
	Ingest(ctx context.Context, body []byte, pathInstance string) (inboxApp.IngestResult, error)
}

type Webhook struct {
	Service Ingester
	Secret  string
}

// InitRestWebhook mounts the gateway webhook. It sits outside the basic-auth
// group; an optional shared secret protects it instead.
func InitRestWebhook(app fiber.Router, service Ingester, secret string) Webhook {
	handler := Webhook{Service: service, Secret: strings.TrimSpace(secret)}
	app.Post("/webhook", handler.Receive)
	app.Post("/webhook/:instance", handler.Receive)
	return handler
}

func (h *Webhook) authorized(c *fiber.Ctx) bool {
	if h.Secret == "" {
		return true
	}
	token := strings.TrimSpace(c.Get("X-Webhook-Secret"))
	if token == "" {
		token = strings.TrimSpace(c.Query("token"))
	}
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(h.Secret)) == 1
}

func (h *Webhook) Receive(c *fiber.Ctx) error {
	if !h.authorized(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"code":    "UNAUTHORIZED",
			"error":   "invalid webhook secret",
		})
	}

	// fasthttp reuses the body buffer after the handler returns
	body := append([]byte(nil), c.Body()...)
	res, err := h.Service.Ingest(c.UserContext(), body, c.Params("instance"))
	if err != nil {
		return failure(c, err)
	}

	if res.Ignored {
		return c.JSON(fiber.Map{
			"success": true,
			"ignored": true,
			"reason":  res.Reason,
		})
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"duplicate":  res.Duplicate,
		"ticket_id":  res.TicketID,
		"message_id": res.MessageID,
		"scheduled":  res.Scheduled,
	})
}

// failure writes err as {success:false, error, code} with the status the
// error carries.
func failure(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := "INTERNAL_SERVER_ERROR"
	if ge, ok := pkgError.AsGeneric(err); ok {
		status = ge.StatusCode()
		code = ge.ErrCode()
	}
	if status >= fiber.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.Path()).Error("[REST] request failed")
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"code":    code,
		"error":   err.Error(),
	})
}
