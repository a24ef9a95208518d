// Package gateway talks to the WhatsApp gateway's send-message HTTP API.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"go.mau.fi/whatsmeow/types"
)

type Config struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	RecipientServer string
}

// MediaDescriptor points at an attachment by URL or inline base64.
type MediaDescriptor struct {
	MediaType string // image, video, document, audio
	Media     string
	FileName  string
	Caption   string
	MimeType  string
}

// SendResult is the gateway's acknowledgement.
type SendResult struct {
	MessageID string
	Status    string
}

// StatusError is a non-2xx answer from the gateway.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned HTTP %d: %s", e.Status, e.Body)
}

// Retryable reports whether a later attempt may succeed.
func (e *StatusError) Retryable() bool {
	return e.Status == fasthttp.StatusTooManyRequests || e.Status >= 500
}

type Client struct {
	cfg  Config
	http *fasthttp.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RecipientServer == "" {
		cfg.RecipientServer = types.DefaultUserServer
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		http: &fasthttp.Client{
			Name:                "az-inbox",
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
			MaxIdleConnDuration: time.Minute,
		},
	}
}

func (c *Client) SendText(ctx context.Context, instance, recipient, text string) (SendResult, error) {
	body := map[string]any{
		"number": c.Recipient(recipient),
		"options": map[string]any{
			"delay":    1200,
			"presence": "composing",
		},
		"textMessage": map[string]any{"text": text},
	}
	return c.post(ctx, "sendText", instance, body)
}

func (c *Client) SendMedia(ctx context.Context, instance, recipient string, media MediaDescriptor) (SendResult, error) {
	body := map[string]any{
		"number": c.Recipient(recipient),
		"mediaMessage": map[string]any{
			"mediatype": media.MediaType,
			"fileName":  media.FileName,
			"caption":   media.Caption,
			"media":     media.Media,
		},
	}
	return c.post(ctx, "sendMedia", instance, body)
}

// SendAudio sends a voice note (push-to-talk) from a URL or base64 payload.
func (c *Client) SendAudio(ctx context.Context, instance, recipient, audio string) (SendResult, error) {
	body := map[string]any{
		"number": c.Recipient(recipient),
		"options": map[string]any{
			"delay":    1200,
			"presence": "recording",
		},
		"audioMessage": map[string]any{"audio": audio},
	}
	return c.post(ctx, "sendWhatsAppAudio", instance, body)
}

// Recipient returns chatID in the form the gateway addresses. Bare numbers get
// the configured user server suffix; full JIDs pass through.
func (c *Client) Recipient(chatID string) string {
	chatID = strings.TrimSpace(chatID)
	if strings.Contains(chatID, "@") {
		if jid, err := types.ParseJID(chatID); err == nil {
			return jid.String()
		}
		return chatID
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, chatID)
	return types.NewJID(digits, c.cfg.RecipientServer).String()
}

func (c *Client) post(ctx context.Context, action, instance string, payload any) (SendResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, fmt.Errorf("encode %s payload: %w", action, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/message/%s/%s", c.cfg.BaseURL, action, url.PathEscape(instance)))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("apikey", c.cfg.APIKey)
	req.SetBody(raw)

	timeout := c.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}

	start := time.Now()
	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		return SendResult{}, fmt.Errorf("gateway %s: %w", action, err)
	}

	status := resp.StatusCode()
	logrus.WithFields(logrus.Fields{
		"action":   action,
		"instance": instance,
		"status":   status,
		"elapsed":  time.Since(start).String(),
	}).Debug("[GATEWAY] send completed")

	if status < 200 || status >= 300 {
		return SendResult{}, &StatusError{Status: status, Body: truncate(string(resp.Body()), 300)}
	}

	var out struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return SendResult{}, fmt.Errorf("decode %s response: %w", action, err)
	}
	return SendResult{MessageID: out.Key.ID, Status: out.Status}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
