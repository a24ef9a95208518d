package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/AzielCF/az-inbox/inbox/domain"
	"github.com/AzielCF/az-inbox/infrastructure/gateway"
	pkgError "github.com/AzielCF/az-inbox/pkg/error"
	"github.com/AzielCF/az-inbox/pkg/metrics"
	"github.com/AzielCF/az-inbox/pkg/retry"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Sender is the gateway's send-message contract.
type Sender interface {
	SendText(ctx context.Context, instance, recipient, text string) (gateway.SendResult, error)
	SendAudio(ctx context.Context, instance, recipient, audio string) (gateway.SendResult, error)
	SendMedia(ctx context.Context, instance, recipient string, media gateway.MediaDescriptor) (gateway.SendResult, error)
}

const (
	KindReply    = "reply"
	KindFallback = "fallback"
)

// Outbound is one message to deliver on a ticket.
type Outbound struct {
	Ticket domain.Ticket
	// Gateway is the instance name used in gateway URLs.
	Gateway string
	Kind    string
	Text    string
	// Audio, when set, is sent as a voice note instead of Text. Text is still
	// recorded and used if the audio send fails.
	Audio string
	Media *gateway.MediaDescriptor
}

type SendResult struct {
	MessageID string `json:"message_id"`
	Attempts  int    `json:"attempts"`
	AsAudio   bool   `json:"as_audio"`
	Recorded  bool   `json:"recorded"`
}

type DispatcherConfig struct {
	Policy     retry.Policy
	RatePerSec float64
	Burst      int
}

// Dispatcher sends replies through the gateway and records them on the ticket.
type Dispatcher struct {
	sender Sender
	store  domain.MessageStore
	events domain.EventPublisher
	cfg    DispatcherConfig
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewDispatcher(sender Sender, store domain.MessageStore, events domain.EventPublisher, cfg DispatcherConfig) *Dispatcher {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	return &Dispatcher{
		sender:   sender,
		store:    store,
		events:   events,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		limiters: make(map[string]*rate.Limiter),
	}
}

func (d *Dispatcher) limiter(instance string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[instance]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.cfg.RatePerSec), d.cfg.Burst)
		d.limiters[instance] = l
	}
	return l
}

// Send delivers out with a bounded number of attempts. Failures after the
// budget are counted and returned; the caller must not loop on them.
func (d *Dispatcher) Send(ctx context.Context, out Outbound) (SendResult, error) {
	if out.Kind == "" {
		out.Kind = KindReply
	}
	log := logrus.WithFields(logrus.Fields{
		"ticket_id": out.Ticket.ID,
		"instance":  out.Gateway,
		"kind":      out.Kind,
	})
	if strings.TrimSpace(out.Text) == "" && out.Audio == "" && out.Media == nil {
		return SendResult{}, pkgError.ValidationError("nothing to send")
	}

	var res SendResult
	var err error
	if out.Audio != "" {
		res, err = d.deliver(ctx, out, func(ctx context.Context) (gateway.SendResult, error) {
			return d.sender.SendAudio(ctx, out.Gateway, out.Ticket.ChatID, out.Audio)
		})
		if err == nil {
			res.AsAudio = true
		} else if strings.TrimSpace(out.Text) != "" {
			log.WithError(err).Warn("[DISPATCH] voice note failed, sending text instead")
		}
	}
	if out.Audio == "" || (err != nil && strings.TrimSpace(out.Text) != "") {
		res, err = d.deliver(ctx, out, func(ctx context.Context) (gateway.SendResult, error) {
			if out.Media != nil {
				media := *out.Media
				if media.Caption == "" {
					media.Caption = out.Text
				}
				return d.sender.SendMedia(ctx, out.Gateway, out.Ticket.ChatID, media)
			}
			return d.sender.SendText(ctx, out.Gateway, out.Ticket.ChatID, out.Text)
		})
	}
	if err != nil {
		metrics.SendFailures.WithLabelValues(out.Kind).Inc()
		log.WithError(err).WithField("attempt", res.Attempts).Error("[DISPATCH] send failed")
		return res, err
	}

	res.Recorded = d.record(ctx, out, &res)
	log.WithFields(logrus.Fields{"message_id": res.MessageID, "attempt": res.Attempts}).Info("[DISPATCH] message sent")
	return res, nil
}

func (d *Dispatcher) deliver(ctx context.Context, out Outbound, call func(context.Context) (gateway.SendResult, error)) (SendResult, error) {
	limiter := d.limiter(out.Gateway)
	var sent gateway.SendResult
	attempts, err := d.cfg.Policy.Do(ctx, func(int) error {
		if err := limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		r, err := call(ctx)
		if err != nil {
			var se *gateway.StatusError
			if errors.As(err, &se) && !se.Retryable() {
				return retry.Permanent(err)
			}
			return err
		}
		sent = r
		return nil
	})
	if err != nil {
		return SendResult{Attempts: attempts}, &pkgError.TransientError{Upstream: "gateway", Attempts: attempts, Err: err}
	}
	return SendResult{MessageID: sent.MessageID, Attempts: attempts}, nil
}

// record writes the sent message on the ticket. The gateway's id is reused so
// the webhook echo of this send is recognised as a duplicate.
func (d *Dispatcher) record(ctx context.Context, out Outbound, res *SendResult) bool {
	if res.MessageID == "" {
		res.MessageID = "out-" + uuid.NewString()
	}
	msg := domain.Message{
		MessageID:  res.MessageID,
		ChatID:     out.Ticket.ChatID,
		InstanceID: out.Ticket.InstanceID,
		ClientID:   out.Ticket.ClientID,
		FromMe:     true,
		Body:       out.Text,
		Type:       domain.MessageTypeText,
		Timestamp:  d.now(),
	}
	if res.AsAudio {
		msg.Type = domain.MessageTypePTT
	} else if out.Media != nil {
		msg.Type = domain.MessageType(out.Media.MediaType)
		msg.Media = &domain.MediaRef{URL: out.Media.Media, MimeType: out.Media.MimeType, FileName: out.Media.FileName, Caption: out.Media.Caption}
	}

	bg := context.WithoutCancel(ctx)
	_, err := retry.DefaultPolicy.Do(bg, func(int) error {
		_, err := d.store.AppendMessage(bg, msg, nil)
		if err != nil && !pkgError.IsTransient(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicateMessage) {
		logrus.WithError(err).WithField("ticket_id", out.Ticket.ID).Error("[DISPATCH] sent message could not be recorded")
		return false
	}

	if d.events != nil {
		evType := domain.EventReplySent
		if out.Kind == KindFallback {
			evType = domain.EventFallbackSent
		}
		_ = d.events.Publish(bg, domain.TicketEvent{
			Type:      evType,
			TicketID:  out.Ticket.ID,
			ClientID:  out.Ticket.ClientID,
			MessageID: msg.MessageID,
			FromMe:    true,
			Body:      msg.Body,
			Timestamp: msg.Timestamp,
		})
	}
	return true
}
