package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AzielCF/az-inbox/inbox/domain"
	"github.com/AzielCF/az-inbox/inbox/payload"
	pkgError "github.com/AzielCF/az-inbox/pkg/error"
	"github.com/AzielCF/az-inbox/pkg/metrics"
	"github.com/AzielCF/az-inbox/pkg/retry"
	tenantDomain "github.com/AzielCF/az-inbox/tenant/domain"
	"github.com/sirupsen/logrus"
)

// InstanceResolver maps the instance reference found in a webhook to a tenant instance.
type InstanceResolver interface {
	ResolveInstance(ctx context.Context, key string) (*tenantDomain.Instance, error)
}

// InboundScheduler is notified of every inbound message that should reach the assistant.
type InboundScheduler interface {
	OnInboundMessage(ctx context.Context, ticketID string) error
}

type IngestResult struct {
	Ignored   bool   `json:"ignored"`
	Reason    string `json:"reason,omitempty"`
	Duplicate bool   `json:"duplicate"`
	TicketID  string `json:"ticket_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Scheduled bool   `json:"scheduled"`
}

type IngestService struct {
	resolver  InstanceResolver
	guard     *Guard
	store     domain.MessageStore
	scheduler InboundScheduler
	events    domain.EventPublisher
	policy    retry.Policy
	now       func() time.Time
}

// NewIngestService wires the webhook path. events may be nil.
func NewIngestService(resolver InstanceResolver, guard *Guard, store domain.MessageStore, scheduler InboundScheduler, events domain.EventPublisher, policy retry.Policy) *IngestService {
	return &IngestService{
		resolver:  resolver,
		guard:     guard,
		store:     store,
		scheduler: scheduler,
		events:    events,
		policy:    policy,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ingest handles one webhook body. pathInstance is the instance named in the
// request URL, if any.
func (s *IngestService) Ingest(ctx context.Context, body []byte, pathInstance string) (IngestResult, error) {
	ev, err := payload.Parse(body, pathInstance)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues("rejected").Inc()
		return IngestResult{}, err
	}
	if !ev.IsMessage() {
		metrics.WebhooksReceived.WithLabelValues("ignored").Inc()
		return IngestResult{Ignored: true, Reason: "event " + ev.Name}, nil
	}

	msg, err := payload.Normalize(ev, s.now())
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues("rejected").Inc()
		return IngestResult{}, err
	}
	if msg.IsBroadcast() {
		metrics.WebhooksReceived.WithLabelValues("ignored").Inc()
		return IngestResult{Ignored: true, Reason: "broadcast", MessageID: msg.MessageID}, nil
	}

	inst, err := s.resolver.ResolveInstance(ctx, ev.InstanceKey)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues("rejected").Inc()
		if errors.Is(err, tenantDomain.ErrNotFound) {
			return IngestResult{}, pkgError.UnknownTenantError(fmt.Sprintf("instance %q is not registered", ev.InstanceKey))
		}
		return IngestResult{}, err
	}
	msg.InstanceID = inst.ID
	msg.ClientID = inst.ClientID

	log := logrus.WithFields(logrus.Fields{
		"message_id":  msg.MessageID,
		"instance_id": msg.InstanceID,
		"client_id":   msg.ClientID,
	})

	verdict, err := s.guard.Check(ctx, msg.InstanceID, msg.MessageID)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues("failed").Inc()
		return IngestResult{}, err
	}
	if verdict.AlreadyProcessed {
		metrics.WebhooksReceived.WithLabelValues("duplicate").Inc()
		log.Debug("[INGEST] duplicate delivery acknowledged")
		return IngestResult{Duplicate: true, TicketID: verdict.TicketID, MessageID: msg.MessageID}, nil
	}

	var ticketID string
	attempts, err := s.policy.Do(ctx, func(attempt int) error {
		id, appendErr := s.store.AppendMessage(ctx, msg, body)
		if appendErr != nil {
			if pkgError.IsTransient(appendErr) {
				log.WithError(appendErr).WithField("attempt", attempt).Warn("[INGEST] append failed, retrying")
				return appendErr
			}
			ticketID = id
			return retry.Permanent(appendErr)
		}
		ticketID = id
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateMessage) {
			metrics.WebhooksReceived.WithLabelValues("duplicate").Inc()
			s.guard.Remember(ctx, msg.InstanceID, msg.MessageID, ticketID)
			return IngestResult{Duplicate: true, TicketID: ticketID, MessageID: msg.MessageID}, nil
		}
		metrics.WebhooksReceived.WithLabelValues("failed").Inc()
		log.WithError(err).WithField("attempt", attempts).Error("[INGEST] message could not be stored")
		return IngestResult{}, err
	}

	metrics.WebhooksReceived.WithLabelValues("stored").Inc()
	s.guard.Remember(ctx, msg.InstanceID, msg.MessageID, ticketID)
	s.publish(ctx, msg, ticketID)

	result := IngestResult{TicketID: ticketID, MessageID: msg.MessageID}
	if !s.shouldSchedule(msg) {
		log.WithField("ticket_id", ticketID).Debug("[INGEST] stored without scheduling")
		return result, nil
	}

	// The message is already committed; a retried webhook would be a duplicate
	// and never schedule, so scheduling retries here instead of failing the request.
	_, err = s.policy.Do(ctx, func(int) error {
		return s.scheduler.OnInboundMessage(ctx, ticketID)
	})
	if err != nil {
		log.WithError(err).WithField("ticket_id", ticketID).Error("[INGEST] could not schedule assistant batch")
		return result, nil
	}
	result.Scheduled = true
	return result, nil
}

// shouldSchedule excludes agent/outbound messages, groups and contentless events.
func (s *IngestService) shouldSchedule(msg domain.Message) bool {
	return !msg.FromMe && !msg.IsGroup() && strings.TrimSpace(msg.Body) != ""
}

func (s *IngestService) publish(ctx context.Context, msg domain.Message, ticketID string) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, domain.TicketEvent{
		Type:      domain.EventMessageStored,
		TicketID:  ticketID,
		ClientID:  msg.ClientID,
		MessageID: msg.MessageID,
		FromMe:    msg.FromMe,
		Body:      msg.Body,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		logrus.WithError(err).WithField("ticket_id", ticketID).Warn("[INGEST] ticket event not published")
	}
}
