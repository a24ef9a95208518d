package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	inboxApp "github.com/AzielCF/az-inbox/inbox/application"
	inboxDomain "github.com/AzielCF/az-inbox/inbox/domain"
	pkgError "github.com/AzielCF/az-inbox/pkg/error"
	"github.com/AzielCF/az-inbox/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// Replier delivers outbound messages on a ticket.
type Replier interface {
	Send(ctx context.Context, out inboxApp.Outbound) (inboxApp.SendResult, error)
}

// BatchOutcome summarises what happened to one batch.
type BatchOutcome struct {
	TicketID string                 `json:"ticket_id"`
	BatchID  string                 `json:"batch_id"`
	Outcome  string                 `json:"outcome"`
	Reply    *inboxApp.SendResult   `json:"reply,omitempty"`
	Reasons  []pkgError.FatalReason `json:"reasons,omitempty"`
	Attempts int                    `json:"attempts"`
	Error    string                 `json:"error,omitempty"`
}

const (
	OutcomeReplied  = "replied"
	OutcomeFallback = "fallback"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// BatchProcessor consumes debounced batches: it invokes the assistant and
// sends either its reply or a single fallback message.
type BatchProcessor struct {
	messages inboxDomain.MessageStore
	invoker  *Invoker
	replier  Replier
}

func NewBatchProcessor(messages inboxDomain.MessageStore, invoker *Invoker, replier Replier) *BatchProcessor {
	return &BatchProcessor{messages: messages, invoker: invoker, replier: replier}
}

// Handle matches inboxApp.BatchHandler.
func (p *BatchProcessor) Handle(ctx context.Context, batch inboxDomain.MessageBatch) error {
	_, err := p.Process(ctx, batch)
	return err
}

// Process runs one batch. Only a failure before anything was sent is returned
// as an error; it wraps inboxApp.ErrBatchDeferred so the batch is retried.
func (p *BatchProcessor) Process(ctx context.Context, batch inboxDomain.MessageBatch) (BatchOutcome, error) {
	out := BatchOutcome{TicketID: batch.TicketID, BatchID: batch.ID}
	log := logrus.WithFields(logrus.Fields{
		"ticket_id": batch.TicketID,
		"batch_id":  batch.ID,
		"messages":  len(batch.Messages),
	})

	ticket, err := p.messages.GetTicket(ctx, batch.TicketID)
	if err != nil {
		if pkgError.IsTransient(err) {
			return p.finish(out, OutcomeFailed, err), fmt.Errorf("%w: %v", inboxApp.ErrBatchDeferred, err)
		}
		log.WithError(err).Warn("[ASSISTANT] ticket not found, dropping batch")
		return p.finish(out, OutcomeSkipped, err), nil
	}

	inv, err := p.invoker.Invoke(ctx, *ticket, batch)
	out.Attempts = inv.Result.Attempts
	if err == nil {
		res, sendErr := p.replier.Send(ctx, inboxApp.Outbound{
			Ticket:  *ticket,
			Gateway: inv.Resolution.GatewayInstance,
			Kind:    inboxApp.KindReply,
			Text:    inv.Result.Text,
			Audio:   inv.Result.Audio,
		})
		if sendErr != nil {
			return p.finish(out, OutcomeFailed, sendErr), nil
		}
		out.Reply = &res
		return p.finish(out, OutcomeReplied, nil), nil
	}

	if ctx.Err() != nil {
		return p.finish(out, OutcomeFailed, err), fmt.Errorf("%w: %v", inboxApp.ErrBatchDeferred, err)
	}
	var se *pkgError.StorageError
	if errors.As(err, &se) {
		if !batch.Final {
			return p.finish(out, OutcomeFailed, err), fmt.Errorf("%w: %v", inboxApp.ErrBatchDeferred, err)
		}
		// out of retries: answer with the fallback if we can still reach the customer
		if rerr := p.invoker.FallbackRoute(ctx, *ticket, &inv.Resolution); rerr != nil {
			log.WithError(rerr).Error("[ASSISTANT] no route for a fallback, batch stays pending")
			return p.finish(out, OutcomeFailed, err), fmt.Errorf("%w: %v", inboxApp.ErrBatchDeferred, errors.Join(err, rerr))
		}
		return p.sendFallback(ctx, *ticket, inv, out, err), nil
	}

	var fe *pkgError.FatalError
	if errors.As(err, &fe) {
		out.Reasons = fe.Reasons
		if fe.Has(pkgError.ReasonNoContent) {
			log.Info("[ASSISTANT] batch has no text, nothing to answer")
			return p.finish(out, OutcomeSkipped, err), nil
		}
	}

	return p.sendFallback(ctx, *ticket, inv, out, err), nil
}

// sendFallback sends exactly one fallback text. The dispatcher's own attempt
// cap is the only retry.
func (p *BatchProcessor) sendFallback(ctx context.Context, ticket inboxDomain.Ticket, inv Invocation, out BatchOutcome, cause error) BatchOutcome {
	log := logrus.WithFields(logrus.Fields{
		"ticket_id": ticket.ID,
		"batch_id":  out.BatchID,
	}).WithError(cause)

	text := strings.TrimSpace(inv.Resolution.Fallback)
	if inv.Resolution.GatewayInstance == "" || text == "" {
		log.Error("[ASSISTANT] invocation failed and no fallback can be sent")
		return p.finish(out, OutcomeFailed, cause)
	}

	log.Warn("[ASSISTANT] invocation failed, sending fallback")
	res, err := p.replier.Send(ctx, inboxApp.Outbound{
		Ticket:  ticket,
		Gateway: inv.Resolution.GatewayInstance,
		Kind:    inboxApp.KindFallback,
		Text:    text,
	})
	if err != nil {
		return p.finish(out, OutcomeFailed, errors.Join(cause, err))
	}
	out.Reply = &res
	return p.finish(out, OutcomeFallback, cause)
}

func (p *BatchProcessor) finish(out BatchOutcome, outcome string, err error) BatchOutcome {
	out.Outcome = outcome
	if err != nil {
		out.Error = err.Error()
	}
	metrics.BatchesProcessed.WithLabelValues(outcome).Inc()
	return out
}
