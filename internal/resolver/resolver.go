// Package resolver turns raw inbound WhatsApp messages into appointment
// confirmations and cancellations: it matches the sender to an open
// reply window, classifies the text, drives the appointment-system
// status update and queues the reply.
package resolver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/confirmation-messenger/internal/agenda"
	"github.com/hackgods/confirmation-messenger/internal/confirmation"
	"github.com/hackgods/confirmation-messenger/internal/connection"
	"github.com/hackgods/confirmation-messenger/internal/intent"
	"github.com/hackgods/confirmation-messenger/internal/phone"
	"github.com/hackgods/confirmation-messenger/internal/transport"
)

// Enqueuer queues outbound replies; *connection.Manager implements it.
type Enqueuer interface {
	Enqueue(phoneNumber string, msg connection.OutboundMessage) bool
}

// Deduper suppresses redelivered inbound messages.
type Deduper interface {
	Seen(ctx context.Context, providerMessageID string) bool
}

// AppointmentAPI is the slice of the agenda client the resolver needs.
type AppointmentAPI interface {
	UpdateBlockStatus(ctx context.Context, appointmentID int64, status agenda.BlockStatus, reasonLack string) error
	Details(ctx context.Context, appointmentID int64) (*agenda.AppointmentDetails, error)
	Template(ctx context.Context, appointmentID int64, kind agenda.TemplateKind, variant agenda.TemplateVariant) (string, error)
}

type Resolver struct {
	store      confirmation.Repository
	api        AppointmentAPI
	queue      Enqueuer
	pipeline   *intent.Pipeline
	keywords   *intent.KeywordClassifier
	dedup      Deduper
	reasonLack string
	timeout    time.Duration
	log        *zap.Logger
}

func New(store confirmation.Repository, api AppointmentAPI, queue Enqueuer, pipeline *intent.Pipeline, keywords *intent.KeywordClassifier, dedup Deduper, reasonLack string, log *zap.Logger) *Resolver {
	return &Resolver{
		store:      store,
		api:        api,
		queue:      queue,
		pipeline:   pipeline,
		keywords:   keywords,
		dedup:      dedup,
		reasonLack: reasonLack,
		timeout:    30 * time.Second,
		log:        log,
	}
}

// HandleInbound processes one inbound message. Wired into the
// connection manager as its InboundHandler; runs on its own goroutine.
func (r *Resolver) HandleInbound(phoneNumber string, msg transport.Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if msg.ProviderID != "" && r.dedup.Seen(ctx, msg.ProviderID) {
		r.log.Debug("duplicate inbound dropped", zap.String("provider_id", msg.ProviderID))
		return
	}

	text := msg.PlainText()
	sender := msg.Sender()
	if text == "" || sender == "" {
		return
	}

	log := r.log.With(
		zap.String("phone", phoneNumber),
		zap.String("sender", sender))

	candidates := phone.Variants(sender)
	matches, err := r.store.FindActiveByPhones(ctx, candidates, time.Now())
	if err != nil {
		log.Error("pending confirmation lookup failed", zap.Error(err))
		return
	}

	if len(matches) == 0 {
		// Unmatched chatter stays unanswered unless it clearly tried to
		// confirm or cancel something.
		if r.keywords.ContainsAnyKeyword(intent.Normalize(text)) {
			r.reply(phoneNumber, sender, msgNoActiveConfirmation, nil)
		}
		return
	}
	pc := matches[0] // most recently created wins

	decided := r.pipeline.Classify(ctx, text)
	log.Info("inbound classified",
		zap.Int64("appointment_id", pc.AppointmentID),
		zap.String("intent", string(decided)))

	switch decided {
	case intent.Confirm:
		r.settle(ctx, phoneNumber, sender, pc, candidates, agenda.StatusConfirmed)
	case intent.Cancel:
		r.settle(ctx, phoneNumber, sender, pc, candidates, agenda.StatusCancelled)
	default:
		r.reply(phoneNumber, sender, msgPleaseRephrase, &pc.AppointmentID)
	}
}

// settle applies a decided intent: update the appointment system,
// render and queue the reply, close the window, and maybe prompt about
// the sender's next pending appointment.
func (r *Resolver) settle(ctx context.Context, phoneNumber, sender string, pc confirmation.PendingConfirmation, candidates []string, status agenda.BlockStatus) {
	reasonLack := ""
	if status == agenda.StatusCancelled {
		reasonLack = r.reasonLack
	}

	if err := r.api.UpdateBlockStatus(ctx, pc.AppointmentID, status, reasonLack); err != nil {
		// The window stays open so the patient can just answer again.
		r.log.Warn("status update failed, keeping confirmation window",
			zap.Int64("appointment_id", pc.AppointmentID),
			zap.Error(err))
		r.reply(phoneNumber, sender, msgApology, &pc.AppointmentID)
		return
	}

	details, err := r.api.Details(ctx, pc.AppointmentID)
	if err != nil {
		r.log.Warn("details fetch failed, using fixed reply",
			zap.Int64("appointment_id", pc.AppointmentID),
			zap.Error(err))
	}

	r.reply(phoneNumber, sender, r.renderOutcome(ctx, pc.AppointmentID, status, details), &pc.AppointmentID)

	// Every row for the appointment goes, including stale duplicates
	// left behind by retried sends.
	if err := r.store.DeleteByAppointment(ctx, pc.AppointmentID); err != nil {
		r.log.Error("delete pending confirmation failed",
			zap.Int64("appointment_id", pc.AppointmentID),
			zap.Error(err))
	}

	r.followUp(ctx, phoneNumber, sender, pc.AppointmentID, candidates, details)
}

// followUp asks about the sender's next unanswered appointment, unless
// it is the same time block as the one just resolved; duplicates of the
// block are silently deleted so the patient is never asked twice about
// one visit.
func (r *Resolver) followUp(ctx context.Context, phoneNumber, sender string, resolvedID int64, candidates []string, resolved *agenda.AppointmentDetails) {
	others, err := r.store.FindOtherActiveForPhones(ctx, candidates, resolvedID, time.Now())
	if err != nil {
		r.log.Warn("follow-up lookup failed", zap.Error(err))
		return
	}

	seen := make(map[int64]struct{})
	for _, other := range others {
		if _, dup := seen[other.AppointmentID]; dup {
			continue
		}
		seen[other.AppointmentID] = struct{}{}

		details, err := r.api.Details(ctx, other.AppointmentID)
		if err != nil {
			r.log.Warn("follow-up details fetch failed",
				zap.Int64("appointment_id", other.AppointmentID),
				zap.Error(err))
			continue
		}

		if resolved != nil && details.SameBlock(*resolved) {
			if err := r.store.DeleteByAppointment(ctx, other.AppointmentID); err != nil {
				r.log.Error("delete duplicate-block confirmation failed",
					zap.Int64("appointment_id", other.AppointmentID),
					zap.Error(err))
			}
			continue
		}

		r.reply(phoneNumber, sender, renderFollowUp(details), &other.AppointmentID)
		return
	}
}

func (r *Resolver) reply(phoneNumber, destination, text string, appointmentID *int64) {
	ok := r.queue.Enqueue(phoneNumber, connection.OutboundMessage{
		Destination:    destination,
		Text:           text,
		Kind:           connection.KindReply,
		SkipValidation: true, // the sender address is a confirmed reply target
		AppointmentID:  appointmentID,
	})
	if !ok {
		r.log.Warn("reply enqueue refused",
			zap.String("phone", phoneNumber),
			zap.String("destination", destination))
	}
}

// renderOutcome prefers the clinic's custom template for this
// appointment and variant, falling back to the fixed text.
func (r *Resolver) renderOutcome(ctx context.Context, appointmentID int64, status agenda.BlockStatus, details *agenda.AppointmentDetails) string {
	kind := agenda.TemplateConfirmation
	if status == agenda.StatusCancelled {
		kind = agenda.TemplateCancellation
	}
	variant := agenda.VariantAdult
	if details != nil && details.PatientMinor {
		variant = agenda.VariantMinor
	}

	tpl, err := r.api.Template(ctx, appointmentID, kind, variant)
	if err == nil && tpl != "" {
		return renderTemplate(tpl, details)
	}
	if err != nil && !errors.Is(err, agenda.ErrNoTemplate) {
		r.log.Warn("template fetch failed, using fallback",
			zap.Int64("appointment_id", appointmentID),
			zap.Error(err))
	}

	if status == agenda.StatusCancelled {
		return renderCancelled(details)
	}
	return renderConfirmed(details)
}
