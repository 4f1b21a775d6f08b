package connection

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/confirmation-messenger/internal/agenda"
	"github.com/hackgods/confirmation-messenger/internal/phone"
	"github.com/hackgods/confirmation-messenger/internal/transport"
)

// Enqueue appends msg to the phone's outbound queue and starts the
// drain loop if idle. Returns false when the connection is not open or
// the queue is at capacity; callers treat that as a normal refusal, not
// an error.
func (m *Manager) Enqueue(phoneNumber string, msg OutboundMessage) bool {
	c := m.get(phoneNumber)
	if c == nil {
		return false
	}

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return false
	}
	if len(c.queue) >= m.opts.QueueCapacity {
		c.mu.Unlock()
		m.log.Warn("outbound queue full",
			zap.String("phone", phoneNumber),
			zap.Int("capacity", m.opts.QueueCapacity))
		return false
	}
	c.queue = append(c.queue, msg)
	start := !c.draining
	if start {
		c.draining = true
	}
	c.mu.Unlock()

	if start {
		go m.drain(c)
	}
	return true
}

type sendOutcome int

const (
	outcomeSent sendOutcome = iota
	outcomeDropped
	outcomeAborted
)

// drain empties the queue one message at a time. Exactly one drain runs
// per connection; the draining flag under c.mu serializes it. If the
// connection dies mid-drain the loop aborts and the remaining items
// stay queued for the next open.
func (m *Manager) drain(c *conn) {
	for {
		c.mu.Lock()
		if c.state != StateConnected || c.client == nil || len(c.queue) == 0 {
			c.draining = false
			c.mu.Unlock()
			return
		}
		msg := c.queue[0]
		client := c.client
		gen := c.gen
		synced := c.historySynced
		syncCh := c.historyCh
		c.mu.Unlock()

		if msg.Kind == KindBulk && !synced {
			// Bulk sends must not race the initial history sync; wait a
			// bounded time then proceed rather than starving the queue.
			select {
			case <-syncCh:
			case <-time.After(m.opts.HistorySyncWait):
				m.log.Warn("history sync wait elapsed, sending anyway",
					zap.String("phone", c.phone))
			}
		}

		outcome := m.sendOne(c, client, gen, msg)
		if outcome == outcomeAborted {
			c.mu.Lock()
			c.draining = false
			c.mu.Unlock()
			return
		}

		// The head left the client one way or the other, so it must be
		// popped even if the connection closed during the send; a close
		// keeps the queue for the next open and leaving the delivered
		// head in place would send it twice. A teardown that discarded
		// the queue makes this a no-op, and the loop head re-checks the
		// connection state before touching the next item.
		c.mu.Lock()
		if len(c.queue) > 0 {
			c.queue = c.queue[1:]
		}
		c.mu.Unlock()

		m.pace(msg.Kind)
	}
}

// sendOne resolves the destination, sends with bounded retries, and on
// success records the pending delivery and opens the confirmation
// window.
func (m *Manager) sendOne(c *conn, client transport.Client, gen int, msg OutboundMessage) sendOutcome {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	jid, outcome := m.resolveDestination(ctx, c, client, msg)
	if outcome != outcomeSent {
		return outcome
	}

	var providerID string
	var lastErr error
	for attempt := 1; attempt <= m.opts.SendRetries; attempt++ {
		providerID, lastErr = client.Send(ctx, jid, msg.Text)
		if lastErr == nil {
			break
		}
		if errors.Is(lastErr, transport.ErrNotConnected) || m.connGone(c, gen) {
			return outcomeAborted
		}
		backoff := time.Duration(attempt) * m.opts.RetryBackoff
		if errors.Is(lastErr, transport.ErrSessionCorrupted) {
			backoff += m.opts.CorruptedBackoff
		}
		m.log.Warn("send attempt failed",
			zap.String("phone", c.phone),
			zap.String("destination", jid),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		time.Sleep(backoff)
	}
	if lastErr != nil {
		m.reportSendFailure(c.phone, msg, "send retries exhausted: "+lastErr.Error())
		return outcomeDropped
	}

	pd := PendingDelivery{
		ProviderMessageID: providerID,
		PhoneNumber:       c.phone,
		Destination:       jid,
		EnqueuedAt:        time.Now(),
		AppointmentID:     msg.AppointmentID,
		Text:              msg.Text,
	}

	c.mu.Lock()
	if gen == c.gen {
		c.pending[providerID] = pd
	}
	c.mu.Unlock()

	// The reply window opens only now, after the transport accepted the
	// message; an enqueue-time window would start ticking before the
	// patient could possibly have seen anything.
	if msg.CreateConfirmationWindow && msg.AppointmentID != nil {
		if _, err := m.store.Create(ctx, *msg.AppointmentID, phone.Digits(jid), m.opts.ConfirmationTTL); err != nil {
			m.log.Error("create pending confirmation failed",
				zap.Int64("appointment_id", *msg.AppointmentID),
				zap.Error(err))
		}
	}

	m.notifier.ReportMessageStatus(ctx, agenda.MessageStatusReport{
		PhoneNumber:   c.phone,
		Destination:   jid,
		AppointmentID: msg.AppointmentID,
		Status:        "sent",
	})
	return outcomeSent
}

// resolveDestination picks the JID to send to. Reply targets are used
// as-is; anything else is validated against the transport's
// number-existence check across the candidate forms, in priority order.
func (m *Manager) resolveDestination(ctx context.Context, c *conn, client transport.Client, msg OutboundMessage) (string, sendOutcome) {
	if msg.SkipValidation {
		return msg.Destination, outcomeSent
	}

	for _, candidate := range phone.Variants(msg.Destination) {
		if !strings.Contains(candidate, "@") {
			continue
		}
		ok, err := client.Exists(ctx, candidate)
		if err != nil {
			if errors.Is(err, transport.ErrNotConnected) {
				return "", outcomeAborted
			}
			m.log.Warn("number check failed",
				zap.String("phone", c.phone),
				zap.String("candidate", candidate),
				zap.Error(err))
			continue
		}
		if ok {
			return candidate, outcomeSent
		}
	}

	m.reportSendFailure(c.phone, msg, "no valid number form for destination")
	return "", outcomeDropped
}

func (m *Manager) reportSendFailure(phoneNumber string, msg OutboundMessage, reason string) {
	m.log.Warn("message dropped",
		zap.String("phone", phoneNumber),
		zap.String("destination", msg.Destination),
		zap.String("reason", reason))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.notifier.ReportMessageStatus(ctx, agenda.MessageStatusReport{
		PhoneNumber:   phoneNumber,
		Destination:   msg.Destination,
		AppointmentID: msg.AppointmentID,
		Status:        "failed",
		Detail:        reason,
	})
}

func (m *Manager) connGone(c *conn, gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.gen || c.state != StateConnected
}

// pace sleeps a randomized interval between queue items: short for
// replies, long for bulk, so one connection never bursts.
func (m *Manager) pace(kind Kind) {
	lo, hi := m.opts.ReplyPacingMin, m.opts.ReplyPacingMax
	if kind == KindBulk {
		lo, hi = m.opts.BulkPacingMin, m.opts.BulkPacingMax
	}
	if hi <= lo {
		time.Sleep(lo)
		return
	}
	time.Sleep(lo + rand.N(hi-lo))
}
