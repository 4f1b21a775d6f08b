package connection

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/confirmation-messenger/internal/agenda"
)

// monitor is the delivery health monitor for one connected session. A
// socket can look open while the provider silently stops delivering;
// acks stop arriving and pending deliveries pile up. The sweep detects
// that and force-closes the socket so the normal close path reconnects
// with existing credentials.
func (m *Manager) monitor(c *conn, gen int, stop <-chan struct{}) {
	ticker := time.NewTicker(m.opts.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !m.sweep(c, gen) {
				return
			}
		}
	}
}

// sweep runs one pass. Returns false when the session is gone or was
// force-closed, ending the monitor.
func (m *Manager) sweep(c *conn, gen int) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}

	now := time.Now()
	stale := 0
	var purged []PendingDelivery
	for id, pd := range c.pending {
		age := now.Sub(pd.EnqueuedAt)
		switch {
		case age >= m.opts.DeliveryCeiling:
			// The transport dropped this silently; keeping the entry
			// forever only leaks memory.
			delete(c.pending, id)
			purged = append(purged, pd)
		case age >= m.opts.DeliveryTimeout:
			stale++
		}
	}
	client := c.client
	c.mu.Unlock()

	if len(purged) > 0 {
		m.failDeliveries(c.phone, purged, "delivery never acknowledged")
	}

	if stale >= m.opts.StaleThreshold && client != nil {
		m.log.Warn("stale deliveries detected, forcing reconnect",
			zap.String("phone", c.phone),
			zap.Int("stale", stale))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		m.notifier.ReportEvent(ctx, agenda.LifecycleEvent{
			PhoneNumber: c.phone,
			Event:       "forced_reconnect",
			Detail:      "stale pending deliveries",
		})
		cancel()

		// Close routes through the normal close handling, which
		// schedules a credential-based reconnect without a new QR.
		_ = client.Close()
		return false
	}
	return true
}
