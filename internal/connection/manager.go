package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/confirmation-messenger/internal/agenda"
	"github.com/hackgods/confirmation-messenger/internal/confirmation"
	"github.com/hackgods/confirmation-messenger/internal/transport"
)

// Manager is the registry of per-phone connections.
type Manager struct {
	dialer   transport.Dialer
	creds    transport.CredentialStore
	store    confirmation.Repository
	notifier Notifier
	log      *zap.Logger
	opts     Options

	mu    sync.Mutex
	conns map[string]*conn

	onInbound InboundHandler
}

func NewManager(dialer transport.Dialer, creds transport.CredentialStore, store confirmation.Repository, notifier Notifier, opts Options, log *zap.Logger) *Manager {
	return &Manager{
		dialer:   dialer,
		creds:    creds,
		store:    store,
		notifier: notifier,
		log:      log,
		opts:     opts.withDefaults(),
		conns:    make(map[string]*conn),
	}
}

// WithInboundHandler wires the resolver in after construction; the
// resolver needs the manager to enqueue replies, so the dependency runs
// this way around.
func (m *Manager) WithInboundHandler(h InboundHandler) *Manager {
	m.onInbound = h
	return m
}

func (m *Manager) get(phone string) *conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[phone]
}

func (m *Manager) getOrCreate(phone string) *conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.conns[phone]
	if c == nil {
		c = newConn(phone)
		m.conns[phone] = c
	}
	return c
}

// Connect opens (or re-opens) the session for phone. When requestQR is
// set a QR display window is armed and the call resolves with the QR
// url once the provider issues one; otherwise it resolves empty when
// the session opens with existing credentials. A connect attempt that
// neither opens nor produces a QR within the configured timeout is
// abandoned.
func (m *Manager) Connect(ctx context.Context, phone string, requestQR bool) (string, error) {
	c := m.getOrCreate(phone)

	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateAwaitingScan:
		c.mu.Unlock()
		return "", ErrConnectInProgress
	case StateConnected:
		c.mu.Unlock()
		return "", nil
	}
	if c.disabled && !requestQR {
		c.mu.Unlock()
		return "", ErrDisabled
	}
	if requestQR {
		c.qrDeadline = time.Now().Add(m.opts.QRWindow)
		c.disabled = false
		c.reconnectAllowed = true
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	resCh := make(chan connectResult, 1)
	c.connectCh = resCh
	c.mu.Unlock()

	m.persistStatus(phone, StateConnecting, "")

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	client, err := m.dialer.Dial(dialCtx, phone, m.events(c, gen))
	if err != nil {
		m.abandonAttempt(c, gen, nil)
		return "", fmt.Errorf("dial transport: %w", err)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = client.Close()
		return "", ErrConnectionClosed
	}
	c.client = client
	// The open event may have raced ahead of the handle being stored;
	// restart the drain for any backlog in that case.
	startDrain := c.state == StateConnected && len(c.queue) > 0 && !c.draining
	if startDrain {
		c.draining = true
	}
	c.mu.Unlock()
	if startDrain {
		go m.drain(c)
	}

	select {
	case res := <-resCh:
		if res.err != nil {
			return "", res.err
		}
		return res.qrURL, nil
	case <-dialCtx.Done():
		m.abandonAttempt(c, gen, client)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", ErrConnectTimeout
	}
}

// abandonAttempt reverts a connect attempt that never completed.
func (m *Manager) abandonAttempt(c *conn, gen int, client transport.Client) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.client = nil
	c.connectCh = nil
	if c.state == StateConnecting || c.state == StateAwaitingScan {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
	m.persistStatus(c.phone, StateDisconnected, "")
}

// events builds the handler set for one dialed socket. Every handler
// checks the generation so a replaced socket cannot mutate newer state.
func (m *Manager) events(c *conn, gen int) transport.Events {
	return transport.Events{
		QR:          func(url string) { m.handleQR(c, gen, url) },
		Open:        func() { m.handleOpen(c, gen) },
		HistorySync: func() { m.handleHistorySync(c, gen) },
		Ack:         func(id string) { m.handleAck(c, gen, id) },
		Message:     func(msg transport.Inbound) { m.handleMessage(c, gen, msg) },
		Close:       func(code transport.StatusCode, reason string) { m.handleClose(c, gen, code, reason) },
	}
}

func (m *Manager) handleQR(c *conn, gen int, url string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	if c.qrDeadline.IsZero() || time.Now().After(c.qrDeadline) {
		// Nobody asked for a QR: someone's pairing expired and the
		// provider wants a fresh scan. Re-prompting silently would ask
		// a human to scan a code nobody is looking at, so disable the
		// number until an operator explicitly requests a new QR.
		c.gen++
		client := c.client
		c.client = nil
		c.state = StateDisabled
		c.disabled = true
		c.qrDeadline = time.Time{}
		ch := c.connectCh
		c.connectCh = nil
		pendings := c.takePending()
		c.mu.Unlock()

		m.log.Warn("unsolicited qr, disabling connection", zap.String("phone", c.phone))
		if ch != nil {
			ch <- connectResult{}
		}
		if client != nil {
			_ = client.Close()
		}
		m.failDeliveries(c.phone, pendings, "connection disabled by unsolicited qr")
		m.persistStatus(c.phone, StateDisabled, "")
		return
	}

	c.state = StateAwaitingScan
	ch := c.connectCh
	c.connectCh = nil
	c.mu.Unlock()

	m.log.Info("qr issued", zap.String("phone", c.phone))
	m.persistStatus(c.phone, StateAwaitingScan, url)
	if ch != nil {
		ch <- connectResult{qrURL: url}
	}
}

func (m *Manager) handleOpen(c *conn, gen int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.qrDeadline = time.Time{}
	c.historySynced = false
	c.historyCh = make(chan struct{})
	c.reconnectAllowed = true
	ch := c.connectCh
	c.connectCh = nil

	stop := make(chan struct{})
	c.monitorStop = stop

	hasQueued := len(c.queue) > 0
	startDrain := hasQueued && !c.draining
	if startDrain {
		c.draining = true
	}
	c.mu.Unlock()

	m.log.Info("connection open", zap.String("phone", c.phone))
	go m.monitor(c, gen, stop)

	if ch != nil {
		ch <- connectResult{}
	}
	m.persistStatus(c.phone, StateConnected, "")
	if startDrain {
		go m.drain(c)
	}
}

func (m *Manager) handleHistorySync(c *conn, gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.historySynced {
		return
	}
	c.historySynced = true
	if c.historyCh != nil {
		close(c.historyCh)
	}
}

func (m *Manager) handleAck(c *conn, gen int, providerMessageID string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	pd, ok := c.pending[providerMessageID]
	if ok {
		delete(c.pending, providerMessageID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.notifier.ReportMessageStatus(ctx, agenda.MessageStatusReport{
		PhoneNumber:   pd.PhoneNumber,
		Destination:   pd.Destination,
		AppointmentID: pd.AppointmentID,
		Status:        "delivered",
	})
}

func (m *Manager) handleMessage(c *conn, gen int, msg transport.Inbound) {
	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if stale || m.onInbound == nil {
		return
	}
	// Handlers must not block the event loop; resolution does HTTP and
	// store work.
	go m.onInbound(c.phone, msg)
}

func (m *Manager) handleClose(c *conn, gen int, code transport.StatusCode, reason string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	client := c.client
	c.client = nil
	c.state = StateDisconnected
	stop := c.monitorStop
	c.monitorStop = nil
	ch := c.connectCh
	c.connectCh = nil
	pendings := c.takePending()

	wipeCreds := code == transport.CodeBadSession
	delay := m.opts.ReconnectDelay
	if code == transport.CodeRestartRequired {
		delay = m.opts.FastReconnect
	}
	reconnect := c.reconnectAllowed && !c.disabled
	if c.disabled {
		c.state = StateDisabled
	}
	c.mu.Unlock()

	m.log.Warn("connection closed",
		zap.String("phone", c.phone),
		zap.Int("code", int(code)),
		zap.String("reason", reason))

	if stop != nil {
		close(stop)
	}
	if ch != nil {
		ch <- connectResult{err: fmt.Errorf("%w: %s (%d)", ErrConnectionClosed, reason, code)}
	}
	if client != nil {
		_ = client.Close()
	}
	if wipeCreds {
		// A bad session cannot be resumed; only a fresh pairing helps.
		// Logged-out closes keep credentials: a new scan can re-bind them.
		if err := m.creds.Wipe(c.phone); err != nil {
			m.log.Error("credential wipe failed", zap.String("phone", c.phone), zap.Error(err))
		}
	}

	m.failDeliveries(c.phone, pendings, fmt.Sprintf("connection closed: %s (%d)", reason, code))
	m.persistStatus(c.phone, StateDisconnected, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	m.notifier.ReportEvent(ctx, agenda.LifecycleEvent{
		PhoneNumber: c.phone,
		Event:       "connection_closed",
		Detail:      fmt.Sprintf("code=%d reason=%s", code, reason),
	})
	cancel()

	if reconnect {
		m.log.Info("scheduling reconnect",
			zap.String("phone", c.phone),
			zap.Duration("delay", delay))
		time.AfterFunc(delay, func() { m.reconnect(c.phone) })
	}
}

// reconnect re-opens a session with existing credentials; no QR window
// is armed, so a provider that demands a fresh scan lands in the
// unsolicited-QR path and disables the number instead of prompting.
func (m *Manager) reconnect(phone string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ConnectTimeout+5*time.Second)
	defer cancel()

	if _, err := m.Connect(ctx, phone, false); err != nil {
		m.log.Warn("reconnect attempt failed", zap.String("phone", phone), zap.Error(err))
	}
}

// Disconnect is the explicit terminal transition: log out, drop the
// queue, fail pending deliveries, erase credentials, disable.
func (m *Manager) Disconnect(ctx context.Context, phone string) error {
	c := m.get(phone)
	if c == nil {
		return ErrUnknownPhone
	}

	c.mu.Lock()
	c.gen++
	client := c.client
	c.client = nil
	c.state = StateDisabled
	c.disabled = true
	c.reconnectAllowed = false
	c.qrDeadline = time.Time{}
	dropped := len(c.queue)
	c.queue = nil
	stop := c.monitorStop
	c.monitorStop = nil
	ch := c.connectCh
	c.connectCh = nil
	pendings := c.takePending()
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if ch != nil {
		ch <- connectResult{err: ErrDisabled}
	}
	if client != nil {
		if err := client.Logout(ctx); err != nil {
			m.log.Warn("logout failed", zap.String("phone", phone), zap.Error(err))
		}
		_ = client.Close()
	}
	if err := m.creds.Wipe(phone); err != nil {
		m.log.Error("credential wipe failed", zap.String("phone", phone), zap.Error(err))
	}

	m.failDeliveries(phone, pendings, "disconnected by request")
	if dropped > 0 {
		m.log.Info("queue discarded", zap.String("phone", phone), zap.Int("messages", dropped))
	}
	m.persistStatus(phone, StateDisabled, "")
	return nil
}

// Status returns the snapshot for one phone number.
func (m *Manager) Status(phone string) (StatusSnapshot, error) {
	c := m.get(phone)
	if c == nil {
		return StatusSnapshot{}, ErrUnknownPhone
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return StatusSnapshot{
		PhoneNumber:       c.phone,
		State:             c.state,
		QueueLength:       len(c.queue),
		PendingDeliveries: len(c.pending),
		HistorySynced:     c.historySynced,
		ReconnectAllowed:  c.reconnectAllowed,
	}, nil
}

// Shutdown closes every open socket. Queues are left as-is; this is
// process teardown, not a per-number disconnect.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		c.gen++
		client := c.client
		c.client = nil
		if c.state == StateConnected || c.state == StateConnecting || c.state == StateAwaitingScan {
			c.state = StateDisconnected
		}
		stop := c.monitorStop
		c.monitorStop = nil
		ch := c.connectCh
		c.connectCh = nil
		c.mu.Unlock()

		if stop != nil {
			close(stop)
		}
		if ch != nil {
			ch <- connectResult{err: ErrConnectionClosed}
		}
		if client != nil {
			_ = client.Close()
		}
	}
}

// takePending empties the pending-delivery table. Caller holds c.mu.
func (c *conn) takePending() []PendingDelivery {
	if len(c.pending) == 0 {
		return nil
	}
	out := make([]PendingDelivery, 0, len(c.pending))
	for id, pd := range c.pending {
		out = append(out, pd)
		delete(c.pending, id)
	}
	return out
}

func (m *Manager) failDeliveries(phone string, pendings []PendingDelivery, reason string) {
	if len(pendings) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, pd := range pendings {
		m.notifier.ReportMessageStatus(ctx, agenda.MessageStatusReport{
			PhoneNumber:   pd.PhoneNumber,
			Destination:   pd.Destination,
			AppointmentID: pd.AppointmentID,
			Status:        "failed",
			Detail:        reason,
		})
	}
	m.log.Warn("failed pending deliveries",
		zap.String("phone", phone),
		zap.Int("count", len(pendings)),
		zap.String("reason", reason))
}

// persistStatus records the state in the store and pushes it to the
// appointment system. Both are best-effort.
func (m *Manager) persistStatus(phone string, state State, qrURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.store.UpsertConnectionStatus(ctx, phone, string(state), state == StateDisabled); err != nil {
		m.log.Warn("persist connection status failed", zap.String("phone", phone), zap.Error(err))
	}
	if err := m.notifier.PushConnectionStatus(ctx, phone, string(state), qrURL); err != nil {
		m.log.Warn("push connection status failed", zap.String("phone", phone), zap.Error(err))
	}
}
