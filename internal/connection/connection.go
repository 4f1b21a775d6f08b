// Package connection owns the per-phone-number WhatsApp session: its
// lifecycle state machine, its outbound delivery queue and its delivery
// health monitor. Each phone number gets one actor that exclusively
// owns the socket handle, the queue and the pending-delivery table;
// nothing is shared across phone numbers.
package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hackgods/confirmation-messenger/internal/agenda"
	"github.com/hackgods/confirmation-messenger/internal/transport"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateAwaitingScan State = "awaiting_scan"
	StateConnected    State = "connected"
	StateDisabled     State = "disabled"
)

type Kind string

const (
	// KindReply is a direct answer to a patient; paced short so the
	// conversation stays responsive.
	KindReply Kind = "reply"
	// KindBulk is campaign-style outreach; paced long to stay under
	// the transport's spam heuristics.
	KindBulk Kind = "bulk"
)

var (
	ErrConnectInProgress = errors.New("connection attempt already in progress")
	ErrDisabled          = errors.New("connection is disabled")
	ErrConnectTimeout    = errors.New("connection attempt timed out")
	ErrUnknownPhone      = errors.New("no connection for phone number")
	ErrConnectionClosed  = errors.New("connection closed during attempt")
)

// OutboundMessage is one queued send. Immutable once enqueued.
type OutboundMessage struct {
	Destination    string
	Text           string
	Kind           Kind
	SkipValidation bool
	AppointmentID  *int64
	// CreateConfirmationWindow opens the patient reply window after the
	// message is actually delivered, never at enqueue time.
	CreateConfirmationWindow bool
}

// PendingDelivery correlates a sent message with its transport ack.
type PendingDelivery struct {
	ProviderMessageID string
	PhoneNumber       string
	Destination       string
	EnqueuedAt        time.Time
	AppointmentID     *int64
	Text              string
}

// StatusSnapshot is the externally visible state of one connection.
type StatusSnapshot struct {
	PhoneNumber       string `json:"phoneNumber"`
	State             State  `json:"state"`
	QueueLength       int    `json:"queueLength"`
	PendingDeliveries int    `json:"pendingDeliveries"`
	HistorySynced     bool   `json:"historySynced"`
	ReconnectAllowed  bool   `json:"reconnectAllowed"`
}

// Notifier pushes connection-state and delivery telemetry to the
// appointment system. *agenda.Client implements it.
type Notifier interface {
	PushConnectionStatus(ctx context.Context, phone, status, qrURL string) error
	ReportMessageStatus(ctx context.Context, report agenda.MessageStatusReport)
	ReportEvent(ctx context.Context, ev agenda.LifecycleEvent)
}

// InboundHandler receives raw inbound messages from a connection.
type InboundHandler func(phone string, msg transport.Inbound)

// Options are the manager tunables. Zero values take the defaults.
type Options struct {
	ConnectTimeout   time.Duration // overall bound on a connect attempt
	QRWindow         time.Duration // how long a requested QR stays displayable
	QueueCapacity    int
	SendRetries      int
	RetryBackoff     time.Duration // multiplied by the attempt number
	CorruptedBackoff time.Duration // extra wait after session-corruption errors
	HistorySyncWait  time.Duration // bulk sends wait this long for initial sync
	ReplyPacingMin   time.Duration
	ReplyPacingMax   time.Duration
	BulkPacingMin    time.Duration
	BulkPacingMax    time.Duration
	MonitorInterval  time.Duration
	DeliveryTimeout  time.Duration // pending delivery counts as stale past this
	DeliveryCeiling  time.Duration // pending delivery is purged past this
	StaleThreshold   int           // stale count that forces a reconnect
	ConfirmationTTL  time.Duration // patient reply window
	ReconnectDelay   time.Duration
	FastReconnect    time.Duration // used for restart-required closes
}

func (o Options) withDefaults() Options {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&o.ConnectTimeout, 30*time.Second)
	def(&o.QRWindow, 5*time.Minute)
	def(&o.RetryBackoff, 2*time.Second)
	def(&o.CorruptedBackoff, 10*time.Second)
	def(&o.HistorySyncWait, 30*time.Second)
	def(&o.ReplyPacingMin, time.Second)
	def(&o.ReplyPacingMax, 3*time.Second)
	def(&o.BulkPacingMin, 20*time.Second)
	def(&o.BulkPacingMax, 40*time.Second)
	def(&o.MonitorInterval, 2*time.Minute)
	def(&o.DeliveryTimeout, 3*time.Minute)
	def(&o.DeliveryCeiling, 10*time.Minute)
	def(&o.ConfirmationTTL, 6*time.Hour)
	def(&o.ReconnectDelay, 5*time.Second)
	def(&o.FastReconnect, time.Second)
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 100
	}
	if o.SendRetries <= 0 {
		o.SendRetries = 3
	}
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = 2
	}
	return o
}

// conn is the per-phone actor state. All fields are guarded by mu; the
// socket handle is owned by this actor alone. gen increments every time
// the socket is replaced or deliberately torn down, so events from a
// stale socket are ignored.
type conn struct {
	phone string

	mu               sync.Mutex
	state            State
	reconnectAllowed bool
	disabled         bool
	qrDeadline       time.Time
	historySynced    bool
	historyCh        chan struct{}
	client           transport.Client
	gen              int

	queue    []OutboundMessage
	draining bool

	pending map[string]PendingDelivery

	monitorStop chan struct{}
	connectCh   chan connectResult
}

type connectResult struct {
	qrURL string
	err   error
}

func newConn(phone string) *conn {
	return &conn{
		phone:   phone,
		state:   StateDisconnected,
		pending: make(map[string]PendingDelivery),
	}
}
