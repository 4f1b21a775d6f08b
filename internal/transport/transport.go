// Package transport defines the capability surface of the WhatsApp
// connection provider. The wire and crypto protocol live in an external
// sidecar process; this package only speaks to it. A connection is
// event-driven: the dialer opens a session and pushes QR, open, close,
// ack and inbound-message events into the handler set supplied at dial
// time.
package transport

import (
	"context"
	"errors"
	"time"
)

// Close status codes reported by the provider, mirroring the transport
// library's disconnect reasons.
type StatusCode int

const (
	CodeLoggedOut        StatusCode = 401
	CodeConnectionLost   StatusCode = 408
	CodeConnectionClosed StatusCode = 428
	CodeReplaced         StatusCode = 440
	CodeBadSession       StatusCode = 500
	CodeRestartRequired  StatusCode = 515
)

var (
	// ErrSessionCorrupted marks send failures caused by a broken crypto
	// session; senders back off longer before retrying these.
	ErrSessionCorrupted = errors.New("transport: corrupted session")

	ErrNotConnected = errors.New("transport: not connected")
)

// Inbound is a received message. Providers populate exactly one of the
// text shapes depending on how the sender's client wrapped it.
type Inbound struct {
	ProviderID  string
	RemoteJID   string
	Participant string // alternate sender identity, preferred when set

	Text          string // direct conversation text
	ExtendedText  string // quoted/linked message wrapper
	EphemeralText string // disappearing-message wrapper

	Timestamp time.Time
}

// PlainText returns whichever text shape is populated.
func (m Inbound) PlainText() string {
	switch {
	case m.Text != "":
		return m.Text
	case m.ExtendedText != "":
		return m.ExtendedText
	default:
		return m.EphemeralText
	}
}

// Sender returns the canonical sender address.
func (m Inbound) Sender() string {
	if m.Participant != "" {
		return m.Participant
	}
	return m.RemoteJID
}

// Events receives session events. Handlers run on the session's event
// goroutine; they must not block.
type Events struct {
	QR          func(url string)
	Open        func()
	HistorySync func()
	Ack         func(providerMessageID string)
	Message     func(m Inbound)
	Close       func(code StatusCode, reason string)
}

// Client is one open session. Exclusively owned by the connection that
// dialed it.
type Client interface {
	// Send delivers text to a fully-qualified JID and returns the
	// provider's message id.
	Send(ctx context.Context, jid, text string) (string, error)
	// Exists checks whether a JID is registered on the network.
	Exists(ctx context.Context, jid string) (bool, error)
	// Logout invalidates the provider-side pairing.
	Logout(ctx context.Context) error
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, phone string, ev Events) (Client, error)
}

// CredentialStore manages locally persisted pairing material.
type CredentialStore interface {
	// Wipe discards all credential material for phone.
	Wipe(phone string) error
	// Exists reports whether pairing material is present for phone.
	Exists(phone string) bool
}
