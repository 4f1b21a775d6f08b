package transport

import (
	"context"
	"fmt"
	"sync"
)

// FakeDialer is an in-memory transport for tests and the simulator. A
// dialed FakeClient records sends and exposes the event handlers so a
// test can script QR, open, close, ack and inbound-message events.
type FakeDialer struct {
	mu       sync.Mutex
	clients  map[string]*FakeClient
	DialErr  error
	OnDial   func(c *FakeClient)
	dialSeen int
}

func NewFakeDialer() *FakeDialer {
	return &FakeDialer{clients: make(map[string]*FakeClient)}
}

func (d *FakeDialer) Dial(_ context.Context, phone string, ev Events) (Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	d.dialSeen++
	c := &FakeClient{
		Phone:      phone,
		Events:     ev,
		ExistsJIDs: map[string]bool{},
	}
	d.clients[phone] = c
	if d.OnDial != nil {
		d.OnDial(c)
	}
	return c, nil
}

// Client returns the most recently dialed client for phone.
func (d *FakeDialer) Client(phone string) *FakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[phone]
}

// DialCount reports how many sessions were opened.
func (d *FakeDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialSeen
}

// FakeClient is a scripted session.
type FakeClient struct {
	Phone  string
	Events Events

	mu        sync.Mutex
	sent      []FakeSent
	nextID    int
	closed    bool
	loggedOut bool

	// SendErrs is consumed one error per Send call; nil entries succeed.
	SendErrs []error
	// OnSend runs after each successful send with the client mutex
	// released, so a test can interleave events mid-delivery.
	OnSend func(jid, text string)
	// ExistsJIDs controls which JIDs the number-existence check accepts.
	// When AllExist is set every JID passes.
	ExistsJIDs map[string]bool
	AllExist   bool
}

type FakeSent struct {
	ID   string
	JID  string
	Text string
}

func (c *FakeClient) Send(_ context.Context, jid, text string) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	if len(c.SendErrs) > 0 {
		err := c.SendErrs[0]
		c.SendErrs = c.SendErrs[1:]
		if err != nil {
			c.mu.Unlock()
			return "", err
		}
	}
	c.nextID++
	id := fmt.Sprintf("fake-%s-%d", c.Phone, c.nextID)
	c.sent = append(c.sent, FakeSent{ID: id, JID: jid, Text: text})
	hook := c.OnSend
	c.mu.Unlock()
	if hook != nil {
		hook(jid, text)
	}
	return id, nil
}

func (c *FakeClient) Exists(_ context.Context, jid string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrNotConnected
	}
	if c.AllExist {
		return true, nil
	}
	return c.ExistsJIDs[jid], nil
}

func (c *FakeClient) Logout(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

func (c *FakeClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ev := c.Events
	c.mu.Unlock()
	// Closing the socket surfaces as a close event, as the real
	// provider does.
	if ev.Close != nil {
		ev.Close(CodeConnectionClosed, "socket closed")
	}
	return nil
}

// Sent returns a copy of everything sent so far, in order.
func (c *FakeClient) Sent() []FakeSent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]FakeSent, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *FakeClient) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

func (c *FakeClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// EmitOpen, EmitQR, EmitHistorySync, EmitAck, EmitMessage and EmitClose
// drive the scripted session from a test.
func (c *FakeClient) EmitOpen() {
	if c.Events.Open != nil {
		c.Events.Open()
	}
}

func (c *FakeClient) EmitQR(url string) {
	if c.Events.QR != nil {
		c.Events.QR(url)
	}
}

func (c *FakeClient) EmitHistorySync() {
	if c.Events.HistorySync != nil {
		c.Events.HistorySync()
	}
}

func (c *FakeClient) EmitAck(messageID string) {
	if c.Events.Ack != nil {
		c.Events.Ack(messageID)
	}
}

func (c *FakeClient) EmitMessage(m Inbound) {
	if c.Events.Message != nil {
		c.Events.Message(m)
	}
}

func (c *FakeClient) EmitClose(code StatusCode, reason string) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if c.Events.Close != nil {
		c.Events.Close(code, reason)
	}
}

// MemoryCredentialStore is the in-memory CredentialStore counterpart of
// FakeDialer.
type MemoryCredentialStore struct {
	mu    sync.Mutex
	creds map[string]bool
}

func NewMemoryCredentialStore(phones ...string) *MemoryCredentialStore {
	s := &MemoryCredentialStore{creds: make(map[string]bool)}
	for _, p := range phones {
		s.creds[p] = true
	}
	return s
}

func (s *MemoryCredentialStore) Wipe(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, phone)
	return nil
}

func (s *MemoryCredentialStore) Exists(phone string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds[phone]
}

// Store marks credentials present, as a successful pairing would.
func (s *MemoryCredentialStore) Store(phone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[phone] = true
}
