package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// BridgeDialer talks to the connection-provider sidecar over a
// WebSocket per session. Commands carry a correlation id and wait for
// the matching response frame; everything else the sidecar pushes is an
// event frame dispatched to the Events handlers.
type BridgeDialer struct {
	baseURL string
	apiKey  string
	log     *zap.Logger
}

func NewBridgeDialer(baseURL, apiKey string, log *zap.Logger) *BridgeDialer {
	return &BridgeDialer{baseURL: baseURL, apiKey: apiKey, log: log}
}

type frame struct {
	ID string `json:"id,omitempty"`
	Op string `json:"op"`

	// command fields
	JID  string `json:"jid,omitempty"`
	Text string `json:"text,omitempty"`

	// response fields
	OK        bool   `json:"ok,omitempty"`
	Error     string `json:"error,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Exists    bool   `json:"exists,omitempty"`

	// event fields
	URL     string        `json:"url,omitempty"`
	Code    int           `json:"code,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	Message *inboundFrame `json:"message,omitempty"`
}

type inboundFrame struct {
	ProviderID    string `json:"providerId"`
	RemoteJID     string `json:"remoteJid"`
	Participant   string `json:"participant,omitempty"`
	Text          string `json:"text,omitempty"`
	ExtendedText  string `json:"extendedText,omitempty"`
	EphemeralText string `json:"ephemeralText,omitempty"`
	TimestampMS   int64  `json:"timestampMs"`
}

func (d *BridgeDialer) Dial(ctx context.Context, phone string, ev Events) (Client, error) {
	u, err := url.JoinPath(d.baseURL, "session", url.PathEscape(phone))
	if err != nil {
		return nil, fmt.Errorf("bridge url: %w", err)
	}

	header := http.Header{}
	if d.apiKey != "" {
		header.Set("X-Api-Key", d.apiKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		return nil, fmt.Errorf("dial provider bridge: %w", err)
	}

	c := &bridgeClient{
		conn:    conn,
		ev:      ev,
		pending: make(map[string]chan frame),
		log:     d.log.With(zap.String("phone", phone)),
	}
	go c.readLoop()
	return c, nil
}

type bridgeClient struct {
	conn *websocket.Conn
	ev   Events
	log  *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan frame

	closed atomic.Bool
}

func (c *bridgeClient) readLoop() {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.failPending()
			if !c.closed.Swap(true) {
				// The socket died underneath us rather than by Close.
				if c.ev.Close != nil {
					c.ev.Close(CodeConnectionLost, err.Error())
				}
			}
			return
		}

		if f.ID != "" {
			c.resolve(f)
			continue
		}

		switch f.Op {
		case "qr":
			if c.ev.QR != nil {
				c.ev.QR(f.URL)
			}
		case "open":
			if c.ev.Open != nil {
				c.ev.Open()
			}
		case "history_sync":
			if c.ev.HistorySync != nil {
				c.ev.HistorySync()
			}
		case "ack":
			if c.ev.Ack != nil {
				c.ev.Ack(f.MessageID)
			}
		case "message":
			if c.ev.Message != nil && f.Message != nil {
				c.ev.Message(Inbound{
					ProviderID:    f.Message.ProviderID,
					RemoteJID:     f.Message.RemoteJID,
					Participant:   f.Message.Participant,
					Text:          f.Message.Text,
					ExtendedText:  f.Message.ExtendedText,
					EphemeralText: f.Message.EphemeralText,
					Timestamp:     time.UnixMilli(f.Message.TimestampMS),
				})
			}
		case "close":
			c.closed.Store(true)
			c.failPending()
			if c.ev.Close != nil {
				c.ev.Close(StatusCode(f.Code), f.Reason)
			}
			return
		default:
			c.log.Debug("bridge: unknown event op", zap.String("op", f.Op))
		}
	}
}

func (c *bridgeClient) resolve(f frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	delete(c.pending, f.ID)
	c.mu.Unlock()
	if ok {
		ch <- f
	}
}

func (c *bridgeClient) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
}

func (c *bridgeClient) command(ctx context.Context, f frame) (frame, error) {
	if c.closed.Load() {
		return frame{}, ErrNotConnected
	}

	f.ID = uuid.NewString()
	ch := make(chan frame, 1)

	c.mu.Lock()
	c.pending[f.ID] = ch
	c.mu.Unlock()

	payload, err := json.Marshal(f)
	if err != nil {
		return frame{}, err
	}

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
		return frame{}, fmt.Errorf("bridge write: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return frame{}, ErrNotConnected
		}
		if !resp.OK {
			if resp.Error == "session_corrupted" {
				return frame{}, fmt.Errorf("%s: %w", f.Op, ErrSessionCorrupted)
			}
			return frame{}, fmt.Errorf("bridge %s: %s", f.Op, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
		return frame{}, ctx.Err()
	}
}

func (c *bridgeClient) Send(ctx context.Context, jid, text string) (string, error) {
	resp, err := c.command(ctx, frame{Op: "send", JID: jid, Text: text})
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

func (c *bridgeClient) Exists(ctx context.Context, jid string) (bool, error) {
	resp, err := c.command(ctx, frame{Op: "exists", JID: jid})
	if err != nil {
		return false, err
	}
	return resp.Exists, nil
}

func (c *bridgeClient) Logout(ctx context.Context) error {
	_, err := c.command(ctx, frame{Op: "logout"})
	return err
}

// Close tears the socket down and, when this call is the one that
// retired the session, delivers the close event so the owner runs its
// normal close handling. Owners that already tore the session down get
// a redundant event their generation check discards.
func (c *bridgeClient) Close() error {
	already := c.closed.Swap(true)
	err := c.conn.Close()
	if !already {
		c.failPending()
		if c.ev.Close != nil {
			c.ev.Close(CodeConnectionClosed, "closed locally")
		}
	}
	return err
}
