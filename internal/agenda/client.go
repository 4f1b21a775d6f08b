// Package agenda is the HTTP client for the external
// appointment-management system. Every call carries the shared-secret
// header; status updates retry once, telemetry is fire-and-forget.
package agenda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

const secretHeader = "X-Api-Secret"

var ErrNoTemplate = errors.New("agenda: no custom template")

type Client struct {
	baseURL string
	secret  string
	http    *http.Client
	log     *zap.Logger

	// statusDedup suppresses identical connection-status pushes inside
	// a short window so reconnect churn does not spam the collaborator.
	dedupWindow time.Duration
	mu          sync.Mutex
	lastStatus  map[string]statusStamp
}

type statusStamp struct {
	status string
	qrURL  string
	at     time.Time
}

func NewClient(baseURL, secret string, dedupWindow time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		secret:      secret,
		http:        &http.Client{Timeout: 10 * time.Second},
		log:         log,
		dedupWindow: dedupWindow,
		lastStatus:  make(map[string]statusStamp),
	}
}

type blockStatusRequest struct {
	Status     BlockStatus `json:"status"`
	ReasonLack string      `json:"reasonLack,omitempty"`
}

// UpdateBlockStatus PATCHes the appointment block status. The call is
// idempotent on the far side, so one retry on any failure is safe.
func (c *Client) UpdateBlockStatus(ctx context.Context, appointmentID int64, status BlockStatus, reasonLack string) error {
	path := fmt.Sprintf("/appointment/block/%d", appointmentID)
	body := blockStatusRequest{Status: status, ReasonLack: reasonLack}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = c.do(ctx, http.MethodPatch, path, body, nil); lastErr == nil {
			return nil
		}
		c.log.Warn("appointment status update failed",
			zap.Int64("appointment_id", appointmentID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return fmt.Errorf("update block status: %w", lastErr)
}

// Details fetches patient/professional/clinic/time fields for an
// appointment.
func (c *Client) Details(ctx context.Context, appointmentID int64) (*AppointmentDetails, error) {
	var out AppointmentDetails
	path := fmt.Sprintf("/appointment/details/%d", appointmentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch appointment details: %w", err)
	}
	return &out, nil
}

type templateResponse struct {
	Text string `json:"text"`
}

// Template fetches the clinic's custom message template, if one exists.
// Returns ErrNoTemplate when none is configured.
func (c *Client) Template(ctx context.Context, appointmentID int64, kind TemplateKind, variant TemplateVariant) (string, error) {
	path := fmt.Sprintf("/message-template/%d/%s?variant=%s",
		appointmentID, kind, url.QueryEscape(string(variant)))

	var out templateResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return "", ErrNoTemplate
		}
		return "", fmt.Errorf("fetch template: %w", err)
	}
	if out.Text == "" {
		return "", ErrNoTemplate
	}
	return out.Text, nil
}

type connectionStatusRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Status      string `json:"status"`
	QRCodeURL   string `json:"qrCodeUrl,omitempty"`
}

// PushConnectionStatus notifies the appointment system of a connection
// state change. Identical pushes inside the dedup window are dropped.
func (c *Client) PushConnectionStatus(ctx context.Context, phone, status, qrURL string) error {
	c.mu.Lock()
	prev, seen := c.lastStatus[phone]
	now := time.Now()
	if seen && prev.status == status && prev.qrURL == qrURL && now.Sub(prev.at) < c.dedupWindow {
		c.mu.Unlock()
		return nil
	}
	c.lastStatus[phone] = statusStamp{status: status, qrURL: qrURL, at: now}
	c.mu.Unlock()

	err := c.do(ctx, http.MethodPost, "/whatsapp/status-update", connectionStatusRequest{
		PhoneNumber: phone,
		Status:      status,
		QRCodeURL:   qrURL,
	}, nil)
	if err != nil {
		return fmt.Errorf("push connection status: %w", err)
	}
	return nil
}

// ReportMessageStatus pushes delivery telemetry. Failures are logged,
// never propagated: telemetry must not block the delivery path.
func (c *Client) ReportMessageStatus(ctx context.Context, report MessageStatusReport) {
	if err := c.do(ctx, http.MethodPost, "/confirmation-message/status", report, nil); err != nil {
		c.log.Warn("message status report failed",
			zap.String("phone", report.PhoneNumber),
			zap.String("status", report.Status),
			zap.Error(err))
	}
}

// ReportEvent pushes lifecycle telemetry, best-effort.
func (c *Client) ReportEvent(ctx context.Context, ev LifecycleEvent) {
	if err := c.do(ctx, http.MethodPost, "/confirmation-message/events", ev, nil); err != nil {
		c.log.Warn("lifecycle event report failed",
			zap.String("phone", ev.PhoneNumber),
			zap.String("event", ev.Event),
			zap.Error(err))
	}
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set(secretHeader, c.secret)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode, body: string(raw)}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w body=%q", err, string(raw))
		}
	}
	return nil
}
