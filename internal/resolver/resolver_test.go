package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/confirmation-messenger/internal/agenda"
	"github.com/hackgods/confirmation-messenger/internal/confirmation"
	"github.com/hackgods/confirmation-messenger/internal/connection"
	"github.com/hackgods/confirmation-messenger/internal/intent"
	"github.com/hackgods/confirmation-messenger/internal/transport"
)

const (
	testPhone  = "5511987654321"
	senderJID  = "5521912345678@s.whatsapp.net"
	senderBare = "5521912345678"
)

type queuedReply struct {
	phone string
	msg   connection.OutboundMessage
}

type fakeQueue struct {
	mu      sync.Mutex
	replies []queuedReply
	refuse  bool
}

func (q *fakeQueue) Enqueue(phone string, msg connection.OutboundMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.refuse {
		return false
	}
	q.replies = append(q.replies, queuedReply{phone: phone, msg: msg})
	return true
}

func (q *fakeQueue) all() []queuedReply {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]queuedReply, len(q.replies))
	copy(out, q.replies)
	return out
}

type statusUpdate struct {
	appointmentID int64
	status        agenda.BlockStatus
	reasonLack    string
}

type fakeAPI struct {
	mu        sync.Mutex
	updates   []statusUpdate
	updateErr error
	details     map[int64]*agenda.AppointmentDetails
	templates   map[agenda.TemplateKind]string
	templateErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		details:   make(map[int64]*agenda.AppointmentDetails),
		templates: make(map[agenda.TemplateKind]string),
	}
}

func (a *fakeAPI) UpdateBlockStatus(_ context.Context, id int64, status agenda.BlockStatus, reasonLack string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.updateErr != nil {
		return a.updateErr
	}
	a.updates = append(a.updates, statusUpdate{appointmentID: id, status: status, reasonLack: reasonLack})
	return nil
}

func (a *fakeAPI) Details(_ context.Context, id int64) (*agenda.AppointmentDetails, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if d, ok := a.details[id]; ok {
		return d, nil
	}
	return nil, errors.New("details unavailable")
}

func (a *fakeAPI) Template(_ context.Context, _ int64, kind agenda.TemplateKind, _ agenda.TemplateVariant) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.templateErr != nil {
		return "", a.templateErr
	}
	if tpl, ok := a.templates[kind]; ok {
		return tpl, nil
	}
	return "", agenda.ErrNoTemplate
}

func (a *fakeAPI) allUpdates() []statusUpdate {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]statusUpdate, len(a.updates))
	copy(out, a.updates)
	return out
}

type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *fakeDedup) Seen(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	if d.seen[id] {
		return true
	}
	d.seen[id] = true
	return false
}

func newTestResolver(t *testing.T, store confirmation.Repository, api AppointmentAPI, queue Enqueuer) *Resolver {
	t.Helper()
	keywords := intent.NewKeywordClassifier(intent.ConfirmKeywords, intent.CancelKeywords)
	fuzzy := intent.NewFuzzyClassifier(intent.ConfirmKeywords, intent.CancelKeywords, 2)
	pipeline := intent.NewPipeline(keywords, fuzzy)
	return New(store, api, queue, pipeline, keywords, &fakeDedup{}, "Paciente cancelou via WhatsApp", zap.NewNop())
}

func pending(appointmentID int64) confirmation.PendingConfirmation {
	now := time.Now().UTC()
	return confirmation.PendingConfirmation{
		AppointmentID: appointmentID,
		Phone:         senderBare,
		CreatedAt:     now,
		ExpiresAt:     now.Add(6 * time.Hour),
	}
}

func inbound(id, text string) transport.Inbound {
	return transport.Inbound{
		ProviderID: id,
		RemoteJID:  senderJID,
		Text:       text,
		Timestamp:  time.Now(),
	}
}

func TestCancelReplyUpdatesStatusAndDeletesWindow(t *testing.T) {
	store := confirmation.NewMemoryRepository()
	store.Insert(pending(42))
	api := newFakeAPI()
	queue := &fakeQueue{}
	r := newTestResolver(t, store, api, queue)

	r.HandleInbound(testPhone, inbound("m1", "cancelar"))

	updates := api.allUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, int64(42), updates[0].appointmentID)
	assert.Equal(t, agenda.StatusCancelled, updates[0].status)
	assert.Equal(t, "Paciente cancelou via WhatsApp", updates[0].reasonLack)

	assert.Empty(t, store.All(), "window should be closed")

	replies := queue.all()
	require.Len(t, replies, 1)
	assert.Equal(t, testPhone, replies[0].phone)
	assert.Equal(t, senderJID, replies[0].msg.Destination)
	assert.Equal(t, connection.KindReply, replies[0].msg.Kind)
	assert.True(t, replies[0].msg.SkipValidation)
	assert.Contains(t, replies[0].msg.Text, "cancelada")
}

func TestConfirmReplySendsNoCancelReason(t *testing.T) {
	store := confirmation.NewMemoryRepository()
	store.Insert(pending(7))
	api := newFakeAPI()
	api.details[7] = &agenda.AppointmentDetails{
		ID:          7,
		PatientName: "Maria Souza",
		StartsAt:    time.Date(2026, 9, 3, 14, 30, 0, 0, time.UTC),
		EndsAt:      time.Date(2026, 9, 3, 15, 0, 0, 0, time.UTC),
	}
	queue := &fakeQueue{}
	r := newTestResolver(t, store, api, queue)

	r.HandleInbound(testPhone, inbound("m1", "Sim, confirmo!"))

	updates := api.allUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, agenda.StatusConfirmed, updates[0].status)
	assert.Empty(t, updates[0].reasonLack)

	replies := queue.all()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].msg.Text, "confirmada")
	assert.Contains(t, replies[0].msg.Text, "Maria Souza")
	assert.Contains(t, replies[0].msg.Text, "03/09/2026")
}

func TestFuzzyTypoStillResolves(t *testing.T) {
	store := confirmation.NewMemoryRepository()
	store.Insert(pending(9))
	api := newFakeAPI()
	queue := &fakeQueue{}
	r := newTestResolver(t, store, api, queue)

	r.HandleInbound(testPhone, inbound("m1", "confrmo"))

	updates := api.allUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, agenda.StatusConfirmed, updates[0].status)
}

func TestInconclusiveAsksToRephrase(t *testing.T) {
	store := confirmation.NewMemoryRepository()
	store.Insert(pending(9))
	api := newFakeAPI()
	queue := &fakeQueue{}
	r := newTestResolver(t, store, api, queue)

	r.HandleInbound(testPhone, inbound("m1", "talvez depois eu veja"))

	assert.Empty(t, api.allUpdates())
	require.Len(t, store.All(), 1, "window stays open")

	replies := queue.all()
	require.Len(t, replies, 1)
	assert.Equal(t, msgPleaseRephrase, replies[0].msg.Text)
}

func TestStatusUpdateFailureKeepsWindowAndApologizes(t *testing.T) {
	store := confirmation.NewMemoryRepository()
	store.Insert(pending(42))
	api := newFakeAPI()
	api.updateErr = errors.New("agenda down")
	queue := &fakeQueue{}
	r := newTestResolver(t, store, api, queue)

	r.HandleInbound(testPhone, inbound("m1", "cancelar"))

	require.Len(t, store.All(), 1, "window must survive a failed update")
	replies := queue.all()
	require.Len(t, replies, 1)
	assert.Equal(t, msgApology, replies[0].msg.Text)
}

func TestNoWindowWithKeywordGetsGenericReply(t *testing.T) {
	store := confirmation.NewMemoryRepository()
	api := newFakeAPI()
	queue := &fakeQueue{}
	r := newTestResolver(t, store, api, queue)

	r.HandleInbound(testPhone, inbound("m1", "quero cancelar"))

	assert.Empty(t, api.allUpdates())
	replies := queue.all()
	require.Len(t, replies, 1)
	assert.Equal(t, msgNoActiveConfirmation, replies[0].msg.Text)
}

func TestNoWindowWithoutKeywordStaysSilent(t *testing.T) {
	store := confirmation.NewMemoryRepository()
	api := newFakeAPI()
	queue := &fakeQueue{}
	r := newTestResolver(t, store, api, queue)

	r.HandleInbound(testPhone, inbound("m1", "bom dia"))

	assert.Empty(t, api.allUpdates())
	assert.Empty(t, queue.all())
}

func TestMostRecentWindowWins(t *testing.T) {
	store := confirmation.NewMemoryRepository()
	old := pending(1)
	old.CreatedAt = old.CreatedAt.Add(-time.Hour)
	store.Insert(old)
	store.Insert(pending(2))
	api := newFakeAPI()
	queue := &fakeQueue{}
	r := newTestResolver(t, store, api, queue)

	r.HandleInbound(testPhone, inbound("m1", "sim"))

	updates := api.allUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, int64(2), updates[0].appointmentID)
}

func TestNinthDigitVariantMatchesWindow(t *testing.T) {
	store := confirmation.NewMemoryRepository()
	// Window stored without the ninth digit, reply comes in with it.
	pc := pending(5)
	pc.Phone = "552112345678"
	store.Insert(pc)
	api := newFakeAPI()
	queue := &fakeQueue{}
	r := newTestResolver(t, store, api, queue)

	r.HandleInbound(testPhone, inbound("m1", "sim"))

	updates := api.allUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, int64(5), updates[0].appointmentID)
}

func TestDuplicateInboundDroppedOnce(t *testing.T) {
	store := confirmation.NewMemoryRepository()
	store.Insert(pending(42))
	api := newFakeAPI()
	queue := &fakeQueue{}
	r := newTestResolver(t, store, api, queue)

	msg := inbound("same-id", "sim")
	r.HandleInbound(testPhone, msg)
	r.HandleInbound(testPhone, msg)

	assert.Len(t, api.allUpdates(), 1)
}

func TestCustomTemplateRendered(t *testing.T) {
	store := confirmation.NewMemoryRepository()
	store.Insert(pending(7))
	api := newFakeAPI()
	api.details[7] = &agenda.AppointmentDetails{
		ID:          7,
		PatientName: "João",
		ClinicName:  "Clínica Central",
		StartsAt:    time.Date(2026, 9, 3, 14, 30, 0, 0, time.UTC),
	}
	api.templates[agenda.TemplateConfirmation] = "Olá {patientName}, consulta na {clinicName} dia {date} às {time} confirmada."
	queue := &fakeQueue{}
	r := newTestResolver(t, store, api, queue)

	r.HandleInbound(testPhone, inbound("m1", "sim"))

	replies := queue.all()
	require.Len(t, replies, 1)
	assert.Equal(t, "Olá João, consulta na Clínica Central dia 03/09/2026 às 14:30 confirmada.", replies[0].msg.Text)
}

func TestFollowUpPromptsNextAppointment(t *testing.T) {
	store := confirmation.NewMemoryRepository()
	store.Insert(pending(1))
	other := pending(2)
	other.CreatedAt = other.CreatedAt.Add(-time.Minute)
	store.Insert(other)
	api := newFakeAPI()
	api.details[1] = &agenda.AppointmentDetails{
		ID: 1, ClinicID: 10,
		StartsAt: time.Date(2026, 9, 3, 14, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 9, 3, 14, 30, 0, 0, time.UTC),
	}
	api.details[2] = &agenda.AppointmentDetails{
		ID: 2, ClinicID: 10, PatientName: "Pedro",
		StartsAt: time.Date(2026, 9, 4, 9, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 9, 4, 9, 30, 0, 0, time.UTC),
	}
	queue := &fakeQueue{}
	r := newTestResolver(t, store, api, queue)

	r.HandleInbound(testPhone, inbound("m1", "sim"))

	replies := queue.all()
	require.Len(t, replies, 2)
	assert.Contains(t, replies[1].msg.Text, "também possui uma consulta")
	assert.Contains(t, replies[1].msg.Text, "Pedro")
	require.NotNil(t, replies[1].msg.AppointmentID)
	assert.Equal(t, int64(2), *replies[1].msg.AppointmentID)
}

func TestFollowUpSameBlockDeletedSilently(t *testing.T) {
	store := confirmation.NewMemoryRepository()
	store.Insert(pending(1))
	other := pending(2)
	other.CreatedAt = other.CreatedAt.Add(-time.Minute)
	store.Insert(other)
	block := agenda.AppointmentDetails{
		ClinicID: 10,
		StartsAt: time.Date(2026, 9, 3, 14, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 9, 3, 14, 30, 0, 0, time.UTC),
	}
	api := newFakeAPI()
	d1, d2 := block, block
	d1.ID, d2.ID = 1, 2
	api.details[1] = &d1
	api.details[2] = &d2
	queue := &fakeQueue{}
	r := newTestResolver(t, store, api, queue)

	r.HandleInbound(testPhone, inbound("m1", "sim"))

	replies := queue.all()
	require.Len(t, replies, 1, "same-block duplicate must not prompt")
	assert.Empty(t, store.All(), "duplicate window deleted")
}

func TestExpiredWindowIsNeverMatched(t *testing.T) {
	store := confirmation.NewMemoryRepository()
	expired := pending(42)
	expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	store.Insert(expired)
	api := newFakeAPI()
	queue := &fakeQueue{}
	r := newTestResolver(t, store, api, queue)

	// A keyword against a lapsed window behaves exactly like having no
	// window at all: nothing is settled.
	r.HandleInbound(testPhone, inbound("m1", "quero cancelar"))

	assert.Empty(t, api.allUpdates())
	replies := queue.all()
	require.Len(t, replies, 1)
	assert.Equal(t, msgNoActiveConfirmation, replies[0].msg.Text)

	// Non-keyword chatter stays silent too.
	r.HandleInbound(testPhone, inbound("m2", "bom dia"))
	assert.Empty(t, api.allUpdates())
	assert.Len(t, queue.all(), 1)
}

func TestWrappedNoTemplateFallsBackQuietly(t *testing.T) {
	store := confirmation.NewMemoryRepository()
	store.Insert(pending(7))
	api := newFakeAPI()
	api.details[7] = &agenda.AppointmentDetails{
		ID:          7,
		PatientName: "João",
		StartsAt:    time.Date(2026, 9, 3, 14, 30, 0, 0, time.UTC),
	}
	api.templateErr = fmt.Errorf("agenda template lookup: %w", agenda.ErrNoTemplate)
	queue := &fakeQueue{}
	r := newTestResolver(t, store, api, queue)

	r.HandleInbound(testPhone, inbound("m1", "sim"))

	require.Len(t, api.allUpdates(), 1)
	replies := queue.all()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].msg.Text, "confirmada")
	assert.Contains(t, replies[0].msg.Text, "João")
}
