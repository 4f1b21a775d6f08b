package connection

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/confirmation-messenger/internal/transport"
)

func TestEnqueueOnUnknownPhone(t *testing.T) {
	env := newTestEnv(t, fastOptions())
	assert.False(t, env.mgr.Enqueue(testPhone, OutboundMessage{Text: "x", Kind: KindReply}))
}

func TestEnqueueOnDisconnectedPhone(t *testing.T) {
	env := newTestEnv(t, fastOptions())
	fc := env.connect(t, true)
	fc.EmitClose(transport.CodeConnectionLost, "gone")

	require.Eventually(t, func() bool {
		st, _ := env.mgr.Status(testPhone)
		return st.State != StateConnected
	}, time.Second, time.Millisecond)

	assert.False(t, env.mgr.Enqueue(testPhone, OutboundMessage{Text: "x", Kind: KindReply, SkipValidation: true}))
}

func TestEnqueueRespectsCapacity(t *testing.T) {
	opts := fastOptions()
	opts.QueueCapacity = 2
	// Bulk sends block on history sync, so the head item stays queued
	// and the capacity check is deterministic.
	opts.HistorySyncWait = time.Hour
	env := newTestEnv(t, opts)
	env.connect(t, true)

	msg := OutboundMessage{Destination: testPhone, Text: "x", Kind: KindBulk, SkipValidation: true}
	assert.True(t, env.mgr.Enqueue(testPhone, msg))
	assert.True(t, env.mgr.Enqueue(testPhone, msg))
	assert.False(t, env.mgr.Enqueue(testPhone, msg))
}

func TestDrainSendsInFIFOOrder(t *testing.T) {
	env := newTestEnv(t, fastOptions())
	fc := env.connect(t, true)

	for _, text := range []string{"primeiro", "segundo", "terceiro"} {
		require.True(t, env.mgr.Enqueue(testPhone, OutboundMessage{
			Destination:    testPhone + "@s.whatsapp.net",
			Text:           text,
			Kind:           KindReply,
			SkipValidation: true,
		}))
	}

	require.Eventually(t, func() bool {
		return len(fc.Sent()) == 3
	}, 2*time.Second, time.Millisecond)

	sent := fc.Sent()
	assert.Equal(t, "primeiro", sent[0].Text)
	assert.Equal(t, "segundo", sent[1].Text)
	assert.Equal(t, "terceiro", sent[2].Text)
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	env := newTestEnv(t, fastOptions())
	fc := env.connect(t, true)
	fc.SendErrs = []error{errors.New("flaky"), errors.New("flaky again"), nil}

	require.True(t, env.mgr.Enqueue(testPhone, OutboundMessage{
		Destination:    testPhone + "@s.whatsapp.net",
		Text:           "tenta de novo",
		Kind:           KindReply,
		SkipValidation: true,
	}))

	require.Eventually(t, func() bool {
		return len(fc.Sent()) == 1
	}, 2*time.Second, time.Millisecond)
	assert.NotEmpty(t, env.notifier.reportsWithStatus("sent"))
}

func TestSendRetriesExhaustedDropsMessage(t *testing.T) {
	env := newTestEnv(t, fastOptions())
	fc := env.connect(t, true)
	fc.SendErrs = []error{errors.New("a"), errors.New("b"), errors.New("c")}

	appointmentID := int64(42)
	require.True(t, env.mgr.Enqueue(testPhone, OutboundMessage{
		Destination:    testPhone + "@s.whatsapp.net",
		Text:           "nunca chega",
		Kind:           KindReply,
		SkipValidation: true,
		AppointmentID:  &appointmentID,
	}))
	// A second message must still go out after the first is dropped.
	require.True(t, env.mgr.Enqueue(testPhone, OutboundMessage{
		Destination:    testPhone + "@s.whatsapp.net",
		Text:           "esse chega",
		Kind:           KindReply,
		SkipValidation: true,
	}))

	require.Eventually(t, func() bool {
		return len(fc.Sent()) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, "esse chega", fc.Sent()[0].Text)

	failed := env.notifier.reportsWithStatus("failed")
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].AppointmentID)
	assert.Equal(t, int64(42), *failed[0].AppointmentID)
}

func TestConfirmationWindowOpensOnlyAfterDelivery(t *testing.T) {
	env := newTestEnv(t, fastOptions())
	fc := env.connect(t, true)

	appointmentID := int64(42)
	msg := OutboundMessage{
		Destination:              testPhone + "@s.whatsapp.net",
		Text:                     "confirma sua consulta?",
		Kind:                     KindReply,
		SkipValidation:           true,
		AppointmentID:            &appointmentID,
		CreateConfirmationWindow: true,
	}

	// First: every send fails, so no window may be created.
	fc.SendErrs = []error{errors.New("x"), errors.New("y"), errors.New("z")}
	require.True(t, env.mgr.Enqueue(testPhone, msg))
	require.Eventually(t, func() bool {
		return len(env.notifier.reportsWithStatus("failed")) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Empty(t, env.store.All(), "no confirmation window without a delivered message")

	// Then a successful send opens exactly one window.
	require.True(t, env.mgr.Enqueue(testPhone, msg))
	require.Eventually(t, func() bool {
		return len(env.store.All()) == 1
	}, 2*time.Second, time.Millisecond)

	rows := env.store.All()
	assert.Equal(t, int64(42), rows[0].AppointmentID)
	assert.Equal(t, testPhone, rows[0].Phone)
}

func TestDestinationValidationPicksExistingVariant(t *testing.T) {
	env := newTestEnv(t, fastOptions())
	fc := env.connect(t, true)
	// Only the legacy eight-digit form is registered.
	fc.ExistsJIDs["551187654321@s.whatsapp.net"] = true

	require.True(t, env.mgr.Enqueue(testPhone, OutboundMessage{
		Destination: "5511987654321",
		Text:        "oi",
		Kind:        KindReply,
	}))

	require.Eventually(t, func() bool {
		return len(fc.Sent()) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, "551187654321@s.whatsapp.net", fc.Sent()[0].JID)
}

func TestDestinationValidationUnknownNumberDropped(t *testing.T) {
	env := newTestEnv(t, fastOptions())
	fc := env.connect(t, true)
	// No JID exists anywhere.

	appointmentID := int64(7)
	require.True(t, env.mgr.Enqueue(testPhone, OutboundMessage{
		Destination:   "5511987654321",
		Text:          "oi",
		Kind:          KindReply,
		AppointmentID: &appointmentID,
	}))

	require.Eventually(t, func() bool {
		return len(env.notifier.reportsWithStatus("failed")) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Empty(t, fc.Sent())
}

func TestBulkWaitsForHistorySync(t *testing.T) {
	opts := fastOptions()
	opts.HistorySyncWait = time.Second
	env := newTestEnv(t, opts)
	fc := env.connect(t, true)

	require.True(t, env.mgr.Enqueue(testPhone, OutboundMessage{
		Destination:    testPhone + "@s.whatsapp.net",
		Text:           "campanha",
		Kind:           KindBulk,
		SkipValidation: true,
	}))

	// Not sent while history sync is outstanding.
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, fc.Sent())

	fc.EmitHistorySync()
	require.Eventually(t, func() bool {
		return len(fc.Sent()) == 1
	}, 2*time.Second, time.Millisecond)
}

func TestRepliesSkipHistorySyncWait(t *testing.T) {
	opts := fastOptions()
	opts.HistorySyncWait = time.Hour // would hang forever if replies waited
	env := newTestEnv(t, opts)
	fc := env.connect(t, true)

	require.True(t, env.mgr.Enqueue(testPhone, OutboundMessage{
		Destination:    testPhone + "@s.whatsapp.net",
		Text:           "resposta rápida",
		Kind:           KindReply,
		SkipValidation: true,
	}))

	require.Eventually(t, func() bool {
		return len(fc.Sent()) == 1
	}, time.Second, time.Millisecond)
}

func TestDrainAbortsWhenConnectionDiesMidLoop(t *testing.T) {
	env := newTestEnv(t, fastOptions())
	fc := env.connect(t, true)

	// Every send on the first socket reports the connection gone, so
	// each drain pass aborts with the items still queued.
	for i := 0; i < 10; i++ {
		fc.SendErrs = append(fc.SendErrs, transport.ErrNotConnected)
	}

	msg := OutboundMessage{Destination: testPhone, Text: "fica na fila", Kind: KindReply, SkipValidation: true}
	require.True(t, env.mgr.Enqueue(testPhone, msg))
	require.True(t, env.mgr.Enqueue(testPhone, msg))

	require.Eventually(t, func() bool {
		st, _ := env.mgr.Status(testPhone)
		return st.QueueLength == 2 && len(fc.Sent()) == 0
	}, 2*time.Second, time.Millisecond)

	// Items survive the transient close and go out after reconnect.
	fc.EmitClose(transport.CodeConnectionLost, "transient")
	require.Eventually(t, func() bool {
		return env.dialer.DialCount() == 2
	}, 2*time.Second, time.Millisecond)

	second := env.dialer.Client(testPhone)
	second.AllExist = true
	second.EmitOpen()

	require.Eventually(t, func() bool {
		return len(second.Sent()) == 2
	}, 2*time.Second, time.Millisecond)
}

func TestCloseDuringSendDoesNotResend(t *testing.T) {
	env := newTestEnv(t, fastOptions())
	fc := env.connect(t, true)

	// The socket drops the instant the send lands, before the drain
	// loop gets to pop the head.
	fired := false
	fc.OnSend = func(string, string) {
		if !fired {
			fired = true
			fc.EmitClose(transport.CodeConnectionLost, "dropped mid-send")
		}
	}

	require.True(t, env.mgr.Enqueue(testPhone, OutboundMessage{
		Destination:    testPhone + "@s.whatsapp.net",
		Text:           "uma vez so",
		Kind:           KindReply,
		SkipValidation: true,
	}))

	require.Eventually(t, func() bool {
		return env.dialer.DialCount() == 2
	}, 2*time.Second, time.Millisecond)

	second := env.dialer.Client(testPhone)
	second.EmitOpen()
	require.Eventually(t, func() bool {
		st, err := env.mgr.Status(testPhone)
		return err == nil && st.State == StateConnected && st.QueueLength == 0
	}, 2*time.Second, time.Millisecond)

	// Delivered once on the first socket; the reconnect must not carry
	// it again.
	assert.Len(t, fc.Sent(), 1)
	assert.Empty(t, second.Sent())
}
