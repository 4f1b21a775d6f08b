package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/confirmation-messenger/internal/agenda"
	"github.com/hackgods/confirmation-messenger/internal/confirmation"
	"github.com/hackgods/confirmation-messenger/internal/connection"
	"github.com/hackgods/confirmation-messenger/internal/intent"
	"github.com/hackgods/confirmation-messenger/internal/resolver"
	"github.com/hackgods/confirmation-messenger/internal/transport"
)

// simulate runs the whole pipeline in-process against the fake
// transport: it connects a handful of numbers, pushes confirmation
// requests through the delivery queue, acks them, replies as patients
// would and reports what the resolver did with it all.

type SimConfig struct {
	Phones       int
	Patients     int
	ConfirmRatio float64
	CancelRatio  float64
	Seed         int64
}

type simAgenda struct {
	confirmed int64
	cancelled int64
	reports   int64
	events    int64

	mu      sync.Mutex
	details map[int64]*agenda.AppointmentDetails
}

func (a *simAgenda) UpdateBlockStatus(_ context.Context, _ int64, status agenda.BlockStatus, _ string) error {
	if status == agenda.StatusCancelled {
		atomic.AddInt64(&a.cancelled, 1)
	} else {
		atomic.AddInt64(&a.confirmed, 1)
	}
	return nil
}

func (a *simAgenda) Details(_ context.Context, id int64) (*agenda.AppointmentDetails, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if d, ok := a.details[id]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("unknown appointment %d", id)
}

func (a *simAgenda) Template(context.Context, int64, agenda.TemplateKind, agenda.TemplateVariant) (string, error) {
	return "", agenda.ErrNoTemplate
}

func (a *simAgenda) PushConnectionStatus(context.Context, string, string, string) error { return nil }

func (a *simAgenda) ReportMessageStatus(context.Context, agenda.MessageStatusReport) {
	atomic.AddInt64(&a.reports, 1)
}

func (a *simAgenda) ReportEvent(context.Context, agenda.LifecycleEvent) {
	atomic.AddInt64(&a.events, 1)
}

type memDedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func (d *memDedup) Seen(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	return false
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	rng := rand.New(rand.NewSource(cfg.Seed))

	logger := zap.NewNop()
	dialer := transport.NewFakeDialer()
	store := confirmation.NewMemoryRepository()
	agendaStub := &simAgenda{details: make(map[int64]*agenda.AppointmentDetails)}

	mgr := connection.NewManager(
		dialer,
		transport.NewMemoryCredentialStore(),
		store,
		agendaStub,
		connection.Options{
			HistorySyncWait: 50 * time.Millisecond,
			ReplyPacingMin:  time.Millisecond,
			ReplyPacingMax:  2 * time.Millisecond,
			BulkPacingMin:   time.Millisecond,
			BulkPacingMax:   2 * time.Millisecond,
		},
		logger,
	)

	keywords := intent.NewKeywordClassifier(intent.ConfirmKeywords, intent.CancelKeywords)
	pipeline := intent.NewPipeline(keywords, intent.NewFuzzyClassifier(intent.ConfirmKeywords, intent.CancelKeywords, 2))
	res := resolver.New(store, agendaStub, mgr, pipeline, keywords, &memDedup{seen: make(map[string]struct{})}, "Paciente cancelou via WhatsApp", logger)
	mgr.WithInboundHandler(res.HandleInbound)

	phones := connectPhones(mgr, dialer, cfg.Phones)
	log.Printf("connected %d numbers", len(phones))

	patients := makePatients(agendaStub, cfg.Patients, rng)
	start := time.Now()

	sent := dispatch(mgr, dialer, phones, patients, rng)
	log.Printf("dispatched %d confirmation requests", sent)

	replied := replyAsPatients(dialer, phones, patients, cfg, rng)
	log.Printf("sent %d patient replies", replied)

	// Let the resolver work through the replies.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		done := atomic.LoadInt64(&agendaStub.confirmed) + atomic.LoadInt64(&agendaStub.cancelled)
		if int(done) >= replied {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mgr.Shutdown(shutCtx)

	printReport(cfg, agendaStub, store, sent, replied, time.Since(start))
}

type patient struct {
	appointmentID int64
	phone         string
	jid           string
}

func connectPhones(mgr *connection.Manager, dialer *transport.FakeDialer, n int) []string {
	phones := make([]string, 0, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		number := fmt.Sprintf("55119%08d", 10000000+i)
		phones = append(phones, number)
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _ = mgr.Connect(ctx, number, false)
		}()

		for dialer.Client(number) == nil {
			time.Sleep(time.Millisecond)
		}
		client := dialer.Client(number)
		client.AllExist = true
		client.EmitOpen()
		client.EmitHistorySync()
	}
	wg.Wait()
	return phones
}

func makePatients(stub *simAgenda, n int, rng *rand.Rand) []patient {
	patients := make([]patient, 0, n)
	for i := 0; i < n; i++ {
		id := int64(i + 1)
		number := fmt.Sprintf("55219%08d", 20000000+i)
		patients = append(patients, patient{
			appointmentID: id,
			phone:         number,
			jid:           number + "@s.whatsapp.net",
		})
		stub.mu.Lock()
		stub.details[id] = &agenda.AppointmentDetails{
			ID:       id,
			ClinicID: int64(rng.Intn(5) + 1),
			StartsAt: time.Now().Add(time.Duration(rng.Intn(72)) * time.Hour),
			EndsAt:   time.Now().Add(time.Duration(rng.Intn(72)+1) * time.Hour),
		}
		stub.mu.Unlock()
	}
	return patients
}

func dispatch(mgr *connection.Manager, dialer *transport.FakeDialer, phones []string, patients []patient, rng *rand.Rand) int {
	sent := 0
	for _, p := range patients {
		number := phones[rng.Intn(len(phones))]
		id := p.appointmentID
		ok := mgr.Enqueue(number, connection.OutboundMessage{
			Destination:              p.phone,
			Text:                     "Sua consulta está agendada. Responda *sim* para confirmar ou *não* para cancelar.",
			Kind:                     connection.KindBulk,
			AppointmentID:            &id,
			CreateConfirmationWindow: true,
		})
		if ok {
			sent++
		}
	}

	// Ack everything as it goes out so the health monitor stays happy.
	deadline := time.Now().Add(10 * time.Second)
	acked := make(map[string]int)
	for time.Now().Before(deadline) {
		total := 0
		for _, number := range phones {
			client := dialer.Client(number)
			msgs := client.Sent()
			for _, m := range msgs[acked[number]:] {
				client.EmitAck(m.ID)
			}
			acked[number] = len(msgs)
			total += len(msgs)
		}
		if total >= sent {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return sent
}

func replyAsPatients(dialer *transport.FakeDialer, phones []string, patients []patient, cfg SimConfig, rng *rand.Rand) int {
	confirmTexts := []string{"sim", "Sim, confirmo", "ok", "confirmado", "confrmo"}
	cancelTexts := []string{"não", "nao vou poder", "cancelar", "desmarcar por favor", "cancelr"}

	// Route each reply through the number that holds the window; with a
	// shared store any connected number resolves it, so pick at random.
	replied := 0
	for _, p := range patients {
		r := rng.Float64()
		var text string
		switch {
		case r < cfg.ConfirmRatio:
			text = confirmTexts[rng.Intn(len(confirmTexts))]
		case r < cfg.ConfirmRatio+cfg.CancelRatio:
			text = cancelTexts[rng.Intn(len(cancelTexts))]
		default:
			continue // patient never answers
		}

		client := dialer.Client(phones[rng.Intn(len(phones))])
		client.EmitMessage(transport.Inbound{
			ProviderID: fmt.Sprintf("sim-%d", p.appointmentID),
			RemoteJID:  p.jid,
			Text:       text,
			Timestamp:  time.Now(),
		})
		replied++
	}
	return replied
}

func printReport(cfg SimConfig, stub *simAgenda, store *confirmation.MemoryRepository, sent, replied int, took time.Duration) {
	fmt.Println("\n" + strings.Repeat("=", 72))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("Numbers: %d  Patients: %d  Took: %s\n", cfg.Phones, cfg.Patients, took.Round(time.Millisecond))
	fmt.Println()
	fmt.Printf("Confirmation requests sent: %d\n", sent)
	fmt.Printf("Patient replies:            %d\n", replied)
	fmt.Printf("Confirmed:                  %d\n", atomic.LoadInt64(&stub.confirmed))
	fmt.Printf("Cancelled:                  %d\n", atomic.LoadInt64(&stub.cancelled))
	fmt.Printf("Windows still open:         %d\n", len(store.All()))
	fmt.Printf("Delivery reports:           %d\n", atomic.LoadInt64(&stub.reports))
	fmt.Printf("Lifecycle events:           %d\n", atomic.LoadInt64(&stub.events))
}

func loadConfig() SimConfig {
	return SimConfig{
		Phones:       getInt("SIM_PHONES", 3),
		Patients:     getInt("SIM_PATIENTS", 200),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.3),
		Seed:         int64(getInt("SIM_SEED", int(time.Now().UnixNano()))),
	}
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
