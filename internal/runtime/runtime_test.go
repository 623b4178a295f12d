package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsrdtoms/fdi-pln2609/internal/ledger"
	"github.com/bsrdtoms/fdi-pln2609/internal/llm"
	"github.com/bsrdtoms/fdi-pln2609/internal/negotiation"
	"github.com/bsrdtoms/fdi-pln2609/internal/store"
)

type fakeLedger struct {
	mu          sync.Mutex
	state       ledger.State
	peers       []string
	failFetches int
	failOn      map[int]bool
	fetches     int
	letters     []ledger.Letter
	packages    map[string]ledger.Resources
}

func (f *fakeLedger) FetchState(context.Context) (ledger.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.failFetches > 0 {
		f.failFetches--
		return ledger.State{}, errors.New("connection refused")
	}
	if f.failOn[f.fetches] {
		return ledger.State{}, errors.New("connection reset")
	}
	return f.state, nil
}

func (f *fakeLedger) ListPeers(_ context.Context, self string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.peers {
		if p != self {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeLedger) SendLetter(_ context.Context, letter ledger.Letter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.letters = append(f.letters, letter)
	return nil
}

func (f *fakeLedger) SendPackage(_ context.Context, recipient string, res ledger.Resources) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.packages == nil {
		f.packages = map[string]ledger.Resources{}
	}
	f.packages[recipient] = res
	return nil
}

func (f *fakeLedger) sentSubjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.letters))
	for _, l := range f.letters {
		out = append(out, l.Subject)
	}
	return out
}

func (f *fakeLedger) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.letters = nil
}

type scriptedLLM struct {
	mu         sync.Mutex
	answer     string
	answers    []string
	err        error
	panicky    bool
	panicFirst bool
	calls      int
}

func (s *scriptedLLM) Generate(context.Context, llm.Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.panicky || (s.panicFirst && s.calls == 1) {
		panic("model exploded")
	}
	if len(s.answers) > 0 {
		next := s.answers[0]
		s.answers = s.answers[1:]
		return next, s.err
	}
	return s.answer, s.err
}

func (s *scriptedLLM) Provider() string { return "scripted" }
func (s *scriptedLLM) Model() string    { return "v0" }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tradingState(inbox map[string]ledger.Letter) ledger.State {
	return ledger.State{
		Alias:     "lobo",
		Resources: ledger.Resources{"wood": 5},
		Target:    ledger.Resources{"wood": 2, "stone": 1, "iron": 1},
		Inbox:     inbox,
	}
}

func newTestRunner(l *fakeLedger, model *scriptedLLM) (*Runner, *store.Store) {
	journal := store.New(50)
	r := NewRunner(l, negotiation.NewOracle(model, quietLogger()), journal, quietLogger())
	r.StartupBackoff = time.Millisecond
	return r, journal
}

func TestBroadcastCycle(t *testing.T) {
	l := &fakeLedger{state: tradingState(nil), peers: []string{"lobo", "oso", "zorro"}}
	r, _ := newTestRunner(l, &scriptedLLM{})

	sum, err := r.BroadcastCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Peers: 2, General: 2, Pairwise: 4, Currency: 0}, sum)
	assert.Equal(t, 6, sum.Total())

	subjects := l.sentSubjects()
	require.Len(t, subjects, 6)
	assert.Equal(t, "Busco intercambio", subjects[0])
	assert.Equal(t, "Oferta: 1 wood por 1 iron", subjects[2])

	snap := r.Session.Snapshot()
	assert.True(t, snap.InCooldown)
	assert.False(t, snap.LastBroadcastAt.IsZero())
	assert.False(t, r.Session.BroadcastDue(time.Hour))
}

func TestBroadcastCycleCooldownPrecedesCurrency(t *testing.T) {
	l := &fakeLedger{
		state: ledger.State{
			Alias:     "lobo",
			Resources: ledger.Resources{"oro": 6},
			Target:    ledger.Resources{"stone": 1},
		},
		peers: []string{"oso"},
	}
	r, _ := newTestRunner(l, &scriptedLLM{})
	r.Cooldown = 0

	sum, err := r.BroadcastCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.General)
	assert.Equal(t, 1, sum.Pairwise)
	assert.Equal(t, 1, sum.Currency)
	assert.Equal(t, []string{"Busco intercambio", "Oferta: 1 oro por 1 stone", "Compro: 1 stone por 3 oro"}, l.sentSubjects())
	assert.False(t, r.Session.InCooldown())
}

func TestBroadcastCycleLedgerDown(t *testing.T) {
	l := &fakeLedger{failFetches: 1}
	r, _ := newTestRunner(l, &scriptedLLM{})

	_, err := r.BroadcastCycle(context.Background())
	require.Error(t, err)
	assert.Empty(t, l.sentSubjects())
	assert.True(t, r.Session.BroadcastDue(time.Hour))
}

func TestStartRetriesAndSeedsHistory(t *testing.T) {
	old := map[string]ledger.Letter{
		"c1": {Sender: "oso", Subject: "hola", Body: "te propongo algo"},
	}
	l := &fakeLedger{state: tradingState(old), peers: []string{"oso"}, failFetches: 2}
	model := &scriptedLLM{answer: `{"action":"wait"}`}
	r, _ := newTestRunner(l, model)

	require.NoError(t, r.Start(context.Background()))
	assert.True(t, r.Session.hasSeen("c1"))
	assert.GreaterOrEqual(t, l.fetches, 3)
	assert.NotEmpty(t, l.sentSubjects())

	require.NoError(t, r.Tick(context.Background()))
	assert.Zero(t, model.calls)
}

func TestStartFailedBroadcastStillCountsAsCycle(t *testing.T) {
	l := &fakeLedger{state: tradingState(nil), peers: []string{"oso"}, failOn: map[int]bool{2: true}}
	r, _ := newTestRunner(l, &scriptedLLM{})

	require.NoError(t, r.Start(context.Background()))
	assert.Empty(t, l.sentSubjects())
	assert.False(t, r.Session.BroadcastDue(time.Hour))
}

func TestStartStopsWithContext(t *testing.T) {
	l := &fakeLedger{failFetches: 1 << 20}
	r, _ := newTestRunner(l, &scriptedLLM{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Start(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTickDispatchesLetterOnce(t *testing.T) {
	inbox := map[string]ledger.Letter{
		"c1": {Sender: "oso", Subject: "Hola", Body: "¿qué necesitas?"},
	}
	l := &fakeLedger{state: tradingState(inbox), peers: []string{"oso"}}
	model := &scriptedLLM{answer: `{"action":"offer","recipient":"oso","body":"Te doy 1 de wood por 1 de stone"}`}
	r, journal := newTestRunner(l, model)
	r.Session.MarkBroadcast()

	require.NoError(t, r.Tick(context.Background()))
	require.NoError(t, r.Tick(context.Background()))

	assert.Equal(t, 1, model.calls)
	require.Equal(t, 1, journal.Len())
	outcome := journal.Recent(0)[0]
	assert.Equal(t, "c1", outcome.LetterID)
	assert.Equal(t, "general", outcome.Kind)
	assert.Equal(t, "offer", outcome.Action)
	assert.Equal(t, "offer_sent", outcome.Status)
	assert.Equal(t, []string{"Propuesta de intercambio"}, l.sentSubjects())
}

func TestTickAcceptTriggersBroadcast(t *testing.T) {
	inbox := map[string]ledger.Letter{
		"c1": {Sender: "oso", Subject: "Trato hecho", Body: "te envié 1 de stone"},
	}
	l := &fakeLedger{state: tradingState(inbox), peers: []string{"oso"}}
	model := &scriptedLLM{answer: `{"action":"accept","recipient":"oso","send":{"wood":1},"receive":{"stone":1}}`}
	r, journal := newTestRunner(l, model)
	r.Session.MarkBroadcast()

	require.NoError(t, r.Tick(context.Background()))

	assert.Equal(t, ledger.Resources{"wood": 1}, l.packages["oso"])
	subjects := l.sentSubjects()
	require.NotEmpty(t, subjects)
	assert.Equal(t, "Intercambio aceptado", subjects[0])
	assert.Contains(t, subjects, "Busco intercambio")

	outcome := journal.Recent(1)[0]
	assert.Equal(t, "confirmation", outcome.Kind)
	assert.Equal(t, "accepted_and_sent", outcome.Status)
	assert.Equal(t, map[string]int{"wood": 1}, outcome.Package)
}

func TestTickAcceptSurvivesFailedBroadcast(t *testing.T) {
	inbox := map[string]ledger.Letter{
		"c1": {Sender: "oso", Subject: "Trato hecho", Body: "te envié 1 de stone"},
		"c2": {Sender: "zorro", Subject: "Hola", Body: "¿qué tal?"},
	}
	// Fetch 1 is the poll, 2 the executor re-check, 3 the broadcast cycle.
	l := &fakeLedger{state: tradingState(inbox), peers: []string{"oso", "zorro"}, failOn: map[int]bool{3: true}}
	model := &scriptedLLM{answers: []string{
		`{"action":"accept","recipient":"oso","send":{"wood":1},"receive":{"stone":1}}`,
		`{"action":"wait"}`,
	}}
	r, journal := newTestRunner(l, model)
	r.Session.MarkBroadcast()

	require.NoError(t, r.Tick(context.Background()))

	assert.Equal(t, ledger.Resources{"wood": 1}, l.packages["oso"])
	assert.Equal(t, []string{"Intercambio aceptado"}, l.sentSubjects())
	assert.Equal(t, 2, model.calls)

	outcomes := journal.Recent(0)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "c1", outcomes[0].LetterID)
	assert.Equal(t, "accepted_and_sent", outcomes[0].Status)
	assert.Equal(t, "c2", outcomes[1].LetterID)
	assert.Equal(t, "waiting", outcomes[1].Status)
}

func TestTickPeriodicBroadcast(t *testing.T) {
	l := &fakeLedger{state: tradingState(nil), peers: []string{"oso"}}
	r, _ := newTestRunner(l, &scriptedLLM{})

	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	r.Session.now = func() time.Time { return clock }
	r.Session.MarkBroadcast()

	require.NoError(t, r.Tick(context.Background()))
	assert.Empty(t, l.sentSubjects())

	clock = clock.Add(r.BroadcastEvery)
	require.NoError(t, r.Tick(context.Background()))
	assert.NotEmpty(t, l.sentSubjects())
}

func TestTickOracleErrorIsRecorded(t *testing.T) {
	inbox := map[string]ledger.Letter{"c1": {Sender: "oso", Body: "hola"}}
	l := &fakeLedger{state: tradingState(inbox)}
	model := &scriptedLLM{err: errors.New("timeout")}
	r, journal := newTestRunner(l, model)
	r.Session.MarkBroadcast()

	require.NoError(t, r.Tick(context.Background()))
	outcome := journal.Recent(1)[0]
	assert.Equal(t, "waiting", outcome.Status)
	assert.Contains(t, outcome.Error, "timeout")
	assert.True(t, r.Session.hasSeen("c1"))
}

func TestTickRecoversPanic(t *testing.T) {
	inbox := map[string]ledger.Letter{"c1": {Sender: "oso", Body: "hola"}}
	l := &fakeLedger{state: tradingState(inbox)}
	r, _ := newTestRunner(l, &scriptedLLM{panicky: true})
	r.Session.MarkBroadcast()

	var err error
	require.NotPanics(t, func() { err = r.Tick(context.Background()) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model exploded")
	assert.True(t, r.Session.hasSeen("c1"))

	require.NoError(t, r.Tick(context.Background()))
}

func TestTickPanicLeavesLaterLettersForNextPoll(t *testing.T) {
	inbox := map[string]ledger.Letter{
		"c1": {Sender: "oso", Body: "hola"},
		"c2": {Sender: "zorro", Body: "hola"},
	}
	l := &fakeLedger{state: tradingState(inbox)}
	model := &scriptedLLM{panicFirst: true, answer: `{"action":"wait"}`}
	r, journal := newTestRunner(l, model)
	r.Session.MarkBroadcast()

	require.Error(t, r.Tick(context.Background()))
	assert.True(t, r.Session.hasSeen("c1"))
	assert.False(t, r.Session.hasSeen("c2"))
	assert.Zero(t, journal.Len())

	require.NoError(t, r.Tick(context.Background()))
	assert.Equal(t, 2, model.calls)
	require.Equal(t, 1, journal.Len())
	assert.Equal(t, "c2", journal.Recent(1)[0].LetterID)
}

func TestTickLedgerErrorIsReturned(t *testing.T) {
	l := &fakeLedger{failFetches: 1}
	r, _ := newTestRunner(l, &scriptedLLM{})
	r.Session.MarkBroadcast()

	require.Error(t, r.Tick(context.Background()))
	require.NoError(t, r.Tick(context.Background()))
}

func TestManualAccept(t *testing.T) {
	l := &fakeLedger{state: tradingState(nil)}
	r, journal := newTestRunner(l, &scriptedLLM{})

	pkg, err := r.ManualAccept(context.Background(), "oso", ledger.Resources{"wood": 4})
	require.NoError(t, err)
	assert.Equal(t, ledger.Resources{"wood": 4}, pkg)
	assert.Equal(t, "accepted_and_sent", journal.Recent(1)[0].Status)

	_, err = r.ManualAccept(context.Background(), "oso", ledger.Resources{"wood": 9})
	require.Error(t, err)
	assert.True(t, IsRejection(err))
	assert.Equal(t, "transfer_blocked", journal.Recent(1)[0].Status)

	_, err = r.ManualAccept(context.Background(), "", ledger.Resources{"wood": 1})
	assert.True(t, IsRejection(err))
	assert.False(t, IsRejection(errors.New("ledger down")))
}

func TestRunStopsOnCancel(t *testing.T) {
	l := &fakeLedger{state: tradingState(nil), peers: []string{"oso"}}
	r, _ := newTestRunner(l, &scriptedLLM{})
	r.Poll = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.fetches > 3
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}
