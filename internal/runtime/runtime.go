package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bsrdtoms/fdi-pln2609/internal/ledger"
	"github.com/bsrdtoms/fdi-pln2609/internal/negotiation"
	"github.com/bsrdtoms/fdi-pln2609/internal/store"
)

const (
	defaultPoll           = 10 * time.Second
	defaultBroadcastEvery = 300 * time.Second
	defaultCooldown       = 60 * time.Second
	defaultStartupBackoff = 5 * time.Second
)

// Ledger is the ledger/mailbox service as the loop sees it.
type Ledger interface {
	negotiation.Ledger
	ListPeers(ctx context.Context, self string) []string
}

// Summary counts the letters one broadcast cycle delivered.
type Summary struct {
	Peers    int `json:"peers"`
	General  int `json:"general"`
	Pairwise int `json:"pairwise"`
	Currency int `json:"currency"`
}

func (s Summary) Total() int { return s.General + s.Pairwise + s.Currency }

type Runner struct {
	Poll           time.Duration
	BroadcastEvery time.Duration
	Cooldown       time.Duration
	StartupBackoff time.Duration
	Currency       negotiation.Currency
	SystemSender   string

	Ledger   Ledger
	Oracle   *negotiation.Oracle
	Executor *negotiation.Executor
	Session  *Session
	Journal  *store.Store

	log         *slog.Logger
	broadcastMu sync.Mutex
}

func NewRunner(l Ledger, oracle *negotiation.Oracle, journal *store.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Poll:           defaultPoll,
		BroadcastEvery: defaultBroadcastEvery,
		Cooldown:       defaultCooldown,
		StartupBackoff: defaultStartupBackoff,
		Currency:       negotiation.Currency{Name: negotiation.DefaultCurrency, Price: negotiation.DefaultCurrencyPrice},
		SystemSender:   negotiation.DefaultSystemSender,
		Ledger:         l,
		Oracle:         oracle,
		Executor:       negotiation.NewExecutor(l, logger),
		Session:        NewSession(),
		Journal:        journal,
		log:            logger,
	}
}

// Run blocks until ctx is done. Only startup waits on the ledger; after
// that no error stops the loop.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(r.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.log.Error("poll failed", "err", err)
			}
		}
	}
}

// Start waits for the ledger, seeds the seen set with the current inbox
// and runs the first broadcast cycle.
func (r *Runner) Start(ctx context.Context) error {
	state, err := r.waitForLedger(ctx)
	if err != nil {
		return err
	}
	ids := state.LetterIDs()
	r.Session.Seed(ids)
	r.log.Info("agent started", "alias", state.DisplayAlias(), "seeded", len(ids))

	if _, err := r.BroadcastCycle(ctx); err != nil {
		r.log.Warn("initial broadcast failed", "err", err)
		r.Session.MarkBroadcast()
	}
	return nil
}

func (r *Runner) waitForLedger(ctx context.Context) (ledger.State, error) {
	for attempt := 1; ; attempt++ {
		state, err := r.Ledger.FetchState(ctx)
		if err == nil {
			return state, nil
		}
		r.log.Warn("ledger unavailable, retrying", "attempt", attempt, "backoff", r.StartupBackoff, "err", err)
		select {
		case <-ctx.Done():
			return ledger.State{}, ctx.Err()
		case <-time.After(r.StartupBackoff):
		}
	}
}

// Tick is one steady-state iteration: periodic broadcast, then dispatch
// of every unseen inbox letter. A panic is recovered into the error.
func (r *Runner) Tick(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("poll panic: %v", p)
		}
	}()

	if r.Session.BroadcastDue(r.BroadcastEvery) {
		if _, err := r.BroadcastCycle(ctx); err != nil {
			r.log.Warn("periodic broadcast failed", "err", err)
		}
	}

	state, err := r.Ledger.FetchState(ctx)
	if err != nil {
		return fmt.Errorf("fetch state: %w", err)
	}
	inbox := state.Inbox
	for _, id := range state.LetterIDs() {
		// Marked one at a time so a panic leaves later letters for the
		// next poll.
		if !r.Session.MarkSeen(id) {
			continue
		}
		outcome := r.dispatch(ctx, state, id, inbox[id])
		if outcome.Status != string(negotiation.StatusAccepted) {
			continue
		}
		if _, err := r.BroadcastCycle(ctx); err != nil {
			r.log.Warn("post-accept broadcast failed", "err", err)
		}
		if fresh, err := r.Ledger.FetchState(ctx); err == nil {
			state = fresh
		}
	}
	return nil
}

func (r *Runner) dispatch(ctx context.Context, state ledger.State, id string, letter ledger.Letter) store.Outcome {
	kind := negotiation.Classify(letter, r.SystemSender)
	log := r.log.With("letter_id", id, "sender", letter.Sender, "subject", letter.Subject, "kind", kind)
	outcome := store.Outcome{LetterID: id, Sender: letter.Sender, Subject: letter.Subject, Kind: string(kind)}

	prompt := negotiation.BuildPrompt(negotiation.PromptInput{
		State:      state,
		Letter:     letter,
		Kind:       kind,
		InCooldown: r.Session.InCooldown(),
		Currency:   r.Currency.Name,
	})
	decision, err := r.Oracle.Decide(ctx, prompt)
	if err != nil {
		log.Error("oracle unavailable, letter skipped", "err", err)
		outcome.Action = string(negotiation.ActionWait)
		outcome.Status = string(negotiation.StatusWaiting)
		outcome.Error = err.Error()
		return r.record(outcome)
	}

	outcome.Action = string(decision.Action())
	res, err := r.Executor.Execute(ctx, state.DisplayAlias(), decision)
	outcome.Status = string(res.Status)
	outcome.Package = res.Package
	if err != nil {
		log.Warn("decision partly failed", "action", outcome.Action, "status", outcome.Status, "err", err)
		outcome.Error = err.Error()
	} else {
		log.Info("letter processed", "action", outcome.Action, "status", outcome.Status, "package", res.Package)
	}
	return r.record(outcome)
}

// BroadcastCycle runs general announcement, pairwise barter, opens the
// cooldown window and then runs the currency purchase. Cycles never
// overlap.
func (r *Runner) BroadcastCycle(ctx context.Context) (Summary, error) {
	r.broadcastMu.Lock()
	defer r.broadcastMu.Unlock()

	state, err := r.Ledger.FetchState(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("broadcast: %w", err)
	}
	alias := state.DisplayAlias()
	peers := r.Ledger.ListPeers(ctx, state.Alias)
	gap := negotiation.GapOf(state)

	sum := Summary{Peers: len(peers)}
	sum.General = r.sendAll(ctx, negotiation.GeneralAnnouncement(alias, gap, peers))
	sum.Pairwise = r.sendAll(ctx, negotiation.PairwiseBarter(alias, gap, peers))
	r.Session.StartCooldown(r.Cooldown)
	sum.Currency = r.sendAll(ctx, negotiation.CurrencyPurchase(alias, gap, peers, r.Currency))
	r.Session.MarkBroadcast()

	r.log.Info("broadcast cycle done",
		"peers", sum.Peers, "sent", sum.Total(),
		"general", sum.General, "pairwise", sum.Pairwise, "currency", sum.Currency,
		"cooldown", r.Cooldown)
	return sum, nil
}

func (r *Runner) sendAll(ctx context.Context, letters []ledger.Letter) int {
	sent := 0
	for _, letter := range letters {
		if err := r.Ledger.SendLetter(ctx, letter); err != nil {
			r.log.Warn("letter not sent", "recipient", letter.Recipient, "subject", letter.Subject, "err", err)
			continue
		}
		sent++
	}
	return sent
}

// ManualAccept ships exactly send to recipient after checking holdings.
func (r *Runner) ManualAccept(ctx context.Context, recipient string, send ledger.Resources) (ledger.Resources, error) {
	pkg, err := r.Executor.AcceptManual(ctx, recipient, send)
	outcome := store.Outcome{Sender: recipient, Kind: "manual", Action: string(negotiation.ActionAccept), Package: pkg}
	switch {
	case err == nil:
		outcome.Status = string(negotiation.StatusAccepted)
		r.log.Info("manual accept sent", "recipient", recipient, "package", pkg)
	case pkg != nil:
		outcome.Status = string(negotiation.StatusAccepted)
		outcome.Error = err.Error()
		r.log.Warn("manual accept confirmation failed", "recipient", recipient, "err", err)
	default:
		outcome.Status = string(negotiation.StatusBlocked)
		outcome.Error = err.Error()
		r.log.Warn("manual accept rejected", "recipient", recipient, "err", err)
	}
	r.record(outcome)
	return pkg, err
}

// IsRejection reports whether a ManualAccept error came from the request
// itself rather than from the ledger.
func IsRejection(err error) bool {
	var insufficient *negotiation.InsufficientError
	return errors.Is(err, negotiation.ErrInvalidQuantity) ||
		errors.Is(err, negotiation.ErrMissingRecipient) ||
		errors.As(err, &insufficient)
}

func (r *Runner) record(o store.Outcome) store.Outcome {
	if r.Journal == nil {
		return o
	}
	return r.Journal.Add(o)
}
