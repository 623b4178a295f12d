package negotiation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/bsrdtoms/fdi-pln2609/internal/ledger"
	"github.com/bsrdtoms/fdi-pln2609/internal/llm"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentPackage struct {
	Recipient string
	Resources ledger.Resources
}

type fakeLedger struct {
	mu         sync.Mutex
	state      ledger.State
	fetchErr   error
	packageErr error
	letterErr  error
	fetches    int
	letters    []ledger.Letter
	packages   []sentPackage
}

func (f *fakeLedger) FetchState(context.Context) (ledger.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return ledger.State{}, f.fetchErr
	}
	return f.state, nil
}

func (f *fakeLedger) SendLetter(_ context.Context, letter ledger.Letter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.letterErr != nil {
		return f.letterErr
	}
	f.letters = append(f.letters, letter)
	return nil
}

func (f *fakeLedger) SendPackage(_ context.Context, recipient string, res ledger.Resources) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.packageErr != nil {
		return f.packageErr
	}
	f.packages = append(f.packages, sentPackage{Recipient: recipient, Resources: res})
	return nil
}

type fakeLLM struct {
	answer string
	err    error
	calls  int
	last   llm.Prompt
}

func (f *fakeLLM) Generate(_ context.Context, prompt llm.Prompt) (string, error) {
	f.calls++
	f.last = prompt
	return f.answer, f.err
}

func (f *fakeLLM) Provider() string { return "fake" }
func (f *fakeLLM) Model() string    { return "fake-1" }

var errUnreachable = errors.New("connection refused")
