package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bsrdtoms/fdi-pln2609/internal/ledger"
)

// Ledger is the part of the ledger/mailbox service the engine drives.
type Ledger interface {
	FetchState(ctx context.Context) (ledger.State, error)
	SendLetter(ctx context.Context, letter ledger.Letter) error
	SendPackage(ctx context.Context, recipient string, res ledger.Resources) error
}

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusAccepted Status = "accepted_and_sent"
	StatusBlocked  Status = "transfer_blocked"
)

// SentStatus is the result of a delivered proposal, e.g. "offer_sent".
func SentStatus(kind Action) Status {
	return Status(string(kind) + "_sent")
}

type Result struct {
	Status  Status
	Package ledger.Resources
}

const acceptedSubject = "Intercambio aceptado"

// Executor carries out decisions against the ledger. Transfers are
// serialized: re-read, cap, send package and send confirmation run as one
// unit across all callers.
type Executor struct {
	ledger Ledger
	log    *slog.Logger

	transferMu sync.Mutex
}

func NewExecutor(l Ledger, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{ledger: l, log: logger}
}

// Execute runs one decision on behalf of self. Invalid decisions resolve
// to StatusWaiting without side effects. An error means a ledger call
// failed; the returned Result still tells what already happened.
func (e *Executor) Execute(ctx context.Context, self string, d Decision) (Result, error) {
	switch d := d.(type) {
	case Wait:
		return Result{Status: StatusWaiting}, nil
	case Propose:
		if (d.Kind != ActionOffer && d.Kind != ActionRequest) || d.Recipient == "" || strings.TrimSpace(d.Body) == "" {
			break
		}
		subject := d.Subject
		if subject == "" {
			subject = defaultProposalSubject
		}
		letter := ledger.Letter{Sender: self, Recipient: d.Recipient, Subject: subject, Body: d.Body}
		if err := e.ledger.SendLetter(ctx, letter); err != nil {
			return Result{Status: StatusWaiting}, fmt.Errorf("send %s: %w", d.Kind, err)
		}
		return Result{Status: SentStatus(d.Kind)}, nil
	case Accept:
		if d.Recipient == "" {
			break
		}
		return e.accept(ctx, self, d)
	}
	e.log.Warn("invalid decision or missing fields", "decision", fmt.Sprintf("%#v", d))
	return Result{Status: StatusWaiting}, nil
}

func (e *Executor) accept(ctx context.Context, self string, d Accept) (Result, error) {
	e.transferMu.Lock()
	defer e.transferMu.Unlock()

	state, err := e.ledger.FetchState(ctx)
	if err != nil {
		return Result{Status: StatusBlocked}, fmt.Errorf("refresh surplus: %w", err)
	}
	_, surplus := ComputeGap(state.Resources, state.Target)
	pkg, ok := CapTransfer(d.Send, surplus)
	if !ok {
		e.log.Warn("transfer blocked: nothing available in surplus", "recipient", d.Recipient, "requested", d.Send)
		return Result{Status: StatusBlocked}, nil
	}

	if err := e.ledger.SendPackage(ctx, d.Recipient, pkg); err != nil {
		return Result{Status: StatusBlocked}, fmt.Errorf("send package: %w", err)
	}
	body := confirmationBody(pkg, d.Receive)
	letter := ledger.Letter{Sender: self, Recipient: d.Recipient, Subject: acceptedSubject, Body: body}
	if err := e.ledger.SendLetter(ctx, letter); err != nil {
		return Result{Status: StatusAccepted, Package: pkg}, fmt.Errorf("send confirmation: %w", err)
	}
	return Result{Status: StatusAccepted, Package: pkg}, nil
}

// AcceptManual ships exactly send to recipient. Unlike oracle decisions it
// is never capped: every resource must be covered by current holdings.
func (e *Executor) AcceptManual(ctx context.Context, recipient string, send ledger.Resources) (ledger.Resources, error) {
	if strings.TrimSpace(recipient) == "" {
		return nil, ErrMissingRecipient
	}
	if len(send) == 0 {
		return nil, ErrInvalidQuantity
	}
	for _, qty := range send {
		if qty <= 0 {
			return nil, ErrInvalidQuantity
		}
	}

	e.transferMu.Lock()
	defer e.transferMu.Unlock()

	state, err := e.ledger.FetchState(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch state: %w", err)
	}
	var errs []error
	for _, name := range send.Names() {
		if have := state.Resources[name]; have < send[name] {
			errs = append(errs, &InsufficientError{Resource: name, Have: have, Want: send[name]})
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	pkg := send.Clone()
	if err := e.ledger.SendPackage(ctx, recipient, pkg); err != nil {
		return nil, fmt.Errorf("send package: %w", err)
	}
	letter := ledger.Letter{
		Sender:    state.DisplayAlias(),
		Recipient: recipient,
		Subject:   acceptedSubject,
		Body:      confirmationBody(pkg, nil),
	}
	if err := e.ledger.SendLetter(ctx, letter); err != nil {
		return pkg, fmt.Errorf("send confirmation: %w", err)
	}
	return pkg, nil
}

func confirmationBody(sent ledger.Resources, expected map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Acepto el trato. Te envié: %s.", jsonText(sent))
	if len(expected) > 0 {
		fmt.Fprintf(&b, " Espero recibir: %s.", jsonText(expected))
	}
	b.WriteString(" Envíame tu parte si aún no lo has hecho.")
	return b.String()
}
