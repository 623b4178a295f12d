package negotiation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bsrdtoms/fdi-pln2609/internal/ledger"
	"github.com/bsrdtoms/fdi-pln2609/internal/llm"
)

var kindContext = map[Kind]string{
	KindSystem: "This is an automatic notice from the ledger (package received, resources generated). " +
		"It needs no answer: ALWAYS return wait.",
	KindConfirmation: "The sender CONFIRMS they accepted your offer and already sent their part. " +
		"You MUST return accept with send = the SURPLUS resource you had promised (named in the letter) " +
		"and receive = the resource the sender just sent you.",
	KindProposal: "The sender makes a concrete exchange proposal. " +
		"If they ask for something from your SURPLUS in exchange for anything, accept. " +
		"If they offer something from your SHORTAGE, accept or counter with an offer.",
	KindGeneral: "General letter or broadcast. Look for an exchange opportunity. " +
		"If the sender holds resources from your SHORTAGE, answer with a concrete offer.",
}

const systemPrompt = "You are an autonomous trading agent in a resource exchange. " +
	"Reply with a single JSON object only, no markdown, no extra text. " +
	"Peers write in Spanish; write letter subjects and bodies in Spanish."

// PromptInput is everything the advisory prompt is built from. State
// must be a fresh ledger read.
type PromptInput struct {
	State      ledger.State
	Letter     ledger.Letter
	Kind       Kind
	InCooldown bool
	Currency   string
}

// BuildPrompt renders the advisory prompt for one inbound letter.
func BuildPrompt(in PromptInput) llm.Prompt {
	gap := GapOf(in.State)
	sender := in.Letter.Sender
	if sender == "" {
		sender = "?"
	}
	currency := in.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	policy, ok := kindContext[in.Kind]
	if !ok {
		policy = kindContext[KindGeneral]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %q. Goal: reach your target by trading for what you lack.\n\n", in.State.DisplayAlias())

	b.WriteString("## Current state\n")
	fmt.Fprintf(&b, "- Resources: %s\n", jsonText(in.State.Resources))
	fmt.Fprintf(&b, "- Target: %s\n", jsonText(in.State.Target))
	fmt.Fprintf(&b, "- SHORTAGE (must obtain): %s\n", describe(gap.Shortage, "none"))
	fmt.Fprintf(&b, "- SURPLUS (may give away): %s\n\n", describe(gap.Surplus, "none"))

	b.WriteString("## Absolute rules\n")
	fmt.Fprintf(&b, "- You may only give resources from SURPLUS: %s\n", jsonText(gap.Surplus))
	b.WriteString("- Never offer SHORTAGE resources\n")
	fmt.Fprintf(&b, "- %s is a universal currency (nobody needs it in their target)\n", currency)
	if in.InCooldown {
		b.WriteString("\nCOOLDOWN ACTIVE: you just broadcast many proposals. Do NOT accept yet. " +
			"Answer with an offer if the deal is interesting.\n")
	}

	fmt.Fprintf(&b, "\n## Letter received (kind: %s)\n", in.Kind)
	fmt.Fprintf(&b, "- From: %s\n- Subject: %s\n- Body: %s\n\n", sender, in.Letter.Subject, in.Letter.Body)

	fmt.Fprintf(&b, "## Context for this kind of letter\n%s\n\n", policy)

	b.WriteString("## Decision rules (by priority)\n")
	b.WriteString("1. Ledger notice -> wait\n")
	b.WriteString("2. Exchange confirmation -> accept (send what you promised, as stated in the letter)\n")
	fmt.Fprintf(&b, "3. Offer of >=2 %s for SURPLUS resources -> accept\n", currency)
	b.WriteString("4. Any deal where you give SURPLUS and receive something -> accept\n")
	b.WriteString("5. Sender mentions having SHORTAGE resources -> offer with a concrete proposal\n")
	b.WriteString("6. Sender only asks without offering -> wait\n")
	b.WriteString("7. NEVER send SHORTAGE resources\n\n")

	b.WriteString("## Response format (strict JSON)\n")
	b.WriteString(`{"action":"wait"}` + "\n")
	fmt.Fprintf(&b, `{"action":"offer","recipient":%q,"subject":"...","body":"Te propongo: te doy N de [SURPLUS] a cambio de M de [recurso]."}`+"\n", sender)
	fmt.Fprintf(&b, `{"action":"accept","recipient":%q,"send":{"resource":quantity},"receive":{"resource":quantity}}`+"\n\n", sender)
	fmt.Fprintf(&b, `Example accepting a confirmation: {"action":"accept","recipient":%q,"send":{"arroz":1},"receive":{"madera":1}}`+"\n\n", sender)
	b.WriteString("Return ONLY the JSON.")

	return llm.Prompt{System: systemPrompt, User: b.String()}
}

// describe renders "3 de madera, 1 de piedra" in sorted order.
func describe(res ledger.Resources, empty string) string {
	if len(res) == 0 {
		return empty
	}
	parts := make([]string, 0, len(res))
	for _, name := range res.Names() {
		parts = append(parts, fmt.Sprintf("%d de %s", res[name], name))
	}
	return strings.Join(parts, ", ")
}

func jsonText(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "{}"
	}
	return string(b)
}
