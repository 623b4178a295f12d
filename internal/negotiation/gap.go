// Package negotiation holds the trading agent's decision engine: what it
// lacks and can spare, how inbound letters are read, how untrusted oracle
// decisions are checked and carried out, and which letters it broadcasts.
package negotiation

import "github.com/bsrdtoms/fdi-pln2609/internal/ledger"

// Gap is the distance between holdings and target.
type Gap struct {
	Shortage ledger.Resources
	Surplus  ledger.Resources
}

// ComputeGap returns what is missing to reach target and what is held
// beyond it. Resources held but absent from target are surplus in full.
func ComputeGap(resources, target ledger.Resources) (shortage, surplus ledger.Resources) {
	shortage = ledger.Resources{}
	surplus = ledger.Resources{}
	for name, want := range target {
		if have := resources[name]; want > have {
			shortage[name] = want - have
		}
	}
	for name, have := range resources {
		if want := target[name]; have > want {
			surplus[name] = have - want
		}
	}
	return shortage, surplus
}

// GapOf computes the gap of a fresh ledger snapshot.
func GapOf(state ledger.State) Gap {
	shortage, surplus := ComputeGap(state.Resources, state.Target)
	return Gap{Shortage: shortage, Surplus: surplus}
}
