package negotiation

import (
	"strings"

	"github.com/bsrdtoms/fdi-pln2609/internal/ledger"
)

// Kind tags an inbound letter with the negotiation context it calls for.
type Kind string

const (
	KindSystem       Kind = "system"
	KindConfirmation Kind = "confirmation"
	KindProposal     Kind = "proposal"
	KindGeneral      Kind = "general"
)

// DefaultSystemSender is the alias the ledger uses for its own notices.
const DefaultSystemSender = "sistema"

var confirmationKeywords = []string{
	"acepto",
	"trato cerrado",
	"de acuerdo",
	"confirmado",
	"te envié",
	"enviado",
	"trato hecho",
	"intercambio aceptado",
	"deal accepted",
	"i sent you",
}

var proposalKeywords = []string{
	"te propongo",
	"te ofrezco",
	"a cambio de",
	"quiero cambiar",
	"intercambio",
	"i propose",
	"in exchange for",
}

// Classify tags a letter. The first matching rule wins: system sender,
// then confirmation phrases, then proposal phrases.
func Classify(letter ledger.Letter, systemSender string) Kind {
	if systemSender == "" {
		systemSender = DefaultSystemSender
	}
	if strings.EqualFold(strings.TrimSpace(letter.Sender), systemSender) {
		return KindSystem
	}
	text := strings.ToLower(letter.Subject + " " + letter.Body)
	if containsAny(text, confirmationKeywords) {
		return KindConfirmation
	}
	if containsAny(text, proposalKeywords) {
		return KindProposal
	}
	return KindGeneral
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
