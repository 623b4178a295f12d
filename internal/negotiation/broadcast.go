package negotiation

import (
	"fmt"

	"github.com/bsrdtoms/fdi-pln2609/internal/ledger"
)

const (
	DefaultCurrency      = "oro"
	DefaultCurrencyPrice = 3
)

// Currency is the universal payment resource and its price per unit of
// any other resource.
type Currency struct {
	Name  string
	Price int
}

func (c Currency) withDefaults() Currency {
	if c.Name == "" {
		c.Name = DefaultCurrency
	}
	if c.Price <= 0 {
		c.Price = DefaultCurrencyPrice
	}
	return c
}

// GeneralAnnouncement addresses every peer with the full shortage and
// surplus lists. It always produces one letter per peer.
func GeneralAnnouncement(alias string, gap Gap, peers []string) []ledger.Letter {
	body := fmt.Sprintf(
		"Hola, soy %s.\nNecesito: %s.\nOfrezco a cambio: %s.\nSi te interesa, propón un intercambio concreto.",
		alias, describe(gap.Shortage, "ninguno"), describe(gap.Surplus, "ninguno"),
	)
	letters := make([]ledger.Letter, 0, len(peers))
	for _, peer := range peers {
		letters = append(letters, ledger.Letter{Sender: alias, Recipient: peer, Subject: "Busco intercambio", Body: body})
	}
	return letters
}

// PairwiseBarter proposes a 1-for-1 swap for every (surplus, shortage)
// pair to every peer. Nothing is produced unless both sides are non-empty.
func PairwiseBarter(alias string, gap Gap, peers []string) []ledger.Letter {
	if len(gap.Shortage) == 0 || len(gap.Surplus) == 0 {
		return nil
	}
	letters := make([]ledger.Letter, 0, len(gap.Surplus)*len(gap.Shortage)*len(peers))
	for _, give := range gap.Surplus.Names() {
		for _, want := range gap.Shortage.Names() {
			subject := fmt.Sprintf("Oferta: 1 %s por 1 %s", give, want)
			body := fmt.Sprintf(
				"Hola, soy %s.\nTe propongo: te doy 1 de %s a cambio de 1 de %s.\nTengo %d de %s disponibles.\n"+
					"Si aceptas, envíame 1 de %s y yo te envío 1 de %s.",
				alias, give, want, gap.Surplus[give], give, want, give,
			)
			for _, peer := range peers {
				letters = append(letters, ledger.Letter{Sender: alias, Recipient: peer, Subject: subject, Body: body})
			}
		}
	}
	return letters
}

// CurrencyPurchase offers to buy one unit of every shortage resource for
// the currency price. Nothing is produced when shortage is empty or the
// currency surplus is below the price.
func CurrencyPurchase(alias string, gap Gap, peers []string, currency Currency) []ledger.Letter {
	currency = currency.withDefaults()
	available := gap.Surplus[currency.Name]
	if len(gap.Shortage) == 0 || available < currency.Price {
		return nil
	}
	var letters []ledger.Letter
	for _, want := range gap.Shortage.Names() {
		if want == currency.Name {
			continue
		}
		subject := fmt.Sprintf("Compro: 1 %s por %d %s", want, currency.Price, currency.Name)
		body := fmt.Sprintf(
			"Hola, soy %s.\nCompro 1 de %s a cambio de %d de %s.\nTengo %d de %s disponibles.\n"+
				"Si aceptas, envíame 1 de %s y yo te envío %d de %s inmediatamente.",
			alias, want, currency.Price, currency.Name, available, currency.Name, want, currency.Price, currency.Name,
		)
		for _, peer := range peers {
			letters = append(letters, ledger.Letter{Sender: alias, Recipient: peer, Subject: subject, Body: body})
		}
	}
	return letters
}
