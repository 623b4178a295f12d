package ledger

import (
	"encoding/json"
	"sort"
)

// Resources maps a resource name to a quantity.
type Resources map[string]int

// Names returns the resource names in sorted order.
func (r Resources) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy.
func (r Resources) Clone() Resources {
	out := make(Resources, len(r))
	for name, qty := range r {
		out[name] = qty
	}
	return out
}

// Letter is a routed text message between two agents.
type Letter struct {
	Sender    string `json:"remi"`
	Recipient string `json:"dest"`
	Subject   string `json:"asunto"`
	Body      string `json:"cuerpo"`
}

// State is a point-in-time snapshot of the agent as held by the ledger.
// It is read once per decision cycle and never mutated locally.
type State struct {
	Alias     string            `json:"Alias"`
	Resources Resources         `json:"Recursos"`
	Target    Resources         `json:"Objetivo"`
	Inbox     map[string]Letter `json:"Buzon"`
}

// LetterIDs returns the inbox ids in sorted order.
func (s State) LetterIDs() []string {
	ids := make([]string, 0, len(s.Inbox))
	for id := range s.Inbox {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DisplayAlias is the alias used when signing letters.
func (s State) DisplayAlias() string {
	if s.Alias == "" {
		return "agente"
	}
	return s.Alias
}

type peer struct {
	Alias string
}

func (p *peer) UnmarshalJSON(b []byte) error {
	var raw struct {
		Upper string `json:"Alias"`
		Lower string `json:"alias"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p.Alias = raw.Upper
	if p.Alias == "" {
		p.Alias = raw.Lower
	}
	return nil
}
