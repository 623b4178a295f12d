package negotiation

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/jsonc"
)

type Action string

const (
	ActionWait    Action = "wait"
	ActionOffer   Action = "offer"
	ActionRequest Action = "request"
	ActionAccept  Action = "accept"
)

// Decision is one of Wait, Propose or Accept.
type Decision interface {
	Action() Action
}

type Wait struct{}

func (Wait) Action() Action { return ActionWait }

// Propose sends a letter. Kind is ActionOffer or ActionRequest.
type Propose struct {
	Kind      Action
	Recipient string
	Subject   string
	Body      string
}

func (p Propose) Action() Action { return p.Kind }

// Accept ships Send to Recipient. Send is oracle output and must go
// through CapTransfer before anything leaves the agent.
type Accept struct {
	Recipient string
	Send      map[string]any
	Receive   map[string]any
}

func (Accept) Action() Action { return ActionAccept }

const defaultProposalSubject = "Propuesta de intercambio"

const decisionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {"enum": ["wait", "offer", "request", "accept"]},
    "recipient": {"type": "string"},
    "subject": {"type": ["string", "null"]},
    "body": {"type": "string"},
    "send": {"type": ["object", "null"]},
    "receive": {"type": ["object", "null"]}
  },
  "allOf": [
    {
      "if": {"properties": {"action": {"const": "accept"}}},
      "then": {"required": ["recipient"], "properties": {"recipient": {"minLength": 1}}}
    },
    {
      "if": {"properties": {"action": {"enum": ["offer", "request"]}}},
      "then": {
        "required": ["recipient", "body"],
        "properties": {"recipient": {"minLength": 1}, "body": {"minLength": 1}}
      }
    }
  ]
}`

var decisionValidator = jsonschema.MustCompileString("decision.schema.json", decisionSchema)

var keyAliases = map[string]string{
	"accion":  "action",
	"dest":    "recipient",
	"asunto":  "subject",
	"cuerpo":  "body",
	"envio":   "send",
	"recibir": "receive",
}

var actionAliases = map[string]Action{
	"esperar": ActionWait,
	"ofrecer": ActionOffer,
	"pedir":   ActionRequest,
	"aceptar": ActionAccept,
}

// ParseDecision reads oracle output. It tries the whole text, then the
// first balanced JSON object embedded in it. ok is false when nothing
// usable was found, in which case the decision is Wait.
func ParseDecision(raw string) (Decision, bool) {
	text := strings.TrimSpace(raw)
	obj, err := decodeObject(text)
	if err != nil {
		for _, candidate := range embeddedObjects(text) {
			if found, err := decodeObject(candidate); err == nil {
				obj = found
				break
			}
		}
	}
	if obj == nil {
		return Wait{}, false
	}
	return decisionFrom(normalizeDecision(obj))
}

func decisionFrom(obj map[string]any) (Decision, bool) {
	if err := decisionValidator.Validate(obj); err != nil {
		return Wait{}, false
	}
	str := func(key string) string {
		s, _ := obj[key].(string)
		return strings.TrimSpace(s)
	}
	amounts := func(key string) map[string]any {
		m, _ := obj[key].(map[string]any)
		return m
	}

	switch action := Action(str("action")); action {
	case ActionWait:
		return Wait{}, true
	case ActionOffer, ActionRequest:
		p := Propose{Kind: action, Recipient: str("recipient"), Subject: str("subject"), Body: str("body")}
		if p.Subject == "" {
			p.Subject = defaultProposalSubject
		}
		return p, true
	case ActionAccept:
		return Accept{Recipient: str("recipient"), Send: amounts("send"), Receive: amounts("receive")}, true
	}
	return Wait{}, false
}

func normalizeDecision(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		key := strings.ToLower(strings.TrimSpace(k))
		if canonical, ok := keyAliases[key]; ok {
			if _, taken := obj[canonical]; taken {
				continue
			}
			key = canonical
		}
		out[key] = v
	}
	if s, ok := out["action"].(string); ok {
		clean := strings.ToLower(strings.TrimSpace(s))
		if alias, ok := actionAliases[clean]; ok {
			clean = string(alias)
		}
		out["action"] = clean
	}
	return out
}

// decodeObject accepts JSONC: comments and trailing commas are common in
// model output and are stripped before decoding.
func decodeObject(text string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON([]byte(text))))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errTrailingData
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

// embeddedObjects returns every balanced {...} span in text, in order of
// their opening brace. Braces inside JSON strings are ignored.
func embeddedObjects(text string) []string {
	var out []string
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end > start {
			out = append(out, text[start:end+1])
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return out
}

func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

var (
	errTrailingData = errors.New("trailing data after JSON value")
	errNotObject    = errors.New("JSON value is not an object")
)
