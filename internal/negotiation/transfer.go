package negotiation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/bsrdtoms/fdi-pln2609/internal/ledger"
)

var (
	ErrInvalidQuantity  = errors.New("quantities must be positive integers")
	ErrMissingRecipient = errors.New("recipient is required")
)

// InsufficientError reports a manual transfer that asks for more of a
// resource than is held.
type InsufficientError struct {
	Resource string
	Have     int
	Want     int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("not enough %s (have %d, want %d)", e.Resource, e.Have, e.Want)
}

// CapTransfer clamps an untrusted transfer proposal to live surplus.
// Entries that are not strictly positive integers, or name a resource
// without surplus, are dropped. ok is false when nothing remains.
func CapTransfer(proposed map[string]any, liveSurplus ledger.Resources) (ledger.Resources, bool) {
	out := ledger.Resources{}
	for name, raw := range proposed {
		qty, valid := positiveInt(raw)
		if !valid {
			continue
		}
		avail := liveSurplus[name]
		if avail <= 0 {
			continue
		}
		out[name] = min(qty, avail)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// positiveInt accepts Go integers, integral float64 values and json.Number
// literals without fraction or exponent.
func positiveInt(v any) (int, bool) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case float64:
		if x != math.Trunc(x) || x > math.MaxInt32 {
			return 0, false
		}
		n = int64(x)
	case json.Number:
		parsed, err := x.Int64()
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	if n <= 0 || n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}
