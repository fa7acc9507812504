package risk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Kind identifies what a target reference points at.
type Kind string

const (
	KindAddress     Kind = "address"
	KindTransaction Kind = "transaction"
)

// txHashRegex validates transaction hashes (0x + 64 hex chars).
var txHashRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)

// Target identifies the subject of an evaluation. Construct via NewTarget;
// a zero Target is invalid.
type Target struct {
	Kind      Kind   `json:"kind"`
	Reference string `json:"reference"`
}

// NewTarget builds a validated Target. The reference is trimmed and
// lowercased before validation so equal targets compare equal.
func NewTarget(kind Kind, reference string) (Target, error) {
	t := Target{
		Kind:      kind,
		Reference: strings.ToLower(strings.TrimSpace(reference)),
	}
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	return t, nil
}

// Validate checks the reference format for the target's kind.
func (t Target) Validate() error {
	switch t.Kind {
	case KindAddress:
		if !common.IsHexAddress(t.Reference) {
			return InvalidTargetError(fmt.Sprintf("%q is not a valid address (want 0x + 40 hex chars)", t.Reference))
		}
	case KindTransaction:
		if !txHashRegex.MatchString(t.Reference) {
			return InvalidTargetError(fmt.Sprintf("%q is not a valid transaction hash (want 0x + 64 hex chars)", t.Reference))
		}
	default:
		return InvalidTargetError(fmt.Sprintf("unknown target kind %q", t.Kind))
	}
	return nil
}

// String renders the target as kind:reference.
func (t Target) String() string {
	return string(t.Kind) + ":" + t.Reference
}
