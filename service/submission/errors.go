package submission

import (
	"errors"
	"fmt"
)

// Failure kinds. Every *Error wraps exactly one of these.
var (
	ErrValidation          = errors.New("validation failed")
	ErrDecode              = errors.New("transaction decode failed")
	ErrSimulation          = errors.New("simulation failed")
	ErrUnsupportedVariant  = errors.New("unsupported transaction variant")
	ErrSigning             = errors.New("signing failed")
	ErrBroadcast           = errors.New("broadcast failed")
	ErrOnChain             = errors.New("transaction failed on-chain")
	ErrConfirmationTimeout = errors.New("confirmation timed out")
)

var kindNames = map[error]string{
	ErrValidation:          "ValidationError",
	ErrDecode:              "DecodeError",
	ErrSimulation:          "SimulationError",
	ErrUnsupportedVariant:  "UnsupportedVariantError",
	ErrSigning:             "SigningError",
	ErrBroadcast:           "BroadcastError",
	ErrOnChain:             "OnChainError",
	ErrConfirmationTimeout: "ConfirmationTimeout",
}

// Error is a classified submission failure. Kind is one of the Err* values above
// and Cause, when present, is the error reported by the decoder, RPC node or wallet.
type Error struct {
	Kind    error
	Message string
	Cause   error
	// Detail is the raw error value reported by the node, if any.
	Detail any
	// Logs are program logs returned alongside a failed simulation.
	Logs []string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// KindName returns the taxonomy name of the failure, e.g. "SimulationError".
func (e *Error) KindName() string {
	return KindName(e.Kind)
}

// KindName maps an error to its taxonomy name, or "" when err is unclassified.
func KindName(err error) string {
	for kind, name := range kindNames {
		if errors.Is(err, kind) {
			return name
		}
	}
	return ""
}
