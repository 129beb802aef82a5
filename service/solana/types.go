package solana

import (
	"github.com/gagliardetto/solana-go"
)

// Kind identifies which transaction encoding a buffer decoded as.
type Kind string

const (
	KindLegacy    Kind = "legacy"
	KindVersioned Kind = "versioned"
)

// Decoded is the result of a successful decode: exactly one of the two encodings.
type Decoded struct {
	Kind Kind
	Tx   *solana.Transaction
}

// SimulationResult is our view of a simulateTransaction response.
type SimulationResult struct {
	Err           any      `json:"err"`
	Logs          []string `json:"logs"`
	UnitsConsumed uint64   `json:"units_consumed"`
}

// Failed reports whether the node returned an error for the simulation.
func (r *SimulationResult) Failed() bool {
	return r.Err != nil
}

// Confirmation tiers reported by getSignatureStatuses.
const (
	TierProcessed = "processed"
	TierConfirmed = "confirmed"
	TierFinalized = "finalized"
)

// SignatureStatus is our view of a single getSignatureStatuses entry.
type SignatureStatus struct {
	Slot               uint64  `json:"slot"`
	Confirmations      *uint64 `json:"confirmations,omitempty"`
	Err                any     `json:"err,omitempty"`
	ConfirmationStatus string  `json:"confirmation_status"`
}

// Summary describes a decoded transaction for inspection.
type Summary struct {
	Kind                Kind                 `json:"kind"`
	Signatures          []string             `json:"signatures"`
	RequiredSigners     int                  `json:"required_signers"`
	SignedCount         int                  `json:"signed_count"`
	FeePayer            string               `json:"fee_payer,omitempty"`
	RecentBlockhash     string               `json:"recent_blockhash"`
	AccountKeys         int                  `json:"account_keys"`
	AddressTableLookups int                  `json:"address_table_lookups"`
	Instructions        []InstructionSummary `json:"instructions"`
}

// InstructionSummary describes one compiled instruction.
type InstructionSummary struct {
	ProgramID string  `json:"program_id"`
	Program   string  `json:"program"`
	Type      string  `json:"type,omitempty"`
	Amount    *uint64 `json:"amount,omitempty"`
	Source    *string `json:"source,omitempty"`
	Mint      *string `json:"mint,omitempty"`
	Memo      *string `json:"memo,omitempty"`
	Accounts  int     `json:"accounts"`
	DataLen   int     `json:"data_len"`
}
