package submission

import (
	"github.com/brojonat/txinspector/service/solana"
)

// Verdict is what a single status poll tells us about a signature.
type Verdict int

const (
	// VerdictNotFound means the node has not seen the signature yet.
	VerdictNotFound Verdict = iota
	// VerdictPending means the signature is known but below the confirmed tier.
	VerdictPending
	// VerdictConfirmed means the confirmed or finalized tier was reached.
	VerdictConfirmed
	// VerdictFailed means the status carries an execution error.
	VerdictFailed
)

func (v Verdict) String() string {
	switch v {
	case VerdictNotFound:
		return "not_found"
	case VerdictPending:
		return "pending"
	case VerdictConfirmed:
		return "confirmed"
	case VerdictFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether polling should stop.
func (v Verdict) Terminal() bool {
	return v == VerdictConfirmed || v == VerdictFailed
}

// ClassifyStatus interprets a getSignatureStatuses entry. A confirmed or
// finalized tier wins over an error field, matching how the node reports a
// landed transaction. It is pure so the durable watcher can share it.
func ClassifyStatus(status *solana.SignatureStatus) Verdict {
	if status == nil {
		return VerdictNotFound
	}
	switch status.ConfirmationStatus {
	case solana.TierConfirmed, solana.TierFinalized:
		return VerdictConfirmed
	}
	if status.Err != nil {
		return VerdictFailed
	}
	return VerdictPending
}
