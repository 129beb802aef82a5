package solana

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// DecodeError reports that a buffer matched neither transaction encoding.
// Both underlying causes are kept for diagnostics.
type DecodeError struct {
	Legacy    error
	Versioned error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid transaction format: legacy: %v; versioned: %v", e.Legacy, e.Versioned)
}

func (e *DecodeError) Unwrap() []error {
	return []error{e.Legacy, e.Versioned}
}

var (
	errVersionPrefix   = errors.New("message carries a version prefix")
	errNoVersionPrefix = errors.New("message has no version prefix")
	errEmptyBuffer     = errors.New("empty transaction buffer")
)

// Decoder parses raw transaction bytes, trying the legacy encoding first and
// the versioned encoding second.
type Decoder struct {
	logger *slog.Logger
}

// NewDecoder creates a decoder. A nil logger discards attempt logs.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Decoder{logger: logger}
}

// DecodeBase64 trims and base64-decodes text, then decodes the bytes.
func (d *Decoder) DecodeBase64(text string) (Decoded, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
	if err != nil {
		cause := fmt.Errorf("invalid base64: %w", err)
		d.logger.Warn("transaction data is not valid base64", "error", err)
		return Decoded{}, &DecodeError{Legacy: cause, Versioned: cause}
	}
	return d.Decode(raw)
}

// Decode interprets buf as a legacy transaction, falling back to a versioned one.
// On failure the returned error is a *DecodeError.
func (d *Decoder) Decode(buf []byte) (Decoded, error) {
	d.logger.Debug("attempting legacy transaction parsing", "buffer_length", len(buf))
	tx, legacyErr := parseTransaction(buf, false)
	if legacyErr == nil {
		d.logger.Debug("parsed as legacy transaction")
		return Decoded{Kind: KindLegacy, Tx: tx}, nil
	}
	d.logger.Warn("legacy transaction parsing failed, trying versioned", "error", legacyErr)

	tx, versionedErr := parseTransaction(buf, true)
	if versionedErr == nil {
		d.logger.Debug("parsed as versioned transaction")
		return Decoded{Kind: KindVersioned, Tx: tx}, nil
	}
	d.logger.Warn("versioned transaction parsing failed", "error", versionedErr)

	return Decoded{}, &DecodeError{Legacy: legacyErr, Versioned: versionedErr}
}

// parseTransaction decodes buf as a single transaction. A versioned parse only
// accepts messages with a version prefix, a legacy parse only those without.
func parseTransaction(buf []byte, versioned bool) (tx *solana.Transaction, err error) {
	if len(buf) == 0 {
		return nil, errEmptyBuffer
	}

	// solana-go can panic on truncated input; treat it as a failed attempt.
	defer func() {
		if r := recover(); r != nil {
			tx = nil
			err = fmt.Errorf("malformed transaction: %v", r)
		}
	}()

	dec := bin.NewBinDecoder(buf)
	tx, err = solana.TransactionFromDecoder(dec)
	if err != nil {
		return nil, err
	}
	if rem := dec.Remaining(); rem > 0 {
		return nil, fmt.Errorf("%d trailing bytes after transaction", rem)
	}
	if tx.Message.IsVersioned() != versioned {
		if versioned {
			return nil, errNoVersionPrefix
		}
		return nil, errVersionPrefix
	}
	return tx, nil
}
