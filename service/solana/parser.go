package solana

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL transfer program
	SystemProgramID = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	// MemoProgramIDSPL is the SPL Memo program (most common)
	MemoProgramIDSPL = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

	// MemoProgramIDLegacy is the legacy memo program (v1)
	MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")

	// ComputeBudgetProgramID sets compute unit limits and priority fees
	ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

// Summarize describes a decoded transaction without touching the network.
// Instructions whose program lives in an address lookup table are reported
// as unresolved since the table contents are not available offline.
func Summarize(d Decoded) Summary {
	tx := d.Tx
	msg := tx.Message

	s := Summary{
		Kind:                d.Kind,
		Signatures:          make([]string, 0, len(tx.Signatures)),
		RequiredSigners:     int(msg.Header.NumRequiredSignatures),
		RecentBlockhash:     msg.RecentBlockhash.String(),
		AccountKeys:         len(msg.AccountKeys),
		AddressTableLookups: len(msg.AddressTableLookups),
		Instructions:        make([]InstructionSummary, 0, len(msg.Instructions)),
	}

	for _, sig := range tx.Signatures {
		s.Signatures = append(s.Signatures, sig.String())
		if sig != (solana.Signature{}) {
			s.SignedCount++
		}
	}
	if len(msg.AccountKeys) > 0 {
		s.FeePayer = msg.AccountKeys[0].String()
	}

	for _, inst := range msg.Instructions {
		s.Instructions = append(s.Instructions, summarizeInstruction(inst, msg.AccountKeys))
	}
	return s
}

func summarizeInstruction(inst solana.CompiledInstruction, accountKeys []solana.PublicKey) InstructionSummary {
	out := InstructionSummary{
		Accounts: len(inst.Accounts),
		DataLen:  len(inst.Data),
	}

	if int(inst.ProgramIDIndex) >= len(accountKeys) {
		out.Program = "unresolved"
		out.ProgramID = fmt.Sprintf("lookup#%d", inst.ProgramIDIndex)
		return out
	}

	programID := accountKeys[inst.ProgramIDIndex]
	out.ProgramID = programID.String()

	switch {
	case programID.Equals(SystemProgramID):
		out.Program = "system"
		if amount, fromAddr, err := parseSystemTransferWithSource(inst, accountKeys); err == nil {
			out.Type = "transfer"
			out.Amount = &amount
			if fromAddr != nil {
				from := fromAddr.String()
				out.Source = &from
			}
		}

	case programID.Equals(TokenProgramID) || programID.Equals(Token2022ProgramID):
		out.Program = "spl-token"
		if programID.Equals(Token2022ProgramID) {
			out.Program = "spl-token-2022"
		}
		if typ, amount, mint, fromAddr, err := parseTokenTransferWithSource(inst, accountKeys); err == nil {
			out.Type = typ
			out.Amount = &amount
			if !mint.IsZero() {
				m := mint.String()
				out.Mint = &m
			}
			if fromAddr != nil {
				from := fromAddr.String()
				out.Source = &from
			}
		}

	case programID.Equals(MemoProgramIDSPL) || programID.Equals(MemoProgramIDLegacy):
		out.Program = "memo"
		if memo := parseMemo(inst.Data); memo != "" {
			out.Type = "memo"
			out.Memo = &memo
		}

	case programID.Equals(ComputeBudgetProgramID):
		out.Program = "compute-budget"

	default:
		out.Program = "unknown"
	}
	return out
}

// parseSystemTransferWithSource extracts the amount and source address from a System Program Transfer instruction.
func parseSystemTransferWithSource(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (uint64, *solana.PublicKey, error) {
	// [0..4]  = instruction type (u32, 2 for Transfer)
	// [4..12] = lamports (u64)
	if len(instruction.Data) < 12 {
		return 0, nil, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}

	instructionType := binary.LittleEndian.Uint32(instruction.Data[0:4])
	if instructionType != SystemProgramTransferInstruction {
		return 0, nil, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}

	amount := binary.LittleEndian.Uint64(instruction.Data[4:12])

	// accounts: [from, to]
	var fromAddr *solana.PublicKey
	if len(instruction.Accounts) >= 1 {
		fromAccountIndex := instruction.Accounts[0]
		if int(fromAccountIndex) < len(accountKeys) {
			addr := accountKeys[fromAccountIndex]
			fromAddr = &addr
		}
	}

	return amount, fromAddr, nil
}

// parseTokenTransferWithSource extracts type, amount, mint and authority from an SPL Token transfer instruction.
func parseTokenTransferWithSource(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (typ string, amount uint64, mint solana.PublicKey, fromAddr *solana.PublicKey, err error) {
	if len(instruction.Data) == 0 {
		return "", 0, solana.PublicKey{}, nil, fmt.Errorf("empty instruction data")
	}

	switch instruction.Data[0] {
	case TokenProgramTransferInstruction:
		// [0] type, [1..9] amount; accounts: [source, destination, authority]
		if len(instruction.Data) < 9 {
			return "", 0, solana.PublicKey{}, nil, fmt.Errorf("transfer instruction data too short")
		}
		amount = binary.LittleEndian.Uint64(instruction.Data[1:9])
		if len(instruction.Accounts) >= 3 && int(instruction.Accounts[2]) < len(accountKeys) {
			addr := accountKeys[instruction.Accounts[2]]
			fromAddr = &addr
		}
		return "transfer", amount, solana.PublicKey{}, fromAddr, nil

	case TokenProgramTransferCheckedInstruction:
		// [0] type, [1..9] amount, [9] decimals
		// accounts: [source, mint, destination, authority, ...]
		if len(instruction.Data) < 10 {
			return "", 0, solana.PublicKey{}, nil, fmt.Errorf("transferChecked instruction data too short")
		}
		amount = binary.LittleEndian.Uint64(instruction.Data[1:9])
		if len(instruction.Accounts) < 4 {
			return "", 0, solana.PublicKey{}, nil, fmt.Errorf("transferChecked missing accounts")
		}

		mintAccountIndex := instruction.Accounts[1]
		if int(mintAccountIndex) >= len(accountKeys) {
			return "", 0, solana.PublicKey{}, nil, fmt.Errorf("mint account index out of bounds")
		}
		mint = accountKeys[mintAccountIndex]

		authorityIndex := instruction.Accounts[3]
		if int(authorityIndex) < len(accountKeys) {
			addr := accountKeys[authorityIndex]
			fromAddr = &addr
		}
		return "transferChecked", amount, mint, fromAddr, nil

	default:
		return "", 0, solana.PublicKey{}, nil, fmt.Errorf("unknown token instruction type: %d", instruction.Data[0])
	}
}

// parseMemo extracts the memo text from a Memo Program instruction.
// Some memos are base64 encoded, others are plain text.
func parseMemo(data []byte) string {
	memo := string(data)
	if decoded, err := base64.StdEncoding.DecodeString(memo); err == nil && isPrintableUTF8(decoded) {
		return string(decoded)
	}
	return memo
}

func isPrintableUTF8(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, c := range b {
		if c == 0 {
			return false
		}
	}
	return true
}
