package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// KeypairAdapter holds a private key in memory, typically loaded from a
// solana-keygen JSON file.
type KeypairAdapter struct {
	name string
	key  solana.PrivateKey

	mu        sync.RWMutex
	connected bool
}

// NewKeypairAdapter wraps an in-memory private key.
func NewKeypairAdapter(name string, key solana.PrivateKey) *KeypairAdapter {
	return &KeypairAdapter{name: name, key: key}
}

// LoadKeypairAdapter reads a solana-keygen JSON keypair file.
func LoadKeypairAdapter(name, path string) (*KeypairAdapter, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair from %s: %w", path, err)
	}
	return NewKeypairAdapter(name, key), nil
}

func (k *KeypairAdapter) Name() string { return k.name }

func (k *KeypairAdapter) Connect(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.connected = true
	return nil
}

func (k *KeypairAdapter) Disconnect(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.connected = false
	return nil
}

func (k *KeypairAdapter) PublicKey() (solana.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if !k.connected {
		return solana.PublicKey{}, false
	}
	return k.key.PublicKey(), true
}

// SignTransaction fills in this key's signature slot and leaves the others as
// they were, so multi-signer transactions can be signed piecewise.
func (k *KeypairAdapter) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	pub, ok := k.PublicKey()
	if !ok {
		return nil, ErrNotConnected
	}

	required := int(tx.Message.Header.NumRequiredSignatures)
	idx := -1
	for i := 0; i < required && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(pub) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotRequiredSigner, pub)
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}
	sig, err := k.key.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}

	signed := *tx
	signed.Signatures = make([]solana.Signature, required)
	copy(signed.Signatures, tx.Signatures)
	signed.Signatures[idx] = sig
	return &signed, nil
}

// WatchAdapter knows a public key but holds no private key, so it cannot sign.
type WatchAdapter struct {
	name string
	key  solana.PublicKey

	mu        sync.RWMutex
	connected bool
}

// NewWatchAdapter wraps a bare public key.
func NewWatchAdapter(name string, key solana.PublicKey) *WatchAdapter {
	return &WatchAdapter{name: name, key: key}
}

func (w *WatchAdapter) Name() string { return w.name }

func (w *WatchAdapter) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = true
	return nil
}

func (w *WatchAdapter) Disconnect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
	return nil
}

func (w *WatchAdapter) PublicKey() (solana.PublicKey, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.key, w.connected
}
