// Package wallet is the boundary between a submission and whatever holds the
// user's keys. The submission only ever sees a public key, an optional signing
// capability and a way to broadcast.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrNoWalletSelected   = errors.New("no wallet selected")
	ErrNotConnected       = errors.New("wallet not connected")
	ErrUnknownWallet      = errors.New("unknown wallet")
	ErrSigningUnsupported = errors.New("wallet does not support transaction signing")
	ErrNotRequiredSigner  = errors.New("wallet is not a required signer of this transaction")
)

// Adapter is one way of holding a key.
type Adapter interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// PublicKey returns the key and true once connected.
	PublicKey() (solana.PublicKey, bool)
}

// Signer is an optional Adapter capability. Adapters that cannot sign simply
// do not implement it.
type Signer interface {
	SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)
}

// Sender broadcasts a signed transaction. *solana.Client satisfies it.
type Sender interface {
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Info describes a registered adapter.
type Info struct {
	Name      string `json:"name"`
	Selected  bool   `json:"selected"`
	Connected bool   `json:"connected"`
	PublicKey string `json:"public_key,omitempty"`
	CanSign   bool   `json:"can_sign"`
}

// Session tracks the registered adapters and which one is in use.
type Session struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	selected string
	logger   *slog.Logger
}

// NewSession creates an empty session.
func NewSession(logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Session{
		adapters: make(map[string]Adapter),
		logger:   logger,
	}
}

// Register adds an adapter. The first adapter registered becomes the selection.
// Registering a name twice replaces the earlier adapter.
func (s *Session) Register(a Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[a.Name()] = a
	if s.selected == "" {
		s.selected = a.Name()
	}
}

// Select switches to the named adapter, disconnecting the previous one.
func (s *Session) Select(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := s.adapters[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWallet, name)
	}
	if s.selected == name {
		return nil
	}
	if prev, ok := s.adapters[s.selected]; ok {
		if err := prev.Disconnect(ctx); err != nil {
			s.logger.WarnContext(ctx, "failed to disconnect previous wallet", "wallet", prev.Name(), "error", err)
		}
	}
	s.selected = next.Name()
	s.logger.InfoContext(ctx, "wallet selected", "wallet", name)
	return nil
}

func (s *Session) current() (Adapter, error) {
	a, ok := s.adapters[s.selected]
	if !ok {
		return nil, ErrNoWalletSelected
	}
	return a, nil
}

// Connect connects the selected adapter.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.RLock()
	a, err := s.current()
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := a.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect %s: %w", a.Name(), err)
	}
	key, _ := a.PublicKey()
	s.logger.InfoContext(ctx, "wallet connected", "wallet", a.Name(), "public_key", key.String())
	return nil
}

// Disconnect disconnects the selected adapter.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.RLock()
	a, err := s.current()
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := a.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", a.Name(), err)
	}
	s.logger.InfoContext(ctx, "wallet disconnected", "wallet", a.Name())
	return nil
}

// PublicKey returns the selected adapter's key, or false when nothing is connected.
func (s *Session) PublicKey() (solana.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, err := s.current()
	if err != nil {
		return solana.PublicKey{}, false
	}
	return a.PublicKey()
}

// Signer returns the selected adapter's signing capability, if it has one.
func (s *Session) Signer() (Signer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, err := s.current()
	if err != nil {
		return nil, false
	}
	signer, ok := a.(Signer)
	return signer, ok
}

// SendTransaction broadcasts an already signed transaction over conn.
func (s *Session) SendTransaction(ctx context.Context, tx *solana.Transaction, conn Sender) (solana.Signature, error) {
	if _, ok := s.PublicKey(); !ok {
		return solana.Signature{}, ErrNotConnected
	}
	return conn.SendTransaction(ctx, tx)
}

// Adapters lists the registered adapters sorted by name.
func (s *Session) Adapters() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Info, 0, len(s.adapters))
	for name, a := range s.adapters {
		info := Info{Name: name, Selected: name == s.selected}
		if key, ok := a.PublicKey(); ok {
			info.Connected = true
			info.PublicKey = key.String()
		}
		_, info.CanSign = a.(Signer)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
