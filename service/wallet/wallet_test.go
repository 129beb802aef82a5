package wallet

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoSignerTx(t *testing.T, first, second solana.PublicKey) *solana.Transaction {
	t.Helper()
	inst := solana.NewInstruction(
		solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"),
		solana.AccountMetaSlice{
			solana.Meta(first).SIGNER().WRITE(),
			solana.Meta(second).SIGNER(),
		},
		[]byte("hello"),
	)
	tx, err := solana.NewTransaction([]solana.Instruction{inst}, solana.Hash{7}, solana.TransactionPayer(first))
	require.NoError(t, err)
	return tx
}

type fakeSender struct {
	sig  solana.Signature
	sent *solana.Transaction
}

func (f *fakeSender) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.sent = tx
	return f.sig, nil
}

func TestKeypairAdapter_PartialSign(t *testing.T) {
	ctx := context.Background()
	payer := solana.NewWallet()
	cosigner := solana.NewWallet()

	tx := twoSignerTx(t, payer.PublicKey(), cosigner.PublicKey())
	require.Equal(t, uint8(2), tx.Message.Header.NumRequiredSignatures)

	adapter := NewKeypairAdapter("cosigner", cosigner.PrivateKey)
	require.NoError(t, adapter.Connect(ctx))

	signed, err := adapter.SignTransaction(ctx, tx)
	require.NoError(t, err)
	require.Len(t, signed.Signatures, 2)

	msg, err := signed.Message.MarshalBinary()
	require.NoError(t, err)

	idx := -1
	for i, k := range signed.Message.AccountKeys[:2] {
		if k.Equals(cosigner.PublicKey()) {
			idx = i
		}
	}
	require.GreaterOrEqual(t, idx, 0)
	assert.True(t, signed.Signatures[idx].Verify(cosigner.PublicKey(), msg))
	assert.Equal(t, solana.Signature{}, signed.Signatures[1-idx], "other signer's slot stays empty")
	assert.Empty(t, tx.Signatures, "input transaction is not mutated")
}

func TestKeypairAdapter_Errors(t *testing.T) {
	ctx := context.Background()
	stranger := NewKeypairAdapter("stranger", solana.NewWallet().PrivateKey)
	tx := twoSignerTx(t, solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())

	_, err := stranger.SignTransaction(ctx, tx)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, stranger.Connect(ctx))
	_, err = stranger.SignTransaction(ctx, tx)
	assert.ErrorIs(t, err, ErrNotRequiredSigner)
}

func TestLoadKeypairAdapter(t *testing.T) {
	w := solana.NewWallet()
	raw := make([]int, len(w.PrivateKey))
	for i, b := range w.PrivateKey {
		raw[i] = int(b)
	}
	data, err := json.Marshal(raw)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	adapter, err := LoadKeypairAdapter("keypair", path)
	require.NoError(t, err)
	require.NoError(t, adapter.Connect(context.Background()))

	key, ok := adapter.PublicKey()
	require.True(t, ok)
	assert.Equal(t, w.PublicKey(), key)

	_, err = LoadKeypairAdapter("missing", filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestWatchAdapter_CannotSign(t *testing.T) {
	var a Adapter = NewWatchAdapter("watch", solana.NewWallet().PublicKey())
	_, ok := a.(Signer)
	assert.False(t, ok)
}

func TestSession_SelectConnectDisconnect(t *testing.T) {
	ctx := context.Background()
	kp := NewKeypairAdapter("keypair", solana.NewWallet().PrivateKey)
	watchKey := solana.NewWallet().PublicKey()
	watch := NewWatchAdapter("watch", watchKey)

	s := NewSession(nil)
	_, ok := s.PublicKey()
	assert.False(t, ok)
	assert.ErrorIs(t, s.Connect(ctx), ErrNoWalletSelected)

	s.Register(kp)
	s.Register(watch)

	require.NoError(t, s.Connect(ctx))
	key, ok := s.PublicKey()
	require.True(t, ok)
	assert.Equal(t, kp.key.PublicKey(), key)

	signer, ok := s.Signer()
	require.True(t, ok)
	assert.NotNil(t, signer)

	require.NoError(t, s.Select(ctx, "watch"))
	_, kpConnected := kp.PublicKey()
	assert.False(t, kpConnected, "switching wallets disconnects the previous one")

	_, ok = s.PublicKey()
	assert.False(t, ok, "newly selected wallet starts disconnected")
	require.NoError(t, s.Connect(ctx))
	key, ok = s.PublicKey()
	require.True(t, ok)
	assert.Equal(t, watchKey, key)

	_, ok = s.Signer()
	assert.False(t, ok)

	require.NoError(t, s.Disconnect(ctx))
	_, ok = s.PublicKey()
	assert.False(t, ok)

	assert.ErrorIs(t, s.Select(ctx, "ledger"), ErrUnknownWallet)
}

func TestSession_SendTransaction(t *testing.T) {
	ctx := context.Background()
	s := NewSession(nil)
	s.Register(NewWatchAdapter("watch", solana.NewWallet().PublicKey()))

	sender := &fakeSender{sig: solana.Signature{4, 2}}
	tx := twoSignerTx(t, solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())

	_, err := s.SendTransaction(ctx, tx, sender)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Nil(t, sender.sent)

	require.NoError(t, s.Connect(ctx))
	sig, err := s.SendTransaction(ctx, tx, sender)
	require.NoError(t, err)
	assert.Equal(t, solana.Signature{4, 2}, sig)
	assert.Same(t, tx, sender.sent)
}

func TestSession_Adapters(t *testing.T) {
	ctx := context.Background()
	s := NewSession(nil)
	s.Register(NewWatchAdapter("watch", solana.NewWallet().PublicKey()))
	s.Register(NewKeypairAdapter("keypair", solana.NewWallet().PrivateKey))
	require.NoError(t, s.Connect(ctx))

	infos := s.Adapters()
	require.Len(t, infos, 2)
	assert.Equal(t, "keypair", infos[0].Name)
	assert.True(t, infos[0].CanSign)
	assert.False(t, infos[0].Selected)
	assert.Equal(t, "watch", infos[1].Name)
	assert.True(t, infos[1].Selected)
	assert.True(t, infos[1].Connected)
	assert.False(t, infos[1].CanSign)
}
