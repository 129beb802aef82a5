package solana

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	simulation *rpc.SimulateTransactionResponse
	signature  solana.Signature
	statuses   *rpc.GetSignatureStatusesResult
	err        error

	simulateOpts *rpc.SimulateTransactionOpts
	sendOpts     rpc.TransactionOpts
}

func (m *mockRPCClient) SimulateTransaction(
	ctx context.Context,
	tx *solana.Transaction,
	opts *rpc.SimulateTransactionOpts,
) (*rpc.SimulateTransactionResponse, error) {
	m.simulateOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	return m.simulation, nil
}

func (m *mockRPCClient) SendTransaction(
	ctx context.Context,
	tx *solana.Transaction,
	opts rpc.TransactionOpts,
) (solana.Signature, error) {
	m.sendOpts = opts
	if m.err != nil {
		return solana.Signature{}, m.err
	}
	return m.signature, nil
}

func (m *mockRPCClient) GetSignatureStatuses(
	ctx context.Context,
	searchTransactionHistory bool,
	signatures ...solana.Signature,
) (*rpc.GetSignatureStatusesResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.statuses, nil
}

func newTestClient(mock *mockRPCClient) *Client {
	return NewClient(mock, "test", nil, nil)
}

func TestClient_SimulateTransaction(t *testing.T) {
	units := uint64(5000)
	mock := &mockRPCClient{
		simulation: &rpc.SimulateTransactionResponse{
			Value: &rpc.SimulateTransactionResult{
				Logs:          []string{"Program 11111111111111111111111111111111 invoke [1]"},
				UnitsConsumed: &units,
			},
		},
	}

	tx := buildTransfer(t, solana.NewWallet().PublicKey(), 1, false)
	result, err := newTestClient(mock).SimulateTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.False(t, result.Failed())
	assert.Equal(t, uint64(5000), result.UnitsConsumed)
	assert.Len(t, result.Logs, 1)

	require.NotNil(t, mock.simulateOpts)
	assert.False(t, mock.simulateOpts.SigVerify)
}

func TestClient_SimulateTransaction_ErrorField(t *testing.T) {
	mock := &mockRPCClient{
		simulation: &rpc.SimulateTransactionResponse{
			Value: &rpc.SimulateTransactionResult{
				Err:  map[string]any{"InstructionError": []any{0, "Custom"}},
				Logs: []string{"Program failed"},
			},
		},
	}

	result, err := newTestClient(mock).SimulateTransaction(context.Background(), buildTransfer(t, solana.NewWallet().PublicKey(), 1, false))
	require.NoError(t, err)
	assert.True(t, result.Failed())
	assert.Equal(t, uint64(0), result.UnitsConsumed)
}

func TestClient_SimulateTransaction_RPCError(t *testing.T) {
	mock := &mockRPCClient{err: errors.New("connection refused")}
	_, err := newTestClient(mock).SimulateTransaction(context.Background(), buildTransfer(t, solana.NewWallet().PublicKey(), 1, false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	_, err = newTestClient(&mockRPCClient{}).SimulateTransaction(context.Background(), buildTransfer(t, solana.NewWallet().PublicKey(), 1, false))
	assert.Error(t, err, "empty response should be an error")
}

func TestClient_SendTransaction(t *testing.T) {
	sig := solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
	mock := &mockRPCClient{signature: sig}

	got, err := newTestClient(mock).SendTransaction(context.Background(), buildTransfer(t, solana.NewWallet().PublicKey(), 1, false))
	require.NoError(t, err)
	assert.Equal(t, sig, got)
	assert.False(t, mock.sendOpts.SkipPreflight)
	assert.Equal(t, rpc.CommitmentConfirmed, mock.sendOpts.PreflightCommitment)
}

func TestClient_GetSignatureStatus(t *testing.T) {
	sig := solana.Signature{1}
	confirmations := uint64(3)

	tests := []struct {
		name     string
		statuses *rpc.GetSignatureStatusesResult
		want     *SignatureStatus
	}{
		{name: "nil response", statuses: nil, want: nil},
		{name: "empty value", statuses: &rpc.GetSignatureStatusesResult{}, want: nil},
		{
			name:     "not found",
			statuses: &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}},
			want:     nil,
		},
		{
			name: "confirmed",
			statuses: &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{{
				Slot:               123,
				Confirmations:      &confirmations,
				ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
			}}},
			want: &SignatureStatus{Slot: 123, Confirmations: &confirmations, ConfirmationStatus: TierConfirmed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newTestClient(&mockRPCClient{statuses: tt.statuses}).GetSignatureStatus(context.Background(), sig)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_GetSignatureStatus_Error(t *testing.T) {
	_, err := newTestClient(&mockRPCClient{err: errors.New("429 too many requests")}).GetSignatureStatus(context.Background(), solana.Signature{1})
	assert.Error(t, err)
}

func TestClient_Endpoint(t *testing.T) {
	assert.Equal(t, "test", newTestClient(&mockRPCClient{}).Endpoint())
}
