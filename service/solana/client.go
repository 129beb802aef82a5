package solana

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/txinspector/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	SimulateTransaction(
		ctx context.Context,
		tx *solana.Transaction,
		opts *rpc.SimulateTransactionOpts,
	) (*rpc.SimulateTransactionResponse, error)

	SendTransaction(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)
}

// Client is a connection to one RPC endpoint.
// It wraps the RPC client with the operations a submission needs.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// Endpoint returns the label this client reports in metrics and logs.
func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) record(method string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

// SimulateTransaction dry-runs tx against current network state.
// Signature verification is off so unsigned transactions can be simulated.
func (c *Client) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*SimulationResult, error) {
	start := time.Now()
	resp, err := c.rpc.SimulateTransaction(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  false,
		Commitment: rpc.CommitmentConfirmed,
	})
	c.record("simulateTransaction", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "simulateTransaction failed", "endpoint", c.endpoint, "error", err)
		return nil, fmt.Errorf("failed to simulate transaction: %w", err)
	}
	if resp == nil || resp.Value == nil {
		return nil, fmt.Errorf("failed to simulate transaction: empty response")
	}

	result := &SimulationResult{
		Err:  resp.Value.Err,
		Logs: resp.Value.Logs,
	}
	if resp.Value.UnitsConsumed != nil {
		result.UnitsConsumed = *resp.Value.UnitsConsumed
	}

	c.logger.DebugContext(ctx, "simulation complete",
		"endpoint", c.endpoint,
		"failed", result.Failed(),
		"units_consumed", result.UnitsConsumed,
		"log_lines", len(result.Logs),
	)
	return result, nil
}

// SendTransaction broadcasts a signed transaction with preflight checks enabled.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransaction(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	c.record("sendTransaction", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "sendTransaction failed", "endpoint", c.endpoint, "error", err)
		return solana.Signature{}, err
	}
	c.logger.DebugContext(ctx, "transaction broadcast", "endpoint", c.endpoint, "signature", sig.String())
	return sig, nil
}

// GetSignatureStatus looks up one signature. A nil status with a nil error means
// the node has not seen the signature yet.
func (c *Client) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	start := time.Now()
	resp, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	c.record("getSignatureStatuses", start, err)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Value) == 0 || resp.Value[0] == nil {
		return nil, nil
	}

	v := resp.Value[0]
	return &SignatureStatus{
		Slot:               v.Slot,
		Confirmations:      v.Confirmations,
		Err:                v.Err,
		ConfirmationStatus: string(v.ConfirmationStatus),
	}, nil
}
