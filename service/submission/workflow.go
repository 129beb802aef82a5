// Package submission drives a base64 transaction through decode, simulate,
// sign, broadcast and confirmation polling.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/txinspector/service/endpoints"
	"github.com/brojonat/txinspector/service/logsink"
	"github.com/brojonat/txinspector/service/metrics"
	"github.com/brojonat/txinspector/service/solana"
	"github.com/brojonat/txinspector/service/wallet"
	sol "github.com/gagliardetto/solana-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is a step of the submission state machine.
type State string

const (
	StateIdle              State = "idle"
	StateDecoding          State = "decoding"
	StateSimulating        State = "simulating"
	StateAwaitingSignature State = "awaiting_signature"
	StateBroadcasting      State = "broadcasting"
	StateConfirming        State = "confirming"
	StateConfirmed         State = "confirmed"
	StateFailed            State = "failed"
	StateTimedOut          State = "timed_out"
)

// Terminal reports whether no further transitions can happen from s.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed || s == StateTimedOut
}

// Poll policy defaults. The cadence is fixed: no jitter, no backoff.
const (
	DefaultMaxAttempts  = 30
	DefaultPollInterval = 2000 * time.Millisecond
)

// User-facing messages.
const (
	msgNoWallet      = "Please connect your wallet first"
	msgNoInput       = "Please enter transaction data"
	msgInvalidFormat = "Invalid transaction format. Please provide a valid base64 encoded transaction."
	msgVersioned     = "Versioned transactions are not supported for signing"
	msgNoSigner      = "Wallet does not support transaction signing"
	msgTimeout       = "Transaction may still be processing. This can happen due to network congestion or if the RPC endpoint is slow to update."
)

// Connection is the RPC surface a submission needs. *solana.Client satisfies it.
type Connection interface {
	Endpoint() string
	SimulateTransaction(ctx context.Context, tx *sol.Transaction) (*solana.SimulationResult, error)
	SendTransaction(ctx context.Context, tx *sol.Transaction) (sol.Signature, error)
	GetSignatureStatus(ctx context.Context, sig sol.Signature) (*solana.SignatureStatus, error)
}

// Wallet is the signing side of a submission. *wallet.Session satisfies it.
type Wallet interface {
	PublicKey() (sol.PublicKey, bool)
	Signer() (wallet.Signer, bool)
	SendTransaction(ctx context.Context, tx *sol.Transaction, conn wallet.Sender) (sol.Signature, error)
}

// History reports whether a signature was seen by an earlier submission.
type History interface {
	SignatureExists(ctx context.Context, signature string) (bool, error)
}

// Config tunes a Workflow. Zero values select the defaults.
type Config struct {
	MaxAttempts  int
	PollInterval time.Duration
	// Network picks the explorer cluster for surfaced links.
	Network endpoints.Network
	// Sleep waits between poll attempts. It must return ctx.Err() when ctx ends first.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnStateChange is called after every transition.
	OnStateChange func(State)
	// OnPoll is called after every status query.
	OnPoll func(attempt, maxAttempts int, verdict Verdict)
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Deps are the collaborators of a Workflow. Conn, Wallet and Logs are required.
type Deps struct {
	Conn    Connection
	Wallet  Wallet
	Logs    *logsink.Sink
	History History
	Metrics *metrics.Metrics
}

// Result is the outcome of one submission. Run always returns one.
type Result struct {
	State       State                    `json:"state"`
	Transitions []State                  `json:"transitions"`
	Kind        solana.Kind              `json:"kind,omitempty"`
	Simulation  *solana.SimulationResult `json:"simulation,omitempty"`
	Signature   string                   `json:"signature,omitempty"`
	ExplorerURL string                   `json:"explorer_url,omitempty"`
	Attempts    int                      `json:"attempts"`
	Status      *solana.SignatureStatus  `json:"status,omitempty"`
	Duplicate   bool                     `json:"duplicate,omitempty"`
	Endpoint    string                   `json:"endpoint"`
	Network     endpoints.Network        `json:"network"`
	ErrorKind   string                   `json:"error_kind,omitempty"`
	Message     string                   `json:"message,omitempty"`
	StartedAt   time.Time                `json:"started_at"`
	FinishedAt  time.Time                `json:"finished_at"`

	Err error `json:"-"`

	// closes the stage span still open when a stage panics
	openStage func(err error)
}

// Succeeded reports whether the transaction reached the confirmed tier.
func (r *Result) Succeeded() bool {
	return r.State == StateConfirmed
}

// Workflow runs submissions against one connection. Build a new Workflow after
// an endpoint change; a Workflow never switches connections.
type Workflow struct {
	decoder *solana.Decoder
	deps    Deps
	cfg     Config
	tracer  trace.Tracer
	now     func() time.Time
}

// NewWorkflow wires a workflow.
func NewWorkflow(deps Deps, cfg Config) *Workflow {
	if deps.Logs == nil {
		deps.Logs = logsink.New(logsink.DefaultCapacity, nil)
	}
	return &Workflow{
		decoder: solana.NewDecoder(slog.New(deps.Logs.Handler())),
		deps:    deps,
		cfg:     cfg.withDefaults(),
		tracer:  otel.Tracer("github.com/brojonat/txinspector/service/submission"),
		now:     time.Now,
	}
}

// Run processes one base64 transaction. Failures are classified into the
// returned Result; Run never returns an error and never panics.
func (w *Workflow) Run(ctx context.Context, input string) (res *Result) {
	logs := w.deps.Logs
	logs.Clear()

	res = &Result{
		State:       StateIdle,
		Transitions: []State{StateIdle},
		Endpoint:    w.deps.Conn.Endpoint(),
		Network:     w.cfg.Network,
		StartedAt:   w.now().UTC(),
	}

	ctx, span := w.tracer.Start(ctx, "submission.Run", trace.WithAttributes(
		attribute.String("rpc.endpoint", res.Endpoint),
		attribute.String("solana.network", string(res.Network)),
	))

	w.deps.Metrics.SubmissionStarted()
	defer func() {
		if r := recover(); r != nil {
			w.recoverPanic(res, r)
		}
		res.FinishedAt = w.now().UTC()
		w.deps.Metrics.SubmissionFinished()
		w.deps.Metrics.RecordSubmission(string(res.State), string(res.Network), res.FinishedAt.Sub(res.StartedAt).Seconds())

		span.SetAttributes(attribute.String("submission.state", string(res.State)))
		if res.Signature != "" {
			span.SetAttributes(attribute.String("solana.signature", res.Signature))
		}
		if res.State == StateFailed {
			span.SetStatus(codes.Error, res.Message)
		}
		span.End()

		logs.Info("transaction processing completed", "state", string(res.State), "attempts", res.Attempts)
	}()

	pub, connected := w.deps.Wallet.PublicKey()
	var address any
	if connected {
		address = pub
	}
	logs.Info("starting new transaction processing session",
		"wallet_connected", connected,
		"wallet_address", address,
		"transaction_data_length", len(strings.TrimSpace(input)),
		"rpc_endpoint", res.Endpoint,
	)

	if !connected {
		logs.Error("wallet not connected", "error", msgNoWallet)
		w.fail(res, &Error{Kind: ErrValidation, Message: msgNoWallet})
		return res
	}
	if strings.TrimSpace(input) == "" {
		logs.Error("no transaction data provided", "error", msgNoInput)
		w.fail(res, &Error{Kind: ErrValidation, Message: msgNoInput})
		return res
	}

	decoded, ok := w.decode(ctx, res, input)
	if !ok {
		return res
	}
	if !w.simulate(ctx, res, decoded) {
		return res
	}

	if decoded.Kind == solana.KindVersioned {
		logs.Warn("versioned transaction limitation", "transaction_type", string(decoded.Kind))
		w.fail(res, &Error{Kind: ErrUnsupportedVariant, Message: msgVersioned})
		return res
	}

	signed, ok := w.sign(ctx, res, decoded.Tx)
	if !ok {
		return res
	}
	sig, ok := w.broadcast(ctx, res, signed)
	if !ok {
		return res
	}
	w.confirm(ctx, res, sig)
	return res
}

// stageKinds classifies a panic by the state it escaped from.
var stageKinds = map[State]error{
	StateIdle:              ErrValidation,
	StateDecoding:          ErrDecode,
	StateSimulating:        ErrSimulation,
	StateAwaitingSignature: ErrSigning,
	StateBroadcasting:      ErrBroadcast,
}

func (w *Workflow) recoverPanic(res *Result, r any) {
	cause := fmt.Errorf("panic: %v", r)
	if res.openStage != nil {
		res.openStage(cause)
	}
	w.deps.Logs.Error("transaction processing failed", "error", cause, "state", string(res.State))
	if res.State.Terminal() {
		return
	}
	if res.State == StateConfirming {
		// already broadcast, so the transaction may still land
		w.timeOut(res, cause)
		return
	}
	w.fail(res, &Error{Kind: stageKinds[res.State], Message: "Unexpected error", Cause: cause})
}

func (w *Workflow) transition(res *Result, to State) {
	res.State = to
	res.Transitions = append(res.Transitions, to)
	if w.cfg.OnStateChange != nil {
		w.cfg.OnStateChange(to)
	}
}

func (w *Workflow) fail(res *Result, err *Error) {
	res.Err = err
	res.ErrorKind = err.KindName()
	res.Message = err.Message
	w.transition(res, StateFailed)
}

func (w *Workflow) stage(ctx context.Context, res *Result, name State) (context.Context, func(err error)) {
	start := w.now()
	ctx, span := w.tracer.Start(ctx, "submission."+string(name))
	ended := false
	done := func(err error) {
		if ended {
			return
		}
		ended = true
		res.openStage = nil
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		w.deps.Metrics.RecordStage(string(name), status, w.now().Sub(start).Seconds())
	}
	res.openStage = done
	return ctx, done
}

func (w *Workflow) decode(ctx context.Context, res *Result, input string) (solana.Decoded, bool) {
	w.transition(res, StateDecoding)
	_, done := w.stage(ctx, res, StateDecoding)
	logs := w.deps.Logs
	logs.Info("parsing transaction data")

	decoded, err := w.decoder.DecodeBase64(input)
	done(err)
	if err != nil {
		var decErr *solana.DecodeError
		if errors.As(err, &decErr) {
			logs.Error("both transaction parsing methods failed",
				"legacy_error", decErr.Legacy,
				"versioned_error", decErr.Versioned,
			)
		}
		w.deps.Metrics.RecordDecode("none", "error")
		w.fail(res, &Error{Kind: ErrDecode, Message: msgInvalidFormat, Cause: err})
		return solana.Decoded{}, false
	}

	w.deps.Metrics.RecordDecode(string(decoded.Kind), "success")
	res.Kind = decoded.Kind
	logs.Success(fmt.Sprintf("successfully parsed as %s transaction", decoded.Kind))
	return decoded, true
}

func (w *Workflow) simulate(ctx context.Context, res *Result, decoded solana.Decoded) bool {
	w.transition(res, StateSimulating)
	ctx, done := w.stage(ctx, res, StateSimulating)
	logs := w.deps.Logs
	logs.Info("starting transaction simulation", "transaction_type", string(decoded.Kind), "endpoint", res.Endpoint)

	sim, err := w.deps.Conn.SimulateTransaction(ctx, decoded.Tx)
	if err != nil {
		done(err)
		logs.Error("transaction simulation request failed", "error", err)
		w.fail(res, &Error{Kind: ErrSimulation, Message: "Simulation failed", Cause: err})
		return false
	}
	res.Simulation = sim

	logs.Info("simulation completed",
		"success", !sim.Failed(),
		"logs_count", len(sim.Logs),
		"units_consumed", sim.UnitsConsumed,
		"error", sim.Err,
	)

	if sim.Failed() {
		simErr := &Error{
			Kind:    ErrSimulation,
			Message: "Simulation failed: " + describe(sim.Err),
			Detail:  sim.Err,
			Logs:    sim.Logs,
		}
		done(simErr)
		logs.Error("transaction simulation failed", "error", sim.Err, "logs", sim.Logs)
		w.fail(res, simErr)
		return false
	}

	done(nil)
	logs.Success("simulation successful", "units_consumed", sim.UnitsConsumed, "logs_preview", preview(sim.Logs, 3))
	return true
}

func (w *Workflow) sign(ctx context.Context, res *Result, tx *sol.Transaction) (*sol.Transaction, bool) {
	w.transition(res, StateAwaitingSignature)
	ctx, done := w.stage(ctx, res, StateAwaitingSignature)
	logs := w.deps.Logs

	signer, ok := w.deps.Wallet.Signer()
	if !ok {
		done(wallet.ErrSigningUnsupported)
		logs.Error("wallet signing not supported")
		w.fail(res, &Error{Kind: ErrSigning, Message: msgNoSigner, Cause: wallet.ErrSigningUnsupported})
		return nil, false
	}

	logs.Info("requesting transaction signature")
	signed, err := signer.SignTransaction(ctx, tx)
	done(err)
	if err != nil {
		logs.Error("transaction signing failed", "error", err)
		w.fail(res, &Error{Kind: ErrSigning, Message: "Signing failed", Cause: err})
		return nil, false
	}
	logs.Success("transaction signed successfully")
	return signed, true
}

func (w *Workflow) broadcast(ctx context.Context, res *Result, signed *sol.Transaction) (sol.Signature, bool) {
	w.transition(res, StateBroadcasting)
	ctx, done := w.stage(ctx, res, StateBroadcasting)
	logs := w.deps.Logs
	logs.Info("sending transaction to network")

	sig, err := w.deps.Wallet.SendTransaction(ctx, signed, w.deps.Conn)
	done(err)
	if err != nil {
		logs.Error("transaction broadcast failed", "error", err)
		w.fail(res, &Error{Kind: ErrBroadcast, Message: "Broadcast failed: " + err.Error(), Cause: err})
		return sol.Signature{}, false
	}

	res.Signature = sig.String()
	res.ExplorerURL = endpoints.ExplorerURL(res.Signature, w.cfg.Network)
	logs.Success("transaction sent", "signature", sig, "explorer", res.ExplorerURL)

	if w.deps.History != nil {
		dup, err := w.deps.History.SignatureExists(ctx, res.Signature)
		switch {
		case err != nil:
			logs.Debug("could not check signature history", "error", err)
		case dup:
			res.Duplicate = true
			logs.Warn("detected duplicate transaction signature, the same transaction data may have been resubmitted", "signature", sig)
		}
	}
	return sig, true
}

func (w *Workflow) confirm(ctx context.Context, res *Result, sig sol.Signature) {
	w.transition(res, StateConfirming)
	ctx, done := w.stage(ctx, res, StateConfirming)
	logs := w.deps.Logs
	maxAttempts := w.cfg.MaxAttempts
	logs.Info("waiting for transaction confirmation", "max_attempts", maxAttempts, "interval_ms", w.cfg.PollInterval.Milliseconds())

	short := res.Signature
	if len(short) > 8 {
		short = short[:8] + "..."
	}

	var (
		last        *solana.SignatureStatus
		interrupted error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := w.cfg.Sleep(ctx, w.cfg.PollInterval); err != nil {
				interrupted = err
				logs.Warn("confirmation polling interrupted", "error", err, "attempt", attempt-1)
				break
			}
		}
		res.Attempts = attempt

		status, err := w.deps.Conn.GetSignatureStatus(ctx, sig)
		if err != nil {
			if ctx.Err() != nil {
				interrupted = ctx.Err()
				logs.Warn("confirmation polling interrupted", "error", interrupted, "attempt", attempt)
				break
			}
			w.deps.Metrics.RecordPollError(res.Endpoint)
			logs.Warn(fmt.Sprintf("error checking transaction status (attempt %d)", attempt), "error", err)
			w.notifyPoll(attempt, VerdictNotFound)
			continue
		}

		verdict := ClassifyStatus(status)
		w.notifyPoll(attempt, verdict)
		if status != nil {
			last = status
		}
		logs.Debug(fmt.Sprintf("confirmation attempt %d/%d", attempt, maxAttempts),
			"signature", short,
			"status", statusLabel(status),
			"slot", slotOf(status),
			"err", errOf(status),
			"confirmations", confirmationsOf(status),
		)

		switch verdict {
		case VerdictConfirmed:
			res.Status = status
			done(nil)
			w.deps.Metrics.RecordConfirmationAttempts(string(StateConfirmed), attempt)
			logs.Success("transaction confirmed",
				"signature", res.Signature,
				"slot", status.Slot,
				"confirmation_status", status.ConfirmationStatus,
			)
			w.transition(res, StateConfirmed)
			return

		case VerdictFailed:
			res.Status = status
			onChain := &Error{
				Kind:    ErrOnChain,
				Message: "Transaction failed: " + describe(status.Err),
				Detail:  status.Err,
			}
			done(onChain)
			w.deps.Metrics.RecordConfirmationAttempts(string(StateFailed), attempt)
			logs.Error("transaction failed on-chain", "error", status.Err, "slot", status.Slot)
			w.fail(res, onChain)
			return

		case VerdictPending:
			if status.ConfirmationStatus == solana.TierProcessed {
				logs.Info("transaction processed, waiting for confirmation",
					"slot", status.Slot,
					"confirmations", confirmationsOf(status),
				)
			}

		case VerdictNotFound:
			logs.Debug("transaction not found in ledger yet, may still be propagating")
		}
	}

	res.Status = last
	done(nil)
	w.deps.Metrics.RecordConfirmationAttempts(string(StateTimedOut), res.Attempts)
	logs.Warn("transaction confirmation timed out",
		"signature", res.Signature,
		"final_status", statusLabel(last),
		"explorer", res.ExplorerURL,
	)
	w.timeOut(res, interrupted)
}

// timeOut ends a run without declaring the transaction failed.
func (w *Workflow) timeOut(res *Result, cause error) {
	timeout := &Error{Kind: ErrConfirmationTimeout, Message: msgTimeout, Cause: cause}
	res.Err = timeout
	res.ErrorKind = timeout.KindName()
	res.Message = timeout.Message
	w.transition(res, StateTimedOut)
}

func (w *Workflow) notifyPoll(attempt int, v Verdict) {
	if w.cfg.OnPoll != nil {
		w.cfg.OnPoll(attempt, w.cfg.MaxAttempts, v)
	}
}

func describe(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func preview(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[:n]
}

func statusLabel(s *solana.SignatureStatus) string {
	if s == nil || s.ConfirmationStatus == "" {
		return "not_found"
	}
	return s.ConfirmationStatus
}

func slotOf(s *solana.SignatureStatus) any {
	if s == nil {
		return nil
	}
	return s.Slot
}

func errOf(s *solana.SignatureStatus) any {
	if s == nil {
		return nil
	}
	return s.Err
}

func confirmationsOf(s *solana.SignatureStatus) any {
	if s == nil || s.Confirmations == nil {
		return nil
	}
	return *s.Confirmations
}
