// Package inspector owns the runtime state a user session needs: the selected
// RPC endpoint, the wallet session, the log sink and the single-submission
// guard. The HTTP server and the CLI both drive submissions through it.
package inspector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/txinspector/service/db"
	"github.com/brojonat/txinspector/service/endpoints"
	"github.com/brojonat/txinspector/service/logsink"
	"github.com/brojonat/txinspector/service/metrics"
	natspkg "github.com/brojonat/txinspector/service/nats"
	"github.com/brojonat/txinspector/service/solana"
	"github.com/brojonat/txinspector/service/submission"
	"github.com/brojonat/txinspector/service/temporal"
	"github.com/brojonat/txinspector/service/wallet"
)

// ErrBusy is returned for operations refused while a submission runs.
var ErrBusy = submission.ErrBusy

// Dialer opens a connection to an RPC endpoint.
type Dialer func(e endpoints.Endpoint) submission.Connection

// Recorder persists finished submissions. *db.Store satisfies it.
type Recorder interface {
	CreateSubmission(ctx context.Context, params db.CreateSubmissionParams) (*db.Submission, error)
	SignatureExists(ctx context.Context, signature string) (bool, error)
}

// Config holds the optional collaborators and tuning of an Inspector.
type Config struct {
	Registry *endpoints.Registry
	Session  *wallet.Session
	Logs     *logsink.Sink
	Dial     Dialer

	// Override pins the endpoint until the user selects one explicitly.
	Override string

	MaxAttempts      int
	PollInterval     time.Duration
	WatchMaxAttempts int

	Recorder  Recorder          // Optional
	Publisher natspkg.Publisher // Optional
	Watcher   temporal.Watcher  // Optional
	Metrics   *metrics.Metrics  // Optional
	Logger    *slog.Logger
	// Sleep, OnStateChange and OnPoll are forwarded to every workflow run.
	Sleep         func(ctx context.Context, d time.Duration) error
	OnStateChange func(submission.State)
	OnPoll        func(attempt, maxAttempts int, verdict submission.Verdict)
}

// Inspector coordinates submissions for one user session.
type Inspector struct {
	cfg    Config
	guard  submission.Guard
	logger *slog.Logger

	mu       sync.Mutex
	override string
	conn     submission.Connection
	connURL  string
}

// New creates an Inspector. Registry, Session and Logs are required.
func New(cfg Config) *Inspector {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dial == nil {
		m, logger := cfg.Metrics, cfg.Logger
		cfg.Dial = func(e endpoints.Endpoint) submission.Connection {
			return solana.Dial(e.URL, e.URL, m, logger)
		}
	}
	return &Inspector{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "inspector"),
		override: cfg.Override,
	}
}

// Logs returns the session's log sink.
func (i *Inspector) Logs() *logsink.Sink { return i.cfg.Logs }

// Session returns the wallet session.
func (i *Inspector) Session() *wallet.Session { return i.cfg.Session }

// Endpoints lists the known RPC endpoints.
func (i *Inspector) Endpoints() []endpoints.Endpoint { return i.cfg.Registry.List() }

// Busy reports whether a submission is running.
func (i *Inspector) Busy() bool { return i.guard.Busy() }

// CurrentEndpoint returns the endpoint the next submission will use.
func (i *Inspector) CurrentEndpoint(ctx context.Context) (endpoints.Endpoint, error) {
	i.mu.Lock()
	override := i.override
	i.mu.Unlock()
	if override != "" {
		return i.cfg.Registry.Lookup(override), nil
	}
	return i.cfg.Registry.Current(ctx)
}

// SelectEndpoint persists url as the active endpoint. Unknown URLs must be
// https. It is refused with ErrBusy while a submission runs.
func (i *Inspector) SelectEndpoint(ctx context.Context, url string) (endpoints.Endpoint, error) {
	release, err := i.guard.TryAcquire()
	if err != nil {
		i.cfg.Metrics.RecordRejected("endpoint_change")
		return endpoints.Endpoint{}, err
	}
	defer release()

	e, err := i.cfg.Registry.Select(ctx, url)
	if err != nil {
		return endpoints.Endpoint{}, err
	}

	i.mu.Lock()
	i.override = ""
	i.mu.Unlock()

	i.cfg.Logs.Info("RPC endpoint changed", "endpoint", e.URL, "network", string(e.Network))
	return e, nil
}

// connection returns a connection for the current endpoint, dialing again
// when the endpoint changed since the last submission.
func (i *Inspector) connection(ctx context.Context) (submission.Connection, endpoints.Endpoint, error) {
	e, err := i.CurrentEndpoint(ctx)
	if err != nil {
		return nil, endpoints.Endpoint{}, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.conn == nil || i.connURL != e.URL {
		i.logger.Debug("dialing rpc endpoint", "endpoint", e.URL, "network", e.Network)
		i.conn = i.cfg.Dial(e)
		i.connURL = e.URL
	}
	return i.conn, e, nil
}

// Submit runs one submission. It returns ErrBusy when another submission is
// running; every other failure is described by the Result.
func (i *Inspector) Submit(ctx context.Context, input string) (*submission.Result, error) {
	release, err := i.guard.TryAcquire()
	if err != nil {
		i.cfg.Metrics.RecordRejected("busy")
		return nil, err
	}
	defer release()

	conn, e, err := i.connection(ctx)
	if err != nil {
		return nil, err
	}

	deps := submission.Deps{
		Conn:    conn,
		Wallet:  i.cfg.Session,
		Logs:    i.cfg.Logs,
		Metrics: i.cfg.Metrics,
	}
	if i.cfg.Recorder != nil {
		deps.History = i.cfg.Recorder
	}

	wf := submission.NewWorkflow(deps, submission.Config{
		MaxAttempts:   i.cfg.MaxAttempts,
		PollInterval:  i.cfg.PollInterval,
		Network:       e.Network,
		Sleep:         i.cfg.Sleep,
		OnStateChange: i.cfg.OnStateChange,
		OnPoll:        i.cfg.OnPoll,
	})

	res := wf.Run(ctx, input)
	i.afterRun(context.WithoutCancel(ctx), res)
	return res, nil
}

// afterRun records, publishes and, for timed out signatures, hands the
// signature to the durable watcher. Failures here never change the result.
func (i *Inspector) afterRun(ctx context.Context, res *submission.Result) {
	if i.cfg.Recorder != nil {
		if _, err := i.cfg.Recorder.CreateSubmission(ctx, RecordParams(res)); err != nil {
			i.logger.Error("failed to record submission", "state", res.State, "error", err)
		}
	}

	if i.cfg.Publisher != nil {
		if err := i.cfg.Publisher.PublishSubmission(ctx, natspkg.FromResult(res)); err != nil {
			i.logger.Error("failed to publish submission", "state", res.State, "error", err)
		}
	}

	if res.State == submission.StateTimedOut && res.Signature != "" && i.cfg.Watcher != nil {
		id, err := i.cfg.Watcher.StartWatch(ctx, temporal.WatchSignatureInput{
			Signature:     res.Signature,
			Endpoint:      res.Endpoint,
			Network:       string(res.Network),
			MaxAttempts:   i.cfg.WatchMaxAttempts,
			PollInterval:  i.cfg.PollInterval,
			PriorAttempts: res.Attempts,
		})
		if err != nil {
			i.logger.Error("failed to start signature watch", "signature", res.Signature, "error", err)
			return
		}
		i.cfg.Logs.Info("signature handed to background watcher", "signature", res.Signature, "workflow_id", id)
	}
}

// Decode parses a base64 transaction without submitting it.
func (i *Inspector) Decode(input string) (solana.Summary, error) {
	decoded, err := solana.NewDecoder(i.logger).DecodeBase64(input)
	if err != nil {
		return solana.Summary{}, err
	}
	return solana.Summarize(decoded), nil
}

// ConnectWallet selects (when name is non-empty) and connects a wallet adapter.
func (i *Inspector) ConnectWallet(ctx context.Context, name string) error {
	if name != "" {
		if err := i.cfg.Session.Select(ctx, name); err != nil {
			return err
		}
	}
	if err := i.cfg.Session.Connect(ctx); err != nil {
		return err
	}
	if key, ok := i.cfg.Session.PublicKey(); ok {
		i.cfg.Logs.Info("wallet connected", "wallet_address", key)
	}
	return nil
}

// DisconnectWallet disconnects the selected adapter.
func (i *Inspector) DisconnectWallet(ctx context.Context) error {
	if err := i.cfg.Session.Disconnect(ctx); err != nil {
		return err
	}
	i.cfg.Logs.Info("wallet disconnected")
	return nil
}

// RecordParams converts a result into the row stored for it.
func RecordParams(res *submission.Result) db.CreateSubmissionParams {
	params := db.CreateSubmissionParams{
		State:      string(res.State),
		Endpoint:   res.Endpoint,
		Network:    string(res.Network),
		Attempts:   res.Attempts,
		Duplicate:  res.Duplicate,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Signature != "" {
		params.Signature = &res.Signature
	}
	if res.Kind != "" {
		kind := string(res.Kind)
		params.Kind = &kind
	}
	if res.ErrorKind != "" {
		params.ErrorKind = &res.ErrorKind
	}
	if res.Message != "" {
		params.Message = &res.Message
	}
	if res.ExplorerURL != "" {
		params.ExplorerURL = &res.ExplorerURL
	}
	if res.Simulation != nil {
		units := int64(res.Simulation.UnitsConsumed)
		params.UnitsConsumed = &units
	}
	if res.Status != nil {
		slot := int64(res.Status.Slot)
		params.Slot = &slot
		params.ConfirmationStatus = &res.Status.ConfirmationStatus
	}
	return params
}

// IsBusy reports whether err is a refusal caused by a running submission.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
