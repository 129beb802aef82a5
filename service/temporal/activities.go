package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/txinspector/service/db"
	"github.com/brojonat/txinspector/service/metrics"
	natspkg "github.com/brojonat/txinspector/service/nats"
	"github.com/brojonat/txinspector/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// WatchSignatureInput contains the input parameters for watching a signature.
type WatchSignatureInput struct {
	Signature    string        `json:"signature"`
	Endpoint     string        `json:"endpoint"` // RPC endpoint the transaction was broadcast through
	Network      string        `json:"network"`
	MaxAttempts  int           `json:"max_attempts"`
	PollInterval time.Duration `json:"poll_interval"`
	// PriorAttempts counts the polls the interactive workflow already spent.
	PriorAttempts int `json:"prior_attempts"`
}

// WatchSignatureResult contains the result of watching a signature.
type WatchSignatureResult struct {
	Signature          string  `json:"signature"`
	State              string  `json:"state"` // "confirmed", "failed" or "timed_out"
	ConfirmationStatus string  `json:"confirmation_status,omitempty"`
	Slot               uint64  `json:"slot,omitempty"`
	Attempts           int     `json:"attempts"`
	ErrorKind          string  `json:"error_kind,omitempty"`
	Error              *string `json:"error,omitempty"`
}

// GetSignatureStatusInput contains parameters for the GetSignatureStatus activity.
type GetSignatureStatusInput struct {
	Signature string `json:"signature"`
	Endpoint  string `json:"endpoint"`
}

// GetSignatureStatusResult contains the result of the GetSignatureStatus activity.
// Status is nil while the node has not seen the signature.
type GetSignatureStatusResult struct {
	Status *solana.SignatureStatus `json:"status,omitempty"`
}

// RecordOutcomeInput contains parameters for the RecordOutcome activity.
type RecordOutcomeInput struct {
	Signature          string `json:"signature"`
	State              string `json:"state"`
	ConfirmationStatus string `json:"confirmation_status,omitempty"`
	Slot               uint64 `json:"slot,omitempty"`
	ErrorKind          string `json:"error_kind,omitempty"`
	Message            string `json:"message,omitempty"`
	Endpoint           string `json:"endpoint"`
	Network            string `json:"network"`
	Attempts           int    `json:"attempts"`
}

// StatusChecker defines the Solana operations needed by activities.
// This allows for easy mocking in tests.
type StatusChecker interface {
	GetSignatureStatus(ctx context.Context, sig solanago.Signature) (*solana.SignatureStatus, error)
}

// ClientFactory returns a StatusChecker for an RPC endpoint.
type ClientFactory func(endpoint string) StatusChecker

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	UpdateOutcome(context.Context, db.UpdateOutcomeParams) error
	GetSubmissionBySignature(context.Context, string) (*db.Submission, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishSubmission(ctx context.Context, event *natspkg.SubmissionEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	store     StoreInterface
	dial      ClientFactory
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu      sync.Mutex
	clients map[string]StatusChecker
}

// NewActivities creates a new Activities instance with explicit dependencies.
// store and publisher may be nil; the outcome is then only logged.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	store StoreInterface,
	dial ClientFactory,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		dial:      dial,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		clients:   make(map[string]StatusChecker),
	}
}

func (a *Activities) client(endpoint string) StatusChecker {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.clients[endpoint]
	if !ok {
		c = a.dial(endpoint)
		a.clients[endpoint] = c
	}
	return c
}

// GetSignatureStatus performs a single status poll for a signature.
func (a *Activities) GetSignatureStatus(ctx context.Context, input GetSignatureStatusInput) (*GetSignatureStatusResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("GetSignatureStatus", time.Since(start).Seconds())
	}()

	sig, err := solanago.SignatureFromBase58(input.Signature)
	if err != nil {
		a.logger.ErrorContext(ctx, "invalid signature",
			"signature", input.Signature,
			"error", err,
		)
		return nil, fmt.Errorf("invalid signature: %w", err)
	}

	status, err := a.client(input.Endpoint).GetSignatureStatus(ctx, sig)
	if err != nil {
		a.metrics.RecordPollError(input.Endpoint)
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}

	a.logger.DebugContext(ctx, "polled signature status",
		"signature", input.Signature,
		"found", status != nil,
	)

	return &GetSignatureStatusResult{Status: status}, nil
}

// RecordOutcome writes the watcher's final verdict to the submission history
// and publishes it to NATS for real-time subscribers.
func (a *Activities) RecordOutcome(ctx context.Context, input RecordOutcomeInput) error {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("RecordOutcome", time.Since(start).Seconds())
	}()

	a.logger.InfoContext(ctx, "recording watched signature outcome",
		"signature", input.Signature,
		"state", input.State,
		"attempts", input.Attempts,
	)
	a.metrics.RecordWatchWorkflow(input.State)

	event := &natspkg.SubmissionEvent{
		Signature:          input.Signature,
		State:              input.State,
		ErrorKind:          input.ErrorKind,
		Message:            input.Message,
		Endpoint:           input.Endpoint,
		Network:            input.Network,
		Attempts:           input.Attempts,
		Slot:               input.Slot,
		ConfirmationStatus: input.ConfirmationStatus,
		Source:             natspkg.SourceWatcher,
		FinishedAt:         time.Now().UTC(),
		PublishedAt:        time.Now().UTC(),
	}

	if a.store != nil {
		params := db.UpdateOutcomeParams{
			Signature: input.Signature,
			State:     input.State,
		}
		if input.ConfirmationStatus != "" {
			params.ConfirmationStatus = &input.ConfirmationStatus
		}
		if input.Slot > 0 {
			slot := int64(input.Slot)
			params.Slot = &slot
		}
		if input.ErrorKind != "" {
			params.ErrorKind = &input.ErrorKind
		}
		if input.Message != "" {
			params.Message = &input.Message
		}

		err := a.store.UpdateOutcome(ctx, params)
		switch {
		case errors.Is(err, db.ErrNotFound):
			// the server may have run without a database when it started the watch
			a.logger.WarnContext(ctx, "watched signature has no stored submission",
				"signature", input.Signature,
			)
		case err != nil:
			return fmt.Errorf("failed to update submission outcome: %w", err)
		default:
			sub, err := a.store.GetSubmissionBySignature(ctx, input.Signature)
			if err != nil {
				return fmt.Errorf("failed to reload submission: %w", err)
			}
			event = natspkg.FromDBSubmission(sub)
		}
	}

	if a.publisher != nil {
		if err := a.publisher.PublishSubmission(ctx, event); err != nil {
			// publishing is best effort; the database row is the record
			a.logger.ErrorContext(ctx, "failed to publish submission outcome",
				"signature", input.Signature,
				"error", err,
			)
		}
	}

	return nil
}
