package temporal

import (
	"fmt"
	"time"

	"github.com/brojonat/txinspector/service/submission"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// Watch defaults used when the input leaves them unset.
const (
	DefaultWatchAttempts     = 150
	DefaultWatchPollInterval = 2 * time.Second
)

const watchTimeoutMessage = "Transaction was not confirmed within the watch budget."

// WatchSignatureWorkflow keeps polling a broadcast signature after the
// interactive submission gave up on it. It applies the same status
// classification as the submission workflow and records the final outcome.
//
// Individual poll failures are logged and count as an attempt; they never
// fail the workflow.
func WatchSignatureWorkflow(ctx workflow.Context, input WatchSignatureInput) (*WatchSignatureResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("WatchSignatureWorkflow started", "signature", input.Signature, "endpoint", input.Endpoint)

	maxAttempts := input.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultWatchAttempts
	}
	interval := input.PollInterval
	if interval <= 0 {
		interval = DefaultWatchPollInterval
	}

	result := &WatchSignatureResult{
		Signature: input.Signature,
		State:     string(submission.StateTimedOut),
	}

	pollCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			// the loop itself is the retry
			MaximumAttempts: 1,
		},
	})

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		var polled *GetSignatureStatusResult
		err := workflow.ExecuteActivity(pollCtx, a.GetSignatureStatus, GetSignatureStatusInput{
			Signature: input.Signature,
			Endpoint:  input.Endpoint,
		}).Get(ctx, &polled)

		if err != nil {
			logger.Warn("error checking transaction status", "attempt", attempt, "error", err)
		} else if polled != nil {
			status := polled.Status
			verdict := submission.ClassifyStatus(status)
			logger.Debug("polled signature", "attempt", attempt, "verdict", verdict.String())

			if status != nil {
				result.Slot = status.Slot
				result.ConfirmationStatus = status.ConfirmationStatus
			}

			if verdict == submission.VerdictConfirmed {
				result.State = string(submission.StateConfirmed)
				break
			}
			if verdict == submission.VerdictFailed {
				msg := fmt.Sprintf("Transaction failed: %v", status.Err)
				result.State = string(submission.StateFailed)
				result.ErrorKind = submission.KindName(submission.ErrOnChain)
				result.Error = &msg
				break
			}
		}

		if attempt < maxAttempts {
			if err := workflow.Sleep(ctx, interval); err != nil {
				return result, fmt.Errorf("watch interrupted: %w", err)
			}
		}
	}

	if result.State == string(submission.StateTimedOut) {
		msg := watchTimeoutMessage
		result.ErrorKind = submission.KindName(submission.ErrConfirmationTimeout)
		result.Error = &msg
	}

	logger.Info("watch finished", "signature", input.Signature, "state", result.State, "attempts", result.Attempts)

	recordCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	})

	record := RecordOutcomeInput{
		Signature:          input.Signature,
		State:              result.State,
		ConfirmationStatus: result.ConfirmationStatus,
		Slot:               result.Slot,
		ErrorKind:          result.ErrorKind,
		Endpoint:           input.Endpoint,
		Network:            input.Network,
		Attempts:           input.PriorAttempts + result.Attempts,
	}
	if result.Error != nil {
		record.Message = *result.Error
	}

	if err := workflow.ExecuteActivity(recordCtx, a.RecordOutcome, record).Get(ctx, nil); err != nil {
		errMsg := fmt.Sprintf("failed to record outcome: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to record outcome: %w", err)
	}

	return result, nil
}
