package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/txinspector/service/db"
	"github.com/brojonat/txinspector/service/endpoints"
	"github.com/brojonat/txinspector/service/solana"
	"github.com/brojonat/txinspector/service/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromResult(t *testing.T) {
	finished := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	res := &submission.Result{
		State:       submission.StateConfirmed,
		Kind:        solana.KindLegacy,
		Signature:   "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW",
		ExplorerURL: "https://solscan.io/tx/5VERv8",
		Attempts:    4,
		Status:      &solana.SignatureStatus{Slot: 42, ConfirmationStatus: "confirmed"},
		Endpoint:    "https://api.mainnet-beta.solana.com",
		Network:     endpoints.NetworkMainnet,
		FinishedAt:  finished,
	}

	event := FromResult(res)
	assert.Equal(t, "confirmed", event.State)
	assert.Equal(t, "legacy", event.Kind)
	assert.Equal(t, uint64(42), event.Slot)
	assert.Equal(t, "confirmed", event.ConfirmationStatus)
	assert.Equal(t, SourceWorkflow, event.Source)
	assert.Equal(t, finished, event.FinishedAt)
	assert.Equal(t, "submissions.confirmed", event.Subject())
}

func TestFromDBSubmission(t *testing.T) {
	sig := "abc"
	status := "finalized"
	slot := int64(77)
	sub := &db.Submission{
		Signature:          &sig,
		State:              "confirmed",
		Endpoint:           "https://api.devnet.solana.com",
		Network:            "devnet",
		Attempts:           12,
		Slot:               &slot,
		ConfirmationStatus: &status,
	}

	event := FromDBSubmission(sub)
	assert.Equal(t, "abc", event.Signature)
	assert.Equal(t, uint64(77), event.Slot)
	assert.Equal(t, "finalized", event.ConfirmationStatus)
	assert.Equal(t, SourceWatcher, event.Source)
	assert.Empty(t, event.ErrorKind)
}

func TestMockPublisher(t *testing.T) {
	ctx := context.Background()
	pub := NewMockPublisher()

	require.NoError(t, pub.PublishSubmission(ctx, &SubmissionEvent{Signature: "a", State: "confirmed"}))
	require.NoError(t, pub.PublishSubmission(ctx, &SubmissionEvent{Signature: "b", State: "failed"}))
	assert.Equal(t, 2, pub.GetPublishedEventCount())
	assert.Len(t, pub.GetPublishedEventsForSignature("a"), 1)

	pub.SetPublishError(errors.New("nats down"))
	assert.Error(t, pub.PublishSubmission(ctx, &SubmissionEvent{Signature: "c"}))
	assert.Equal(t, 2, pub.GetPublishedEventCount())

	require.NoError(t, pub.Close())
	assert.True(t, pub.IsClosed())

	pub.Reset()
	assert.Zero(t, pub.GetPublishedEventCount())
	assert.False(t, pub.IsClosed())
}
