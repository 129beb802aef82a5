package temporal

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/brojonat/txinspector/service/db"
	natspkg "github.com/brojonat/txinspector/service/nats"
	"github.com/brojonat/txinspector/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock status checker
type MockStatusChecker struct {
	mock.Mock
}

func (m *MockStatusChecker) GetSignatureStatus(ctx context.Context, sig solanago.Signature) (*solana.SignatureStatus, error) {
	args := m.Called(ctx, sig)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*solana.SignatureStatus), args.Error(1)
}

// Mock Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) UpdateOutcome(ctx context.Context, params db.UpdateOutcomeParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func (m *MockStore) GetSubmissionBySignature(ctx context.Context, signature string) (*db.Submission, error) {
	args := m.Called(ctx, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Submission), args.Error(1)
}

func TestGetSignatureStatus(t *testing.T) {
	ctx := context.Background()
	sig, err := solanago.SignatureFromBase58(testSignature)
	require.NoError(t, err)

	t.Run("found", func(t *testing.T) {
		checker := &MockStatusChecker{}
		checker.On("GetSignatureStatus", mock.Anything, sig).
			Return(&solana.SignatureStatus{Slot: 5, ConfirmationStatus: "confirmed"}, nil)

		dialed := []string{}
		acts := NewActivities(nil, func(endpoint string) StatusChecker {
			dialed = append(dialed, endpoint)
			return checker
		}, nil, nil, slog.Default())

		for i := 0; i < 2; i++ {
			res, err := acts.GetSignatureStatus(ctx, GetSignatureStatusInput{Signature: testSignature, Endpoint: "https://rpc.example"})
			require.NoError(t, err)
			require.NotNil(t, res.Status)
			assert.Equal(t, uint64(5), res.Status.Slot)
		}
		assert.Equal(t, []string{"https://rpc.example"}, dialed, "clients are cached per endpoint")
		checker.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		checker := &MockStatusChecker{}
		checker.On("GetSignatureStatus", mock.Anything, sig).Return(nil, nil)
		acts := NewActivities(nil, func(string) StatusChecker { return checker }, nil, nil, nil)

		res, err := acts.GetSignatureStatus(ctx, GetSignatureStatusInput{Signature: testSignature})
		require.NoError(t, err)
		assert.Nil(t, res.Status)
	})

	t.Run("rpc error", func(t *testing.T) {
		checker := &MockStatusChecker{}
		checker.On("GetSignatureStatus", mock.Anything, sig).Return(nil, errors.New("timeout"))
		acts := NewActivities(nil, func(string) StatusChecker { return checker }, nil, nil, nil)

		_, err := acts.GetSignatureStatus(ctx, GetSignatureStatusInput{Signature: testSignature})
		assert.ErrorContains(t, err, "timeout")
	})

	t.Run("invalid signature", func(t *testing.T) {
		acts := NewActivities(nil, func(string) StatusChecker { return &MockStatusChecker{} }, nil, nil, nil)
		_, err := acts.GetSignatureStatus(ctx, GetSignatureStatusInput{Signature: "not-a-signature"})
		assert.ErrorContains(t, err, "invalid signature")
	})
}

func TestRecordOutcome(t *testing.T) {
	ctx := context.Background()

	t.Run("updates store and publishes stored row", func(t *testing.T) {
		store := &MockStore{}
		pub := natspkg.NewMockPublisher()

		sig := testSignature
		slot := int64(99)
		status := "finalized"
		store.On("UpdateOutcome", mock.Anything, mock.MatchedBy(func(p db.UpdateOutcomeParams) bool {
			return p.Signature == testSignature && p.State == "confirmed" &&
				p.Slot != nil && *p.Slot == 99 && p.ErrorKind == nil
		})).Return(nil)
		store.On("GetSubmissionBySignature", mock.Anything, testSignature).Return(&db.Submission{
			Signature:          &sig,
			State:              "confirmed",
			Network:            "mainnet",
			Attempts:           34,
			Slot:               &slot,
			ConfirmationStatus: &status,
		}, nil)

		acts := NewActivities(store, nil, pub, nil, nil)
		err := acts.RecordOutcome(ctx, RecordOutcomeInput{
			Signature:          testSignature,
			State:              "confirmed",
			ConfirmationStatus: "finalized",
			Slot:               99,
			Attempts:           34,
			Network:            "mainnet",
		})
		require.NoError(t, err)
		store.AssertExpectations(t)

		events := pub.GetPublishedEventsForSignature(testSignature)
		require.Len(t, events, 1)
		assert.Equal(t, "confirmed", events[0].State)
		assert.Equal(t, natspkg.SourceWatcher, events[0].Source)
		assert.Equal(t, uint64(99), events[0].Slot)
	})

	t.Run("missing row still publishes", func(t *testing.T) {
		store := &MockStore{}
		store.On("UpdateOutcome", mock.Anything, mock.Anything).Return(db.ErrNotFound)
		pub := natspkg.NewMockPublisher()

		acts := NewActivities(store, nil, pub, nil, nil)
		err := acts.RecordOutcome(ctx, RecordOutcomeInput{
			Signature: testSignature,
			State:     "timed_out",
			ErrorKind: "ConfirmationTimeout",
			Message:   watchTimeoutMessage,
		})
		require.NoError(t, err)

		events := pub.GetPublishedEvents()
		require.Len(t, events, 1)
		assert.Equal(t, "ConfirmationTimeout", events[0].ErrorKind)
		assert.Equal(t, "submissions.timed_out", events[0].Subject())
	})

	t.Run("store failure is returned", func(t *testing.T) {
		store := &MockStore{}
		store.On("UpdateOutcome", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

		acts := NewActivities(store, nil, nil, nil, nil)
		err := acts.RecordOutcome(ctx, RecordOutcomeInput{Signature: testSignature, State: "failed"})
		assert.ErrorContains(t, err, "connection refused")
	})

	t.Run("publish failure is not fatal", func(t *testing.T) {
		pub := natspkg.NewMockPublisher()
		pub.SetPublishError(errors.New("nats down"))

		acts := NewActivities(nil, nil, pub, nil, nil)
		err := acts.RecordOutcome(ctx, RecordOutcomeInput{Signature: testSignature, State: "confirmed"})
		assert.NoError(t, err)
	})
}

func TestMockWatcher(t *testing.T) {
	w := NewMockWatcher()
	id, err := w.StartWatch(context.Background(), WatchSignatureInput{Signature: "abc", MaxAttempts: 5})
	require.NoError(t, err)
	assert.Equal(t, "watch-signature-abc", id)

	input, ok := w.Watch("abc")
	require.True(t, ok)
	assert.Equal(t, 5, input.MaxAttempts)

	w.SetStartError(errors.New("temporal down"))
	_, err = w.StartWatch(context.Background(), WatchSignatureInput{Signature: "def"})
	assert.Error(t, err)
	assert.Equal(t, 1, w.WatchCount())
}
