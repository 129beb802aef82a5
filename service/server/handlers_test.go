package server

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/txinspector/service/db"
	"github.com/brojonat/txinspector/service/endpoints"
	"github.com/brojonat/txinspector/service/inspector"
	"github.com/brojonat/txinspector/service/logsink"
	"github.com/brojonat/txinspector/service/settings"
	"github.com/brojonat/txinspector/service/solana"
	"github.com/brojonat/txinspector/service/submission"
	"github.com/brojonat/txinspector/service/wallet"
	sol "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubConn struct {
	endpoint string
	block    chan struct{}

	mu     sync.Mutex
	status *solana.SignatureStatus // nil reports confirmed
	onPoll func(n int)
	polls  int
}

func (c *stubConn) Endpoint() string { return c.endpoint }

func (c *stubConn) SimulateTransaction(ctx context.Context, tx *sol.Transaction) (*solana.SimulationResult, error) {
	if c.block != nil {
		<-c.block
	}
	return &solana.SimulationResult{UnitsConsumed: 300}, nil
}

func (c *stubConn) SendTransaction(ctx context.Context, tx *sol.Transaction) (sol.Signature, error) {
	return sol.Signature{9, 9}, nil
}

func (c *stubConn) GetSignatureStatus(ctx context.Context, sig sol.Signature) (*solana.SignatureStatus, error) {
	c.mu.Lock()
	c.polls++
	n, onPoll, status := c.polls, c.onPoll, c.status
	c.mu.Unlock()

	if onPoll != nil {
		onPoll(n)
	}
	if status != nil {
		return status, nil
	}
	return &solana.SignatureStatus{Slot: 12, ConfirmationStatus: solana.TierConfirmed}, nil
}

type stubStore struct {
	subs []*db.Submission
	last db.ListSubmissionsParams
}

func (s *stubStore) ListSubmissions(ctx context.Context, params db.ListSubmissionsParams) ([]*db.Submission, error) {
	s.last = params
	return s.subs, nil
}

func (s *stubStore) GetSubmissionBySignature(ctx context.Context, signature string) (*db.Submission, error) {
	for _, sub := range s.subs {
		if sub.Signature != nil && *sub.Signature == signature {
			return sub, nil
		}
	}
	return nil, db.ErrNotFound
}

type testServer struct {
	handler http.Handler
	insp    *inspector.Inspector
	conn    *stubConn
	key     sol.PrivateKey
	logs    *logsink.Sink
}

func newTestServer(t *testing.T, store SubmissionStore) *testServer {
	t.Helper()

	key := sol.NewWallet().PrivateKey
	session := wallet.NewSession(nil)
	session.Register(wallet.NewKeypairAdapter("keypair", key))
	require.NoError(t, session.Connect(context.Background()))

	ts := &testServer{
		conn: &stubConn{},
		key:  key,
		logs: logsink.New(logsink.DefaultCapacity, nil),
	}
	ts.insp = inspector.New(inspector.Config{
		Registry: endpoints.NewRegistry(settings.NewMemoryStore(), nil, nil),
		Session:  session,
		Logs:     ts.logs,
		Dial: func(e endpoints.Endpoint) submission.Connection {
			ts.conn.endpoint = e.URL
			return ts.conn
		},
		MaxAttempts:  3,
		PollInterval: time.Millisecond,
		Logger:       discardLogger,
		Sleep:        func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	})
	srv := New(":0", ts.insp, store, nil, nil, discardLogger).WithVersion("v-test")
	ts.handler = srv.Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func encodeTransfer(t *testing.T, payer sol.PublicKey) string {
	t.Helper()

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], solana.SystemProgramTransferInstruction)
	binary.LittleEndian.PutUint64(data[4:12], 1_000)

	inst := sol.NewInstruction(
		solana.SystemProgramID,
		sol.AccountMetaSlice{
			sol.Meta(payer).WRITE().SIGNER(),
			sol.Meta(sol.NewWallet().PublicKey()).WRITE(),
		},
		data,
	)
	tx, err := sol.NewTransaction([]sol.Instruction{inst}, sol.Hash{5}, sol.TransactionPayer(payer))
	require.NoError(t, err)
	tx.Signatures = make([]sol.Signature, tx.Message.Header.NumRequiredSignatures)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func txBody(t *testing.T, tx string) string {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"transaction": tx})
	require.NoError(t, err)
	return string(raw)
}

func TestHandleSubmit(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/submissions", txBody(t, encodeTransfer(t, ts.key.PublicKey())))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res submission.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, submission.StateConfirmed, res.State)
	assert.Equal(t, sol.Signature{9, 9}.String(), res.Signature)
	assert.Equal(t, endpoints.NetworkMainnet, res.Network)
}

func TestHandleSubmit_ClientDisconnectDoesNotCutPolling(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.conn.status = &solana.SignatureStatus{Slot: 12, ConfirmationStatus: solana.TierProcessed}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts.conn.onPoll = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions",
		strings.NewReader(txBody(t, encodeTransfer(t, ts.key.PublicKey())))).WithContext(ctx)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res submission.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, submission.StateTimedOut, res.State)
	assert.Equal(t, 3, res.Attempts, "every poll attempt should run after the client goes away")
	assert.Equal(t, 3, ts.conn.polls)
	assert.Equal(t, "ConfirmationTimeout", res.ErrorKind)
}

func TestHandleSubmit_CancelledRequestStillSubmits(t *testing.T) {
	ts := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions",
		strings.NewReader(txBody(t, encodeTransfer(t, ts.key.PublicKey())))).WithContext(ctx)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var res submission.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, submission.StateConfirmed, res.State)
	assert.Empty(t, res.ErrorKind)
}

func TestHandleSubmit_FailureIsAResult(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/submissions", txBody(t, "%%%"))
	require.Equal(t, http.StatusOK, w.Code)

	var res submission.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, submission.StateFailed, res.State)
	assert.NotEmpty(t, res.ErrorKind)
}

func TestHandleSubmit_BusyReturnsConflict(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.conn.block = make(chan struct{})
	body := txBody(t, encodeTransfer(t, ts.key.PublicKey()))

	done := make(chan int)
	go func() {
		done <- ts.do(t, http.MethodPost, "/api/v1/submissions", body).Code
	}()
	require.Eventually(t, ts.insp.Busy, time.Second, time.Millisecond)

	w := ts.do(t, http.MethodPost, "/api/v1/submissions", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPut, "/api/v1/rpc", `{"endpoint":"https://api.devnet.solana.com"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "cannot change RPC endpoint")

	w = ts.do(t, http.MethodGet, "/api/v1/rpc", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rpc rpcResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rpc))
	assert.True(t, rpc.Busy)

	close(ts.conn.block)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestRequestBodyValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		expectedStatus int
		contains       string
	}{
		{
			name:           "extremely large request body",
			method:         http.MethodPost,
			path:           "/api/v1/submissions",
			body:           `{"transaction":"` + strings.Repeat("A", 2*1024*1024) + `"}`,
			expectedStatus: http.StatusBadRequest,
			contains:       "request body too large",
		},
		{
			name:           "malformed JSON",
			method:         http.MethodPost,
			path:           "/api/v1/submissions",
			body:           `{"transaction":`,
			expectedStatus: http.StatusBadRequest,
			contains:       "invalid request body",
		},
		{
			name:           "decode without transaction",
			method:         http.MethodPost,
			path:           "/api/v1/decode",
			body:           `{}`,
			expectedStatus: http.StatusBadRequest,
			contains:       "transaction is required",
		},
		{
			name:           "decode garbage",
			method:         http.MethodPost,
			path:           "/api/v1/decode",
			body:           `{"transaction":"not base64"}`,
			expectedStatus: http.StatusBadRequest,
			contains:       "invalid transaction",
		},
		{
			name:           "insecure custom endpoint",
			method:         http.MethodPut,
			path:           "/api/v1/rpc",
			body:           `{"endpoint":"http://rpc.example"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown log level",
			method:         http.MethodGet,
			path:           "/api/v1/logs?level=trace",
			expectedStatus: http.StatusBadRequest,
			contains:       "invalid log level",
		},
		{
			name:           "select wallet without name",
			method:         http.MethodPost,
			path:           "/api/v1/wallet/select",
			body:           `{}`,
			expectedStatus: http.StatusBadRequest,
			contains:       "name is required",
		},
		{
			name:           "select unknown wallet",
			method:         http.MethodPost,
			path:           "/api/v1/wallet/select",
			body:           `{"name":"phantom"}`,
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.contains != "" {
				assert.Contains(t, w.Body.String(), tt.contains)
			}
		})
	}
}

func TestHandleDecode(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/decode", txBody(t, encodeTransfer(t, ts.key.PublicKey())))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var summary solana.Summary
	require.NoError(t, json.NewDecoder(w.Body).Decode(&summary))
	assert.Equal(t, solana.KindLegacy, summary.Kind)
	require.Len(t, summary.Instructions, 1)
}

func TestLogRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.logs.Info("starting")
	ts.logs.Warn("legacy transaction parsing failed")
	ts.logs.Warn("retrying")

	w := ts.do(t, http.MethodGet, "/api/v1/logs?level=warn", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Logs  []logsink.Entry `json:"logs"`
		Count int             `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)

	w = ts.do(t, http.MethodGet, "/api/v1/logs/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "solana-transaction-logs-")
	entries, err := logsink.ParseExport(w.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	w = ts.do(t, http.MethodDelete, "/api/v1/logs", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, ts.logs.Len())
}

func TestRPCRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/api/v1/rpc", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rpc rpcResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rpc))
	assert.Equal(t, endpoints.Defaults[0].URL, rpc.Current.URL)
	assert.False(t, rpc.Busy)

	w = ts.do(t, http.MethodPut, "/api/v1/rpc", `{"endpoint":"https://rpc.example"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var e endpoints.Endpoint
	require.NoError(t, json.NewDecoder(w.Body).Decode(&e))
	assert.Equal(t, endpoints.NetworkCustom, e.Network)

	w = ts.do(t, http.MethodGet, "/api/v1/rpc", "")
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rpc))
	assert.Equal(t, "https://rpc.example", rpc.Current.URL)
}

func TestWalletRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	decode := func(w *httptest.ResponseRecorder) []wallet.Info {
		t.Helper()
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp struct {
			Wallets []wallet.Info `json:"wallets"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		return resp.Wallets
	}

	infos := decode(ts.do(t, http.MethodGet, "/api/v1/wallet", ""))
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Connected)

	infos = decode(ts.do(t, http.MethodPost, "/api/v1/wallet/disconnect", ""))
	assert.False(t, infos[0].Connected)

	infos = decode(ts.do(t, http.MethodPost, "/api/v1/wallet/connect", ""))
	assert.True(t, infos[0].Connected)
	assert.Equal(t, ts.key.PublicKey().String(), infos[0].PublicKey)
}

func TestHistoryRoutes(t *testing.T) {
	sig := sol.Signature{1, 2, 3}.String()
	store := &stubStore{subs: []*db.Submission{{ID: 1, Signature: &sig, State: "confirmed"}}}
	ts := newTestServer(t, store)

	w := ts.do(t, http.MethodGet, "/api/v1/submissions?state=confirmed&limit=5&offset=2", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, db.ListSubmissionsParams{State: "confirmed", Limit: 5, Offset: 2}, store.last)

	w = ts.do(t, http.MethodGet, "/api/v1/submissions/"+sig, "")
	require.Equal(t, http.StatusOK, w.Code)

	tests := []struct {
		name           string
		path           string
		expectedStatus int
	}{
		{"unknown state", "/api/v1/submissions?state=pending", http.StatusBadRequest},
		{"zero limit", "/api/v1/submissions?limit=0", http.StatusBadRequest},
		{"limit too large", "/api/v1/submissions?limit=5000", http.StatusBadRequest},
		{"negative offset", "/api/v1/submissions?offset=-1", http.StatusBadRequest},
		{"offset past int32", "/api/v1/submissions?offset=4294967296", http.StatusBadRequest},
		{"limit past int32", "/api/v1/submissions?limit=2147483648", http.StatusBadRequest},
		{"signature not base58", "/api/v1/submissions/0OIl", http.StatusBadRequest},
		{"missing signature", "/api/v1/submissions/" + sol.Signature{4}.String(), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
		})
	}
}

func TestParseQueryInt(t *testing.T) {
	got, err := parseQueryInt("", 50)
	require.NoError(t, err)
	assert.Equal(t, int32(50), got)

	got, err = parseQueryInt("2147483647", 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2147483647), got)

	_, err = parseQueryInt("2147483648", 0)
	assert.Error(t, err)
	_, err = parseQueryInt("ten", 0)
	assert.Error(t, err)
}

func TestHistoryRoutes_NotConfigured(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/api/v1/submissions", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthAndCORS(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "v-test", health["version"])
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = ts.do(t, http.MethodOptions, "/api/v1/rpc", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestInspectorPage(t *testing.T) {
	ts := newTestServer(t, nil)
	srv := New(":0", ts.insp, nil, nil, nil, discardLogger)
	require.NoError(t, srv.WithTemplates())

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), endpoints.Defaults[0].URL)
	assert.Contains(t, w.Body.String(), "keypair")
}
