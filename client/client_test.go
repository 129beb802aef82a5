package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brojonat/txinspector/service/db"
	"github.com/brojonat/txinspector/service/endpoints"
	"github.com/brojonat/txinspector/service/logsink"
	natspkg "github.com/brojonat/txinspector/service/nats"
	"github.com/brojonat/txinspector/service/submission"
	"github.com/brojonat/txinspector/service/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/submissions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "AQID", body["transaction"])

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(submission.Result{
			State:     submission.StateConfirmed,
			Signature: "5sig",
			Attempts:  2,
			Endpoint:  "https://api.mainnet-beta.solana.com",
			Network:   endpoints.NetworkMainnet,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	res, err := client.Submit(context.Background(), "AQID")
	require.NoError(t, err)
	assert.Equal(t, submission.StateConfirmed, res.State)
	assert.Equal(t, "5sig", res.Signature)
	assert.Equal(t, 2, res.Attempts)
}

func TestSubmit_Conflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "a submission is already in progress"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Submit(context.Background(), "AQID")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "already in progress")
}

func TestDecode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/decode", r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid transaction: bad base64"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Decode(context.Background(), "!!")
	require.Error(t, err)
	assert.Equal(t, "request failed: invalid transaction: bad base64", err.Error())
}

func TestListSubmissions(t *testing.T) {
	sig := "a"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/submissions", r.URL.Path)
		assert.Equal(t, "failed", r.URL.Query().Get("state"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Empty(t, r.URL.Query().Get("offset"))

		json.NewEncoder(w).Encode(SubmissionList{
			Submissions: []*db.Submission{{Signature: &sig, State: "failed"}},
			Count:       1,
			Limit:       10,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	list, err := client.ListSubmissions(context.Background(), "failed", 10, 0)
	require.NoError(t, err)
	require.Len(t, list.Submissions, 1)
	assert.Equal(t, "a", *list.Submissions[0].Signature)
	assert.Equal(t, 10, list.Limit)
}

func TestGetSubmission_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/submissions/missing", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "submission not found"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.GetSubmission(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLogs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "warn", r.URL.Query().Get("level"))
			json.NewEncoder(w).Encode(map[string]any{
				"logs":  []logsink.Entry{{Level: logsink.LevelWarn, Message: "legacy transaction parsing failed"}},
				"count": 1,
			})
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx := context.Background()

	entries, err := client.Logs(ctx, "warn")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, logsink.LevelWarn, entries[0].Level)

	require.NoError(t, client.ClearLogs(ctx))
}

func TestExportLogs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/logs/export", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "solana-transaction-logs-2025-01-02.json"))
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	data, filename, err := client.ExportLogs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
	assert.Equal(t, "solana-transaction-logs-2025-01-02.json", filename)
}

func TestRPC(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/rpc", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(RPCState{
				Current:   endpoints.Defaults[0],
				Endpoints: endpoints.Defaults,
			})
		case http.MethodPut:
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body["endpoint"] == "http://insecure.example" {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid custom endpoint"})
				return
			}
			json.NewEncoder(w).Encode(endpoints.Endpoint{URL: body["endpoint"], Network: endpoints.NetworkCustom})
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx := context.Background()

	state, err := client.RPC(ctx)
	require.NoError(t, err)
	assert.Equal(t, endpoints.Defaults[0].URL, state.Current.URL)
	assert.Len(t, state.Endpoints, len(endpoints.Defaults))

	e, err := client.SelectRPC(ctx, "https://rpc.example")
	require.NoError(t, err)
	assert.Equal(t, endpoints.NetworkCustom, e.Network)

	_, err = client.SelectRPC(ctx, "http://insecure.example")
	assert.Error(t, err)
}

func TestWallets(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"wallets": []wallet.Info{{Name: "keypair", Selected: true}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx := context.Background()

	_, err := client.Wallets(ctx)
	require.NoError(t, err)
	_, err = client.SelectWallet(ctx, "keypair")
	require.NoError(t, err)
	_, err = client.ConnectWallet(ctx, "")
	require.NoError(t, err)
	infos, err := client.DisconnectWallet(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "keypair", infos[0].Name)

	assert.Equal(t, []string{
		"GET /api/v1/wallet",
		"POST /api/v1/wallet/select",
		"POST /api/v1/wallet/connect",
		"POST /api/v1/wallet/disconnect",
	}, paths)
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		json.NewEncoder(w).Encode(Health{Status: "ok", Version: "v1.2.3"})
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", nil, nil)
	h, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", h.Version)
}

func TestStreamSubmissions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "timed_out", r.URL.Query().Get("state"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: connected\ndata: {\"state\":\"timed_out\"}\n\n")
		fmt.Fprint(w, "event: submission\ndata: {\"signature\":\"one\",\"state\":\"timed_out\"}\n\n")
		fmt.Fprint(w, "event: submission\ndata: not-json\n\n")
		fmt.Fprint(w, "event: submission\ndata: {\"signature\":\"two\",\"state\":\"timed_out\"}\n\n")
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	var got []string
	err := client.StreamSubmissions(context.Background(), "timed_out", func(e *natspkg.SubmissionEvent) error {
		got = append(got, e.Signature)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestParseErrorResponse_NonJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Health(context.Background())
	require.Error(t, err)
	assert.Equal(t, "request failed with status 502: upstream down", err.Error())
}
