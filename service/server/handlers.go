package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/txinspector/service/db"
	"github.com/brojonat/txinspector/service/endpoints"
	"github.com/brojonat/txinspector/service/inspector"
	"github.com/brojonat/txinspector/service/logsink"
	"github.com/brojonat/txinspector/service/submission"
	"github.com/brojonat/txinspector/service/wallet"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - a Solana transaction is at most 1232 bytes
	defaultListLimit   = 50
	maxListLimit       = 1000
)

// transactionRequest is the body of the submit and decode endpoints.
type transactionRequest struct {
	Transaction string `json:"transaction"`
}

// decodeBody decodes a JSON request body into dst, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger *slog.Logger) bool {
	// Limit request body size to prevent memory exhaustion
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.Debug("failed to decode request body", "path", r.URL.Path, "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// handleSubmit returns a handler that runs one submission.
// POST /api/v1/submissions
// Every workflow outcome, including failures, is a 200 carrying the result.
func handleSubmit(insp *inspector.Inspector, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transactionRequest
		if !decodeBody(w, r, &req, logger) {
			return
		}

		// Runs end only in a terminal state, never on client disconnect.
		res, err := insp.Submit(context.WithoutCancel(r.Context()), req.Transaction)
		if err != nil {
			if inspector.IsBusy(err) {
				writeError(w, err.Error(), http.StatusConflict)
				return
			}
			logger.Error("failed to run submission", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Info("submission finished",
			"state", res.State,
			"signature", res.Signature,
			"attempts", res.Attempts,
			"error_kind", res.ErrorKind,
		)
		writeJSON(w, res, http.StatusOK)
	})
}

// handleDecode returns a handler that summarizes a transaction without submitting it.
// POST /api/v1/decode
func handleDecode(insp *inspector.Inspector, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transactionRequest
		if !decodeBody(w, r, &req, logger) {
			return
		}
		if strings.TrimSpace(req.Transaction) == "" {
			writeError(w, "transaction is required", http.StatusBadRequest)
			return
		}

		summary, err := insp.Decode(req.Transaction)
		if err != nil {
			logger.Debug("failed to decode transaction", "error", err)
			writeError(w, fmt.Sprintf("invalid transaction: %v", err), http.StatusBadRequest)
			return
		}
		writeJSON(w, summary, http.StatusOK)
	})
}

// handleListSubmissions returns a handler that lists recorded submissions.
// GET /api/v1/submissions?state=STATE&limit=N&offset=N
func handleListSubmissions(store SubmissionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, "submission history is not configured", http.StatusServiceUnavailable)
			return
		}

		query := r.URL.Query()
		state := query.Get("state")
		if state != "" {
			if err := validateState(state); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		limit, err := parseQueryInt(query.Get("limit"), defaultListLimit)
		if err != nil || limit < 1 {
			writeError(w, "invalid limit parameter: must be a positive integer", http.StatusBadRequest)
			return
		}
		if limit > maxListLimit {
			writeError(w, fmt.Sprintf("limit cannot exceed %d", maxListLimit), http.StatusBadRequest)
			return
		}

		offset, err := parseQueryInt(query.Get("offset"), 0)
		if err != nil || offset < 0 {
			writeError(w, "invalid offset parameter: must be a non-negative integer", http.StatusBadRequest)
			return
		}

		subs, err := store.ListSubmissions(r.Context(), db.ListSubmissionsParams{
			State:  state,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			logger.Error("failed to list submissions", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("submissions listed", "state", state, "count", len(subs))

		writeJSON(w, map[string]interface{}{
			"submissions": subs,
			"count":       len(subs),
			"limit":       limit,
			"offset":      offset,
		}, http.StatusOK)
	})
}

// handleGetSubmission returns a handler that fetches one recorded submission.
// GET /api/v1/submissions/{signature}
func handleGetSubmission(store SubmissionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, "submission history is not configured", http.StatusServiceUnavailable)
			return
		}

		signature := r.PathValue("signature")
		if err := validateSignature(signature); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		sub, err := store.GetSubmissionBySignature(r.Context(), signature)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "submission not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get submission", "signature", signature, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, sub, http.StatusOK)
	})
}

// handleListLogs returns a handler that lists the session log.
// GET /api/v1/logs?level=LEVEL
func handleListLogs(logs *logsink.Sink, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var entries []logsink.Entry
		if levelStr := r.URL.Query().Get("level"); levelStr != "" {
			level, err := logsink.ParseLevel(levelStr)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			entries = logs.ByLevel(level)
		} else {
			entries = logs.Entries()
		}

		writeJSON(w, map[string]interface{}{
			"logs":  entries,
			"count": len(entries),
		}, http.StatusOK)
	})
}

// handleClearLogs returns a handler that drops the session log.
// DELETE /api/v1/logs
func handleClearLogs(logs *logsink.Sink, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logs.Clear()
		logger.Debug("session log cleared")
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleExportLogs returns a handler that downloads the session log as a JSON document.
// GET /api/v1/logs/export
func handleExportLogs(logs *logsink.Sink, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := logs.Export()
		if err != nil {
			logger.Error("failed to export logs", "error", err)
			writeError(w, "failed to export logs", http.StatusInternalServerError)
			return
		}

		filename := logsink.ExportFilename(time.Now())
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	})
}

// rpcResponse describes the endpoint selection.
type rpcResponse struct {
	Current   endpoints.Endpoint   `json:"current"`
	Endpoints []endpoints.Endpoint `json:"endpoints"`
	Busy      bool                 `json:"busy"`
}

// handleGetRPC returns a handler that describes the endpoint selection.
// GET /api/v1/rpc
func handleGetRPC(insp *inspector.Inspector, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current, err := insp.CurrentEndpoint(r.Context())
		if err != nil {
			logger.Error("failed to load current endpoint", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, rpcResponse{
			Current:   current,
			Endpoints: insp.Endpoints(),
			Busy:      insp.Busy(),
		}, http.StatusOK)
	})
}

// handleSelectRPC returns a handler that changes the active endpoint.
// PUT /api/v1/rpc
func handleSelectRPC(insp *inspector.Inspector, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Endpoint string `json:"endpoint"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		e, err := insp.SelectEndpoint(r.Context(), req.Endpoint)
		switch {
		case inspector.IsBusy(err):
			writeError(w, "cannot change RPC endpoint while a transaction is being processed", http.StatusConflict)
			return
		case errors.Is(err, endpoints.ErrInvalidCustomEndpoint):
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		case err != nil:
			logger.Error("failed to select endpoint", "endpoint", req.Endpoint, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Info("rpc endpoint selected", "endpoint", e.URL, "network", e.Network)
		writeJSON(w, e, http.StatusOK)
	})
}

// handleGetWallet returns a handler that lists the wallet adapters.
// GET /api/v1/wallet
func handleGetWallet(insp *inspector.Inspector, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeWallets(w, insp)
	})
}

type walletRequest struct {
	Name string `json:"name"`
}

// handleSelectWallet returns a handler that selects a wallet adapter.
// POST /api/v1/wallet/select
func handleSelectWallet(insp *inspector.Inspector, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req walletRequest
		if !decodeBody(w, r, &req, logger) {
			return
		}
		if req.Name == "" {
			writeError(w, "name is required", http.StatusBadRequest)
			return
		}
		if err := insp.Session().Select(r.Context(), req.Name); err != nil {
			writeWalletError(w, err, logger)
			return
		}
		writeWallets(w, insp)
	})
}

// handleConnectWallet returns a handler that connects the selected (or named) wallet adapter.
// POST /api/v1/wallet/connect
func handleConnectWallet(insp *inspector.Inspector, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req walletRequest
		if r.ContentLength != 0 {
			if !decodeBody(w, r, &req, logger) {
				return
			}
		}
		if err := insp.ConnectWallet(r.Context(), req.Name); err != nil {
			writeWalletError(w, err, logger)
			return
		}
		writeWallets(w, insp)
	})
}

// handleDisconnectWallet returns a handler that disconnects the selected wallet adapter.
// POST /api/v1/wallet/disconnect
func handleDisconnectWallet(insp *inspector.Inspector, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := insp.DisconnectWallet(r.Context()); err != nil {
			writeWalletError(w, err, logger)
			return
		}
		writeWallets(w, insp)
	})
}

func writeWallets(w http.ResponseWriter, insp *inspector.Inspector) {
	writeJSON(w, map[string]interface{}{
		"wallets": insp.Session().Adapters(),
	}, http.StatusOK)
}

func writeWalletError(w http.ResponseWriter, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, wallet.ErrUnknownWallet):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, wallet.ErrNoWalletSelected):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Error("wallet operation failed", "error", err)
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleHealth reports liveness and the build version.
func handleHealth(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{
			"status":  "ok",
			"version": version,
		}, http.StatusOK)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// parseQueryInt parses a pagination parameter. Values outside int32 are rejected.
func parseQueryInt(raw string, def int32) (int32, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}

// validateState validates a state filter.
func validateState(state string) error {
	switch submission.State(state) {
	case submission.StateConfirmed, submission.StateFailed, submission.StateTimedOut:
		return nil
	}
	return fmt.Errorf("invalid state: must be 'confirmed', 'failed' or 'timed_out'")
}

// validateSignature checks a base58 signature path parameter.
func validateSignature(signature string) error {
	if signature == "" {
		return errors.New("signature is required")
	}
	if len(signature) > 100 {
		return errors.New("signature too long: maximum length is 100 characters")
	}
	for _, r := range signature {
		if !strings.ContainsRune(base58Alphabet, r) {
			return errors.New("invalid signature format: must contain only valid base58 characters")
		}
	}
	return nil
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
