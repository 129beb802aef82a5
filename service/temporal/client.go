package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Watcher that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartWatch starts a WatchSignatureWorkflow for the signature. While a watch
// for the same signature is running the SDK hands back the existing run.
func (c *Client) StartWatch(ctx context.Context, input WatchSignatureInput) (string, error) {
	id := watchWorkflowID(input.Signature)

	c.logger.Debug("starting signature watch",
		"signature", input.Signature,
		"endpoint", input.Endpoint,
		"workflow_id", id,
		"max_attempts", input.MaxAttempts,
	)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
		Memo: map[string]interface{}{
			"signature":  input.Signature,
			"endpoint":   input.Endpoint,
			"network":    input.Network,
			"created_by": "txinspector",
		},
	}, WatchSignatureWorkflow, input)
	if err != nil {
		c.logger.Error("failed to start signature watch",
			"signature", input.Signature,
			"workflow_id", id,
			"error", err,
		)
		return "", fmt.Errorf("failed to start watch %q: %w", id, err)
	}

	c.logger.Info("signature watch started",
		"signature", input.Signature,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)

	return run.GetID(), nil
}

// WatchResult blocks until the watch for signature finishes and returns its result.
func (c *Client) WatchResult(ctx context.Context, signature string) (*WatchSignatureResult, error) {
	var result WatchSignatureResult
	if err := c.client.GetWorkflow(ctx, watchWorkflowID(signature), "").Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to get watch result: %w", err)
	}
	return &result, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
