package temporal

import "context"

// Watcher starts durable confirmation watches for signatures the interactive
// workflow timed out on.
type Watcher interface {
	// StartWatch starts a WatchSignatureWorkflow and returns its workflow ID.
	// Starting a watch for a signature that is already watched is a no-op.
	StartWatch(ctx context.Context, input WatchSignatureInput) (string, error)
}

// watchWorkflowID returns the Temporal workflow ID for a signature.
func watchWorkflowID(signature string) string {
	return "watch-signature-" + signature
}
