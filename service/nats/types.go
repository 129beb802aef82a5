package nats

import (
	"time"

	"github.com/brojonat/txinspector/service/db"
	"github.com/brojonat/txinspector/service/submission"
)

// Event sources.
const (
	SourceWorkflow = "workflow"
	SourceWatcher  = "watcher"
)

// SubmissionEvent represents a submission outcome published to NATS.
// This is published to the subject "submissions.{state}" in JetStream.
type SubmissionEvent struct {
	Signature string `json:"signature,omitempty"`
	State     string `json:"state"`
	Kind      string `json:"kind,omitempty"`

	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`

	Endpoint string `json:"endpoint"`
	Network  string `json:"network"`
	Attempts int    `json:"attempts"`

	Slot               uint64 `json:"slot,omitempty"`
	ConfirmationStatus string `json:"confirmation_status,omitempty"`
	ExplorerURL        string `json:"explorer_url,omitempty"`
	Duplicate          bool   `json:"duplicate,omitempty"`

	// Source is SourceWorkflow for interactive runs and SourceWatcher for the durable watcher.
	Source      string    `json:"source"`
	FinishedAt  time.Time `json:"finished_at"`
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject the event is published to.
func (e *SubmissionEvent) Subject() string {
	return SubjectPrefix + e.State
}

// FromResult converts a workflow result to a SubmissionEvent for publishing.
func FromResult(res *submission.Result) *SubmissionEvent {
	event := &SubmissionEvent{
		Signature:   res.Signature,
		State:       string(res.State),
		Kind:        string(res.Kind),
		ErrorKind:   res.ErrorKind,
		Message:     res.Message,
		Endpoint:    res.Endpoint,
		Network:     string(res.Network),
		Attempts:    res.Attempts,
		ExplorerURL: res.ExplorerURL,
		Duplicate:   res.Duplicate,
		Source:      SourceWorkflow,
		FinishedAt:  res.FinishedAt,
		PublishedAt: time.Now().UTC(),
	}
	if res.Status != nil {
		event.Slot = res.Status.Slot
		event.ConfirmationStatus = res.Status.ConfirmationStatus
	}
	return event
}

// FromDBSubmission converts a stored submission to a SubmissionEvent for publishing.
func FromDBSubmission(sub *db.Submission) *SubmissionEvent {
	event := &SubmissionEvent{
		State:       sub.State,
		Endpoint:    sub.Endpoint,
		Network:     sub.Network,
		Attempts:    sub.Attempts,
		Duplicate:   sub.Duplicate,
		Source:      SourceWatcher,
		FinishedAt:  sub.UpdatedAt,
		PublishedAt: time.Now().UTC(),
	}

	// Convert optional fields
	if sub.Signature != nil {
		event.Signature = *sub.Signature
	}
	if sub.Kind != nil {
		event.Kind = *sub.Kind
	}
	if sub.ErrorKind != nil {
		event.ErrorKind = *sub.ErrorKind
	}
	if sub.Message != nil {
		event.Message = *sub.Message
	}
	if sub.Slot != nil && *sub.Slot >= 0 {
		event.Slot = uint64(*sub.Slot)
	}
	if sub.ConfirmationStatus != nil {
		event.ConfirmationStatus = *sub.ConfirmationStatus
	}
	if sub.ExplorerURL != nil {
		event.ExplorerURL = *sub.ExplorerURL
	}

	return event
}
