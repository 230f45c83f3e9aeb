// Package workflow implements C6: the seven-node pipeline that turns one
// fetched email into OCR text, LLM-normalized content, a summary, and
// (optionally) an external issue. Grounded on spec §4.5; no single teacher
// file covers a multi-stage pipeline like this, so node sequencing follows
// the teacher's linear service-call style (services.EmailService's
// monitor-then-process loop) generalized into an explicit node table.
package workflow

import (
	"inboxforge/internal/metrics"
	"inboxforge/internal/models"
)

// State is the mutable bag every node reads from and writes to during one
// run (spec §4.5: "a linear graph of seven nodes sharing a mutable State
// map"). Using a struct instead of a literal map keeps node wiring
// type-checked while still matching the spec's single shared state jargon.
type State struct {
	Email       *models.EmailMessage
	Attachments []models.EmailAttachment

	WorkflowTxnID string

	LLMContent     string
	SummaryTitle   string
	SummaryContent string

	IssueResult *IssueResultData

	// NodeErrors is keyed by node name; Finalize refuses to persist
	// anything if this is non-empty (spec §7 propagation policy).
	NodeErrors map[string]string
}

// IssueResultData mirrors spec §4.5 node 6's state.issue_result_data.
type IssueResultData struct {
	Engine     string
	ExternalID string
	IssueURL   string
	Title      string
	Description string
	Priority   string
	Metadata   models.JSONMap
}

func newState(email *models.EmailMessage) *State {
	return &State{
		Email:       email,
		Attachments: email.Attachments,
		NodeErrors:  map[string]string{},
	}
}

func (s *State) fail(node string, err error) {
	metrics.WorkflowNodeErrors.WithLabelValues(node).Inc()
	s.NodeErrors[node] = err.Error()
}

func (s *State) hasErrors() bool {
	return len(s.NodeErrors) > 0
}
