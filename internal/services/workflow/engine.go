package workflow

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"inboxforge/internal/metrics"
	"inboxforge/internal/models"
	"inboxforge/internal/repository"
	"inboxforge/internal/services/credits"
	"inboxforge/internal/services/issue"
	"inboxforge/internal/services/llm"
	"inboxforge/internal/services/notify"
	"inboxforge/internal/services/ocr"
	"inboxforge/internal/statemachine"
	"inboxforge/pkg/secretbox"
)

// defaultWorkflowCost is the credit charge when a plan carries no explicit
// workflow_cost_credits entry (spec §4.5 node 1).
const defaultWorkflowCost = int64(1)

// RunOptions controls force-mode semantics, uniform across all seven nodes
// (spec §4.5 "Force-mode semantics").
type RunOptions struct {
	Force bool
}

// Engine runs one email through the seven-node pipeline (spec §4.5).
type Engine struct {
	emails       *repository.EmailStore
	configs      *repository.ConfigStore
	creditsStore *repository.CreditsStore
	ledger       *credits.Ledger
	issueStore   *repository.IssueStore
	ocr          ocr.OCREngine
	llm          llm.LLMEngine
	issues       issue.IssueEngine
	notifier     *notify.Dispatcher
	box          *secretbox.Box
	deadline     time.Duration
}

func NewEngine(
	emails *repository.EmailStore,
	configs *repository.ConfigStore,
	creditsStore *repository.CreditsStore,
	ledger *credits.Ledger,
	issueStore *repository.IssueStore,
	ocrEngine ocr.OCREngine,
	llmEngine llm.LLMEngine,
	issues issue.IssueEngine,
	notifier *notify.Dispatcher,
	box *secretbox.Box,
	deadline time.Duration,
) *Engine {
	if deadline <= 0 {
		deadline = 30 * time.Minute
	}
	return &Engine{
		emails:       emails,
		configs:      configs,
		creditsStore: creditsStore,
		ledger:       ledger,
		issueStore:   issueStore,
		ocr:          ocrEngine,
		llm:          llmEngine,
		issues:       issues,
		notifier:     notifier,
		box:          box,
		deadline:     deadline,
	}
}

// Run executes the pipeline for one email (spec §4.5, §5 "node order is
// strict"). A run-level deadline bounds the whole call; a timeout leaves
// the row in *_PROCESSING for the scheduler's reaper to pick up (spec §4.5
// "Retries").
func (e *Engine) Run(ctx context.Context, emailID string, opts RunOptions) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	email, err := e.emails.LoadEmail(ctx, emailID)
	if err != nil {
		return fmt.Errorf("workflow: load email %s: %w", emailID, err)
	}
	st := newState(email)

	advanced, err := e.prepare(ctx, st, opts)
	if err != nil {
		return fmt.Errorf("workflow: prepare: %w", err)
	}
	if !advanced {
		// StateMachineViolation (spec §7): another worker already moved the
		// row past its expected starting state. Not an error, just a skip.
		log.Printf("workflow: email %s skipped, already advanced by another worker", emailID)
		return nil
	}

	prompts, err := e.configs.GetPromptConfig(ctx, email.UserID)
	if err != nil {
		return fmt.Errorf("workflow: load prompt config: %w", err)
	}
	issueCfg, err := e.configs.GetIssueConfig(ctx, email.UserID)
	if err != nil {
		return fmt.Errorf("workflow: load issue config: %w", err)
	}

	if st.hasErrors() {
		// Prepare recorded an InsufficientCreditsError: terminate
		// immediately rather than running the remaining nodes (spec §7).
		err := e.finalize(ctx, st, opts)
		metrics.ObserveWorkflowRun(start, "failed")
		return err
	}

	e.runStage(ctx, st, opts, "ocr", func() { e.ocrNode(ctx, st, opts) })
	e.runStage(ctx, st, opts, "llm_attachments", func() { e.llmAttachmentsNode(ctx, st, prompts, opts) })
	e.runStage(ctx, st, opts, "llm_email", func() { e.llmEmailNode(ctx, st, prompts, opts) })
	e.runStage(ctx, st, opts, "summary", func() { e.summaryNode(ctx, st, prompts, opts) })
	e.runStage(ctx, st, opts, "issue", func() { e.issueNode(ctx, st, issueCfg, opts) })

	outcome := "success"
	if st.hasErrors() {
		outcome = "failed"
	}
	err = e.finalize(ctx, st, opts)
	metrics.ObserveWorkflowRun(start, outcome)
	return err
}

// runStage carries a node through its own statemachine.Table stage: enter
// Processing, run the node's logic, then land on Success or Failed
// depending on whether the node recorded an error under its own name
// (spec §4.5 status list; §8 invariant 4 "force-mode runs make no
// transitions"). A precondition miss (the row isn't in the stage's
// AllowedIn set, because an earlier stage already failed it) just skips
// the node's work — finalize will mark the run FAILED regardless.
func (e *Engine) runStage(ctx context.Context, st *State, opts RunOptions, name string, fn func()) {
	if opts.Force {
		fn()
		return
	}
	stage, ok := statemachine.StageByName(name)
	if !ok {
		fn()
		return
	}

	entered, err := e.emails.TransitionStatus(ctx, st.Email.ID, stage.AllowedIn, stage.Processing, "")
	if err != nil {
		appendNodeError(st, name, fmt.Errorf("transition to %s: %w", stage.Processing, err))
		return
	}
	if !entered {
		log.Printf("workflow: email %s skipped stage %s, not in an allowed starting state", st.Email.ID, name)
		return
	}
	st.Email.Status = stage.Processing

	fn()

	from := []statemachine.EmailStatus{stage.Processing}
	if errMsg, failed := st.NodeErrors[name]; failed {
		if _, err := e.emails.TransitionStatus(ctx, st.Email.ID, from, stage.Failed, errMsg); err != nil {
			log.Printf("workflow: email %s: record %s failure: %v", st.Email.ID, name, err)
		}
		st.Email.Status = stage.Failed
		return
	}
	if _, err := e.emails.TransitionStatus(ctx, st.Email.ID, from, stage.Success, ""); err != nil {
		log.Printf("workflow: email %s: record %s success: %v", st.Email.ID, name, err)
	}
	st.Email.Status = stage.Success
}

// finalize is the single exit point (spec §4.5 node 7): either nothing is
// persisted and the row moves to FAILED, or everything is persisted in one
// transaction and the row moves to SUCCESS. This final status write happens
// in force mode as well; force only skips the per-node transitions.
func (e *Engine) finalize(ctx context.Context, st *State, opts RunOptions) error {
	if st.hasErrors() {
		summary := errorSummary(st.NodeErrors)
		if st.IssueResult != nil {
			log.Printf("workflow: email %s failed after external issue %s was already created; retry with force or link manually", st.Email.ID, st.IssueResult.ExternalID)
		}
		if err := e.emails.MarkFailed(ctx, st.Email.ID, summary); err != nil {
			return fmt.Errorf("workflow: mark failed: %w", err)
		}
		e.notifyStatus(ctx, st, statemachine.StatusFailed)
		return nil
	}

	result := repository.WorkflowResult{
		SummaryTitle:      st.SummaryTitle,
		SummaryContent:    st.SummaryContent,
		LLMContent:        st.LLMContent,
		Metadata:          st.Email.Metadata,
		AttachmentUpdates: attachmentUpdates(st.Attachments),
	}
	if st.IssueResult != nil {
		result.Issue = &models.Issue{
			ID:             uuid.NewString(),
			UserID:         st.Email.UserID,
			EmailMessageID: st.Email.ID,
			Title:          st.IssueResult.Title,
			Description:    st.IssueResult.Description,
			Priority:       st.IssueResult.Priority,
			Engine:         st.IssueResult.Engine,
			ExternalID:     st.IssueResult.ExternalID,
			IssueURL:       st.IssueResult.IssueURL,
			Metadata:       st.IssueResult.Metadata,
		}
	}

	if err := e.emails.PersistWorkflowResult(ctx, st.Email.ID, result); err != nil {
		return fmt.Errorf("workflow: persist result: %w", err)
	}
	e.notifyStatus(ctx, st, statemachine.StatusSuccess)
	return nil
}

func (e *Engine) notifyStatus(ctx context.Context, st *State, newStatus statemachine.EmailStatus) {
	if e.notifier == nil {
		return
	}
	webhook, err := e.configs.GetWebhookConfig(ctx, st.Email.UserID)
	if err != nil || webhook == nil || webhook.URL == "" {
		return
	}
	if !statusInEvents(webhook.Events, newStatus) {
		return
	}
	n := notify.Notification{
		Email:     st.Email,
		OldStatus: st.Email.Status,
		NewStatus: newStatus,
		Language:  webhook.Language,
	}
	if st.IssueResult != nil {
		n.IssueURL = st.IssueResult.IssueURL
		n.IssueKey = st.IssueResult.ExternalID
	}
	e.notifier.Dispatch(ctx, webhook.URL, n)
}

func statusInEvents(events models.StringList, status statemachine.EmailStatus) bool {
	if len(events) == 0 {
		return true
	}
	return events.Contains(string(status))
}

func attachmentUpdates(atts []models.EmailAttachment) map[string]repository.AttachmentUpdate {
	out := make(map[string]repository.AttachmentUpdate, len(atts))
	for _, att := range atts {
		out[att.ID] = repository.AttachmentUpdate{OCRContent: att.OCRContent, LLMContent: att.LLMContent}
	}
	return out
}

// errorSummary renders node_errors in pipeline order as "<node>: <msg>; …"
// (spec §7 "User-visible behavior").
func errorSummary(nodeErrors map[string]string) string {
	order := []string{"prepare", "ocr", "llm_attachments", "llm_email", "summary", "issue"}
	var parts []string
	for _, node := range order {
		if msg, ok := nodeErrors[node]; ok {
			parts = append(parts, node+": "+msg)
		}
	}
	return strings.Join(parts, "; ")
}

func appendNodeError(st *State, node string, err error) {
	metrics.WorkflowNodeErrors.WithLabelValues(node).Inc()
	if existing, ok := st.NodeErrors[node]; ok {
		st.NodeErrors[node] = existing + "; " + err.Error()
	} else {
		st.NodeErrors[node] = err.Error()
	}
}
