package workflow

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"inboxforge/internal/models"
	"inboxforge/internal/services/issue"
	"inboxforge/internal/statemachine"
)

// prepare is node 1 (spec §4.5): load is already done by the caller, so
// this validates the state machine, reserves credits, and decides whether
// the remaining nodes should run at all.
func (e *Engine) prepare(ctx context.Context, st *State, opts RunOptions) (bool, error) {
	stage, _ := statemachine.StageByName("prepare")

	if !opts.Force {
		ok, err := e.emails.TransitionStatus(ctx, st.Email.ID, stage.AllowedIn, stage.Processing, "")
		if err != nil {
			return false, fmt.Errorf("transition to processing: %w", err)
		}
		if !ok {
			return false, nil
		}
		st.Email.Status = stage.Processing
	}

	cost, err := e.workflowCost(ctx, st.Email.UserID)
	if err != nil {
		st.fail("prepare", err)
		return true, nil
	}

	idempotencyKey := fmt.Sprintf("email_%s_workflow_execution", st.Email.ID)
	txn, err := e.ledger.Consume(ctx, st.Email.UserID, cost, "workflow_execution", idempotencyKey, &st.Email.ID)
	if err != nil {
		st.fail("prepare", err)
		return true, nil
	}
	st.WorkflowTxnID = txn.ID
	return true, nil
}

// workflowCost resolves plan.metadata.workflow_cost_credits for the user's
// active subscription, falling back to defaultWorkflowCost when no
// subscription, plan, or metadata entry is present.
func (e *Engine) workflowCost(ctx context.Context, userID string) (int64, error) {
	active, err := e.creditsStore.GetActive(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("resolve active credits: %w", err)
	}
	if active.SubscriptionID == nil {
		return defaultWorkflowCost, nil
	}
	sub, err := e.creditsStore.GetSubscription(ctx, *active.SubscriptionID)
	if err != nil {
		return defaultWorkflowCost, nil
	}
	plan, err := e.creditsStore.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return defaultWorkflowCost, nil
	}
	if raw, ok := plan.Metadata["workflow_cost_credits"]; ok {
		if f, ok := raw.(float64); ok && f > 0 {
			return int64(f), nil
		}
	}
	return defaultWorkflowCost, nil
}

// ocrNode is node 2 (spec §4.5): OCR every image attachment lacking
// ocr_content (or all of them under force). A per-attachment failure is
// recorded but never aborts the remaining attachments.
func (e *Engine) ocrNode(ctx context.Context, st *State, opts RunOptions) {
	for i := range st.Attachments {
		att := &st.Attachments[i]
		if !att.IsImage {
			continue
		}
		if !opts.Force && strings.TrimSpace(att.OCRContent) != "" {
			continue
		}

		content, err := os.ReadFile(att.FilePath)
		if err != nil {
			appendNodeError(st, "ocr", fmt.Errorf("%s: read attachment: %w", att.Filename, err))
			continue
		}
		text, err := e.ocr.Recognize(ctx, att.ContentType, content)
		if err != nil {
			appendNodeError(st, "ocr", fmt.Errorf("%s: %w", att.Filename, err))
			continue
		}
		att.OCRContent = text
	}
}

// llmAttachmentsNode is node 3 (spec §4.5): normalize each OCR'd image's
// raw text through the LLM. An empty result is a legitimate outcome, not a
// failure.
func (e *Engine) llmAttachmentsNode(ctx context.Context, st *State, prompts *models.PromptConfig, opts RunOptions) {
	for i := range st.Attachments {
		att := &st.Attachments[i]
		if !att.IsImage || strings.TrimSpace(att.OCRContent) == "" {
			continue
		}
		if !opts.Force && att.LLMContent != "" {
			continue
		}
		text, err := e.llm.Complete(ctx, prompts.OCRPrompt, att.OCRContent, 2048)
		if err != nil {
			appendNodeError(st, "llm_attachments", fmt.Errorf("%s: %w", att.Filename, err))
			continue
		}
		att.LLMContent = text
	}
}

var imagePlaceholderRe = regexp.MustCompile(`\[IMAGE:\s*([\w@.\-]+)\]`)

// substituteImagePlaceholders gives the email-content LLM call visibility
// into each image's OCR'd text while keeping the `[IMAGE: f]` token itself
// intact, since §4.4a relies on that token surviving into state.llm_content
// for the issue builder to convert into a JIRA image macro later. This is
// the module's resolution of an open question the distilled spec leaves
// ambiguous: whether node 4's "replace placeholder inline" consumes the
// token or merely annotates it (see DESIGN.md).
func substituteImagePlaceholders(text string, attachments []models.EmailAttachment) string {
	byName := map[string]string{}
	for _, att := range attachments {
		if strings.TrimSpace(att.LLMContent) == "" {
			continue
		}
		name := att.SafeFilename
		if name == "" {
			name = att.Filename
		}
		byName[name] = att.LLMContent
	}
	return imagePlaceholderRe.ReplaceAllStringFunc(text, func(match string) string {
		groups := imagePlaceholderRe.FindStringSubmatch(match)
		content, ok := byName[groups[1]]
		if !ok {
			return match
		}
		return fmt.Sprintf("%s\n%s", match, content)
	})
}

// llmEmailNode is node 4 (spec §4.5): pick the richest available body text,
// weave in attachment context, and normalize it through the LLM.
func (e *Engine) llmEmailNode(ctx context.Context, st *State, prompts *models.PromptConfig, opts RunOptions) {
	if !opts.Force && st.LLMContent != "" {
		return
	}

	text := st.Email.TextContent
	if text == "" {
		text = st.Email.HTMLContent
	}
	if text == "" {
		text = st.Email.RawContent
	}
	text = substituteImagePlaceholders(text, st.Attachments)

	out, err := e.llm.Complete(ctx, prompts.EmailContentPrompt, text, 4096)
	if err != nil {
		appendNodeError(st, "llm_email", err)
		return
	}
	st.LLMContent = out
}

// summaryNode is node 5 (spec §4.5): one combined document, two LLM calls.
func (e *Engine) summaryNode(ctx context.Context, st *State, prompts *models.PromptConfig, opts RunOptions) {
	if !opts.Force && st.SummaryContent != "" && st.SummaryTitle != "" {
		return
	}

	var b strings.Builder
	b.WriteString("Subject: ")
	b.WriteString(st.Email.Subject)
	b.WriteString("\nText Content: ")
	b.WriteString(st.LLMContent)
	for _, att := range st.Attachments {
		if strings.TrimSpace(att.LLMContent) != "" {
			b.WriteString("\n")
			b.WriteString(att.LLMContent)
		}
	}
	combined := b.String()

	if content, err := e.llm.Complete(ctx, prompts.SummaryPrompt, combined, 2048); err != nil {
		appendNodeError(st, "summary", fmt.Errorf("content: %w", err))
	} else {
		st.SummaryContent = content
	}

	if title, err := e.llm.Complete(ctx, prompts.SummaryTitlePrompt, combined, 128); err != nil {
		appendNodeError(st, "summary", fmt.Errorf("title: %w", err))
	} else {
		st.SummaryTitle = title
	}
}

// issueNode is node 6 (spec §4.5): a no-op when the user hasn't enabled
// issue creation, otherwise a single call into the C5 engine.
func (e *Engine) issueNode(ctx context.Context, st *State, issueCfg *models.IssueConfig, opts RunOptions) {
	if issueCfg == nil || !issueCfg.Enable || e.issues == nil {
		return
	}

	jiraCfg, err := decodeJiraConfig(issueCfg.Jira, e.box)
	if err != nil {
		appendNodeError(st, "issue", err)
		return
	}

	ec := issue.EmailContext{
		ID:             st.Email.ID,
		Subject:        st.Email.Subject,
		SummaryTitle:   st.SummaryTitle,
		SummaryContent: st.SummaryContent,
		LLMContent:     st.LLMContent,
		Attachments:    st.Attachments,
	}

	engineName := issueCfg.Engine
	if engineName == "" {
		engineName = "jira"
	}
	var prevMetadata models.JSONMap
	if e.issueStore != nil {
		if prev, err := e.issueStore.FindByEmail(ctx, st.Email.ID, engineName); err == nil && prev != nil {
			prevMetadata = prev.Metadata
		}
	}

	created, err := e.issues.CreateIssue(ctx, jiraCfg, ec, prevMetadata, opts.Force)
	if err != nil {
		appendNodeError(st, "issue", err)
		return
	}

	st.IssueResult = &IssueResultData{
		Engine:      created.Engine,
		ExternalID:  created.ExternalID,
		IssueURL:    created.IssueURL,
		Title:       created.Title,
		Description: created.Description,
		Priority:    created.Priority,
		Metadata:    created.Metadata,
	}
}
