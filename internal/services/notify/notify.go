// Package notify implements C8: best-effort status notifications fanned
// out to a pluggable webhook provider (spec §4.7). Grounded on
// original_source/devify/threadline/tasks/notifications.py's status-color
// mapping and payload shape; the webhook POST itself is implemented with
// slack-go/slack's message-attachment ("card") struct, the concrete
// provider the retrieved pack supplies for this concern.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"

	"inboxforge/internal/models"
	"inboxforge/internal/statemachine"
)

// statusColor mirrors notifications.py's STATUS_COLOR_MAPPING: success
// states are green, failures red, *_PROCESSING states blue, everything
// else grey.
func statusColor(status statemachine.EmailStatus) string {
	switch status {
	case statemachine.StatusSuccess, statemachine.StatusOCRSuccess, statemachine.StatusLLMOCRSuccess,
		statemachine.StatusLLMEmailSuccess, statemachine.StatusLLMSummarySuccess, statemachine.StatusIssueSuccess:
		return "good"
	case statemachine.StatusFailed, statemachine.StatusOCRFailed, statemachine.StatusLLMOCRFailed,
		statemachine.StatusLLMEmailFailed, statemachine.StatusLLMSummaryFailed, statemachine.StatusIssueFailed:
		return "danger"
	case statemachine.StatusProcessing, statemachine.StatusOCRProcessing, statemachine.StatusLLMOCRProcessing,
		statemachine.StatusLLMEmailProcessing, statemachine.StatusLLMSummaryProcessing, statemachine.StatusIssueProcessing:
		return "#439FE0"
	default:
		return "#808080"
	}
}

// stageLabel and messageFor localize the human-facing strings the way
// notifications.py's build_notification_payload does, keyed by language.
func stageLabel(status statemachine.EmailStatus, language string) string {
	labels := map[statemachine.EmailStatus]map[string]string{
		statemachine.StatusFetched:        {"en": "Email Fetching", "zh-hans": "邮件获取"},
		statemachine.StatusOCRSuccess:     {"en": "OCR Processing", "zh-hans": "OCR 处理"},
		statemachine.StatusOCRFailed:      {"en": "OCR Processing", "zh-hans": "OCR 处理"},
		statemachine.StatusLLMSummarySuccess: {"en": "LLM Processing", "zh-hans": "LLM 处理"},
		statemachine.StatusLLMSummaryFailed:  {"en": "LLM Processing", "zh-hans": "LLM 处理"},
		statemachine.StatusIssueSuccess:   {"en": "Issue Creation", "zh-hans": "工单创建"},
		statemachine.StatusIssueFailed:    {"en": "Issue Creation", "zh-hans": "工单创建"},
		statemachine.StatusSuccess:        {"en": "Completed", "zh-hans": "已完成"},
		statemachine.StatusFailed:         {"en": "Failed", "zh-hans": "失败"},
	}
	if byLang, ok := labels[status]; ok {
		if s, ok := byLang[language]; ok {
			return s
		}
		return byLang["en"]
	}
	return "Processing"
}

// Notification is the payload handed to a Provider (spec §4.7).
type Notification struct {
	Email     *models.EmailMessage
	OldStatus statemachine.EmailStatus
	NewStatus statemachine.EmailStatus
	IssueURL  string
	IssueKey  string
	Language  string
}

// Provider is the pluggable webhook transport (spec §9 redesign note: a
// single hardcoded "feishu" provider becomes an interface with one
// concrete implementation).
type Provider interface {
	Send(ctx context.Context, webhookURL string, n Notification) error
}

// Dispatcher fans a Notification out to a user's configured webhook,
// tolerating provider failures without affecting the workflow (spec §4.7:
// "failures here never fail the workflow").
type Dispatcher struct {
	provider Provider
	timeout  time.Duration
	retries  int
}

func NewDispatcher(provider Provider, timeout time.Duration, retries int) *Dispatcher {
	return &Dispatcher{provider: provider, timeout: timeout, retries: retries}
}

func (d *Dispatcher) Dispatch(ctx context.Context, webhookURL string, n Notification) {
	if webhookURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	retries := d.retries
	if retries <= 0 {
		retries = 3
	}

	op := func() (struct{}, error) {
		return struct{}{}, d.provider.Send(ctx, webhookURL, n)
	}
	if _, err := backoff.Retry(ctx, op,
		backoff.WithMaxTries(uint(retries)),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	); err != nil {
		log.Printf("notify: webhook dispatch failed after retries: %v", err)
	}
}

func messageFor(n Notification) string {
	subject := ""
	if n.Email != nil {
		subject = n.Email.Subject
	}
	switch n.NewStatus {
	case statemachine.StatusIssueSuccess, statemachine.StatusSuccess:
		if n.IssueKey != "" {
			return fmt.Sprintf("Issue %s created: %s", n.IssueKey, subject)
		}
		return fmt.Sprintf("Workflow completed: %s", subject)
	case statemachine.StatusFailed, statemachine.StatusOCRFailed, statemachine.StatusLLMOCRFailed,
		statemachine.StatusLLMEmailFailed, statemachine.StatusLLMSummaryFailed, statemachine.StatusIssueFailed:
		return fmt.Sprintf("Processing failed: %s", subject)
	default:
		return fmt.Sprintf("Status updated: %s", subject)
	}
}
