package issue

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"inboxforge/internal/models"
)

// IssueEngine is the C5 abstraction (spec §2 table).
type IssueEngine interface {
	// CreateIssue synthesizes and files a ticket for one processed email,
	// returning the populated Issue row (not yet persisted — Finalize
	// owns the write, spec §4.5 node 7). prevMetadata is the metadata of
	// the last successful Issue for this email, if any, carrying the
	// cached llm_description/llm_project_key/llm_assignee decisions
	// (spec §4.4); nil when there is no prior issue.
	CreateIssue(ctx context.Context, cfg models.JiraConfig, email EmailContext, prevMetadata models.JSONMap, force bool) (*models.Issue, error)
}

// Completer is the narrow LLM dependency this package needs (spec §4.4's
// "LLM-assisted field selection").
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int64) (string, error)
}

// JiraEngine is the reference IssueEngine implementation (spec §9: the
// teacher's original is "Threadline"-flavored JIRA handling, confirmed
// over "Jirabot" throughout).
type JiraEngine struct {
	llm        Completer
	uploadsDir string
}

func NewJiraEngine(llm Completer, uploadsDir string) *JiraEngine {
	return &JiraEngine{llm: llm, uploadsDir: uploadsDir}
}

func (e *JiraEngine) CreateIssue(ctx context.Context, cfg models.JiraConfig, email EmailContext, prevMetadata models.JSONMap, force bool) (*models.Issue, error) {
	client := NewJiraClient(cfg.URL, cfg.Username, cfg.APIToken, 30*time.Second)

	summary := buildSummary(cfg, email)

	cachedDescription, hasCachedDescription := cachedString(prevMetadata, "llm_description")
	cachedProjectKey, hasCachedProjectKey := cachedString(prevMetadata, "llm_project_key")
	cachedAssignee, hasCachedAssignee := cachedString(prevMetadata, "llm_assignee")

	fullDescription := buildDescription(email, false)
	processed, cacheDescription := processDescriptionWithLLM(ctx, e.llmCall, cfg.DescriptionPrompt, fullDescription, cachedDescription, hasCachedDescription, force)
	cleaned := removeEmoji(mdToJiraWiki(processed))
	if len(cleaned) > maxDescriptionChars {
		cleaned = cleaned[:maxDescriptionChars]
	}

	summaryOnlyDescription := buildDescription(email, true)
	projectKey, cacheProjectKey := determineFromAllowList(ctx, e.llmCall, cfg.ProjectPrompt, summaryOnlyDescription, cfg.ProjectKey, cfg.AllowProjectKeys, cachedProjectKey, hasCachedProjectKey, force)
	assignee, cacheAssignee := determineFromAllowList(ctx, e.llmCall, cfg.AssigneePrompt, summaryOnlyDescription, cfg.Assignee, cfg.AllowAssignees, cachedAssignee, hasCachedAssignee, force)

	issueType := cfg.DefaultIssueType
	if issueType == "" {
		issueType = "Task"
	}
	priority := cfg.DefaultPriority
	if priority == "" {
		priority = "High"
	}

	issueKey, err := client.CreateIssue(ctx, projectKey, summary, issueType, cleaned, assignee, priority, cfg.EpicLink)
	if err != nil {
		return nil, fmt.Errorf("issue: create jira issue: %w", err)
	}

	uploaded, skipped := e.uploadAttachments(ctx, client, issueKey, email.Attachments)

	metadata := models.JSONMap{
		"project_key":          projectKey,
		"assignee":             assignee,
		"attachments_uploaded": uploaded,
		"attachments_skipped":  skipped,
	}
	if cacheDescription {
		metadata["llm_description"] = processed
	}
	if cacheProjectKey {
		metadata["llm_project_key"] = projectKey
	}
	if cacheAssignee {
		metadata["llm_assignee"] = assignee
	}

	return &models.Issue{
		UserID:         "", // filled by the caller, which owns the email's user_id
		EmailMessageID: email.ID,
		Title:          summary,
		Description:    cleaned,
		Priority:       priority,
		Engine:         "jira",
		ExternalID:     issueKey,
		IssueURL:       client.IssueURL(issueKey),
		Metadata:       metadata,
	}, nil
}

// cachedString reads a string field cached in a prior Issue's metadata
// (spec §4.4 "cache each decision under issue.metadata.{...}").
func cachedString(meta models.JSONMap, key string) (string, bool) {
	if meta == nil {
		return "", false
	}
	v, ok := meta[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (e *JiraEngine) llmCall(ctx context.Context, prompt, content string) (string, error) {
	if e.llm == nil {
		return "", fmt.Errorf("issue: no llm engine configured")
	}
	return e.llm.Complete(ctx, prompt, content, 1024)
}

// uploadAttachments mirrors upload_attachments: every attachment on disk is
// considered; images without OCR content are skipped since an un-OCR'd
// screenshot carries no searchable value in the ticket (spec §4.4).
func (e *JiraEngine) uploadAttachments(ctx context.Context, client *JiraClient, issueKey string, attachments []models.EmailAttachment) (uploaded, skipped int) {
	for _, att := range attachments {
		if _, err := os.Stat(att.FilePath); err != nil {
			skipped++
			continue
		}
		if att.IsImage && strings.TrimSpace(att.OCRContent) == "" {
			skipped++
			continue
		}
		content, err := os.ReadFile(att.FilePath)
		if err != nil {
			skipped++
			continue
		}
		if err := client.AddAttachment(ctx, issueKey, att.Filename, content); err != nil {
			skipped++
			continue
		}
		uploaded++
	}
	return uploaded, skipped
}
