// Package issue implements C5: ticket synthesis from a processed email,
// its attachments, and a tracker configuration. Grounded directly on
// original_source/devify/threadline/utils/issues/jira_handler.py — the
// summary/description assembly, emoji stripping, and LLM-assisted
// project/assignee selection with allow-list validation and fallback are
// all ports of that file's logic into the teacher's Go idiom.
package issue

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"inboxforge/internal/models"
)

const (
	maxDescriptionChars = 10000
	maxSummaryChars      = 500
)

// EmailContext is the subset of EmailMessage + attachments the builder
// needs, passed as data (mirrors jira_handler.py's "no ORM" design
// principle so this package has no repository dependency).
type EmailContext struct {
	ID             string
	Subject        string
	SummaryTitle   string
	SummaryContent string
	LLMContent     string
	Attachments    []models.EmailAttachment
}

// buildSummary mirrors _build_jira_summary: prefix + optional date stamp +
// base title, newlines stripped.
func buildSummary(cfg models.JiraConfig, email EmailContext) string {
	base := email.SummaryTitle
	if base == "" {
		base = email.Subject
	}
	if base == "" {
		base = "Email Issue"
	}

	prefix := cfg.SummaryPrefix
	if cfg.SummaryTimestamp {
		prefix = fmt.Sprintf("%s[%s]", prefix, time.Now().UTC().Format("20060102"))
	}

	summary := cleanSummary(prefix + base)
	if len(summary) > maxSummaryChars {
		summary = summary[:maxSummaryChars]
	}
	return summary
}

func cleanSummary(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.TrimSpace(s)
}

var embeddedImageRe = regexp.MustCompile(`\[IMAGE:\s*([\w@.\-]+)\]`)

// processEmbeddedImages replaces [IMAGE: filename] placeholders with JIRA
// wiki image markup, appending the attachment's own LLM-processed OCR
// text directly below the image when available (_process_embedded_images).
func processEmbeddedImages(llmContent string, images []models.EmailAttachment) string {
	if llmContent == "" {
		return ""
	}
	ocrByName := map[string]string{}
	for _, att := range images {
		if strings.TrimSpace(att.LLMContent) == "" {
			continue
		}
		name := att.SafeFilename
		if name == "" {
			name = att.Filename
		}
		ocrByName[name] = att.LLMContent
	}

	return embeddedImageRe.ReplaceAllStringFunc(llmContent, func(match string) string {
		groups := embeddedImageRe.FindStringSubmatch(match)
		fname := groups[1]
		jiraImage := fmt.Sprintf("!%s|width=600!", fname)
		if ocrText, ok := ocrByName[fname]; ok {
			return fmt.Sprintf("%s\n\n%s\n", jiraImage, ocrText)
		}
		return jiraImage
	})
}

func embeddedFilenames(llmContent string) map[string]bool {
	out := map[string]bool{}
	for _, m := range embeddedImageRe.FindAllStringSubmatch(llmContent, -1) {
		out[m[1]] = true
	}
	return out
}

// processUnembeddedImages lists image attachments whose OCR content never
// got referenced inline (_process_unembedded_images).
func processUnembeddedImages(images []models.EmailAttachment, embedded map[string]bool) []string {
	var out []string
	for _, att := range images {
		name := att.SafeFilename
		if name == "" {
			name = att.Filename
		}
		if embedded[name] || strings.TrimSpace(att.LLMContent) == "" {
			continue
		}
		out = append(out, fmt.Sprintf("**Image: %s**\n!%s|width=600!\n[OCR Result]\n%s", name, name, att.LLMContent))
	}
	return out
}

// buildDescription assembles the full JIRA description: summary content,
// a separator, the LLM content with images embedded, a separator, then any
// images that weren't referenced inline (_build_description).
func buildDescription(email EmailContext, summaryOnly bool) string {
	var parts []string
	if s := strings.TrimSpace(email.SummaryContent); s != "" {
		parts = append(parts, s)
	}
	if summaryOnly {
		return strings.Join(parts, "\n")
	}

	parts = append(parts, "\n---\n")

	var images []models.EmailAttachment
	for _, att := range email.Attachments {
		if att.IsImage {
			images = append(images, att)
		}
	}

	if llm := strings.TrimSpace(email.LLMContent); llm != "" {
		parts = append(parts, processEmbeddedImages(email.LLMContent, images))
	}

	parts = append(parts, "\n---\n")

	embedded := embeddedFilenames(email.LLMContent)
	if unembedded := processUnembeddedImages(images, embedded); len(unembedded) > 0 {
		parts = append(parts, strings.Join(unembedded, "\n\n"))
	}

	return strings.Join(parts, "\n")
}

var emojiRanges = []*regexp.Regexp{
	regexp.MustCompile(`[\x{1F600}-\x{1F64F}]`),
	regexp.MustCompile(`[\x{1F300}-\x{1F5FF}]`),
	regexp.MustCompile(`[\x{1F680}-\x{1F6FF}]`),
	regexp.MustCompile(`[\x{2600}-\x{26FF}]`),
	regexp.MustCompile(`[\x{2700}-\x{27BF}]`),
	regexp.MustCompile(`[\x{1F900}-\x{1F9FF}]`),
	regexp.MustCompile(`[\x{1FA70}-\x{1FAFF}]`),
}

// removeEmoji mirrors _remove_emoji's unicode-range strip.
func removeEmoji(text string) string {
	for _, re := range emojiRanges {
		text = re.ReplaceAllString(text, "")
	}
	return text
}

// llmSelector abstracts call_llm for the project/assignee/description
// selection steps below.
type llmSelector func(ctx context.Context, prompt, content string) (string, error)

// determineFromAllowList mirrors _determine_project_key/_determine_assignee:
// consulted whenever a prompt is configured, validating the LLM's answer
// against the allow-list and falling back to the configured default on an
// empty/invalid/errored result. A decision from a prior non-force run is
// honored as-is and the LLM isn't re-consulted; `force=true` always
// re-decides (spec §4.4 "cache each decision ... honor the cache on
// re-runs unless force=true"). cache reports whether a decision was made
// at all (for the caller to persist under issue.metadata), separately from
// whether it came from the LLM or the allow-list fallback.
func determineFromAllowList(ctx context.Context, call llmSelector, prompt, content, fallback string, allowed models.StringList, cached string, hasCache, force bool) (value string, cache bool) {
	if strings.TrimSpace(prompt) == "" {
		return fallback, false
	}
	if hasCache && !force {
		return cached, true
	}
	result, err := call(ctx, prompt, content)
	if err != nil {
		return fallback, true
	}
	result = strings.TrimSpace(result)
	if result == "" || !allowed.Contains(result) {
		return fallback, true
	}
	return result, true
}

// processDescriptionWithLLM mirrors _process_description_with_llm, with the
// same cache-unless-forced semantics as determineFromAllowList.
func processDescriptionWithLLM(ctx context.Context, call llmSelector, prompt, content string, cached string, hasCache, force bool) (value string, cache bool) {
	if strings.TrimSpace(prompt) == "" {
		return content, false
	}
	if hasCache && !force {
		return cached, true
	}
	result, err := call(ctx, prompt, content)
	if err != nil || strings.TrimSpace(result) == "" {
		return content, true
	}
	return result, true
}
