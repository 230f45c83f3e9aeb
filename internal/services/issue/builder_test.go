package issue

import (
	"context"
	"strings"
	"testing"

	"inboxforge/internal/models"
)

func TestBuildSummaryUsesPrefixAndFallback(t *testing.T) {
	cfg := models.JiraConfig{SummaryPrefix: "[AI] "}
	email := EmailContext{Subject: "fallback subject"}
	got := buildSummary(cfg, email)
	if got != "[AI] fallback subject" {
		t.Fatalf("got %q", got)
	}

	email.SummaryTitle = "Real\nTitle"
	got = buildSummary(cfg, email)
	if strings.Contains(got, "\n") {
		t.Fatalf("expected newlines stripped, got %q", got)
	}
}

func TestBuildSummaryTruncates(t *testing.T) {
	cfg := models.JiraConfig{}
	email := EmailContext{SummaryTitle: strings.Repeat("x", 1000)}
	got := buildSummary(cfg, email)
	if len(got) != maxSummaryChars {
		t.Fatalf("expected truncation to %d chars, got %d", maxSummaryChars, len(got))
	}
}

func TestProcessEmbeddedImagesReplacesPlaceholder(t *testing.T) {
	images := []models.EmailAttachment{
		{Filename: "a.png", SafeFilename: "a.png", LLMContent: "ocr text"},
	}
	out := processEmbeddedImages("before [IMAGE: a.png] after", images)
	if !strings.Contains(out, "!a.png|width=600!") {
		t.Fatalf("expected jira image markup, got %q", out)
	}
	if !strings.Contains(out, "ocr text") {
		t.Fatalf("expected ocr text embedded, got %q", out)
	}
}

func TestProcessUnembeddedImagesSkipsEmbedded(t *testing.T) {
	images := []models.EmailAttachment{
		{Filename: "a.png", SafeFilename: "a.png", LLMContent: "ocr-a"},
		{Filename: "b.png", SafeFilename: "b.png", LLMContent: "ocr-b"},
	}
	embedded := map[string]bool{"a.png": true}
	out := processUnembeddedImages(images, embedded)
	if len(out) != 1 || !strings.Contains(out[0], "b.png") {
		t.Fatalf("expected only b.png unembedded, got %v", out)
	}
}

func TestBuildDescriptionSummaryOnly(t *testing.T) {
	email := EmailContext{SummaryContent: "the summary"}
	got := buildDescription(email, true)
	if got != "the summary" {
		t.Fatalf("got %q", got)
	}
}

func TestProcessDescriptionWithLLMCallsOnFirstRunAndHonorsCache(t *testing.T) {
	ctx := context.Background()
	calls := 0
	call := func(ctx context.Context, prompt, content string) (string, error) {
		calls++
		return "rewritten description", nil
	}

	got, cache := processDescriptionWithLLM(ctx, call, "rewrite", "original", "", false, false)
	if calls != 1 || got != "rewritten description" || !cache {
		t.Fatalf("expected first run to call the LLM, got calls=%d got=%q cache=%v", calls, got, cache)
	}

	got, cache = processDescriptionWithLLM(ctx, call, "rewrite", "original", got, true, false)
	if calls != 1 || got != "rewritten description" || !cache {
		t.Fatalf("expected cached decision reused without a call, got calls=%d got=%q cache=%v", calls, got, cache)
	}

	got, cache = processDescriptionWithLLM(ctx, call, "rewrite", "original", got, true, true)
	if calls != 2 || got != "rewritten description" || !cache {
		t.Fatalf("expected force to re-call the LLM, got calls=%d got=%q cache=%v", calls, got, cache)
	}
}

func TestRemoveEmojiStripsSymbols(t *testing.T) {
	out := removeEmoji("Great work \U0001F600!")
	if strings.Contains(out, "\U0001F600") {
		t.Fatalf("expected emoji stripped, got %q", out)
	}
}

func TestDetermineFromAllowListSkipsLLMWithoutPrompt(t *testing.T) {
	ctx := context.Background()
	called := false
	call := func(ctx context.Context, prompt, content string) (string, error) {
		called = true
		return "OPS", nil
	}
	got, cache := determineFromAllowList(ctx, call, "", "content", "DEFAULT", nil, "", false, false)
	if called || got != "DEFAULT" || cache {
		t.Fatalf("expected no call and no cache without a prompt, got called=%v got=%q cache=%v", called, got, cache)
	}
}

func TestDetermineFromAllowListCallsLLMOnFirstRunWithoutForce(t *testing.T) {
	ctx := context.Background()
	called := false
	call := func(ctx context.Context, prompt, content string) (string, error) {
		called = true
		return "OPS", nil
	}
	got, cache := determineFromAllowList(ctx, call, "pick project", "content", "DEFAULT", models.StringList{"OPS"}, "", false, false)
	if !called || got != "OPS" || !cache {
		t.Fatalf("expected a configured prompt to call the LLM even without force, got called=%v got=%q cache=%v", called, got, cache)
	}
}

func TestDetermineFromAllowListRejectsOutOfList(t *testing.T) {
	ctx := context.Background()
	call := func(ctx context.Context, prompt, content string) (string, error) {
		return "NOTALLOWED", nil
	}
	got, cache := determineFromAllowList(ctx, call, "pick project", "content", "DEFAULT", models.StringList{"OPS"}, "", false, false)
	if got != "DEFAULT" || !cache {
		t.Fatalf("expected fallback to default for disallowed result, got %q cache=%v", got, cache)
	}
}

func TestDetermineFromAllowListAcceptsAllowed(t *testing.T) {
	ctx := context.Background()
	call := func(ctx context.Context, prompt, content string) (string, error) {
		return "OPS", nil
	}
	got, cache := determineFromAllowList(ctx, call, "pick project", "content", "DEFAULT", models.StringList{"OPS"}, "", false, false)
	if got != "OPS" || !cache {
		t.Fatalf("expected allowed result to win, got %q cache=%v", got, cache)
	}
}

func TestDetermineFromAllowListHonorsCacheUnlessForced(t *testing.T) {
	ctx := context.Background()
	called := false
	call := func(ctx context.Context, prompt, content string) (string, error) {
		called = true
		return "OPS", nil
	}

	got, cache := determineFromAllowList(ctx, call, "pick project", "content", "DEFAULT", models.StringList{"OPS", "INFRA"}, "INFRA", true, false)
	if called || got != "INFRA" || !cache {
		t.Fatalf("expected cached decision honored without a call, got called=%v got=%q cache=%v", called, got, cache)
	}

	called = false
	got, cache = determineFromAllowList(ctx, call, "pick project", "content", "DEFAULT", models.StringList{"OPS", "INFRA"}, "INFRA", true, true)
	if !called || got != "OPS" || !cache {
		t.Fatalf("expected force to re-decide past the cache, got called=%v got=%q cache=%v", called, got, cache)
	}
}
