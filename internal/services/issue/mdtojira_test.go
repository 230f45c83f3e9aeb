package issue

import (
	"strings"
	"testing"
)

func TestMdToJiraWikiConvertsHeadingsAndBold(t *testing.T) {
	out := mdToJiraWiki("# Title\n\nThis is **bold** and `code`.")
	if !strings.Contains(out, "h1. Title") {
		t.Fatalf("expected heading conversion, got %q", out)
	}
	if !strings.Contains(out, "*bold*") {
		t.Fatalf("expected bold conversion, got %q", out)
	}
	if !strings.Contains(out, "{{code}}") {
		t.Fatalf("expected inline code conversion, got %q", out)
	}
}

func TestMdToJiraWikiPreservesCodeBlockContent(t *testing.T) {
	out := mdToJiraWiki("```\n# not a heading\n```")
	if strings.Contains(out, "h1.") {
		t.Fatalf("expected fenced content left untouched, got %q", out)
	}
	if !strings.Contains(out, "{code}") {
		t.Fatalf("expected fence markers converted, got %q", out)
	}
}
