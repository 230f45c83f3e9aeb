package mailsource

import (
	"strings"
	"testing"
	"time"
)

func TestStableMessageIDDeterministic(t *testing.T) {
	at := time.Unix(1700000000, 0)
	a := stableMessageID("Invoice", "a@x.com", []string{"b@y.com"}, at)
	b := stableMessageID("Invoice", "a@x.com", []string{"b@y.com"}, at)
	if a != b {
		t.Fatalf("expected deterministic id, got %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "email_") {
		t.Fatalf("expected email_ prefix, got %q", a)
	}

	c := stableMessageID("Invoice", "a@x.com", []string{"b@y.com"}, at.Add(time.Second))
	if a == c {
		t.Fatalf("expected different timestamp to change the id")
	}
}

func TestSimpleAppendImagesListsAllPlaceholders(t *testing.T) {
	out := simpleAppendImages("hello world", map[string]string{
		"cid1": "[IMAGE: a.png]",
		"cid2": "[IMAGE: b.png]",
	})
	if !strings.Contains(out, "hello world") {
		t.Fatalf("expected original text preserved, got %q", out)
	}
	if !strings.Contains(out, "[IMAGE: a.png]") || !strings.Contains(out, "[IMAGE: b.png]") {
		t.Fatalf("expected both placeholders present, got %q", out)
	}
}

func TestEmbedImagesWithHTMLPositioningFallsBackWithoutHTML(t *testing.T) {
	out := embedImagesWithHTMLPositioning("hello world", "", map[string]string{"cid1": "[IMAGE: a.png]"})
	if !strings.Contains(out, "[IMAGE: a.png]") {
		t.Fatalf("expected fallback append, got %q", out)
	}
}

func TestEmbedImagesWithHTMLPositioningLocatesImage(t *testing.T) {
	htmlBody := `<html><body><p>Intro text here</p><img src="cid:abc123"><p>Outro</p></body></html>`
	out := embedImagesWithHTMLPositioning("Intro text here Outro", htmlBody, map[string]string{
		"abc123": "[IMAGE: screenshot.png]",
	})
	if !strings.Contains(out, "[IMAGE: screenshot.png]") {
		t.Fatalf("expected placeholder embedded, got %q", out)
	}
	introIdx := strings.Index(out, "Intro")
	imgIdx := strings.Index(out, "[IMAGE:")
	outroIdx := strings.Index(out, "Outro")
	if !(introIdx < imgIdx) {
		t.Fatalf("expected image placeholder after intro text, got %q", out)
	}
	_ = outroIdx
}
