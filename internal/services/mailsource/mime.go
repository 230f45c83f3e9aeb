package mailsource

import (
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"
	"golang.org/x/net/html"

	"inboxforge/internal/repository"
)

const maxAttachmentBytes = 25 * 1024 * 1024

// walkMIMEParts drains every part of the message, filling in TextContent,
// HTMLContent and Attachments, then embeds image placeholders into the text
// body (spec §4.1, grounded on the teacher's email_monitor.go part loop plus
// original_source's image_positioning.py).
func walkMIMEParts(mr *mail.Reader, out *RawEmail) error {
	placeholders := map[string]string{} // cid -> "[IMAGE: safe_filename]"

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(io.LimitReader(p.Body, maxAttachmentBytes))
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(ct, "text/plain") && out.TextContent == "":
				out.TextContent = string(body)
			case strings.HasPrefix(ct, "text/html") && out.HTMLContent == "":
				out.HTMLContent = string(body)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(io.LimitReader(p.Body, maxAttachmentBytes))
			if err != nil {
				continue
			}
			isImage := strings.HasPrefix(ct, "image/")
			cid := strings.Trim(h.Get("Content-Id"), "<>")

			att := RawAttachment{
				Filename:    filename,
				ContentType: ct,
				Content:     body,
				IsImage:     isImage,
				ContentID:   cid,
			}
			out.Attachments = append(out.Attachments, att)

			if isImage && cid != "" {
				placeholders[cid] = fmt.Sprintf("[IMAGE: %s]", safeLabel(filename, body))
			}
		}
	}

	if len(placeholders) > 0 {
		out.TextContent = embedImagesWithHTMLPositioning(out.TextContent, out.HTMLContent, placeholders)
	}
	return nil
}

// safeLabel returns the content-addressed safe_filename the scheduler stores
// the attachment under (hash + original extension), so placeholders match
// EmailAttachment.SafeFilename.
func safeLabel(filename string, content []byte) string {
	return repository.ContentHash(content, filepath.Ext(filename))
}

// embedImagesWithHTMLPositioning mirrors original_source's
// embed_images_in_text_with_html_positioning: locate each cid: <img> inside
// the HTML body, estimate its text offset from preceding element text, and
// splice the placeholder into the plain-text body at the matching word
// boundary. Falls back to a flat append when the HTML can't be parsed or no
// position is found for any placeholder.
func embedImagesWithHTMLPositioning(text, htmlBody string, placeholders map[string]string) string {
	if htmlBody == "" || len(placeholders) == 0 {
		return simpleAppendImages(text, placeholders)
	}

	positions, err := findImagePositionsInHTML(htmlBody, placeholders)
	if err != nil || len(positions) == 0 {
		return simpleAppendImages(text, placeholders)
	}
	return insertImagesAtPositions(text, positions)
}

type imagePosition struct {
	placeholder string
	position    int
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func findImagePositionsInHTML(htmlBody string, placeholders map[string]string) ([]imagePosition, error) {
	tok := html.NewTokenizer(strings.NewReader(htmlBody))

	var textBefore strings.Builder
	var positions []imagePosition

	for {
		tt := tok.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.TextToken:
			textBefore.WriteString(tok.Token().Data)
			textBefore.WriteByte(' ')
		case html.StartTagToken, html.SelfClosingTagToken:
			tok2 := tok.Token()
			if tok2.Data != "img" {
				continue
			}
			src := attrValue(tok2, "src")
			if !strings.HasPrefix(src, "cid:") {
				continue
			}
			cid := strings.TrimPrefix(src, "cid:")
			for candidateCID, placeholder := range placeholders {
				if strings.Contains(cid, candidateCID) || strings.Contains(candidateCID, cid) {
					cleaned := whitespaceRe.ReplaceAllString(strings.TrimSpace(textBefore.String()), " ")
					positions = append(positions, imagePosition{placeholder: placeholder, position: len(cleaned)})
					break
				}
			}
		}
	}

	sortPositions(positions)
	return positions, nil
}

func sortPositions(p []imagePosition) {
	for i := 1; i < len(p); i++ {
		for j := i; j > 0 && p[j].position < p[j-1].position; j-- {
			p[j], p[j-1] = p[j-1], p[j]
		}
	}
}

func attrValue(t html.Token, key string) string {
	for _, a := range t.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// insertImagesAtPositions splices placeholders into the word stream once
// cumulative text length reaches each image's estimated offset.
func insertImagesAtPositions(text string, positions []imagePosition) string {
	if len(positions) == 0 {
		return text
	}
	words := strings.Fields(text)
	inserted := make([]bool, len(positions))

	var out []string
	currentPos := 0
	for _, w := range words {
		out = append(out, w)
		currentPos += len(w) + 1
		for i, p := range positions {
			if !inserted[i] && p.position <= currentPos {
				out = append(out, "["+strings.Trim(p.placeholder, "[]")+"]")
				inserted[i] = true
			}
		}
	}
	for i, p := range positions {
		if !inserted[i] {
			out = append(out, "["+strings.Trim(p.placeholder, "[]")+"]")
		}
	}
	return strings.Join(out, " ")
}

// simpleAppendImages is the fallback: list every placeholder after a
// separator, preserving none of the HTML structure.
func simpleAppendImages(text string, placeholders map[string]string) string {
	var b strings.Builder
	b.WriteString(text)
	if len(placeholders) > 0 {
		b.WriteString("\n\n--- Images ---\n")
		i := 0
		for _, label := range placeholders {
			b.WriteString(label)
			b.WriteString("\n")
			i++
		}
	}
	return b.String()
}
