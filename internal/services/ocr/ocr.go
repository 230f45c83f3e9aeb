// Package ocr implements C3: text extraction from attachment bytes, either
// via Tesseract for raster images or direct/rasterized extraction for PDFs
// (spec §4.5 node "OCR"). Grounded on the teacher's internal/services/ocr.go
// and ocr_worker.go (subprocess supervision -> in-process retry/circuit
// breaker here, since this module talks to gosseract directly rather than
// shelling out to a Python worker).
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
	"github.com/otiai10/gosseract/v2"
	"github.com/sony/gobreaker"
)

// OCREngine is the C3 abstraction (spec §2 table). Content is routed by
// MIME type: images go through Tesseract, PDFs try a text-layer extraction
// first and fall back to page rasterization + Tesseract.
type OCREngine interface {
	Recognize(ctx context.Context, contentType string, content []byte) (string, error)
}

// TesseractEngine is the default OCREngine implementation.
type TesseractEngine struct {
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

func NewTesseractEngine(timeout time.Duration) *TesseractEngine {
	settings := gobreaker.Settings{
		Name:        "ocr",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &TesseractEngine{
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (e *TesseractEngine) Recognize(ctx context.Context, contentType string, content []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var text string
	op := func() (string, error) {
		out, err := e.breaker.Execute(func() (interface{}, error) {
			return e.recognizeOnce(ctx, contentType, content)
		})
		if err != nil {
			return "", err
		}
		return out.(string), nil
	}

	text, err := backoff.Retry(ctx, op,
		backoff.WithMaxTries(3),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return text, nil
}

func (e *TesseractEngine) recognizeOnce(ctx context.Context, contentType string, content []byte) (string, error) {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return ocrImage(content)
	case contentType == "application/pdf":
		return recognizePDF(content)
	default:
		return "", fmt.Errorf("unsupported content type for ocr: %s", contentType)
	}
}

// ocrImage runs Tesseract over raw image bytes (grounded on the teacher's
// RecognizeImage, adapted from a path-based to a byte-based API since
// attachments here never touch a stable path before OCR).
func ocrImage(content []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetImageFromBytes(content); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return "", fmt.Errorf("set psm: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// recognizePDF tries the embedded text layer first (ledongthuc/pdf), the
// way the teacher's extractTextWithPyMuPDF/extractTextWithPdftotext pair
// prefers a cheap text-layer read before falling back to image OCR, then
// falls back to rasterizing every page (go-fitz) and running Tesseract.
func recognizePDF(content []byte) (string, error) {
	if text, err := extractPDFTextLayer(content); err == nil && isUsefulText(text) {
		return text, nil
	}
	return recognizePDFByRasterization(content)
}

func extractPDFTextLayer(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}

	var b strings.Builder
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		txt, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(txt)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}

func isUsefulText(text string) bool {
	return len(strings.TrimSpace(text)) >= 20
}

func recognizePDFByRasterization(content []byte) (string, error) {
	tmp, err := os.CreateTemp("", "inboxforge-ocr-*.pdf")
	if err != nil {
		return "", fmt.Errorf("tempfile: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write tempfile: %w", err)
	}
	tmp.Close()

	doc, err := fitz.New(tmp.Name())
	if err != nil {
		return "", fmt.Errorf("fitz open: %w", err)
	}
	defer doc.Close()

	var b strings.Builder
	for n := 0; n < doc.NumPage(); n++ {
		img, err := doc.Image(n)
		if err != nil {
			continue
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			continue
		}
		text, err := ocrImage(buf.Bytes())
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}
