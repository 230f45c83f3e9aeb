// Package mailsource implements C1: an abstract fetcher that produces
// RawEmail records from either an IMAP mailbox or a filesystem drop-box
// (spec §4.1).
package mailsource

import (
	"context"
	"time"
)

// RawAttachment is one extracted MIME part, already fully read into memory
// (bounded by the caller — see maxAttachmentBytes in mime.go).
type RawAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
	IsImage     bool
	ContentID   string // RFC 2392 Content-ID, without angle brackets
}

// RawEmail is what a MailSource hands to the caller before any database
// row exists. message_id is already the stable content hash described in
// spec §4.1 — never the raw RFC Message-ID header.
type RawEmail struct {
	MessageID   string
	Subject     string
	Sender      string
	Recipients  []string
	ReceivedAt  time.Time
	RawContent  []byte
	HTMLContent string
	TextContent string
	Attachments []RawAttachment
}

// MailSource is the per-config fetch abstraction implemented by IMAPSource
// (spec §4.1). HarakaSource does not implement it; it exposes FetchPending,
// which scans the shared drop-box for all users at once.
type MailSource interface {
	// Fetch returns newly available messages and the latest received_at
	// among them. The caller advances its stored cursor only over the
	// messages it persisted successfully (spec §4.1 "Failure modes").
	Fetch(ctx context.Context, cursor time.Time) ([]RawEmail, time.Time, error)
}
