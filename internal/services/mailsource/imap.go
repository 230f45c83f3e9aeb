package mailsource

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"inboxforge/internal/models"
)

const imapFetchChunkSize = 50

// IMAPSource fetches new messages from one user's IMAP mailbox (spec §4.1,
// grounded on the teacher's internal/services/email_monitor.go).
type IMAPSource struct {
	cfg      models.EmailConfig
	password string // decrypted by the caller before constructing the source
}

// NewIMAPSource builds a source bound to one already-decrypted config.
func NewIMAPSource(cfg models.EmailConfig, password string) *IMAPSource {
	return &IMAPSource{cfg: cfg, password: password}
}

func (src *IMAPSource) Fetch(ctx context.Context, cursor time.Time) ([]RawEmail, time.Time, error) {
	addr := fmt.Sprintf("%s:%d", src.cfg.IMAPHost, src.cfg.IMAPPort)
	c, err := client.DialTLS(addr, &tls.Config{ServerName: src.cfg.IMAPHost})
	if err != nil {
		return nil, cursor, fmt.Errorf("imap dial %s: %w", addr, err)
	}
	defer c.Logout()

	if err := c.Login(src.cfg.Username, src.password); err != nil {
		return nil, cursor, fmt.Errorf("imap login: %w", err)
	}

	folder := src.cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := c.Select(folder, false); err != nil {
		return nil, cursor, fmt.Errorf("imap select %s: %w", folder, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	since := src.cfg.Since
	maxAge := time.Now().AddDate(0, 0, -maxInt(src.cfg.MaxAgeDays, 1))
	sinceFloor := maxAge
	if since != nil && since.After(sinceFloor) {
		sinceFloor = *since
	}
	if cursor.After(sinceFloor) {
		sinceFloor = cursor
	}
	criteria.SentSince = sinceFloor
	applyFilters(criteria, src.cfg.Filters)

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, cursor, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, cursor, nil
	}

	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchRFC822}
	newCursor := cursor
	var out []RawEmail

	for i := 0; i < len(uids); i += imapFetchChunkSize {
		end := i + imapFetchChunkSize
		if end > len(uids) {
			end = len(uids)
		}
		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uids[i:end]...)

		messages := make(chan *imap.Message, imapFetchChunkSize)
		errCh := make(chan error, 1)
		go func() { errCh <- c.UidFetch(seqSet, items, messages) }()

		for msg := range messages {
			raw, err := parseIMAPMessage(msg)
			if err != nil {
				log.Printf("mailsource: skipping unparseable message uid=%d: %v", msg.Uid, err)
				continue
			}
			out = append(out, raw)
			if raw.ReceivedAt.After(newCursor) {
				newCursor = raw.ReceivedAt
			}
		}
		if err := <-errCh; err != nil {
			return out, newCursor, fmt.Errorf("imap fetch: %w", err)
		}
	}

	return out, newCursor, nil
}

func applyFilters(criteria *imap.SearchCriteria, filters models.JSONMap) {
	if filters == nil {
		return
	}
	if from, ok := filters["from"].(string); ok && from != "" {
		criteria.Header.Add("From", from)
	}
	if subj, ok := filters["subject"].(string); ok && subj != "" {
		criteria.Header.Add("Subject", subj)
	}
}

func parseIMAPMessage(msg *imap.Message) (RawEmail, error) {
	var section imap.BodySectionName
	r := msg.GetBody(&section)
	if r == nil {
		return RawEmail{}, fmt.Errorf("empty body section")
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return RawEmail{}, fmt.Errorf("read body: %w", err)
	}

	mr, err := mail.CreateReader(strings.NewReader(string(raw)))
	if err != nil {
		return RawEmail{}, fmt.Errorf("mail reader: %w", err)
	}

	subject, _ := mr.Header.Subject()
	var sender string
	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		sender = addrs[0].Address
	}
	var recipients []string
	if addrs, err := mr.Header.AddressList("To"); err == nil {
		for _, a := range addrs {
			recipients = append(recipients, a.Address)
		}
	}
	receivedAt, err := mr.Header.Date()
	if err != nil || receivedAt.IsZero() {
		if msg.Envelope != nil {
			receivedAt = msg.Envelope.Date
		}
	}

	email := RawEmail{
		Subject:    subject,
		Sender:     sender,
		Recipients: recipients,
		ReceivedAt: receivedAt,
		RawContent: raw,
	}
	email.MessageID = stableMessageID(subject, sender, recipients, receivedAt)

	if err := walkMIMEParts(mr, &email); err != nil {
		return RawEmail{}, fmt.Errorf("walk mime: %w", err)
	}
	return email, nil
}

// stableMessageID implements spec §4.1's dedup key: a content hash of the
// envelope fields, not the often-missing or reused RFC Message-ID header.
func stableMessageID(subject, sender string, recipients []string, receivedAt time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d", subject, sender, strings.Join(recipients, ","), receivedAt.Unix())
	return "email_" + hex.EncodeToString(h.Sum(nil))[:16]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
