package mailsource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"inboxforge/internal/repository"
)

// harakaMeta is the JSON sidecar written alongside each `.eml` by the MTA
// drop-box (spec §4.1).
type harakaMeta struct {
	Recipients []string `json:"recipients"`
}

// HarakaSource scans a drop-directory populated by an MTA instead of
// polling IMAP (spec §4.1 "Filesystem (\"Haraka\") implementation").
type HarakaSource struct {
	base    string
	configs *repository.ConfigStore
}

func NewHarakaSource(base string, configs *repository.ConfigStore) *HarakaSource {
	return &HarakaSource{base: base, configs: configs}
}

// FetchPending is the Haraka analogue of MailSource.Fetch: it scans the
// whole shared inbox/ directory (not one user's mailbox), so dispatch is
// per-envelope-recipient rather than per-config. The scheduler calls it on
// each fetch cycle and routes each resulting RawEmail by the userID it
// resolved the recipients to.
type HarakaMessage struct {
	UserID string
	Email  RawEmail
}

func (src *HarakaSource) FetchPending(ctx context.Context) ([]HarakaMessage, error) {
	inbox := filepath.Join(src.base, "inbox")
	entries, err := os.ReadDir(inbox)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("haraka: read inbox: %w", err)
	}

	var out []HarakaMessage
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".eml") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".eml")
		emlPath := filepath.Join(inbox, id+".eml")
		metaPath := filepath.Join(inbox, id+".meta")

		msg, userID, err := src.processOne(ctx, emlPath, metaPath)
		if err != nil {
			src.moveTo(emlPath, metaPath, "failed")
			continue
		}
		if userID == "" {
			src.moveTo(emlPath, metaPath, "failed")
			continue
		}
		out = append(out, HarakaMessage{UserID: userID, Email: msg})
		src.moveTo(emlPath, metaPath, "processed")
	}
	return out, nil
}

func (src *HarakaSource) processOne(ctx context.Context, emlPath, metaPath string) (RawEmail, string, error) {
	rawBytes, err := os.ReadFile(emlPath)
	if err != nil {
		return RawEmail{}, "", fmt.Errorf("haraka: read eml: %w", err)
	}
	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		return RawEmail{}, "", fmt.Errorf("haraka: read meta: %w", err)
	}
	var meta harakaMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return RawEmail{}, "", fmt.Errorf("haraka: parse meta: %w", err)
	}

	mr, err := mail.CreateReader(strings.NewReader(string(rawBytes)))
	if err != nil {
		return RawEmail{}, "", fmt.Errorf("haraka: mail reader: %w", err)
	}

	subject, _ := mr.Header.Subject()
	var sender string
	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		sender = addrs[0].Address
	}
	receivedAt, err := mr.Header.Date()
	if err != nil || receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	email := RawEmail{
		Subject:    subject,
		Sender:     sender,
		Recipients: meta.Recipients,
		ReceivedAt: receivedAt,
		RawContent: rawBytes,
	}
	email.MessageID = stableMessageID(subject, sender, meta.Recipients, receivedAt)

	if err := walkMIMEParts(mr, &email); err != nil {
		return RawEmail{}, "", fmt.Errorf("haraka: walk mime: %w", err)
	}

	userID, err := src.resolveUser(ctx, meta.Recipients)
	if err != nil {
		return email, "", nil // unmatched, not a hard error
	}
	return email, userID, nil
}

// resolveUser matches recipients against User.Email then EmailAlias, per
// spec §4.1.
func (src *HarakaSource) resolveUser(ctx context.Context, recipients []string) (string, error) {
	var lastErr error
	for _, addr := range recipients {
		user, err := src.configs.ResolveUserByRecipient(ctx, strings.ToLower(strings.TrimSpace(addr)))
		if err != nil {
			lastErr = err
			continue
		}
		return user.ID, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no recipient matched a user")
	}
	return "", lastErr
}

func (src *HarakaSource) moveTo(emlPath, metaPath, dir string) {
	dest := filepath.Join(src.base, dir)
	_ = os.MkdirAll(dest, 0o755)
	_ = os.Rename(emlPath, filepath.Join(dest, filepath.Base(emlPath)))
	if _, err := os.Stat(metaPath); err == nil {
		_ = os.Rename(metaPath, filepath.Join(dest, filepath.Base(metaPath)))
	}
}
