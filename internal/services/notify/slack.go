package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/slack-go/slack"
)

// SlackProvider posts a "title + markdown + color" card to an incoming
// webhook URL using slack-go/slack's attachment struct — the reference
// Provider implementation (spec §4.7, §9).
type SlackProvider struct{}

func NewSlackProvider() *SlackProvider {
	return &SlackProvider{}
}

func (p *SlackProvider) Send(ctx context.Context, webhookURL string, n Notification) error {
	subject := ""
	if n.Email != nil {
		subject = n.Email.Subject
	}

	attachment := slack.Attachment{
		Color: statusColor(n.NewStatus),
		Title: stageLabel(n.NewStatus, n.Language),
		Text:  messageFor(n),
		Fields: []slack.AttachmentField{
			{Title: "Subject", Value: subject, Short: true},
			{Title: "Status", Value: string(n.NewStatus), Short: true},
		},
		Footer: "inboxforge",
		Ts:     json.Number(strconv.FormatInt(time.Now().Unix(), 10)),
	}
	if n.IssueURL != "" {
		attachment.Fields = append(attachment.Fields, slack.AttachmentField{
			Title: "Issue", Value: n.IssueURL, Short: false,
		})
	}

	msg := &slack.WebhookMessage{Attachments: []slack.Attachment{attachment}}
	return slack.PostWebhookContext(ctx, webhookURL, msg)
}
