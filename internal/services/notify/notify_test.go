package notify

import (
	"testing"

	"inboxforge/internal/models"
	"inboxforge/internal/statemachine"
)

func TestStatusColorMapping(t *testing.T) {
	cases := map[statemachine.EmailStatus]string{
		statemachine.StatusSuccess:    "good",
		statemachine.StatusFailed:     "danger",
		statemachine.StatusProcessing: "#439FE0",
		statemachine.StatusFetched:    "#808080",
	}
	for status, want := range cases {
		if got := statusColor(status); got != want {
			t.Errorf("statusColor(%s) = %s, want %s", status, got, want)
		}
	}
}

func TestMessageForIssueSuccess(t *testing.T) {
	n := Notification{
		Email:     &models.EmailMessage{Subject: "Invoice Q3"},
		NewStatus: statemachine.StatusIssueSuccess,
		IssueKey:  "OPS-42",
	}
	got := messageFor(n)
	if got != "Issue OPS-42 created: Invoice Q3" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestMessageForFailure(t *testing.T) {
	n := Notification{
		Email:     &models.EmailMessage{Subject: "Invoice Q3"},
		NewStatus: statemachine.StatusOCRFailed,
	}
	got := messageFor(n)
	if got != "Processing failed: Invoice Q3" {
		t.Fatalf("unexpected message: %q", got)
	}
}
