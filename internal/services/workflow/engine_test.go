package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"inboxforge/internal/models"
	"inboxforge/internal/repository"
	"inboxforge/internal/services/credits"
	"inboxforge/internal/services/issue"
	"inboxforge/internal/statemachine"
	"inboxforge/pkg/database"
)

type fakeOCR struct{}

func (fakeOCR) Recognize(ctx context.Context, contentType string, content []byte) (string, error) {
	return "ocr:" + string(content), nil
}

type failingOCR struct{}

func (failingOCR) Recognize(ctx context.Context, contentType string, content []byte) (string, error) {
	return "", errors.New("ocr backend unavailable")
}

type fakeLLM struct{}

func (fakeLLM) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int64) (string, error) {
	return "llm:" + userPrompt, nil
}

type fakeIssueEngine struct {
	calls int
}

func (f *fakeIssueEngine) CreateIssue(ctx context.Context, cfg models.JiraConfig, email issue.EmailContext, prevMetadata models.JSONMap, force bool) (*models.Issue, error) {
	f.calls++
	return &models.Issue{
		EmailMessageID: email.ID,
		Title:          email.Subject,
		Engine:         "jira",
		ExternalID:     "PROJ-1",
		IssueURL:       "https://jira.example.com/browse/PROJ-1",
	}, nil
}

func setupWorkflowDB(t *testing.T) {
	t.Helper()
	db := database.Init(t.TempDir())
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
}

func seedUser(t *testing.T, userID string, credits int64) {
	t.Helper()
	db := database.GetDB()
	if err := db.Create(&models.User{ID: userID, Email: userID + "@example.com"}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	now := time.Now().UTC()
	if err := db.Create(&models.UserCredits{
		ID:          "uc_" + userID,
		UserID:      userID,
		BaseCredits: credits,
		IsActive:    true,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 1, 0),
	}).Error; err != nil {
		t.Fatalf("seed credits: %v", err)
	}
}

func seedEmail(t *testing.T, userID, emailID string, status statemachine.EmailStatus) *models.EmailMessage {
	t.Helper()
	db := database.GetDB()
	email := &models.EmailMessage{
		ID:          emailID,
		UserID:      userID,
		MessageID:   "email_" + emailID,
		Subject:     "Server down",
		TextContent: "the prod server is down",
		Status:      status,
	}
	if err := db.Create(email).Error; err != nil {
		t.Fatalf("seed email: %v", err)
	}
	return email
}

func newTestEngine(t *testing.T, failOCR bool, issues issue.IssueEngine) *Engine {
	t.Helper()
	emails := repository.NewEmailStore()
	configs := repository.NewConfigStore()
	creditsStore := repository.NewCreditsStore()
	issueStore := repository.NewIssueStore()
	ledger := credits.NewLedger(creditsStore)

	var ocrImpl interface {
		Recognize(ctx context.Context, contentType string, content []byte) (string, error)
	}
	if failOCR {
		ocrImpl = failingOCR{}
	} else {
		ocrImpl = fakeOCR{}
	}

	return NewEngine(emails, configs, creditsStore, ledger, issueStore, ocrImpl, fakeLLM{}, issues, nil, nil, time.Minute)
}

func TestRunSuccessPersistsSummaryAndMarksSuccess(t *testing.T) {
	setupWorkflowDB(t)
	seedUser(t, "u1", 10)
	seedEmail(t, "u1", "e1", statemachine.StatusFetched)

	engine := newTestEngine(t, false, nil)
	if err := engine.Run(context.Background(), "e1", RunOptions{}); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := repository.NewEmailStore().LoadEmail(context.Background(), "e1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != statemachine.StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s (error_message=%q)", got.Status, got.ErrorMessage)
	}
	if got.SummaryContent == "" || got.SummaryTitle == "" {
		t.Fatalf("expected summary fields populated, got %+v", got)
	}
}

func TestRunInsufficientCreditsFailsImmediately(t *testing.T) {
	setupWorkflowDB(t)
	seedUser(t, "u2", 0)
	seedEmail(t, "u2", "e2", statemachine.StatusFetched)

	engine := newTestEngine(t, false, nil)
	if err := engine.Run(context.Background(), "e2", RunOptions{}); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := repository.NewEmailStore().LoadEmail(context.Background(), "e2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != statemachine.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if got.SummaryContent != "" {
		t.Fatalf("expected no partial writes on credit failure, got summary=%q", got.SummaryContent)
	}
}

func TestRunSkipsRowAlreadyAdvancedByAnotherWorker(t *testing.T) {
	setupWorkflowDB(t)
	seedUser(t, "u3", 10)
	seedEmail(t, "u3", "e3", statemachine.StatusSuccess)

	engine := newTestEngine(t, false, nil)
	if err := engine.Run(context.Background(), "e3", RunOptions{}); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := repository.NewEmailStore().LoadEmail(context.Background(), "e3")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != statemachine.StatusSuccess {
		t.Fatalf("expected status untouched (SUCCESS), got %s", got.Status)
	}
}

func TestRunCreatesIssueWhenEnabled(t *testing.T) {
	setupWorkflowDB(t)
	seedUser(t, "u4", 10)
	seedEmail(t, "u4", "e4", statemachine.StatusFetched)

	db := database.GetDB()
	if err := db.Create(&models.IssueConfig{
		ID:     "ic_u4",
		UserID: "u4",
		Enable: true,
		Engine: "jira",
		Jira:   models.JSONMap{"project_key": "PROJ"},
	}).Error; err != nil {
		t.Fatalf("seed issue config: %v", err)
	}

	fakeEngine := &fakeIssueEngine{}
	engine := newTestEngine(t, false, fakeEngine)
	if err := engine.Run(context.Background(), "e4", RunOptions{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if fakeEngine.calls != 1 {
		t.Fatalf("expected issue engine to be called once, got %d", fakeEngine.calls)
	}

	issueStore := repository.NewIssueStore()
	created, err := issueStore.FindByEmail(context.Background(), "e4", "jira")
	if err != nil {
		t.Fatalf("find issue: %v", err)
	}
	if created == nil || created.ExternalID != "PROJ-1" {
		t.Fatalf("expected persisted issue with external id PROJ-1, got %+v", created)
	}
}

func TestRunDoesNotPersistWhenANodeFails(t *testing.T) {
	setupWorkflowDB(t)
	seedUser(t, "u5", 10)
	email := seedEmail(t, "u5", "e5", statemachine.StatusFetched)
	db := database.GetDB()
	if err := db.Create(&models.EmailAttachment{
		ID:             "a1",
		UserID:         "u5",
		EmailMessageID: email.ID,
		Filename:       "screenshot.png",
		ContentType:    "image/png",
		IsImage:        true,
		FilePath:       "/nonexistent/path/screenshot.png",
	}).Error; err != nil {
		t.Fatalf("seed attachment: %v", err)
	}

	engine := newTestEngine(t, false, nil)
	if err := engine.Run(context.Background(), "e5", RunOptions{}); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := repository.NewEmailStore().LoadEmail(context.Background(), "e5")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != statemachine.StatusFailed {
		t.Fatalf("expected FAILED after unreadable attachment, got %s", got.Status)
	}
	if got.SummaryContent != "" {
		t.Fatalf("expected finalize to refuse partial writes, got summary=%q", got.SummaryContent)
	}
}
