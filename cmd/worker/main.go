package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"inboxforge/internal/config"
	"inboxforge/internal/models"
	"inboxforge/internal/repository"
	"inboxforge/internal/services/credits"
	"inboxforge/internal/services/issue"
	"inboxforge/internal/services/llm"
	"inboxforge/internal/services/mailsource"
	"inboxforge/internal/services/notify"
	"inboxforge/internal/services/ocr"
	"inboxforge/internal/services/scheduler"
	"inboxforge/internal/services/workflow"
	"inboxforge/pkg/database"
	"inboxforge/pkg/secretbox"
)

func main() {
	log.Println("Starting inboxforge worker...")

	cfg := config.Load()
	log.Printf("Environment: %s", cfg.NodeEnv)

	db := database.Init(cfg.DataDir)
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}
	db.Exec("CREATE INDEX IF NOT EXISTS idx_email_messages_status ON email_messages(status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_email_messages_user_message ON email_messages(user_id, message_id)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_issues_email_external ON issues(email_message_id, external_id)")

	uploadsDir := cfg.UploadsDir
	if !filepath.IsAbs(uploadsDir) {
		uploadsDir = filepath.Join(mustGetWd(), uploadsDir)
	}
	if err := os.MkdirAll(uploadsDir, 0755); err != nil {
		log.Fatal("Failed to create uploads directory:", err)
	}
	log.Printf("Uploads directory: %s", uploadsDir)

	box, err := secretbox.New(cfg.MasterKey)
	if err != nil {
		log.Fatal("Failed to initialize secretbox:", err)
	}

	emails := repository.NewEmailStore()
	configs := repository.NewConfigStore()
	creditsStore := repository.NewCreditsStore()
	tasks := repository.NewTaskStore()
	issueStore := repository.NewIssueStore()
	ledger := credits.NewLedger(creditsStore)

	ocrEngine := ocr.NewTesseractEngine(cfg.OCRTimeout)
	llmEngine := llm.NewAnthropicEngine(cfg.AnthropicAPIKey, llm.DefaultModel, cfg.LLMTimeout)
	issuesEngine := issue.NewJiraEngine(llmEngine, uploadsDir)
	notifier := notify.NewDispatcher(notify.NewSlackProvider(), cfg.WebhookTimeout, cfg.WebhookRetries)

	engine := workflow.NewEngine(emails, configs, creditsStore, ledger, issueStore, ocrEngine, llmEngine, issuesEngine, notifier, box, cfg.WorkflowDeadline)

	locker := scheduler.NewRedisLocker(cfg.RedisAddr)

	var haraka *mailsource.HarakaSource
	if cfg.HarakaRoot != "" {
		haraka = mailsource.NewHarakaSource(cfg.HarakaRoot, configs)
		log.Printf("Haraka drop-box source enabled: %s", cfg.HarakaRoot)
	}

	if err := ensureFreePlan(db, cfg.FreePlanID); err != nil {
		log.Fatal("Failed to ensure free plan exists:", err)
	}

	sched := scheduler.NewScheduler(emails, configs, creditsStore, ledger, tasks, engine, locker, box, haraka, scheduler.Options{
		Tick:               cfg.SchedulerTick,
		FetchInterval:      cfg.FetchInterval,
		FetchLockTTL:       cfg.FetchLockTTL,
		StuckTimeout:       cfg.StuckTimeout,
		WorkflowTimeout:    cfg.WorkflowDeadline,
		CreditRenewalEvery: cfg.CreditRenewalEvery,
		DowngradeGrace:     cfg.DowngradeGrace,
		PoolSize:           cfg.ProcessingPoolSize,
		UploadsDir:         uploadsDir,
		FreePlanID:         cfg.FreePlanID,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sched.Run(ctx)
	log.Printf("Scheduler running, tick=%s fetch_interval=%s pool_size=%d", cfg.SchedulerTick, cfg.FetchInterval, cfg.ProcessingPoolSize)

	if cfg.NodeEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf(":%s", cfg.HealthPort)
	log.Printf("Ops endpoints listening on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatal("Failed to start ops server:", err)
	}
}

// ensureFreePlan seeds the downgrade target plan on first boot so the
// scheduler's downgrade job (spec §4.3) always has somewhere to land a
// past_due subscription.
func ensureFreePlan(db *gorm.DB, planID string) error {
	var existing models.Plan
	err := db.Where("id = ?", planID).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return db.Create(&models.Plan{
		ID:   planID,
		Name: "Free",
		Metadata: models.JSONMap{
			"credits_per_period":    float64(50),
			"period_days":           float64(30),
			"workflow_cost_credits": float64(1),
		},
	}).Error
}

func mustGetWd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
