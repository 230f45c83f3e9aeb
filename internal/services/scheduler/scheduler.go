package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"inboxforge/internal/metrics"
	"inboxforge/internal/models"
	"inboxforge/internal/repository"
	"inboxforge/internal/services/credits"
	"inboxforge/internal/services/mailsource"
	"inboxforge/internal/services/workflow"
	"inboxforge/internal/statemachine"
	"inboxforge/pkg/secretbox"
)

// Scheduler drives every periodic job spec §4.6 names: the hourly mail
// fetch, the per-minute processing dispatch, the stuck-row reaper, and the
// daily credits renewal/downgrade jobs. Grounded on the teacher's
// EmailService monitoring loop (backend-go/internal/services/email.go's
// MonitorAllAccounts), generalized from one goroutine-per-account polling
// loop into a single tick driving five distinct jobs on independent
// cadences. The fetch and processing-dispatch jobs are coordinated through
// an external lock rather than an in-process mutex (spec §4.6, §5); the
// reaper, renewal and downgrade jobs take no lock.
type Scheduler struct {
	emails       *repository.EmailStore
	configs      *repository.ConfigStore
	creditsStore *repository.CreditsStore
	ledger       *credits.Ledger
	tasks        *repository.TaskStore
	engine       *workflow.Engine
	locker       Locker
	box          *secretbox.Box
	haraka       *mailsource.HarakaSource

	uploadsDir string
	freePlanID string

	tick               time.Duration
	fetchInterval      time.Duration
	fetchLockTTL       time.Duration
	stuckTimeout       time.Duration
	workflowTimeout    time.Duration
	creditRenewalEvery time.Duration
	downgradeGrace     time.Duration
	poolSize           int

	lastFetch     time.Time
	lastRenewal   time.Time
	lastDowngrade time.Time
}

// Options groups the tunable cadences and pool sizes (spec §4.6's five
// jobs, each with its own default cadence).
type Options struct {
	Tick               time.Duration
	FetchInterval      time.Duration
	FetchLockTTL       time.Duration
	StuckTimeout       time.Duration
	WorkflowTimeout    time.Duration
	CreditRenewalEvery time.Duration
	DowngradeGrace     time.Duration
	PoolSize           int
	UploadsDir         string
	FreePlanID         string
}

func NewScheduler(
	emails *repository.EmailStore,
	configs *repository.ConfigStore,
	creditsStore *repository.CreditsStore,
	ledger *credits.Ledger,
	tasks *repository.TaskStore,
	engine *workflow.Engine,
	locker Locker,
	box *secretbox.Box,
	haraka *mailsource.HarakaSource,
	opts Options,
) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = time.Minute
	}
	if opts.FetchInterval <= 0 {
		opts.FetchInterval = time.Hour
	}
	if opts.FetchLockTTL <= 0 {
		opts.FetchLockTTL = 10 * time.Minute
	}
	if opts.StuckTimeout <= 0 {
		opts.StuckTimeout = 30 * time.Minute
	}
	if opts.WorkflowTimeout <= 0 {
		opts.WorkflowTimeout = 30 * time.Minute
	}
	if opts.CreditRenewalEvery <= 0 {
		opts.CreditRenewalEvery = 24 * time.Hour
	}
	if opts.DowngradeGrace <= 0 {
		opts.DowngradeGrace = 7 * 24 * time.Hour
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 4
	}
	return &Scheduler{
		emails:             emails,
		configs:            configs,
		creditsStore:       creditsStore,
		ledger:             ledger,
		tasks:              tasks,
		engine:             engine,
		locker:             locker,
		box:                box,
		haraka:             haraka,
		uploadsDir:         opts.UploadsDir,
		freePlanID:         opts.FreePlanID,
		tick:               opts.Tick,
		fetchInterval:      opts.FetchInterval,
		fetchLockTTL:       opts.FetchLockTTL,
		stuckTimeout:       opts.StuckTimeout,
		workflowTimeout:    opts.WorkflowTimeout,
		creditRenewalEvery: opts.CreditRenewalEvery,
		downgradeGrace:     opts.DowngradeGrace,
		poolSize:           opts.PoolSize,
	}
}

// Run blocks, executing one tick every s.tick until ctx is cancelled (spec
// §4.6: "driven by a periodic timer").
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunTick(ctx)
		}
	}
}

// RunTick executes the five jobs spec §4.6 lists, each gated by its own
// cadence. Exported so cmd/worker and tests can drive ticks deterministically
// instead of waiting on a real timer.
func (s *Scheduler) RunTick(ctx context.Context) {
	now := time.Now().UTC()

	if s.lastFetch.IsZero() || now.Sub(s.lastFetch) >= s.fetchInterval {
		s.lastFetch = now
		s.dispatchFetch(ctx)
	}

	s.dispatchProcessing(ctx)
	s.reapStuck(ctx, now)

	if s.lastRenewal.IsZero() || now.Sub(s.lastRenewal) >= s.creditRenewalEvery {
		s.lastRenewal = now
		s.renewCredits(ctx, now)
	}
	if s.lastDowngrade.IsZero() || now.Sub(s.lastDowngrade) >= s.creditRenewalEvery {
		s.lastDowngrade = now
		s.downgradePastDue(ctx, now)
	}
}

// dispatchFetch is job 1 (spec §4.6 item 1): one fetch_user_emails task per
// active email_config, each behind a single-flight lock keyed by user id.
func (s *Scheduler) dispatchFetch(ctx context.Context) {
	metrics.SchedulerTicks.WithLabelValues("fetch").Inc()
	configs, err := s.configs.ListActiveEmailConfigs(ctx)
	if err != nil {
		log.Printf("scheduler: list active email configs: %v", err)
		return
	}
	for _, cfg := range configs {
		cfg := cfg
		lockKey := "fetch:" + cfg.UserID
		ok, err := s.locker.TryLock(ctx, lockKey, s.fetchLockTTL)
		if err != nil {
			log.Printf("scheduler: acquire fetch lock for %s: %v", cfg.UserID, err)
			continue
		}
		if !ok {
			metrics.LockContention.WithLabelValues("fetch").Inc()
			continue
		}
		go s.runFetch(ctx, cfg, lockKey)
	}

	if s.haraka != nil {
		lockKey := "fetch:haraka"
		ok, err := s.locker.TryLock(ctx, lockKey, s.fetchLockTTL)
		if err == nil && ok {
			go s.runHarakaFetch(ctx, lockKey)
		}
	}
}

func (s *Scheduler) runFetch(ctx context.Context, cfg models.EmailConfig, lockKey string) {
	defer func() {
		if err := s.locker.Unlock(context.Background(), lockKey); err != nil {
			log.Printf("scheduler: release fetch lock %s: %v", lockKey, err)
		}
	}()

	task, err := s.tasks.Create(ctx, models.TaskTypeFetch, &cfg.UserID)
	if err != nil {
		log.Printf("scheduler: create fetch task for %s: %v", cfg.UserID, err)
		return
	}
	_ = s.tasks.Start(ctx, task.ID)

	password, err := s.decryptPassword(cfg.Password)
	if err != nil {
		_ = s.tasks.Fail(ctx, task.ID, err.Error())
		return
	}

	source := mailsource.NewIMAPSource(cfg, password)
	cursor := time.Time{}
	if cfg.Cursor != nil {
		cursor = *cfg.Cursor
	}

	raws, _, err := source.Fetch(ctx, cursor)
	if err != nil {
		_ = s.tasks.Fail(ctx, task.ID, err.Error())
		return
	}

	stored := 0
	newCursor := cursor
	for _, raw := range raws {
		if err := s.storeRawEmail(ctx, cfg.UserID, raw); err != nil {
			log.Printf("scheduler: store email %s: %v", raw.MessageID, err)
			continue
		}
		stored++
		if raw.ReceivedAt.After(newCursor) {
			newCursor = raw.ReceivedAt
		}
	}

	// The cursor only advances for successfully persisted messages (spec
	// §4.1 "Failure modes"); if nothing new landed, leave it untouched.
	if stored > 0 {
		if err := s.configs.UpdateCursor(ctx, cfg.ID, newCursor); err != nil {
			log.Printf("scheduler: update cursor for %s: %v", cfg.ID, err)
		}
	}

	_ = s.tasks.Complete(ctx, task.ID, stored)
}

func (s *Scheduler) runHarakaFetch(ctx context.Context, lockKey string) {
	defer func() {
		if err := s.locker.Unlock(context.Background(), lockKey); err != nil {
			log.Printf("scheduler: release fetch lock %s: %v", lockKey, err)
		}
	}()

	messages, err := s.haraka.FetchPending(ctx)
	if err != nil {
		log.Printf("scheduler: haraka fetch pending: %v", err)
		return
	}
	for _, msg := range messages {
		if err := s.storeRawEmail(ctx, msg.UserID, msg.Email); err != nil {
			log.Printf("scheduler: store haraka email %s: %v", msg.Email.MessageID, err)
		}
	}
}

func (s *Scheduler) decryptPassword(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	if s.box == nil {
		return "", fmt.Errorf("no master key configured to decrypt imap password")
	}
	return s.box.Open(sealed)
}

// storeRawEmail persists one fetched message plus its attachments,
// deduplicating by the (user_id, message_id) unique index (spec §3, §8).
func (s *Scheduler) storeRawEmail(ctx context.Context, userID string, raw mailsource.RawEmail) error {
	_, err := s.emails.FindByUserAndMessageID(ctx, userID, raw.MessageID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	email := &models.EmailMessage{
		ID:          uuid.NewString(),
		UserID:      userID,
		MessageID:   raw.MessageID,
		Subject:     raw.Subject,
		Sender:      raw.Sender,
		Recipients:  strings.Join(raw.Recipients, ","),
		ReceivedAt:  raw.ReceivedAt,
		RawContent:  string(raw.RawContent),
		HTMLContent: raw.HTMLContent,
		TextContent: raw.TextContent,
		Status:      statemachine.StatusFetched,
	}
	if err := s.emails.CreateEmail(ctx, email); err != nil {
		return fmt.Errorf("create email: %w", err)
	}

	for _, att := range raw.Attachments {
		path, err := s.storeAttachmentBytes(att)
		if err != nil {
			log.Printf("scheduler: store attachment %s: %v", att.Filename, err)
			continue
		}
		record := &models.EmailAttachment{
			ID:             uuid.NewString(),
			UserID:         userID,
			EmailMessageID: email.ID,
			Filename:       att.Filename,
			SafeFilename:   filepath.Base(path),
			ContentType:    att.ContentType,
			FileSize:       int64(len(att.Content)),
			FilePath:       path,
			IsImage:        att.IsImage,
		}
		if err := s.emails.CreateAttachment(ctx, record); err != nil {
			log.Printf("scheduler: persist attachment record %s: %v", att.Filename, err)
		}
	}
	return nil
}

// storeAttachmentBytes writes content-addressed bytes under uploadsDir
// (spec §6: "<ATTACHMENT_ROOT>/<safe_filename> ... dedup by hash").
func (s *Scheduler) storeAttachmentBytes(att mailsource.RawAttachment) (string, error) {
	safe := repository.ContentHash(att.Content, filepath.Ext(att.Filename))
	path := filepath.Join(s.uploadsDir, safe)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(s.uploadsDir, 0755); err != nil {
		return "", fmt.Errorf("ensure uploads dir: %w", err)
	}
	if err := os.WriteFile(path, att.Content, 0644); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	return path, nil
}

// dispatchProcessing is job 2 (spec §4.6 item 2): one workflow run per
// FETCHED-or-retryable email, bounded by poolSize concurrent runs, each
// guarded by a lock keyed by email id (spec §5 dispatch-time lock).
func (s *Scheduler) dispatchProcessing(ctx context.Context) {
	metrics.SchedulerTicks.WithLabelValues("processing").Inc()
	emails, err := s.emails.ListDispatchable(ctx, s.poolSize*4)
	if err != nil {
		log.Printf("scheduler: list dispatchable emails: %v", err)
		return
	}

	sem := make(chan struct{}, s.poolSize)
	var wg sync.WaitGroup
	for _, email := range emails {
		email := email
		lockKey := "email:" + email.ID
		ok, err := s.locker.TryLock(ctx, lockKey, s.workflowTimeout)
		if err != nil {
			log.Printf("scheduler: acquire workflow lock for %s: %v", email.ID, err)
			continue
		}
		if !ok {
			metrics.LockContention.WithLabelValues("workflow").Inc()
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if err := s.locker.Unlock(context.Background(), lockKey); err != nil {
					log.Printf("scheduler: release workflow lock %s: %v", lockKey, err)
				}
			}()
			metrics.EmailsDispatched.Inc()
			if err := s.engine.Run(ctx, email.ID, workflow.RunOptions{}); err != nil {
				log.Printf("scheduler: workflow run failed for %s: %v", email.ID, err)
			}
		}()
	}
	wg.Wait()
}

// reapStuck is job 3 (spec §4.6 item 3): blanket-reset rows stuck in a
// *_PROCESSING state past the timeout back to FETCHED.
func (s *Scheduler) reapStuck(ctx context.Context, now time.Time) {
	metrics.SchedulerTicks.WithLabelValues("reaper").Inc()
	cutoff := now.Add(-s.stuckTimeout).Unix()
	stuck, err := s.emails.ListStuck(ctx, cutoff)
	if err != nil {
		log.Printf("scheduler: list stuck emails: %v", err)
		return
	}
	for _, email := range stuck {
		if err := s.emails.ResetStuck(ctx, email.ID); err != nil {
			log.Printf("scheduler: reset stuck email %s: %v", email.ID, err)
			continue
		}
		metrics.StuckEmailsReaped.Inc()
	}
}

// renewCredits is job 4 (spec §4.3 "Periodic renewal", §4.6 item 4).
func (s *Scheduler) renewCredits(ctx context.Context, now time.Time) {
	metrics.SchedulerTicks.WithLabelValues("credit_renewal").Inc()
	due, err := s.creditsStore.ListDueForRenewal(ctx, now)
	if err != nil {
		log.Printf("scheduler: list credits due for renewal: %v", err)
		return
	}
	for _, uc := range due {
		if uc.SubscriptionID == nil {
			continue
		}
		sub, err := s.creditsStore.GetSubscription(ctx, *uc.SubscriptionID)
		if err != nil || sub.Status != models.SubscriptionStatusActive {
			continue
		}
		plan, err := s.creditsStore.GetPlan(ctx, sub.PlanID)
		if err != nil {
			continue
		}
		planCredits, periodDays := planRenewalTerms(plan)
		if err := s.ledger.ResetPeriod(ctx, uc.UserID, planCredits, periodDays); err != nil {
			log.Printf("scheduler: reset period for %s: %v", uc.UserID, err)
		}
	}
}

func planRenewalTerms(plan *models.Plan) (credits int64, periodDays int) {
	periodDays = 30
	if v, ok := plan.Metadata["credits_per_period"]; ok {
		if f, ok := v.(float64); ok {
			credits = int64(f)
		}
	}
	if v, ok := plan.Metadata["period_days"]; ok {
		if f, ok := v.(float64); ok && f > 0 {
			periodDays = int(f)
		}
	}
	return credits, periodDays
}

// downgradePastDue is job 5 (spec §4.3 downgrade job, §4.6 item 5): past_due
// subscriptions older than the grace period are cancelled and replaced with
// a free plan subscription.
func (s *Scheduler) downgradePastDue(ctx context.Context, now time.Time) {
	metrics.SchedulerTicks.WithLabelValues("downgrade").Inc()
	if s.freePlanID == "" {
		return
	}
	cutoff := now.Add(-s.downgradeGrace)
	pastDue, err := s.creditsStore.ListPastDue(ctx, cutoff)
	if err != nil {
		log.Printf("scheduler: list past due subscriptions: %v", err)
		return
	}
	for _, sub := range pastDue {
		if err := s.creditsStore.CancelSubscription(ctx, sub.ID); err != nil {
			log.Printf("scheduler: cancel subscription %s: %v", sub.ID, err)
			continue
		}
		freeSub := &models.Subscription{
			ID:     uuid.NewString(),
			UserID: sub.UserID,
			PlanID: s.freePlanID,
			Status: models.SubscriptionStatusActive,
		}
		if err := s.creditsStore.CreateSubscription(ctx, freeSub); err != nil {
			log.Printf("scheduler: create free subscription for %s: %v", sub.UserID, err)
			continue
		}
		if err := s.creditsStore.LinkSubscription(ctx, sub.UserID, freeSub.ID); err != nil {
			log.Printf("scheduler: link free subscription for %s: %v", sub.UserID, err)
		}
	}
}
