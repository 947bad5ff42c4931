package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/replypilot/tracker-api/internal/config"
	"github.com/replypilot/tracker-api/internal/health"
	"github.com/replypilot/tracker-api/internal/matcher"
	"github.com/replypilot/tracker-api/internal/model"
	"github.com/replypilot/tracker-api/internal/provider"
	"github.com/replypilot/tracker-api/internal/repository"
	"github.com/replypilot/tracker-api/internal/tracking"
	"github.com/replypilot/tracker-api/pkg/circuitbreaker"
	"github.com/replypilot/tracker-api/pkg/logger"
	"github.com/replypilot/tracker-api/pkg/metrics"
)

// Worker pulls batches of claimed jobs from the durable queue and runs each
// through the change-detection pipeline: fetch the changed message from the
// provider, match it against open tracked emails, and apply the resulting
// state transition.
type Worker struct {
	repo    repository.QueueRepository
	client  *provider.Client
	matcher *matcher.Matcher
	tracker *tracking.Service
	cfg     config.QueueConfig
	breaker *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
	metrics *metrics.Metrics
	monitor *health.Monitor

	// candidates caches the open tracked-email set per account between
	// jobs; entries expire so a freshly started tracking is picked up
	// within the TTL.
	candidates *cache.Cache

	sem chan struct{}
	wg  sync.WaitGroup
}

func NewWorker(
	repo repository.QueueRepository,
	client *provider.Client,
	m *matcher.Matcher,
	tracker *tracking.Service,
	cfg config.QueueConfig,
	candidateTTL time.Duration,
	log *logger.Logger,
	met *metrics.Metrics,
	mon *health.Monitor,
) *Worker {
	if cfg.MaxConcurrent <= 0 {
		panic("MaxConcurrent must be greater than 0")
	}
	if cfg.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}

	return &Worker{
		repo:    repo,
		client:  client,
		matcher: m,
		tracker: tracker,
		cfg:     cfg,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "queue-worker",
			MaxFailures: cfg.BreakerTrips,
			Timeout:     cfg.BreakerCooldown,
		}),
		logger:     log,
		metrics:    met,
		monitor:    mon,
		candidates: cache.New(candidateTTL, 2*candidateTTL),
		sem:        make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Start runs the dispatch loop until the context is cancelled. In-flight
// jobs are drained before returning; jobs left processing by a crash are
// reclaimed on later passes.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.Info("starting queue worker",
		"max_concurrent", w.cfg.MaxConcurrent,
		"poll_interval", w.cfg.PollInterval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("queue worker shutting down, draining in-flight jobs")
			w.wg.Wait()
			return
		case <-ticker.C:
			if err := w.dispatch(ctx); err != nil {
				w.logger.Error(err, "dispatch pass failed")
			}
		}
	}
}

func (w *Worker) dispatch(ctx context.Context) error {
	// Paused while the breaker cools down; jobs stay queued.
	if !w.breaker.Allow() {
		w.logger.Warn("circuit breaker open, pausing dispatch")
		return nil
	}

	reclaimed, err := w.repo.ReclaimStale(ctx, w.cfg.StaleTimeout)
	if err != nil {
		w.logger.Error(err, "failed to reclaim stale jobs")
	} else if reclaimed > 0 {
		w.metrics.JobsReclaimed.Add(float64(reclaimed))
		w.logger.Warn("reclaimed stale jobs", "count", reclaimed)
	}

	free := w.cfg.MaxConcurrent - len(w.sem)
	if free <= 0 {
		return nil
	}

	jobs, err := w.repo.ClaimPending(ctx, free)
	if err != nil {
		return fmt.Errorf("failed to claim jobs: %w", err)
	}

	if counts, err := w.repo.CountByStatus(ctx); err == nil {
		w.metrics.QueueDepth.Set(float64(counts[model.JobStatusPending] + counts[model.JobStatusFailed]))
	}

	for _, job := range jobs {
		w.sem <- struct{}{}
		w.wg.Add(1)
		go func(job *model.QueueJob) {
			defer func() {
				<-w.sem
				w.wg.Done()
			}()
			w.runJob(ctx, job)
		}(job)
	}
	return nil
}

func (w *Worker) runJob(ctx context.Context, job *model.QueueJob) {
	timer := prometheus.NewTimer(w.metrics.ProcessingLatency)
	defer timer.ObserveDuration()

	err := w.process(ctx, job)
	switch {
	case err == nil:
		w.breaker.RecordSuccess()
		w.recordOutcome(true)
		w.metrics.JobsProcessed.Inc()
		if markErr := w.repo.MarkCompleted(ctx, job.ID); markErr != nil {
			w.logger.Error(markErr, "failed to mark job completed", "job_id", job.ID.String())
		}

	case provider.IsRateLimited(err):
		// Not a provider failure; reschedule for when the window resets.
		// Backpressure is not an error outcome for health purposes either.
		var rl *provider.RateLimitedError
		errors.As(err, &rl)
		w.retryOrBury(ctx, job, rl.ResetAt, err, "rate_limited")

	case provider.IsPermanent(err):
		w.breaker.RecordFailure()
		w.recordOutcome(false)
		w.metrics.JobsFailed.Inc()
		w.bury(ctx, job, err)

	default:
		w.breaker.RecordFailure()
		w.recordOutcome(false)
		w.metrics.JobsFailed.Inc()
		w.retryOrBury(ctx, job, w.nextAttempt(job), err, "transient")
	}
}

func (w *Worker) recordOutcome(ok bool) {
	if w.monitor != nil {
		w.monitor.RecordOutcome(ok)
	}
}

// process is the per-job pipeline: decode, fetch, match, transition.
func (w *Worker) process(ctx context.Context, job *model.QueueJob) error {
	var notification model.ChangeNotification
	if err := json.Unmarshal(job.Payload, &notification); err != nil {
		// Undecodable payloads can never succeed.
		return &provider.PermanentError{Operation: "decode_notification", Err: err}
	}

	messageID := notification.MessageID()
	if messageID == "" {
		// Nothing to fetch; the notification was observed and ignored.
		return nil
	}

	msg, err := w.client.GetMessage(ctx, job.AccountID, messageID)
	if err != nil {
		return err
	}
	if msg.IsDraft {
		return nil
	}

	candidates, err := w.openEmails(ctx, job.AccountID)
	if err != nil {
		return fmt.Errorf("failed to load candidate emails: %w", err)
	}

	result := w.matcher.Match(msg, candidates)
	if result == nil {
		// Below threshold is "no match found", a successful outcome.
		w.metrics.MatchesRejected.Inc()
		return nil
	}
	w.metrics.MatchesAccepted.Inc()

	triggerTransition := !result.IsAutoReply || w.matcher.CountAutoReplies()
	resp := &model.EmailResponse{
		TrackedEmailID:    result.TrackedEmailID,
		ProviderMessageID: msg.ID,
		SenderAddress:     msg.From,
		ReceivedAt:        msg.ReceivedAt,
		IsAutoReply:       result.IsAutoReply,
		Confidence:        result.Confidence,
	}

	err = w.tracker.RecordReply(ctx, result.TrackedEmailID, resp, triggerTransition)
	var invalid *tracking.ErrInvalidTransition
	if errors.As(err, &invalid) {
		// The event was observed and deliberately ignored.
		w.logger.Warn("dropping event with invalid transition",
			"job_id", job.ID.String(),
			"tracked_email_id", result.TrackedEmailID.String(),
			"error", invalid.Error())
		return nil
	}
	if err != nil {
		return err
	}

	w.candidates.Delete(job.AccountID.String())
	return nil
}

func (w *Worker) openEmails(ctx context.Context, accountID uuid.UUID) ([]*model.TrackedEmail, error) {
	if cached, found := w.candidates.Get(accountID.String()); found {
		return cached.([]*model.TrackedEmail), nil
	}
	emails, err := w.tracker.OpenEmailsForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	w.candidates.Set(accountID.String(), emails, cache.DefaultExpiration)
	return emails, nil
}

func (w *Worker) retryOrBury(ctx context.Context, job *model.QueueJob, scheduledFor time.Time, cause error, reason string) {
	if job.RetriesExhausted() {
		w.bury(ctx, job, cause)
		return
	}

	w.metrics.JobRetries.WithLabelValues(reason).Inc()
	if err := w.repo.MarkForRetry(ctx, job.ID, scheduledFor, cause.Error()); err != nil {
		w.logger.Error(err, "failed to mark job for retry", "job_id", job.ID.String())
	}
}

func (w *Worker) bury(ctx context.Context, job *model.QueueJob, cause error) {
	w.metrics.JobsDeadLettered.Inc()
	w.logger.Error(cause, "job moved to dead letter",
		"job_id", job.ID.String(),
		"retry_count", job.RetryCount)
	if err := w.repo.MoveToDeadLetter(ctx, job.ID, cause.Error()); err != nil {
		w.logger.Error(err, "failed to dead-letter job", "job_id", job.ID.String())
	}
}

func (w *Worker) nextAttempt(job *model.QueueJob) time.Time {
	return time.Now().Add(backoffDelay(w.cfg.BackoffBase, w.cfg.BackoffCap, job.RetryCount))
}

// backoffDelay computes exponential backoff with jitter: base*2^retries
// plus up to 25% random spread, bounded by the configured cap.
func backoffDelay(base, cap time.Duration, retryCount int) time.Duration {
	backoff := base << uint(retryCount)
	if backoff > cap || backoff <= 0 {
		backoff = cap
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/4 + 1))
	if backoff+jitter > cap {
		return cap
	}
	return backoff + jitter
}
