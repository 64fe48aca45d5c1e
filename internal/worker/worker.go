// Package worker consumes notification jobs and runs the periodic usage scan.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/textproto"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brokerdesk/backoffice/internal/notifications"
	"github.com/brokerdesk/backoffice/internal/usage"
	"github.com/brokerdesk/backoffice/pkg/queue"
)

// JobQueue is the part of queue.Queue the email processor uses.
type JobQueue interface {
	Dequeue(ctx context.Context, queues ...string) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job, cause error) (bool, error)
}

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, msg notifications.Message) error
}

// DeliveryStore records the outcome on the notification log row.
type DeliveryStore interface {
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// errMalformedJob marks jobs that can never succeed; they are failed without retry.
var errMalformedJob = errors.New("malformed job")

// EmailProcessor delivers queued emails and updates their notification logs.
type EmailProcessor struct {
	queue      JobQueue
	sender     Sender
	logs       DeliveryStore
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewEmailProcessor creates an email job processor.
func NewEmailProcessor(q JobQueue, sender Sender, logs DeliveryStore, logger *zap.Logger) *EmailProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailProcessor{queue: q, sender: sender, logs: logs, retryDelay: queue.RetryBackoff, logger: logger}
}

// Process delivers one email job.
func (p *EmailProcessor) Process(ctx context.Context, job *queue.Job) (*queue.EmailPayload, error) {
	if job.Type != queue.JobTypeEmail {
		return nil, fmt.Errorf("%w: unknown job type %q", errMalformedJob, job.Type)
	}
	var payload queue.EmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedJob, err)
	}
	err := p.sender.Send(ctx, notifications.Message{
		To:      payload.RecipientEmail,
		ToName:  payload.RecipientName,
		Subject: payload.Subject,
		Body:    payload.BodyText,
	})
	if err != nil {
		return &payload, err
	}
	if err := p.logs.MarkSent(ctx, payload.NotificationID); err != nil {
		p.logger.Warn("mark notification sent failed", zap.String("notification_id", payload.NotificationID.String()), zap.Error(err))
	}
	p.logger.Info("email delivered",
		zap.String("notification_id", payload.NotificationID.String()),
		zap.String("type", payload.NotificationType),
		zap.String("tenant_id", payload.TenantID.String()),
	)
	return &payload, nil
}

// Handle processes job and retries or dead-letters it on failure.
// It reports whether the caller should pause before the next dequeue.
func (p *EmailProcessor) Handle(ctx context.Context, job *queue.Job) bool {
	payload, err := p.Process(ctx, job)
	if err == nil {
		return false
	}
	p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))

	if permanent(err) {
		p.markFailed(ctx, payload, err)
		return false
	}
	dead, reErr := p.queue.Retry(ctx, job, err)
	if reErr != nil {
		p.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(reErr))
		p.markFailed(ctx, payload, err)
		return true
	}
	if dead {
		p.markFailed(ctx, payload, err)
	}
	return true
}

// permanent reports failures that a later attempt cannot fix: malformed jobs,
// a missing SMTP host, and 5xx SMTP replies.
func permanent(err error) bool {
	if errors.Is(err, errMalformedJob) || errors.Is(err, notifications.ErrMailerNotConfigured) {
		return true
	}
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code >= 500
}

func (p *EmailProcessor) markFailed(ctx context.Context, payload *queue.EmailPayload, cause error) {
	if payload == nil || payload.NotificationID == uuid.Nil {
		return
	}
	if err := p.logs.MarkFailed(ctx, payload.NotificationID, cause.Error()); err != nil {
		p.logger.Warn("mark notification failed failed", zap.String("notification_id", payload.NotificationID.String()), zap.Error(err))
	}
}

// Run dequeues and processes email jobs until ctx is cancelled.
func (p *EmailProcessor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("email worker stopping")
			return
		}
		job, err := p.queue.Dequeue(ctx, queue.QueueEmails)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.pause(ctx)
			continue
		}
		if job == nil {
			continue
		}
		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if p.Handle(ctx, job) {
			p.pause(ctx)
		}
	}
}

func (p *EmailProcessor) pause(ctx context.Context) {
	t := time.NewTimer(p.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// UsageRunner runs one usage scan.
type UsageRunner interface {
	Run(ctx context.Context) (usage.Summary, error)
}

// UsageScanner runs the usage-alert checker on a fixed interval.
type UsageScanner struct {
	checker  UsageRunner
	interval time.Duration
	logger   *zap.Logger
}

// NewUsageScanner creates a scanner. A non-positive interval means hourly.
func NewUsageScanner(checker UsageRunner, interval time.Duration, logger *zap.Logger) *UsageScanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &UsageScanner{checker: checker, interval: interval, logger: logger}
}

// Run scans once immediately and then on every tick until ctx is cancelled.
func (s *UsageScanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.scan(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("usage scanner stopping")
			return
		case <-ticker.C:
		}
	}
}

func (s *UsageScanner) scan(ctx context.Context) {
	start := time.Now()
	sum, err := s.checker.Run(ctx)
	if err != nil {
		s.logger.Error("usage scan failed", zap.Error(err))
		return
	}
	s.logger.Info("usage scan finished",
		zap.Int("tenants", sum.Tenants),
		zap.Int("new_alerts", sum.NewAlerts),
		zap.Int("emails", sum.Emails),
		zap.Int("errors", sum.Errors),
		zap.Duration("took", time.Since(start)),
	)
}
