package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brokerdesk/backoffice/pkg/cache"
)

const (
	// DefaultProgressTTL is how long a progress record survives after its last write.
	DefaultProgressTTL = 30 * time.Minute
	progressKeyPrefix  = "provisioning:progress:"
	maxProgressKeyLen  = 128
)

// ProgressStatus is the run status. completed and failed are terminal.
type ProgressStatus string

const (
	StatusRunning   ProgressStatus = "running"
	StatusCompleted ProgressStatus = "completed"
	StatusFailed    ProgressStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s ProgressStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Step result statuses.
const (
	StepCompleted          = "completed"
	StepFailed             = "failed"
	StepCompensated        = "compensated"
	StepCompensationFailed = "compensation_failed"
)

// StepResult is one entry of the progress log.
type StepResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressRecord is the polled state of one provisioning run.
type ProgressRecord struct {
	ProgressKey     string         `json:"progress_key"`
	Status          ProgressStatus `json:"status"`
	CurrentStep     int            `json:"current_step"`
	CurrentStepName string         `json:"current_step_name,omitempty"`
	TotalSteps      int            `json:"total_steps"`
	Percentage      int            `json:"percentage"`
	Steps           []StepResult   `json:"steps"`
	Rollback        []StepResult   `json:"rollback,omitempty"`
	TenantID        *uuid.UUID     `json:"tenant_id,omitempty"`
	FailedStep      string         `json:"failed_step,omitempty"`
	Error           string         `json:"error,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (r *ProgressRecord) completedSteps() int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == StepCompleted {
			n++
		}
	}
	return n
}

func progressCacheKey(key string) string { return progressKeyPrefix + key }

// Publisher is notified with the encoded record after every write.
type Publisher interface {
	PublishProgress(ctx context.Context, key string, payload []byte) error
}

// Tracker writes progress records for the orchestrator.
type Tracker struct {
	store     cache.Store
	ttl       time.Duration
	publisher Publisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewTracker creates a tracker. publisher may be nil.
func NewTracker(store cache.Store, ttl time.Duration, publisher Publisher, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	return &Tracker{store: store, ttl: ttl, publisher: publisher, now: time.Now, logger: logger}
}

// Start claims key and writes the initial running record.
func (t *Tracker) Start(ctx context.Context, key string, totalSteps int) (*ProgressRecord, error) {
	now := t.now().UTC()
	rec := &ProgressRecord{
		ProgressKey: key,
		Status:      StatusRunning,
		TotalSteps:  totalSteps,
		Steps:       []StepResult{},
		StartedAt:   now,
		UpdatedAt:   now,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode progress: %w", err)
	}
	ok, err := t.store.SetNX(ctx, progressCacheKey(key), raw, t.ttl)
	if err != nil {
		return nil, fmt.Errorf("start progress: %w", err)
	}
	if !ok {
		return nil, ErrProgressKeyInUse
	}
	t.publish(ctx, key, raw)
	return rec, nil
}

// BeginStep marks step index (1-based) as current.
func (t *Tracker) BeginStep(ctx context.Context, rec *ProgressRecord, index int, name string) error {
	if rec.Status.Terminal() {
		return ErrProgressFinalized
	}
	rec.CurrentStep = index
	rec.CurrentStepName = name
	return t.save(ctx, rec)
}

// CompleteStep appends a completed entry and recomputes the percentage.
func (t *Tracker) CompleteStep(ctx context.Context, rec *ProgressRecord, name, message string) error {
	if rec.Status.Terminal() {
		return ErrProgressFinalized
	}
	rec.Steps = append(rec.Steps, StepResult{Name: name, Status: StepCompleted, Message: message, Timestamp: t.now().UTC()})
	if rec.TotalSteps > 0 {
		pct := rec.completedSteps() * 100 / rec.TotalSteps
		if pct > rec.Percentage {
			rec.Percentage = pct
		}
	}
	return t.save(ctx, rec)
}

// FailStep appends the failed entry. The record stays running until Fail.
func (t *Tracker) FailStep(ctx context.Context, rec *ProgressRecord, name string, cause error) error {
	if rec.Status.Terminal() {
		return ErrProgressFinalized
	}
	rec.Steps = append(rec.Steps, StepResult{Name: name, Status: StepFailed, Message: cause.Error(), Timestamp: t.now().UTC()})
	rec.FailedStep = name
	rec.Error = cause.Error()
	return t.save(ctx, rec)
}

// Fail finalizes the record as failed with the rollback log.
func (t *Tracker) Fail(ctx context.Context, rec *ProgressRecord, rollback []StepResult) error {
	if rec.Status.Terminal() {
		return ErrProgressFinalized
	}
	rec.Rollback = rollback
	rec.Status = StatusFailed
	return t.save(ctx, rec)
}

// Complete finalizes the record as completed at 100 percent.
func (t *Tracker) Complete(ctx context.Context, rec *ProgressRecord, tenantID uuid.UUID) error {
	if rec.Status.Terminal() {
		return ErrProgressFinalized
	}
	rec.Status = StatusCompleted
	rec.Percentage = 100
	rec.TenantID = &tenantID
	return t.save(ctx, rec)
}

func (t *Tracker) save(ctx context.Context, rec *ProgressRecord) error {
	rec.UpdatedAt = t.now().UTC()
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := t.store.Set(ctx, progressCacheKey(rec.ProgressKey), raw, t.ttl); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	t.publish(ctx, rec.ProgressKey, raw)
	return nil
}

func (t *Tracker) publish(ctx context.Context, key string, raw []byte) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.PublishProgress(ctx, key, raw); err != nil {
		t.logger.Warn("publish progress failed", zap.String("progress_key", key), zap.Error(err))
	}
}

// Reporter is the read-only side of the progress store.
type Reporter struct {
	store cache.Store
}

// NewReporter creates a reporter over the same store the tracker writes to.
func NewReporter(store cache.Store) *Reporter {
	return &Reporter{store: store}
}

// Get returns the last written record for key.
func (r *Reporter) Get(ctx context.Context, key string) (*ProgressRecord, error) {
	if key == "" {
		return nil, ErrProgressKeyRequired
	}
	raw, err := r.store.Get(ctx, progressCacheKey(key))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, ErrProgressNotFound
		}
		return nil, fmt.Errorf("read progress: %w", err)
	}
	var rec ProgressRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	return &rec, nil
}
