package service

import (
	"context"
	"fmt"
	"time"

	"dispatch/internal/logger"
	"dispatch/internal/metrics"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

const (
	sweepLockName = "integrity-sweep"

	// DefaultSweepLockTTL bounds how long a crashed sweeper blocks the others.
	DefaultSweepLockTTL = 2 * time.Minute
)

// IntegrityAuditor detects requests with more than one active assignment.
// It only reports; repairing data is an operator decision.
type IntegrityAuditor struct {
	assignments repository.AssignmentRepository
	members     repository.MemberRepository
	lockStore   redis.LockStoreInterface
	lockTTL     time.Duration
	logger      *logger.Logger
	metrics     *metrics.DispatchMetrics
}

// NewIntegrityAuditor creates a new IntegrityAuditor. lockStore may be nil
// when only one instance runs sweeps.
func NewIntegrityAuditor(deps Deps, lockStore redis.LockStoreInterface, lockTTL time.Duration) *IntegrityAuditor {
	deps = deps.withDefaults()
	if lockTTL <= 0 {
		lockTTL = DefaultSweepLockTTL
	}
	return &IntegrityAuditor{
		assignments: deps.Assignments,
		members:     deps.Members,
		lockStore:   lockStore,
		lockTTL:     lockTTL,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
	}
}

// SweepResult lists, per tenant, the requests found with duplicate active rows.
type SweepResult struct {
	Skipped    bool
	Violations map[string][]string
}

// Sweep scans every tenant once. It is skipped when another instance holds the sweep lock.
func (a *IntegrityAuditor) Sweep(ctx context.Context) (*SweepResult, error) {
	if a.lockStore != nil {
		lock, err := a.lockStore.AcquireLock(ctx, sweepLockName, a.lockTTL)
		if err != nil {
			return nil, err
		}
		if lock == nil {
			return &SweepResult{Skipped: true}, nil
		}
		defer func() {
			if err := a.lockStore.ReleaseLock(context.WithoutCancel(ctx), lock); err != nil {
				a.logger.Warn(a.logger.WithField(ctx, "error", err.Error()), "failed to release sweep lock")
			}
		}()
	}

	tenants, err := a.members.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	result := &SweepResult{Violations: make(map[string][]string)}
	for _, tenantID := range tenants {
		dupes, err := a.assignments.FindDuplicateActive(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant %s: %w", tenantID, err)
		}
		for _, requestID := range dupes {
			a.alert(ctx, tenantID, requestID)
		}
		if len(dupes) > 0 {
			result.Violations[tenantID] = dupes
		}
	}
	return result, nil
}

// CheckRequest verifies a single request after a write. Safe on a nil auditor.
func (a *IntegrityAuditor) CheckRequest(ctx context.Context, tenantID, requestID string) {
	if a == nil {
		return
	}
	history, err := a.assignments.History(ctx, requestID)
	if err != nil {
		a.logger.Warn(a.logger.WithField(ctx, "request_id", requestID), "integrity check skipped")
		return
	}
	active := 0
	for _, row := range history {
		if row.IsActive() {
			active++
		}
	}
	if active > 1 {
		a.alert(ctx, tenantID, requestID)
	}
}

func (a *IntegrityAuditor) alert(ctx context.Context, tenantID, requestID string) {
	a.metrics.IncIntegrityAlert()
	a.logger.Error(a.logger.WithFields(ctx, map[string]any{
		"alert":      "data_integrity",
		"tenant_id":  tenantID,
		"request_id": requestID,
	}), "request has more than one active assignment", nil)
}

// Run sweeps on every tick until ctx is done.
func (a *IntegrityAuditor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			result, err := a.Sweep(ctx)
			if err != nil {
				a.logger.Error(ctx, "integrity sweep failed", err)
				continue
			}
			if !result.Skipped {
				a.logger.Debug(a.logger.WithField(ctx, "violating_tenants", len(result.Violations)), "integrity sweep finished")
			}
		}
	}
}
