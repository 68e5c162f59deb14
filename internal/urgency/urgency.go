// Package urgency derives the SLA deadline and current urgency tier of a
// pickup request from its creation time and declared SLA class.
//
// Nothing here is stored. The tier of a request changes as wall-clock time
// passes, so callers evaluate it on every read.
package urgency

import (
	"fmt"
	"time"

	"dispatch/internal/domain"
)

// Tier is the current urgency bucket of an open request. Tier values share
// their names with SLA classes but are independent of the declared class.
type Tier string

const (
	TierCritical Tier = "24h"
	TierWarning  Tier = "48h"
	TierNormal   Tier = "72h"
)

// IsValid reports whether t is a known tier.
func (t Tier) IsValid() bool {
	return t == TierCritical || t == TierWarning || t == TierNormal
}

const (
	criticalThreshold = 24 * time.Hour
	warningThreshold  = 48 * time.Hour
)

// Status is the urgency of a request at a specific instant.
type Status struct {
	Deadline  time.Time
	Remaining time.Duration
	Overdue   bool
	Tier      Tier
	Countdown string
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock time.Time

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return time.Time(c) }

// Window returns the total SLA window of a class.
func Window(class domain.SLAClass) (time.Duration, error) {
	switch class {
	case domain.SLAClass24h:
		return 24 * time.Hour, nil
	case domain.SLAClass48h:
		return 48 * time.Hour, nil
	case domain.SLAClass72h:
		return 72 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown sla class %q", class)
	}
}

// Deadline returns createdAt plus the SLA window of class.
func Deadline(createdAt time.Time, class domain.SLAClass) (time.Time, error) {
	window, err := Window(class)
	if err != nil {
		return time.Time{}, err
	}
	return createdAt.Add(window), nil
}

// TierFor buckets a remaining duration. Each tier includes its lower bound:
// exactly 24h remaining is a warning, one second less is critical.
func TierFor(remaining time.Duration) Tier {
	switch {
	case remaining < criticalThreshold:
		return TierCritical
	case remaining < warningThreshold:
		return TierWarning
	default:
		return TierNormal
	}
}

// Evaluate computes the urgency of a request created at createdAt with the
// given class, as observed at now.
func Evaluate(createdAt time.Time, class domain.SLAClass, now time.Time) (Status, error) {
	deadline, err := Deadline(createdAt, class)
	if err != nil {
		return Status{}, err
	}
	remaining := deadline.Sub(now)
	status := Status{
		Deadline: deadline,
		Tier:     TierFor(remaining),
	}
	if remaining <= 0 {
		status.Overdue = true
		remaining = 0
	}
	status.Remaining = remaining
	status.Countdown = FormatCountdown(remaining)
	return status, nil
}

// EvaluateRequest is Evaluate applied to a request.
func EvaluateRequest(req *domain.PickupRequest, now time.Time) (Status, error) {
	return Evaluate(req.CreatedAt, req.SLAClass, now)
}

// FormatCountdown renders d as HH:MM:SS, truncated to whole seconds.
// Hours are not wrapped, so a 72h window renders as 72:00:00.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
