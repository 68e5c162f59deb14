package urgency

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func TestTierFor_Boundaries(t *testing.T) {
	cases := []struct {
		name      string
		remaining time.Duration
		want      Tier
	}{
		{"exactly 24h", 24 * time.Hour, TierWarning},
		{"24h minus one second", 24*time.Hour - time.Second, TierCritical},
		{"exactly 48h", 48 * time.Hour, TierNormal},
		{"48h minus one second", 48*time.Hour - time.Second, TierWarning},
		{"zero", 0, TierCritical},
		{"overdue", -5 * time.Hour, TierCritical},
		{"full 72h", 72 * time.Hour, TierNormal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, TierFor(tc.remaining))
		})
	}
}

func TestEvaluate_DeclaredClassEscalates(t *testing.T) {
	status, err := Evaluate(t0, domain.SLAClass72h, t0.Add(49*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, TierCritical, status.Tier)
	assert.Equal(t, 23*time.Hour, status.Remaining)
	assert.Equal(t, t0.Add(72*time.Hour), status.Deadline)
	assert.False(t, status.Overdue)
	assert.Equal(t, "23:00:00", status.Countdown)
}

func TestEvaluate_SameRemainingSameTier(t *testing.T) {
	now := t0.Add(100 * time.Hour)
	// Both have 30h left at now.
	a, err := Evaluate(now.Add(-42*time.Hour), domain.SLAClass72h, now)
	require.NoError(t, err)
	b, err := Evaluate(now.Add(-18*time.Hour), domain.SLAClass48h, now)
	require.NoError(t, err)

	assert.Equal(t, a.Remaining, b.Remaining)
	assert.Equal(t, TierWarning, a.Tier)
	assert.Equal(t, a.Tier, b.Tier)
}

func TestEvaluate_Overdue(t *testing.T) {
	status, err := Evaluate(t0, domain.SLAClass24h, t0.Add(30*time.Hour))
	require.NoError(t, err)

	assert.True(t, status.Overdue)
	assert.Equal(t, time.Duration(0), status.Remaining)
	assert.Equal(t, TierCritical, status.Tier)
	assert.Equal(t, "00:00:00", status.Countdown)
}

func TestEvaluate_ExactDeadlineIsOverdue(t *testing.T) {
	status, err := Evaluate(t0, domain.SLAClass48h, t0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.True(t, status.Overdue)
}

func TestEvaluate_BoundaryAt24hRemaining(t *testing.T) {
	status, err := Evaluate(t0, domain.SLAClass48h, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, TierWarning, status.Tier)
	assert.Equal(t, "24:00:00", status.Countdown)

	status, err = Evaluate(t0, domain.SLAClass48h, t0.Add(24*time.Hour+time.Second))
	require.NoError(t, err)
	assert.Equal(t, TierCritical, status.Tier)
	assert.Equal(t, "23:59:59", status.Countdown)
}

func TestEvaluate_UnknownClass(t *testing.T) {
	_, err := Evaluate(t0, domain.SLAClass("12h"), t0)
	assert.Error(t, err)
}

func TestFormatCountdown(t *testing.T) {
	assert.Equal(t, "72:00:00", FormatCountdown(72*time.Hour))
	assert.Equal(t, "01:02:03", FormatCountdown(time.Hour+2*time.Minute+3*time.Second+900*time.Millisecond))
	assert.Equal(t, "00:00:00", FormatCountdown(-time.Minute))
}

func TestEvaluate_ConcurrentCallsAgree(t *testing.T) {
	now := t0.Add(10 * time.Hour)
	want, err := Evaluate(t0, domain.SLAClass72h, now)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]Status, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = Evaluate(t0, domain.SLAClass72h, now)
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

func TestEvaluateRequest_WithClocks(t *testing.T) {
	req := &domain.PickupRequest{CreatedAt: t0, SLAClass: domain.SLAClass48h}

	var clock Clock = FixedClock(t0.Add(30 * time.Hour))
	status, err := EvaluateRequest(req, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 18*time.Hour, status.Remaining)
	assert.Equal(t, TierCritical, status.Tier)
	assert.Equal(t, "18:00:00", status.Countdown)
	assert.Equal(t, clock.Now(), clock.Now())

	live, err := EvaluateRequest(req, SystemClock{}.Now())
	require.NoError(t, err)
	assert.True(t, live.Overdue)
}
