package lease

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaStateAllowsUpToBurstLimit(t *testing.T) {
	cfg := DefaultQuotaConfig()
	cfg.SendsPerMinute = 1000
	cfg.TokensPerHour = 1000
	q := NewQuotaState(cfg)
	now := time.Now()

	for i := 0; i < cfg.BurstSends; i++ {
		require.NoError(t, q.Consume(now, ""))
	}
	err := q.Consume(now, "")
	assert.Error(t, err)
}

func TestQuotaStateEnforcesPerMinuteGlobalLimit(t *testing.T) {
	cfg := DefaultQuotaConfig()
	cfg.BurstSends = 1000
	cfg.TokensPerHour = 1000
	q := NewQuotaState(cfg)
	now := time.Now()

	for i := 0; i < cfg.SendsPerMinute; i++ {
		require.NoError(t, q.Consume(now, ""))
	}
	assert.Error(t, q.Consume(now, ""))
}

func TestQuotaStateEnforcesPerEidLimit(t *testing.T) {
	cfg := DefaultQuotaConfig()
	cfg.BurstSends = 1000
	cfg.TokensPerHour = 1000
	cfg.SendsPerMinute = 1000
	q := NewQuotaState(cfg)
	now := time.Now()

	for i := 0; i < cfg.SendsPerMinutePerEid; i++ {
		require.NoError(t, q.Consume(now, "e1"))
	}
	assert.Error(t, q.Consume(now, "e1"))
	assert.NoError(t, q.Consume(now, "e2"))
}

func TestQuotaStateEnforcesHourlyLimit(t *testing.T) {
	cfg := DefaultQuotaConfig()
	cfg.BurstSends = 1000
	cfg.SendsPerMinute = 1000
	q := NewQuotaState(cfg)

	base := time.Now()
	// 30s spacing keeps every send outside the 10s burst window while
	// keeping the whole run inside the 1h sliding window.
	for i := 0; i < cfg.TokensPerHour; i++ {
		now := base.Add(time.Duration(i) * 30 * time.Second)
		require.NoError(t, q.Consume(now, ""))
	}
	last := base.Add(time.Duration(cfg.TokensPerHour) * 30 * time.Second)
	assert.Error(t, q.Consume(last, ""))
}
