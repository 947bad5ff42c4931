package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Queue.MaxRetries)
	assert.Equal(t, 10, cfg.Queue.MaxConcurrent)
	assert.Equal(t, 5*time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, time.Second, cfg.Queue.BackoffBase)
	assert.Equal(t, 60*time.Second, cfg.Queue.BackoffCap)
	assert.Equal(t, 5*time.Minute, cfg.Queue.StaleTimeout)

	assert.Equal(t, 72, cfg.Subscription.ExpirationHours)
	assert.Equal(t, 48*time.Hour, cfg.Subscription.RenewalThreshold)
	assert.Equal(t, 5, cfg.Subscription.MaxFailures)

	assert.InDelta(t, 0.35, cfg.Matcher.SubjectWeight, 0.0001)
	assert.InDelta(t, 0.30, cfg.Matcher.RecipientWeight, 0.0001)
	assert.InDelta(t, 0.20, cfg.Matcher.TimeWeight, 0.0001)
	assert.InDelta(t, 0.15, cfg.Matcher.ThreadWeight, 0.0001)
	assert.InDelta(t, 0.8, cfg.Matcher.Threshold, 0.0001)
	assert.Equal(t, 7*24*time.Hour, cfg.Matcher.TimeWindow)
	assert.False(t, cfg.Matcher.CountAutoReplies)

	assert.Equal(t, 10000, cfg.RateLimit.MessageRead.Ceiling)
	assert.Equal(t, time.Hour, cfg.RateLimit.MessageRead.Window)
	assert.Equal(t, 50, cfg.RateLimit.SubscriptionCreate.Ceiling)
	assert.Equal(t, 100, cfg.RateLimit.Bulk.Ceiling)
	assert.Equal(t, time.Minute, cfg.RateLimit.Bulk.Window)
	assert.True(t, cfg.RateLimit.FailOpenReads)
	assert.False(t, cfg.RateLimit.FailOpenMutations)
}

func TestRateLimitConfigLimit(t *testing.T) {
	cfg := RateLimitConfig{
		MessageRead: OperationLimit{Ceiling: 42, Window: time.Hour},
		Bulk:        OperationLimit{Ceiling: 7, Window: time.Minute},
	}

	limit, ok := cfg.Limit("message_read")
	require.True(t, ok)
	assert.Equal(t, 42, limit.Ceiling)

	limit, ok = cfg.Limit("bulk")
	require.True(t, ok)
	assert.Equal(t, 7, limit.Ceiling)

	_, ok = cfg.Limit("no_such_operation")
	assert.False(t, ok)
}

func TestDatabaseDSN(t *testing.T) {
	dsn := DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "tracker",
		Password: "secret",
		Name:     "tracker_db",
		SSLMode:  "require",
	}.DSN()

	assert.Contains(t, dsn, "host=db.internal")
	assert.Contains(t, dsn, "dbname=tracker_db")
	assert.Contains(t, dsn, "sslmode=require")
}
