package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyBackoff(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	})

	assert.Equal(t, time.Second, policy.NextRetryDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextRetryDelay(2))
	assert.Equal(t, 4*time.Second, policy.NextRetryDelay(3))
	assert.Equal(t, 8*time.Second, policy.NextRetryDelay(4))
	// Capped at MaxDelay.
	assert.Equal(t, 10*time.Second, policy.NextRetryDelay(5))
	assert.Equal(t, 10*time.Second, policy.NextRetryDelay(20))
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxAttempts: 3})
	err := errors.New("connection refused")

	assert.True(t, policy.ShouldRetry(1, err))
	assert.True(t, policy.ShouldRetry(2, err))
	assert.False(t, policy.ShouldRetry(3, err))
	assert.False(t, policy.ShouldRetry(1, nil))
}

func TestRetryPolicyDefaultsInvalidConfig(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxAttempts: -1, BackoffMultiplier: 0.5})

	assert.True(t, policy.ShouldRetry(4, errors.New("x")))
	assert.False(t, policy.ShouldRetry(5, errors.New("x")))
	assert.Equal(t, 2*time.Second, policy.NextRetryDelay(2))
}

func TestPendingRetriesSelection(t *testing.T) {
	store := NewDeliveryLogStore(100)
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	store.Add(&DeliveryLog{ID: "due", Status: DeliveryStatusRetrying, NextRetryAt: &past, CreatedAt: past})
	store.Add(&DeliveryLog{ID: "not-yet", Status: DeliveryStatusRetrying, NextRetryAt: &future, CreatedAt: past})
	store.Add(&DeliveryLog{ID: "done", Status: DeliveryStatusSuccess, CreatedAt: past})

	pending := store.PendingRetries()
	assert.Len(t, pending, 1)
	assert.Equal(t, "due", pending[0].ID)
}
