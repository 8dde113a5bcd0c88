package events

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/duetrack/duetrack/pkg/observability"
)

// RetryConfig configures the delivery retry schedule.
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry schedule: five attempts with
// exponential backoff from one second, capped at five minutes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      time.Second,
		MaxDelay:          5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy decides whether and when a failed delivery is retried.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy, filling invalid fields with
// defaults.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Minute
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = 2.0
	}
	return &RetryPolicy{config: config}
}

// ShouldRetry reports whether another attempt is allowed after a failure.
func (p *RetryPolicy) ShouldRetry(attempts int, err error) bool {
	return err != nil && attempts < p.config.MaxAttempts
}

// NextRetryDelay returns the backoff delay after the given attempt count.
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return p.config.InitialDelay
	}
	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempts-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// NextRetryTime returns the wall-clock time of the next attempt.
func (p *RetryPolicy) NextRetryTime(attempts int) time.Time {
	return time.Now().Add(p.NextRetryDelay(attempts))
}

// RetryWorker periodically resends deliveries whose retry time has passed.
type RetryWorker struct {
	manager       *Manager
	deliveryStore *DeliveryLogStore
	retryPolicy   *RetryPolicy
	logger        *observability.Logger
	stopCh        chan struct{}
	ticker        *time.Ticker
}

// NewRetryWorker creates a retry worker over the given delivery store.
func NewRetryWorker(manager *Manager, store *DeliveryLogStore, policy *RetryPolicy, logger *observability.Logger) *RetryWorker {
	return &RetryWorker{
		manager:       manager,
		deliveryStore: store,
		retryPolicy:   policy,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the retry loop. It runs until the context is cancelled or
// Stop is called.
func (w *RetryWorker) Start(ctx context.Context, checkInterval time.Duration) {
	w.ticker = time.NewTicker(checkInterval)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.WithFields(map[string]interface{}{
					"panic": fmt.Sprintf("%v", r),
					"stack": string(debug.Stack()),
				}).Error("retry worker panicked")
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-w.ticker.C:
				w.processRetries(ctx)
			}
		}
	}()
}

// Stop halts the retry loop.
func (w *RetryWorker) Stop() {
	if w.ticker != nil {
		w.ticker.Stop()
	}
	close(w.stopCh)
}

func (w *RetryWorker) processRetries(ctx context.Context) {
	for _, dl := range w.deliveryStore.PendingRetries() {
		sub, err := w.manager.Get(dl.SubscriptionID)
		if err != nil {
			w.fail(dl, fmt.Sprintf("subscription not found: %v", err))
			continue
		}
		if !sub.Active {
			w.fail(dl, "subscription is inactive")
			continue
		}
		w.retryDelivery(ctx, sub, dl)
	}
}

func (w *RetryWorker) fail(dl *DeliveryLog, reason string) {
	dl.Status = DeliveryStatusFailed
	dl.ErrorMessage = reason
	now := time.Now()
	dl.CompletedAt = &now
	w.deliveryStore.Update(dl)
}

func (w *RetryWorker) retryDelivery(ctx context.Context, sub *Subscription, dl *DeliveryLog) {
	dl.Attempts++

	event := dl.Event
	if event == nil {
		// Log predates payload retention. Resend headers only.
		event = &Event{ID: dl.EventID, Type: dl.EventType, Timestamp: dl.CreatedAt, Data: map[string]interface{}{}}
	}

	start := time.Now()
	err := w.manager.deliver(ctx, sub, event, dl)
	dl.Duration = time.Since(start)

	if err != nil {
		if w.retryPolicy.ShouldRetry(dl.Attempts, err) {
			dl.Status = DeliveryStatusRetrying
			next := w.retryPolicy.NextRetryTime(dl.Attempts)
			dl.NextRetryAt = &next
			dl.ErrorMessage = err.Error()
		} else {
			w.fail(dl, fmt.Sprintf("max retries exceeded: %v", err))
			return
		}
	} else {
		dl.Status = DeliveryStatusSuccess
		dl.ErrorMessage = ""
		now := time.Now()
		dl.CompletedAt = &now
	}
	w.deliveryStore.Update(dl)
}
