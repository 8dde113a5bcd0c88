package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duetrack/duetrack/pkg/async"
	"github.com/duetrack/duetrack/pkg/observability"
)

// deliveryTimeout bounds a single asynchronous delivery attempt,
// including the HTTP round trip and log bookkeeping.
const deliveryTimeout = 30 * time.Second

// Event is the payload delivered to subscribers. Type is one of the
// billing event constants, such as "payment_record.created".
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscription is a registered delivery target. Events lists the event
// types the target wants; an empty list matches nothing.
type Subscription struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Events      []string  `json:"events"`
	Secret      string    `json:"secret,omitempty"`
	Active      bool      `json:"active"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Subscription) wants(eventType string) bool {
	for _, t := range s.Events {
		if t == eventType || t == "*" {
			return true
		}
	}
	return false
}

// Manager fans billing events out to HTTP subscribers. It satisfies the
// engine's EventSink interface via Emit.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription

	client        *http.Client
	deliveryStore *DeliveryLogStore
	retryWorker   *RetryWorker
	retryPolicy   *RetryPolicy
	rateLimiter   *RateLimiter
	logger        *observability.Logger
	metrics       *observability.Metrics
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the delivery logger.
func WithLogger(logger *observability.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics enables per-delivery metrics.
func WithMetrics(metrics *observability.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithHTTPClient overrides the delivery client.
func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) { m.client = client }
}

// WithRetryConfig overrides the retry backoff schedule.
func WithRetryConfig(cfg RetryConfig) ManagerOption {
	return func(m *Manager) { m.retryPolicy = NewRetryPolicy(cfg) }
}

// WithRateLimit overrides the per-subscription delivery rate limit.
func WithRateLimit(maxRequests int, period time.Duration) ManagerOption {
	return func(m *Manager) { m.rateLimiter = NewRateLimiter(maxRequests, period) }
}

// NewManager creates an event manager with no subscriptions.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		subscriptions: make(map[string]*Subscription),
		client:        &http.Client{Timeout: 10 * time.Second},
		deliveryStore: NewDeliveryLogStore(1000),
		retryPolicy:   NewRetryPolicy(DefaultRetryConfig()),
		rateLimiter:   NewRateLimiter(100, time.Minute),
		logger:        observability.NewLogger(observability.InfoLevel, nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.retryWorker = NewRetryWorker(m, m.deliveryStore, m.retryPolicy, m.logger)
	return m
}

// Emit implements the engine's EventSink. Delivery happens asynchronously
// so the billing run never blocks on a slow subscriber.
func (m *Manager) Emit(ctx context.Context, eventType string, data map[string]interface{}) {
	m.Dispatch(ctx, &Event{Type: eventType, Data: data})
}

// Dispatch sends an event to every active subscription whose filter
// matches. The event is assigned an ID and timestamp here.
func (m *Manager) Dispatch(ctx context.Context, event *Event) {
	event.ID = uuid.NewString()
	event.Timestamp = time.Now().UTC()

	m.mu.RLock()
	targets := make([]*Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		if sub.Active && sub.wants(event.Type) {
			targets = append(targets, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range targets {
		dl := &DeliveryLog{
			ID:             uuid.NewString(),
			SubscriptionID: sub.ID,
			EventID:        event.ID,
			EventType:      event.Type,
			URL:            sub.URL,
			Status:         DeliveryStatusPending,
			Event:          event,
			CreatedAt:      time.Now(),
		}
		m.deliveryStore.Add(dl)
		sub := sub
		async.SafeGoNoError(context.WithoutCancel(ctx), deliveryTimeout, m.logger, "event delivery", func(ctx context.Context) {
			m.attemptDelivery(ctx, sub, event, dl)
		})
	}
}

// attemptDelivery performs one delivery attempt and updates the log with
// the outcome, scheduling a retry on failure.
func (m *Manager) attemptDelivery(ctx context.Context, sub *Subscription, event *Event, dl *DeliveryLog) {
	dl.Attempts++
	start := time.Now()
	err := m.deliver(ctx, sub, event, dl)
	dl.Duration = time.Since(start)

	if err != nil {
		if m.retryPolicy.ShouldRetry(dl.Attempts, err) {
			dl.Status = DeliveryStatusRetrying
			next := m.retryPolicy.NextRetryTime(dl.Attempts)
			dl.NextRetryAt = &next
		} else {
			dl.Status = DeliveryStatusFailed
			now := time.Now()
			dl.CompletedAt = &now
		}
		dl.ErrorMessage = err.Error()
		m.logger.WithError(err).WithFields(map[string]interface{}{
			"subscription_id": sub.ID,
			"event_type":      event.Type,
			"attempt":         dl.Attempts,
		}).Warn("event delivery failed")
	} else {
		dl.Status = DeliveryStatusSuccess
		dl.ErrorMessage = ""
		now := time.Now()
		dl.CompletedAt = &now
	}

	if m.metrics != nil {
		m.metrics.RecordEventDelivery(event.Type, string(dl.Status))
	}
	m.deliveryStore.Update(dl)
}

// deliver sends one signed HTTP POST to the subscription endpoint.
func (m *Manager) deliver(ctx context.Context, sub *Subscription, event *Event, dl *DeliveryLog) error {
	if !m.rateLimiter.Allow(sub.ID) {
		return fmt.Errorf("rate limit exceeded for subscription %s", sub.ID)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Duetrack-Event", event.Type)
	req.Header.Set("X-Duetrack-Event-ID", event.ID)
	req.Header.Set("X-Duetrack-Delivery", time.Now().UTC().Format(time.RFC3339))
	if sub.Secret != "" {
		req.Header.Set("X-Duetrack-Signature", Sign(payload, sub.Secret))
	}

	if dl != nil {
		dl.RequestHeaders = make(map[string]string, len(req.Header))
		for key, values := range req.Header {
			if len(values) > 0 {
				dl.RequestHeaders[key] = values[0]
			}
		}
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	defer resp.Body.Close()

	if dl != nil {
		dl.StatusCode = resp.StatusCode
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

// Subscribe registers a new subscription and assigns it an ID.
func (m *Manager) Subscribe(sub *Subscription) error {
	if sub.URL == "" {
		return fmt.Errorf("subscription URL is required")
	}
	if len(sub.Events) == 0 {
		return fmt.Errorf("at least one event type is required")
	}

	sub.ID = uuid.NewString()
	sub.Active = true
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	m.mu.Lock()
	m.subscriptions[sub.ID] = sub
	m.mu.Unlock()
	return nil
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[id]; !ok {
		return fmt.Errorf("subscription not found")
	}
	delete(m.subscriptions, id)
	return nil
}

// Update applies non-zero fields of updates to an existing subscription.
func (m *Manager) Update(id string, updates *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[id]
	if !ok {
		return fmt.Errorf("subscription not found")
	}
	if updates.URL != "" {
		sub.URL = updates.URL
	}
	if len(updates.Events) > 0 {
		sub.Events = updates.Events
	}
	if updates.Secret != "" {
		sub.Secret = updates.Secret
	}
	sub.UpdatedAt = time.Now()
	return nil
}

// Get retrieves a subscription by ID.
func (m *Manager) Get(id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("subscription not found")
	}
	return sub, nil
}

// List returns all subscriptions ordered by creation time.
func (m *Manager) List() []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	subs := make([]*Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })
	return subs
}

// SetActive activates or deactivates a subscription.
func (m *Manager) SetActive(id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[id]
	if !ok {
		return fmt.Errorf("subscription not found")
	}
	sub.Active = active
	sub.UpdatedAt = time.Now()
	return nil
}

// StartRetryWorker starts the background retry loop.
func (m *Manager) StartRetryWorker(ctx context.Context) {
	m.retryWorker.Start(ctx, 30*time.Second)
}

// StopRetryWorker stops the background retry loop.
func (m *Manager) StopRetryWorker() {
	m.retryWorker.Stop()
}

// DeliveryLogs returns recent delivery attempts for a subscription.
func (m *Manager) DeliveryLogs(subscriptionID string, limit int) []*DeliveryLog {
	return m.deliveryStore.BySubscription(subscriptionID, limit)
}

// DeliveryStats returns aggregate delivery statistics for a subscription.
func (m *Manager) DeliveryStats(subscriptionID string) DeliveryStats {
	return m.deliveryStore.Stats(subscriptionID)
}

// Sign computes the signature header value for a payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the payload. Receivers
// call this with the raw request body and the X-Duetrack-Signature header.
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
