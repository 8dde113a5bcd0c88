package events

import (
	"sort"
	"sync"
	"time"
)

// DeliveryStatus is the state of a delivery attempt.
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusSuccess  DeliveryStatus = "success"
	DeliveryStatusFailed   DeliveryStatus = "failed"
	DeliveryStatusRetrying DeliveryStatus = "retrying"
)

// DeliveryLog records the lifecycle of one event delivery, across retries.
// The original event is kept so the retry worker can resend the exact
// payload rather than a reconstruction.
type DeliveryLog struct {
	ID             string            `json:"id"`
	SubscriptionID string            `json:"subscription_id"`
	EventID        string            `json:"event_id"`
	EventType      string            `json:"event_type"`
	URL            string            `json:"url"`
	Status         DeliveryStatus    `json:"status"`
	StatusCode     int               `json:"status_code,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	Attempts       int               `json:"attempts"`
	NextRetryAt    *time.Time        `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	Duration       time.Duration     `json:"duration,omitempty"`
	RequestHeaders map[string]string `json:"request_headers,omitempty"`

	Event *Event `json:"-"`
}

// DeliveryLogStore is a bounded in-memory log of delivery attempts. When
// full, the oldest tenth is evicted to make room.
type DeliveryLogStore struct {
	mu      sync.RWMutex
	logs    map[string]*DeliveryLog
	maxLogs int
}

// NewDeliveryLogStore creates a store holding at most maxLogs entries.
func NewDeliveryLogStore(maxLogs int) *DeliveryLogStore {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	return &DeliveryLogStore{
		logs:    make(map[string]*DeliveryLog),
		maxLogs: maxLogs,
	}
}

// Add records a new delivery log, evicting old entries if needed.
func (s *DeliveryLogStore) Add(dl *DeliveryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.logs) >= s.maxLogs {
		s.evictOldest()
	}
	s.logs[dl.ID] = dl
}

// Get retrieves a delivery log by ID.
func (s *DeliveryLogStore) Get(id string) (*DeliveryLog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dl, ok := s.logs[id]
	return dl, ok
}

// Update replaces a delivery log entry.
func (s *DeliveryLogStore) Update(dl *DeliveryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[dl.ID] = dl
}

// BySubscription returns a subscription's delivery logs, newest first.
func (s *DeliveryLogStore) BySubscription(subscriptionID string, limit int) []*DeliveryLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*DeliveryLog
	for _, dl := range s.logs {
		if dl.SubscriptionID == subscriptionID {
			result = append(result, dl)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// PendingRetries returns logs whose retry time has passed.
func (s *DeliveryLogStore) PendingRetries() []*DeliveryLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var result []*DeliveryLog
	for _, dl := range s.logs {
		if dl.Status == DeliveryStatusRetrying && dl.NextRetryAt != nil && dl.NextRetryAt.Before(now) {
			result = append(result, dl)
		}
	}
	return result
}

// evictOldest drops the oldest 10% of entries. Caller holds the lock.
func (s *DeliveryLogStore) evictOldest() {
	logs := make([]*DeliveryLog, 0, len(s.logs))
	for _, dl := range s.logs {
		logs = append(logs, dl)
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].CreatedAt.Before(logs[j].CreatedAt) })

	evictCount := len(logs) / 10
	if evictCount == 0 {
		evictCount = 1
	}
	for i := 0; i < evictCount; i++ {
		delete(s.logs, logs[i].ID)
	}
}

// DeliveryStats summarizes a subscription's delivery history.
type DeliveryStats struct {
	SubscriptionID  string        `json:"subscription_id"`
	Total           int           `json:"total"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	Retrying        int           `json:"retrying"`
	SuccessRate     float64       `json:"success_rate"`
	AverageDuration time.Duration `json:"average_duration"`
	TotalDuration   time.Duration `json:"total_duration"`
}

// Stats computes delivery statistics for a subscription.
func (s *DeliveryLogStore) Stats(subscriptionID string) DeliveryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := DeliveryStats{SubscriptionID: subscriptionID}
	for _, dl := range s.logs {
		if dl.SubscriptionID != subscriptionID {
			continue
		}
		stats.Total++
		switch dl.Status {
		case DeliveryStatusSuccess:
			stats.Successful++
		case DeliveryStatusFailed:
			stats.Failed++
		case DeliveryStatusRetrying:
			stats.Retrying++
		}
		if dl.CompletedAt != nil {
			stats.TotalDuration += dl.Duration
		}
	}
	if stats.Successful > 0 {
		stats.AverageDuration = stats.TotalDuration / time.Duration(stats.Successful)
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
	}
	return stats
}
