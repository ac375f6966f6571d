package notifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/primitive-orchestrator/internal/domain"
)

// DefaultSendTimeout bounds a single delivery to one subscriber
const DefaultSendTimeout = 5 * time.Second

// Subscriber is a live outbound channel interested in one job's events.
// Implementations must be comparable (pointer types) so they can be registered in a set.
type Subscriber interface {
	Send(ctx context.Context, event domain.Event) error
}

// Notifier is an in-memory publish/subscribe registry keyed by job id.
// Delivery is best-effort and at most once per subscriber.
type Notifier struct {
	mu          sync.Mutex
	subscribers map[string]map[Subscriber]struct{}
	sendTimeout time.Duration
	logger      *slog.Logger
}

// New creates a notifier. A non-positive sendTimeout selects DefaultSendTimeout.
func New(logger *slog.Logger, sendTimeout time.Duration) *Notifier {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Notifier{
		subscribers: make(map[string]map[Subscriber]struct{}),
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

// Subscribe registers sub for jobID's events
func (n *Notifier) Subscribe(jobID string, sub Subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()

	set, ok := n.subscribers[jobID]
	if !ok {
		set = make(map[Subscriber]struct{})
		n.subscribers[jobID] = set
	}
	set[sub] = struct{}{}
}

// Unsubscribe removes sub. It is a no-op if sub is not registered.
func (n *Notifier) Unsubscribe(jobID string, sub Subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()

	set, ok := n.subscribers[jobID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(n.subscribers, jobID)
	}
}

// Broadcast delivers event to every subscriber of jobID registered at call time.
// Sends happen outside the lock; failures are logged and dropped.
func (n *Notifier) Broadcast(ctx context.Context, jobID string, event domain.Event) {
	targets := n.snapshot(jobID)
	if len(targets) == 0 {
		return
	}

	for _, sub := range targets {
		n.deliver(ctx, jobID, sub, event)
	}
}

// SubscriberCount returns the number of subscribers registered for jobID
func (n *Notifier) SubscriberCount(jobID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subscribers[jobID])
}

// JobCount returns the number of jobs with at least one subscriber
func (n *Notifier) JobCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subscribers)
}

func (n *Notifier) snapshot(jobID string) []Subscriber {
	n.mu.Lock()
	defer n.mu.Unlock()

	set := n.subscribers[jobID]
	targets := make([]Subscriber, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	return targets
}

func (n *Notifier) deliver(ctx context.Context, jobID string, sub Subscriber, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Warn("Subscriber panicked during delivery",
				slog.String("job_id", jobID),
				slog.Any("panic", r),
			)
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, n.sendTimeout)
	defer cancel()

	if err := sub.Send(sendCtx, event); err != nil {
		n.logger.Debug("Dropped event for subscriber",
			slog.String("job_id", jobID),
			slog.String("event_type", event.Type),
			slog.String("error", err.Error()),
		)
	}
}
