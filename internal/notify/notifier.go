// Package notify delivers operator alerts over Telegram and Discord.
// Delivery is decoupled from the trading path: Notify enqueues onto a
// bounded queue drained by a single worker goroutine, so a slow webhook can
// never stall an order loop.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jwdevries/snipebot/internal/metrics"
)

const (
	queueCapacity    = 256
	rateMaxPerMinute = 20
	drainTimeout     = 5 * time.Second

	sendAttempts   = 3
	retryDelayBase = 800 * time.Millisecond
	retryDelayStep = 700 * time.Millisecond
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

type message struct {
	title string
	body  string
}

// Notifier fans notifications out to its senders. Notify is asynchronous,
// filtered by event type, and rate limited; NotifyAll delivers synchronously
// and bypasses both, for messages that must go out (shutdown summary).
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
	queue   chan message

	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// NewNotifier creates a Notifier delivering to the given senders. Only events
// whose type appears in the events slice pass the Notify filter; an empty
// slice allows all. Run must be started for queued messages to go out.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders:    senders,
		events:     allowed,
		logger:     logger.With(slog.String("component", "notifier")),
		queue:      make(chan message, queueCapacity),
		tokens:     rateMaxPerMinute,
		lastRefill: time.Now(),
	}
}

// Notify queues a notification for asynchronous delivery. Filtered events,
// rate-limited messages, and messages arriving while the queue is full are
// dropped; the caller never blocks.
func (n *Notifier) Notify(event, title, body string) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.Debug("event filtered out", slog.String("event", event))
		return
	}
	if !n.takeToken() {
		metrics.IncNotificationDropped()
		n.logger.Warn("rate limit exceeded, dropping notification", slog.String("title", title))
		return
	}
	select {
	case n.queue <- message{title: title, body: body}:
	default:
		metrics.IncNotificationDropped()
		n.logger.Warn("notification queue full, dropping", slog.String("title", title))
	}
}

// NotifyAll sends synchronously to all senders regardless of event type,
// without consuming a rate token.
func (n *Notifier) NotifyAll(ctx context.Context, title, body string) error {
	return n.dispatch(ctx, title, body)
}

// Run drains the queue until ctx is cancelled, then makes a best-effort pass
// over whatever is still queued. Call in a goroutine.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n.drain()
			return ctx.Err()
		case m := <-n.queue:
			// Per-sender failures are logged inside dispatch.
			_ = n.dispatch(ctx, m.title, m.body)
		}
	}
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, body string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := n.sendWithRetry(ctx, s, title, body); err != nil {
			n.logger.Error("sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.Debug("notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// sendWithRetry re-posts after transient failures with a short linear backoff
// before giving up on that sender.
func (n *Notifier) sendWithRetry(ctx context.Context, s Sender, title, body string) error {
	var err error
	for attempt := 0; attempt < sendAttempts; attempt++ {
		if attempt > 0 {
			delay := retryDelayBase + time.Duration(attempt-1)*retryDelayStep
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err = s.Send(ctx, title, body); err == nil {
			return nil
		}
	}
	return err
}

// takeToken enforces the outbound per-minute budget. The bucket refills
// wholesale once a minute rather than continuously.
func (n *Notifier) takeToken() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if now := time.Now(); now.Sub(n.lastRefill) >= time.Minute {
		n.tokens = rateMaxPerMinute
		n.lastRefill = now
	}
	if n.tokens == 0 {
		return false
	}
	n.tokens--
	return true
}

// drain flushes messages that were already queued when shutdown began so
// alerts raised just before it still go out.
func (n *Notifier) drain() {
	flushCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case m := <-n.queue:
			if flushCtx.Err() != nil {
				return
			}
			_ = n.dispatch(flushCtx, m.title, m.body)
		default:
			return
		}
	}
}
