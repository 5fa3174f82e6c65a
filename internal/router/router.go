// Package router implements the Router component (C4): moving messages from
// agent outboxes to recipient inboxes, enforcing TTL and retry-count limits,
// and archiving every consumed message.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/archcore/arch/internal/envelope"
	"github.com/archcore/arch/internal/plan"
	"github.com/archcore/arch/internal/postbox"
	"github.com/archcore/arch/internal/telemetry"
)

// Outcome enumerates the closed set of per-message routing outcomes
// recorded in the routing log.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeExpired   Outcome = "expired"
	OutcomeDead      Outcome = "dead"
)

// LogEntry is one routing-log record: timestamp, message_id, sender,
// recipient, outcome, per spec.md §4.4 step 6.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Outcome   Outcome   `json:"outcome"`
}

// MaxRetriesFunc resolves a task's configured max_retries, used to decide
// when a message's retry_count has exhausted its budget.
type MaxRetriesFunc func(taskID string) int

// Router moves messages between the agents' outboxes and inboxes it knows
// about. A Router is driven by a single goroutine (Sweep or Run); it is not
// safe to call either concurrently from multiple goroutines on one Router.
type Router struct {
	store   *postbox.Store
	archive *postbox.Archive
	agents  []string
	maxFor  MaxRetriesFunc
	log     telemetry.Logger

	entries []LogEntry
}

// New constructs a Router over store/archive, watching every agent in
// agents. maxFor resolves a task's configured retry budget; if nil, every
// message is treated as having unlimited retries (TTL/invalid checks still
// apply).
func New(store *postbox.Store, archive *postbox.Archive, agents []string, maxFor MaxRetriesFunc, log telemetry.Logger) *Router {
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	if maxFor == nil {
		maxFor = func(string) int { return -1 }
	}
	return &Router{store: store, archive: archive, agents: agents, maxFor: maxFor, log: log}
}

// Entries returns the routing log accumulated so far.
func (r *Router) Entries() []LogEntry {
	return append([]LogEntry(nil), r.entries...)
}

// Sweep performs one pass over every agent's outbox, routing or archiving
// each message found. It is the mode tests drive directly;
// Run layers a continuous fsnotify-driven loop on top of it.
func (r *Router) Sweep(ctx context.Context) error {
	for _, agent := range r.agents {
		if err := r.sweepAgent(ctx, agent); err != nil {
			return fmt.Errorf("sweep %s outbox: %w", agent, err)
		}
	}
	return nil
}

func (r *Router) sweepAgent(ctx context.Context, agent string) error {
	envelopes, paths, err := r.store.PeekOutbox(agent)
	if err != nil {
		return err
	}
	for i, e := range envelopes {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		r.route(ctx, agent, e, paths[i])
	}
	return nil
}

func (r *Router) route(ctx context.Context, sourceAgent string, e *envelope.Envelope, path string) {
	messageID := e.TaskID + "|" + e.TraceID

	if err := envelope.Validate(e, false); err != nil {
		r.archiveAndRemove(ctx, postbox.BucketInvalid, e, path, sourceAgent, messageID, err)
		return
	}

	if e.Expired(time.Now().UTC()) {
		r.archiveAndRemove(ctx, postbox.BucketExpired, e, path, sourceAgent, messageID, nil)
		return
	}

	if max := r.maxFor(e.TaskID); max >= 0 && e.RetryCount >= max {
		r.archiveAndRemove(ctx, postbox.BucketDead, e, path, sourceAgent, messageID, nil)
		return
	}

	if !plan.ValidAgent(plan.Agent(e.RecipientID)) {
		r.archiveAndRemove(ctx, postbox.BucketInvalid, e, path, sourceAgent, messageID, fmt.Errorf("unknown recipient %q", e.RecipientID))
		return
	}

	// Deliver before removing from the source: a crash between these two
	// steps leaves the message in the outbox for the next sweep to retry,
	// and duplicate delivery is tolerated per spec.md §4.4 step 5. The
	// archive entry is written before the outbox removal too, per spec.md
	// §4.3 ("writes the envelope to the archive store ... before removing
	// it from the outbox").
	if err := r.store.EnqueueInbox(e.RecipientID, e); err != nil {
		r.log.Warn(ctx, "router: inbox delivery failed, leaving message in outbox", "task_id", e.TaskID, "recipient", e.RecipientID, "error", err)
		return
	}
	if err := r.archive.Put(postbox.BucketArchive, e); err != nil {
		r.log.Warn(ctx, "router: failed to write archive entry", "task_id", e.TaskID, "error", err)
	}
	if err := r.store.RemoveOutboxFile(path); err != nil {
		r.log.Warn(ctx, "router: failed to remove delivered message from outbox", "task_id", e.TaskID, "error", err)
	}
	r.record(messageID, e.SenderID, e.RecipientID, OutcomeDelivered)
}

func (r *Router) archiveAndRemove(ctx context.Context, bucket postbox.ArchiveBucket, e *envelope.Envelope, path, sourceAgent, messageID string, cause error) {
	if err := r.archive.Put(bucket, e); err != nil {
		r.log.Warn(ctx, "router: failed to write archive entry", "task_id", e.TaskID, "bucket", bucket, "error", err)
	}
	if err := r.store.RemoveOutboxFile(path); err != nil {
		r.log.Warn(ctx, "router: failed to remove archived message from outbox", "task_id", e.TaskID, "error", err)
	}
	outcome := Outcome(bucket)
	if cause != nil {
		r.log.Warn(ctx, "router: archiving message", "task_id", e.TaskID, "bucket", bucket, "reason", cause)
	}
	r.record(messageID, sourceAgent, e.RecipientID, outcome)
}

func (r *Router) record(messageID, sender, recipient string, outcome Outcome) {
	r.entries = append(r.entries, LogEntry{
		Timestamp: time.Now().UTC(),
		MessageID: messageID,
		Sender:    sender,
		Recipient: recipient,
		Outcome:   outcome,
	})
}

// Run drives a continuous routing service: an fsnotify watch on each agent's
// outbox directory (each outbox write triggers an immediate sweep) plus a rate-limited
// fallback poll, since fsnotify documents that events can be coalesced or
// missed on some filesystems. Run blocks until ctx is cancelled.
func (r *Router) Run(ctx context.Context, pollInterval time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	for _, agent := range r.agents {
		if err := watcher.Add(agentOutboxDir(r.store, agent)); err != nil {
			return fmt.Errorf("watch %s outbox: %w", agent, err)
		}
	}

	limiter := rate.NewLimiter(rate.Every(pollInterval), 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn(ctx, "router: fsnotify error", "error", err)
		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if err := r.Sweep(ctx); err != nil {
				return err
			}
		default:
			if limiter.Allow() {
				if err := r.Sweep(ctx); err != nil {
					return err
				}
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
}

func agentOutboxDir(s *postbox.Store, agent string) string {
	return s.Root() + "/" + agent + "/outbox"
}
