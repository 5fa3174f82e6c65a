package alert

import (
	"context"
	"sync"

	"github.com/gobwas/glob"

	"github.com/archcore/arch/internal/errs"
	"github.com/archcore/arch/internal/events"
	"github.com/archcore/arch/internal/telemetry"
)

// Notifier executes a matched rule's action. Implementations must not
// return an error for conditions the caller should retry; alert actions are
// fire-and-forget (spec.md §4.7: "Action failures are logged but do not
// affect task or plan state").
type Notifier interface {
	Notify(ctx context.Context, rule *Rule, e *events.AgentMessageEvent) error
}

// Evaluator subscribes to internal/events' AgentMessageEvents and matches
// every inbound one against a Policy's rules in file order, dispatching
// every rule that matches (not just the first) to its configured Notifier.
type Evaluator struct {
	policy *Policy
	log    telemetry.Logger

	human   Notifier
	webhook Notifier

	mu     sync.Mutex
	globs  map[string]glob.Glob
}

// NewEvaluator constructs an Evaluator for policy. A nil logger falls back
// to telemetry.NoopLogger; nil notifiers fall back to the package defaults
// (ConsoleNotifier, WebhookNotifier).
func NewEvaluator(policy *Policy, log telemetry.Logger, human, webhook Notifier) *Evaluator {
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	if human == nil {
		human = NewConsoleNotifier(log)
	}
	if webhook == nil {
		webhook = NewWebhookNotifier()
	}
	return &Evaluator{policy: policy, log: log, human: human, webhook: webhook, globs: make(map[string]glob.Glob)}
}

// HandleEvent implements events.Subscriber. It only acts on inbound agent
// messages (task_result/error envelopes); outbound task_assignment
// envelopes never feed the alert evaluator.
func (ev *Evaluator) HandleEvent(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.AgentMessageEvent)
	if !ok || e.Direction != "inbound" {
		return nil
	}

	for i := range ev.policy.Rules {
		rule := &ev.policy.Rules[i]
		if !rule.IsEnabled() {
			continue
		}
		if !ev.matches(rule, e) {
			continue
		}
		ev.fire(ctx, rule, e)
	}
	return nil
}

func (ev *Evaluator) matches(rule *Rule, e *events.AgentMessageEvent) bool {
	switch rule.Condition.Type {
	case ConditionError:
		return ev.matchesError(&rule.Condition, e)
	case ConditionTaskResult:
		return ev.matchesTaskResult(&rule.Condition, e)
	default:
		return false
	}
}

func (ev *Evaluator) matchesError(c *Condition, e *events.AgentMessageEvent) bool {
	if e.EnvelopeKind != "error" {
		return false
	}
	if c.Agent != "" && !ev.globMatch(c.Agent, e.SenderID) {
		return false
	}
	if c.ErrorCode != "" && c.ErrorCode != e.ErrorCode {
		return false
	}
	if c.RetryCountMin != nil && e.RetryCount < *c.RetryCountMin {
		return false
	}
	return true
}

func (ev *Evaluator) matchesTaskResult(c *Condition, e *events.AgentMessageEvent) bool {
	if e.EnvelopeKind != "task_result" {
		return false
	}
	if c.Agent != "" && !ev.globMatch(c.Agent, e.SenderID) {
		return false
	}
	if c.ScoreBelow != nil && (e.Score == nil || *e.Score >= *c.ScoreBelow) {
		return false
	}
	if c.ScoreAbove != nil && (e.Score == nil || *e.Score <= *c.ScoreAbove) {
		return false
	}
	if c.DurationAbove != nil && (e.DurationSec == nil || *e.DurationSec <= *c.DurationAbove) {
		return false
	}
	if c.Status != "" && c.Status != e.Status {
		return false
	}
	return true
}

// globMatch compiles and caches pattern. A pattern that doesn't compile
// matches nothing rather than rejecting the whole policy: the failed
// compilation is not cached, so a warning is logged on every match attempt.
func (ev *Evaluator) globMatch(pattern, value string) bool {
	ev.mu.Lock()
	g, ok := ev.globs[pattern]
	if !ok {
		compiled, err := glob.Compile(pattern)
		if err != nil {
			ev.mu.Unlock()
			ev.log.Warn(context.Background(), "alert rule has invalid agent pattern", "pattern", pattern, "error", err)
			return false
		}
		g = compiled
		ev.globs[pattern] = g
	}
	ev.mu.Unlock()
	return g.Match(value)
}

func (ev *Evaluator) fire(ctx context.Context, rule *Rule, e *events.AgentMessageEvent) {
	var notifier Notifier
	switch rule.Action.Notify {
	case NotifyHuman:
		notifier = ev.human
	case NotifyWebhook:
		notifier = ev.webhook
	default:
		ev.log.Warn(ctx, "alert rule has unknown notify kind", "rule", rule.Name, "notify", rule.Action.Notify)
		return
	}
	if err := notifier.Notify(ctx, rule, e); err != nil {
		ev.log.Warn(ctx, "alert action failed", "rule", rule.Name, "error", &errs.PolicyError{Rule: rule.Name, Err: err})
	}
}
