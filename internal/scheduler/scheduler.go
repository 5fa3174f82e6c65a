package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/archcore/arch/internal/condition"
	"github.com/archcore/arch/internal/engine"
	"github.com/archcore/arch/internal/engine/local"
	"github.com/archcore/arch/internal/envelope"
	"github.com/archcore/arch/internal/errs"
	"github.com/archcore/arch/internal/events"
	"github.com/archcore/arch/internal/plan"
	"github.com/archcore/arch/internal/postbox"
	"github.com/archcore/arch/internal/runctx"
	"github.com/archcore/arch/internal/telemetry"
)

// errTaskTimeout is returned internally by pollForResult when a task's own
// timeout elapses with no matching response; it never escapes the package.
var errTaskTimeout = fmt.Errorf("task timed out waiting for a response")

// SenderID is the identity the scheduler stamps on every task_assignment it
// constructs.
const SenderID = "ARCH"

// DefaultMaxConcurrentTasks bounds intra-layer parallelism absent an
// explicit Option, per spec.md §4.6.1.
const DefaultMaxConcurrentTasks = 10

// DefaultPollInterval is how often a worker re-checks an agent's outbox
// while waiting for a task_result, per spec.md §4.6.2 step 4 ("1-5 seconds
// is reasonable").
const DefaultPollInterval = 2 * time.Second

// Options configures a Scheduler. Zero values fall back to spec.md defaults.
type Options struct {
	MaxConcurrentTasks int
	PollInterval       time.Duration
	BackoffCeiling     time.Duration
	Engine             engine.Engine
	Clock              engine.Clock
	Bus                events.Bus
	Logger             telemetry.Logger
	Metrics            telemetry.Metrics
}

// Scheduler drives one plan's tasks through the state machine described in
// spec.md §4.6, dispatching task_assignment envelopes through a Store and
// polling for responses.
type Scheduler struct {
	store *postbox.Store

	maxConcurrent  int
	pollInterval   time.Duration
	backoffCeiling time.Duration
	engine         engine.Engine
	clock          engine.Clock
	bus            events.Bus
	log            telemetry.Logger
	metrics        telemetry.Metrics

	pollSem *semaphore.Weighted

	mu      sync.Mutex
	records map[string]*record
}

// New constructs a Scheduler backed by store, applying opts over the
// spec.md defaults.
func New(store *postbox.Store, opts Options) *Scheduler {
	s := &Scheduler{
		store:          store,
		maxConcurrent:  opts.MaxConcurrentTasks,
		pollInterval:   opts.PollInterval,
		backoffCeiling: opts.BackoffCeiling,
		engine:         opts.Engine,
		clock:          opts.Clock,
		bus:            opts.Bus,
		log:            opts.Logger,
		metrics:        opts.Metrics,
		records:        make(map[string]*record),
	}
	if s.maxConcurrent <= 0 {
		s.maxConcurrent = DefaultMaxConcurrentTasks
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}
	if s.backoffCeiling <= 0 {
		s.backoffCeiling = DefaultBackoffCeiling
	}
	if s.engine == nil {
		s.engine = local.New()
	}
	if s.clock == nil {
		s.clock = engine.RealClock{}
	}
	if s.bus == nil {
		s.bus = events.NewBus()
	}
	if s.log == nil {
		s.log = telemetry.NoopLogger{}
	}
	if s.metrics == nil {
		s.metrics = telemetry.NoopMetrics{}
	}
	// Outbox polling is gated a little more generously than dispatch
	// concurrency: a worker spends most of its poll wait asleep, so more
	// workers than maxConcurrent can be mid-poll at any instant without
	// actually contending for postbox I/O.
	s.pollSem = semaphore.NewWeighted(int64(s.maxConcurrent) * 2)
	return s
}

// Result summarizes a completed (or cancelled) plan run.
type Result struct {
	PlanID string
	Status string
	Tasks  map[string]TaskOutcome
}

// TaskOutcome is the externally visible terminal state of one task.
type TaskOutcome struct {
	State      State
	Reason     string
	RetryCount int
	Score      *float64
	Success    bool
}

// Run executes dag layer by layer until every task reaches a terminal
// state, the plan's own timeout elapses, or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, dag *plan.DAG, rc *runctx.Context) (*Result, error) {
	p := dag.Plan
	for _, t := range p.Tasks {
		s.records[t.ID] = &record{state: StatePending}
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = plan.DefaultPlanTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.publish(runCtx, events.NewPlanEvent(events.PlanStarted, p.PlanID, ""))

	for layerIdx, layer := range dag.Layers {
		s.publish(runCtx, events.NewLayerEvent(events.LayerStarted, p.PlanID, layerIdx))

		g, _ := errgroup.WithContext(runCtx)
		g.SetLimit(s.maxConcurrent)
		for _, taskID := range layer {
			taskID := taskID
			g.Go(func() error {
				s.runTask(runCtx, dag, rc, taskID)
				return nil
			})
		}
		_ = g.Wait()

		s.publish(runCtx, events.NewLayerEvent(events.LayerCompleted, p.PlanID, layerIdx))

		if runCtx.Err() != nil {
			break
		}
	}

	s.abandonNonTerminal(runCtx, p)

	result := s.computeResult(p, runCtx.Err() != nil)
	finalType := events.PlanCompleted
	if result.Status == "failure" || result.Status == "timeout" {
		finalType = events.PlanFailed
	}
	s.publish(ctx, events.NewPlanEvent(finalType, p.PlanID, result.Status))

	return result, nil
}

// runTask drives a single task from waiting through to a terminal state. It
// never returns an error: every failure mode is represented as a terminal
// task state, per spec.md §4.6.4's failure semantics table.
func (s *Scheduler) runTask(ctx context.Context, dag *plan.DAG, rc *runctx.Context, taskID string) {
	t, ok := dag.Plan.TaskByID(taskID)
	if !ok {
		s.terminal(ctx, dag.Plan.PlanID, taskID, StateFailed, "unknown_task", nil, nil)
		return
	}

	s.transition(ctx, dag.Plan.PlanID, taskID, StateWaiting, "", 0)

	if skip, reason := s.shouldSkipUpstreamFailure(t); skip {
		s.skip(ctx, dag.Plan.PlanID, t, rc, reason)
		return
	}

	eligible, reason, err := s.evaluateEligibility(t, rc)
	if err != nil {
		s.terminalTask(ctx, dag.Plan.PlanID, t, rc, StateFailed, "condition_eval_error", nil, nil)
		return
	}
	if !eligible {
		s.skip(ctx, dag.Plan.PlanID, t, rc, reason)
		return
	}

	s.transition(ctx, dag.Plan.PlanID, taskID, StateReady, "", 0)
	s.dispatchLoop(ctx, dag.Plan, t, rc)
}

// shouldSkipUpstreamFailure implements spec.md §4.6.3's default policy:
// absent an explicit when/unless that might say otherwise, a task whose
// dependency failed or timed out is skipped rather than dispatched.
func (s *Scheduler) shouldSkipUpstreamFailure(t *plan.Task) (bool, string) {
	if t.When != "" || t.Unless != "" {
		return false, ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dep := range t.Dependencies {
		if r, ok := s.records[dep]; ok && (r.state == StateFailed || r.state == StateTimeout) {
			return true, "upstream_failed"
		}
	}
	return false, ""
}

func (s *Scheduler) evaluateEligibility(t *plan.Task, rc *runctx.Context) (bool, string, error) {
	if t.When != "" {
		ok, err := condition.Evaluate(t.ID, t.When, rc)
		if err != nil {
			return false, "", err
		}
		if !ok {
			return false, "condition_when_false", nil
		}
	}
	if t.Unless != "" {
		ok, err := condition.Evaluate(t.ID, t.Unless, rc)
		if err != nil {
			return false, "", err
		}
		if ok {
			return false, "unless_true", nil
		}
	}
	return true, "", nil
}

// dispatchLoop sends task_assignment envelopes and classifies responses
// until the task reaches a terminal state, implementing spec.md §4.6.2
// steps 3-6.
func (s *Scheduler) dispatchLoop(ctx context.Context, p *plan.Plan, t *plan.Task, rc *runctx.Context) {
	retryCount := 0
	var traceID string
	agent := t.Agent

	for {
		s.transition(ctx, p.PlanID, t.ID, StateRunning, "", retryCount)

		opts := []envelope.EncodeOption{
			envelope.WithRetryCount(retryCount),
			envelope.WithContext(rc.Snapshot()),
		}
		if traceID != "" {
			opts = append(opts, envelope.WithTraceID(traceID))
		}
		e := envelope.Encode(envelope.KindTaskAssignment, SenderID, string(agent), t.ID, t.Content, opts...)
		traceID = e.TraceID

		if err := envelope.Validate(e, true); err != nil {
			s.log.Error(ctx, "outgoing task_assignment failed validation", "task_id", t.ID, "error", err)
			s.terminalTask(ctx, p.PlanID, t, rc, StateFailed, "envelope_invalid", nil, nil)
			return
		}

		if err := s.store.EnqueueInbox(string(agent), e); err != nil {
			dispatchErr := &errs.DispatchError{TaskID: t.ID, Agent: string(agent), Err: err}
			s.log.Warn(ctx, "dispatch failed", "task_id", t.ID, "error", dispatchErr)
			if _, retried := s.retryOrFail(ctx, p, t, rc, &retryCount, &agent, "dispatch_error"); retried {
				continue
			}
			return
		}

		s.log.Info(ctx, "task dispatched", "task_id", t.ID, "agent", agent, "retry_count", retryCount, "trace_id", traceID)
		s.publish(ctx, agentMessageEvent(p.PlanID, t.ID, "outbound", e))

		result, err := s.pollForResult(ctx, string(agent), t.ID, traceID, t.Timeout)
		if err != nil {
			var envErr *errs.EnvelopeValidationError
			switch {
			case err == errTaskTimeout:
				s.transition(ctx, p.PlanID, t.ID, StateTimeout, "response_timeout", retryCount)
				if _, retried := s.retryOrFail(ctx, p, t, rc, &retryCount, &agent, "response_timeout"); retried {
					continue
				}
				return
			case errors.As(err, &envErr):
				s.log.Warn(ctx, "malformed agent response", "task_id", t.ID, "error", envErr)
				s.terminalTask(ctx, p.PlanID, t, rc, StateFailed, "invalid_response", nil, boolPtr(false))
				return
			default:
				// ctx cancelled (plan timeout or external cancellation), or a
				// postbox I/O error: leave the task in its current state for
				// abandonNonTerminal to mark.
				return
			}
		}
		s.publish(ctx, agentMessageEvent(p.PlanID, t.ID, "inbound", result))

		terminal, reason, retryable := classify(result)
		switch terminal {
		case StateCompleted:
			score := floatPayload(result.Payload, "score")
			s.terminalTask(ctx, p.PlanID, t, rc, StateCompleted, reason, score, boolPtr(true))
			return
		case StateFailed:
			if !retryable {
				s.terminalTask(ctx, p.PlanID, t, rc, StateFailed, reason, nil, boolPtr(false))
				return
			}
			if _, retried := s.retryOrFail(ctx, p, t, rc, &retryCount, &agent, reason); retried {
				continue
			}
			return
		}
	}
}

// retryOrFail applies spec.md §4.6.2 step 6: sleep for the computed
// backoff, advance retryCount and the dispatch target, and report whether
// the caller should loop back to dispatch again (true) or has just been
// moved to a terminal failed state (false).
func (s *Scheduler) retryOrFail(ctx context.Context, p *plan.Plan, t *plan.Task, rc *runctx.Context, retryCount *int, agent *plan.Agent, reason string) (State, bool) {
	if *retryCount >= t.MaxRetries {
		s.terminalTask(ctx, p.PlanID, t, rc, StateFailed, reason, nil, boolPtr(false))
		return StateFailed, false
	}

	delay, err := s.engine.NextBackoff(retryPolicyFor(t, s.backoffCeiling), *retryCount)
	if err != nil {
		s.log.Error(ctx, "backoff computation failed", "task_id", t.ID, "error", err)
		s.terminalTask(ctx, p.PlanID, t, rc, StateFailed, "retry_policy_error", nil, boolPtr(false))
		return StateFailed, false
	}
	if err := s.clock.Sleep(ctx, delay); err != nil {
		// ctx cancelled mid-backoff; leave state for abandonNonTerminal.
		return StateRetrying, false
	}

	*retryCount++
	*agent = nextDispatchAgent(t, *retryCount)
	s.transition(ctx, p.PlanID, t.ID, StateRetrying, reason, *retryCount)
	return StateRetrying, true
}

// pollForResult scans agent's outbox for the envelope matching taskID and
// traceID, sleeping pollInterval between scans, until timeout elapses or
// ctx is cancelled.
func (s *Scheduler) pollForResult(ctx context.Context, agent, taskID, traceID string, timeout time.Duration) (*envelope.Envelope, error) {
	if timeout <= 0 {
		timeout = plan.DefaultPlanTimeout
	}
	deadline := s.clock.Now().Add(timeout)

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if err := s.pollSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		msgs, paths, err := s.store.PeekOutbox(agent)
		if err != nil {
			s.pollSem.Release(1)
			return nil, err
		}
		for i, m := range msgs {
			if m.TaskID != taskID || m.TraceID != traceID {
				continue
			}
			if err := envelope.Validate(m, false); err != nil {
				removeErr := s.store.RemoveOutboxFile(paths[i])
				s.pollSem.Release(1)
				if removeErr != nil {
					return nil, removeErr
				}
				return nil, &errs.EnvelopeValidationError{Outgoing: false, Err: err}
			}
			removeErr := s.store.RemoveOutboxFile(paths[i])
			s.pollSem.Release(1)
			if removeErr != nil {
				return nil, removeErr
			}
			return m, nil
		}
		s.pollSem.Release(1)

		if s.clock.Now().After(deadline) {
			return nil, errTaskTimeout
		}
		wait := s.pollInterval
		if remaining := deadline.Sub(s.clock.Now()); remaining < wait {
			wait = remaining
		}
		if wait <= 0 {
			continue
		}
		if err := s.clock.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// classify maps an observed response envelope onto spec.md §4.6.2 step 5 /
// §4.6.4's outcome table.
func classify(e *envelope.Envelope) (terminal State, reason string, retryable bool) {
	switch e.Type {
	case envelope.KindTaskResult:
		status, _ := e.Payload["status"].(string)
		switch envelope.Status(status) {
		case envelope.StatusSuccess:
			return StateCompleted, "success", false
		case envelope.StatusPartialSuccess:
			return StateFailed, "partial_success", true
		default:
			return StateFailed, "task_failed", true
		}
	case envelope.KindError:
		return StateFailed, "agent_error", true
	case envelope.KindNeedsInput:
		return StateFailed, "needs_input_unsupported", false
	default:
		return StateFailed, "unexpected_envelope_kind", false
	}
}

func (s *Scheduler) skip(ctx context.Context, planID string, t *plan.Task, rc *runctx.Context, reason string) {
	s.terminalTask(ctx, planID, t, rc, StateSkipped, reason, nil, boolPtr(false))
}

// terminalTask finalizes a task's state, extends the runtime context with
// its outcome (spec.md §4.6.2 step 7), and emits the matching timeline
// event.
func (s *Scheduler) terminalTask(ctx context.Context, planID string, t *plan.Task, rc *runctx.Context, state State, reason string, score *float64, success *bool) {
	s.terminal(ctx, planID, t.ID, state, reason, score, success)
	if rc != nil {
		rc.RecordTaskOutcome(t.ID, string(state), success != nil && *success, score)
	}
}

func (s *Scheduler) terminal(ctx context.Context, planID, taskID string, state State, reason string, score *float64, success *bool) {
	s.mu.Lock()
	r, ok := s.records[taskID]
	if !ok {
		r = &record{}
		s.records[taskID] = r
	}
	r.state = state
	r.reason = reason
	if score != nil {
		r.score = score
	}
	if success != nil {
		r.success = *success
	}
	s.mu.Unlock()

	typ := terminalEventType(state)
	s.publish(ctx, events.NewTaskTransitionEvent(typ, planID, taskID, "", string(state), reason, r.retryCount))
}

func terminalEventType(state State) events.Type {
	switch state {
	case StateCompleted:
		return events.TaskCompleted
	case StateFailed:
		return events.TaskFailed
	case StateTimeout:
		return events.TaskTimeout
	case StateSkipped:
		return events.TaskSkipped
	default:
		return events.TaskCreated
	}
}

// transition records a non-terminal state change (waiting, ready, running,
// retrying) and emits its timeline event.
func (s *Scheduler) transition(ctx context.Context, planID, taskID string, state State, reason string, retryCount int) {
	s.mu.Lock()
	r, ok := s.records[taskID]
	if !ok {
		r = &record{}
		s.records[taskID] = r
	}
	from := r.state
	r.state = state
	r.retryCount = retryCount
	s.mu.Unlock()

	var typ events.Type
	switch state {
	case StateWaiting:
		typ = events.TaskWaiting
	case StateReady:
		typ = events.TaskReady
	case StateRunning:
		typ = events.TaskStarted
	case StateRetrying:
		typ = events.TaskRetry
	default:
		typ = events.TaskCreated
	}
	s.publish(ctx, events.NewTaskTransitionEvent(typ, planID, taskID, string(from), string(state), reason, retryCount))
}

// abandonNonTerminal marks every task that never reached a terminal state
// (because the plan was cancelled or timed out) as timeout/plan_cancelled,
// per spec.md §5's cancellation behavior.
func (s *Scheduler) abandonNonTerminal(ctx context.Context, p *plan.Plan) {
	s.mu.Lock()
	pending := make([]string, 0)
	for _, t := range p.Tasks {
		if r := s.records[t.ID]; r == nil || !r.state.Terminal() {
			pending = append(pending, t.ID)
		}
	}
	s.mu.Unlock()

	for _, taskID := range pending {
		s.terminal(context.Background(), p.PlanID, taskID, StateTimeout, "plan_cancelled", nil, nil)
	}
}

func (s *Scheduler) computeResult(p *plan.Plan, cancelled bool) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make(map[string]TaskOutcome, len(s.records))
	completed, failedOrTimeout := 0, 0
	for id, r := range s.records {
		tasks[id] = TaskOutcome{State: r.state, Reason: r.reason, RetryCount: r.retryCount, Score: r.score, Success: r.success}
		switch r.state {
		case StateCompleted:
			completed++
		case StateFailed, StateTimeout:
			failedOrTimeout++
		}
	}

	status := "success"
	switch {
	case cancelled:
		status = "timeout"
	case completed > 0 && failedOrTimeout > 0:
		status = "partial_success"
	case completed == 0 && failedOrTimeout > 0:
		status = "failure"
	}

	return &Result{PlanID: p.PlanID, Status: status, Tasks: tasks}
}

func (s *Scheduler) publish(ctx context.Context, e events.Event) {
	if err := s.bus.Publish(ctx, e); err != nil {
		s.log.Warn(ctx, "event subscriber error", "event_type", e.Type(), "error", err)
	}
}

// agentMessageEvent builds the AgentMessageEvent that drives internal/alert
// from a dispatched or received envelope.
func agentMessageEvent(planID, taskID, direction string, e *envelope.Envelope) *events.AgentMessageEvent {
	ev := events.NewAgentMessageEvent(planID, taskID)
	ev.Direction = direction
	ev.EnvelopeKind = string(e.Type)
	ev.SenderID = e.SenderID
	ev.RecipientID = e.RecipientID
	ev.RetryCount = e.RetryCount
	ev.Score = floatPayload(e.Payload, "score")
	ev.DurationSec = floatPayload(e.Payload, "duration_sec")
	if status, ok := e.Payload["status"].(string); ok {
		ev.Status = status
	}
	if code, ok := e.Payload["error_code"].(string); ok {
		ev.ErrorCode = code
	}
	return ev
}

func floatPayload(payload map[string]any, key string) *float64 {
	v, ok := payload[key]
	if !ok {
		return nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return &f
}

func boolPtr(b bool) *bool { return &b }
