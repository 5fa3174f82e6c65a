package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/archcore/arch/internal/events"
	"github.com/archcore/arch/internal/telemetry"
)

// renderTemplate expands the small set of {{placeholder}} tokens a webhook
// action's template may reference. This is deliberately not a general
// templating engine: the placeholder set is closed, matching the fields a
// policy author can already see on the matched event.
func renderTemplate(tmpl string, e *events.AgentMessageEvent) string {
	score := ""
	if e.Score != nil {
		score = strconv.FormatFloat(*e.Score, 'f', -1, 64)
	}
	r := strings.NewReplacer(
		"{{task_id}}", e.TaskID(),
		"{{sender_id}}", e.SenderID,
		"{{recipient_id}}", e.RecipientID,
		"{{envelope_kind}}", e.EnvelopeKind,
		"{{status}}", e.Status,
		"{{error_code}}", e.ErrorCode,
		"{{score}}", score,
	)
	return r.Replace(tmpl)
}

// ConsoleNotifier implements the {notify: human, method: console_log}
// action by writing a structured log line through telemetry.Logger, per
// spec.md §4.7.
type ConsoleNotifier struct {
	log telemetry.Logger
}

// NewConsoleNotifier returns a ConsoleNotifier writing through log.
func NewConsoleNotifier(log telemetry.Logger) *ConsoleNotifier {
	return &ConsoleNotifier{log: log}
}

// Notify logs rule's message (or a default summary of e) at the configured
// level.
func (n *ConsoleNotifier) Notify(ctx context.Context, rule *Rule, e *events.AgentMessageEvent) error {
	msg := rule.Action.Message
	if msg == "" {
		msg = fmt.Sprintf("alert rule %q matched agent message from %s", rule.Name, e.SenderID)
	}
	kv := []any{
		"rule", rule.Name, "task_id", e.TaskID(), "sender", e.SenderID, "envelope_kind", e.EnvelopeKind,
	}
	switch rule.Action.Level {
	case "error":
		n.log.Error(ctx, msg, kv...)
	case "debug":
		n.log.Debug(ctx, msg, kv...)
	default:
		n.log.Warn(ctx, msg, kv...)
	}
	return nil
}

// WebhookNotifier implements the {notify: webhook} action by POSTing a JSON
// payload (or a rendered Template, if set) to Action.URL.
type WebhookNotifier struct {
	client *http.Client
}

// NewWebhookNotifier returns a WebhookNotifier using the standard library's
// http.Client; no pack example carries a richer HTTP client than stdlib for
// simple outbound JSON POSTs.
func NewWebhookNotifier() *WebhookNotifier {
	return &WebhookNotifier{client: &http.Client{Timeout: 10 * time.Second}}
}

func (n *WebhookNotifier) Notify(ctx context.Context, rule *Rule, e *events.AgentMessageEvent) error {
	timeout := 10 * time.Second
	if rule.Action.TimeoutSeconds > 0 {
		timeout = time.Duration(rule.Action.TimeoutSeconds * float64(time.Second))
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body []byte
	if rule.Action.Template != "" {
		body = []byte(renderTemplate(rule.Action.Template, e))
	} else {
		marshaled, err := json.Marshal(map[string]any{
			"rule":          rule.Name,
			"task_id":       e.TaskID(),
			"sender_id":     e.SenderID,
			"recipient_id":  e.RecipientID,
			"envelope_kind": e.EnvelopeKind,
			"status":        e.Status,
			"score":         e.Score,
			"duration_sec":  e.DurationSec,
			"error_code":    e.ErrorCode,
			"retry_count":   e.RetryCount,
		})
		if err != nil {
			return fmt.Errorf("marshal webhook payload: %w", err)
		}
		body = marshaled
	}

	method := rule.Action.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(reqCtx, method, rule.Action.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range rule.Action.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
