package alert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archcore/arch/internal/events"
)

const samplePolicy = `
version: "1.0.0"
rules:
  - name: low_score
    condition:
      type: task_result
      agent: "CA"
      score_below: 0.5
    action:
      notify: human
      method: console_log
      level: warn
  - name: system_errors
    condition:
      type: error
      agent: "SYSTEM_*"
      retry_count: 2
    action:
      notify: webhook
      url: "https://example.invalid/hook"
`

func TestLoadPolicyParsesRulesInOrder(t *testing.T) {
	p, err := LoadPolicy("test.yaml", []byte(samplePolicy))
	require.NoError(t, err)
	require.Len(t, p.Rules, 2)
	assert.Equal(t, "low_score", p.Rules[0].Name)
	assert.Equal(t, "system_errors", p.Rules[1].Name)
	assert.True(t, p.Rules[0].IsEnabled())
}

func TestLoadPolicyRejectsSchemaViolation(t *testing.T) {
	_, err := LoadPolicy("bad.yaml", []byte("rules: [{name: x}]"))
	assert.Error(t, err)
}

type recordingNotifier struct {
	mu    sync.Mutex
	rules []string
}

func (n *recordingNotifier) Notify(ctx context.Context, rule *Rule, e *events.AgentMessageEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rules = append(n.rules, rule.Name)
	return nil
}

func taskResultEvent(sender string, score float64) *events.AgentMessageEvent {
	e := events.NewAgentMessageEvent("P1", "T1")
	e.Direction = "inbound"
	e.EnvelopeKind = "task_result"
	e.SenderID = sender
	e.Score = &score
	return e
}

func errorEvent(sender string, retryCount int) *events.AgentMessageEvent {
	e := events.NewAgentMessageEvent("P1", "T1")
	e.Direction = "inbound"
	e.EnvelopeKind = "error"
	e.SenderID = sender
	e.RetryCount = retryCount
	return e
}

func TestEvaluatorMatchesLowScoreRule(t *testing.T) {
	p, err := LoadPolicy("t.yaml", []byte(samplePolicy))
	require.NoError(t, err)
	human := &recordingNotifier{}
	webhook := &recordingNotifier{}
	ev := NewEvaluator(p, nil, human, webhook)

	require.NoError(t, ev.HandleEvent(context.Background(), taskResultEvent("CA", 0.2)))

	assert.Equal(t, []string{"low_score"}, human.rules)
	assert.Empty(t, webhook.rules)
}

func TestEvaluatorIgnoresHighScore(t *testing.T) {
	p, err := LoadPolicy("t.yaml", []byte(samplePolicy))
	require.NoError(t, err)
	human := &recordingNotifier{}
	ev := NewEvaluator(p, nil, human, &recordingNotifier{})

	require.NoError(t, ev.HandleEvent(context.Background(), taskResultEvent("CA", 0.9)))

	assert.Empty(t, human.rules)
}

func TestEvaluatorMatchesGlobAgentPattern(t *testing.T) {
	p, err := LoadPolicy("t.yaml", []byte(samplePolicy))
	require.NoError(t, err)
	webhook := &recordingNotifier{}
	ev := NewEvaluator(p, nil, &recordingNotifier{}, webhook)

	require.NoError(t, ev.HandleEvent(context.Background(), errorEvent("SYSTEM_DB", 3)))

	assert.Equal(t, []string{"system_errors"}, webhook.rules)
}

func TestEvaluatorSkipsBelowRetryThreshold(t *testing.T) {
	p, err := LoadPolicy("t.yaml", []byte(samplePolicy))
	require.NoError(t, err)
	webhook := &recordingNotifier{}
	ev := NewEvaluator(p, nil, &recordingNotifier{}, webhook)

	require.NoError(t, ev.HandleEvent(context.Background(), errorEvent("SYSTEM_DB", 1)))

	assert.Empty(t, webhook.rules)
}

func TestEvaluatorIgnoresOutboundMessages(t *testing.T) {
	p, err := LoadPolicy("t.yaml", []byte(samplePolicy))
	require.NoError(t, err)
	human := &recordingNotifier{}
	ev := NewEvaluator(p, nil, human, &recordingNotifier{})

	e := taskResultEvent("CA", 0.1)
	e.Direction = "outbound"
	require.NoError(t, ev.HandleEvent(context.Background(), e))

	assert.Empty(t, human.rules)
}

func TestWebhookNotifierPostsJSONPayload(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		received = map[string]any{"method": r.Method}
	}))
	defer srv.Close()

	rule := &Rule{Name: "hook", Action: Action{Notify: NotifyWebhook, URL: srv.URL}}
	n := NewWebhookNotifier()
	err := n.Notify(context.Background(), rule, taskResultEvent("CA", 0.3))
	require.NoError(t, err)
	assert.Equal(t, "POST", received["method"])
}

func TestWebhookNotifierReportsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rule := &Rule{Name: "hook", Action: Action{Notify: NotifyWebhook, URL: srv.URL}}
	n := NewWebhookNotifier()
	err := n.Notify(context.Background(), rule, taskResultEvent("CA", 0.3))
	assert.Error(t, err)
}

func TestConsoleNotifierNeverErrors(t *testing.T) {
	n := NewConsoleNotifier(nil)
	rule := &Rule{Name: "r", Action: Action{Notify: NotifyHuman, Level: "error"}}
	err := n.Notify(context.Background(), rule, taskResultEvent("CA", 0.1))
	assert.NoError(t, err)
}
