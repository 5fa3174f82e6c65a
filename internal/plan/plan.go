// Package plan implements the Plan Loader & DAG Builder component (C1):
// parsing and schema-validating plan documents, and constructing the
// dependency DAG with deterministic execution layers.
package plan

import "time"

// Agent enumerates the closed set of worker-agent identifiers.
type Agent string

const (
	AgentARCH Agent = "ARCH"
	AgentCA   Agent = "CA"
	AgentCC   Agent = "CC"
	AgentWA   Agent = "WA"
)

// ValidAgent reports whether a is a member of the closed agent enumeration.
func ValidAgent(a Agent) bool {
	switch a {
	case AgentARCH, AgentCA, AgentCC, AgentWA:
		return true
	default:
		return false
	}
}

// TaskType enumerates the closed set of task_type values.
type TaskType string

const (
	TaskTypeValidation      TaskType = "validation"
	TaskTypeDataProcessing  TaskType = "data_processing"
	TaskTypeReportGen       TaskType = "report_generation"
	TaskTypeNotification    TaskType = "notification"
	TaskTypeHealthCheck     TaskType = "health_check"
	TaskTypeCustom          TaskType = "custom"
	TaskTypeTaskAssignment  TaskType = "task_assignment"
)

// RetryStrategy enumerates the closed set of retry strategies.
type RetryStrategy string

const (
	RetryImmediate           RetryStrategy = "immediate"
	RetryFixedDelay          RetryStrategy = "fixed_delay"
	RetryExponentialBackoff  RetryStrategy = "exponential_backoff"
)

// Priority enumerates task priority levels.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Task is one node of a plan's DAG. Fields mirror spec.md §3 ("Task").
type Task struct {
	ID             string         `yaml:"task_id" json:"task_id"`
	Agent          Agent          `yaml:"agent" json:"agent"`
	TaskType       TaskType       `yaml:"task_type" json:"task_type"`
	Content        map[string]any `yaml:"content" json:"content"`
	Dependencies   []string       `yaml:"dependencies" json:"dependencies"`
	MaxRetries     int            `yaml:"max_retries" json:"max_retries"`
	FallbackAgent  Agent          `yaml:"fallback_agent" json:"fallback_agent"`
	Timeout        time.Duration  `yaml:"-" json:"-"`
	TimeoutRaw     string         `yaml:"timeout" json:"timeout"`
	RetryStrategy  RetryStrategy  `yaml:"retry_strategy" json:"retry_strategy"`
	RetryDelay     time.Duration  `yaml:"-" json:"-"`
	RetryDelayRaw  string         `yaml:"retry_delay" json:"retry_delay"`
	Priority       Priority       `yaml:"priority" json:"priority"`
	When           string         `yaml:"when" json:"when"`
	Unless         string         `yaml:"unless" json:"unless"`
	Notifications  map[string][]string `yaml:"notifications" json:"notifications"`

	// Layer is assigned by BuildDAG; zero value until then.
	Layer int `yaml:"-" json:"-"`
}

// Plan is the immutable, validated input document described in spec.md §3.
type Plan struct {
	PlanID      string         `yaml:"plan_id" json:"plan_id"`
	Version     string         `yaml:"version" json:"version"`
	Name        string         `yaml:"name" json:"name"`
	Context     map[string]any `yaml:"context" json:"context"`
	Variables   map[string]any `yaml:"variables" json:"variables"`
	Tasks       []Task         `yaml:"tasks" json:"tasks"`
	Timeout     time.Duration  `yaml:"-" json:"-"`
	TimeoutRaw  string         `yaml:"timeout" json:"timeout"`

	// Notifications is advisory per-event data; the core never acts on it.
	Notifications map[string]any `yaml:"notifications" json:"notifications"`
}

// TaskByID returns the task with the given ID, or false if absent.
func (p *Plan) TaskByID(id string) (*Task, bool) {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i], true
		}
	}
	return nil, false
}

// defaults applied when a Task omits optional fields, per spec.md §3.
const (
	DefaultMaxRetries    = 3
	MaxMaxRetries        = 10
	DefaultRetryDelay    = 5 * time.Second
	DefaultRetryStrategy = RetryExponentialBackoff
	DefaultPlanTimeout   = time.Hour
	MaxDependencies      = 20
)
