// Package config loads and validates Aurelia's workflow configuration
// (spec §3 "Config", §6 ".aurelia/config/workflow.yaml").
//
// Grounded on re-cinq-detergent/internal/config/config.go: a yaml.v3 struct
// decode followed by a defaults pass and a Validate() that accumulates every
// field error instead of failing on the first one, plus the same Duration-
// from-string YAML unmarshaler idiom.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aurelia-run/aurelia/internal/statestore"
)

// Dispatcher selects how the Coder Stage drives turns. See spec §3 and the
// open question on --mock interaction (resolved in DESIGN.md).
type Dispatcher string

// Dispatcher values, per spec §3.
const (
	DispatcherDefault Dispatcher = "default"
	DispatcherPlanner Dispatcher = "planner"
)

// Duration wraps time.Duration so YAML values like "30s" decode directly.
type Duration time.Duration

// UnmarshalYAML decodes a duration string such as "30s" or "5m".
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Operator is one of the five comparison operators in the termination DSL.
type Operator string

// Operators, per spec §6 "Termination condition DSL".
const (
	OpGE Operator = ">="
	OpLE Operator = "<="
	OpEQ Operator = "="
	OpGT Operator = ">"
	OpLT Operator = "<"
)

// TerminationCondition is a parsed `<metric><op><number>` expression
// (spec §3, §6). The grammar is intentionally tiny; extending it is a
// deliberate design change (spec §9), not an incidental one.
type TerminationCondition struct {
	Metric    string
	Op        Operator
	Threshold float64
}

var terminationPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(>=|<=|=|>|<)(-?[0-9]+(?:\.[0-9]+)?)$`)

// ParseTerminationCondition parses the tiny DSL described in spec §6.
func ParseTerminationCondition(s string) (TerminationCondition, error) {
	m := terminationPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return TerminationCondition{}, fmt.Errorf("termination_condition %q does not match <metric><op><number>", s)
	}
	threshold, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return TerminationCondition{}, fmt.Errorf("termination_condition %q: %w", s, err)
	}
	return TerminationCondition{Metric: m[1], Op: Operator(m[2]), Threshold: threshold}, nil
}

// Satisfied evaluates the condition against a candidate's metrics. An
// absent metric makes the condition false (spec §6).
func (tc TerminationCondition) Satisfied(metrics map[string]float64) bool {
	v, ok := metrics[tc.Metric]
	if !ok {
		return false
	}
	switch tc.Op {
	case OpGE:
		return v >= tc.Threshold
	case OpLE:
		return v <= tc.Threshold
	case OpEQ:
		return v == tc.Threshold
	case OpGT:
		return v > tc.Threshold
	case OpLT:
		return v < tc.Threshold
	default:
		return false
	}
}

// Comparator returns the statestore.Comparator implied by this condition's
// operator, used to track "best so far" (spec §3 invariant 5, §4.11):
// for >=/> higher is better, for <=/< lower is better, for = the value
// closest to the threshold is better.
func (tc TerminationCondition) Comparator() statestore.Comparator {
	switch tc.Op {
	case OpLE, OpLT:
		return func(a, b float64) bool { return a < b }
	case OpEQ:
		return func(a, b float64) bool {
			return absDiff(a, tc.Threshold) < absDiff(b, tc.Threshold)
		}
	default: // OpGE, OpGT
		return func(a, b float64) bool { return a > b }
	}
}

func absDiff(v, threshold float64) float64 {
	d := v - threshold
	if d < 0 {
		return -d
	}
	return d
}

// Config is the immutable snapshot loaded at startup (spec §3, §6).
type Config struct {
	HeartbeatInterval         Duration `yaml:"heartbeat_interval"`
	MaxConcurrentTasks        int      `yaml:"max_concurrent_tasks"`
	TerminationConditionRaw   string   `yaml:"termination_condition"`
	CandidateAbandonThreshold int      `yaml:"candidate_abandon_threshold"`
	Dispatcher                Dispatcher `yaml:"dispatcher"`

	SandboxImage string   `yaml:"sandbox_image"`
	EnvAllowlist []string `yaml:"env_allowlist"`

	PresubmitCommand []string `yaml:"presubmit_command"`
	EvaluatorCommand []string `yaml:"evaluator_command"`

	CoderMaxTurns         int      `yaml:"coder_max_turns"`
	PresubmitTimeout      Duration `yaml:"presubmit_timeout"`
	EvaluatorTimeout      Duration `yaml:"evaluator_timeout"`
	ContainerStartTimeout Duration `yaml:"container_start_timeout"`
	GitTimeout            Duration `yaml:"git_timeout"`

	// parsed, populated by Load/parse.
	Termination TerminationCondition `yaml:"-"`
}

// Load reads and parses the workflow config at path (spec §6 filesystem
// layout: .aurelia/config/workflow.yaml).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied at startup, not request input.
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	applyDefaults(&cfg)

	if cfg.TerminationConditionRaw != "" {
		tc, err := ParseTerminationCondition(cfg.TerminationConditionRaw)
		if err != nil {
			return nil, err
		}
		cfg.Termination = tc
	}

	if errs := Validate(&cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = Duration(2 * time.Second)
	}
	if cfg.MaxConcurrentTasks == 0 {
		cfg.MaxConcurrentTasks = 1
	}
	if cfg.CandidateAbandonThreshold == 0 {
		cfg.CandidateAbandonThreshold = 5
	}
	if cfg.Dispatcher == "" {
		cfg.Dispatcher = DispatcherDefault
	}
	if cfg.CoderMaxTurns == 0 {
		cfg.CoderMaxTurns = 40
	}
	if cfg.PresubmitTimeout == 0 {
		cfg.PresubmitTimeout = Duration(5 * time.Minute)
	}
	if cfg.EvaluatorTimeout == 0 {
		cfg.EvaluatorTimeout = Duration(15 * time.Minute)
	}
	if cfg.ContainerStartTimeout == 0 {
		cfg.ContainerStartTimeout = Duration(time.Hour)
	}
	if cfg.GitTimeout == 0 {
		cfg.GitTimeout = Duration(time.Minute)
	}
	if len(cfg.PresubmitCommand) == 0 {
		cfg.PresubmitCommand = []string{"pixi", "run", "test"}
	}
}

// Validate accumulates every configuration error rather than failing fast on
// the first, matching the teacher's config.Validate convention.
func Validate(cfg *Config) []error {
	var errs []error

	if cfg.MaxConcurrentTasks < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent_tasks must be >= 1"))
	}
	if cfg.CandidateAbandonThreshold < 1 {
		errs = append(errs, fmt.Errorf("candidate_abandon_threshold must be >= 1"))
	}
	if cfg.HeartbeatInterval.Duration() <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat_interval must be > 0"))
	}
	if cfg.Dispatcher != DispatcherDefault && cfg.Dispatcher != DispatcherPlanner {
		errs = append(errs, fmt.Errorf("dispatcher must be %q or %q, got %q", DispatcherDefault, DispatcherPlanner, cfg.Dispatcher))
	}
	if cfg.TerminationConditionRaw == "" {
		errs = append(errs, fmt.Errorf("termination_condition is required"))
	} else if _, err := ParseTerminationCondition(cfg.TerminationConditionRaw); err != nil {
		errs = append(errs, err)
	}
	if cfg.SandboxImage == "" {
		errs = append(errs, fmt.Errorf("sandbox_image is required"))
	}
	if len(cfg.EvaluatorCommand) == 0 {
		errs = append(errs, fmt.Errorf("evaluator_command is required"))
	}

	return errs
}
