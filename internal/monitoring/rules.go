package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// ruleEvalTimeout bounds a single rule evaluation, matching the teacher's
// CEL policy evaluator's own interrupt budget (internal/adapter/outbound/cel.Evaluator).
const ruleEvalTimeout = 2 * time.Second

// AlertRule is an operator-supplied condition over a metrics snapshot
// (spec §4.10: "a pluggable rule evaluator that reads snapshots on an
// interval"). Expression is a CEL boolean expression over the "metrics"
// map, e.g. `metrics["requests_total_method_tools_call_outcome_error"] > 10`.
type AlertRule struct {
	Name       string
	Expression string
	Severity   string
	Cooldown   time.Duration
}

// newRuleEnvironment builds the CEL environment rule expressions compile
// against: a single "metrics" variable, the flattened snapshot map.
func newRuleEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("metrics", cel.MapType(cel.StringType, cel.DoubleType)),
	)
}

// compiledRule pairs a rule with its compiled CEL program.
type compiledRule struct {
	rule AlertRule
	prg  cel.Program
}

// RuleEvaluator compiles AlertRules once and evaluates them repeatedly
// against snapshots, following the compile-once/evaluate-many shape of
// the teacher's CEL policy evaluator.
type RuleEvaluator struct {
	env   *cel.Env
	rules []compiledRule
}

// NewRuleEvaluator compiles every rule in rules, returning an error that
// names the first rule that fails to compile.
func NewRuleEvaluator(rules []AlertRule) (*RuleEvaluator, error) {
	env, err := newRuleEnvironment()
	if err != nil {
		return nil, fmt.Errorf("monitoring: building rule environment: %w", err)
	}
	re := &RuleEvaluator{env: env}
	for _, r := range rules {
		prg, err := re.compile(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("monitoring: compiling rule %q: %w", r.Name, err)
		}
		re.rules = append(re.rules, compiledRule{rule: r, prg: prg})
	}
	return re, nil
}

func (re *RuleEvaluator) compile(expression string) (cel.Program, error) {
	ast, issues := re.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	return re.env.Program(ast, cel.EvalOptions(cel.OptOptimize))
}

// Evaluate runs every compiled rule against snapshot, returning the rules
// whose expression evaluated to true.
func (re *RuleEvaluator) Evaluate(snapshot map[string]float64) ([]AlertRule, error) {
	activation := map[string]interface{}{"metrics": snapshot}

	var firing []AlertRule
	for _, cr := range re.rules {
		ctx, cancel := context.WithTimeout(context.Background(), ruleEvalTimeout)
		out, _, err := cr.prg.ContextEval(ctx, activation)
		cancel()
		if err != nil {
			return firing, fmt.Errorf("monitoring: evaluating rule %q: %w", cr.rule.Name, err)
		}
		truthy, ok := out.Value().(bool)
		if !ok {
			return firing, fmt.Errorf("monitoring: rule %q did not evaluate to bool, got %T", cr.rule.Name, out.Value())
		}
		if truthy {
			firing = append(firing, cr.rule)
		}
	}
	return firing, nil
}
