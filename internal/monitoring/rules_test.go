package monitoring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpanvil/core/internal/monitoring"
)

func TestRuleEvaluatorFiresOnlyMatchingRules(t *testing.T) {
	rules := []monitoring.AlertRule{
		{Name: "high-error-rate", Expression: `metrics["errors"] > 10`, Severity: "critical"},
		{Name: "low-traffic", Expression: `metrics["requests"] < 1`, Severity: "warning"},
	}
	re, err := monitoring.NewRuleEvaluator(rules)
	require.NoError(t, err)

	firing, err := re.Evaluate(map[string]float64{"errors": 15, "requests": 100})
	require.NoError(t, err)
	require.Len(t, firing, 1)
	assert.Equal(t, "high-error-rate", firing[0].Name)
}

func TestRuleEvaluatorRejectsInvalidExpression(t *testing.T) {
	_, err := monitoring.NewRuleEvaluator([]monitoring.AlertRule{
		{Name: "broken", Expression: `metrics["x"] +++ 1`},
	})
	assert.Error(t, err)
}

func TestRuleEvaluatorMissingKeyIsEvaluationError(t *testing.T) {
	re, err := monitoring.NewRuleEvaluator([]monitoring.AlertRule{
		{Name: "missing", Expression: `metrics["does_not_exist"] == 0.0`},
	})
	require.NoError(t, err)

	_, err = re.Evaluate(map[string]float64{})
	// CEL map indexing on an absent key is a runtime error, not zero —
	// document that rule authors must guard with `"k" in metrics`.
	assert.Error(t, err)
}
