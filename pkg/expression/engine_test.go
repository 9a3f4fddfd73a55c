package expression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Evaluate(t *testing.T) {
	e := NewEngine()
	e.now = func() time.Time { return time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC) }

	env := map[string]interface{}{
		"kickoff": map[string]interface{}{"Amount": 2500, "Region": " emea ", "Tags": []interface{}{"VIP", "renewal"}},
		"steps":   map[string]interface{}{"Review": map[string]interface{}{"outcome": "approve", "notes": ""}},
	}

	tests := []struct {
		name     string
		expr     string
		expected interface{}
		wantErr  bool
	}{
		{name: "arithmetic", expr: "1 + 1", expected: 2},
		{name: "kickoff field", expr: "kickoff.Amount > 1000", expected: true},
		{name: "step result", expr: "steps.Review.outcome", expected: "approve"},
		{name: "missing step", expr: "steps.Missing == nil", expected: true},
		{name: "trim upper", expr: "UPPER(TRIM(kickoff.Region))", expected: "EMEA"},
		{name: "len list", expr: "LEN(kickoff.Tags)", expected: 2},
		{name: "blank", expr: "BLANK(steps.Review.notes)", expected: true},
		{name: "contains list", expr: "CONTAINS(kickoff.Tags, 'vip')", expected: true},
		{name: "contains string", expr: "CONTAINS(steps.Review.outcome, 'PROV')", expected: true},
		{name: "number", expr: "NUMBER('12.5') * 2", expected: 25.0},
		{name: "days since", expr: "DAYS_SINCE('2024-03-01')", expected: 10},
		{name: "ternary", expr: "kickoff.Amount > 5000 ? 'large' : 'small'", expected: "small"},
		{name: "syntax error", expr: "kickoff.Amount >", wantErr: true},
		{name: "bad number", expr: "NUMBER('abc')", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.Evaluate(tt.expr, env)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEngine_EvaluateCondition(t *testing.T) {
	e := NewEngine()

	ok, err := e.EvaluateCondition("  ", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.EvaluateCondition("UPPER(kickoff.Region) == 'EMEA'", map[string]interface{}{
		"kickoff": map[string]interface{}{"Region": "emea"},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// Cached program runs against a different environment
	ok, err = e.EvaluateCondition("UPPER(kickoff.Region) == 'EMEA'", map[string]interface{}{
		"kickoff": map[string]interface{}{"Region": "apac"},
	})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = e.EvaluateCondition("1 + 1", nil)
	assert.Error(t, err)
}

func TestEngine_RegisterFunction(t *testing.T) {
	e := NewEngine()
	e.RegisterFunction("DOUBLE", func(params ...interface{}) (interface{}, error) {
		n, err := toFloat(params[0])
		return n * 2, err
	})

	out, err := e.Evaluate("DOUBLE(21)", nil)
	require.NoError(t, err)
	assert.Equal(t, 42.0, out)
	assert.NoError(t, e.Validate("DOUBLE(1) > 1"))
}
