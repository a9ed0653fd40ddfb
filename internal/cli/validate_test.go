package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommandAcceptsPlan(t *testing.T) {
	cfgPath := writeTestConfig(t)
	planPath := writePlanFile(t, testPlan)

	out, err := execCommand(t, "validate", planPath, "--config", cfgPath)
	require.NoError(t, err)

	assert.Contains(t, out, "plan is valid")
	assert.Contains(t, out, "host:    text")
	assert.Contains(t, out, "actions: 1")
}

func TestValidateCommandRejectsPlan(t *testing.T) {
	cfgPath := writeTestConfig(t)
	planPath := writePlanFile(t, `{"schema_version":"v1","host":"martian","actions":[{"op":"insert_text","content":"x"}]}`)

	_, err := execCommand(t, "validate", planPath, "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan is invalid")
}

func TestValidateCommandJSONVerdict(t *testing.T) {
	cfgPath := writeTestConfig(t)
	planPath := writePlanFile(t, testPlan)

	out, err := execCommand(t, "validate", planPath, "--config", cfgPath, "--json")
	require.NoError(t, err)
	t.Cleanup(func() { validateJSON = false })

	var verdict validateVerdict
	require.NoError(t, json.Unmarshal([]byte(out), &verdict))
	assert.True(t, verdict.Valid)
	assert.Equal(t, "text", verdict.Host)
	assert.Equal(t, 1, verdict.Actions)
}
