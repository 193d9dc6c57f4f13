package render

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/project-chip/certification-tool-cli/internal/defs"
)

func TestRendererPlain(t *testing.T) {
	// stdout is not a terminal under "go test", so colors stay off.
	r := &Renderer{}
	r.Initialize()

	require.Equal(t, "[PASSED]", r.State(defs.TestStatePassed))
	require.Equal(t, "[NOT_APPLICABLE]", r.State(defs.TestStateNotApplicable))
	require.Equal(t, "RUNNING", r.RunnerState(defs.RunnerStateRunning))
	require.Equal(t, "hello", r.Text("hello", TextError))
	require.Equal(t, "hello", r.Italic("hello"))
}

func TestRendererUpdateLine(t *testing.T) {
	r := &Renderer{NoColor: true}
	r.Initialize()

	require.Equal(t, "Test Run [EXECUTING]",
		r.UpdateLine(defs.UpdateLevelRun, "Test Run", defs.TestStateExecuting))
	require.Equal(t, "  - First Suite [PENDING]",
		r.UpdateLine(defs.UpdateLevelSuite, "First Suite", defs.TestStatePending))
	require.Equal(t, "      - TC-ABC-1.1 [FAILED]",
		r.UpdateLine(defs.UpdateLevelCase, "TC-ABC-1.1", defs.TestStateFailed))
	require.Equal(t, "            - Step one [PASSED]",
		r.UpdateLine(defs.UpdateLevelStep, "Step one", defs.TestStatePassed))
}

func TestRendererEnvSwitch(t *testing.T) {
	t.Setenv(NoColorEnvVar, "TRUE")

	r := &Renderer{}
	r.Initialize()
	require.False(t, r.Enabled())
}
