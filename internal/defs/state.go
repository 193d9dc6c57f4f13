package defs

// TestState is the execution state of a run, suite, case or step.
type TestState string

// Test states.
const (
	TestStatePending          TestState = "pending"
	TestStateExecuting        TestState = "executing"
	TestStatePendingActuation TestState = "pending_actuation"
	TestStatePassed           TestState = "passed"
	TestStateFailed           TestState = "failed"
	TestStateError            TestState = "error"
	TestStateNotApplicable    TestState = "not_applicable"
	TestStateCancelled        TestState = "cancelled"
)

// Completed reports whether the state is one of the terminal outcomes.
func (s TestState) Completed() bool {
	switch s {
	case TestStatePassed, TestStateFailed, TestStateError,
		TestStateNotApplicable, TestStateCancelled:
		return true
	}
	return false
}

// RunnerState is the state of the remote test runner.
type RunnerState string

// Runner states.
const (
	RunnerStateIdle    RunnerState = "idle"
	RunnerStateReady   RunnerState = "ready"
	RunnerStateLoading RunnerState = "loading"
	RunnerStateRunning RunnerState = "running"
)
