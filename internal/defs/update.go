package defs

// UpdateLevel is the hierarchy level a test update refers to.
type UpdateLevel int

// Update levels, deepest last.
const (
	UpdateLevelRun UpdateLevel = iota
	UpdateLevelSuite
	UpdateLevelCase
	UpdateLevelStep
)

// TestUpdate is a state transition for a run, suite, case or step.
type TestUpdate struct {
	TestType string         `json:"test_type"`
	Body     TestUpdateBody `json:"body"`
}

// TestUpdateBody carries the new state plus stable indices into the
// frozen run tree. The hierarchy level is given by the deepest index
// present, not by TestType, since the server populates the indices
// cumulatively (a step update carries suite, case and step indices).
type TestUpdateBody struct {
	State    TestState `json:"state"`
	Errors   []string  `json:"errors"`
	Failures []string  `json:"failures"`

	TestRunExecutionID      *int `json:"test_run_execution_id"`
	TestSuiteExecutionIndex *int `json:"test_suite_execution_index"`
	TestCaseExecutionIndex  *int `json:"test_case_execution_index"`
	TestStepExecutionIndex  *int `json:"test_step_execution_index"`
}

// Level returns the hierarchy level of the update.
func (b *TestUpdateBody) Level() UpdateLevel {
	switch {
	case b.TestStepExecutionIndex != nil:
		return UpdateLevelStep

	case b.TestCaseExecutionIndex != nil:
		return UpdateLevelCase

	case b.TestSuiteExecutionIndex != nil:
		return UpdateLevelSuite

	default:
		return UpdateLevelRun
	}
}
