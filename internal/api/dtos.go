package api

import "github.com/project-chip/certification-tool-cli/internal/defs"

// TestMetadata describes a test suite or case in the catalog.
type TestMetadata struct {
	PublicID    string `json:"public_id"`
	Version     string `json:"version"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// TestCase is a selectable test case in the catalog.
type TestCase struct {
	Metadata TestMetadata `json:"metadata"`
}

// TestSuite is a test suite in the catalog.
type TestSuite struct {
	Metadata  TestMetadata        `json:"metadata"`
	TestCases map[string]TestCase `json:"test_cases"`
}

// TestCollection is a named group of test suites.
type TestCollection struct {
	Name       string               `json:"name"`
	Path       string               `json:"path"`
	TestSuites map[string]TestSuite `json:"test_suites"`
}

// TestCollections is the server-provided test catalog.
type TestCollections struct {
	TestCollections map[string]TestCollection `json:"test_collections"`
}

// TestSelection maps collection name to suite name to test case id to
// iteration count.
type TestSelection map[string]map[string]map[string]int

// TestStepExecution is one step of a frozen run tree.
type TestStepExecution struct {
	ID    int            `json:"id"`
	Title string         `json:"title"`
	State defs.TestState `json:"state"`
}

// TestCaseMetadata describes an executed test case.
type TestCaseMetadata struct {
	ID          int    `json:"id"`
	PublicID    string `json:"public_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// TestCaseExecution is one case of a frozen run tree.
type TestCaseExecution struct {
	ID                 int                 `json:"id"`
	PublicID           string              `json:"public_id"`
	State              defs.TestState      `json:"state"`
	TestCaseMetadata   TestCaseMetadata    `json:"test_case_metadata"`
	TestStepExecutions []TestStepExecution `json:"test_step_executions"`
}

// TestSuiteMetadata describes an executed test suite.
type TestSuiteMetadata struct {
	ID          int    `json:"id"`
	PublicID    string `json:"public_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// TestSuiteExecution is one suite of a frozen run tree.
type TestSuiteExecution struct {
	ID                 int                 `json:"id"`
	PublicID           string              `json:"public_id"`
	State              defs.TestState      `json:"state"`
	TestSuiteMetadata  TestSuiteMetadata   `json:"test_suite_metadata"`
	TestCaseExecutions []TestCaseExecution `json:"test_case_executions"`
}

// TestRunExecution is a created test run.
type TestRunExecution struct {
	ID        int            `json:"id"`
	Title     string         `json:"title"`
	State     defs.TestState `json:"state"`
	ProjectID int            `json:"project_id"`
}

// TestRunExecutionWithChildren is the frozen run tree the session
// renders against. It is read-only after creation.
type TestRunExecutionWithChildren struct {
	TestRunExecution
	TestSuiteExecutions []TestSuiteExecution `json:"test_suite_executions"`
}

// Project is a certification project that test runs belong to.
type Project struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// TestRunnerStatus is the state of the remote test runner.
type TestRunnerStatus struct {
	State              defs.RunnerState `json:"state"`
	TestRunExecutionID *int             `json:"test_run_execution_id"`
}

// Suite returns the suite at the given index, or nil.
func (r *TestRunExecutionWithChildren) Suite(i int) *TestSuiteExecution {
	if i < 0 || i >= len(r.TestSuiteExecutions) {
		return nil
	}
	return &r.TestSuiteExecutions[i]
}

// Case returns the case at the given indices, or nil.
func (r *TestRunExecutionWithChildren) Case(suiteIndex int, i int) *TestCaseExecution {
	suite := r.Suite(suiteIndex)
	if suite == nil || i < 0 || i >= len(suite.TestCaseExecutions) {
		return nil
	}
	return &suite.TestCaseExecutions[i]
}

// Step returns the step at the given indices, or nil.
func (r *TestRunExecutionWithChildren) Step(suiteIndex int, caseIndex int, i int) *TestStepExecution {
	ca := r.Case(suiteIndex, caseIndex)
	if ca == nil || i < 0 || i >= len(ca.TestStepExecutions) {
		return nil
	}
	return &ca.TestStepExecutions[i]
}
