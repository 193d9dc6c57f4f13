package core

import (
	"encoding/json"
	"fmt"

	"github.com/project-chip/certification-tool-cli/internal/defs"
	"github.com/project-chip/certification-tool-cli/internal/render"
)

type testRunExecutionCmd struct {
	ID   int  `required:"" help:"Id of the test run execution."`
	Log  bool `help:"Fetch the log of the test run instead of its summary."`
	JSON bool `help:"Print the raw JSON response for more details."`
}

func (c *testRunExecutionCmd) Run(p *Core) error {
	if c.Log {
		if c.JSON {
			return fmt.Errorf("--json is not applicable when fetching logs")
		}

		text, err := p.client.TestRunLog(p.ctx, c.ID)
		if err != nil {
			return err
		}
		fmt.Print(text)
		return nil
	}

	run, err := p.client.TestRun(p.ctx, c.ID)
	if err != nil {
		return err
	}

	if c.JSON {
		buf, err2 := json.MarshalIndent(run, "", "  ")
		if err2 != nil {
			return err2
		}
		fmt.Println(string(buf))
		return nil
	}

	fmt.Println(p.renderer.UpdateLine(defs.UpdateLevelRun, run.Title, run.State))

	for _, suite := range run.TestSuiteExecutions {
		fmt.Println(p.renderer.UpdateLine(defs.UpdateLevelSuite,
			suite.TestSuiteMetadata.Title, suite.State))

		for _, ca := range suite.TestCaseExecutions {
			fmt.Println(p.renderer.UpdateLine(defs.UpdateLevelCase,
				ca.TestCaseMetadata.Title, ca.State))

			for _, step := range ca.TestStepExecutions {
				fmt.Println(p.renderer.UpdateLine(defs.UpdateLevelStep,
					step.Title, step.State))
			}
		}
	}

	return nil
}

type testRunnerStatusCmd struct {
	JSON bool `help:"Print the raw JSON response for more details."`
}

func (c *testRunnerStatusCmd) Run(p *Core) error {
	status, err := p.client.RunnerStatus(p.ctx)
	if err != nil {
		return err
	}

	if c.JSON {
		buf, err2 := json.MarshalIndent(status, "", "  ")
		if err2 != nil {
			return err2
		}
		fmt.Println(string(buf))
		return nil
	}

	fmt.Println()
	fmt.Println(p.renderer.Text("Matter Test Runner Status", render.TextHeader))
	fmt.Printf("%s: %s\n", p.renderer.Text("State", render.TextKey),
		p.renderer.RunnerState(status.State))

	if status.TestRunExecutionID != nil {
		fmt.Printf("%s: %d\n", p.renderer.Text("Active Test Run ID", render.TextKey),
			*status.TestRunExecutionID)
	} else {
		fmt.Println("No active test run")
	}

	return nil
}

type abortTestingCmd struct{}

func (c *abortTestingCmd) Run(p *Core) error {
	detail, err := p.client.AbortTesting(p.ctx)
	if err != nil {
		return err
	}
	fmt.Println(detail)
	return nil
}
