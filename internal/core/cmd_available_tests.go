package core

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v2"

	"github.com/project-chip/certification-tool-cli/internal/render"
)

type availableTestsCmd struct {
	JSON bool `help:"Print the raw JSON response for more details."`
}

func (c *availableTestsCmd) Run(p *Core) error {
	collections, err := p.client.TestCollections(p.ctx)
	if err != nil {
		return fmt.Errorf("could not fetch the available tests: %w", err)
	}

	buf, err := json.MarshalIndent(collections, "", "  ")
	if err != nil {
		return err
	}

	if c.JSON {
		fmt.Println(string(buf))
		return nil
	}

	// re-encode as YAML, which reads better for a nested catalog.
	var tree map[string]interface{}
	err = json.Unmarshal(buf, &tree)
	if err != nil {
		return err
	}

	dump, err := yaml.Marshal(tree)
	if err != nil {
		return err
	}

	fmt.Print(p.renderer.Text(string(dump), render.TextDump))
	return nil
}
