package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/project-chip/certification-tool-cli/internal/logger"
	"github.com/project-chip/certification-tool-cli/internal/prompt"
	"github.com/project-chip/certification-tool-cli/internal/session"
)

type runTestsCmd struct {
	TestsList        string `name:"tests-list" required:"" help:"Comma-separated test case ids, e.g. TC-ACE-1.1,TC_ACE_1_3."`
	Title            string `help:"Title of the test run. Defaults to a timestamp."`
	ProjectID        int    `name:"project-id" default:"1" help:"Project the test run belongs to."`
	PicsConfigFolder string `name:"pics-config-folder" type:"existingdir" help:"Folder with PICS XML files, imported into the project by the backend."`
}

var logNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// openRunLogger opens a logger that duplicates the session log into a
// per-run file under the configured log directory.
func (p *Core) openRunLogger(title string) (string, *logger.Logger, error) {
	err := os.MkdirAll(p.conf.LogDir, 0o755)
	if err != nil {
		return "", nil, err
	}

	name := logNameSanitizer.ReplaceAllString(title, "_") +
		"_" + time.Now().Format("20060102_150405") + ".log"
	fpath := filepath.Join(p.conf.LogDir, name)

	level, err := p.conf.LoggerLevel()
	if err != nil {
		return "", nil, err
	}

	l := &logger.Logger{
		Level:        level,
		Destinations: []logger.Destination{logger.DestinationStdout, logger.DestinationFile},
		File:         fpath,
	}
	err = l.Initialize()
	if err != nil {
		return "", nil, err
	}

	return fpath, l, nil
}

func (c *runTestsCmd) Run(p *Core) error {
	if c.Title == "" {
		c.Title = time.Now().Format("2006-01-02-15:04:05")
	}

	ids, err := parseTestIDs(c.TestsList)
	if err != nil {
		return err
	}

	if c.PicsConfigFolder != "" {
		p.Log(logger.Info, "PICS files in '%s' are imported into project %d by the backend",
			c.PicsConfigFolder, c.ProjectID)
	}

	if cli.Config == "" {
		projectConf, err2 := p.client.DefaultProjectConfig(p.ctx)
		if err2 != nil {
			p.Log(logger.Warn, "could not fetch the default project configuration: %v", err2)
		} else {
			p.Log(logger.Debug, "default project configuration: %s", projectConf)
		}
	}

	projects, err := p.client.Projects(p.ctx)
	if err != nil {
		p.Log(logger.Warn, "could not list projects: %v", err)
	} else {
		found := false
		for _, project := range projects {
			if project.ID == c.ProjectID {
				found = true
				break
			}
		}
		if !found {
			p.Log(logger.Warn, "project %d is not in the server's project list", c.ProjectID)
		}
	}

	collections, err := p.client.TestCollections(p.ctx)
	if err != nil {
		return err
	}

	selection, err := buildTestSelection(collections, ids)
	if err != nil {
		return err
	}

	buf, err := json.MarshalIndent(selection, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("Selected tests: %s\n", buf)

	logPath, runLogger, err := p.openRunLogger(c.Title)
	if err != nil {
		return err
	}
	defer runLogger.Close()

	// REST calls made during the run end up in the run log too.
	p.client.Parent = runLogger
	defer func() { p.client.Parent = p.logger }()

	fmt.Printf("Creating new test run with title: %s\n", c.Title)

	run, err := p.client.CreateTestRun(p.ctx, c.Title, c.ProjectID, selection)
	if err != nil {
		return err
	}

	fmt.Printf("Starting Test run: Title: %s, id: %d\n", run.Title, run.ID)

	started, err := p.client.StartTestRun(p.ctx, run.ID)
	if err != nil {
		return err
	}

	input := &prompt.LineReader{}
	input.Initialize()

	sess := &session.Session{
		Conf:     p.conf,
		API:      p.client,
		TestRun:  started,
		Renderer: p.renderer,
		Input:    input,
		Parent:   runLogger,
	}
	err = sess.Run(p.ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Log output in: '%s'\n", logPath)
	return nil
}
