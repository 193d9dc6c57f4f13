// Package core contains the main struct of the software.
package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"

	"github.com/project-chip/certification-tool-cli/internal/api"
	"github.com/project-chip/certification-tool-cli/internal/conf"
	"github.com/project-chip/certification-tool-cli/internal/logger"
	"github.com/project-chip/certification-tool-cli/internal/render"
)

var version = "v0.0.0"

var cli struct {
	Version  bool   `help:"print version"`
	Config   string `help:"path to a config file"`
	LogLevel string `help:"override the configured log level"`
	NoColor  bool   `help:"disable colored output"`

	RunTests         runTestsCmd         `cmd:"" help:"Create a test run from selected tests and execute it."`
	AvailableTests   availableTestsCmd   `cmd:"" help:"List the test cases available on the server."`
	TestRunExecution testRunExecutionCmd `cmd:"" help:"Show a past test run or fetch its log."`
	TestRunnerStatus testRunnerStatusCmd `cmd:"" help:"Show the current state of the test runner."`
	AbortTesting     abortTestingCmd     `cmd:"" help:"Cancel the testing in progress."`
}

// Core is an instance of the certification tool CLI.
type Core struct {
	ctx       context.Context
	ctxCancel func()
	conf      *conf.Conf
	logger    *logger.Logger
	renderer  *render.Renderer
	client    *api.Client

	// out
	done chan int
}

// New allocates a Core.
func New(args []string) (*Core, bool) {
	parser, err := kong.New(&cli,
		kong.Description("Matter certification test harness CLI "+version),
		kong.UsageOnError())
	if err != nil {
		panic(err)
	}

	kctx, err := parser.Parse(args)
	parser.FatalIfErrorf(err)

	if cli.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	p := &Core{
		ctx:       ctx,
		ctxCancel: ctxCancel,
		done:      make(chan int),
	}

	p.conf, err = conf.Load(cli.Config)
	if err != nil {
		fmt.Printf("ERR: %s\n", err)
		return nil, false
	}

	if cli.NoColor {
		p.conf.NoColor = true
	}
	if cli.LogLevel != "" {
		p.conf.LogLevel = cli.LogLevel
	}

	err = p.createResources()
	if err != nil {
		if p.logger != nil {
			p.Log(logger.Error, "%s", err)
		} else {
			fmt.Printf("ERR: %s\n", err)
		}
		p.closeResources()
		return nil, false
	}

	go p.run(kctx)

	return p, true
}

// Close closes Core and waits for all goroutines to return.
func (p *Core) Close() {
	p.ctxCancel()
	<-p.done
}

// Wait waits for the Core to exit and returns its exit status.
func (p *Core) Wait() int {
	return <-p.done
}

// Log is the main logging function.
func (p *Core) Log(level logger.Level, format string, args ...interface{}) {
	p.logger.Log(level, format, args...)
}

func (p *Core) createResources() error {
	level, err := p.conf.LoggerLevel()
	if err != nil {
		return err
	}

	p.logger = &logger.Logger{
		Level:        level,
		Destinations: []logger.Destination{logger.DestinationStdout},
	}
	err = p.logger.Initialize()
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)

	p.renderer = &render.Renderer{NoColor: p.conf.NoColor}
	p.renderer.Initialize()

	p.client = &api.Client{
		BaseURL: p.conf.BaseURL(),
		Parent:  p.logger,
	}
	p.client.Initialize()

	return nil
}

func (p *Core) closeResources() {
	if p.logger != nil {
		p.logger.Close()
		p.logger = nil
	}
}

func (p *Core) run(kctx *kong.Context) {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	go func() {
		select {
		case <-interrupt:
			p.Log(logger.Info, "shutting down gracefully")
			p.ctxCancel()
		case <-p.ctx.Done():
		}
	}()

	err := kctx.Run(p)

	status := 0
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error: interrupted")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		status = 1
	}

	p.ctxCancel()
	p.closeResources()
	p.done <- status
}
