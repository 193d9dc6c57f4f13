// Package api contains the REST client of the test harness backend.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/project-chip/certification-tool-cli/internal/logger"
)

const clientTimeout = 30 * time.Second

// Error is returned when the backend answers with a non-2xx status.
type Error struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e Error) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// Client is a REST client of the test harness backend.
type Client struct {
	BaseURL string
	Parent  logger.Writer

	rc *resty.Client
}

// Initialize initializes a Client.
func (c *Client) Initialize() {
	c.rc = resty.New().
		SetBaseURL(c.BaseURL).
		SetTimeout(clientTimeout).
		SetHeader("Accept", "application/json")
}

// Log implements logger.Writer.
func (c *Client) Log(level logger.Level, format string, args ...interface{}) {
	c.Parent.Log(level, "[api] "+format, args...)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	c.Log(logger.Debug, "GET %s", path)

	res, err := c.rc.R().
		SetContext(ctx).
		SetResult(out).
		Get(path)
	if err != nil {
		return err
	}
	if res.IsError() {
		return Error{StatusCode: res.StatusCode(), Body: string(res.Body())}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	c.Log(logger.Debug, "POST %s", path)

	req := c.rc.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	res, err := req.Post(path)
	if err != nil {
		return err
	}
	if res.IsError() {
		return Error{StatusCode: res.StatusCode(), Body: string(res.Body())}
	}
	return nil
}

// TestCollections returns the test catalog.
func (c *Client) TestCollections(ctx context.Context) (*TestCollections, error) {
	var out TestCollections
	err := c.get(ctx, "/test_collections", &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTestRun creates a test run from a test selection.
func (c *Client) CreateTestRun(
	ctx context.Context,
	title string,
	projectID int,
	selection TestSelection,
) (*TestRunExecutionWithChildren, error) {
	body := map[string]interface{}{
		"test_run_execution_in": map[string]interface{}{
			"title":      title,
			"project_id": projectID,
		},
		"selected_tests": selection,
	}

	var out TestRunExecutionWithChildren
	err := c.post(ctx, "/test_run_executions", body, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// StartTestRun starts a previously created test run.
func (c *Client) StartTestRun(ctx context.Context, id int) (*TestRunExecutionWithChildren, error) {
	var out TestRunExecutionWithChildren
	err := c.post(ctx, "/test_run_executions/"+strconv.Itoa(id)+"/start", nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// TestRun returns a test run with its children.
func (c *Client) TestRun(ctx context.Context, id int) (*TestRunExecutionWithChildren, error) {
	var out TestRunExecutionWithChildren
	err := c.get(ctx, "/test_run_executions/"+strconv.Itoa(id), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// TestRunLog downloads the log of a test run.
func (c *Client) TestRunLog(ctx context.Context, id int) (string, error) {
	res, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("json_entries", "false").
		Get("/test_run_executions/" + strconv.Itoa(id) + "/log")
	if err != nil {
		return "", err
	}
	if res.IsError() {
		return "", Error{StatusCode: res.StatusCode(), Body: string(res.Body())}
	}
	return string(res.Body()), nil
}

// RunnerStatus returns the state of the remote test runner.
func (c *Client) RunnerStatus(ctx context.Context) (*TestRunnerStatus, error) {
	var out TestRunnerStatus
	err := c.get(ctx, "/test_run_executions/status", &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AbortTesting cancels the testing in progress.
func (c *Client) AbortTesting(ctx context.Context) (string, error) {
	var out map[string]interface{}
	err := c.post(ctx, "/test_run_executions/abort_testing", nil, &out)
	if err != nil {
		return "", err
	}

	if detail, ok := out["detail"].(string); ok {
		return detail, nil
	}
	return "Testing aborted", nil
}

// Projects lists the projects on the server.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var out []Project
	err := c.get(ctx, "/projects", &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DefaultProjectConfig returns the default project configuration.
func (c *Client) DefaultProjectConfig(ctx context.Context) (json.RawMessage, error) {
	res, err := c.rc.R().
		SetContext(ctx).
		Get("/projects/default_config")
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, Error{StatusCode: res.StatusCode(), Body: string(res.Body())}
	}
	return json.RawMessage(res.Body()), nil
}

// UploadFile uploads a file as multipart/form-data, field name "file".
// It returns true when the server answered 200.
func (c *Client) UploadFile(ctx context.Context, fpath string) (bool, error) {
	res, err := c.rc.R().
		SetContext(ctx).
		SetFile("file", fpath).
		Post("/test_run_executions/file_upload/")
	if err != nil {
		return false, err
	}
	return res.StatusCode() == 200, nil
}
