package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"detection-backend/pkg/api"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

var ErrRunFailed = errors.New("training run failed")

// Client talks to the run API served by cmd/api or cmd/local.
type Client struct {
	client *resty.Client
}

func New(baseURL string) *Client {
	return &Client{
		client: resty.New().SetBaseURL(baseURL).SetTimeout(60 * time.Second),
	}
}

type apiError struct {
	method string
	path   string
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.method, e.path, e.status, e.body)
}

// StatusCode returns the http status of a failed request, or 0 if err did
// not come from the server.
func StatusCode(err error) int {
	var aerr *apiError
	if errors.As(err, &aerr) {
		return aerr.status
	}
	return 0
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) (*resty.Response, error) {
	req := c.client.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	res, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}

	if !res.IsSuccess() {
		return res, &apiError{method: method, path: path, status: res.StatusCode(), body: res.String()}
	}

	return res, nil
}

func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	return err
}

func (c *Client) SubmitRun(ctx context.Context, req api.SubmitRunRequest) (uuid.UUID, error) {
	var res api.SubmitRunResponse
	if _, err := c.do(ctx, http.MethodPost, "/runs", req, &res); err != nil {
		return uuid.Nil, err
	}
	return res.RunId, nil
}

func (c *Client) GetRun(ctx context.Context, runId uuid.UUID) (api.Run, error) {
	var run api.Run
	_, err := c.do(ctx, http.MethodGet, "/runs/"+runId.String(), nil, &run)
	return run, err
}

// ListRuns lists runs, optionally only those with the given status.
func (c *Client) ListRuns(ctx context.Context, status string) ([]api.Run, error) {
	path := "/runs"
	if status != "" {
		path += "?status=" + status
	}

	var runs []api.Run
	_, err := c.do(ctx, http.MethodGet, path, nil, &runs)
	return runs, err
}

func (c *Client) ListArtifacts(ctx context.Context, runId uuid.UUID) ([]api.Artifact, error) {
	var artifacts []api.Artifact
	_, err := c.do(ctx, http.MethodGet, "/runs/"+runId.String()+"/artifacts", nil, &artifacts)
	return artifacts, err
}

func (c *Client) DownloadArtifact(ctx context.Context, runId uuid.UUID, key string) ([]byte, error) {
	res, err := c.do(ctx, http.MethodGet, "/runs/"+runId.String()+"/artifacts/"+key, nil, nil)
	if err != nil {
		return nil, err
	}
	return res.Body(), nil
}

// DeleteRun removes a finished run together with its stored artifacts.
func (c *Client) DeleteRun(ctx context.Context, runId uuid.UUID) error {
	_, err := c.do(ctx, http.MethodDelete, "/runs/"+runId.String(), nil, nil)
	return err
}

// WaitForRun polls the run until it completes or fails. A failed run is
// returned together with an error wrapping ErrRunFailed.
func (c *Client) WaitForRun(ctx context.Context, runId uuid.UUID, interval time.Duration) (api.Run, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run, err := c.GetRun(ctx, runId)
		if err != nil {
			return api.Run{}, err
		}

		switch run.Status {
		case "COMPLETED":
			return run, nil
		case "FAILED":
			if len(run.Errors) > 0 {
				last := run.Errors[len(run.Errors)-1]
				return run, fmt.Errorf("%w: %s: %s", ErrRunFailed, last.Origin, last.Error)
			}
			return run, ErrRunFailed
		}

		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}
