// Package mgmtapi is a thin client for the backend-hosting provider's
// management API. It performs no retries; the readiness poll in
// WaitHealthy is the only bounded wait in the system.
package mgmtapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/patronworks/org-provisioning-service/internal/config"
	"github.com/patronworks/org-provisioning-service/internal/model"
)

// ErrWaitTimeout is wrapped into the error returned when a project does
// not become healthy within the poll budget.
var ErrWaitTimeout = errors.New("readiness poll timed out")

// Client issues authenticated requests to the management API.
type Client struct {
	baseURL string
	token   string
	orgID   string
	region  string
	httpc   *http.Client
}

// NewClient builds a client from the management-API configuration.
// Token presence is validated by config.Load before this is reached.
func NewClient(cfg config.MgmtAPIConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		orgID:   cfg.OrgID,
		region:  cfg.Region,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateProject creates a new backend project and returns the provider's
// project record.
func (c *Client) CreateProject(ctx context.Context, name, dbPassword string) (*model.Project, error) {
	body := map[string]string{
		"name":            name,
		"organization_id": c.orgID,
		"region":          c.region,
		"db_pass":         dbPassword,
	}
	var proj model.Project
	if err := c.do(ctx, http.MethodPost, "/projects", body, &proj); err != nil {
		return nil, err
	}
	return &proj, nil
}

// GetProjectStatus fetches the current provider status for a project.
func (c *Client) GetProjectStatus(ctx context.Context, ref string) (string, error) {
	var proj model.Project
	if err := c.do(ctx, http.MethodGet, "/projects/"+ref, nil, &proj); err != nil {
		return "", err
	}
	return proj.Status, nil
}

type apiKey struct {
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
}

// GetAPIKeys retrieves the anon and service-role keys for a project.
// A response missing either key is a malformed provider response.
func (c *Client) GetAPIKeys(ctx context.Context, ref string) (anon, serviceRole string, err error) {
	var keys []apiKey
	if err := c.do(ctx, http.MethodGet, "/projects/"+ref+"/api-keys", nil, &keys); err != nil {
		return "", "", err
	}
	for _, k := range keys {
		switch k.Name {
		case "anon":
			anon = k.APIKey
		case "service_role":
			serviceRole = k.APIKey
		}
	}
	if anon == "" || serviceRole == "" {
		return "", "", fmt.Errorf("project %s: provider response missing anon or service_role key", ref)
	}
	return anon, serviceRole, nil
}

// PauseProject pauses a project.
func (c *Client) PauseProject(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodPost, "/projects/"+ref+"/pause", nil, nil)
}

// RestoreProject restores a paused project.
func (c *Client) RestoreProject(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodPost, "/projects/"+ref+"/restore", nil, nil)
}

// DeleteProject deletes a project. Callers treat a failure here as
// best-effort; the control-plane record is the source of truth.
func (c *Client) DeleteProject(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodDelete, "/projects/"+ref, nil, nil)
}

// WaitHealthy polls the project status every interval until it reaches
// ACTIVE_HEALTHY or the wall-clock budget elapses.
func (c *Client) WaitHealthy(ctx context.Context, ref string, interval, budget time.Duration) error {
	start := time.Now()
	for {
		status, err := c.GetProjectStatus(ctx, ref)
		if err != nil {
			return err
		}
		if status == model.ProjectStatusHealthy {
			return nil
		}
		log.Info().Str("project_ref", ref).Str("status", status).Msg("Waiting for project to become healthy")
		if time.Since(start)+interval > budget {
			return fmt.Errorf("project %s not healthy after %s, last status %q: %w",
				ref, budget, status, ErrWaitTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("management api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("management api: %s %s: reading response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The raw body is carried verbatim for operator diagnostics.
		return fmt.Errorf("management api: %s %s: status %d: %s", method, path, resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("management api: %s %s: decoding response: %w", method, path, err)
		}
	}
	return nil
}

// TenantDatabaseURL derives the tenant database connection string from a
// project reference and the shared database password.
func TenantDatabaseURL(ref, password string) string {
	return fmt.Sprintf("postgres://postgres:%s@db.%s.patronbackend.io:5432/postgres",
		url.QueryEscape(password), ref)
}
