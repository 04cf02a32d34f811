// Package remote talks to the attest API on behalf of an assessment view.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"attest/api/internal/assessment"
)

const (
	CreateEvidenceAction = "/evidences?/create"
	sessionPath          = "/api/session"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) StatusCode() int { return e.Status }

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("remote: %d %s", e.Status, http.StatusText(e.Status))
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UpdateRequirementAssessment posts one encoded partial update to
// `{actionPath}?/updateRequirementAssessment`.
func (c *Client) UpdateRequirementAssessment(ctx context.Context, req assessment.Request) error {
	return c.do(ctx, http.MethodPost, req.ActionPath+assessment.UpdateQuery, bytes.NewReader(req.Body), nil)
}

type EvidenceInput struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Requirements []string `json:"requirements"`
}

func (c *Client) CreateEvidence(ctx context.Context, input EvidenceInput) (assessment.CreatedEvidence, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return assessment.CreatedEvidence{}, err
	}
	var created assessment.CreatedEvidence
	if err := c.do(ctx, http.MethodPost, CreateEvidenceAction, bytes.NewReader(body), &created); err != nil {
		return assessment.CreatedEvidence{}, err
	}
	return created, nil
}

func (c *Client) DeleteEvidence(ctx context.Context, evidenceID string) error {
	return c.submitDeletion(ctx, assessment.DeleteEvidenceAction, evidenceID)
}

func (c *Client) submitDeletion(ctx context.Context, action, id string) error {
	body, err := json.Marshal(map[string]string{"id": id})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, action, bytes.NewReader(body), nil)
}

type sessionInfo struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"userId"`
	Role          string `json:"role"`
	ThirdParty    bool   `json:"thirdParty"`
}

// LoadPage fetches the requirement list and the viewer's session together.
func (c *Client) LoadPage(ctx context.Context, complianceAssessmentID string) (assessment.Page, error) {
	var (
		page    assessment.Page
		session sessionInfo
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		path := "/api/compliance-assessments/" + url.PathEscape(complianceAssessmentID) + "/requirements-list"
		return c.do(gctx, http.MethodGet, path, nil, &page)
	})
	g.Go(func() error {
		return c.do(gctx, http.MethodGet, sessionPath, nil, &session)
	})
	if err := g.Wait(); err != nil {
		return assessment.Page{}, err
	}
	page.Viewer = assessment.Viewer{
		UserID:     session.UserID,
		Role:       session.Role,
		ThirdParty: session.ThirdParty,
	}
	return page, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("remote: build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Status: resp.StatusCode}
		var envelope struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&envelope) == nil {
			statusErr.Code = envelope.Code
			statusErr.Message = envelope.Error
		}
		return statusErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode %s: %w", path, err)
	}
	return nil
}

// Login exchanges a user name for a bearer token.
func (c *Client) Login(ctx context.Context, name string) (string, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/session/login", bytes.NewReader(body), &out); err != nil {
		return "", err
	}
	return out.Token, nil
}
