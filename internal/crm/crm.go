// Package crm submits qualified leads to the downstream case-management
// system over its JSON HTTP API.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leadqualifier/leadqualifier/internal/models"
)

// DefaultRequestTimeout bounds a single case-creation call.
const DefaultRequestTimeout = 15 * time.Second

// CaseCreator opens a case in the downstream system for a completed intake.
type CaseCreator interface {
	CreateLead(ctx context.Context, form models.IntakeForm) (string, error)
}

// Client talks to the CRM's JSON API.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	timeout time.Duration
}

// Opts holds configuration for the CRM client.
type Opts struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Option configures the CRM client.
type Option func(*Opts)

func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// NewClient creates a CRM client. Base URL and API key fall back to the
// CRM_BASE_URL and CRM_API_KEY environment variables.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		BaseURL: os.Getenv("CRM_BASE_URL"),
		APIKey:  os.Getenv("CRM_API_KEY"),
		Timeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("CRM base URL must be provided")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid CRM base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}

	slog.Debug("crm.NewClient: created CRM client", "baseURL", parsed.String())
	return &Client{
		baseURL: parsed,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		timeout: cfg.Timeout,
	}, nil
}

// leadPayload is the wire shape the CRM expects for a new case.
type leadPayload struct {
	Name           string            `json:"name"`
	Email          string            `json:"email,omitempty"`
	Phone          string            `json:"phone,omitempty"`
	ContactMethod  string            `json:"contact_method"`
	Issues         []string          `json:"issues"`
	Details        map[string]string `json:"details,omitempty"`
	Question       string            `json:"question,omitempty"`
	QuestionAnswer string            `json:"question_answer,omitempty"`
	Source         string            `json:"source"`
}

type leadResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// CreateLead opens a case for the given intake form and returns the CRM's
// case ID. Failures wrap models.ErrUpstream so callers can classify them.
func (c *Client) CreateLead(ctx context.Context, form models.IntakeForm) (string, error) {
	payload := leadPayload{
		Name:           form.Name,
		Email:          form.Email,
		Phone:          form.Phone,
		ContactMethod:  string(form.ContactPreference),
		Issues:         form.Issues,
		Details:        form.Answers,
		Question:       form.Question,
		QuestionAnswer: form.QuestionAnswer,
		Source:         "intake_assistant",
	}

	// One idempotency key per finalize attempt keeps retries from opening
	// duplicate cases.
	var out leadResponse
	if err := c.doRequest(ctx, http.MethodPost, "leads", payload, &out, uuid.NewString()); err != nil {
		return "", fmt.Errorf("%w: create lead: %v", models.ErrUpstream, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: create lead: response missing case ID", models.ErrUpstream)
	}

	slog.Info("Client.CreateLead: case created", "caseID", out.ID)
	return out.ID, nil
}

func (c *Client) doRequest(ctx context.Context, method, reqPath string, body any, out any, idempotencyKey string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, reqPath)

	var reqBody io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleHTTPError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) handleHTTPError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)
	var apiErr errorResponse
	if err := json.Unmarshal(bodyBytes, &apiErr); err != nil || apiErr.Error == "" {
		apiErr.Error = strings.TrimSpace(string(bodyBytes))
	}
	return fmt.Errorf("http error (%d): %s", resp.StatusCode, apiErr.Error)
}
