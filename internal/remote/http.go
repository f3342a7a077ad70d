package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/agritrace/fieldmap/internal/model"
)

// Endpoints relative to the base URL.
const (
	PathLogin       = "/api/auth/login"
	PathFarmers     = "/api/farmers"
	PathFarmPlots   = "/api/farm-plots"
	PathInspections = "/api/inspections"
	PathHealth      = "/api/health"
)

// TokenSource returns the bearer token for pushes, empty when not logged in.
type TokenSource func(ctx context.Context) string

// HTTPClient is the JSON-over-HTTP Client.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *log.Logger
}

// NewHTTPClient creates a client for the service at baseURL.
func NewHTTPClient(baseURL string, token TokenSource, logger *log.Logger) *HTTPClient {
	if logger == nil {
		logger = log.Default()
	}
	if token == nil {
		token = func(context.Context) string { return "" }
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		token:  token,
		logger: logger,
	}
}

type loginResponse struct {
	Success bool       `json:"success"`
	Token   string     `json:"token"`
	User    model.User `json:"user"`
	Message string     `json:"message"`
}

// Login posts credentials to the login endpoint.
func (c *HTTPClient) Login(ctx context.Context, creds Credentials) (*Session, error) {
	var out loginResponse
	status, err := c.post(ctx, PathLogin, creds, false, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || !out.Success {
		if status == http.StatusOK {
			status = http.StatusUnauthorized
		}
		return nil, &StatusError{Status: status, Message: out.Message}
	}

	if out.User.Username == "" {
		out.User.Username = creds.Username
	}
	if out.User.UserType == "" {
		out.User.UserType = creds.UserType
	}
	return &Session{Token: out.Token, User: out.User}, nil
}

// PushFarmer posts a farmer registration.
func (c *HTTPClient) PushFarmer(ctx context.Context, f *model.FarmerRegistration) error {
	return c.push(ctx, PathFarmers, f)
}

// PushPlot posts a farm plot.
func (c *HTTPClient) PushPlot(ctx context.Context, p *model.MapPlot) error {
	return c.push(ctx, PathFarmPlots, p)
}

// PushInspection posts an inspection.
func (c *HTTPClient) PushInspection(ctx context.Context, i *model.Inspection) error {
	return c.push(ctx, PathInspections, i)
}

func (c *HTTPClient) push(ctx context.Context, path string, body any) error {
	var out struct {
		Message string `json:"message"`
	}
	status, err := c.post(ctx, path, body, true, &out)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return &StatusError{Status: status, Message: out.Message}
	}
	return nil
}

// post sends body as JSON and decodes a JSON answer into out when there is one.
func (c *HTTPClient) post(ctx context.Context, path string, body any, auth bool, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth {
		if tok := c.token(ctx); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Printf("[remote] POST %s failed: %v", path, err)
		return 0, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	c.logger.Printf("[remote] POST %s -> %d (%s)", path, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response %s: %w", path, err)
	}
	if len(bytes.TrimSpace(raw)) > 0 && out != nil {
		// Error pages are not always JSON; the status code still decides.
		_ = json.Unmarshal(raw, out)
	}
	return resp.StatusCode, nil
}
