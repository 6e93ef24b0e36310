package cspclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// mockToken is the sentinel CSP_API_TOKEN value that switches the client
// into mock mode.
const mockToken = "mock"

// ActiveSandbox is one entry in the CSP's inventory of sandboxes it
// currently considers live, already mapped from the upstream's field names
// into the broker's: upstream csp_id -> SandboxID, upstream name -> Name,
// upstream id (the identity path used to destroy) -> ExternalID, upstream
// ISO-8601 created_at -> CreatedAt as seconds-since-epoch.
type ActiveSandbox struct {
	SandboxID  string `json:"sandbox_id" yaml:"sandbox_id"`
	Name       string `json:"name" yaml:"name"`
	ExternalID string `json:"external_id" yaml:"external_id"`
	CreatedAt  int64  `json:"created_at" yaml:"created_at"`
}

// Client talks to the CSP sandbox inventory API.
type Client interface {
	ListActiveSandboxes(ctx context.Context) ([]ActiveSandbox, error)
	Destroy(ctx context.Context, externalID string) error
}

// Config configures an HTTP-backed Client.
type Config struct {
	BaseURL        string
	APIToken       string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	FixturePath    string // used only when APIToken == "mock"
}

// New builds a Client. If cfg.APIToken is the mock sentinel, it returns a
// fixture-backed client instead of an HTTP one.
func New(cfg Config) (Client, error) {
	if cfg.APIToken == mockToken {
		return newMockClient(cfg.FixturePath)
	}
	return newHTTPClient(cfg), nil
}

type httpClient struct {
	baseURL  string
	apiToken string
	http     *http.Client
}

func newHTTPClient(cfg Config) *httpClient {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 5 * time.Second
	}

	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: readTimeout,
	}

	return &httpClient{
		baseURL:  cfg.BaseURL,
		apiToken: cfg.APIToken,
		http: &http.Client{
			Transport: transport,
			Timeout:   connectTimeout + readTimeout,
		},
	}
}

// accountEntry is the upstream CSP's wire shape for one account in the
// inventory listing, named the way the CSP names them rather than the way
// the broker does; mapAccount translates one into an ActiveSandbox.
type accountEntry struct {
	CspID     string `json:"csp_id"`
	Name      string `json:"name"`
	ID        string `json:"id"`
	Type      string `json:"type"`
	State     string `json:"state"`
	CreatedAt string `json:"created_at"`
}

func (c *httpClient) ListActiveSandboxes(ctx context.Context) ([]ActiveSandbox, error) {
	var out []ActiveSandbox
	cursor := ""
	for {
		page, next, err := c.listAccountsPage(ctx, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

func (c *httpClient) listAccountsPage(ctx context.Context, cursor string) ([]ActiveSandbox, string, error) {
	url := c.baseURL + "/accounts"
	if cursor != "" {
		url += "?cursor=" + cursor
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("cspclient: build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("cspclient: list active sandboxes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("cspclient: list active sandboxes: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Accounts   []accountEntry `json:"accounts"`
		NextCursor string         `json:"next_cursor"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", fmt.Errorf("cspclient: decode list response: %w", err)
	}

	out := make([]ActiveSandbox, 0, len(body.Accounts))
	for _, a := range body.Accounts {
		if a.Type != "sandbox" || a.State != "active" {
			continue
		}
		out = append(out, mapAccount(a))
	}
	return out, body.NextCursor, nil
}

func mapAccount(a accountEntry) ActiveSandbox {
	var createdAt int64
	if t, err := time.Parse(time.RFC3339, a.CreatedAt); err == nil {
		createdAt = t.Unix()
	}
	return ActiveSandbox{
		SandboxID:  a.CspID,
		Name:       a.Name,
		ExternalID: a.ID,
		CreatedAt:  createdAt,
	}
}

func (c *httpClient) Destroy(ctx context.Context, externalID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/"+externalID, nil)
	if err != nil {
		return fmt.Errorf("cspclient: build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cspclient: destroy %s: %w", externalID, err)
	}
	defer resp.Body.Close()

	// A 404 here means the CSP already reclaimed the sandbox on its own;
	// that is the outcome cleanup wants, not a failure.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("cspclient: destroy %s: unexpected status %d", externalID, resp.StatusCode)
	}
	return nil
}

func (c *httpClient) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")
}
