package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/platinummonkey/deskbridge/pkg/observability"
)

// Role is a support platform account membership role
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleAgent         Role = "agent"
)

// Account is a support platform account (one per upstream organization)
type Account struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// User is a support platform user
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// APIError is returned for every non-2xx platform API response. Callers treat
// all remote failures uniformly; the status code and body exist for logging
// and for the link-idempotency check.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatwoot API error: %d - %s", e.StatusCode, e.Body)
}

// Client wraps the Chatwoot platform API (/platform/api/v1) with one method
// per remote capability
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	metrics    *observability.Metrics
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithMetrics attaches API call metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// NewClient creates a new platform API client
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateAccount provisions a new platform account
func (c *Client) CreateAccount(ctx context.Context, name string) (*Account, error) {
	account := &Account{}
	err := c.do(ctx, "create_account", http.MethodPost, "/accounts",
		map[string]string{"name": name}, account)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetAccount fetches a platform account by ID
func (c *Client) GetAccount(ctx context.Context, accountID int64) (*Account, error) {
	account := &Account{}
	err := c.do(ctx, "get_account", http.MethodGet,
		"/accounts/"+strconv.FormatInt(accountID, 10), nil, account)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// DeleteAccount deprovisions a platform account
func (c *Client) DeleteAccount(ctx context.Context, accountID int64) error {
	return c.do(ctx, "delete_account", http.MethodDelete,
		"/accounts/"+strconv.FormatInt(accountID, 10), nil, nil)
}

// CreateUser provisions a platform user. The generated password only has to
// satisfy the platform's strength validator; login always goes through the SSO
// path, so it is never used.
func (c *Client) CreateUser(ctx context.Context, name, email string) (*User, error) {
	user := &User{}
	err := c.do(ctx, "create_user", http.MethodPost, "/users", map[string]string{
		"name":     name,
		"email":    email,
		"password": generatePassword(),
	}, user)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser fetches a platform user by ID
func (c *Client) GetUser(ctx context.Context, userID int64) (*User, error) {
	user := &User{}
	err := c.do(ctx, "get_user", http.MethodGet,
		"/users/"+strconv.FormatInt(userID, 10), nil, user)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserLoginURL requests a one-time login URL for a platform user
func (c *Client) GetUserLoginURL(ctx context.Context, userID int64) (string, error) {
	var result struct {
		URL string `json:"url"`
	}
	err := c.do(ctx, "get_login_url", http.MethodGet,
		"/users/"+strconv.FormatInt(userID, 10)+"/login", nil, &result)
	if err != nil {
		return "", err
	}
	return result.URL, nil
}

// AddAccountUser links a platform user to an account with the given role
func (c *Client) AddAccountUser(ctx context.Context, accountID, userID int64, role Role) error {
	return c.do(ctx, "add_account_user", http.MethodPost,
		"/accounts/"+strconv.FormatInt(accountID, 10)+"/account_users",
		map[string]interface{}{"user_id": userID, "role": role}, nil)
}

// RemoveAccountUser unlinks a platform user from an account
func (c *Client) RemoveAccountUser(ctx context.Context, accountID, userID int64) error {
	return c.do(ctx, "remove_account_user", http.MethodDelete,
		"/accounts/"+strconv.FormatInt(accountID, 10)+"/account_users",
		map[string]interface{}{"user_id": userID}, nil)
}

// do executes one platform API call. Any non-2xx status becomes an *APIError
// carrying the status code and response body.
func (c *Client) do(ctx context.Context, operation, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/platform/api/v1"+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("api_access_token", c.token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.PlatformAPICallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.PlatformAPICallsTotal.WithLabelValues(operation, "error").Inc()
		}
		return fmt.Errorf("failed to call chatwoot API: %w", err)
	}
	defer resp.Body.Close()

	if c.metrics != nil {
		c.metrics.PlatformAPICallsTotal.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
