// Package syncano is a small client for the parts of the Syncano management
// API the suite provisions against: account login, instances and scripts.
package syncano

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kuitang/dashboard-e2e/internal/errs"
	"github.com/kuitang/dashboard-e2e/internal/logutil"
	"github.com/kuitang/dashboard-e2e/internal/obs"
)

const (
	// DefaultBaseURL is the production management API.
	DefaultBaseURL = "https://api.syncano.io"

	apiVersion          = "v1.1"
	defaultHTTPTimeout  = 30 * time.Second
	maxErrorBodyBytes   = 4096
	maxLoggedValueChars = 240
)

// Credentials is an account email/password pair.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Account is the result of a login.
type Account struct {
	ID         int    `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	AccountKey string `json:"account_key"`
}

// Instance is a Syncano instance.
type Instance struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Script is a script snippet inside an instance.
type Script struct {
	ID          int    `json:"id,omitempty"`
	Label       string `json:"label"`
	Source      string `json:"source"`
	RuntimeName string `json:"runtime_name"`
}

// Options configures a Client.
type Options struct {
	// RPS limits outgoing requests per second. Zero disables limiting.
	RPS float64
	// HTTPClient overrides the default client. Its transport is wrapped with
	// request logging.
	HTTPClient *http.Client
}

// Client talks to one management API endpoint. It is not safe to log in
// from several goroutines at once.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	accountKey string
}

// New returns a client for baseURL (DefaultBaseURL when empty).
func New(baseURL string, opts Options) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: defaultHTTPTimeout}
	}
	hc := *base
	hc.Transport = &obs.Transport{Pkg: "syncano", Base: base.Transport}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &hc,
	}
	if opts.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}
	return c
}

// Login authenticates and keeps the returned account key for later calls.
func (c *Client) Login(ctx context.Context, creds Credentials) (*Account, error) {
	if strings.TrimSpace(creds.Email) == "" || creds.Password == "" {
		return nil, errs.New(errs.InvalidArgument, "login requires an email and a password")
	}
	var acct Account
	if err := c.do(ctx, http.MethodPost, "/account/auth/", creds, &acct); err != nil {
		return nil, err
	}
	if acct.AccountKey == "" {
		return nil, errs.New(errs.Unauthenticated, "login response carried no account key")
	}
	c.accountKey = acct.AccountKey
	return &acct, nil
}

// CreateInstance creates an instance named name.
func (c *Client) CreateInstance(ctx context.Context, name string) (*Instance, error) {
	if err := c.requireLogin(); err != nil {
		return nil, err
	}
	var inst Instance
	if err := c.do(ctx, http.MethodPost, "/instances/", Instance{Name: name}, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// DeleteInstance deletes the named instance and everything in it.
func (c *Client) DeleteInstance(ctx context.Context, name string) error {
	if err := c.requireLogin(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, "/instances/"+url.PathEscape(name)+"/", nil, nil)
}

// CreateScript creates a script snippet inside instance.
func (c *Client) CreateScript(ctx context.Context, instance string, script Script) (*Script, error) {
	if err := c.requireLogin(); err != nil {
		return nil, err
	}
	var created Script
	path := "/instances/" + url.PathEscape(instance) + "/snippets/scripts/"
	if err := c.do(ctx, http.MethodPost, path, script, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) requireLogin() error {
	if c.accountKey == "" {
		return errs.New(errs.FailedPrecondition, "not logged in")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errs.Wrap(errs.Timeout, fmt.Sprintf("%s %s: rate limit wait", method, path), err)
		}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errs.Wrap(errs.Internal, "encode request", err)
		}
		obs.From(ctx).With("pkg", "syncano").Debug("api_request",
			"method", method,
			"path", path,
			"body", logutil.TruncateForLog(logutil.RedactJSON(data), maxLoggedValueChars),
		)
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+apiVersion+path, body)
	if err != nil {
		return errs.Wrap(errs.Internal, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accountKey != "" {
		req.Header.Set("X-API-KEY", c.accountKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errs.Wrap(errs.Timeout, fmt.Sprintf("%s %s", method, path), err)
		}
		return errs.Wrap(errs.Unavailable, fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &APIError{
			Method:  method,
			Path:    path,
			Status:  resp.StatusCode,
			Message: errorMessage(raw),
		}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.Unavailable, fmt.Sprintf("%s %s: decode response", method, path), err)
	}
	return nil
}

// APIError is a non-2xx management API response.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// Code maps the HTTP status to an error code.
func (e *APIError) Code() errs.Code {
	return errs.FromHTTPStatus(e.Status)
}

// As lets errs.CodeOf see the status-derived code.
func (e *APIError) As(target any) bool {
	coded, ok := target.(**errs.Error)
	if !ok {
		return false
	}
	*coded = &errs.Error{Code: e.Code(), Message: e.Error()}
	return true
}

// errorMessage flattens the API's error body: {"detail": "..."} or
// field errors like {"name": ["This field must be unique."]}.
func errorMessage(raw []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return logutil.TruncateForLog(string(raw), maxLoggedValueChars)
	}
	if detail, ok := payload["detail"].(string); ok {
		return detail
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := payload[k].(type) {
		case []any:
			msgs := make([]string, 0, len(v))
			for _, m := range v {
				msgs = append(msgs, fmt.Sprint(m))
			}
			parts = append(parts, k+": "+strings.Join(msgs, " "))
		default:
			parts = append(parts, fmt.Sprintf("%s: %v", k, v))
		}
	}
	return strings.Join(parts, "; ")
}
