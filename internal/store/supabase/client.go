// Package supabase serves the store contract over a Supabase project's
// PostgREST and Auth endpoints.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/postgrest-go"
	"github.com/tidwall/gjson"
)

// Client bundles the PostgREST and GoTrue clients of one project.
type Client struct {
	rest      *postgrest.Client
	auth      gotrue.Client
	transport http.RoundTripper
	timeout   time.Duration
}

// Config holds client configuration.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	// Transport carries every request. Nil means http.DefaultTransport.
	Transport http.RoundTripper
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	base := strings.TrimSuffix(cfg.URL, "/")
	rest, err := postgrest.NewClientWithError(base+"/rest/v1", "public", map[string]string{
		"apikey":        cfg.APIKey,
		"Authorization": "Bearer " + cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("supabase URL: %w", err)
	}
	rest.Transport.Parent = transport

	return &Client{
		rest:      rest,
		auth:      gotrue.New("", cfg.APIKey).WithCustomGoTrueURL(base + "/auth/v1"),
		transport: transport,
		timeout:   timeout,
	}, nil
}

// From starts a query against a table.
func (c *Client) From(table string) *postgrest.QueryBuilder {
	return c.rest.From(table)
}

// execute runs q within the client timeout and decodes the body into out.
// Writes issued with return=minimal have no body and leave out untouched.
func (c *Client) execute(ctx context.Context, q *postgrest.FilterBuilder, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, _, err := q.ExecuteWithContext(ctx)
	if err != nil {
		return restError(err)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// User is the subset of a GoTrue user the portal reads.
type User struct {
	ID    string
	Email string
	Role  string
}

// GetUser returns the user an access token belongs to.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	auth := c.auth.WithToken(accessToken).WithClient(http.Client{
		Timeout:   c.timeout,
		Transport: contextTransport{ctx: ctx, next: c.transport},
	})

	resp, err := auth.GetUser()
	if err != nil {
		return nil, authError(err)
	}
	user := &User{Email: resp.Email, Role: resp.Role}
	if resp.ID != uuid.Nil {
		user.ID = resp.ID.String()
	}
	return user, nil
}

// contextTransport binds requests to ctx for clients that build their own.
type contextTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (t contextTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	return t.next.RoundTrip(r.WithContext(t.ctx))
}

// APIError is a PostgREST or GoTrue error response. PostgREST errors do not
// carry the HTTP status, so StatusCode is only set for GoTrue.
type APIError struct {
	StatusCode int
	// Code is the Postgres SQLSTATE or PostgREST error code, when present.
	Code    string
	Message string
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("supabase error %d: %s", e.StatusCode, e.Message)
	case e.Code != "":
		return fmt.Sprintf("supabase error (%s): %s", e.Code, e.Message)
	default:
		return "supabase error: " + e.Message
	}
}

var (
	restErrorPattern = regexp.MustCompile(`(?s)^\(([^)]*)\) (.*)$`)
	authErrorPattern = regexp.MustCompile(`(?s)^response status code (\d+)(?:: (.*))?$`)
)

// restError lifts the "(code) message" errors postgrest-go builds from an
// error response into an *APIError. Transport errors pass through.
func restError(err error) error {
	msg := err.Error()
	if m := restErrorPattern.FindStringSubmatch(msg); m != nil {
		return &APIError{Code: m[1], Message: m[2]}
	}
	if strings.HasPrefix(msg, "error parsing error response") {
		return &APIError{Message: msg}
	}
	return err
}

// authError lifts GoTrue's "response status code N: body" errors into an
// *APIError. Transport errors pass through.
func authError(err error) error {
	m := authErrorPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}
	status, _ := strconv.Atoi(m[1])
	apiErr := &APIError{StatusCode: status}
	if body := m[2]; gjson.Valid(body) {
		parsed := gjson.Parse(body)
		apiErr.Code = parsed.Get("error_code").String()
		for _, key := range []string{"msg", "message", "error_description", "error"} {
			if msg := parsed.Get(key).String(); msg != "" {
				apiErr.Message = msg
				break
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
