package jira

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
	"unicode/utf8"

	"github.com/Ilia01/jira2drive/internal/config"
	"github.com/Ilia01/jira2drive/internal/models"
)

// FetchError reports a failed or non-successful call to Jira.
type FetchError struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("jira %s: api error (%d): %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("jira %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Client struct {
	baseURL    string
	email      string
	apiVersion string
	auth       config.AuthMethod
	http       *http.Client
}

func NewClient(cfg config.JiraConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	version := cfg.APIVersion
	if version == "" {
		version = "3"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL(), "/"),
		email:      cfg.Email,
		apiVersion: version,
		auth:       cfg.AuthMethod,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) buildURL(format string, args ...any) string {
	return fmt.Sprintf("%s/rest/api/%s", c.baseURL, c.apiVersion) + fmt.Sprintf(format, args...)
}

func (c *Client) applyAuth(req *http.Request) {
	switch c.auth.Type {
	case config.AuthPersonalAccessToken:
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.auth.Token))
	default:
		req.SetBasicAuth(c.email, c.auth.Token)
	}
}

// ListFields returns every field definition of the site, system and custom.
func (c *Client) ListFields(ctx context.Context) ([]models.FieldDefinition, error) {
	req, err := c.newRequest(ctx, c.buildURL("/field"))
	if err != nil {
		return nil, err
	}
	var defs []models.FieldDefinition
	if err := c.doJSON(req, "list fields", &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// FieldMap fetches the field listing and builds the id to label map.
func (c *Client) FieldMap(ctx context.Context) (models.FieldMap, error) {
	defs, err := c.ListFields(ctx)
	if err != nil {
		return models.FieldMap{}, err
	}
	return models.NewFieldMap(defs), nil
}

// GetIssue fetches one issue with all of its fields left in raw form.
func (c *Client) GetIssue(ctx context.Context, key string) (*models.RawIssue, error) {
	req, err := c.newRequest(ctx, c.buildURL("/issue/%s", url.PathEscape(key)))
	if err != nil {
		return nil, err
	}
	var issue models.RawIssue
	if err := c.doJSON(req, "get issue "+key, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// Download streams an attachment's content into w. contentURL is the
// absolute URL from the attachment's "content" property.
func (c *Client) Download(ctx context.Context, contentURL string, w io.Writer) error {
	req, err := c.newRequest(ctx, contentURL)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "*/*")
	return c.do(req, "download attachment", func(body []byte) error {
		_, err := w.Write(body)
		return err
	})
}

func (c *Client) TestConnection(ctx context.Context) error {
	req, err := c.newRequest(ctx, c.buildURL("/myself"))
	if err != nil {
		return err
	}
	return c.do(req, "myself", nil)
}

func (c *Client) newRequest(ctx context.Context, target string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{Op: "build request", URL: target, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	c.applyAuth(req)
	return req, nil
}

func (c *Client) doJSON(req *http.Request, op string, v any) error {
	return c.do(req, op, func(body []byte) error {
		if v == nil {
			return nil
		}
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(v); err != nil {
			return &FetchError{Op: op, URL: req.URL.String(), Err: fmt.Errorf("parse response: %w", err)}
		}
		return nil
	})
}

func (c *Client) do(req *http.Request, op string, handler func([]byte) error) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &FetchError{Op: op, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &FetchError{Op: op, URL: req.URL.String(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &FetchError{
			Op:         op,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       truncate(string(data), 512),
			Err:        fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	if handler != nil {
		return handler(data)
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
