package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adlaunch/backend/internal/metrics"
)

// OAuthScopes requested from the Facebook login dialog
const OAuthScopes = "ads_management,ads_read,pages_show_list"

// MetaConfig holds app credentials and endpoints for the Graph API
type MetaConfig struct {
	AppID         string
	AppSecret     string
	RedirectURI   string
	GraphVersion  string
	GraphBaseURL  string // https://graph.facebook.com
	DialogBaseURL string // https://www.facebook.com
	HTTPClient    *http.Client
}

// MetaClient is a thin gateway over the Meta Graph API. It never retries.
type MetaClient struct {
	cfg        MetaConfig
	httpClient *http.Client
}

func NewMetaClient(cfg MetaConfig) *MetaClient {
	if cfg.GraphVersion == "" {
		cfg.GraphVersion = "v24.0"
	}
	if cfg.GraphBaseURL == "" {
		cfg.GraphBaseURL = "https://graph.facebook.com"
	}
	if cfg.DialogBaseURL == "" {
		cfg.DialogBaseURL = "https://www.facebook.com"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &MetaClient{cfg: cfg, httpClient: httpClient}
}

// GraphError is a non-2xx Graph response. Body is kept verbatim for diagnostics.
type GraphError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, string(e.Body))
}

// Details returns the body as decoded JSON when possible, else as a string.
func (e *GraphError) Details() interface{} {
	var v interface{}
	if err := json.Unmarshal(e.Body, &v); err == nil {
		return v
	}
	return string(e.Body)
}

// UploadFile is the binary part of a multipart Graph request
type UploadFile struct {
	Field    string // "bytes" for images, "source" for videos
	Filename string
	Content  []byte
}

func (c *MetaClient) baseURL() string {
	return strings.TrimRight(c.cfg.GraphBaseURL, "/") + "/" + c.cfg.GraphVersion
}

// Get issues GET {base}{path}?params&access_token and decodes the JSON body into out.
func (c *MetaClient) Get(ctx context.Context, path, token string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, token, params), nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

// PostParams sends every parameter in the query string with an empty body.
func (c *MetaClient) PostParams(ctx context.Context, path, token string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, token, params), nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

// PostMultipart uploads form fields plus an optional file part.
func (c *MetaClient) PostMultipart(ctx context.Context, path, token string, fields map[string]string, file *UploadFile, out interface{}) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	if file != nil {
		part, err := w.CreateFormFile(file.Field, file.Filename)
		if err != nil {
			return err
		}
		if _, err := part.Write(file.Content); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, token, nil), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req, path, out)
}

func (c *MetaClient) endpoint(path, token string, params url.Values) string {
	q := url.Values{}
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}
	if token != "" {
		q.Set("access_token", token)
	}

	u := c.baseURL() + path
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

func (c *MetaClient) do(req *http.Request, path string, out interface{}) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.GraphRequestDuration.WithLabelValues(req.Method))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.GraphRequestsTotal.WithLabelValues(req.Method, "transport_error").Inc()
		return fmt.Errorf("graph %s %s: %w", req.Method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.GraphRequestsTotal.WithLabelValues(req.Method, "transport_error").Inc()
		return fmt.Errorf("graph %s %s: read body: %w", req.Method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.GraphRequestsTotal.WithLabelValues(req.Method, "error").Inc()
		return &GraphError{Method: req.Method, Path: path, StatusCode: resp.StatusCode, Body: body}
	}
	metrics.GraphRequestsTotal.WithLabelValues(req.Method, "ok").Inc()

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("graph %s %s: decode: %w", req.Method, path, err)
	}
	return nil
}

// AuthURL builds the Facebook login dialog URL for the given state token.
func (c *MetaClient) AuthURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.cfg.AppID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("state", state)
	q.Set("scope", OAuthScopes)
	return strings.TrimRight(c.cfg.DialogBaseURL, "/") + "/" + c.cfg.GraphVersion + "/dialog/oauth?" + q.Encode()
}

// TokenResponse is the access_token exchange payload
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ExchangeCode trades an authorization code for an access token. The raw body
// is returned alongside the decoded response.
func (c *MetaClient) ExchangeCode(ctx context.Context, code string) (*TokenResponse, json.RawMessage, error) {
	params := url.Values{}
	params.Set("client_id", c.cfg.AppID)
	params.Set("client_secret", c.cfg.AppSecret)
	params.Set("redirect_uri", c.cfg.RedirectURI)
	params.Set("code", code)

	var raw json.RawMessage
	if err := c.Get(ctx, "/oauth/access_token", "", params, &raw); err != nil {
		return nil, nil, err
	}

	var tok TokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, nil, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, raw, fmt.Errorf("token response has no access_token")
	}
	return &tok, raw, nil
}
