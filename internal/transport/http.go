package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

// HTTPConfig configures the vendor API executor
type HTTPConfig struct {
	BaseURL   string            `yaml:"base_url"`
	Timeout   time.Duration     `yaml:"timeout"`
	RateLimit float64           `yaml:"rate_limit"` // requests per second, 0 disables
	Burst     int               `yaml:"burst"`
	Headers   map[string]string `yaml:"headers"`
	OAuth2    *OAuth2Config     `yaml:"oauth2"`
}

// OAuth2Config enables the client-credentials flow for the vendor API
type OAuth2Config struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// ApplyDefaults fills in default values
func (c *HTTPConfig) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateLimit > 0 && c.Burst == 0 {
		c.Burst = int(c.RateLimit)
		if c.Burst < 1 {
			c.Burst = 1
		}
	}
}

// Validate checks configuration
func (c *HTTPConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("transport: base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("transport: invalid base_url: %w", err)
	}
	if c.RateLimit < 0 {
		return errors.New("transport: rate_limit must not be negative")
	}
	if c.OAuth2 != nil && c.OAuth2.TokenURL == "" {
		return errors.New("transport: oauth2 token_url is required")
	}
	return nil
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: unexpected status %d: %s", e.StatusCode, e.Body)
}

// HTTPExecutor executes requests against a REST API over HTTP.
type HTTPExecutor struct {
	config  *HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPExecutor creates an executor for the configured base URL
func NewHTTPExecutor(config *HTTPConfig, logger *zap.Logger) (*HTTPExecutor, error) {
	if config == nil {
		return nil, errors.New("transport: config is required")
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &http.Client{Timeout: config.Timeout}
	if config.OAuth2 != nil {
		cc := &clientcredentials.Config{
			ClientID:     config.OAuth2.ClientID,
			ClientSecret: config.OAuth2.ClientSecret,
			TokenURL:     config.OAuth2.TokenURL,
			Scopes:       config.OAuth2.Scopes,
		}
		client = cc.Client(context.Background())
		client.Timeout = config.Timeout
	}

	e := &HTTPExecutor{
		config: config,
		client: client,
		logger: logger,
	}
	if config.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst)
	}
	return e, nil
}

// Execute sends the request and decodes the response body
func (e *HTTPExecutor) Execute(ctx context.Context, req *Request) (*Response, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	httpReq, err := e.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute %s %s: %w", req.Method, req.Endpoint, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	elapsed := time.Since(start)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		e.logger.Debug("non-success response",
			zap.String("request_id", req.ID),
			zap.Int("status", httpResp.StatusCode))
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Body: snippet}
	}

	headers := make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		headers[k] = httpResp.Header.Get(k)
	}

	var data interface{} = body
	if strings.Contains(httpResp.Header.Get("Content-Type"), "json") && len(body) > 0 {
		var decoded interface{}
		if err := json.Unmarshal(body, &decoded); err == nil {
			data = decoded
		}
	}

	return &Response{
		ID:           req.ID,
		StatusCode:   httpResp.StatusCode,
		Headers:      headers,
		Data:         data,
		ResponseTime: elapsed,
		Success:      true,
	}, nil
}

func (e *HTTPExecutor) buildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	target := strings.TrimRight(e.config.BaseURL, "/") + "/" + strings.TrimLeft(req.Endpoint, "/")

	var body io.Reader
	switch req.Method {
	case http.MethodGet, http.MethodDelete, http.MethodHead:
		if len(req.Params) > 0 {
			q := url.Values{}
			for k, v := range req.Params {
				q.Set(k, fmt.Sprint(v))
			}
			target += "?" + q.Encode()
		}
	default:
		payload := req.Body
		if payload == nil {
			payload = req.Params
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range e.config.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}
