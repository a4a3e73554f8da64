package tasks

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// PluginTypeHTTP — тип HTTP task.
	PluginTypeHTTP = "http"

	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
)

// Ключи параметров HTTP task.
const (
	paramMethod          = "method"
	paramURL             = "url"
	paramHeaders         = "headers"
	paramBody            = "body"
	paramFollowRedirects = "follow_redirects"
	paramValidateSSL     = "validate_ssl"
	paramFailOnError     = "fail_on_error"
)

// HTTPPlugin — task HTTP запроса.
//
// Выполняет HTTP запрос к внешнему API: деплой через webhook,
// уведомление, проверка health endpoint после выката.
//
// Параметры:
//
//	{
//	    "method": "POST",
//	    "url": "https://deploy.example.com/hooks/release",
//	    "headers": {
//	        "Authorization": "Bearer ${{ inputs.token }}"
//	    },
//	    "body": {
//	        "tag": "${{ needs.build.outputs.tag }}"
//	    },
//	    "follow_redirects": true,
//	    "validate_ssl": true,
//	    "fail_on_error": true
//	}
//
// Outputs:
//
//	status_code — строка с HTTP статусом ("200")
//	body        — тело ответа (до 10 MB)
type HTTPPlugin struct {
	client *http.Client
}

// NewHTTPPlugin создаёт HTTPPlugin.
func NewHTTPPlugin() *HTTPPlugin {
	return &HTTPPlugin{
		client: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
	}
}

// Type возвращает тип плагина.
func (p *HTTPPlugin) Type() string {
	return PluginTypeHTTP
}

// Execute выполняет HTTP запрос.
func (p *HTTPPlugin) Execute(ctx context.Context, req *Request) (*Response, error) {
	cfg, err := p.parseParams(req.Params)
	if err != nil {
		return nil, err
	}

	client := p.buildClient(cfg, req.Timeout)

	httpReq, err := p.buildRequest(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTaskCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if cfg.FailOnError && resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s: HTTP %d: %s",
			cfg.Method, cfg.URL, resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	return &Response{
		Outputs: map[string]string{
			"status_code": strconv.Itoa(resp.StatusCode),
			"body":        string(bodyBytes),
		},
		Log: fmt.Sprintf("%s %s -> %d (%d bytes)",
			cfg.Method, cfg.URL, resp.StatusCode, len(bodyBytes)),
	}, nil
}

// httpParams — распарсенные параметры HTTP task.
type httpParams struct {
	Method          string
	URL             string
	Headers         map[string]string
	Body            any
	FollowRedirects bool
	ValidateSSL     bool
	FailOnError     bool
}

func (p *HTTPPlugin) parseParams(params map[string]any) (*httpParams, error) {
	cfg := &httpParams{
		Method:          ParamString(params, paramMethod),
		URL:             ParamString(params, paramURL),
		Headers:         ParamStringMap(params, paramHeaders),
		Body:            params[paramBody],
		FollowRedirects: ParamBool(params, paramFollowRedirects, true),
		ValidateSSL:     ParamBool(params, paramValidateSSL, true),
		FailOnError:     ParamBool(params, paramFailOnError, true),
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: %s: url is required", ErrInvalidParams, PluginTypeHTTP)
	}

	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	cfg.Method = strings.ToUpper(cfg.Method)

	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}

	return cfg, nil
}

func (p *HTTPPlugin) buildClient(cfg *httpParams, reqTimeout time.Duration) *http.Client {
	timeout := defaultHTTPTimeout
	if reqTimeout > 0 {
		timeout = reqTimeout
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: !cfg.ValidateSSL,
	}

	var checkRedirect func(*http.Request, []*http.Request) error
	if !cfg.FollowRedirects {
		checkRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: checkRedirect,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
	}
}

func (p *HTTPPlugin) buildRequest(ctx context.Context, cfg *httpParams) (*http.Request, error) {
	var bodyReader io.Reader

	if cfg.Body != nil {
		bodyBytes, err := p.serializeBody(cfg.Body)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)

		if _, hasContentType := cfg.Headers["Content-Type"]; !hasContentType {
			cfg.Headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, bodyReader)
	if err != nil {
		return nil, err
	}

	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func (p *HTTPPlugin) serializeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
