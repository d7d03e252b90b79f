// Package provider performs the single outbound call from the router to a
// provider agent. There are no retries: the call either returns the
// provider's answer or fails with PROVIDER_TIMEOUT / PROVIDER_UNREACHABLE.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// DefaultTimeout bounds a provider call when none is configured.
const DefaultTimeout = 10 * time.Second

const maxResponseBytes = 10 << 20

// Call describes one invocation of a provider service.
type Call struct {
	Endpoint        string
	PathTemplate    string
	Method          string
	Payload         map[string]any
	TransactionID   string
	ConsumerAgentID string
}

// Response is whatever the provider answered, successful or not.
type Response struct {
	StatusCode int
	Body       []byte
	Latency    time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Result returns the body as JSON. Non-JSON bodies are wrapped as a JSON string.
func (r *Response) Result() json.RawMessage {
	trimmed := bytes.TrimSpace(r.Body)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	b, _ := json.Marshal(string(trimmed))
	return b
}

// Message returns the provider's error text for non-2xx answers.
func (r *Response) Message() string {
	msg := strings.TrimSpace(string(r.Body))
	if msg == "" {
		return http.StatusText(r.StatusCode)
	}
	return msg
}

// Client invokes provider endpoints.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	maxBody    int64
}

// NewClient creates a client with the given per-call timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
			// Providers are not followed across redirects to other hosts.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		timeout: timeout,
		maxBody: maxResponseBytes,
	}
}

// Timeout returns the per-call bound.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Invoke sends the call and returns the provider's response. Any HTTP answer,
// including 4xx and 5xx, is a Response rather than an error.
func (c *Client) Invoke(ctx context.Context, call Call) (*Response, error) {
	target, err := BuildURL(call.Endpoint, call.PathTemplate, call.Payload)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(call.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		payload := call.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		b, err := json.Marshal(map[string]any{"data": payload})
		if err != nil {
			return nil, contracts.WrapError(contracts.CodeSerializationError, "payload is not JSON-serializable", err)
		}
		body = bytes.NewReader(b)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, contracts.WrapError(contracts.CodeProviderUnreachable, "invalid provider endpoint", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(contracts.HeaderTransactionID, call.TransactionID)
	req.Header.Set(contracts.HeaderConsumerID, call.ConsumerAgentID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, classify(ctx, err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, contracts.NewError(contracts.CodeProviderError,
			fmt.Sprintf("provider response exceeds %d bytes", c.maxBody))
	}
	return &Response{StatusCode: resp.StatusCode, Body: data, Latency: time.Since(start)}, nil
}

func classify(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return contracts.WrapError(contracts.CodeProviderTimeout, "provider did not respond in time", err)
	}
	return contracts.WrapError(contracts.CodeProviderUnreachable, "provider could not be reached", err)
}

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// BuildURL joins endpoint and the path template, substituting {field}
// placeholders from top-level payload fields.
func BuildURL(endpoint, pathTemplate string, payload map[string]any) (string, error) {
	if endpoint == "" {
		return "", contracts.NewError(contracts.CodeProviderUnreachable, "provider has no endpoint")
	}

	var missing []string
	path := placeholder.ReplaceAllStringFunc(pathTemplate, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := payload[name]
		if !ok || v == nil {
			missing = append(missing, name)
			return m
		}
		return url.PathEscape(fmt.Sprint(v))
	})
	if len(missing) > 0 {
		return "", contracts.NewError(contracts.CodeInvalidRequest,
			fmt.Sprintf("payload is missing path parameter(s): %s", strings.Join(missing, ", ")))
	}

	base := strings.TrimRight(endpoint, "/")
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u, err := url.Parse(base + path)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", contracts.WrapError(contracts.CodeProviderUnreachable, "invalid provider endpoint", err)
	}
	return u.String(), nil
}
