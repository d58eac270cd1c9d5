package liveness

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

	"golang.org/x/net/proxy"

	"github.com/prepolicy/prepolicy/core/policy"
	"github.com/prepolicy/prepolicy/pkg/logging"
)

const (
	// IsAlivePath is the platform route queried for each policy.
	IsAlivePath = "/api/platform/isAlive/"

	defaultHTTPTimeout = 5 * time.Second
	maxResponseBytes   = 64 << 10
)

// HTTPOptions configures an HTTPOracle.
type HTTPOptions struct {
	// BaseURL is the platform root, e.g. http://127.0.0.1:3000.
	BaseURL string
	// Timeout bounds each query. Defaults to 5s.
	Timeout time.Duration
	// SOCKS5Proxy routes queries through a SOCKS5 proxy at host:port when set.
	SOCKS5Proxy string
	// Client overrides the HTTP client. SOCKS5Proxy is ignored when set.
	Client *http.Client
}

// HTTPOracle queries GET <base>/api/platform/isAlive/<id> and expects {"result": <bool>}.
type HTTPOracle struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	logger  logging.Logger
}

// NewHTTPOracle validates opts and builds the oracle's HTTP client.
func NewHTTPOracle(opts HTTPOptions, logger logging.Logger) (*HTTPOracle, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid liveness base url %q", opts.BaseURL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported liveness url scheme %q", base.Scheme)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultHTTPTimeout
	}

	client := opts.Client
	if client == nil {
		client, err = newHTTPClient(opts)
		if err != nil {
			return nil, err
		}
	}

	return &HTTPOracle{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  client,
		timeout: opts.Timeout,
		logger:  logger.With("component", "liveness", "transport", "http"),
	}, nil
}

func newHTTPClient(opts HTTPOptions) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 20
	transport.IdleConnTimeout = 90 * time.Second
	transport.TLSHandshakeTimeout = 5 * time.Second

	if opts.SOCKS5Proxy != "" {
		dialer, err := proxy.SOCKS5("tcp", opts.SOCKS5Proxy, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create socks5 dialer: %w", err)
		}
		contextDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer does not support contexts")
		}
		transport.Proxy = nil
		transport.DialContext = contextDialer.DialContext
	}

	return &http.Client{Transport: transport}, nil
}

// Check implements Oracle.
func (o *HTTPOracle) Check(ctx context.Context, id policy.ID) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	endpoint := o.baseURL + IsAlivePath + url.PathEscape(string(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return unavailable(ReasonTransport, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return unavailable(contextReason(ctx), err)
		}
		return unavailable(ReasonTransport, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			o.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return unavailable(ReasonStatus, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return unavailable(contextReason(ctx), err)
		}
		return unavailable(ReasonTransport, fmt.Errorf("failed to read response: %w", err))
	}
	if len(body) > maxResponseBytes {
		return unavailable(ReasonMalformed, fmt.Errorf("response exceeds %d bytes", maxResponseBytes))
	}

	alive, err := parseIsAlive(body)
	if err != nil {
		return unavailable(ReasonMalformed, err)
	}
	if alive {
		return StatusAlive, nil
	}
	return StatusDead, nil
}

// parseIsAlive requires a JSON object whose "result" member is a boolean.
func parseIsAlive(body []byte) (bool, error) {
	var payload struct {
		Result *bool `json:"result"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&payload); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("trailing data after response object")
	}
	if payload.Result == nil {
		return false, fmt.Errorf("response is missing boolean field %q", "result")
	}
	return *payload.Result, nil
}
