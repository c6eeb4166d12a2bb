package actions

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
	"strings"
	"time"

	"github.com/complyflow/complyflow/internal/domain/action"
)

// maxResponseBody bounds how much of a webhook response is kept in the result.
const maxResponseBody = 4 << 10

// privateNetworks are refused by the webhook dialer unless private targets
// are explicitly allowed.
var privateNetworks []*net.IPNet

func init() {
	cidrs := []string{
		"0.0.0.0/8", // "this network"; 0.0.0.0 reaches loopback on Linux
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"100.64.0.0/10", // carrier-grade NAT
		"169.254.0.0/16", // link-local, includes cloud metadata endpoints
		"::/128",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid CIDR in privateNetworks: " + cidr)
		}
		privateNetworks = append(privateNetworks, network)
	}
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsUnspecified() || ip.IsLoopback() || ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// WebhookHandler posts call_webhook actions to an external URL. It has real
// side effects and does not implement dry-run.
//
// Config keys: url (required), method (default POST), headers (map), body
// (any JSON value; defaults to the event envelope plus rule id).
type WebhookHandler struct {
	client *http.Client
}

// WebhookOption configures WebhookHandler.
type WebhookOption func(*webhookOptions)

type webhookOptions struct {
	timeout      time.Duration
	allowPrivate bool
}

// WithWebhookTimeout sets the HTTP client timeout (default 10s).
func WithWebhookTimeout(d time.Duration) WebhookOption {
	return func(o *webhookOptions) { o.timeout = d }
}

// WithPrivateTargets allows webhooks to loopback and private addresses.
func WithPrivateTargets(allow bool) WebhookOption {
	return func(o *webhookOptions) { o.allowPrivate = allow }
}

// NewWebhookHandler creates the call_webhook handler.
func NewWebhookHandler(opts ...WebhookOption) *WebhookHandler {
	o := webhookOptions{timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !o.allowPrivate {
		transport.DialContext = publicDialContext()
	}
	return &WebhookHandler{
		client: &http.Client{
			Timeout:   o.timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Handle performs the request. A non-2xx response is an error.
func (h *WebhookHandler) Handle(ctx context.Context, config map[string]any, ec action.ExecContext) (map[string]any, error) {
	target := stringValue(config, "url")
	if target == "" {
		return nil, errors.New("url is required")
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", target)
	}
	method := strings.ToUpper(stringValue(config, "method"))
	if method == "" {
		method = http.MethodPost
	}

	body, ok := config["body"]
	if !ok {
		envelope := map[string]any{
			"id":             ec.Event.ID,
			"event_type":     ec.Event.Type,
			"event_category": ec.Event.Category,
			"tenant_id":      ec.Event.TenantID,
			"priority":       ec.Event.Priority,
			"occurred_at":    ec.Event.OccurredAt,
			"payload":        ec.Event.Payload,
		}
		if ec.Rule != nil {
			envelope["rule_id"] = ec.Rule.ID
		}
		body = envelope
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := config["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, stringify(v))
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return map[string]any{
		"status_code": resp.StatusCode,
		"response":    string(respBody),
	}, nil
}

// publicDialContext refuses connections that resolve to private addresses.
// The check runs after DNS resolution and dials the checked IP.
func publicDialContext() func(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("webhook: invalid address %q: %w", addr, err)
		}
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("webhook: resolve %q: %w", host, err)
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("webhook: no IPs resolved for %q", host)
		}
		for _, ip := range ips {
			if isPrivateIP(ip.IP) {
				return nil, fmt.Errorf("webhook: blocked private address %s (resolved from %s)", ip.IP, host)
			}
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
	}
}

// Compile-time interface verification.
var _ action.Handler = (*WebhookHandler)(nil)
