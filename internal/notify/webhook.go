package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tis24dev/flowsave/internal/config"
	"github.com/tis24dev/flowsave/internal/logging"
	"github.com/tis24dev/flowsave/internal/types"
)

// rateLimitDelay is the extra wait after an HTTP 429.
var rateLimitDelay = 10 * time.Second

var (
	// errPermanent marks responses that retrying cannot fix.
	errPermanent   = errors.New("permanent failure")
	errRateLimited = errors.New("rate limit exceeded (HTTP 429)")
)

// WebhookNotifier sends notifications to configured webhook endpoints
type WebhookNotifier struct {
	config *config.WebhookConfig
	logger *logging.Logger
	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(webhookConfig *config.WebhookConfig, logger *logging.Logger) (*WebhookNotifier, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	w := &WebhookNotifier{config: webhookConfig, logger: logger, sleep: sleepContext}
	if !webhookConfig.Enabled {
		logger.Debug("Webhook notifications disabled in configuration")
		return w, nil
	}
	if len(webhookConfig.Endpoints) == 0 {
		return nil, fmt.Errorf("webhook notifications enabled but no endpoints configured")
	}
	for _, ep := range webhookConfig.Endpoints {
		if _, err := buildPayload(effectiveFormat(ep, webhookConfig), &NotificationData{}); err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", ep.Name, err)
		}
		logger.Debug("Webhook endpoint %s: url=%s format=%s method=%s auth=%s headers=%d",
			ep.Name, maskURL(ep.URL), effectiveFormat(ep, webhookConfig), ep.Method, ep.Auth.Type, len(ep.Headers))
	}

	timeout := webhookConfig.Timeout
	if timeout <= 0 {
		timeout = 30
	}
	w.client = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	return w, nil
}

// Name returns the notifier name
func (w *WebhookNotifier) Name() string { return "Webhook" }

// IsEnabled reports whether at least one endpoint will be contacted.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.config.Enabled && len(w.config.Endpoints) > 0 && w.client != nil
}

// Send posts data to every endpoint. It succeeds when at least one
// endpoint accepted the notification.
func (w *WebhookNotifier) Send(ctx context.Context, data *NotificationData) (*NotificationResult, error) {
	if data == nil {
		return nil, fmt.Errorf("notification data is nil")
	}
	start := time.Now()
	if !w.IsEnabled() {
		return &NotificationResult{Method: "webhook", Error: fmt.Errorf("webhook notifications not enabled")}, nil
	}

	succeeded := 0
	var lastErr error
	for _, endpoint := range w.config.Endpoints {
		if err := w.sendToEndpoint(ctx, endpoint, data); err != nil {
			w.logger.Warning("Webhook %s failed: %v", endpoint.Name, err)
			lastErr = err
			continue
		}
		w.logger.Debug("Webhook %s delivered", endpoint.Name)
		succeeded++
	}

	result := &NotificationResult{Success: succeeded > 0, Method: "webhook", Duration: time.Since(start)}
	if succeeded == 0 && lastErr != nil {
		result.Error = fmt.Errorf("all %d endpoints failed: %w", len(w.config.Endpoints), lastErr)
	}
	return result, nil
}

func effectiveFormat(ep config.WebhookEndpoint, cfg *config.WebhookConfig) string {
	if ep.Format != "" {
		return ep.Format
	}
	if cfg.DefaultFormat != "" {
		return cfg.DefaultFormat
	}
	return "generic"
}

// sendToEndpoint delivers one notification with retries. 4xx responses
// other than 429 are not retried.
func (w *WebhookNotifier) sendToEndpoint(ctx context.Context, endpoint config.WebhookEndpoint, data *NotificationData) (err error) {
	done := logging.DebugStart(w.logger, "webhook", "endpoint=%s url=%s", endpoint.Name, maskURL(endpoint.URL))
	defer func() { done(err) }()

	parsedURL, err := url.Parse(endpoint.URL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme %q", parsedURL.Scheme)
	}

	payload, err := buildPayload(effectiveFormat(endpoint, w.config), data)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if w.logger.GetLevel() <= types.LogLevelDebug {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		w.logger.Debug("Webhook payload (%d bytes): %s", len(body), preview)
	}

	maxRetries := w.config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	retryDelay := time.Duration(w.config.RetryDelay) * time.Second

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay
			if errors.Is(lastErr, errRateLimited) {
				delay += rateLimitDelay
			}
			w.logger.Debug("Retrying webhook %s (%d/%d) in %s", endpoint.Name, attempt, maxRetries, delay)
			if err := w.sleep(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = w.post(ctx, endpoint, parsedURL, body, data.ScriptVersion)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, errPermanent) || ctx.Err() != nil {
			return lastErr
		}
		w.logger.Debug("Webhook %s attempt %d/%d failed: %v", endpoint.Name, attempt+1, maxRetries+1, lastErr)
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (w *WebhookNotifier) post(ctx context.Context, endpoint config.WebhookEndpoint, target *url.URL, payload []byte, scriptVersion string) error {
	method := strings.ToUpper(strings.TrimSpace(endpoint.Method))
	if method == "" {
		method = http.MethodPost
	}
	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "flowsave/"+scriptVersion)
	for k, v := range endpoint.Headers {
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "", "host", "content-length", "content-type", "transfer-encoding":
			w.logger.Warning("Skipped protected custom header %q", k)
			continue
		}
		req.Header.Set(k, v)
	}
	if err := applyAuthentication(req, endpoint.Auth, payload); err != nil {
		return fmt.Errorf("%w: authentication: %v", errPermanent, err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(respBody))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return errRateLimited
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: HTTP %d: %s", errPermanent, resp.StatusCode, detail)
	}
	return fmt.Errorf("unexpected status (HTTP %d): %s", resp.StatusCode, detail)
}

// applyAuthentication applies authentication to the HTTP request
func applyAuthentication(req *http.Request, auth config.WebhookAuth, payload []byte) error {
	switch strings.ToLower(auth.Type) {
	case "none", "":
		return nil
	case "bearer":
		if auth.Token == "" {
			return fmt.Errorf("bearer token is empty")
		}
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case "basic":
		if auth.User == "" || auth.Pass == "" {
			return fmt.Errorf("basic auth user or password is empty")
		}
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth.User+":"+auth.Pass)))
	case "hmac", "hmac-sha256":
		if auth.Secret == "" {
			return fmt.Errorf("HMAC secret is empty")
		}
		req.Header.Set("X-Signature", generateHMACSignature(payload, auth.Secret))
		req.Header.Set("X-Signature-Algorithm", "hmac-sha256")
	default:
		return fmt.Errorf("unknown auth type: %s", auth.Type)
	}
	return nil
}

// generateHMACSignature generates an HMAC-SHA256 signature for the payload
func generateHMACSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// maskURL keeps scheme and host; webhook paths and queries often embed tokens.
func maskURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "***INVALID_URL***"
	}
	var b strings.Builder
	b.WriteString(parsed.Scheme + "://" + parsed.Host)
	if parsed.Path != "" && parsed.Path != "/" {
		b.WriteString("/***MASKED***")
	}
	if parsed.RawQuery != "" {
		b.WriteString("?***MASKED***")
	}
	return b.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
