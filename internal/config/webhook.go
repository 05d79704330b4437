package config

import (
	"fmt"
	"os"
	"strings"
)

// WEBHOOK_NOTIFY_ON values.
const (
	NotifyOnFailure = "failure"
	NotifyAlways    = "always"
)

// WebhookConfig holds configuration for webhook notifications
type WebhookConfig struct {
	Enabled       bool
	Endpoints     []WebhookEndpoint
	DefaultFormat string
	NotifyOn      string
	Timeout       int
	MaxRetries    int
	RetryDelay    int
}

// WebhookEndpoint is one named endpoint, configured through
// WEBHOOK_<NAME>_* keys.
type WebhookEndpoint struct {
	Name    string
	URL     string
	Format  string
	Method  string
	Headers map[string]string
	Auth    WebhookAuth
}

// WebhookAuth holds authentication configuration for a webhook
type WebhookAuth struct {
	Type   string
	Token  string
	User   string
	Pass   string
	Secret string
}

// webhookPrefix returns the key prefix of an endpoint: "team-chat" reads
// WEBHOOK_TEAM_CHAT_URL and friends.
func webhookPrefix(name string) string {
	return fmt.Sprintf("WEBHOOK_%s_", strings.ToUpper(strings.ReplaceAll(name, "-", "_")))
}

// BuildWebhookConfig constructs the webhook configuration with every
// endpoint named in WEBHOOK_ENDPOINTS. Endpoint keys follow the same
// environment-over-file rule as the rest of the configuration. Endpoints
// without a URL are skipped.
func (c *Config) BuildWebhookConfig() *WebhookConfig {
	var endpoints []WebhookEndpoint
	for _, name := range c.WebhookEndpointNames {
		prefix := webhookPrefix(name)
		get := func(suffix, defaultValue string) string {
			if v, ok := os.LookupEnv(prefix + suffix); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
			return c.getString(prefix+suffix, defaultValue)
		}
		url := get("URL", "")
		if url == "" {
			continue
		}

		headers := map[string]string{}
		// Format: "Key1:Value1,Key2:Value2"
		for _, pair := range strings.Split(get("HEADERS", ""), ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(pair), ":")
			if ok && strings.TrimSpace(k) != "" {
				headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
		}

		endpoints = append(endpoints, WebhookEndpoint{
			Name:    name,
			URL:     url,
			Format:  strings.ToLower(get("FORMAT", c.WebhookDefaultFormat)),
			Method:  strings.ToUpper(get("METHOD", "POST")),
			Headers: headers,
			Auth: WebhookAuth{
				Type:   strings.ToLower(get("AUTH_TYPE", "none")),
				Token:  get("AUTH_TOKEN", ""),
				User:   get("AUTH_USER", ""),
				Pass:   get("AUTH_PASS", ""),
				Secret: get("AUTH_SECRET", ""),
			},
		})
	}

	return &WebhookConfig{
		Enabled:       c.WebhookEnabled,
		Endpoints:     endpoints,
		DefaultFormat: c.WebhookDefaultFormat,
		NotifyOn:      c.WebhookNotifyOn,
		Timeout:       c.WebhookTimeout,
		MaxRetries:    c.WebhookMaxRetries,
		RetryDelay:    c.WebhookRetryDelay,
	}
}

// Secrets returns every configured webhook credential so loggers can
// redact them.
func (w *WebhookConfig) Secrets() []string {
	var out []string
	for _, ep := range w.Endpoints {
		for _, s := range []string{ep.Auth.Token, ep.Auth.Pass, ep.Auth.Secret} {
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
