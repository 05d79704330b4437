package config

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildWebhookConfig(t *testing.T) {
	for _, key := range []string{"WEBHOOK_ENABLED", "WEBHOOK_ENDPOINTS", "WEBHOOK_FORMAT", "WEBHOOK_NOTIFY_ON", "WEBHOOK_OPS_URL", "WEBHOOK_TEAM_CHAT_URL", "WEBHOOK_TEAM_CHAT_AUTH_TOKEN"} {
		t.Setenv(key, "")
	}
	path := writeConfig(t, `WEBHOOK_ENABLED=true
WEBHOOK_ENDPOINTS=ops, team-chat, missing
WEBHOOK_FORMAT=Slack
WEBHOOK_NOTIFY_ON=always
WEBHOOK_MAX_RETRIES=1
WEBHOOK_OPS_URL=https://ops.example.com/hook
WEBHOOK_OPS_FORMAT=generic
WEBHOOK_OPS_HEADERS=X-Team:ops, X-Env : prod,broken
WEBHOOK_OPS_AUTH_TYPE=HMAC
WEBHOOK_OPS_AUTH_SECRET=shh
WEBHOOK_TEAM_CHAT_URL=https://chat.example.com/hook
WEBHOOK_TEAM_CHAT_METHOD=put
WEBHOOK_TEAM_CHAT_AUTH_TYPE=bearer
`)
	t.Setenv("WEBHOOK_TEAM_CHAT_AUTH_TOKEN", "from-env")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	got := cfg.BuildWebhookConfig()
	want := &WebhookConfig{
		Enabled:       true,
		DefaultFormat: "slack",
		NotifyOn:      NotifyAlways,
		Timeout:       30,
		MaxRetries:    1,
		RetryDelay:    2,
		Endpoints: []WebhookEndpoint{
			{
				Name:    "ops",
				URL:     "https://ops.example.com/hook",
				Format:  "generic",
				Method:  "POST",
				Headers: map[string]string{"X-Team": "ops", "X-Env": "prod"},
				Auth:    WebhookAuth{Type: "hmac", Secret: "shh"},
			},
			{
				Name:    "team-chat",
				URL:     "https://chat.example.com/hook",
				Format:  "slack",
				Method:  "PUT",
				Headers: map[string]string{},
				Auth:    WebhookAuth{Type: "bearer", Token: "from-env"},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("webhook config mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"shh", "from-env"}, got.Secrets()); diff != "" {
		t.Fatalf("secrets mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigRejectsUnknownNotifyOn(t *testing.T) {
	t.Setenv("WEBHOOK_NOTIFY_ON", "")
	path := writeConfig(t, "WEBHOOK_NOTIFY_ON=sometimes\n")
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "WEBHOOK_NOTIFY_ON") {
		t.Fatalf("expected WEBHOOK_NOTIFY_ON error, got %v", err)
	}
}
