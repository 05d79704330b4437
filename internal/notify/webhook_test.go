package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tis24dev/flowsave/internal/config"
	"github.com/tis24dev/flowsave/internal/logging"
	"github.com/tis24dev/flowsave/internal/types"
)

func sampleData() *NotificationData {
	return &NotificationData{
		Flow:          "backup",
		Status:        StatusFailure,
		StatusMessage: "Backup FAILED",
		ExitCode:      types.ExitNetworkError.Int(),
		Hostname:      "host1",
		Target:        "n8n",
		Branch:        "main",
		Kinds: []KindSummary{
			{Kind: "Credentials", Records: 3},
			{Kind: "Workflows", Error: "export failed"},
		},
		StartedAt:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Duration:      90 * time.Second,
		Error:         "git push: connection refused",
		ScriptVersion: "1.2.3",
	}
}

func newTestNotifier(t *testing.T, endpoints ...config.WebhookEndpoint) *WebhookNotifier {
	t.Helper()
	w, err := NewWebhookNotifier(&config.WebhookConfig{
		Enabled:       true,
		Endpoints:     endpoints,
		DefaultFormat: "generic",
		Timeout:       5,
		MaxRetries:    2,
	}, logging.New(types.LogLevelError, false))
	if err != nil {
		t.Fatalf("NewWebhookNotifier: %v", err)
	}
	w.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return w
}

func TestNewWebhookNotifierValidation(t *testing.T) {
	logger := logging.New(types.LogLevelError, false)

	disabled, err := NewWebhookNotifier(&config.WebhookConfig{}, logger)
	if err != nil || disabled.IsEnabled() {
		t.Fatalf("disabled notifier: enabled=%v err=%v", disabled != nil && disabled.IsEnabled(), err)
	}
	if _, err := NewWebhookNotifier(&config.WebhookConfig{Enabled: true}, logger); err == nil {
		t.Fatal("expected error without endpoints")
	}
	_, err = NewWebhookNotifier(&config.WebhookConfig{
		Enabled:   true,
		Endpoints: []config.WebhookEndpoint{{Name: "x", URL: "https://example.com", Format: "telegraph"}},
	}, logger)
	if err == nil || !strings.Contains(err.Error(), "unknown webhook format") {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestWebhookSendGeneric(t *testing.T) {
	var got map[string]interface{}
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := newTestNotifier(t, config.WebhookEndpoint{
		Name:    "ops",
		URL:     srv.URL + "/hook",
		Headers: map[string]string{"X-Team": "ops", "Host": "evil"},
		Auth:    config.WebhookAuth{Type: "bearer", Token: "s3cret"},
	})
	res, err := w.Send(context.Background(), sampleData())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.Success || res.Error != nil {
		t.Fatalf("unexpected result %+v", res)
	}

	if headers.Get("Authorization") != "Bearer s3cret" || headers.Get("X-Team") != "ops" {
		t.Fatalf("headers not applied: %v", headers)
	}
	if headers.Get("User-Agent") != "flowsave/1.2.3" {
		t.Fatalf("User-Agent = %q", headers.Get("User-Agent"))
	}
	if got["status"] != "failure" || got["flow"] != "backup" || got["error"] != "git push: connection refused" {
		t.Fatalf("unexpected payload %v", got)
	}
	kinds, ok := got["kinds"].([]interface{})
	if !ok || len(kinds) != 2 {
		t.Fatalf("kinds = %v", got["kinds"])
	}
}

func TestWebhookHMACSignature(t *testing.T) {
	var body []byte
	var signature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		signature = r.Header.Get("X-Signature")
	}))
	defer srv.Close()

	w := newTestNotifier(t, config.WebhookEndpoint{
		Name: "signed",
		URL:  srv.URL,
		Auth: config.WebhookAuth{Type: "hmac", Secret: "key"},
	})
	if res, _ := w.Send(context.Background(), sampleData()); !res.Success {
		t.Fatalf("Send failed: %v", res.Error)
	}
	if want := generateHMACSignature(body, "key"); signature != want {
		t.Fatalf("signature = %q, want %q", signature, want)
	}
}

func TestWebhookRetries(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantCalls int32
		wantOK    bool
	}{
		{"server error then success", []int{500, 200}, 2, true},
		{"rate limited then success", []int{429, 202}, 2, true},
		{"bad request is not retried", []int{400}, 1, false},
		{"retries exhausted", []int{503, 503, 503}, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.statuses[int(n)-1])
			}))
			defer srv.Close()

			w := newTestNotifier(t, config.WebhookEndpoint{Name: "ops", URL: srv.URL})
			res, err := w.Send(context.Background(), sampleData())
			if err != nil {
				t.Fatalf("Send: %v", err)
			}
			if res.Success != tt.wantOK {
				t.Fatalf("Success = %v (err %v), want %v", res.Success, res.Error, tt.wantOK)
			}
			if got := atomic.LoadInt32(&calls); got != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestWebhookOneEndpointSucceeding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	w := newTestNotifier(t,
		config.WebhookEndpoint{Name: "broken", URL: "ftp://example.com/hook"},
		config.WebhookEndpoint{Name: "ok", URL: srv.URL},
	)
	res, err := w.Send(context.Background(), sampleData())
	if err != nil || !res.Success {
		t.Fatalf("Send = %+v, %v", res, err)
	}
}

func TestApplyAuthenticationErrors(t *testing.T) {
	for _, auth := range []config.WebhookAuth{
		{Type: "bearer"},
		{Type: "basic", User: "u"},
		{Type: "hmac"},
		{Type: "oauth"},
	} {
		req := httptest.NewRequest(http.MethodPost, "http://example.com", nil)
		if err := applyAuthentication(req, auth, nil); err == nil {
			t.Fatalf("applyAuthentication(%+v) should fail", auth)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "http://example.com", nil)
	if err := applyAuthentication(req, config.WebhookAuth{Type: "basic", User: "u", Pass: "p"}, nil); err != nil {
		t.Fatal(err)
	}
	if user, pass, ok := req.BasicAuth(); !ok || user != "u" || pass != "p" {
		t.Fatalf("basic auth = %q/%q/%v", user, pass, ok)
	}
}

func TestMaskURL(t *testing.T) {
	tests := map[string]string{
		"https://hooks.slack.com/services/T000/B000/XXXX": "https://hooks.slack.com/***MASKED***",
		"https://gotify.example.com/message?token=abc":    "https://gotify.example.com/***MASKED***?***MASKED***",
		"https://example.com":                             "https://example.com",
		"not a url":                                       "***INVALID_URL***",
	}
	for in, want := range tests {
		if got := maskURL(in); got != want {
			t.Fatalf("maskURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildPayloadFormats(t *testing.T) {
	data := sampleData()

	slack, err := buildPayload("slack", data)
	if err != nil {
		t.Fatal(err)
	}
	att := slack["attachments"].([]map[string]interface{})[0]
	if att["color"] != "#E01E5A" {
		t.Fatalf("slack color = %v", att["color"])
	}

	discord, err := buildPayload("Discord", data)
	if err != nil {
		t.Fatal(err)
	}
	embed := discord["embeds"].([]map[string]interface{})[0]
	if embed["color"] != colorFailure || embed["timestamp"] != "2024-03-01T10:00:00Z" {
		t.Fatalf("discord embed = %v", embed)
	}

	gotify, err := buildPayload("gotify", data)
	if err != nil {
		t.Fatal(err)
	}
	if gotify["priority"] != 8 {
		t.Fatalf("gotify priority = %v", gotify["priority"])
	}
	wantLines := []string{
		"Backup FAILED",
		"Target: n8n",
		"Branch: main",
		"Credentials: 3 record(s)",
		"Workflows: failed: export failed",
		"Duration: 1m 30s",
		"Error: git push: connection refused",
	}
	if diff := cmp.Diff(wantLines, strings.Split(gotify["message"].(string), "\n")); diff != "" {
		t.Fatalf("gotify message mismatch (-want +got):\n%s", diff)
	}
}
