package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WebhookSender mirrors welcome events to an external HTTP endpoint.
// Includes SSRF protection: blocks requests to private IP ranges unless allowPrivate is set.
type WebhookSender struct {
	url          string
	allowPrivate bool
	httpClient   *http.Client
	logger       *slog.Logger
}

// webhookPayload is the JSON body posted to the webhook URL.
type webhookPayload struct {
	Event     string `json:"event"`
	GuildID   string `json:"guild_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
	JoinedAt  string `json:"joined_at,omitempty"`
}

// NewWebhookSender creates a webhook notification sender.
func NewWebhookSender(webhookURL string, allowPrivate bool, logger *slog.Logger) *WebhookSender {
	return &WebhookSender{
		url:          webhookURL,
		allowPrivate: allowPrivate,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			// Do not follow redirects: prevents SSRF via redirect to internal hosts.
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

func (s *WebhookSender) Type() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, m MemberJoined) error {
	if s.url == "" {
		return fmt.Errorf("webhook sender has no url configured")
	}
	if !s.allowPrivate {
		if err := validateWebhookURL(s.url); err != nil {
			return fmt.Errorf("webhook URL rejected: %w", err)
		}
	}

	body, _ := json.Marshal(webhookPayload{
		Event:     "member_joined",
		GuildID:   m.GuildID,
		UserID:    m.UserID,
		Username:  m.Username,
		AvatarURL: m.AvatarURL(),
		JoinedAt:  m.JoinedAt,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mayu-Webhook/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// validateWebhookURL checks that the URL points to a public host.
// Blocks private IPs, loopback, link-local, and non-HTTP schemes.
func validateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}

	hostname := u.Hostname()
	lower := strings.ToLower(hostname)
	if lower == "localhost" || lower == "127.0.0.1" || lower == "::1" || lower == "0.0.0.0" {
		return fmt.Errorf("loopback addresses not allowed")
	}

	ips, err := net.LookupHost(hostname)
	if err != nil {
		return fmt.Errorf("DNS lookup failed for %q: %w", hostname, err)
	}
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("private/internal IP %s not allowed", ipStr)
		}
	}
	return nil
}
