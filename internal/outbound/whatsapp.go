package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/botlerhq/botler/internal/event"
	"github.com/botlerhq/botler/internal/tenant"
)

// WhatsAppSender delivers messages through the WhatsApp Cloud API.
type WhatsAppSender struct {
	baseURL    string
	tenants    tenant.Store
	httpClient *http.Client
	log        *slog.Logger
}

// NewWhatsAppSender creates a Cloud API sender. Credentials are resolved per
// tenant at send time.
func NewWhatsAppSender(log *slog.Logger, tenants tenant.Store, graphBaseURL string, timeout time.Duration) *WhatsAppSender {
	baseURL := strings.TrimSpace(graphBaseURL)
	if baseURL == "" {
		baseURL = "https://graph.facebook.com/v19.0"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WhatsAppSender{
		baseURL:    baseURL,
		tenants:    tenants,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With(slog.String("service", "outbound_whatsapp")),
	}
}

// Platform implements Sender.
func (s *WhatsAppSender) Platform() event.Platform { return event.PlatformWhatsApp }

type waTextPayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type waTemplatePayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Template         struct {
		Name     string `json:"name"`
		Language struct {
			Code string `json:"code"`
		} `json:"language"`
	} `json:"template"`
}

// Send implements Sender. 4xx responses are permanent rejections; network
// errors and 5xx are transient and left to the messenger's retry policy.
func (s *WhatsAppSender) Send(ctx context.Context, msg Message) error {
	t, err := s.tenants.Get(ctx, msg.TenantID)
	if err != nil {
		return &PermanentError{Reason: fmt.Sprintf("tenant %s: %v", msg.TenantID, err)}
	}
	creds, ok := t.CredentialsFor(event.PlatformWhatsApp)
	if !ok || creds.AccessToken == "" || creds.PhoneNumberID == "" {
		return &PermanentError{Reason: "whatsapp credentials not configured"}
	}

	var payload any
	switch msg.Kind {
	case KindTemplate:
		p := waTemplatePayload{MessagingProduct: "whatsapp", To: msg.To, Type: "template"}
		p.Template.Name = msg.Template
		p.Template.Language.Code = "en"
		payload = p
	default:
		p := waTextPayload{MessagingProduct: "whatsapp", To: msg.To, Type: "text"}
		p.Text.Body = msg.Text
		payload = p
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &PermanentError{Reason: fmt.Sprintf("encode payload: %v", err)}
	}
	url := fmt.Sprintf("%s/%s/messages", s.baseURL, creds.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return &PermanentError{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))}
	}
	return fmt.Errorf("whatsapp send: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
}
