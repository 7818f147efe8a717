package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/idoneo/emailer/internal/domain"
	"github.com/idoneo/emailer/internal/pkg/logger"
)

const sendgridBaseURL = "https://api.sendgrid.com/v3"

// SendGridTransport sends through the SendGrid v3 Mail Send API.
type SendGridTransport struct {
	Client *http.Client
}

func (SendGridTransport) Name() domain.Provider { return domain.ProviderSendGrid }

func (t SendGridTransport) Send(ctx context.Context, cfg SendConfig, msg *Message) (*SendResult, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sendgrid: API key not configured")
	}

	content := []map[string]string{{"type": "text/html", "value": msg.HTML}}
	if msg.Text != "" {
		content = []map[string]string{
			{"type": "text/plain", "value": msg.Text},
			{"type": "text/html", "value": msg.HTML},
		}
	}
	payload := map[string]any{
		"personalizations": []map[string]any{
			{
				"to": []map[string]string{{"email": msg.To, "name": msg.ToName}},
				"custom_args": map[string]string{
					"campaign_id": msg.CampaignID.String(),
					"delivery_id": msg.ID.String(),
				},
			},
		},
		"from":    map[string]string{"email": cfg.FromAddress, "name": cfg.FromName},
		"subject": msg.Subject,
		"content": content,
	}
	if cfg.ReplyTo != "" {
		payload["reply_to"] = map[string]string{"email": cfg.ReplyTo}
	}
	if len(msg.Headers) > 0 {
		payload["headers"] = msg.Headers
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	base := cfg.BaseURL
	if base == "" {
		base = sendgridBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, "POST", base+"/mail/send", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("sendgrid error %d: %s", resp.StatusCode, string(body))
	}

	messageID := resp.Header.Get("X-Message-Id")
	if messageID == "" {
		messageID = uuid.New().String()
	}

	logger.Debug("sendgrid send accepted", "recipient", msg.To, "message_id", messageID)
	return &SendResult{Provider: domain.ProviderSendGrid, MessageID: messageID, SentAt: time.Now()}, nil
}

func (t SendGridTransport) httpClient() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return defaultHTTPClient
}
