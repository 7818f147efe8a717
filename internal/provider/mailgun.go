package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/idoneo/emailer/internal/domain"
	"github.com/idoneo/emailer/internal/pkg/logger"
)

const mailgunBaseURL = "https://api.mailgun.net/v3"

// MailgunTransport sends through the Mailgun Messages API.
type MailgunTransport struct {
	Client *http.Client
}

func (MailgunTransport) Name() domain.Provider { return domain.ProviderMailgun }

func (t MailgunTransport) Send(ctx context.Context, cfg SendConfig, msg *Message) (*SendResult, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("mailgun: API key not configured")
	}
	if cfg.Domain == "" {
		return nil, fmt.Errorf("mailgun: sending domain not configured")
	}

	form := url.Values{}
	form.Add("from", fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress))
	form.Add("to", msg.To)
	form.Add("subject", msg.Subject)
	form.Add("html", msg.HTML)
	if msg.Text != "" {
		form.Add("text", msg.Text)
	}
	if cfg.ReplyTo != "" {
		form.Add("h:Reply-To", cfg.ReplyTo)
	}
	for k, v := range msg.Headers {
		form.Add("h:"+k, v)
	}
	form.Add("v:campaign_id", msg.CampaignID.String())
	form.Add("v:delivery_id", msg.ID.String())

	base := cfg.BaseURL
	if base == "" {
		base = mailgunBaseURL
	}
	endpoint := fmt.Sprintf("%s/%s/messages", base, cfg.Domain)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", cfg.APIKey)

	resp, err := t.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("mailgun error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	json.Unmarshal(body, &result)
	messageID := strings.Trim(result.ID, "<>")

	logger.Debug("mailgun send accepted", "recipient", msg.To, "message_id", messageID)
	return &SendResult{Provider: domain.ProviderMailgun, MessageID: messageID, SentAt: time.Now()}, nil
}

func (t MailgunTransport) httpClient() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return defaultHTTPClient
}

var defaultHTTPClient = &http.Client{Timeout: 60 * time.Second}
