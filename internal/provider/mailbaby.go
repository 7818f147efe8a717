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

const mailbabyBaseURL = "https://api.mailbaby.net"

// MailBabyTransport sends through the MailBaby Mail Send API. The API
// acknowledges without a message id, so the transport generates one for
// webhook correlation, same as SMTP.
type MailBabyTransport struct {
	Client *http.Client
}

func (MailBabyTransport) Name() domain.Provider { return domain.ProviderMailBaby }

func (t MailBabyTransport) Send(ctx context.Context, cfg SendConfig, msg *Message) (*SendResult, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("mailbaby: API key not configured")
	}

	payload := map[string]any{
		"to":      msg.To,
		"from":    fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress),
		"subject": msg.Subject,
		"body":    msg.HTML,
	}
	if cfg.ReplyTo != "" {
		payload["replyto"] = cfg.ReplyTo
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	base := cfg.BaseURL
	if base == "" {
		base = mailbabyBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, "POST", base+"/mail/send", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", cfg.APIKey)

	resp, err := t.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("mailbaby error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		MessageID string `json:"message_id"`
	}
	json.Unmarshal(body, &result)
	messageID := result.MessageID
	if messageID == "" {
		messageID = uuid.New().String()
	}

	logger.Debug("mailbaby send accepted", "recipient", msg.To, "message_id", messageID)
	return &SendResult{Provider: domain.ProviderMailBaby, MessageID: messageID, SentAt: time.Now()}, nil
}

func (t MailBabyTransport) httpClient() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return defaultHTTPClient
}
