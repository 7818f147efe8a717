package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/idoneo/emailer/internal/domain"
)

// SMTPTransport sends over plain SMTP with optional STARTTLS or implicit
// TLS. SMTP servers assign no usable message id at submission time, so
// the transport generates one and stamps it into the Message-ID header;
// webhook correlation for SMTP sends happens via that generated id.
type SMTPTransport struct{}

func (SMTPTransport) Name() domain.Provider { return domain.ProviderSMTP }

func (SMTPTransport) Send(ctx context.Context, cfg SendConfig, msg *Message) (*SendResult, error) {
	if cfg.SMTP.Host == "" {
		return nil, fmt.Errorf("smtp: host not configured")
	}
	port := cfg.SMTP.Port
	if port == 0 {
		port = 587
	}
	addr := net.JoinHostPort(cfg.SMTP.Host, strconv.Itoa(port))

	messageID := uuid.New().String()
	body := buildMIME(cfg, msg, messageID)

	done := make(chan error, 1)
	go func() {
		done <- smtpSubmit(cfg, addr, msg.To, body)
	}()
	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("smtp send: %w", err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &SendResult{Provider: domain.ProviderSMTP, MessageID: messageID, SentAt: time.Now()}, nil
}

func smtpSubmit(cfg SendConfig, addr, to string, body []byte) error {
	var auth smtp.Auth
	if cfg.SMTP.Username != "" {
		auth = smtp.PlainAuth("", cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.Host)
	}

	// Port 465 is implicit TLS; everything else goes through the
	// standard dialer, which upgrades via STARTTLS when offered.
	if strings.EqualFold(cfg.SMTP.Encryption, "ssl") || cfg.SMTP.Port == 465 {
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: cfg.SMTP.Host})
		if err != nil {
			return err
		}
		defer conn.Close()
		c, err := smtp.NewClient(conn, cfg.SMTP.Host)
		if err != nil {
			return err
		}
		defer c.Close()
		if auth != nil {
			if err := c.Auth(auth); err != nil {
				return err
			}
		}
		if err := c.Mail(cfg.FromAddress); err != nil {
			return err
		}
		if err := c.Rcpt(to); err != nil {
			return err
		}
		w, err := c.Data()
		if err != nil {
			return err
		}
		if _, err := w.Write(body); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		return c.Quit()
	}

	return smtp.SendMail(addr, auth, cfg.FromAddress, []string{to}, body)
}

func buildMIME(cfg SendConfig, msg *Message, messageID string) []byte {
	var b strings.Builder
	writeHeader := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}

	from := cfg.FromAddress
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", cfg.FromName), cfg.FromAddress)
	}
	to := msg.To
	if msg.ToName != "" {
		to = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", msg.ToName), msg.To)
	}

	writeHeader("From", from)
	writeHeader("To", to)
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader("Message-ID", fmt.Sprintf("<%s@%s>", messageID, cfg.SMTP.Host))
	if cfg.ReplyTo != "" {
		writeHeader("Reply-To", cfg.ReplyTo)
	}
	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(k, msg.Headers[k])
	}
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", `text/html; charset="utf-8"`)
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}
