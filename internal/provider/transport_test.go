package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/idoneo/emailer/internal/domain"
)

func testMessage() *Message {
	return &Message{
		ID:         uuid.New(),
		CampaignID: uuid.New(),
		To:         "recipient@example.com",
		ToName:     "Recipient",
		Subject:    "Hello",
		HTML:       "<p>Hello</p>",
		Headers:    map[string]string{"List-Unsubscribe": "<https://example.com/u/abc>"},
	}
}

func TestMailgunSend(t *testing.T) {
	var gotForm url.Values
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mg.example.com/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		gotForm, _ = url.ParseQuery(string(body))
		_, gotAuth, _ = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"id": "<20260901.123@mg.example.com>", "message": "Queued"})
	}))
	defer srv.Close()

	cfg := SendConfig{
		Provider:    domain.ProviderMailgun,
		APIKey:      "key-test",
		Domain:      "mg.example.com",
		BaseURL:     srv.URL,
		FromAddress: "news@example.com",
		FromName:    "News",
	}
	res, err := MailgunTransport{}.Send(context.Background(), cfg, testMessage())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.MessageID != "20260901.123@mg.example.com" {
		t.Errorf("message id = %q, angle brackets must be stripped", res.MessageID)
	}
	if gotAuth != "key-test" {
		t.Errorf("basic auth password = %q", gotAuth)
	}
	if gotForm.Get("to") != "recipient@example.com" || gotForm.Get("html") == "" {
		t.Errorf("form = %v", gotForm)
	}
	if gotForm.Get("h:List-Unsubscribe") == "" {
		t.Error("List-Unsubscribe header not forwarded")
	}
}

func TestMailgunSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Forbidden"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := SendConfig{APIKey: "bad", Domain: "mg.example.com", BaseURL: srv.URL}
	if _, err := (MailgunTransport{}).Send(context.Background(), cfg, testMessage()); err == nil {
		t.Fatal("Send must surface API errors")
	}
}

func TestMailgunSendWithoutKey(t *testing.T) {
	if _, err := (MailgunTransport{}).Send(context.Background(), SendConfig{Domain: "d"}, testMessage()); err == nil {
		t.Fatal("Send without API key must fail")
	}
}

func TestSendGridSend(t *testing.T) {
	var gotPayload map[string]any
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mail/send" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Header().Set("X-Message-Id", "sg-msg-1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := SendConfig{
		APIKey:      "sg-key",
		BaseURL:     srv.URL,
		FromAddress: "news@example.com",
		FromName:    "News",
		ReplyTo:     "reply@example.com",
	}
	res, err := SendGridTransport{}.Send(context.Background(), cfg, testMessage())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.MessageID != "sg-msg-1" {
		t.Errorf("message id = %q, want X-Message-Id value", res.MessageID)
	}
	if gotAuth != "Bearer sg-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPayload["subject"] != "Hello" {
		t.Errorf("payload subject = %v", gotPayload["subject"])
	}
	if _, ok := gotPayload["reply_to"]; !ok {
		t.Error("reply_to not set")
	}
}

func TestSendGridGeneratesIDWhenHeaderMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	res, err := SendGridTransport{}.Send(context.Background(), SendConfig{APIKey: "k", BaseURL: srv.URL}, testMessage())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.MessageID == "" {
		t.Error("message id must be generated when the API returns none")
	}
}

func TestMailBabySend(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-KEY")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	cfg := SendConfig{APIKey: "mb-key", BaseURL: srv.URL, FromAddress: "news@example.com"}
	res, err := MailBabyTransport{}.Send(context.Background(), cfg, testMessage())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotKey != "mb-key" {
		t.Errorf("X-API-KEY = %q", gotKey)
	}
	if res.MessageID == "" {
		t.Error("message id must be generated for correlation")
	}
}

func TestBuildMIME(t *testing.T) {
	cfg := SendConfig{
		FromAddress: "news@example.com",
		FromName:    "News",
		ReplyTo:     "reply@example.com",
		SMTP:        SMTPConfig{Host: "mail.example.com"},
	}
	msg := testMessage()
	raw := string(buildMIME(cfg, msg, "abc-123"))

	for _, want := range []string{
		"From: News <news@example.com>\r\n",
		"To: Recipient <recipient@example.com>\r\n",
		"Subject: Hello\r\n",
		"Message-ID: <abc-123@mail.example.com>\r\n",
		"Reply-To: reply@example.com\r\n",
		"List-Unsubscribe: <https://example.com/u/abc>\r\n",
		"\r\n\r\n<p>Hello</p>",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("mime missing %q", want)
		}
	}
}
