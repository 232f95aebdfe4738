// Package notify pushes generated report bundles to a Telegram chat.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// Telegram posts messages and documents through the Bot API. A notifier
// with an empty token or chat id is disabled: every call becomes a no-op.
type Telegram struct {
	token  string
	chatID string
	client *http.Client
	logger *slog.Logger
}

// NewTelegram builds a notifier. token and chatID may be empty.
func NewTelegram(token, chatID string, logger *slog.Logger) *Telegram {
	return &Telegram{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}
}

// Enabled reports whether both the bot token and chat id are configured.
func (t *Telegram) Enabled() bool {
	return t.token != "" && t.chatID != ""
}

// SendMessage posts an HTML-formatted text message.
func (t *Telegram) SendMessage(ctx context.Context, text string) error {
	if !t.Enabled() {
		return nil
	}
	form := url.Values{
		"chat_id":    {t.chatID},
		"text":       {text},
		"parse_mode": {"HTML"},
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", telegramAPI, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.do(req)
}

// SendDocument posts a file to the chat under the given name.
func (t *Telegram) SendDocument(ctx context.Context, name string, content io.Reader) error {
	if !t.Enabled() {
		return nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("chat_id", t.chatID); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("document", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendDocument", telegramAPI, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return t.do(req)
}

func (t *Telegram) do(req *http.Request) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram api status %s", resp.Status)
	}
	return nil
}

// SummaryMessage renders the notification text accompanying a report bundle.
func SummaryMessage(institute, remoteAddr, bundleName string, dateCount int) string {
	return fmt.Sprintf(`<b>New QA Report Generated</b>

<b>Date:</b> %s
<b>Institute:</b> %s
<b>IP Address:</b> %s
<b>Total Dates:</b> %d
<b>Package:</b> %s

<i>Package contains the QCW file and all PDF reports</i>`,
		time.Now().Format("2006-01-02 15:04:05"), institute, remoteAddr, dateCount, bundleName)
}
