package notifier

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/uberdeveloper/omspy/internal/utils"
)

// Telegram sends messages through the Telegram bot HTTP API.
type Telegram struct {
	Token   string
	ChatID  string
	Retries int
	Delay   time.Duration

	client  *http.Client
	baseURL string
}

// NewTelegram builds a notifier for the given bot token and chat. An
// optional proxy URL routes the API calls; retries bounds SendWithRetry
// and delay is the pause between attempts.
func NewTelegram(token, chatID, proxyURL string, retries int, delay time.Duration) (*Telegram, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	}
	return &Telegram{
		Token:   token,
		ChatID:  chatID,
		Retries: retries,
		Delay:   delay,
		client:  client,
	}, nil
}

func (t *Telegram) Send(message string) error {
	base := t.baseURL
	if base == "" {
		base = "https://api.telegram.org"
	}
	client := t.client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.PostForm(fmt.Sprintf("%s/bot%s/sendMessage", base, t.Token), url.Values{
		"chat_id": {t.ChatID},
		"text":    {message},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

// SendWithRetry retries Send up to Retries times, pausing Delay between
// attempts.
func (t *Telegram) SendWithRetry(message string) error {
	attempts := t.Retries
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 && t.Delay > 0 {
			time.Sleep(t.Delay)
		}
		if err = t.Send(message); err == nil {
			return nil
		}
		utils.GetLogger().Printf("Notifier | Telegram send attempt %d/%d failed: %v", i+1, attempts, err)
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", attempts, err)
}
