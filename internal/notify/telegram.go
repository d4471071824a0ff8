package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"downloadreport/internal/util"
)

// DefaultTelegramURL is the Bot API root.
const DefaultTelegramURL = "https://api.telegram.org"

// Notifier delivers a formatted report.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Compile-time interface checks.
var (
	_ Notifier = (*TelegramSender)(nil)
	_ Notifier = (*LogNotifier)(nil)
)

// TelegramSender posts messages through the Bot API sendMessage method.
type TelegramSender struct {
	token      string
	chatID     string
	baseURL    string
	httpClient *http.Client
	policy     util.RetryPolicy
	log        *slog.Logger
}

// NewTelegramSender creates a sender. An empty baseURL uses the public Bot
// API. policy governs retries of failed sends.
func NewTelegramSender(token, chatID, baseURL string, policy util.RetryPolicy, log *slog.Logger) *TelegramSender {
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &TelegramSender{
		token:      token,
		chatID:     chatID,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		policy:     policy,
		log:        log.With("component", "telegram"),
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts text as an HTML message, retrying per the sender's policy.
func (s *TelegramSender) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: s.chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("marshal sendMessage: %w", err)
	}

	err = util.Retry(ctx, s.policy, s.log, func() error {
		return s.post(ctx, body)
	})
	if err != nil {
		return err
	}
	s.log.Info("report sent")
	return nil
}

func (s *TelegramSender) post(ctx context.Context, body []byte) error {
	u := s.baseURL + "/bot" + s.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return util.Permanent(fmt.Errorf("build sendMessage request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.httpClient.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("sendMessage request failed: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read sendMessage response: %w", err)
	}
	var payload apiResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("sendMessage status %d: %s", res.StatusCode, strings.TrimSpace(string(data)))
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 && payload.OK {
		return nil
	}
	return fmt.Errorf("sendMessage status %d: %s", res.StatusCode, payload.Description)
}

// LogNotifier logs the report instead of sending it. Dry runs use it.
type LogNotifier struct {
	Log *slog.Logger
}

// Send implements Notifier.
func (n *LogNotifier) Send(_ context.Context, text string) error {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("dry run, report not sent", "report", text)
	return nil
}
