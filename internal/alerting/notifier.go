package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/threshold"
)

// AlertEvent 表示一次价格进入告警区间。
type AlertEvent struct {
	Asset      string
	Band       threshold.Band
	Price      decimal.Decimal
	ObservedAt time.Time
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event AlertEvent) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Name identifies the channel in cycle results.
func (n *TelegramNotifier) Name() string { return "telegram" }

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, event AlertEvent) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(event),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("asset", event.Asset).
		Str("label", event.Band.Label).
		Str("price", event.Price.String()).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(event AlertEvent) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[%s price alert]\n", event.Asset))
	builder.WriteString(fmt.Sprintf("Threshold: %s\n", event.Band.Label))
	builder.WriteString(fmt.Sprintf("Band: %s - %s USD\n", event.Band.Min.String(), event.Band.Max.String()))
	builder.WriteString(fmt.Sprintf("Price: %s USD\n", event.Price.String()))
	if !event.ObservedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Observed: %s UTC\n", event.ObservedAt.UTC().Format(time.RFC3339)))
	}
	return builder.String()
}

// SMSMessage is the text published for an alert.
func SMSMessage(event AlertEvent) string {
	return fmt.Sprintf("Threshold: %s triggered, Quote Amount of %s is %s USD", event.Band.Label, event.Asset, event.Price.String())
}

var _ Notifier = (*TelegramNotifier)(nil)
