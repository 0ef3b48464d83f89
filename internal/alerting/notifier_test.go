package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/threshold"
)

func testEvent() AlertEvent {
	return AlertEvent{
		Asset:      "solana",
		Band:       threshold.Band{Min: decimal.NewFromInt(150), Max: decimal.NewFromInt(170), Label: "Dipping"},
		Price:      decimal.NewFromInt(160),
		ObservedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "Dipping") || !strings.Contains(received["text"], "160") {
		t.Fatalf("text 应包含区间与价格: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), testEvent()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestSMSMessage(t *testing.T) {
	got := SMSMessage(testEvent())
	want := "Threshold: Dipping triggered, Quote Amount of solana is 160 USD"
	if got != want {
		t.Fatalf("短信内容不正确:\n got  %q\n want %q", got, want)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
