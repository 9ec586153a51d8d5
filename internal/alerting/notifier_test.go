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

	"spread-scanner/internal/spread"
)

func opportunity(symbol, buy, sell, net string) spread.Result {
	return spread.Result{
		Symbol:         symbol,
		BuyVenue:       buy,
		SellVenue:      sell,
		BuyPrice:       decimal.NewFromInt(100),
		SellPrice:      decimal.NewFromInt(101),
		Size:           decimal.NewFromInt(1),
		GrossSpreadPct: decimal.NewFromInt(1),
		NetSpreadPct:   decimal.RequireFromString(net),
		Network:        "TRC20",
	}
}

func sampleNote() Notification {
	return Notification{
		CycleID:       "c-1",
		At:            time.Now(),
		ThresholdPct:  decimal.NewFromInt(1),
		Opportunities: []spread.Result{opportunity("BTC/USDT", "okx", "gate", "1.25")},
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
	if err := notifier.Notify(context.Background(), sampleNote()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "BTC/USDT buy okx @ 100, sell gate @ 101") {
		t.Fatalf("text 内容不正确: %s", received["text"])
	}
	if !strings.Contains(received["text"], "net 1.250%") {
		t.Fatalf("text 应包含净价差: %s", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err == nil {
		t.Fatal("非 2xx 响应应报错")
	}
}

func TestThrottleCooldownAndCap(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	th := NewThrottle(decimal.NewFromInt(1), 30*time.Minute, 2)
	ranked := []spread.Result{
		opportunity("BTC/USDT", "a", "b", "2"),
		opportunity("ETH/USDT", "a", "b", "1.5"),
		opportunity("SOL/USDT", "a", "b", "1.2"),
		opportunity("XRP/USDT", "a", "b", "0.5"),
	}

	first := th.Select(ranked, now)
	if len(first) != 2 || first[0].Symbol != "BTC/USDT" || first[1].Symbol != "ETH/USDT" {
		t.Fatalf("首次应按排名选出两条: %#v", first)
	}

	second := th.Select(ranked, now.Add(time.Minute))
	if len(second) != 1 || second[0].Symbol != "SOL/USDT" {
		t.Fatalf("冷却期内仅未告警的路线可通过: %#v", second)
	}

	third := th.Select(ranked, now.Add(31*time.Minute))
	if len(third) != 2 || third[0].Symbol != "BTC/USDT" {
		t.Fatalf("冷却结束后应重新告警: %#v", third)
	}
}

func TestThrottleSeed(t *testing.T) {
	now := time.Now()
	th := NewThrottle(decimal.Zero, time.Hour, 0)
	r := opportunity("BTC/USDT", "a", "b", "1")
	th.Seed(map[string]time.Time{Key(r): now.Add(-10 * time.Minute)})
	if got := th.Select([]spread.Result{r}, now); len(got) != 0 {
		t.Fatalf("恢复的告警记录应生效: %#v", got)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
