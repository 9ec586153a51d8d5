package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spread-scanner/internal/scanner"
	"spread-scanner/internal/spread"
	"spread-scanner/internal/venue"
)

func TestNilStoreNotConfigured(t *testing.T) {
	var s *Store
	if err := s.SaveCycle(context.Background(), CycleRecord{}, nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("未配置连接池应返回 ErrNotConfigured, 实际 %v", err)
	}
	if _, _, err := s.TryAdvisoryLock(context.Background(), 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("advisory lock 应返回 ErrNotConfigured, 实际 %v", err)
	}
	s.Close()
}

func TestCycleRecordConversion(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	res := scanner.CycleResult{
		ID:        "5b8c0c0e-8f6e-4a59-9d7c-2b0b2b7d3c11",
		StartedAt: now,
		Venues:    []string{"a", "b"},
		Opportunities: []spread.Result{
			{Symbol: "BTC/USDT", BuyVenue: "a", SellVenue: "b", NetSpreadPct: decimal.RequireFromString("0.8"), Timestamp: now},
			{Symbol: "ETH/USDT", BuyVenue: "b", SellVenue: "a", NetSpreadPct: decimal.RequireFromString("0.6"), Timestamp: now},
		},
		Stats: scanner.Stats{Attempted: 4, Failures: map[venue.Kind]int{venue.KindRateLimited: 2}},
	}

	rec := NewCycleRecord(res)
	if rec.Best.String() != "0.8" || rec.Opportunities != 2 {
		t.Fatalf("最佳价差或数量不正确: %s %d", rec.Best, rec.Opportunities)
	}
	if rec.Failures["rate_limited"] != 2 {
		t.Fatalf("失败分类不正确: %#v", rec.Failures)
	}
	if rec.Skipped == nil {
		t.Fatal("skipped 不应为 nil")
	}

	opps := NewOpportunityRecords(res)
	if len(opps) != 2 || opps[0].Rank != 1 || opps[1].Rank != 2 {
		t.Fatalf("排名编号不正确: %#v", opps)
	}
	back := opps[1].Result()
	if back.Symbol != "ETH/USDT" || back.Status != spread.StatusProfitable {
		t.Fatalf("还原结果不正确: %#v", back)
	}
}

func TestMigrationFilesOrdered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.sql", "0001_a.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	files, err := MigrationFiles(dir)
	if err != nil {
		t.Fatalf("读取迁移失败: %v", err)
	}
	if len(files) != 2 || files[0] != "0001_a.sql" || files[1] != "0002_b.sql" {
		t.Fatalf("迁移顺序不正确: %v", files)
	}
}

func TestRouteKey(t *testing.T) {
	if got := RouteKey("BTC/USDT", "a", "b"); got != "BTC/USDT|a|b" {
		t.Fatalf("route key 不正确: %s", got)
	}
}
