package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-scanner/internal/cache"
	"spread-scanner/internal/export"
	"spread-scanner/internal/metrics"
	"spread-scanner/internal/scanner"
	"spread-scanner/internal/spread"
)

type stubSnapshot struct {
	doc export.Cycle
	err error
}

func (s stubSnapshot) LatestCycle(context.Context) (export.Cycle, error) {
	return s.doc, s.err
}

func ranked(symbols ...string) []spread.Result {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out := make([]spread.Result, 0, len(symbols))
	for i, sym := range symbols {
		out = append(out, spread.Result{
			Symbol:         sym,
			BuyVenue:       "okx",
			SellVenue:      "gate",
			BuyPrice:       decimal.NewFromInt(100),
			SellPrice:      decimal.NewFromInt(101),
			Size:           decimal.NewFromInt(1),
			GrossSpreadPct: decimal.NewFromInt(1),
			NetSpreadPct:   decimal.NewFromFloat(0.8 - 0.1*float64(i)),
			Status:         spread.StatusProfitable,
			Timestamp:      now,
		})
	}
	return out
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestLatestFromHistory(t *testing.T) {
	history := scanner.NewHistory(2)
	history.Add(scanner.CycleResult{ID: "c-1", Opportunities: ranked("BTC/USDT", "ETH/USDT", "SOL/USDT")})

	srv := New(Options{History: history}, zerolog.Nop())
	rec := get(t, srv.Handler(), "/api/cycles/latest?top=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc export.Cycle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "c-1", doc.ID)
	require.Len(t, doc.Opportunities, 2)
	assert.Equal(t, "BTC/USDT", doc.Opportunities[0].Symbol)
}

func TestLatestFallsBackToSnapshot(t *testing.T) {
	doc := export.Cycle{ID: "c-remote", Opportunities: []export.Record{export.NewRecord(ranked("BTC/USDT")[0])}}
	srv := New(Options{History: scanner.NewHistory(1), Snapshot: stubSnapshot{doc: doc}}, zerolog.Nop())

	rec := get(t, srv.Handler(), "/api/cycles/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "c-remote")
}

func TestLatestNotFoundAndUnavailable(t *testing.T) {
	empty := New(Options{Snapshot: stubSnapshot{err: cache.ErrNotFound}}, zerolog.Nop())
	assert.Equal(t, http.StatusNotFound, get(t, empty.Handler(), "/api/cycles/latest").Code)

	broken := New(Options{Snapshot: stubSnapshot{err: errors.New("dial tcp: refused")}}, zerolog.Nop())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, broken.Handler(), "/api/opportunities.csv").Code)
}

func TestOpportunitiesCSV(t *testing.T) {
	history := scanner.NewHistory(1)
	history.Add(scanner.CycleResult{ID: "c-1", Opportunities: ranked("BTC/USDT", "ETH/USDT")})

	rec := get(t, New(Options{History: history}, zerolog.Nop()).Handler(), "/api/opportunities.csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))

	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, export.Header, rows[0])
	assert.Equal(t, []string{"BTC/USDT", "okx", "gate", "100", "101", "1", "1", "0.8", "2024-05-01T12:00:00Z"}, rows[1])
}

func TestHealthAndMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.ObserveCycle(metrics.CycleSummary{Opportunities: 1})
	srv := New(Options{Metrics: reg.Handler()}, zerolog.Nop())

	health := get(t, srv.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, health.Code)
	assert.Contains(t, health.Body.String(), `"status":"ok"`)
	assert.Equal(t, "*", health.Header().Get("Access-Control-Allow-Origin"))

	m := get(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, m.Code)
	assert.Contains(t, m.Body.String(), "spreadscan_cycles_total 1")
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := New(Options{Addr: "127.0.0.1:0"}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
