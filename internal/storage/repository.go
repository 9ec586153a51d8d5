package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertCycleSQL = `INSERT INTO scan_cycles (
        id,
        started_at,
        finished_at,
        venues,
        skipped,
        symbols,
        attempted,
        succeeded,
        failed,
        evaluated,
        failures,
        outcomes
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    )
    ON CONFLICT (id) DO NOTHING;`

	insertOpportunitySQL = `INSERT INTO opportunities (
        cycle_id,
        rank,
        symbol,
        buy_venue,
        sell_venue,
        buy_price,
        sell_price,
        size,
        notional,
        gross_spread_pct,
        net_spread_pct,
        trading_fees,
        transfer_cost,
        network,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    )
    ON CONFLICT (cycle_id, rank) DO NOTHING;`

	cycleColumns = `c.id::text,
        c.started_at,
        c.finished_at,
        c.venues,
        c.skipped,
        c.symbols,
        c.attempted,
        c.succeeded,
        c.failed,
        c.evaluated,
        c.failures,
        c.outcomes,
        COALESCE((SELECT o.net_spread_pct::text FROM opportunities o WHERE o.cycle_id = c.id AND o.rank = 1), '0'),
        (SELECT COUNT(*) FROM opportunities o WHERE o.cycle_id = c.id),
        c.created_at`

	listRecentCyclesSQL = `SELECT ` + cycleColumns + `
    FROM scan_cycles c
    ORDER BY c.started_at DESC
    LIMIT $1;`

	listCyclesBetweenSQL = `SELECT ` + cycleColumns + `
    FROM scan_cycles c
    WHERE c.started_at >= $1
      AND c.started_at < $2
    ORDER BY c.started_at;`

	listOpportunitiesSQL = `SELECT
        cycle_id::text,
        rank,
        symbol,
        buy_venue,
        sell_venue,
        buy_price::text,
        sell_price::text,
        size::text,
        notional::text,
        gross_spread_pct::text,
        net_spread_pct::text,
        trading_fees::text,
        transfer_cost::text,
        network,
        observed_at
    FROM opportunities
    WHERE cycle_id = $1
    ORDER BY rank;`

	deleteCyclesBeforeSQL = `DELETE FROM scan_cycles WHERE started_at < $1;`
	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	insertAlertSQL = `INSERT INTO alerts (
        cycle_id,
        symbol,
        buy_venue,
        sell_venue,
        net_spread_pct,
        threshold_pct,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, created_at;`

	lastAlertsSinceSQL = `SELECT symbol, buy_venue, sell_venue, MAX(created_at)
    FROM alerts
    WHERE created_at >= $1
    GROUP BY symbol, buy_venue, sell_venue;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// CycleStore persists ranked cycles.
type CycleStore interface {
	SaveCycle(ctx context.Context, cycle CycleRecord, opps []OpportunityRecord) error
	ListRecentCycles(ctx context.Context, limit int) ([]CycleRecord, error)
	ListCyclesBetween(ctx context.Context, from, to time.Time) ([]CycleRecord, error)
	ListOpportunities(ctx context.Context, cycleID string) ([]OpportunityRecord, error)
	DeleteCyclesBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	LastAlertsSince(ctx context.Context, since time.Time) (map[string]time.Time, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to cycles, opportunities and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. The lock lives on a dedicated connection until released.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// SaveCycle writes the cycle and its opportunities in one transaction.
func (s *Store) SaveCycle(ctx context.Context, cycle CycleRecord, opps []OpportunityRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	failures, err := json.Marshal(cycle.Failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}
	outcomes, err := json.Marshal(cycle.Outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertCycleSQL,
			cycle.ID,
			cycle.StartedAt,
			cycle.FinishedAt,
			cycle.Venues,
			cycle.Skipped,
			cycle.Symbols,
			cycle.Attempted,
			cycle.Succeeded,
			cycle.Failed,
			cycle.Evaluated,
			failures,
			outcomes,
		); err != nil {
			return fmt.Errorf("insert cycle: %w", err)
		}
		if len(opps) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, o := range opps {
			batch.Queue(insertOpportunitySQL,
				o.CycleID,
				o.Rank,
				o.Symbol,
				o.BuyVenue,
				o.SellVenue,
				o.BuyPrice.String(),
				o.SellPrice.String(),
				o.Size.String(),
				o.Notional.String(),
				o.GrossSpreadPct.String(),
				o.NetSpreadPct.String(),
				o.TradingFees.String(),
				o.TransferCost.String(),
				o.Network,
				o.ObservedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert opportunities: %w", err)
		}
		return nil
	})
}

// ListRecentCycles lists the most recent cycles ordered by descending start.
func (s *Store) ListRecentCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listRecentCyclesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent cycles: %w", err)
	}
	return collectCycles(rows)
}

// ListCyclesBetween lists cycles started within [from, to) in start order.
func (s *Store) ListCyclesBetween(ctx context.Context, from, to time.Time) ([]CycleRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listCyclesBetweenSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("list cycles between: %w", err)
	}
	return collectCycles(rows)
}

// ListOpportunities returns a cycle's opportunities in rank order.
func (s *Store) ListOpportunities(ctx context.Context, cycleID string) ([]OpportunityRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listOpportunitiesSQL, cycleID)
	if err != nil {
		return nil, fmt.Errorf("list opportunities: %w", err)
	}
	defer rows.Close()

	opps := make([]OpportunityRecord, 0)
	for rows.Next() {
		var (
			o                          OpportunityRecord
			buy, sell, size, notional  string
			gross, net, fees, transfer string
		)
		if err := rows.Scan(
			&o.CycleID,
			&o.Rank,
			&o.Symbol,
			&o.BuyVenue,
			&o.SellVenue,
			&buy,
			&sell,
			&size,
			&notional,
			&gross,
			&net,
			&fees,
			&transfer,
			&o.Network,
			&o.ObservedAt,
		); err != nil {
			return nil, err
		}
		parsed, err := parseDecimals(buy, sell, size, notional, gross, net, fees, transfer)
		if err != nil {
			return nil, err
		}
		o.BuyPrice, o.SellPrice, o.Size, o.Notional = parsed[0], parsed[1], parsed[2], parsed[3]
		o.GrossSpreadPct, o.NetSpreadPct, o.TradingFees, o.TransferCost = parsed[4], parsed[5], parsed[6], parsed[7]
		opps = append(opps, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return opps, nil
}

// DeleteCyclesBefore enforces retention; opportunities cascade.
func (s *Store) DeleteCyclesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, deleteCyclesBeforeSQL, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete cycles before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}
	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.CycleID,
		alert.Symbol,
		alert.BuyVenue,
		alert.SellVenue,
		alert.NetSpreadPct.String(),
		alert.ThresholdPct.String(),
		alert.Channels,
	)
	if err := row.Scan(&alert.ID, &alert.CreatedAt); err != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", err)
	}
	return alert, nil
}

// LastAlertsSince returns the latest alert time per route key.
func (s *Store) LastAlertsSince(ctx context.Context, since time.Time) (map[string]time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, lastAlertsSinceSQL, since)
	if err != nil {
		return nil, fmt.Errorf("last alerts since: %w", err)
	}
	defer rows.Close()

	last := make(map[string]time.Time)
	for rows.Next() {
		var symbol, buy, sell string
		var at time.Time
		if err := rows.Scan(&symbol, &buy, &sell, &at); err != nil {
			return nil, err
		}
		last[RouteKey(symbol, buy, sell)] = at
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return last, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

// RouteKey identifies a symbol's buy/sell direction.
func RouteKey(symbol, buy, sell string) string {
	return symbol + "|" + buy + "|" + sell
}

func collectCycles(rows pgx.Rows) ([]CycleRecord, error) {
	defer rows.Close()

	cycles := make([]CycleRecord, 0)
	for rows.Next() {
		var (
			rec                CycleRecord
			failures, outcomes []byte
			best               string
			count              int64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.StartedAt,
			&rec.FinishedAt,
			&rec.Venues,
			&rec.Skipped,
			&rec.Symbols,
			&rec.Attempted,
			&rec.Succeeded,
			&rec.Failed,
			&rec.Evaluated,
			&failures,
			&outcomes,
			&best,
			&count,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(failures, &rec.Failures); err != nil {
			return nil, fmt.Errorf("parse failures: %w", err)
		}
		if err := json.Unmarshal(outcomes, &rec.Outcomes); err != nil {
			return nil, fmt.Errorf("parse outcomes: %w", err)
		}
		parsed, err := decimal.NewFromString(best)
		if err != nil {
			return nil, fmt.Errorf("parse best spread: %w", err)
		}
		rec.Best = parsed
		rec.Opportunities = int(count)
		cycles = append(cycles, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return cycles, nil
}

func parseDecimals(values ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parse numeric %q: %w", v, err)
		}
		out[i] = d
	}
	return out, nil
}

var (
	_ CycleStore     = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
