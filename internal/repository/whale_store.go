package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Wayy-Research/wrdata/internal/domain/models"
	"github.com/Wayy-Research/wrdata/internal/domain/repository"
)

// ClickHouseStorage implements Storage on a whale event table.
type ClickHouseStorage struct {
	db       *sql.DB
	database string
	table    string
}

// NewClickHouseStorage creates ClickHouse-backed whale event storage.
// database and table default to wrdata.whale_events when empty.
func NewClickHouseStorage(db *sql.DB, database, table string) repository.Storage {
	if database == "" {
		database = "wrdata"
	}
	if table == "" {
		table = "whale_events"
	}
	return &ClickHouseStorage{db: db, database: database, table: table}
}

func (s *ClickHouseStorage) qualified() string {
	return s.database + "." + s.table
}

// Init ensures the database and table exist. Idempotent.
func (s *ClickHouseStorage) Init(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.database),
		fmt.Sprintf(`
            CREATE TABLE IF NOT EXISTS %s (
                ts          DateTime64(3),
                symbol      LowCardinality(String),
                exchange    LowCardinality(String),
                trade_id    String,
                price       Float64,
                size        Float64,
                side        LowCardinality(String),
                usd_value   Float64,
                percentile  Float64,
                rank        UInt32,
                threshold   Float64
            )
            ENGINE = MergeTree
            ORDER BY (symbol, ts)
            TTL toDateTime(ts) + INTERVAL 90 DAY
        `, s.qualified()),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init whale schema: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseStorage) Store(ctx context.Context, ev *models.TradeEvent) error {
	if ev == nil || ev.Whale == nil {
		return fmt.Errorf("store whale: unclassified event: %w", repository.ErrInvalidInput)
	}
	q := fmt.Sprintf(`INSERT INTO %s
        (ts, symbol, exchange, trade_id, price, size, side, usd_value, percentile, rank, threshold)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.qualified())
	_, err := s.db.ExecContext(ctx, q,
		ev.Timestamp,
		ev.Symbol,
		ev.Exchange,
		ev.TradeID,
		ev.Price,
		ev.Size,
		string(ev.Side),
		ev.USDValue,
		ev.Whale.Percentile,
		uint32(ev.Whale.Rank),
		ev.Whale.Threshold,
	)
	if err != nil {
		return fmt.Errorf("store whale: %w", err)
	}
	return nil
}

// RecentWhales returns the newest stored whale events for symbol.
func (s *ClickHouseStorage) RecentWhales(ctx context.Context, symbol string, limit int) ([]*models.TradeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	q := fmt.Sprintf(`SELECT ts, symbol, exchange, trade_id, price, size, side, usd_value, percentile, rank, threshold
        FROM %s
        WHERE symbol = ?
        ORDER BY ts DESC
        LIMIT ?`, s.qualified())
	rows, err := s.db.QueryContext(ctx, q, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("recent whales: %w", err)
	}
	defer rows.Close()

	out := make([]*models.TradeEvent, 0, limit)
	for rows.Next() {
		var (
			ev   models.TradeEvent
			cls  models.WhaleClassification
			side string
			rank uint32
		)
		if err := rows.Scan(&ev.Timestamp, &ev.Symbol, &ev.Exchange, &ev.TradeID,
			&ev.Price, &ev.Size, &side, &ev.USDValue,
			&cls.Percentile, &rank, &cls.Threshold); err != nil {
			return nil, fmt.Errorf("scan whale: %w", err)
		}
		ev.Side = models.Side(side)
		cls.Rank = int(rank)
		cls.IsWhale = true
		ev.Whale = &cls
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *ClickHouseStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseStorage) Close() error {
	return nil // pool is owned by the clickhouse client
}
