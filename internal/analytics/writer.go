package analytics

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog"
)

// Writer is the insert/count surface the worker and the coordinator use.
type Writer interface {
	Insert(ctx context.Context, rows []Row) error
	CountDistinctSignatures(ctx context.Context, programID string) (int64, error)
	Close() error
}

// Options configures the ClickHouse connection.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

type chWriter struct {
	conn  driver.Conn
	table string
	log   zerolog.Logger
}

// Open connects to ClickHouse over the native protocol and ensures the
// transactions table exists.
func Open(ctx context.Context, opts Options, log zerolog.Logger) (Writer, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	w := &chWriter{conn: conn, table: opts.Table, log: log}
	if err := w.ensureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return w, nil
}

// ensureSchema creates the transactions table. ReplacingMergeTree keyed
// by (signature, account, program_id) makes re-ingestion benign: the
// row with the greatest updated_at wins at merge time.
func (w *chWriter) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			signature        String,
			slot             UInt64,
			block_time       DateTime,
			program_id       String,
			account          String,
			token_mint       String,
			amount           String,
			amount_usd       Decimal(38, 18),
			status           LowCardinality(String),
			instruction_type LowCardinality(String),
			event_type       LowCardinality(String),
			order_id         String,
			created_at       DateTime,
			updated_at       DateTime
		)
		ENGINE = ReplacingMergeTree(updated_at)
		PRIMARY KEY (signature, account, program_id)
		ORDER BY (signature, account, program_id, slot)
	`, w.table)

	if err := w.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Insert appends rows in one server-batched async insert and returns
// once the server has acknowledged the batch. Retries are the caller's
// concern.
func (w *chWriter) Insert(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"async_insert":          1,
		"wait_for_async_insert": 1,
	}))

	batch, err := w.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", w.table))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, row := range rows {
		if err := batch.Append(
			row.Signature,
			row.Slot,
			row.BlockTime,
			row.ProgramID,
			row.Account,
			row.TokenMint,
			row.Amount,
			row.AmountUSD,
			row.Status,
			row.InstructionType,
			row.EventType,
			row.OrderID,
			row.CreatedAt,
			row.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to append row %s: %w", row.Signature, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	w.log.Debug().Int("rows", len(rows)).Msg("batch inserted")
	return nil
}

// CountDistinctSignatures is the analytics-side fallback for the
// processed counter when Redis holds no value.
func (w *chWriter) CountDistinctSignatures(ctx context.Context, programID string) (int64, error) {
	query := fmt.Sprintf("SELECT count(DISTINCT signature) FROM %s WHERE program_id = ?", w.table)

	var count uint64
	if err := w.conn.QueryRow(ctx, query, programID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count signatures: %w", err)
	}
	return int64(count), nil
}

func (w *chWriter) Close() error {
	return w.conn.Close()
}
