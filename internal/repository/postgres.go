package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/config"
	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/models"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id          UUID PRIMARY KEY,
    customer_id UUID NOT NULL,
    amount      NUMERIC NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS outbox (
    id           BIGSERIAL PRIMARY KEY,
    event_type   VARCHAR(64) NOT NULL,
    message_id   UUID NOT NULL,
    payload      JSONB NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    processed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS outbox_pending_idx ON outbox (id) WHERE processed_at IS NULL;`

// Open connects to Postgres through an OpenTelemetry-instrumented driver and pings it
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := otelsql.Open("postgres", cfg.URL,
		otelsql.WithAttributes(attribute.String("db.system", "postgresql")),
	)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database is not reachable: %w", err)
	}

	return db, nil
}

// Migrate creates the orders and outbox tables if they do not exist
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

var _ OrderRepository = (*PostgresOrderRepository)(nil)

// PostgresOrderRepository implements OrderRepository and the outbox relay store on Postgres
type PostgresOrderRepository struct {
	db *sql.DB
}

// NewPostgresOrderRepository creates a repository backed by db
func NewPostgresOrderRepository(db *sql.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Insert writes a single order row
func (r *PostgresOrderRepository) Insert(ctx context.Context, order *models.Order) error {
	return insertOrder(ctx, r.db, order)
}

// InsertWithOutbox writes the order row and its outbox message in one transaction
func (r *PostgresOrderRepository) InsertWithOutbox(ctx context.Context, order *models.Order, msg *models.OutboxMessage) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertOrder(ctx, tx, order); err != nil {
		return err
	}

	err = tx.QueryRowContext(ctx, `
	INSERT INTO outbox (event_type, message_id, payload)
	VALUES ($1, $2, $3)
	RETURNING id, created_at`,
		msg.EventType, msg.MessageID, msg.Payload,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func insertOrder(ctx context.Context, q queryRower, order *models.Order) error {
	err := q.QueryRowContext(ctx, `
	INSERT INTO orders (id, customer_id, amount)
	VALUES ($1, $2, $3)
	RETURNING created_at`,
		order.ID, order.CustomerID, order.Amount,
	).Scan(&order.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrOrderExists
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// FetchPending returns up to limit unprocessed outbox messages in id order
func (r *PostgresOrderRepository) FetchPending(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, event_type, message_id, payload, created_at
	FROM outbox
	WHERE processed_at IS NULL
	ORDER BY id
	LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("read outbox: %w", err)
	}
	defer rows.Close()

	var messages []models.OutboxMessage
	for rows.Next() {
		var msg models.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.EventType, &msg.MessageID, &msg.Payload, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// MarkProcessed stamps an outbox message as published
func (r *PostgresOrderRepository) MarkProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox %d processed: %w", id, err)
	}
	return nil
}
