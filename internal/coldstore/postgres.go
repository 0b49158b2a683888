package coldstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/bdpgmbv/rtve/pkg/types"
)

const appendTimeout = 5 * time.Second

const insertTick = `
	INSERT INTO price_history (product_id, price_date, price_value, source, source_priority, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

// PostgresStore appends price history to the partitioned
// price_history table. Appends run behind a circuit breaker so a dead
// database degrades to fast failures instead of piling up timeouts;
// the flusher reinserts whatever the breaker rejects.
type PostgresStore struct {
	db      *sqlx.DB
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Entry
}

// NewPostgresStore connects to the cold store
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cold store: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	logger := logrus.WithField("component", "coldstore")
	return &PostgresStore{db: db, breaker: newBreaker(logger), logger: logger}, nil
}

// newBreaker trips after five consecutive failed appends and probes
// again after thirty seconds
func newBreaker(logger *logrus.Entry) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "coldstore",
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})
}

func (s *PostgresStore) AppendBatch(ctx context.Context, ticks []types.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.appendBatch(ctx, ticks)
	})
	return err
}

func (s *PostgresStore) appendBatch(ctx context.Context, ticks []types.PriceTick) error {
	ctx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, insertTick)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, tick := range ticks {
		_, err := stmt.ExecContext(ctx,
			tick.ProductID,
			tick.Timestamp.UTC().Format("2006-01-02"),
			tick.Price,
			tick.Source,
			tick.SourcePriority,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to append price for product %d: %w", tick.ProductID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit price batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
