package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres — блокировка по ключу на session advisory lock.
//
// Каждый Lock держит отдельное соединение из пула до вызова unlock:
// advisory lock привязан к сессии. Ждущие сессии Postgres обслуживает
// в порядке очереди.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres создаёт блокировку поверх пула.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}
}

var _ Locker = (*Postgres)(nil)

// Lock захватывает advisory lock для key.
func (p *Postgres) Lock(ctx context.Context, key string) (func(), error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn: %w", err)
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		// Соединение с прерванным ожиданием может остаться в очереди блокировки.
		conn.Hijack().Close(context.Background())
		return nil, fmt.Errorf("advisory lock %s: %w", key, err)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
			p.logger.Error("advisory unlock failed", "key", key, "error", err)
			conn.Hijack().Close(ctx)
			return
		}
		conn.Release()
	}, nil
}

// Leader — лидерство процесса на session advisory lock.
//
// TryAcquire не блокирует: false означает, что лидер уже есть.
type Leader struct {
	pool *pgxpool.Pool
	key  int64
	conn *pgxpool.Conn
}

// NewLeader создаёт Leader для ключа.
func NewLeader(pool *pgxpool.Pool, key int64) *Leader {
	return &Leader{pool: pool, key: key}
}

// TryAcquire пытается стать лидером или подтверждает лидерство.
func (l *Leader) TryAcquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		if err := l.conn.Ping(ctx); err == nil {
			return true, nil
		}
		// Сессия потеряна вместе с блокировкой.
		l.conn.Release()
		l.conn = nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire conn: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&ok); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release снимает лидерство.
func (l *Leader) Release(ctx context.Context) {
	if l.conn == nil {
		return
	}
	_, _ = l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	l.conn.Release()
	l.conn = nil
}
