package canarystore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultObjectTable is the table PostgresBackend uses when none is configured
const DefaultObjectTable = "canary_objects"

// PostgresBackend stores each object as one row keyed by its full path
type PostgresBackend struct {
	pool  *pgxpool.Pool
	table string
	owned bool
}

// NewPostgresBackend connects a pool for connString
func NewPostgresBackend(ctx context.Context, connString, table string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	b := NewPostgresBackendWithPool(pool, table)
	b.owned = true
	return b, nil
}

// NewPostgresBackendWithPool wraps a pool owned by the caller; Close leaves it open.
func NewPostgresBackendWithPool(pool *pgxpool.Pool, table string) *PostgresBackend {
	if table == "" {
		table = DefaultObjectTable
	}
	return &PostgresBackend{pool: pool, table: table}
}

func (b *PostgresBackend) ident() string {
	return pgx.Identifier{b.table}.Sanitize()
}

func (b *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	var checksum string
	err := b.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT body, checksum FROM %s WHERE key = $1`, b.ident()), key,
	).Scan(&body, &checksum)
	if err != nil {
		return nil, pgError(err)
	}
	if err := verifyChecksum(key, body, checksum); err != nil {
		return nil, err
	}
	return body, nil
}

func (b *PostgresBackend) Put(ctx context.Context, key string, data []byte, checksum string) error {
	if err := checkPut(key, data, checksum); err != nil {
		return err
	}
	_, err := b.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, body, checksum, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE SET body = EXCLUDED.body, checksum = EXCLUDED.checksum, updated_at = now()`,
		b.ident()), key, data, checksum)
	return pgError(err)
}

func (b *PostgresBackend) Delete(ctx context.Context, key string) error {
	tag, err := b.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, b.ident()), key)
	if err != nil {
		return pgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *PostgresBackend) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	info := ObjectInfo{Key: key}
	err := b.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT updated_at, octet_length(body) FROM %s WHERE key = $1`, b.ident()), key,
	).Scan(&info.LastModified, &info.Size)
	if err != nil {
		return ObjectInfo{}, pgError(err)
	}
	return info, nil
}

// ListPaginated pages by key order using the last key seen as the cursor
func (b *PostgresBackend) ListPaginated(ctx context.Context, prefix string, handler func(objects []ObjectInfo) error) error {
	query := fmt.Sprintf(`
		SELECT key, updated_at, octet_length(body) FROM %s
		WHERE key LIKE $1 ESCAPE '\' AND key > $2
		ORDER BY key LIMIT $3`, b.ident())
	pattern := escapeLike(prefix) + "%"

	cursor := ""
	for {
		rows, err := b.pool.Query(ctx, query, pattern, cursor, DefaultListPaginatedSize)
		if err != nil {
			return pgError(err)
		}
		objects, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ObjectInfo, error) {
			var info ObjectInfo
			var modified time.Time
			err := row.Scan(&info.Key, &modified, &info.Size)
			info.LastModified = modified
			return info, err
		})
		if err != nil {
			return pgError(err)
		}
		if len(objects) == 0 {
			return nil
		}
		if err := handler(objects); err != nil {
			return err
		}
		if len(objects) < DefaultListPaginatedSize {
			return nil
		}
		cursor = objects[len(objects)-1].Key
	}
}

func (b *PostgresBackend) EnsureContainer(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			body       BYTEA NOT NULL,
			checksum   TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, b.ident()))
	return pgError(err)
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *PostgresBackend) Close() error {
	if b.owned {
		b.pool.Close()
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func pgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01": // undefined_table: nothing has been written yet
			return ErrNotFound
		case "42501", "28000", "28P01":
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}
	return err
}
