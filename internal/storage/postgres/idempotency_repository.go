package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const (
	// Истёкший ключ перезахватывается той же командой: строка обновляется
	// только если ttl_at уже наступил, иначе RETURNING пуст.
	claimIdempotencyKeySQL = `
		INSERT INTO idempotency_keys (key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at)
		VALUES ($1, $2, NULL, NULL, $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    response_body = NULL,
		    http_status = NULL,
		    status = EXCLUDED.status,
		    ttl_at = EXCLUDED.ttl_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE idempotency_keys.ttl_at <= EXCLUDED.created_at
		RETURNING key`

	selectIdempotencyKeySQL = `
		SELECT key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at
		FROM idempotency_keys
		WHERE key = $1`

	finishIdempotencyKeySQL = `
		UPDATE idempotency_keys
		SET response_body = $2, http_status = $3, status = $4, updated_at = $5
		WHERE key = $1`

	deleteExpiredBatchSQL = `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT $2
		)`

	deleteExpiredAllSQL = `DELETE FROM idempotency_keys WHERE ttl_at <= $1`
)

// IdempotencyRepository хранит ключи Idempotency-Key в таблице idempotency_keys.
type IdempotencyRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию domain.IdempotencyRepository.
func NewIdempotencyRepository(store *Store) *IdempotencyRepository {
	return &IdempotencyRepository{db: store.DB(), now: time.Now}
}

// CreateProcessing захватывает ключ; занятый и неистёкший ключ возвращается вместе с ошибкой конфликта.
func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	record, err := domain.NewIdempotencyRecord(key, requestHash, ttlAt, r.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var claimed string
	err = r.db.QueryRowContext(ctx, claimIdempotencyKeySQL,
		record.Key, record.RequestHash, string(record.Status), record.TTLAt, record.CreatedAt,
	).Scan(&claimed)
	switch {
	case err == nil:
		return record, nil
	case errors.Is(err, sql.ErrNoRows):
		existing, getErr := r.Get(ctx, record.Key)
		if getErr != nil {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		return existing, existing.ConflictWith(record.RequestHash)
	default:
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key %s: %w", record.Key, err)
	}
}

// Get возвращает запись по ключу.
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	record, err := scanIdempotencyRecord(r.db.QueryRowContext(ctx, selectIdempotencyKeySQL, key))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key %s: %w", key, err)
	}
	return record, nil
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет записи с ttl_at <= before, начиная с самых старых; limit <= 0 снимает ограничение.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}
	before = before.UTC()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query, args := deleteExpiredAllSQL, []any{before}
	if limit > 0 {
		query, args = deleteExpiredBatchSQL, []any{before, limit}
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return int(removed), nil
}

func (r *IdempotencyRepository) finish(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, finishIdempotencyKeySQL, key, responseBody, httpStatus, string(status), r.now().UTC())
	if err != nil {
		return fmt.Errorf("finish idempotency key %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("finish idempotency key %s: %w", key, err)
	} else if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func scanIdempotencyRecord(row *sql.Row) (domain.IdempotencyRecord, error) {
	var (
		record     domain.IdempotencyRecord
		status     string
		httpStatus sql.NullInt64
	)
	if err := row.Scan(
		&record.Key, &record.RequestHash, &record.ResponseBody, &httpStatus,
		&status, &record.TTLAt, &record.CreatedAt, &record.UpdatedAt,
	); err != nil {
		return domain.IdempotencyRecord{}, err
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("unknown idempotency status %q", status)
	}
	record.HTTPStatus = int(httpStatus.Int64)
	return record.Clone(), nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
