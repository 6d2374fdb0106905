package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const blockCols = `id, clinic_id, doctor_id, weekday, start_time, end_time, created_at`

const exceptionCols = `id, doctor_id, date, start_time, end_time, reason, created_at`

func scanBlock(row pgx.Row) (*Block, error) {
	var b Block
	err := row.Scan(&b.ID, &b.ClinicID, &b.DoctorID, &b.Weekday, &b.StartTime, &b.EndTime, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBlockNotFound
		}
		return nil, err
	}
	return &b, nil
}

func scanException(row pgx.Row) (*Exception, error) {
	var e Exception
	err := row.Scan(&e.ID, &e.DoctorID, &e.Date, &e.StartTime, &e.EndTime, &e.Reason, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExceptionNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (s *PgStore) ListBlocks(ctx context.Context, f BlockFilter) ([]Block, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+blockCols+`
		FROM schedule_blocks
		WHERE clinic_id = $1
		  AND doctor_id IS NOT DISTINCT FROM $2
		  AND ($3::int IS NULL OR weekday = $3)
		ORDER BY weekday, start_time
	`, f.ClinicID, f.DoctorID, f.Weekday)
	if err != nil {
		return nil, fmt.Errorf("list schedule blocks: %w", err)
	}
	defer rows.Close()

	var result []Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

func (s *PgStore) GetBlock(ctx context.Context, id uuid.UUID) (*Block, error) {
	return scanBlock(s.pool.QueryRow(ctx, `
		SELECT `+blockCols+` FROM schedule_blocks WHERE id = $1`, id))
}

func (s *PgStore) CreateBlock(ctx context.Context, b *Block) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO schedule_blocks (id, clinic_id, doctor_id, weekday, start_time, end_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING `+blockCols,
		b.ID, b.ClinicID, b.DoctorID, b.Weekday, b.StartTime, b.EndTime)

	created, err := scanBlock(row)
	if err != nil {
		return fmt.Errorf("insert schedule block: %w", err)
	}
	*b = *created
	return nil
}

func (s *PgStore) DeleteBlock(ctx context.Context, id uuid.UUID) (*Block, error) {
	return scanBlock(s.pool.QueryRow(ctx, `
		DELETE FROM schedule_blocks WHERE id = $1 RETURNING `+blockCols, id))
}

func (s *PgStore) ListExceptions(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Exception, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+exceptionCols+`
		FROM schedule_exceptions
		WHERE doctor_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date, start_time NULLS FIRST
	`, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list schedule exceptions: %w", err)
	}
	defer rows.Close()

	var result []Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

func (s *PgStore) CreateException(ctx context.Context, e *Exception) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO schedule_exceptions (id, doctor_id, date, start_time, end_time, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING `+exceptionCols,
		e.ID, e.DoctorID, e.Date, e.StartTime, e.EndTime, e.Reason)

	created, err := scanException(row)
	if err != nil {
		return fmt.Errorf("insert schedule exception: %w", err)
	}
	*e = *created
	return nil
}

func (s *PgStore) DeleteException(ctx context.Context, id uuid.UUID) (*Exception, error) {
	return scanException(s.pool.QueryRow(ctx, `
		DELETE FROM schedule_exceptions WHERE id = $1 RETURNING `+exceptionCols, id))
}
