package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/timerange"
)

// queryable is satisfied by both the pool and a transaction.
type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var dialect = goqu.Dialect("postgres")

// pgStore holds the queries shared by the pool and a transaction.
type pgStore struct {
	q queryable
}

type PgRepository struct {
	pgStore
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pgStore: pgStore{q: pool}, pool: pool}
}

type pgTx struct {
	pgStore
}

// txAttempts bounds how often WithTx runs fn when Postgres aborts it with a
// deadlock or serialization failure.
const txAttempts = 2

// WithTx runs fn in a READ COMMITTED transaction. Writers serialize on the
// advisory locks fn takes through LockScopes; each later statement gets a
// fresh snapshot, so a writer that waited on a lock sees the rows its
// predecessor committed and reports a conflict rather than an abort.
func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return retryTx(ctx, txAttempts, func() error {
		return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
			return fn(ctx, &pgTx{pgStore: pgStore{q: tx}})
		})
	})
}

// retryTx reruns run while it fails with a transaction conflict, up to
// attempts times. What is left is mapped to a storage error.
func retryTx(ctx context.Context, attempts int, run func() error) error {
	var err error
	for i := 1; i <= attempts; i++ {
		err = run()
		if !isTxConflict(err) || ctx.Err() != nil || i == attempts {
			break
		}
		zerolog.Ctx(ctx).Debug().Err(err).Int("attempt", i).Msg("transaction aborted, retrying")
	}
	return mapPgError(err)
}

func isTxConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if isTxConflict(err) {
		return apperr.Storage("transaction aborted by a concurrent write, retry", err)
	}
	return err
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Helpers

const appointmentCols = `id, patient_id, doctor_id, clinic_id, room_id, appointment_type_id,
	date, start_time, end_time, status, custom_reason, custom_price::text, duration_min, notes,
	payment_method, payment_confirmed, cancel_reason, cancelled_at, cancelled_by,
	record_state, deleted_at, created_by, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var price *string
	var method *string

	err := row.Scan(
		&a.ID, &a.PatientID, &a.DoctorID, &a.ClinicID, &a.RoomID, &a.AppointmentTypeID,
		&a.Date, &a.StartTime, &a.EndTime, &a.Status, &a.CustomReason, &price, &a.DurationMin, &a.Notes,
		&method, &a.PaymentConfirmed, &a.CancelReason, &a.CancelledAt, &a.CancelledBy,
		&a.RecordState, &a.DeletedAt, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if price != nil {
		d, err := decimal.NewFromString(*price)
		if err != nil {
			return nil, fmt.Errorf("parse custom_price %q: %w", *price, err)
		}
		a.CustomPrice = &d
	}
	if method != nil {
		m := PaymentMethod(*method)
		a.PaymentMethod = &m
	}
	a.Date = timerange.NormalizeDate(a.Date)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func priceArg(p *decimal.Decimal) *string {
	if p == nil {
		return nil
	}
	s := p.String()
	return &s
}

func methodArg(m *PaymentMethod) *string {
	if m == nil {
		return nil
	}
	s := string(*m)
	return &s
}

// Reads

func (s pgStore) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.q.QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (s pgStore) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	ds := dialect.From("appointments").
		Select(goqu.L(appointmentCols)).
		Prepared(true)

	if f.ClinicID != nil {
		ds = ds.Where(goqu.Ex{"clinic_id": f.ClinicID.String()})
	}
	if f.DoctorID != nil {
		ds = ds.Where(goqu.Ex{"doctor_id": f.DoctorID.String()})
	}
	if f.PatientID != nil {
		ds = ds.Where(goqu.Ex{"patient_id": f.PatientID.String()})
	}
	if f.RoomID != nil {
		ds = ds.Where(goqu.Ex{"room_id": f.RoomID.String()})
	}
	if f.DateFrom != nil {
		ds = ds.Where(goqu.C("date").Gte(timerange.NormalizeDate(*f.DateFrom)))
	}
	if f.DateTo != nil {
		ds = ds.Where(goqu.C("date").Lte(timerange.NormalizeDate(*f.DateTo)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		ds = ds.Where(goqu.Ex{"status": statuses})
	}
	if !f.IncludeDeleted {
		ds = ds.Where(goqu.Ex{"record_state": string(RecordActive)})
	}

	ds = ds.Order(goqu.C("date").Asc(), goqu.C("start_time").Asc(), goqu.C("id").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (s pgStore) FindOverlapping(ctx context.Context, q OverlapQuery) ([]Appointment, error) {
	ds := dialect.From("appointments").
		Select(goqu.L(appointmentCols)).
		Where(
			goqu.C("date").Eq(timerange.NormalizeDate(q.Date)),
			goqu.C("start_time").Lt(q.EndTime),
			goqu.C("end_time").Gt(q.StartTime),
			goqu.C("record_state").Eq(string(RecordActive)),
			goqu.C("status").Neq(string(StatusCancelled)),
		).
		Order(goqu.C("start_time").Asc()).
		Prepared(true)

	switch {
	case q.DoctorID != nil:
		ds = ds.Where(goqu.C("doctor_id").Eq(q.DoctorID.String()))
	case q.RoomID != nil:
		ds = ds.Where(goqu.C("room_id").Eq(q.RoomID.String()))
	case q.PatientID != nil:
		ds = ds.Where(goqu.C("patient_id").Eq(q.PatientID.String()))
	default:
		return nil, errors.New("overlap query needs a doctor, room or patient")
	}
	if q.ExcludeID != nil {
		ds = ds.Where(goqu.C("id").Neq(q.ExcludeID.String()))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build overlap query: %w", err)
	}
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find overlapping appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (s pgStore) ListAudit(ctx context.Context, appointmentID uuid.UUID) ([]AuditEntry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, appointment_id, old_status, new_status, requested_status,
		       actor_id, actor_role, metadata, created_at
		FROM audit_entries
		WHERE appointment_id = $1
		ORDER BY created_at, id
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var old *string
		var meta []byte
		if err := rows.Scan(&e.ID, &e.AppointmentID, &old, &e.NewStatus, &e.RequestedStatus,
			&e.ActorID, &e.ActorRole, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if old != nil {
			e.OldStatus = Status(*old)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Transaction writes

// LockScopes takes transaction-scoped advisory locks. Keys arrive sorted so
// every writer acquires them in the same order.
func (t *pgTx) LockScopes(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, k); err != nil {
			return fmt.Errorf("advisory lock %s: %w", k, mapPgError(err))
		}
	}
	return nil
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, clinic_id, room_id, appointment_type_id,
			date, start_time, end_time, status, custom_reason, custom_price, duration_min, notes,
			payment_method, payment_confirmed, record_state, created_by, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12::numeric, $13, $14,
			$15, $16, $17, $18, $19, $20
		)
	`, a.ID, a.PatientID, a.DoctorID, a.ClinicID, a.RoomID, a.AppointmentTypeID,
		a.Date, a.StartTime, a.EndTime, string(a.Status), a.CustomReason, priceArg(a.CustomPrice), a.DurationMin, a.Notes,
		methodArg(a.PaymentMethod), a.PaymentConfirmed, string(a.RecordState), a.CreatedBy, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a *Appointment) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE appointments SET
			patient_id = $2, doctor_id = $3, room_id = $4, appointment_type_id = $5,
			date = $6, start_time = $7, end_time = $8, status = $9,
			custom_reason = $10, custom_price = $11::numeric, duration_min = $12, notes = $13,
			payment_method = $14, payment_confirmed = $15,
			cancel_reason = $16, cancelled_at = $17, cancelled_by = $18,
			updated_at = $19
		WHERE id = $1
	`, a.ID, a.PatientID, a.DoctorID, a.RoomID, a.AppointmentTypeID,
		a.Date, a.StartTime, a.EndTime, string(a.Status),
		a.CustomReason, priceArg(a.CustomPrice), a.DurationMin, a.Notes,
		methodArg(a.PaymentMethod), a.PaymentConfirmed,
		a.CancelReason, a.CancelledAt, a.CancelledBy,
		a.UpdatedAt)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (t *pgTx) SetRecordState(ctx context.Context, id uuid.UUID, state RecordState, deletedAt *time.Time) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE appointments
		SET record_state = $2, deleted_at = $3, updated_at = now()
		WHERE id = $1
	`, id, string(state), deletedAt)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (t *pgTx) PurgeAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (t *pgTx) InsertAudit(ctx context.Context, e AuditEntry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}

	var old *string
	if e.OldStatus != "" {
		s := string(e.OldStatus)
		old = &s
	}

	_, err = t.q.Exec(ctx, `
		INSERT INTO audit_entries (
			id, appointment_id, old_status, new_status, requested_status,
			actor_id, actor_role, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.AppointmentID, old, string(e.NewStatus), string(e.RequestedStatus),
		e.ActorID, e.ActorRole, meta, e.CreatedAt)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}
