package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PgDirectory reads patients, doctors, rooms and appointment types.
type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := d.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, second_last_name, no_second_last_name,
		       phone, birth_date, gender, is_active, deleted_at
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.FirstName, &p.LastName, &p.SecondLastName, &p.NoSecondLastName,
		&p.Phone, &p.BirthDate, &p.Gender, &p.IsActive, &p.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	return &p, nil
}

func (d *PgDirectory) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var doc Doctor
	err := d.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, is_active, deleted_at
		FROM doctors
		WHERE id = $1
	`, id).Scan(&doc.ID, &doc.FirstName, &doc.LastName, &doc.IsActive, &doc.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	return &doc, nil
}

func (d *PgDirectory) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	var r Room
	err := d.pool.QueryRow(ctx, `
		SELECT id, clinic_id, name, is_active, deleted_at
		FROM rooms
		WHERE id = $1
	`, id).Scan(&r.ID, &r.ClinicID, &r.Name, &r.IsActive, &r.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("load room: %w", err)
	}
	return &r, nil
}

func (d *PgDirectory) GetAppointmentType(ctx context.Context, id uuid.UUID) (*AppointmentType, error) {
	var t AppointmentType
	var price *string
	err := d.pool.QueryRow(ctx, `
		SELECT id, name, default_price::text, default_duration_min, is_active
		FROM appointment_types
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &price, &t.DefaultDurationMin, &t.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentTypeNotFound
		}
		return nil, fmt.Errorf("load appointment type: %w", err)
	}
	if price != nil {
		p, err := decimal.NewFromString(*price)
		if err != nil {
			return nil, fmt.Errorf("parse default_price %q: %w", *price, err)
		}
		t.DefaultPrice = &p
	}
	return &t, nil
}
