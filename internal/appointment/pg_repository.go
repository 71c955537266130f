package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-calendar/internal/calendar"
)

// exclusionViolation is raised by appointments_no_overlap.
const exclusionViolation = "23P01"

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const (
	doctorColumns      = `id, name, specialty, working_hours, slot_interval, status, created_at, updated_at`
	treatmentColumns   = `id, name, duration_minutes, created_at, updated_at`
	appointmentColumns = `id, doctor_id, patient_id, treatment_id, start_time, end_time, status, notes, created_at, updated_at`
)

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanDoctor(row pgx.Row) (*calendar.Doctor, error) {
	var d calendar.Doctor
	var hours []byte
	var status string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialty,
		&hours,
		&d.SlotInterval,
		&status,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Status = calendar.DoctorStatus(status)
	if err := json.Unmarshal(hours, &d.WorkingHours); err != nil {
		return nil, fmt.Errorf("decode working hours of doctor %s: %w", d.ID, err)
	}
	return &d, nil
}

func scanTreatment(row pgx.Row) (*calendar.Treatment, error) {
	var t calendar.Treatment

	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Duration,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTreatmentNotFound
		}
		return nil, err
	}

	return &t, nil
}

func scanAppointment(row pgx.Row) (*calendar.Appointment, error) {
	var a calendar.Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.TreatmentID,
		&a.Start,
		&a.End,
		&status,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = calendar.Status(status)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]calendar.Appointment, error) {
	defer rows.Close()

	result := make([]calendar.Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*calendar.Doctor, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE id = $1`, id)
	return scanDoctor(row)
}

func (r *PgRepository) CreateDoctor(ctx context.Context, d calendar.Doctor) (*calendar.Doctor, error) {
	hours, err := json.Marshal(d.WorkingHours)
	if err != nil {
		return nil, fmt.Errorf("encode working hours: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO doctors (id, name, specialty, working_hours, slot_interval, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+doctorColumns,
		d.ID, d.Name, d.Specialty, hours, d.SlotInterval, string(d.Status))
	return scanDoctor(row)
}

func (r *PgRepository) UpdateDoctorSchedule(ctx context.Context, id uuid.UUID, sched DoctorSchedule) (*calendar.Doctor, error) {
	hours, err := json.Marshal(sched.WorkingHours)
	if err != nil {
		return nil, fmt.Errorf("encode working hours: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE doctors
		SET working_hours = $2,
		    slot_interval = $3,
		    status = $4,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+doctorColumns,
		id, hours, sched.SlotInterval, string(sched.Status))
	return scanDoctor(row)
}

func (r *PgRepository) GetTreatmentByID(ctx context.Context, id uuid.UUID) (*calendar.Treatment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+treatmentColumns+` FROM treatments WHERE id = $1`, id)
	return scanTreatment(row)
}

func (r *PgRepository) CreateTreatment(ctx context.Context, t calendar.Treatment) (*calendar.Treatment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO treatments (id, name, duration_minutes, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING `+treatmentColumns,
		t.ID, t.Name, t.Duration)
	return scanTreatment(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*calendar.Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time, includeCancelled bool) ([]calendar.Appointment, error) {
	return listDoctorAppointments(ctx, r.pool, doctorID, from, to, includeCancelled)
}

func listDoctorAppointments(ctx context.Context, q dbtx, doctorID uuid.UUID, from, to time.Time, includeCancelled bool) ([]calendar.Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND start_time < $3
		  AND end_time > $2
		  AND ($4 OR status <> 'Cancelled')
		ORDER BY start_time
	`, doctorID, from, to, includeCancelled)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]calendar.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to calendar.Status) (*calendar.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from))

	return scanAppointment(row)
}

func (r *PgRepository) FindOverdueRegistered(ctx context.Context, endedBefore time.Time, limit int) ([]calendar.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'Registered'
		  AND end_time < $1
		ORDER BY end_time
		LIMIT $2
	`, endedBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	return insertEvent(ctx, r.pool, ev)
}

func insertEvent(ctx context.Context, q dbtx, ev EventLog) error {
	_, err := q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func (r *PgRepository) WithDoctorCalendar(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context, cal CalendarTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin calendar tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE id = $1 FOR UPDATE`, doctorID)
	doctor, err := scanDoctor(row)
	if err != nil {
		return err
	}

	if err := fn(ctx, &pgCalendarTx{tx: tx, doctor: *doctor}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit calendar tx: %w", err)
	}
	return nil
}

type pgCalendarTx struct {
	tx     pgx.Tx
	doctor calendar.Doctor
}

func (c *pgCalendarTx) Doctor() calendar.Doctor {
	return c.doctor
}

func (c *pgCalendarTx) ActiveAppointments(ctx context.Context, from, to time.Time) ([]calendar.Appointment, error) {
	return listDoctorAppointments(ctx, c.tx, c.doctor.ID, from, to, false)
}

func (c *pgCalendarTx) InsertAppointment(ctx context.Context, a calendar.Appointment) (*calendar.Appointment, error) {
	row := c.tx.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, treatment_id, start_time, end_time, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.DoctorID, a.PatientID, a.TreatmentID, a.Start, a.End, string(a.Status), a.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
			return nil, fmt.Errorf("%w: rejected by store", calendar.ErrConflict)
		}
		return nil, err
	}
	return created, nil
}

func (c *pgCalendarTx) InsertEvent(ctx context.Context, ev EventLog) error {
	return insertEvent(ctx, c.tx, ev)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
