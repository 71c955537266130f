package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-calendar/internal/calendar"
	"github.com/hackgods/clinic-calendar/internal/config"
	"github.com/hackgods/clinic-calendar/internal/events"
	redisclient "github.com/hackgods/clinic-calendar/internal/redis"
)

var (
	ErrDoctorInactive = errors.New("doctor is not accepting appointments")
	ErrCalendarBusy   = errors.New("calendar is being updated, please retry")

	// ErrSubscriptionClosed ends WatchSlots when the change feed goes away
	// while the caller is still listening.
	ErrSubscriptionClosed = errors.New("calendar subscription closed")
)

// ReasonScheduleUpdated marks a doctor-wide calendar change that affects
// every day.
const ReasonScheduleUpdated = "schedule_updated"

const noShowBatch = 500

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	notifier  redisclient.Notifier
	publisher events.Publisher
	cfg       config.Config
	log       *zap.Logger
	now       func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, notifier redisclient.Notifier, publisher events.Publisher, cfg config.Config, log *zap.Logger) *Service {
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		repo:      repo,
		locker:    locker,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Location is the clinic's wall-clock zone.
func (s *Service) Location() *time.Location {
	return s.cfg.Timezone
}

// -- Doctors and treatments --

func (s *Service) RegisterDoctor(ctx context.Context, d calendar.Doctor) (*calendar.Doctor, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = calendar.DoctorActive
	}
	if d.WorkingHours == nil {
		d.WorkingHours = calendar.WorkingHours{}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	created, err := s.repo.CreateDoctor(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("create doctor: %w", err)
	}
	return created, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*calendar.Doctor, error) {
	return s.repo.GetDoctorByID(ctx, id)
}

// UpdateDoctorSchedule replaces a doctor's working hours, slot interval and
// status. Existing appointments are left untouched; bookings made afterwards
// are checked against the new hours.
func (s *Service) UpdateDoctorSchedule(ctx context.Context, id uuid.UUID, sched DoctorSchedule) (*calendar.Doctor, error) {
	if sched.WorkingHours == nil {
		sched.WorkingHours = calendar.WorkingHours{}
	}
	probe := calendar.Doctor{WorkingHours: sched.WorkingHours, SlotInterval: sched.SlotInterval, Status: sched.Status}
	if err := probe.Validate(); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateDoctorSchedule(ctx, id, sched)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update doctor schedule: %w", err)
	}

	s.log.Info("doctor schedule updated",
		zap.String("doctor_id", id.String()),
		zap.Int("slot_interval", sched.SlotInterval),
		zap.String("status", string(sched.Status)))

	if s.notifier != nil {
		change := redisclient.CalendarChange{DoctorID: id, Reason: ReasonScheduleUpdated}
		if err := s.notifier.Publish(ctx, change); err != nil {
			s.log.Warn("failed to publish calendar change",
				zap.String("doctor_id", id.String()),
				zap.Error(err))
		}
	}
	return updated, nil
}

func (s *Service) CreateTreatment(ctx context.Context, t calendar.Treatment) (*calendar.Treatment, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	created, err := s.repo.CreateTreatment(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("create treatment: %w", err)
	}
	return created, nil
}

// -- Slots --

// ListSlots returns the bookable start times for treatment with doctor on the
// clinic day containing date. An inactive doctor or a day off yields an empty
// list rather than an error.
func (s *Service) ListSlots(ctx context.Context, doctorID, treatmentID uuid.UUID, date time.Time) (*DaySlots, error) {
	day := calendar.Midnight(date.In(s.cfg.Timezone))
	result := &DaySlots{DoctorID: doctorID, TreatmentID: treatmentID, Date: day, Slots: []time.Time{}}

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	treatment, err := s.repo.GetTreatmentByID(ctx, treatmentID)
	if err != nil {
		return nil, fmt.Errorf("load treatment: %w", err)
	}
	if !doctor.Active() {
		return result, nil
	}

	snapshot, err := s.repo.ListDoctorAppointments(ctx, doctorID, day, day.AddDate(0, 0, 1), false)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	result.Slots = calendar.GenerateSlots(*doctor, *treatment, day, snapshot)
	return result, nil
}

// WatchSlots emits the slot listing once and again after every change to the
// doctor's calendar on that day or to the doctor's schedule, until ctx ends,
// emit fails or the change feed closes.
func (s *Service) WatchSlots(ctx context.Context, doctorID, treatmentID uuid.UUID, date time.Time, emit func(*DaySlots) error) error {
	if s.notifier == nil {
		return errors.New("calendar change notifications are not configured")
	}
	changes, err := s.notifier.Subscribe(ctx, doctorID)
	if err != nil {
		return err
	}

	current, err := s.ListSlots(ctx, doctorID, treatmentID, date)
	if err != nil {
		return err
	}
	if err := emit(current); err != nil {
		return err
	}

	dayKey := current.Date.Format(time.DateOnly)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-changes:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return ErrSubscriptionClosed
			}
			// An empty Day applies to every day of the doctor.
			if change.Day != "" && change.Day != dayKey {
				continue
			}
			current, err = s.ListSlots(ctx, doctorID, treatmentID, date)
			if err != nil {
				return err
			}
			if err := emit(current); err != nil {
				return err
			}
		}
	}
}

// -- Booking --

// BookAppointment creates a Registered appointment after re-validating the
// requested interval against a fresh snapshot. The snapshot read, the check
// and the insert run under the doctor's Redis calendar lock and inside one
// database transaction holding the doctor row.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (*calendar.Appointment, error) {
	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	treatment, err := s.repo.GetTreatmentByID(ctx, req.TreatmentID)
	if err != nil {
		if errors.Is(err, ErrTreatmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load treatment: %w", err)
	}

	doctor, err := s.repo.GetDoctorByID(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.Active() {
		return nil, ErrDoctorInactive
	}

	start := req.Start.In(s.cfg.Timezone)
	end := start.Add(treatment.Length())

	// Reject outside working hours before touching the lock.
	if err := calendar.ValidateBooking(*doctor, start, end, nil); err != nil {
		return nil, err
	}

	day := calendar.Midnight(start)
	var created *calendar.Appointment

	err = s.locker.WithCalendarLock(ctx, doctor.ID, day, func(lockCtx context.Context) error {
		return s.repo.WithDoctorCalendar(lockCtx, doctor.ID, func(txCtx context.Context, cal CalendarTx) error {
			current := cal.Doctor()
			if !current.Active() {
				return ErrDoctorInactive
			}

			snapshot, err := cal.ActiveAppointments(txCtx, day, day.AddDate(0, 0, 1))
			if err != nil {
				return fmt.Errorf("load snapshot: %w", err)
			}

			if err := calendar.ValidateBooking(current, start, end, snapshot); err != nil {
				return err
			}

			appt, err := cal.InsertAppointment(txCtx, calendar.Appointment{
				ID:          uuid.New(),
				DoctorID:    current.ID,
				PatientID:   req.PatientID,
				TreatmentID: treatment.ID,
				Start:       start,
				End:         end,
				Status:      calendar.StatusRegistered,
				Notes:       req.Notes,
			})
			if err != nil {
				return fmt.Errorf("insert appointment: %w", err)
			}

			ev := s.eventLog(appt.ID, events.AppointmentCreated, map[string]any{
				"doctor_id":    appt.DoctorID.String(),
				"patient_id":   appt.PatientID.String(),
				"treatment_id": appt.TreatmentID.String(),
				"start":        appt.Start,
				"end":          appt.End,
			})
			if err := cal.InsertEvent(txCtx, ev); err != nil {
				return err
			}

			created = appt
			return nil
		})
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrCalendarBusy
		}
		if errors.Is(err, redisclient.ErrLockUnavailable) {
			s.log.Warn("calendar lock unavailable",
				zap.String("doctor_id", doctor.ID.String()),
				zap.Error(err))
			return nil, ErrCalendarBusy
		}
		if errors.Is(err, calendar.ErrConflict) {
			s.log.Info("booking conflict",
				zap.String("doctor_id", doctor.ID.String()),
				zap.Time("start", start),
				zap.Error(err))
		}
		return nil, err
	}

	s.announce(ctx, created, events.AppointmentCreated, map[string]any{
		"patient_id": created.PatientID.String(),
		"start":      created.Start,
		"end":        created.End,
	})

	return created, nil
}

// CancelAppointment logically deletes an appointment, freeing its interval.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*calendar.Appointment, error) {
	return s.transition(ctx, id, calendar.StatusCancelled, events.AppointmentCancelled, map[string]any{
		"reason": reason,
	})
}

// TransitionAppointment moves an appointment along its status lifecycle.
func (s *Service) TransitionAppointment(ctx context.Context, id uuid.UUID, to calendar.Status) (*calendar.Appointment, error) {
	eventType := events.AppointmentStatusChanged
	switch to {
	case calendar.StatusCancelled:
		eventType = events.AppointmentCancelled
	case calendar.StatusNoShow:
		eventType = events.AppointmentNoShow
	}
	return s.transition(ctx, id, to, eventType, map[string]any{})
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to calendar.Status, eventType string, payload map[string]any) (*calendar.Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if err := calendar.CheckTransition(appt.Status, to); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Row exists but moved on since we read it.
			return nil, fmt.Errorf("%w: appointment %s changed concurrently", calendar.ErrInvalidTransition, id)
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	payload["from"] = string(appt.Status)
	payload["to"] = string(to)
	s.logEvent(ctx, updated.ID, eventType, payload)
	s.announce(ctx, updated, eventType, payload)

	return updated, nil
}

// MarkNoShows is intended to be called by the worker periodically. Registered
// appointments that ended longer than the grace period ago become No Show.
func (s *Service) MarkNoShows(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.NoShowGrace)
	overdue, err := s.repo.FindOverdueRegistered(ctx, cutoff, noShowBatch)
	if err != nil {
		return 0, fmt.Errorf("find overdue appointments: %w", err)
	}

	marked := 0
	for _, appt := range overdue {
		updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, calendar.StatusRegistered, calendar.StatusNoShow)
		if err != nil {
			if !errors.Is(err, ErrAppointmentNotFound) {
				s.log.Warn("failed to mark no-show",
					zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			}
			continue
		}
		payload := map[string]any{"reason": "worker", "cutoff": cutoff}
		s.logEvent(ctx, updated.ID, events.AppointmentNoShow, payload)
		s.announce(ctx, updated, events.AppointmentNoShow, payload)
		marked++
	}

	return marked, nil
}

// -- Reads --

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*calendar.Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListDoctorAppointments returns every appointment of a doctor intersecting
// [from, to), cancelled ones included.
func (s *Service) ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]calendar.Appointment, error) {
	if !to.After(from) {
		return nil, calendar.ErrInvalidInterval
	}
	appointments, err := s.repo.ListDoctorAppointments(ctx, doctorID, from, to, true)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appointments, nil
}

// ListPatientAppointments retrieves appointments for a specific patient, newest first
func (s *Service) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]calendar.Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListPatientAppointments(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// -- Events --

func (s *Service) eventLog(appointmentID uuid.UUID, eventType string, payload map[string]any) EventLog {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID
	return EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	if err := s.repo.InsertEvent(ctx, s.eventLog(appointmentID, eventType, payload)); err != nil {
		s.log.Warn("failed to insert event log",
			zap.String("event", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err))
	}
}

// announce runs after commit: downstream consumers get the event and calendar
// listeners are told to re-fetch. Failures are logged, never returned.
func (s *Service) announce(ctx context.Context, appt *calendar.Appointment, eventType string, payload map[string]any) {
	ev := events.Event{
		Type:          eventType,
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		OccurredAt:    s.now(),
		Payload:       payload,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("failed to publish event",
			zap.String("event", eventType),
			zap.String("appointment_id", appt.ID.String()),
			zap.Error(err))
	}

	if s.notifier == nil {
		return
	}
	change := redisclient.CalendarChange{
		DoctorID: appt.DoctorID,
		Day:      appt.Start.In(s.cfg.Timezone).Format(time.DateOnly),
		Reason:   eventType,
	}
	if err := s.notifier.Publish(ctx, change); err != nil {
		s.log.Warn("failed to publish calendar change",
			zap.String("doctor_id", appt.DoctorID.String()),
			zap.Error(err))
	}
}
