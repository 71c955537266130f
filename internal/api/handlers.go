package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-calendar/internal/appointment"
	"github.com/hackgods/clinic-calendar/internal/calendar"
)

const localMinuteLayout = "2006-01-02T15:04"

func createDoctorHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateDoctorRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		doc, err := svc.RegisterDoctor(r.Context(), calendar.Doctor{
			Name:         req.Name,
			Specialty:    req.Specialty,
			WorkingHours: req.WorkingHours,
			SlotInterval: req.SlotInterval,
			Status:       calendar.DoctorStatus(req.Status),
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, doc)
	}
}

func getDoctorHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		doc, err := svc.GetDoctor(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, doc)
	}
}

func updateScheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		var req UpdateScheduleRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		doc, err := svc.UpdateDoctorSchedule(r.Context(), id, appointment.DoctorSchedule{
			WorkingHours: req.WorkingHours,
			SlotInterval: req.SlotInterval,
			Status:       calendar.DoctorStatus(req.Status),
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, doc)
	}
}

func createTreatmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTreatmentRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		tr, err := svc.CreateTreatment(r.Context(), calendar.Treatment{Name: req.Name, Duration: req.DurationMinutes})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, tr)
	}
}

func listSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, treatmentID, date, ok := slotQuery(w, r, svc.Location())
		if !ok {
			return
		}

		day, err := svc.ListSlots(r.Context(), doctorID, treatmentID, date)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotsResponse(day))
	}
}

// streamSlotsHandler pushes the slot list as server-sent events whenever the
// doctor's calendar for that day changes.
func streamSlotsHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, treatmentID, date, ok := slotQuery(w, r, svc.Location())
		if !ok {
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot flush")
			return
		}

		started := false
		err := svc.WatchSlots(r.Context(), doctorID, treatmentID, date, func(day *appointment.DaySlots) error {
			data, err := json.Marshal(toSlotsResponse(day))
			if err != nil {
				return err
			}
			if !started {
				w.Header().Set("Content-Type", "text/event-stream")
				w.Header().Set("Cache-Control", "no-cache")
				w.Header().Set("Connection", "keep-alive")
				w.WriteHeader(http.StatusOK)
				started = true
			}
			if _, err := fmt.Fprintf(w, "event: slots\ndata: %s\n\n", data); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		})

		if err != nil && r.Context().Err() == nil {
			if !started {
				handleServiceError(w, err)
				return
			}
			log.Warn("slot stream ended",
				zap.String("doctor_id", doctorID.String()),
				zap.String("request_id", GetRequestID(r.Context())),
				zap.Error(err))
		}
	}
}

func listDoctorAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		loc := svc.Location()
		from, err := parseDate(r.URL.Query().Get("from"), loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be YYYY-MM-DD")
			return
		}
		to := from.AddDate(0, 0, 1)
		if raw := r.URL.Query().Get("to"); raw != "" {
			last, err := parseDate(raw, loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_to", "to must be YYYY-MM-DD")
				return
			}
			to = last.AddDate(0, 0, 1)
		}

		list, err := svc.ListDoctorAppointments(r.Context(), doctorID, from, to)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponses(list, loc))
	}
}

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		start, err := parseStart(req.Start, svc.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be RFC 3339 or YYYY-MM-DDTHH:MM")
			return
		}

		appt, err := svc.BookAppointment(r.Context(), appointment.BookingRequest{
			DoctorID:    uuid.MustParse(req.DoctorID),
			PatientID:   uuid.MustParse(req.PatientID),
			TreatmentID: uuid.MustParse(req.TreatmentID),
			Start:       start,
			Notes:       req.Notes,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt, svc.Location()))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, svc.Location()))
	}
}

func listPatientAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := uuidParam(w, r, "id", "invalid_patient_id")
		if !ok {
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		list, err := svc.ListPatientAppointments(r.Context(), patientID, limit, offset)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponses(list, svc.Location()))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var req CancelAppointmentRequest
		if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), id, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, svc.Location()))
	}
}

func updateStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		appt, err := svc.TransitionAppointment(r.Context(), id, calendar.Status(req.Status))
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, svc.Location()))
	}
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrTreatmentNotFound):
		writeError(w, http.StatusNotFound, "treatment_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, calendar.ErrConflict):
		writeError(w, http.StatusConflict, "slot_conflict", "the requested time is no longer free, refresh the slot list and pick another")
	case errors.Is(err, appointment.ErrCalendarBusy):
		writeError(w, http.StatusConflict, "calendar_busy", "calendar is currently being updated, please retry shortly")
	case errors.Is(err, calendar.ErrOutsideWorkingHours):
		writeError(w, http.StatusUnprocessableEntity, "outside_working_hours", err.Error())
	case errors.Is(err, appointment.ErrDoctorInactive):
		writeError(w, http.StatusUnprocessableEntity, "doctor_inactive", err.Error())
	case errors.Is(err, calendar.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, calendar.ErrInvalidInterval),
		errors.Is(err, calendar.ErrInvalidSlotInterval),
		errors.Is(err, calendar.ErrInvalidDuration),
		errors.Is(err, calendar.ErrInvalidWindow),
		errors.Is(err, calendar.ErrInvalidClock),
		errors.Is(err, calendar.ErrUnknownWeekday):
		writeError(w, http.StatusBadRequest, "invalid_schedule", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func slotQuery(w http.ResponseWriter, r *http.Request, loc *time.Location) (doctorID, treatmentID uuid.UUID, date time.Time, ok bool) {
	doctorID, ok = uuidParam(w, r, "id", "invalid_doctor_id")
	if !ok {
		return
	}

	treatmentID, err := uuid.Parse(r.URL.Query().Get("treatment_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_treatment_id", "treatment_id must be a valid UUID")
		return doctorID, uuid.Nil, time.Time{}, false
	}

	date, err = parseDate(r.URL.Query().Get("date"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return doctorID, treatmentID, time.Time{}, false
	}

	return doctorID, treatmentID, date, true
}

func parseDate(raw string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, raw, loc)
}

func parseStart(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation(localMinuteLayout, raw, loc)
}

func toSlotsResponse(day *appointment.DaySlots) SlotsResponse {
	labels := make([]string, len(day.Slots))
	for i, s := range day.Slots {
		labels[i] = calendar.ClockOf(s).String()
	}
	return SlotsResponse{
		DoctorID:    day.DoctorID,
		TreatmentID: day.TreatmentID,
		Date:        day.Date.Format(time.DateOnly),
		Slots:       labels,
		Starts:      day.Slots,
	}
}
