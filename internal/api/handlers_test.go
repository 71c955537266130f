package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-calendar/internal/appointment"
	"github.com/hackgods/clinic-calendar/internal/appointment/appointmenttest"
	"github.com/hackgods/clinic-calendar/internal/calendar"
	"github.com/hackgods/clinic-calendar/internal/config"
	redisclient "github.com/hackgods/clinic-calendar/internal/redis"
)

var wib = time.FixedZone("WIB", 7*3600)

type pgStub struct{ err error }

func (p pgStub) Ping(context.Context) error { return p.err }

type redisStub struct{ err error }

func (r redisStub) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", r.err)
}

type testServer struct {
	handler   http.Handler
	repo      *appointmenttest.Repository
	locker    *appointmenttest.Locker
	doctor    *calendar.Doctor
	treatment *calendar.Treatment
	patient   *appointment.Patient
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo := appointmenttest.NewRepository()
	locker := appointmenttest.NewLocker()
	svc := appointment.NewService(repo, locker, appointmenttest.NewNotifier(), &appointmenttest.Publisher{},
		config.Config{Timezone: wib, NoShowGrace: 30 * time.Minute}, zap.NewNop())

	ts := &testServer{
		handler: NewRouter(RouterConfig{
			Service:        svc,
			PgPool:         pgStub{},
			Redis:          redisStub{},
			Env:            "test",
			Version:        "v0",
			AllowedOrigins: []string{"*"},
		}),
		repo:   repo,
		locker: locker,
	}
	ts.doctor = repo.AddDoctor(calendar.Doctor{
		Name:         "Dr. Sari",
		SlotInterval: 30,
		Status:       calendar.DoctorActive,
		WorkingHours: calendar.WorkingHours{time.Monday: {Start: 9 * 60, End: 11 * 60}},
	})
	ts.treatment = repo.AddTreatment("Checkup", 30)
	ts.patient = repo.AddPatient("Andi")
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) bookBody(start string) map[string]any {
	return map[string]any{
		"doctor_id":    ts.doctor.ID.String(),
		"patient_id":   ts.patient.ID.String(),
		"treatment_id": ts.treatment.ID.String(),
		"start":        start,
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestListSlots(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/slots?treatment_id="+ts.treatment.ID.String()+"&date=2024-06-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SlotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2024-06-03", resp.Date)
	assert.Equal(t, []string{"09:00", "09:30", "10:00", "10:30"}, resp.Slots)
	assert.Len(t, resp.Starts, 4)
}

func TestListSlotsBadQuery(t *testing.T) {
	ts := newTestServer(t)
	base := "/doctors/" + ts.doctor.ID.String() + "/slots"

	rec := ts.do(t, http.MethodGet, base+"?treatment_id=nope&date=2024-06-03", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_treatment_id", decodeError(t, rec).Error)

	rec = ts.do(t, http.MethodGet, base+"?treatment_id="+ts.treatment.ID.String()+"&date=03-06-2024", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_date", decodeError(t, rec).Error)

	rec = ts.do(t, http.MethodGet, "/doctors/not-a-uuid/slots?treatment_id="+ts.treatment.ID.String()+"&date=2024-06-03", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_doctor_id", decodeError(t, rec).Error)
}

func TestCreateAppointment(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/appointments", ts.bookBody("2024-06-03T09:30"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Registered", resp.Status)
	assert.True(t, resp.Start.Equal(time.Date(2024, 6, 3, 9, 30, 0, 0, wib)))
	assert.True(t, resp.End.Equal(time.Date(2024, 6, 3, 10, 0, 0, 0, wib)))

	get := ts.do(t, http.MethodGet, "/appointments/"+resp.ID.String(), nil)
	assert.Equal(t, http.StatusOK, get.Code)
}

func TestCreateAppointmentRFC3339(t *testing.T) {
	ts := newTestServer(t)

	// 02:00Z is 09:00 in the clinic zone.
	rec := ts.do(t, http.MethodPost, "/appointments", ts.bookBody("2024-06-03T02:00:00Z"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreateAppointmentErrors(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(ts *testServer) map[string]any
		status int
		code   string
	}{
		{
			name: "overlapping",
			setup: func(ts *testServer) map[string]any {
				ts.repo.AddAppointment(calendar.Appointment{
					DoctorID:    ts.doctor.ID,
					PatientID:   ts.patient.ID,
					TreatmentID: ts.treatment.ID,
					Start:       time.Date(2024, 6, 3, 9, 0, 0, 0, wib),
					End:         time.Date(2024, 6, 3, 10, 0, 0, 0, wib),
					Status:      calendar.StatusRegistered,
				})
				return ts.bookBody("2024-06-03T09:30")
			},
			status: http.StatusConflict,
			code:   "slot_conflict",
		},
		{
			name:   "outside hours",
			setup:  func(ts *testServer) map[string]any { return ts.bookBody("2024-06-03T10:45") },
			status: http.StatusUnprocessableEntity,
			code:   "outside_working_hours",
		},
		{
			name:   "day off",
			setup:  func(ts *testServer) map[string]any { return ts.bookBody("2024-06-04T09:00") },
			status: http.StatusUnprocessableEntity,
			code:   "outside_working_hours",
		},
		{
			name: "lock held elsewhere",
			setup: func(ts *testServer) map[string]any {
				ts.locker.Busy = true
				return ts.bookBody("2024-06-03T09:00")
			},
			status: http.StatusConflict,
			code:   "calendar_busy",
		},
		{
			name: "lock store down",
			setup: func(ts *testServer) map[string]any {
				ts.locker.Err = fmt.Errorf("%w: %w", redisclient.ErrLockUnavailable, errors.New("dial tcp: connection refused"))
				return ts.bookBody("2024-06-03T09:00")
			},
			status: http.StatusConflict,
			code:   "calendar_busy",
		},
		{
			name: "unknown patient",
			setup: func(ts *testServer) map[string]any {
				body := ts.bookBody("2024-06-03T09:00")
				body["patient_id"] = "8d3f3c54-63a4-4c1c-8a52-8c5c9a8a0f11"
				return body
			},
			status: http.StatusNotFound,
			code:   "patient_not_found",
		},
		{
			name: "missing doctor id",
			setup: func(ts *testServer) map[string]any {
				body := ts.bookBody("2024-06-03T09:00")
				delete(body, "doctor_id")
				return body
			},
			status: http.StatusBadRequest,
			code:   "validation_failed",
		},
		{
			name:   "unparseable start",
			setup:  func(ts *testServer) map[string]any { return ts.bookBody("monday morning") },
			status: http.StatusBadRequest,
			code:   "invalid_start",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rec := ts.do(t, http.MethodPost, "/appointments", tt.setup(ts))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestCancelThenRebook(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/appointments", ts.bookBody("2024-06-03T09:00"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var first AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	rec = ts.do(t, http.MethodPost, "/appointments/"+first.ID.String()+"/cancel", map[string]any{"reason": "patient called"})
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, "Cancelled", cancelled.Status)

	rec = ts.do(t, http.MethodPost, "/appointments", ts.bookBody("2024-06-03T09:00"))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/appointments/"+first.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decodeError(t, rec).Error)
}

func TestUpdateStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/appointments", ts.bookBody("2024-06-03T10:00"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var appt AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &appt))
	path := "/appointments/" + appt.ID.String() + "/status"

	rec = ts.do(t, http.MethodPost, path, map[string]any{"status": "Finished"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, path, map[string]any{"status": "Encounter"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, path, map[string]any{"status": "Finished"})
	require.Equal(t, http.StatusOK, rec.Code)
	var done AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &done))
	assert.Equal(t, "Finished", done.Status)
}

func TestDoctorLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/doctors", map[string]any{
		"name":          "Dr. Yudi",
		"slot_interval": 15,
		"working_hours": map[string]any{
			"tuesday": map[string]string{"start": "13:00", "end": "15:00"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var doc calendar.Doctor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, calendar.DoctorActive, doc.Status)

	rec = ts.do(t, http.MethodPut, "/doctors/"+doc.ID.String()+"/schedule", map[string]any{
		"slot_interval": 20,
		"status":        "inactive",
		"working_hours": map[string]any{
			"tuesday": map[string]string{"start": "13:00", "end": "15:00"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/doctors/"+doc.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, 20, doc.SlotInterval)
	assert.Equal(t, calendar.DoctorInactive, doc.Status)

	rec = ts.do(t, http.MethodPost, "/doctors", map[string]any{
		"name":          "Dr. Backwards",
		"slot_interval": 15,
		"working_hours": map[string]any{
			"monday": map[string]string{"start": "15:00", "end": "13:00"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTreatmentValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/treatments", map[string]any{"name": "Scaling", "duration_minutes": 45})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/treatments", map[string]any{"name": "Nothing", "duration_minutes": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decodeError(t, rec).Error)
}

func TestListDoctorAndPatientAppointments(t *testing.T) {
	ts := newTestServer(t)

	for _, start := range []string{"2024-06-03T09:00", "2024-06-03T10:00"} {
		rec := ts.do(t, http.MethodPost, "/appointments", ts.bookBody(start))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/appointments?from=2024-06-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = ts.do(t, http.MethodGet, "/patients/"+ts.patient.ID.String()+"/appointments?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/appointments?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamSlotsSendsInitialSnapshot(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet,
		"/doctors/"+ts.doctor.ID.String()+"/slots/stream?treatment_id="+ts.treatment.ID.String()+"&date=2024-06-03", nil).
		WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		ts.handler.ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: slots\ndata: "), body)
	assert.Contains(t, body, `"09:00"`)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = ts.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h := NewHealthHandler(pgStub{}, redisStub{err: errors.New("connection refused")}, "test", "v0")
	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var ready ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", ready.Status)

	h = NewHealthHandler(pgStub{err: errors.New("down")}, redisStub{}, "test", "v0")
	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBookingRateLimit(t *testing.T) {
	ts := newTestServer(t)
	svc := appointment.NewService(ts.repo, ts.locker, appointmenttest.NewNotifier(), nil,
		config.Config{Timezone: wib}, zap.NewNop())
	ts.handler = NewRouter(RouterConfig{Service: svc, PgPool: pgStub{}, Redis: redisStub{}, BookingRate: 1})

	codes := map[int]int{}
	for _, start := range []string{"2024-06-03T09:00", "2024-06-03T09:30", "2024-06-03T10:00"} {
		codes[ts.do(t, http.MethodPost, "/appointments", ts.bookBody(start)).Code]++
	}
	assert.GreaterOrEqual(t, codes[http.StatusCreated], 1)
	assert.GreaterOrEqual(t, codes[http.StatusTooManyRequests], 1)

	// Reads are not limited.
	rec := ts.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
