// Package appointmenttest provides in-memory collaborators for exercising the
// booking service without Postgres, Redis or RabbitMQ.
package appointmenttest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-calendar/internal/appointment"
	"github.com/hackgods/clinic-calendar/internal/calendar"
	"github.com/hackgods/clinic-calendar/internal/events"
	redisclient "github.com/hackgods/clinic-calendar/internal/redis"
)

// Repository is an in-memory appointment.Repository. WithDoctorCalendar
// serialises on a per-doctor mutex, standing in for the row lock.
type Repository struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]*appointment.Patient
	doctors      map[uuid.UUID]*calendar.Doctor
	treatments   map[uuid.UUID]*calendar.Treatment
	appointments map[uuid.UUID]*calendar.Appointment
	Events       []appointment.EventLog

	rowLocks sync.Map // doctor ID -> *sync.Mutex
}

var _ appointment.Repository = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{
		patients:     make(map[uuid.UUID]*appointment.Patient),
		doctors:      make(map[uuid.UUID]*calendar.Doctor),
		treatments:   make(map[uuid.UUID]*calendar.Treatment),
		appointments: make(map[uuid.UUID]*calendar.Appointment),
	}
}

func (r *Repository) AddPatient(name string) *appointment.Patient {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &appointment.Patient{ID: uuid.New(), Name: name, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.patients[p.ID] = p
	return p
}

func (r *Repository) AddDoctor(d calendar.Doctor) *calendar.Doctor {
	created, _ := r.CreateDoctor(context.Background(), d)
	return created
}

func (r *Repository) AddTreatment(name string, minutes int) *calendar.Treatment {
	created, _ := r.CreateTreatment(context.Background(), calendar.Treatment{ID: uuid.New(), Name: name, Duration: minutes})
	return created
}

// AddAppointment stores a without any overlap check.
func (r *Repository) AddAppointment(a calendar.Appointment) *calendar.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := a
	r.appointments[a.ID] = &cp
	out := cp
	return &out
}

// Appointments returns every stored appointment ordered by start.
func (r *Repository) Appointments() []calendar.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calendar.Appointment, 0, len(r.appointments))
	for _, a := range r.appointments {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (r *Repository) EventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Events))
	for i, ev := range r.Events {
		out[i] = ev.EventType
	}
	return out
}

func (r *Repository) GetPatientByID(_ context.Context, id uuid.UUID) (*appointment.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *Repository) GetDoctorByID(_ context.Context, id uuid.UUID) (*calendar.Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doctorLocked(id)
}

func (r *Repository) doctorLocked(id uuid.UUID) (*calendar.Doctor, error) {
	d, ok := r.doctors[id]
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	cp := *d
	cp.WorkingHours = make(calendar.WorkingHours, len(d.WorkingHours))
	for day, w := range d.WorkingHours {
		cp.WorkingHours[day] = w
	}
	return &cp, nil
}

func (r *Repository) CreateDoctor(_ context.Context, d calendar.Doctor) (*calendar.Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = calendar.DoctorActive
	}
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	cp := d
	r.doctors[d.ID] = &cp
	return r.doctorLocked(d.ID)
}

func (r *Repository) UpdateDoctorSchedule(_ context.Context, id uuid.UUID, sched appointment.DoctorSchedule) (*calendar.Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	d.WorkingHours = sched.WorkingHours
	d.SlotInterval = sched.SlotInterval
	d.Status = sched.Status
	d.UpdatedAt = time.Now()
	return r.doctorLocked(id)
}

func (r *Repository) GetTreatmentByID(_ context.Context, id uuid.UUID) (*calendar.Treatment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.treatments[id]
	if !ok {
		return nil, appointment.ErrTreatmentNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *Repository) CreateTreatment(_ context.Context, t calendar.Treatment) (*calendar.Treatment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := t
	r.treatments[t.ID] = &cp
	out := cp
	return &out, nil
}

func (r *Repository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*calendar.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *Repository) ListDoctorAppointments(_ context.Context, doctorID uuid.UUID, from, to time.Time, includeCancelled bool) ([]calendar.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(doctorID, from, to, includeCancelled), nil
}

func (r *Repository) listLocked(doctorID uuid.UUID, from, to time.Time, includeCancelled bool) []calendar.Appointment {
	out := make([]calendar.Appointment, 0)
	for _, a := range r.appointments {
		if a.DoctorID != doctorID || !a.Start.Before(to) || !a.End.After(from) {
			continue
		}
		if !includeCancelled && a.Status == calendar.StatusCancelled {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (r *Repository) ListPatientAppointments(_ context.Context, patientID uuid.UUID, limit, offset int) ([]calendar.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calendar.Appointment, 0)
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.After(out[j].Start) })
	if offset >= len(out) {
		return []calendar.Appointment{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to calendar.Status) (*calendar.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, appointment.ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *Repository) FindOverdueRegistered(_ context.Context, endedBefore time.Time, limit int) ([]calendar.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calendar.Appointment, 0)
	for _, a := range r.appointments {
		if a.Status == calendar.StatusRegistered && a.End.Before(endedBefore) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].End.Before(out[j].End) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, ev)
	return nil
}

func (r *Repository) WithDoctorCalendar(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context, cal appointment.CalendarTx) error) error {
	lock, _ := r.rowLocks.LoadOrStore(doctorID, &sync.Mutex{})
	lock.(*sync.Mutex).Lock()
	defer lock.(*sync.Mutex).Unlock()

	doctor, err := r.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return err
	}

	tx := &calendarTx{repo: r, doctor: *doctor}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range tx.pending {
		cp := a
		r.appointments[a.ID] = &cp
	}
	r.Events = append(r.Events, tx.events...)
	return nil
}

// calendarTx buffers writes until fn returns without error.
type calendarTx struct {
	repo    *Repository
	doctor  calendar.Doctor
	pending []calendar.Appointment
	events  []appointment.EventLog
}

func (c *calendarTx) Doctor() calendar.Doctor {
	return c.doctor
}

func (c *calendarTx) ActiveAppointments(_ context.Context, from, to time.Time) ([]calendar.Appointment, error) {
	c.repo.mu.Lock()
	defer c.repo.mu.Unlock()
	return c.repo.listLocked(c.doctor.ID, from, to, false), nil
}

func (c *calendarTx) InsertAppointment(_ context.Context, a calendar.Appointment) (*calendar.Appointment, error) {
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	c.pending = append(c.pending, a)
	out := a
	return &out, nil
}

func (c *calendarTx) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	c.events = append(c.events, ev)
	return nil
}

// Locker is an in-process redisclient.Locker. Busy makes every acquisition
// fail as if another replica held the lock.
type Locker struct {
	mu   sync.Mutex
	held map[string]bool
	Busy bool
	// Err, when set, is returned instead of acquiring, like a lock store outage.
	Err   error
	Calls int
}

var _ redisclient.Locker = (*Locker)(nil)

func NewLocker() *Locker {
	return &Locker{held: make(map[string]bool)}
}

func (l *Locker) WithCalendarLock(ctx context.Context, doctorID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error {
	key := redisclient.CalendarLockKey(doctorID, day)

	l.mu.Lock()
	l.Calls++
	if l.Err != nil {
		l.mu.Unlock()
		return l.Err
	}
	if l.Busy || l.held[key] {
		l.mu.Unlock()
		return redisclient.ErrLockNotAcquired
	}
	l.held[key] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()

	return fn(ctx)
}

// Notifier is an in-process redisclient.Notifier.
type Notifier struct {
	mu        sync.Mutex
	Published []redisclient.CalendarChange
	subs      map[uuid.UUID][]chan redisclient.CalendarChange
}

var _ redisclient.Notifier = (*Notifier)(nil)

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[uuid.UUID][]chan redisclient.CalendarChange)}
}

func (n *Notifier) Publish(_ context.Context, change redisclient.CalendarChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Published = append(n.Published, change)
	for _, ch := range n.subs[change.DoctorID] {
		select {
		case ch <- change:
		default:
		}
	}
	return nil
}

func (n *Notifier) Subscribe(ctx context.Context, doctorID uuid.UUID) (<-chan redisclient.CalendarChange, error) {
	ch := make(chan redisclient.CalendarChange, 16)
	n.mu.Lock()
	n.subs[doctorID] = append(n.subs[doctorID], ch)
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		defer n.mu.Unlock()
		subs := n.subs[doctorID]
		for i, c := range subs {
			if c == ch {
				n.subs[doctorID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}()

	return ch, nil
}

// Drop closes every subscription for doctorID as a lost connection would.
func (n *Notifier) Drop(doctorID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs[doctorID] {
		close(ch)
	}
	delete(n.subs, doctorID)
}

// Subscribers reports how many live subscriptions doctorID has.
func (n *Notifier) Subscribers(doctorID uuid.UUID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[doctorID])
}

func (n *Notifier) Changes() []redisclient.CalendarChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]redisclient.CalendarChange(nil), n.Published...)
}

// Publisher records published events.
type Publisher struct {
	mu     sync.Mutex
	events []events.Event
}

var _ events.Publisher = (*Publisher)(nil)

func (p *Publisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *Publisher) Close() error { return nil }

func (p *Publisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}
