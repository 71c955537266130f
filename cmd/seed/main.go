package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-calendar/internal/calendar"
	"github.com/hackgods/clinic-calendar/internal/config"
	"github.com/hackgods/clinic-calendar/internal/db"
	"github.com/hackgods/clinic-calendar/internal/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"Dentistry",
}

var treatments = []struct {
	name    string
	minutes int
}{
	{"General Consultation", 15},
	{"Follow-up Visit", 15},
	{"Dental Scaling", 30},
	{"Skin Treatment", 45},
	{"Physiotherapy Session", 60},
	{"Minor Surgery", 90},
}

// shifts are the working windows a seeded doctor is given on each working day.
var shifts = []calendar.Window{
	{Start: 8 * 60, End: 12 * 60},
	{Start: 9 * 60, End: 17 * 60},
	{Start: 13 * 60, End: 20 * 60},
	{Start: 7*60 + 30, End: 15*60 + 30},
}

var intervals = []int{10, 15, 20, 30}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	if err := seedDoctors(context.Background(), pool, faker, log, 50); err != nil {
		log.Fatal("seed doctors", zap.Error(err))
	}
	if err := seedTreatments(context.Background(), pool, log); err != nil {
		log.Fatal("seed treatments", zap.Error(err))
	}
	if err := seedPatients(context.Background(), pool, faker, log, 5000); err != nil {
		log.Fatal("seed patients", zap.Error(err))
	}

	log.Info("seed complete")
}

// randomWorkingHours gives a doctor one shift on four to six weekdays.
func randomWorkingHours(faker *gofakeit.Faker) calendar.WorkingHours {
	shift := shifts[faker.Number(0, len(shifts)-1)]
	days := faker.Number(4, 6)

	weekdays := []int{1, 2, 3, 4, 5, 6}
	faker.ShuffleInts(weekdays)

	wh := make(calendar.WorkingHours, days)
	for _, d := range weekdays[:days] {
		wh[time.Weekday(d)] = shift
	}
	return wh
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, log *zap.Logger, count int) error {
	log.Info("seeding doctors", zap.Int("count", count))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		wh := randomWorkingHours(faker)
		if err := wh.Validate(); err != nil {
			return err
		}
		hours, err := json.Marshal(wh)
		if err != nil {
			return err
		}

		status := calendar.DoctorActive
		if faker.Number(1, 10) == 1 {
			status = calendar.DoctorInactive
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, working_hours, slot_interval, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		`, uuid.New(), "Dr. "+faker.Name(), specialties[faker.Number(0, len(specialties)-1)],
			hours, intervals[faker.Number(0, len(intervals)-1)], string(status))
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info("doctors seeded")
	return nil
}

func seedTreatments(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) error {
	for _, t := range treatments {
		_, err := pool.Exec(ctx, `
			INSERT INTO treatments (id, name, duration_minutes, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, uuid.New(), t.name, t.minutes)
		if err != nil {
			return err
		}
	}

	log.Info("treatments seeded", zap.Int("count", len(treatments)))
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, log *zap.Logger, count int) error {
	log.Info("seeding patients", zap.Int("count", count))

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), faker.Name(), faker.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}

	return nil
}
