package redisclient

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCalendarLockKey(t *testing.T) {
	id := uuid.MustParse("5b1c6f8e-3d0a-4c55-9c8e-2f0f1a7b9d10")
	day := time.Date(2024, time.June, 3, 14, 30, 0, 0, time.UTC)

	assert.Equal(t, "lock:calendar:5b1c6f8e-3d0a-4c55-9c8e-2f0f1a7b9d10:2024-06-03", CalendarLockKey(id, day))
	assert.Equal(t, "calendar:5b1c6f8e-3d0a-4c55-9c8e-2f0f1a7b9d10", CalendarChannel(id))
}

func TestCalendarLockKey_SameDaySameKey(t *testing.T) {
	id := uuid.New()
	morning := time.Date(2024, time.June, 3, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2024, time.June, 3, 19, 0, 0, 0, time.UTC)
	nextDay := morning.AddDate(0, 0, 1)

	assert.Equal(t, CalendarLockKey(id, morning), CalendarLockKey(id, evening))
	assert.NotEqual(t, CalendarLockKey(id, morning), CalendarLockKey(id, nextDay))
}
