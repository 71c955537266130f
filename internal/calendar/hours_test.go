package calendar

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	valid := map[string]Clock{
		"00:00": 0,
		"09:00": 540,
		"11:30": 690,
		"23:59": 1439,
		"24:00": 1440,
	}
	for in, want := range valid {
		got, err := ParseClock(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, in, got.String())
	}

	for _, in := range []string{"", "9:00", "09:60", "24:01", "25:00", "ab:cd", "09-00", "+9:00"} {
		_, err := ParseClock(in)
		assert.ErrorIs(t, err, ErrInvalidClock, in)
	}
}

func TestWorkingHoursJSON(t *testing.T) {
	raw := []byte(`{"monday":{"start":"09:00","end":"12:00"},"Friday":{"start":"13:30","end":"18:00"}}`)

	var wh WorkingHours
	require.NoError(t, json.Unmarshal(raw, &wh))
	require.Len(t, wh, 2)
	assert.Equal(t, Window{Start: 540, End: 720}, wh[time.Monday])
	assert.Equal(t, Window{Start: 810, End: 1080}, wh[time.Friday])
	assert.Equal(t, []time.Weekday{time.Monday, time.Friday}, wh.Days())

	out, err := json.Marshal(wh)
	require.NoError(t, err)
	assert.JSONEq(t, `{"monday":{"start":"09:00","end":"12:00"},"friday":{"start":"13:30","end":"18:00"}}`, string(out))
}

func TestWorkingHoursJSON_UnknownDay(t *testing.T) {
	var wh WorkingHours
	err := json.Unmarshal([]byte(`{"funday":{"start":"09:00","end":"12:00"}}`), &wh)
	assert.ErrorContains(t, err, "unknown day of week")
}

func TestWorkingHoursValidate(t *testing.T) {
	ok := WorkingHours{time.Sunday: {Start: 0, End: 1440}}
	assert.NoError(t, ok.Validate())

	inverted := WorkingHours{time.Monday: {Start: 720, End: 540}}
	assert.ErrorIs(t, inverted.Validate(), ErrInvalidWindow)

	empty := WorkingHours{time.Monday: {Start: 540, End: 540}}
	assert.ErrorIs(t, empty.Validate(), ErrInvalidWindow)

	overflow := WorkingHours{time.Monday: {Start: 540, End: 1500}}
	assert.ErrorIs(t, overflow.Validate(), ErrInvalidClock)
}

func TestDoctorValidate(t *testing.T) {
	doc := morningDoctor(30)
	assert.NoError(t, doc.Validate())

	doc.SlotInterval = 0
	assert.ErrorIs(t, doc.Validate(), ErrInvalidSlotInterval)

	doc.SlotInterval = -15
	assert.ErrorIs(t, doc.Validate(), ErrInvalidSlotInterval)

	doc.SlotInterval = 15
	doc.Status = "retired"
	assert.Error(t, doc.Validate())
}

func TestTreatmentValidate(t *testing.T) {
	assert.NoError(t, Treatment{Duration: 30}.Validate())
	assert.ErrorIs(t, Treatment{Duration: 0}.Validate(), ErrInvalidDuration)
}

func TestStatusTransitions(t *testing.T) {
	allowed := [][2]Status{
		{StatusRegistered, StatusEncounter},
		{StatusRegistered, StatusWaitingPayment},
		{StatusRegistered, StatusCancelled},
		{StatusRegistered, StatusNoShow},
		{StatusEncounter, StatusFinished},
		{StatusWaitingPayment, StatusFinished},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
		assert.NoError(t, CheckTransition(tr[0], tr[1]))
	}

	for _, terminal := range []Status{StatusFinished, StatusCancelled, StatusNoShow} {
		assert.True(t, terminal.Terminal())
		assert.False(t, CanTransition(terminal, StatusRegistered))
		assert.False(t, CanTransition(terminal, StatusCancelled))
	}

	assert.False(t, CanTransition(StatusEncounter, StatusCancelled))
	assert.ErrorIs(t, CheckTransition(StatusRegistered, StatusFinished), ErrInvalidTransition)
	assert.ErrorIs(t, CheckTransition(StatusRegistered, "Archived"), ErrInvalidTransition)
}

func TestStatusOccupies(t *testing.T) {
	assert.False(t, StatusCancelled.Occupies())
	for _, s := range []Status{StatusRegistered, StatusEncounter, StatusWaitingPayment, StatusFinished, StatusNoShow} {
		assert.True(t, s.Occupies(), s)
	}
}
