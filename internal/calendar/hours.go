package calendar

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const minutesPerDay = 24 * 60

var (
	ErrInvalidClock        = errors.New("invalid wall-clock time")
	ErrInvalidWindow       = errors.New("working hours start must be before end")
	ErrUnknownWeekday      = errors.New("unknown day of week")
	ErrInvalidSlotInterval = errors.New("slot interval must be positive")
	ErrInvalidDuration     = errors.New("treatment duration must be positive")
)

// Clock is a wall-clock time expressed in minutes since local midnight.
// 24:00 is allowed as an end-of-day boundary.
type Clock int

// ParseClock parses a 24h "HH:MM" string.
func ParseClock(s string) (Clock, error) {
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	if m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return Clock(h*60 + m), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ClockOf returns the wall-clock minute of t in its own location.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Window is a half-open [Start, End) interval of wall-clock minutes.
type Window struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

func (w Window) Validate() error {
	if w.Start < 0 || w.End > minutesPerDay {
		return fmt.Errorf("%w: %s-%s", ErrInvalidClock, w.Start, w.End)
	}
	if w.Start >= w.End {
		return fmt.Errorf("%w: %s-%s", ErrInvalidWindow, w.Start, w.End)
	}
	return nil
}

// Minutes is the length of the window.
func (w Window) Minutes() int {
	return int(w.End - w.Start)
}

// WorkingHours maps a day of week to the window a doctor accepts
// appointments in. A missing day means the doctor does not work that day.
type WorkingHours map[time.Weekday]Window

// For returns the window configured for day.
func (wh WorkingHours) For(day time.Weekday) (Window, bool) {
	w, ok := wh[day]
	return w, ok
}

func (wh WorkingHours) Validate() error {
	for day, w := range wh {
		if day < time.Sunday || day > time.Saturday {
			return fmt.Errorf("%w: %d", ErrUnknownWeekday, day)
		}
		if err := w.Validate(); err != nil {
			return fmt.Errorf("%s: %w", strings.ToLower(day.String()), err)
		}
	}
	return nil
}

// Days returns the configured days, Sunday first.
func (wh WorkingHours) Days() []time.Weekday {
	days := make([]time.Weekday, 0, len(wh))
	for day := range wh {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

// ParseWeekday accepts full English day names in any case.
func ParseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), s) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownWeekday, s)
}

// MarshalJSON encodes the map with lowercase day names as keys.
func (wh WorkingHours) MarshalJSON() ([]byte, error) {
	out := make(map[string]Window, len(wh))
	for day, w := range wh {
		out[strings.ToLower(day.String())] = w
	}
	return json.Marshal(out)
}

func (wh *WorkingHours) UnmarshalJSON(data []byte) error {
	var raw map[string]Window
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(WorkingHours, len(raw))
	for name, w := range raw {
		day, err := ParseWeekday(name)
		if err != nil {
			return err
		}
		out[day] = w
	}
	*wh = out
	return nil
}
