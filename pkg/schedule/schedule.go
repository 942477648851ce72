// Package schedule builds the office appointment grid.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaolacci/murmur3"
)

const (
	DayStartHour = 9
	DayEndHour   = 17 // exclusive; the last slot starts at 16:30 with 30m slots
	DateLayout   = "2006-01-02"
	slotLabel    = "15:04"
)

var ErrBadDate = errors.New("date must be YYYY-MM-DD")

type Slot struct {
	Start     time.Time `json:"start"`
	Time      string    `json:"time"`
	Available bool      `json:"available"`
}

// Availability generates the bookable slot grid for an office. Whether a slot
// is open is a pure function of tenant, service, date and time so every
// replica agrees without coordination.
type Availability struct {
	Percent    int
	SlotLength time.Duration
	Location   *time.Location
}

func NewAvailability(percent int, slotLength time.Duration, loc *time.Location) Availability {
	if slotLength <= 0 {
		slotLength = 30 * time.Minute
	}
	if loc == nil {
		loc = time.UTC
	}
	return Availability{Percent: percent, SlotLength: slotLength, Location: loc}
}

// ParseDate reads YYYY-MM-DD as midnight in the office timezone.
func (a Availability) ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, a.Location)
	if err != nil {
		return time.Time{}, ErrBadDate
	}
	return d, nil
}

// Slots lists the grid for date. Weekends yield nothing; past slots and
// those in booked are marked unavailable.
func (a Availability) Slots(tenant, service string, date, now time.Time, booked []time.Time) []Slot {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, a.Location)
	if isWeekend(day) {
		return []Slot{}
	}

	taken := make(map[int64]bool, len(booked))
	for _, t := range booked {
		taken[t.Unix()] = true
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), DayStartHour, 0, 0, 0, a.Location)
	end := time.Date(day.Year(), day.Month(), day.Day(), DayEndHour, 0, 0, 0, a.Location)
	var slots []Slot
	for t := start; t.Before(end); t = t.Add(a.SlotLength) {
		slots = append(slots, Slot{
			Start:     t,
			Time:      t.Format(slotLabel),
			Available: t.After(now) && !taken[t.Unix()] && a.open(tenant, service, t),
		})
	}
	return slots
}

// Bookable checks a single requested start time against the grid.
func (a Availability) Bookable(tenant, service string, at, now time.Time) bool {
	return a.OnGrid(at) && at.After(now) && a.open(tenant, service, at)
}

// OnGrid reports whether at is the start of a weekday slot.
func (a Availability) OnGrid(at time.Time) bool {
	local := at.In(a.Location)
	if isWeekend(local) || local.Second() != 0 || local.Nanosecond() != 0 {
		return false
	}
	offset := time.Duration(local.Hour())*time.Hour + time.Duration(local.Minute())*time.Minute
	if offset < DayStartHour*time.Hour || offset >= DayEndHour*time.Hour {
		return false
	}
	return (offset-DayStartHour*time.Hour)%a.SlotLength == 0
}

func (a Availability) open(tenant, service string, at time.Time) bool {
	local := at.In(a.Location)
	key := fmt.Sprintf("%s|%s|%s|%s", tenant, service, local.Format(DateLayout), local.Format(slotLabel))
	return int(murmur3.Sum32([]byte(key))%100) < a.Percent
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
