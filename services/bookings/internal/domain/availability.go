package domain

import (
	"time"

	"github.com/diagnosis/citizen-portal/pkg/schedule"
)

type (
	Availability = schedule.Availability
	Slot         = schedule.Slot
)

func NewAvailability(percent int, slotLength time.Duration, loc *time.Location) Availability {
	return schedule.NewAvailability(percent, slotLength, loc)
}
