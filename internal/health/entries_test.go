package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSleepPeriod_KeysByStartDay(t *testing.T) {
	// Sleep crossing midnight belongs to the day it starts.
	s := SleepInterval{
		Start: time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC),
	}

	assert.Equal(t, "2026-03-01", SleepPeriod(s))
}

func TestSleepPeriod_NormalisesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	s := SleepInterval{
		// 02:00 local on March 2 is 21:00 UTC on March 1.
		Start: time.Date(2026, 3, 2, 2, 0, 0, 0, loc),
	}

	assert.Equal(t, "2026-03-01", SleepPeriod(s))
}

func TestStepsPeriod_KeysByDay(t *testing.T) {
	c := StepCount{Day: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), Steps: 9000}

	assert.Equal(t, "2026-03-15", StepsPeriod(c))
}

func TestStepsPeriod_SameDayDifferentTimesCollide(t *testing.T) {
	morning := StepCount{Day: time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)}
	evening := StepCount{Day: time.Date(2026, 3, 15, 20, 0, 0, 0, time.UTC)}

	assert.Equal(t, StepsPeriod(morning), StepsPeriod(evening))
}
