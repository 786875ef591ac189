// Package health defines the five tracked record payloads and their sync
// entity descriptors. Payloads are plain structs serialised as JSON both in
// the local store and on the wire; the sync engine treats them as opaque.
package health

import (
	"time"

	"github.com/pmahlen/vitalsync/internal/record"
)

// Entity names. Used as local table suffixes, remote resource paths, and
// telemetry attributes.
const (
	EntityWeight   = "weight"
	EntityDiet     = "diet"
	EntityExercise = "exercise"
	EntitySleep    = "sleep"
	EntitySteps    = "steps"
)

// dayFormat is the period-key layout for one-per-calendar-day entities.
const dayFormat = "2006-01-02"

// WeightEntry is a single body-weight measurement.
type WeightEntry struct {
	Kilograms  float64   `json:"kilograms"`
	MeasuredAt time.Time `json:"measured_at"`
	Note       string    `json:"note,omitempty"`
}

// DietEntry is one logged meal.
type DietEntry struct {
	Meal     string    `json:"meal"`
	Calories int       `json:"calories"`
	EatenAt  time.Time `json:"eaten_at"`
	Note     string    `json:"note,omitempty"`
}

// ExerciseEntry is one logged workout.
type ExerciseEntry struct {
	Activity    string    `json:"activity"`
	Minutes     int       `json:"minutes"`
	Calories    int       `json:"calories"`
	PerformedAt time.Time `json:"performed_at"`
}

// SleepInterval is one night of sleep. At most one interval may exist per
// owner per calendar day (the day the interval starts).
type SleepInterval struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Quality int       `json:"quality,omitempty"`
}

// StepCount is the step total for one calendar day. At most one record may
// exist per owner per day.
type StepCount struct {
	Day   time.Time `json:"day"`
	Steps int       `json:"steps"`
}

// SleepPeriod keys a sleep interval by the calendar day it starts, in UTC.
func SleepPeriod(s SleepInterval) string {
	return s.Start.UTC().Format(dayFormat)
}

// StepsPeriod keys a step count by its calendar day, in UTC.
func StepsPeriod(c StepCount) string {
	return c.Day.UTC().Format(dayFormat)
}

// Weight, diet, and exercise entries have no per-period uniqueness rule, so
// their entities carry a nil record.PeriodFunc.
var (
	_ record.PeriodFunc[SleepInterval] = SleepPeriod
	_ record.PeriodFunc[StepCount]    = StepsPeriod
)
