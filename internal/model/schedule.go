package model

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock instant within a day.
type TimeOfDay struct {
	Hour   int `json:"hour" bson:"hour"`
	Minute int `json:"minute" bson:"minute"`
}

// Minutes returns the offset from midnight in minutes.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) Validate() error {
	if t.Hour < 0 || t.Hour > 23 {
		return fmt.Errorf("hour must be 0-23, got %d", t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("minute must be 0-59, got %d", t.Minute)
	}
	return nil
}

// ActivePeriod is a daily time range during which matching is permitted.
type ActivePeriod struct {
	Start TimeOfDay `json:"start" bson:"start"`
	End   TimeOfDay `json:"end" bson:"end"`
}

func (p ActivePeriod) Validate() error {
	if err := p.Start.Validate(); err != nil {
		return fmt.Errorf("invalid start: %w", err)
	}
	if err := p.End.Validate(); err != nil {
		return fmt.Errorf("invalid end: %w", err)
	}
	if p.Start.Minutes() >= p.End.Minutes() {
		return fmt.Errorf("period start must be before end")
	}
	return nil
}

// ScheduleConfig is the durable matching schedule: the ordered list of active
// periods plus the manual override flag. Stored as a single document.
type ScheduleConfig struct {
	ID        string         `json:"-" bson:"_id"`
	Disabled  bool           `json:"disabled" bson:"disabled"`
	Periods   []ActivePeriod `json:"periods" bson:"periods"`
	UpdatedAt time.Time      `json:"updatedAt" bson:"updatedAt"`
}

// ScheduleConfigID is the fixed document ID for the schedule config.
const ScheduleConfigID = "schedule"
